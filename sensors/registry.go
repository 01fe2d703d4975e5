package sensors

import (
	"context"
	"fmt"
	"io"
	"iter"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Registry is the ordered set of registered sensors. Iteration order is
// registration order. There is no removal.
//
// Registrations are expected to complete before the first scan, but all
// methods are safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	initialized bool
	descriptors []*Descriptor
	logger      *zap.SugaredLogger
}

// NewRegistry returns a registry that must be initialized before use.
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{logger: logger}
}

// Initialize empties the registry and marks it ready. Later calls are no-ops.
func (r *Registry) Initialize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return
	}
	r.descriptors = nil
	r.initialized = true
	r.logger.Debug("sensor registry initialized")
}

// Register appends d and runs its driver's Init.
//
// If Init fails the descriptor is dropped again and the error is returned
// wrapped in ErrHardwareInit. Scans and deltas skip d until Init returned.
func (r *Registry) Register(ctx context.Context, d *Descriptor) error {
	if err := r.add(d); err != nil {
		r.logger.Warnw("sensor registration rejected", "error", err)
		return err
	}

	if err := d.Driver.Init(ctx, d); err != nil {
		r.remove(d)
		r.logger.Errorw("sensor init failed", "sensor", d.Name, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrHardwareInit, d.Name, err)
	}
	d.ready.Store(true)

	r.logger.Infow("sensor registered", "sensor", d.Name)
	return nil
}

func (r *Registry) add(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return ErrNotInitialized
	}
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrInvalidArgument)
	}
	if d.Name == "" || d.Driver == nil {
		return fmt.Errorf("%w: descriptor needs a name and a driver", ErrInvalidArgument)
	}
	for _, cur := range r.descriptors {
		if cur == d {
			return fmt.Errorf("%w: %s is already registered", ErrDuplicateRegistration, d.Name)
		}
		if cur.Name == d.Name {
			return fmt.Errorf("%w: name %s is in use", ErrDuplicateRegistration, d.Name)
		}
	}

	d.reset()
	r.descriptors = append(r.descriptors, d)
	return nil
}

func (r *Registry) remove(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors = slices.DeleteFunc(r.descriptors, func(cur *Descriptor) bool {
		return cur == d
	})
}

// All iterates the descriptors in registration order. The sequence can be
// ranged over any number of times.
func (r *Registry) All() iter.Seq[*Descriptor] {
	return func(yield func(*Descriptor) bool) {
		r.mu.RLock()
		list := slices.Clone(r.descriptors)
		r.mu.RUnlock()

		for _, d := range list {
			if !yield(d) {
				return
			}
		}
	}
}

// active is All without descriptors whose Init has not returned yet.
func (r *Registry) active() iter.Seq[*Descriptor] {
	return func(yield func(*Descriptor) bool) {
		for d := range r.All() {
			if d.ready.Load() && !yield(d) {
				return
			}
		}
	}
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	for d := range r.All() {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Readings returns a snapshot of every descriptor.
func (r *Registry) Readings() []Reading {
	out := make([]Reading, 0, r.Len())
	for d := range r.All() {
		out = append(out, d.Reading())
	}
	return out
}

// Close releases drivers that hold background work or connections.
func (r *Registry) Close() error {
	var errs error
	for d := range r.All() {
		if c, ok := d.Driver.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("closing %s: %w", d.Name, err))
			}
		}
	}
	return errs
}
