package sensors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultReadTimeout bounds a single driver Read.
const DefaultReadTimeout = 500 * time.Millisecond

// Scanner runs scan cycles over a registry.
//
// Each Read runs behind its own timeout and panic recovery so one failing
// sensor cannot stall the rest of the cycle.
type Scanner struct {
	registry *Registry
	timeout  time.Duration
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	cycles   atomic.Int64
	failures atomic.Int64
}

// ScanStats counts completed cycles and failed reads.
type ScanStats struct {
	Cycles   int64 `json:"cycles"`
	Failures int64 `json:"failures"`
}

// NewScanner returns a scanner over reg. A non-positive timeout means DefaultReadTimeout.
func NewScanner(reg *Registry, timeout time.Duration, logger *zap.SugaredLogger) *Scanner {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scanner{registry: reg, timeout: timeout, logger: logger}
}

// ScanAll reads every registered sensor once, in registration order.
//
// Concurrent calls are serialized. The returned error combines one
// *ReadError per failed sensor and is nil when every read succeeded.
func (s *Scanner) ScanAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs error
	for d := range s.registry.active() {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if err := s.read(ctx, d); err != nil {
			s.failures.Inc()
			s.logger.Warnw("sensor read failed", "sensor", d.Name, "error", err)
			errs = multierr.Append(errs, &ReadError{Sensor: d.Name, Err: err})
		}
	}
	s.cycles.Inc()
	return errs
}

// Stats returns the scan counters.
func (s *Scanner) Stats() ScanStats {
	return ScanStats{Cycles: s.cycles.Load(), Failures: s.failures.Load()}
}

func (s *Scanner) read(ctx context.Context, d *Descriptor) error {
	if !d.reading.CompareAndSwap(false, true) {
		return ErrReadInProgress
	}

	readCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer d.reading.Store(false)
		done <- safeRead(readCtx, d)
	}()

	select {
	case err := <-done:
		return err
	case <-readCtx.Done():
	}

	// The read may have finished right at the deadline.
	select {
	case err := <-done:
		return err
	default:
	}
	if errors.Is(readCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: no result after %v", ErrReadTimeout, s.timeout)
	}
	return ctx.Err()
}

func safeRead(ctx context.Context, d *Descriptor) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrDriverPanic, rec)
		}
	}()
	return d.Driver.Read(ctx, d)
}
