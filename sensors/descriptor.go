package sensors

import (
	"sync"

	"go.uber.org/atomic"
)

// Unreported is what Previous returns for a descriptor that was never part of
// a delta. Whether a value was reported is tracked separately, so a sensor
// reading -1 is still reported on its first delta.
const Unreported = -1

// Descriptor is one registered sensor: its property name, its driver and the
// last reported and latest sampled values.
type Descriptor struct {
	Name   string
	Driver Driver

	mu       sync.Mutex
	previous int
	current  int
	stored   bool // current holds a sampled value
	reported bool // previous holds a reported value

	// ready is set once the driver's Init succeeded.
	ready atomic.Bool
	// reading is set while a Read of this descriptor is running.
	reading atomic.Bool
}

// NewDescriptor returns a descriptor for the named sensor.
func NewDescriptor(name string, driver Driver) *Descriptor {
	return &Descriptor{
		Name:     name,
		Driver:   driver,
		previous: Unreported,
	}
}

// Store sets the current value.
func (d *Descriptor) Store(v int) {
	d.mu.Lock()
	d.current = v
	d.stored = true
	d.mu.Unlock()
}

// Current returns the latest sampled value.
func (d *Descriptor) Current() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Previous returns the last reported value, or Unreported.
func (d *Descriptor) Previous() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.previous
}

// Reading returns both values under one lock.
func (d *Descriptor) Reading() Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Reading{Name: d.Name, Current: d.current, Previous: d.previous}
}

func (d *Descriptor) reset() {
	d.mu.Lock()
	d.previous = Unreported
	d.reported = false
	d.mu.Unlock()
	d.ready.Store(false)
}

// commit marks the current value as reported and returns the change, if any.
// A descriptor that never stored a value has nothing to report.
func (d *Descriptor) commit() (Change, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.stored || (d.reported && d.current == d.previous) {
		return Change{}, false
	}
	c := Change{Name: d.Name, Value: d.current, Previous: d.previous}
	d.previous = d.current
	d.reported = true
	return c, true
}
