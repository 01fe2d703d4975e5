package sensors

import "context"

// Driver is the hardware side of a sensor.
//
// Init is called exactly once, when the descriptor is registered. Read is
// called once per scan cycle and stores the latest value on the descriptor
// with Store. A Read that has nothing new leaves the descriptor unchanged.
type Driver interface {
	Init(ctx context.Context, d *Descriptor) error
	Read(ctx context.Context, d *Descriptor) error
}

// Change is one sensor whose value moved since the previous delta build.
type Change struct {
	Name     string `json:"name"`
	Value    int    `json:"value"`
	Previous int    `json:"previous"`
}

// Reading is a point-in-time view of a descriptor.
type Reading struct {
	Name     string `json:"name"`
	Current  int    `json:"current"`
	Previous int    `json:"previous"`
}
