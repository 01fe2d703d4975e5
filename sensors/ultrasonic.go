package sensors

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

const (
	defaultEchoTimeout  = 30 * time.Millisecond
	defaultPollInterval = time.Microsecond

	triggerSettle = 2 * time.Microsecond
	triggerPulse  = 5 * time.Microsecond
)

// EchoPin is the single signal line of a one-wire ultrasonic ranger.
// periph's gpio.PinIO satisfies it.
type EchoPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Out(l gpio.Level) error
	Read() gpio.Level
}

// UltrasonicConfig configures an Ultrasonic driver.
type UltrasonicConfig struct {
	Pin EchoPin

	// EchoTimeout bounds the wait for the echo.
	EchoTimeout time.Duration
	// PollInterval is the pause between two level reads.
	PollInterval time.Duration

	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Ultrasonic triggers a ranging pulse on each Read and stores the number of
// level polls until the echo line went high. The count is an uncalibrated
// proxy for the echo delay.
type Ultrasonic struct {
	cfg UltrasonicConfig
}

// NewUltrasonic returns an ultrasonic driver with defaults filled in.
func NewUltrasonic(cfg UltrasonicConfig) *Ultrasonic {
	if cfg.EchoTimeout <= 0 {
		cfg.EchoTimeout = defaultEchoTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Ultrasonic{cfg: cfg}
}

// Init configures the pin as a floating input.
func (u *Ultrasonic) Init(_ context.Context, _ *Descriptor) error {
	if u.cfg.Pin == nil {
		return fmt.Errorf("%w: ultrasonic without pin", ErrInvalidArgument)
	}
	return u.cfg.Pin.In(gpio.PullNoChange, gpio.NoEdge)
}

// Read sends one pulse and measures the echo.
func (u *Ultrasonic) Read(ctx context.Context, d *Descriptor) error {
	pin := u.cfg.Pin

	if err := pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	u.cfg.Sleep(triggerSettle)
	if err := pin.Out(gpio.High); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	u.cfg.Sleep(triggerPulse)
	if err := pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	if err := pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return fmt.Errorf("echo: %w", err)
	}

	deadline := time.Now().Add(u.cfg.EchoTimeout)
	duration := 0
	for {
		duration++
		if pin.Read() == gpio.High {
			break
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrReadTimeout, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no echo within %v", ErrReadTimeout, u.cfg.EchoTimeout)
		}
		u.cfg.Sleep(u.cfg.PollInterval)
	}

	d.Store(duration)
	return nil
}
