package sensors

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MichaelS11/go-dht"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	defaultDHTRetries = 11
	// The sensor needs two seconds between reads; go-dht sleeps out the rest.
	defaultDHTPeriod = 2 * time.Second
)

// hygrometer is the part of *dht.DHT the driver uses.
type hygrometer interface {
	ReadRetry(maxRetries int) (humidity float64, temperature float64, err error)
}

type dhtSample struct {
	humidity int
	err      error
}

// DHT22 reports relative humidity, in whole percent, from a DHT22 sensor.
//
// go-dht blocks for seconds per read, so sampling runs on a background task
// and Read only collects the latest result.
type DHT22 struct {
	Pin     string
	Retries int
	Period  time.Duration
	Clock   clock.Clock
	Logger  *zap.SugaredLogger

	open    func(pin string) (hygrometer, error)
	mailbox Mailbox[dhtSample]

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewDHT22 returns a driver for the sensor on the named GPIO pin.
func NewDHT22(pin string, retries int) *DHT22 {
	if retries <= 0 {
		retries = defaultDHTRetries
	}
	return &DHT22{
		Pin:     pin,
		Retries: retries,
		open:    openDHT,
	}
}

func openDHT(pin string) (hygrometer, error) {
	if err := dht.HostInit(); err != nil {
		return nil, err
	}
	return dht.NewDHT(pin, dht.Celsius, "")
}

// Init opens the sensor and starts sampling.
func (s *DHT22) Init(ctx context.Context, d *Descriptor) error {
	dev, err := s.open(s.Pin)
	if err != nil {
		return fmt.Errorf("dht22 on %s: %w", s.Pin, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	period := s.Period
	if period <= 0 {
		period = defaultDHTPeriod
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if d != nil {
		logger = logger.With("sensor", d.Name)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	ticker := clk.Ticker(period)

	go func() {
		defer ticker.Stop()
		for {
			humidity, _, err := dev.ReadRetry(s.Retries)
			if runCtx.Err() != nil {
				return
			}
			if err != nil {
				logger.Debugw("dht22 sample failed", "error", err)
				s.mailbox.Put(dhtSample{err: err})
			} else {
				s.mailbox.Put(dhtSample{humidity: int(math.Round(humidity))})
			}
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

// Read stores the latest humidity, or returns the error of the latest
// failed sample. With no new sample it leaves d unchanged.
func (s *DHT22) Read(_ context.Context, d *Descriptor) error {
	sample, ok := s.mailbox.Take()
	if !ok {
		return nil
	}
	if sample.err != nil {
		return sample.err
	}
	d.Store(sample.humidity)
	return nil
}

// Close stops sampling. A read already in progress is abandoned, not awaited.
func (s *DHT22) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}
