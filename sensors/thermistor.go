package sensors

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/analog"
)

// Grove temperature sensor v1.2 constants.
const (
	DefaultBeta      = 4275
	DefaultR0        = 100000
	DefaultFullScale = 1023

	defaultThermistorSamples = 16
	defaultThermistorPeriod  = 250 * time.Millisecond

	kelvinAt25C = 298.15
	kelvinAt0C  = 273.15
)

// ADC is one analog input. periph's analog.PinADC satisfies it.
type ADC interface {
	Read() (analog.Sample, error)
}

// ThermistorConfig configures a Thermistor.
type ThermistorConfig struct {
	ADC ADC

	// Beta and R0 describe the thermistor; FullScale is the raw count at the
	// ADC reference voltage.
	Beta      float64
	R0        float64
	FullScale float64

	// Samples is the number of raw reads averaged into one reading.
	Samples int
	// Period is the time between readings of the background task.
	Period time.Duration
	// StableSamples > 1 holds a new value back until it was read that many
	// times in a row. Otherwise every change between two readings is published.
	StableSamples int

	Clock  clock.Clock
	Logger *zap.SugaredLogger
}

// Thermistor samples an NTC thermistor on a background task and hands changed
// temperatures, in whole degrees Celsius, to Read through a mailbox.
type Thermistor struct {
	cfg     ThermistorConfig
	logger  *zap.SugaredLogger
	mailbox Mailbox[int]
	policy  changePolicy

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewThermistor returns a thermistor driver with defaults filled in.
func NewThermistor(cfg ThermistorConfig) *Thermistor {
	if cfg.Beta <= 0 {
		cfg.Beta = DefaultBeta
	}
	if cfg.R0 <= 0 {
		cfg.R0 = DefaultR0
	}
	if cfg.FullScale <= 0 {
		cfg.FullScale = DefaultFullScale
	}
	if cfg.Samples <= 0 {
		cfg.Samples = defaultThermistorSamples
	}
	if cfg.Period <= 0 {
		cfg.Period = defaultThermistorPeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Thermistor{
		cfg:    cfg,
		logger: logger,
		policy: changePolicy{stable: cfg.StableSamples},
	}
}

// Init probes the ADC and starts the sampling task.
func (t *Thermistor) Init(ctx context.Context, d *Descriptor) error {
	if t.cfg.ADC == nil {
		return fmt.Errorf("%w: thermistor without ADC", ErrInvalidArgument)
	}
	if _, err := t.cfg.ADC.Read(); err != nil {
		return fmt.Errorf("probing ADC: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	ticker := t.cfg.Clock.Ticker(t.cfg.Period)
	logger := t.logger.With("sensor", d.Name)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				t.step(logger)
			}
		}
	}()
	return nil
}

// Read moves a pending temperature into d.
func (t *Thermistor) Read(_ context.Context, d *Descriptor) error {
	if v, ok := t.mailbox.Take(); ok {
		d.Store(v)
	}
	return nil
}

// Close stops the sampling task.
func (t *Thermistor) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		t.wg.Wait()
	}
	return nil
}

func (t *Thermistor) step(logger *zap.SugaredLogger) {
	v, err := t.sample()
	if err != nil {
		logger.Debugw("thermistor sample failed", "error", err)
		return
	}
	if t.policy.observe(v) {
		t.mailbox.Put(v)
		logger.Debugw("temperature ready", "celsius", v)
	}
}

// sample averages cfg.Samples raw reads and converts them to degrees Celsius.
func (t *Thermistor) sample() (int, error) {
	raw := make(stats.Float64Data, 0, t.cfg.Samples)
	for range t.cfg.Samples {
		s, err := t.cfg.ADC.Read()
		if err != nil {
			return 0, err
		}
		raw = append(raw, float64(s.Raw))
	}
	avg, err := stats.Mean(raw)
	if err != nil {
		return 0, err
	}
	c, err := ThermistorCelsius(avg, t.cfg.FullScale, t.cfg.Beta, t.cfg.R0)
	if err != nil {
		return 0, err
	}
	return int(math.Trunc(c)), nil
}

// ThermistorCelsius converts an averaged raw count to degrees Celsius with
// the single-coefficient beta model.
func ThermistorCelsius(raw, fullScale, beta, r0 float64) (float64, error) {
	if raw <= 0 || raw >= fullScale {
		return 0, fmt.Errorf("%w: raw %.1f outside (0, %.0f)", ErrOutOfRange, raw, fullScale)
	}
	r := r0 * (fullScale/raw - 1)
	return 1/(math.Log(r/r0)/beta+1/kelvinAt25C) - kelvinAt0C, nil
}

// changePolicy decides which readings reach the mailbox.
type changePolicy struct {
	stable int

	last    int
	hasLast bool
	run     int

	reported    int
	hasReported bool
}

func (p *changePolicy) observe(v int) bool {
	if p.hasLast && v == p.last {
		p.run++
	} else {
		p.run = 1
	}
	changed := !p.hasLast || v != p.last
	p.last = v
	p.hasLast = true

	if p.stable <= 1 {
		return changed
	}
	if p.run < p.stable || (p.hasReported && v == p.reported) {
		return false
	}
	p.reported = v
	p.hasReported = true
	return true
}
