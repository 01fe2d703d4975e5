package sensors

import (
	"math/rand/v2"
	"sync"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
)

// SimulatedADC is a random walk around a midpoint, for running without a board.
type SimulatedADC struct {
	mu        sync.Mutex
	raw       int32
	fullScale int32
}

// NewSimulatedADC returns an ADC that starts at the middle of its range.
func NewSimulatedADC(fullScale int32) *SimulatedADC {
	if fullScale <= 2 {
		fullScale = DefaultFullScale
	}
	return &SimulatedADC{raw: fullScale / 2, fullScale: fullScale}
}

func (a *SimulatedADC) Read() (analog.Sample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raw += rand.Int32N(5) - 2
	a.raw = min(max(a.raw, 1), a.fullScale-1)
	return analog.Sample{Raw: a.raw}, nil
}

// SimulatedEchoPin goes high a random number of polls after being switched to input.
type SimulatedEchoPin struct {
	mu        sync.Mutex
	level     gpio.Level
	remaining int
	maxPolls  int
}

// NewSimulatedEchoPin returns a pin whose echo arrives within maxPolls reads.
func NewSimulatedEchoPin(maxPolls int) *SimulatedEchoPin {
	if maxPolls <= 0 {
		maxPolls = 200
	}
	return &SimulatedEchoPin{maxPolls: maxPolls}
}

func (p *SimulatedEchoPin) In(_ gpio.Pull, _ gpio.Edge) error {
	p.mu.Lock()
	p.level = gpio.Low
	p.remaining = 1 + rand.IntN(p.maxPolls)
	p.mu.Unlock()
	return nil
}

func (p *SimulatedEchoPin) Out(l gpio.Level) error {
	p.mu.Lock()
	p.level = l
	p.mu.Unlock()
	return nil
}

func (p *SimulatedEchoPin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remaining > 0 {
		p.remaining--
		if p.remaining == 0 {
			p.level = gpio.High
		}
	}
	return p.level
}

// simulatedHygrometer returns humidity between 40 and 80 percent.
type simulatedHygrometer struct{}

func (simulatedHygrometer) ReadRetry(int) (float64, float64, error) {
	return 40 + rand.Float64()*40, 20 + rand.Float64()*10, nil
}

// NewSimulatedDHT22 returns a DHT22 driver that needs no hardware.
func NewSimulatedDHT22() *DHT22 {
	s := NewDHT22("sim", 1)
	s.open = func(string) (hygrometer, error) { return simulatedHygrometer{}, nil }
	return s
}
