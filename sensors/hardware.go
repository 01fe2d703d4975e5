package sensors

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var (
	hostOnce sync.Once
	hostErr  error
)

// HostInit loads the periph host drivers. Only the first call does any work.
func HostInit() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return hostErr
}

// GPIOPin resolves a pin by name, e.g. "GPIO22".
func GPIOPin(name string) (gpio.PinIO, error) {
	if err := HostInit(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: unknown gpio pin %q", ErrInvalidArgument, name)
	}
	return p, nil
}

// SysfsADC reads a Linux IIO voltage channel, e.g.
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
type SysfsADC struct {
	RawPath string
	// ScaleMillivolts converts raw counts to millivolts; zero leaves V unset.
	ScaleMillivolts float64
}

func (a *SysfsADC) Read() (analog.Sample, error) {
	b, err := os.ReadFile(a.RawPath)
	if err != nil {
		return analog.Sample{}, err
	}
	raw, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return analog.Sample{}, fmt.Errorf("parsing %s: %w", a.RawPath, err)
	}
	s := analog.Sample{Raw: int32(raw)}
	if a.ScaleMillivolts > 0 {
		s.V = physic.ElectricPotential(float64(raw) * a.ScaleMillivolts * float64(physic.MilliVolt))
	}
	return s, nil
}
