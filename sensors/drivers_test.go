package sensors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
	"periph.io/x/conn/v3/physic"
)

type fakeHygrometer struct {
	mu       sync.Mutex
	humidity float64
	err      error
	retries  int
	// gate, when set, holds every read until it receives.
	gate chan struct{}
}

func (h *fakeHygrometer) ReadRetry(maxRetries int) (float64, float64, error) {
	h.mu.Lock()
	gate := h.gate
	h.mu.Unlock()
	if gate != nil {
		<-gate
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries = maxRetries
	return h.humidity, 21.3, h.err
}

func (h *fakeHygrometer) fail(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

func newTestDHT22(t *testing.T, dev *fakeHygrometer, mock *clock.Mock) *DHT22 {
	t.Helper()
	s := NewDHT22("GPIO4", 0)
	s.Clock = mock
	s.open = func(pin string) (hygrometer, error) {
		test.That(t, pin, test.ShouldEqual, "GPIO4")
		return dev, nil
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// readUntil reads d until cond holds or two seconds pass, returning the last Read error.
func readUntil(t *testing.T, drv Driver, d *Descriptor, cond func(err error) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(drv.Read(context.Background(), d)) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met, current = %d", d.Current())
}

func TestDHT22(t *testing.T) {
	dev := &fakeHygrometer{humidity: 47.6}
	mock := clock.NewMock()
	s := newTestDHT22(t, dev, mock)
	d := NewDescriptor("humidity", s)

	test.That(t, s.Init(context.Background(), d), test.ShouldBeNil)
	readUntil(t, s, d, func(error) bool { return d.Current() == 48 })
	dev.mu.Lock()
	test.That(t, dev.retries, test.ShouldEqual, defaultDHTRetries)
	dev.mu.Unlock()

	checksum := errors.New("checksum")
	dev.fail(checksum)
	mock.Add(defaultDHTPeriod)
	readUntil(t, s, d, func(err error) bool { return errors.Is(err, checksum) })
	test.That(t, d.Current(), test.ShouldEqual, 48)

	// The failure is reported once.
	test.That(t, s.Read(context.Background(), d), test.ShouldBeNil)
	test.That(t, s.Close(), test.ShouldBeNil)
	test.That(t, s.Close(), test.ShouldBeNil)
}

func TestDHT22SlowReadDoesNotStallScan(t *testing.T) {
	dev := &fakeHygrometer{humidity: 55, gate: make(chan struct{})}
	s := newTestDHT22(t, dev, clock.NewMock())
	r := newTestRegistry(t)
	d := NewDescriptor("humidity", s)
	test.That(t, r.Register(context.Background(), d), test.ShouldBeNil)

	scanner := NewScanner(r, 20*time.Millisecond, nil)
	for range 3 {
		test.That(t, scanner.ScanAll(context.Background()), test.ShouldBeNil)
	}
	test.That(t, scanner.Stats().Failures, test.ShouldEqual, int64(0))
	test.That(t, d.Current(), test.ShouldEqual, 0)

	close(dev.gate)
	deadline := time.Now().Add(2 * time.Second)
	for d.Current() != 55 && time.Now().Before(deadline) {
		test.That(t, scanner.ScanAll(context.Background()), test.ShouldBeNil)
		time.Sleep(5 * time.Millisecond)
	}
	test.That(t, d.Current(), test.ShouldEqual, 55)
}

func TestDHT22InitFailure(t *testing.T) {
	s := NewDHT22("GPIO4", 3)
	s.open = func(string) (hygrometer, error) { return nil, errors.New("no host") }
	err := s.Init(context.Background(), nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "GPIO4")
}

type fakeRegisters struct {
	data []byte
	err  error
	addr uint16
}

func (f *fakeRegisters) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	f.addr = address
	return f.data, f.err
}

func TestModbusRegister(t *testing.T) {
	regs := &fakeRegisters{data: []byte{0xFF, 0x38}} // -200
	m := NewModbusRegister(ModbusConfig{Register: 12, Scale: 0.1})
	m.client = regs
	d := NewDescriptor("pressure", m)

	test.That(t, m.Init(context.Background(), d), test.ShouldBeNil)
	test.That(t, m.Read(context.Background(), d), test.ShouldBeNil)
	test.That(t, regs.addr, test.ShouldEqual, uint16(12))
	test.That(t, d.Current(), test.ShouldEqual, -20)

	regs.data = []byte{0x01}
	test.That(t, m.Read(context.Background(), d), test.ShouldNotBeNil)
	test.That(t, m.Close(), test.ShouldBeNil)
}

func TestSysfsADC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in_voltage0_raw")
	test.That(t, os.WriteFile(path, []byte("1234\n"), 0o600), test.ShouldBeNil)

	adc := &SysfsADC{RawPath: path, ScaleMillivolts: 0.5}
	s, err := adc.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Raw, test.ShouldEqual, int32(1234))
	test.That(t, s.V, test.ShouldEqual, 617*physic.MilliVolt)

	test.That(t, os.WriteFile(path, []byte("garbage"), 0o600), test.ShouldBeNil)
	_, err = adc.Read()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSimulatedADCStaysInRange(t *testing.T) {
	adc := NewSimulatedADC(1024)
	for range 1000 {
		s, err := adc.Read()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, s.Raw, test.ShouldBeBetween, int32(0), int32(1024))
	}
}

func TestSimulatedDHT22(t *testing.T) {
	drv := NewSimulatedDHT22()
	d := NewDescriptor("humidity", drv)
	test.That(t, drv.Init(context.Background(), d), test.ShouldBeNil)
	defer drv.Close()
	readUntil(t, drv, d, func(err error) bool {
		test.That(t, err, test.ShouldBeNil)
		return d.Current() != 0
	})
	test.That(t, d.Current(), test.ShouldBeBetweenOrEqual, 40, 80)
}
