package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/Uranury/sensorhub/config"
	"github.com/Uranury/sensorhub/sensors"
)

type valueDriver struct {
	mu    sync.Mutex
	value int
}

func (v *valueDriver) Init(context.Context, *sensors.Descriptor) error { return nil }

func (v *valueDriver) Read(_ context.Context, d *sensors.Descriptor) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	d.Store(v.value)
	return nil
}

func (v *valueDriver) set(value int) {
	v.mu.Lock()
	v.value = value
	v.mu.Unlock()
}

type recordingSink struct {
	mu       sync.Mutex
	err      error
	payloads []string
	changes  [][]sensors.Change
}

func (s *recordingSink) Publish(_ context.Context, payload []byte, changes []sensors.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, string(payload))
	s.changes = append(s.changes, changes)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func newTestAgent(t *testing.T, cfg config.AgentConfig) (*Agent, *valueDriver, *valueDriver) {
	t.Helper()
	reg := sensors.NewRegistry(nil)
	reg.Initialize()
	temp := &valueDriver{value: 20}
	sonar := &valueDriver{value: 5}
	test.That(t, reg.Register(context.Background(), sensors.NewDescriptor("temperature", temp)), test.ShouldBeNil)
	test.That(t, reg.Register(context.Background(), sensors.NewDescriptor("ultrasonic", sonar)), test.ShouldBeNil)
	return New(cfg, reg, sensors.NewScanner(reg, time.Second, nil), nil), temp, sonar
}

func TestPublishOnce(t *testing.T) {
	a, _, sonar := newTestAgent(t, config.AgentConfig{})
	sink := &recordingSink{}
	a.AddSink(sink)
	ctx := context.Background()

	test.That(t, a.ScanOnce(ctx), test.ShouldBeNil)
	changes, err := a.PublishOnce(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, changes, test.ShouldHaveLength, 2)
	test.That(t, sink.payloads, test.ShouldResemble, []string{
		`{"state":{"reported":{"online":true,"temperature":20,"ultrasonic":5}}}`,
	})

	// Nothing changed: no publish.
	test.That(t, a.ScanOnce(ctx), test.ShouldBeNil)
	changes, err = a.PublishOnce(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, changes, test.ShouldBeEmpty)
	test.That(t, sink.count(), test.ShouldEqual, 1)

	sonar.set(7)
	test.That(t, a.ScanOnce(ctx), test.ShouldBeNil)
	changes, err = a.PublishOnce(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, changes, test.ShouldResemble, []sensors.Change{{Name: "ultrasonic", Value: 7, Previous: 5}})
	test.That(t, sink.payloads[1], test.ShouldEqual, `{"state":{"reported":{"online":true,"ultrasonic":7}}}`)
}

func TestPublishOnceSinkFailure(t *testing.T) {
	a, _, _ := newTestAgent(t, config.AgentConfig{})
	brokerDown := errors.New("broker down")
	failing := &recordingSink{err: brokerDown}
	healthy := &recordingSink{}
	a.AddSink(failing)
	a.AddSink(healthy)

	test.That(t, a.ScanOnce(context.Background()), test.ShouldBeNil)
	changes, err := a.PublishOnce(context.Background())
	test.That(t, errors.Is(err, brokerDown), test.ShouldBeTrue)
	test.That(t, changes, test.ShouldHaveLength, 2)
	test.That(t, failing.count(), test.ShouldEqual, 1)
	test.That(t, healthy.count(), test.ShouldEqual, 1)
	test.That(t, healthy.changes[0], test.ShouldResemble, changes)
}

func TestRunSchedulesScanAndPublish(t *testing.T) {
	a, temp, _ := newTestAgent(t, config.AgentConfig{
		ScanInterval:    10 * time.Millisecond,
		PublishInterval: 20 * time.Millisecond,
	})
	sink := &recordingSink{}
	a.AddSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitForPublishes(t, sink, 1)
	temp.set(21)
	waitForPublishes(t, sink, 2)

	cancel()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	test.That(t, sink.payloads[0], test.ShouldEqual, `{"state":{"reported":{"online":true,"temperature":20,"ultrasonic":5}}}`)
	test.That(t, sink.payloads[1], test.ShouldEqual, `{"state":{"reported":{"online":true,"temperature":21}}}`)
}

func waitForPublishes(t *testing.T, sink *recordingSink, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for sink.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("got %d publishes, want %d", sink.count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishOnceDoesNotResendAfterSinkFailure(t *testing.T) {
	a, _, _ := newTestAgent(t, config.AgentConfig{})
	sink := &recordingSink{err: errors.New("not connected")}
	a.AddSink(sink)

	test.That(t, a.ScanOnce(context.Background()), test.ShouldBeNil)
	_, err := a.PublishOnce(context.Background())
	test.That(t, err, test.ShouldNotBeNil)

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	changes, err := a.PublishOnce(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, changes, test.ShouldBeEmpty)
	test.That(t, sink.count(), test.ShouldEqual, 1)
}
