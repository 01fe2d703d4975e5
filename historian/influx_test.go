package historian

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.viam.com/test"

	"github.com/Uranury/sensorhub/config"
	"github.com/Uranury/sensorhub/sensors"
)

type fakeWriteAPI struct {
	api.WriteAPI
	mu      sync.Mutex
	points  []*write.Point
	flushed int
	errs    chan error
}

func (f *fakeWriteAPI) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriteAPI) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
}

func (f *fakeWriteAPI) Errors() <-chan error { return f.errs }

func TestConnectDisabled(t *testing.T) {
	w, err := Connect(config.InfluxDBConfig{Enabled: false}, nil)
	test.That(t, w, test.ShouldBeNil)
	test.That(t, errors.Is(err, ErrDisabled), test.ShouldBeTrue)
}

func TestPublishWritesOnePointPerChange(t *testing.T) {
	fake := &fakeWriteAPI{errs: make(chan error)}
	defer close(fake.errs)
	w := newWriter(nil, fake, nil)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return at }

	changes := []sensors.Change{
		{Name: "temperature", Value: 20, Previous: sensors.Unreported},
		{Name: "ultrasonic", Value: 5, Previous: sensors.Unreported},
	}
	test.That(t, w.Publish(context.Background(), nil, changes), test.ShouldBeNil)

	test.That(t, fake.points, test.ShouldHaveLength, 2)
	p := fake.points[0]
	test.That(t, p.Name(), test.ShouldEqual, "sensor_data")
	test.That(t, p.TagList(), test.ShouldHaveLength, 1)
	test.That(t, p.TagList()[0].Key, test.ShouldEqual, "sensor")
	test.That(t, p.TagList()[0].Value, test.ShouldEqual, "temperature")
	test.That(t, p.FieldList()[0].Key, test.ShouldEqual, "value")
	test.That(t, p.FieldList()[0].Value, test.ShouldEqual, 20.0)
	test.That(t, p.Time().Equal(at), test.ShouldBeTrue)
	test.That(t, fake.points[1].TagList()[0].Value, test.ShouldEqual, "ultrasonic")
}

func TestPublishNothing(t *testing.T) {
	fake := &fakeWriteAPI{}
	w := newWriter(nil, fake, nil)
	test.That(t, w.Publish(context.Background(), nil, nil), test.ShouldBeNil)
	test.That(t, fake.points, test.ShouldBeEmpty)
}

func TestCloseFlushes(t *testing.T) {
	fake := &fakeWriteAPI{}
	w := newWriter(nil, fake, nil)
	test.That(t, w.Close(), test.ShouldBeNil)
	test.That(t, fake.flushed, test.ShouldEqual, 1)
}
