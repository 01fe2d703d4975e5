package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.viam.com/test"

	"github.com/Uranury/sensorhub/config"
	"github.com/Uranury/sensorhub/sensors"
)

type constDriver struct{ value int }

func (constDriver) Init(context.Context, *sensors.Descriptor) error { return nil }

func (c constDriver) Read(_ context.Context, d *sensors.Descriptor) error {
	d.Store(c.value)
	return nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := sensors.NewRegistry(nil)
	reg.Initialize()
	test.That(t, reg.Register(context.Background(), sensors.NewDescriptor("temperature", constDriver{21})), test.ShouldBeNil)
	test.That(t, reg.Register(context.Background(), sensors.NewDescriptor("ultrasonic", constDriver{7})), test.ShouldBeNil)
	scanner := sensors.NewScanner(reg, time.Second, nil)
	test.That(t, scanner.ScanAll(context.Background()), test.ShouldBeNil)

	s := New(config.WebConfig{Enabled: true, Addr: "127.0.0.1:0"}, reg, scanner, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return s, ts
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	var body map[string]any
	test.That(t, json.NewDecoder(resp.Body).Decode(&body), test.ShouldBeNil)
	test.That(t, body["status"], test.ShouldEqual, "ok")
	test.That(t, body["sensors"], test.ShouldEqual, 2.0)
}

func TestSensorsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/sensors")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	var body SensorsResponse
	test.That(t, json.NewDecoder(resp.Body).Decode(&body), test.ShouldBeNil)
	test.That(t, body.Sensors, test.ShouldResemble, []sensors.Reading{
		{Name: "temperature", Current: 21, Previous: sensors.Unreported},
		{Name: "ultrasonic", Current: 7, Previous: sensors.Unreported},
	})
	test.That(t, body.Stats.Cycles, test.ShouldEqual, int64(1))
	test.That(t, body.Stats.Failures, test.ShouldEqual, int64(0))
}

func TestWebsocketReceivesChanges(t *testing.T) {
	s, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	test.That(t, s.Hub().ClientCount(), test.ShouldEqual, 1)

	changes := []sensors.Change{{Name: "temperature", Value: 21, Previous: sensors.Unreported}}
	test.That(t, s.Publish(context.Background(), nil, changes), test.ShouldBeNil)

	test.That(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)), test.ShouldBeNil)
	var update Update
	test.That(t, conn.ReadJSON(&update), test.ShouldBeNil)
	test.That(t, update.Changes, test.ShouldResemble, changes)
	test.That(t, update.Timestamp.IsZero(), test.ShouldBeFalse)
}

func TestHubDropsClosedClients(t *testing.T) {
	s, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	test.That(t, err, test.ShouldBeNil)

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	test.That(t, conn.Close(), test.ShouldBeNil)

	deadline = time.Now().Add(2 * time.Second)
	for s.Hub().ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	test.That(t, s.Hub().ClientCount(), test.ShouldEqual, 0)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
