// Package historian records every published change in InfluxDB.
package historian

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/Uranury/sensorhub/config"
	"github.com/Uranury/sensorhub/sensors"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultBatchSize      = 100
	defaultFlushInterval  = 10 // seconds

	measurement = "sensor_data"
)

var (
	ErrDisabled         = errors.New("historian: influxdb disabled")
	ErrConnectionFailed = errors.New("historian: connection failed")
)

// Writer turns changes into points.
// Writes are batched by the client and never block the publish cycle.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// Connect pings the server and starts the non-blocking write API.
func Connect(cfg config.InfluxDBConfig, logger *zap.SugaredLogger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*1000))

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	return newWriter(client, client.WriteAPI(cfg.Org, cfg.Bucket), logger), nil
}

func newWriter(client influxdb2.Client, writeAPI api.WriteAPI, logger *zap.SugaredLogger) *Writer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	w := &Writer{client: client, writeAPI: writeAPI, logger: logger, now: time.Now}
	if errs := writeAPI.Errors(); errs != nil {
		go w.logWriteErrors(errs)
	}
	return w
}

func (w *Writer) logWriteErrors(errs <-chan error) {
	for err := range errs {
		w.logger.Warnw("influxdb write failed", "error", err)
	}
}

// Publish queues one point per change. The payload is ignored.
func (w *Writer) Publish(_ context.Context, _ []byte, changes []sensors.Change) error {
	ts := w.now()
	for _, c := range changes {
		w.writeAPI.WritePoint(write.NewPoint(
			measurement,
			map[string]string{"sensor": c.Name},
			map[string]interface{}{"value": float64(c.Value)},
			ts,
		))
	}
	return nil
}

// Close flushes pending points and closes the client.
func (w *Writer) Close() error {
	w.writeAPI.Flush()
	if w.client != nil {
		w.client.Close()
	}
	return nil
}
