// Package agent drives the scan and publish cycles of a sensor registry.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Uranury/sensorhub/config"
	"github.com/Uranury/sensorhub/sensors"
)

const (
	shadowPrefix = `{"state":{"reported":{"online":true`
	shadowSuffix = `}}}`

	defaultPublishTimeout = 10 * time.Second
)

// Sink receives every non-empty delta. payload is the full shadow document;
// changes lists the same values in structured form.
type Sink interface {
	Publish(ctx context.Context, payload []byte, changes []sensors.Change) error
}

// Agent scans the registry and hands deltas to its sinks.
type Agent struct {
	cfg      config.AgentConfig
	registry *sensors.Registry
	scanner  *sensors.Scanner
	sinks    []Sink
	logger   *zap.SugaredLogger

	mu  sync.Mutex
	buf bytes.Buffer
}

// New returns an agent. Sinks may be added later with AddSink, before Run.
func New(cfg config.AgentConfig, reg *sensors.Registry, scanner *sensors.Scanner, logger *zap.SugaredLogger) *Agent {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Agent{cfg: cfg, registry: reg, scanner: scanner, logger: logger}
}

// AddSink registers s for every published delta.
func (a *Agent) AddSink(s Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, s)
}

// ScanOnce runs one scan cycle. Read errors are logged by the scanner.
func (a *Agent) ScanOnce(ctx context.Context) error {
	return a.scanner.ScanAll(ctx)
}

// PublishOnce builds the delta and sends it to every sink. Nothing is sent
// when no sensor changed. A failing sink does not keep the others from
// receiving the delta; their errors are combined.
func (a *Agent) PublishOnce(ctx context.Context) ([]sensors.Change, error) {
	a.mu.Lock()
	a.buf.Reset()
	a.buf.WriteString(shadowPrefix)
	changes := a.registry.BuildDelta(&a.buf)
	if len(changes) == 0 {
		a.mu.Unlock()
		return nil, nil
	}
	a.buf.WriteString(shadowSuffix)
	payload := bytes.Clone(a.buf.Bytes())
	sinks := append([]Sink(nil), a.sinks...)
	a.mu.Unlock()

	a.logger.Debugw("publishing delta", "changes", len(changes), "payload", string(payload))

	var errs error
	for _, s := range sinks {
		if err := s.Publish(ctx, payload, changes); err != nil {
			a.logger.Warnw("sink publish failed", "sink", fmt.Sprintf("%T", s), "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return changes, errs
}

// Run schedules the scan and publish jobs and blocks until ctx is cancelled.
// Neither job overlaps itself; a late run is rescheduled, not queued.
func (a *Agent) Run(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(a.cfg.ScanInterval),
		gocron.NewTask(func() {
			if err := a.ScanOnce(ctx); err != nil && ctx.Err() == nil {
				a.logger.Debugw("scan cycle finished with errors", "errors", len(multierr.Errors(err)))
			}
		}),
		gocron.WithName("scan"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return errors.Join(fmt.Errorf("scheduling scan: %w", err), scheduler.Shutdown())
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(a.cfg.PublishInterval),
		gocron.NewTask(func() {
			pubCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
			defer cancel()
			if _, err := a.PublishOnce(pubCtx); err != nil {
				a.logger.Warnw("publish cycle failed", "error", err)
			}
		}),
		gocron.WithName("publish"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Join(fmt.Errorf("scheduling publish: %w", err), scheduler.Shutdown())
	}

	a.logger.Infow("agent started",
		"sensors", a.registry.Len(),
		"scan_interval", a.cfg.ScanInterval,
		"publish_interval", a.cfg.PublishInterval,
	)
	scheduler.Start()

	<-ctx.Done()
	a.logger.Info("agent stopping")
	if err := scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stopping scheduler: %w", err)
	}
	return nil
}
