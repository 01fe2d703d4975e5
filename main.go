// Command sensorhub scans the configured sensors and reports changed values
// to MQTT, InfluxDB and a live web view.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/Uranury/sensorhub/agent"
	"github.com/Uranury/sensorhub/cloud"
	"github.com/Uranury/sensorhub/config"
	"github.com/Uranury/sensorhub/historian"
	"github.com/Uranury/sensorhub/logging"
	"github.com/Uranury/sensorhub/sensors"
	"github.com/Uranury/sensorhub/web"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	app := &cli.App{
		Name:    "sensorhub",
		Usage:   "report sensor changes to the cloud",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"SENSORHUB_CONFIG"},
				Value:   "config.yaml",
				Usage:   "path to the YAML configuration",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, c.String("config"))
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	log := logging.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	defer log.Sync() //nolint:errcheck
	log.Infow("starting sensorhub", "config", configPath, "hardware", cfg.Agent.Hardware)

	reg := sensors.NewRegistry(log.Named("registry"))
	defer func() {
		if err := reg.Close(); err != nil {
			log.Warnw("closing sensors", "error", err)
		}
	}()
	if err := agent.Build(ctx, cfg, reg, log); err != nil {
		return fmt.Errorf("building sensors: %w", err)
	}

	scanner := sensors.NewScanner(reg, cfg.Agent.ReadTimeout, log.Named("scanner"))
	a := agent.New(cfg.Agent, reg, scanner, log.Named("agent"))

	if cfg.MQTT.Enabled {
		mqttClient, err := cloud.Connect(cfg.MQTT, log.Named("mqtt"))
		if err != nil {
			return fmt.Errorf("connecting to mqtt: %w", err)
		}
		defer mqttClient.Close()
		a.AddSink(mqttClient)
	}

	if cfg.InfluxDB.Enabled {
		writer, err := historian.Connect(cfg.InfluxDB, log.Named("influxdb"))
		if err != nil {
			// Telemetry history is optional; keep reporting without it.
			log.Warnw("influxdb unavailable", "error", err)
		} else {
			defer writer.Close()
			a.AddSink(writer)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	webErr := make(chan error, 1)
	if cfg.Web.Enabled {
		srv := web.New(cfg.Web, reg, scanner, log.Named("web"))
		a.AddSink(srv)
		go func() {
			err := srv.Run(ctx)
			if err != nil {
				cancel()
			}
			webErr <- err
		}()
	} else {
		webErr <- nil
	}

	if err := a.Run(ctx); err != nil {
		return err
	}
	if err := <-webErr; err != nil {
		return err
	}
	log.Info("sensorhub stopped")
	return nil
}

// Ensure every sink satisfies the agent contract.
var (
	_ agent.Sink = (*cloud.Client)(nil)
	_ agent.Sink = (*historian.Writer)(nil)
	_ agent.Sink = (*web.Server)(nil)
)

