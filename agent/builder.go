package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Uranury/sensorhub/config"
	"github.com/Uranury/sensorhub/sensors"
)

// NewDriver builds the driver for one configured sensor on the given hardware backend.
func NewDriver(hardware string, sc config.SensorConfig, logger *zap.SugaredLogger) (sensors.Driver, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	simulated := hardware == config.HardwareSimulated

	switch sc.Type {
	case config.SensorThermistor:
		var adc sensors.ADC
		if simulated {
			fullScale := int32(sc.FullScale)
			if fullScale <= 0 {
				fullScale = sensors.DefaultFullScale
			}
			adc = sensors.NewSimulatedADC(fullScale)
		} else {
			adc = &sensors.SysfsADC{RawPath: sc.ADCPath, ScaleMillivolts: sc.ADCScale}
		}
		return sensors.NewThermistor(sensors.ThermistorConfig{
			ADC:           adc,
			Beta:          sc.Beta,
			R0:            sc.R0,
			FullScale:     sc.FullScale,
			Samples:       sc.Samples,
			Period:        sc.SamplePeriod,
			StableSamples: sc.StableSamples,
			Logger:        logger.With("sensor", sc.Name),
		}), nil

	case config.SensorUltrasonic:
		if simulated {
			// Simulated echoes are counted in polls, not time.
			return sensors.NewUltrasonic(sensors.UltrasonicConfig{
				Pin:         sensors.NewSimulatedEchoPin(0),
				EchoTimeout: sc.EchoTimeout,
				Sleep:       func(time.Duration) {},
			}), nil
		}
		pin, err := sensors.GPIOPin(sc.Pin)
		if err != nil {
			return nil, err
		}
		return sensors.NewUltrasonic(sensors.UltrasonicConfig{Pin: pin, EchoTimeout: sc.EchoTimeout}), nil

	case config.SensorDHT22:
		var drv *sensors.DHT22
		if simulated {
			drv = sensors.NewSimulatedDHT22()
		} else {
			drv = sensors.NewDHT22(sc.Pin, sc.Retries)
		}
		drv.Logger = logger
		return drv, nil

	case config.SensorModbus:
		return sensors.NewModbusRegister(sensors.ModbusConfig{
			Address:  sc.Address,
			SlaveID:  sc.SlaveID,
			Register: sc.Register,
			Scale:    sc.Scale,
		}), nil
	}
	return nil, fmt.Errorf("%w: unknown sensor type %q", sensors.ErrInvalidArgument, sc.Type)
}

// Build initializes reg and registers every configured sensor in order.
// It stops at the first sensor that cannot be built or initialized.
func Build(ctx context.Context, cfg *config.Config, reg *sensors.Registry, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Agent.Hardware == config.HardwarePeriph {
		if err := sensors.HostInit(); err != nil {
			return fmt.Errorf("%w: periph host: %w", sensors.ErrHardwareInit, err)
		}
	}

	reg.Initialize()
	for _, sc := range cfg.Sensors {
		drv, err := NewDriver(cfg.Agent.Hardware, sc, logger)
		if err != nil {
			return fmt.Errorf("sensor %s: %w", sc.Name, err)
		}
		if err := reg.Register(ctx, sensors.NewDescriptor(sc.Name, drv)); err != nil {
			return err
		}
		logger.Debugw("sensor built", "sensor", sc.Name, "type", sc.Type, "hardware", cfg.Agent.Hardware)
	}
	return nil
}
