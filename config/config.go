// Package config loads the sensorhub configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Sensor types understood by the agent.
const (
	SensorThermistor = "thermistor"
	SensorUltrasonic = "ultrasonic"
	SensorDHT22      = "dht22"
	SensorModbus     = "modbus"
)

// Hardware backends.
const (
	HardwarePeriph    = "periph"
	HardwareSimulated = "sim"
)

// Config is the root configuration.
// Values come from defaults, then the YAML file, then the environment.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Sensors  []SensorConfig `yaml:"sensors"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Web      WebConfig      `yaml:"web"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AgentConfig controls the scan and publish cycles.
type AgentConfig struct {
	// Hardware is "periph" for a real board or "sim" for simulated inputs.
	Hardware        string        `yaml:"hardware"`
	ScanInterval    time.Duration `yaml:"scan_interval"`
	PublishInterval time.Duration `yaml:"publish_interval"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
}

// SensorConfig describes one sensor. Only the fields of its Type are used.
type SensorConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// thermistor
	ADCPath       string        `yaml:"adc_path"`
	ADCScale      float64       `yaml:"adc_scale_mv"`
	Beta          float64       `yaml:"beta"`
	R0            float64       `yaml:"r0"`
	FullScale     float64       `yaml:"full_scale"`
	Samples       int           `yaml:"samples"`
	SamplePeriod  time.Duration `yaml:"sample_period"`
	StableSamples int           `yaml:"stable_samples"`

	// ultrasonic, dht22
	Pin         string        `yaml:"pin"`
	EchoTimeout time.Duration `yaml:"echo_timeout"`
	Retries     int           `yaml:"retries"`

	// modbus
	Address  string  `yaml:"address"`
	SlaveID  byte    `yaml:"slave_id"`
	Register uint16  `yaml:"register"`
	Scale    float64 `yaml:"scale"`
}

// MQTTConfig contains the cloud broker settings.
type MQTTConfig struct {
	Enabled bool             `yaml:"enabled"`
	Broker  MQTTBrokerConfig `yaml:"broker"`
	Auth    MQTTAuthConfig   `yaml:"auth"`
	QoS     int              `yaml:"qos"`
	// Thing names the device in topics.
	Thing string `yaml:"thing"`
	// Topic overrides the shadow update topic.
	Topic     string              `yaml:"topic"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`

	// PEM files for TLS. CAFile replaces the system roots; CertFile and
	// KeyFile enable client certificate authentication.
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MQTTAuthConfig contains broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnect delays in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains the time-series sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// WebConfig contains the status server settings.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is not an error; the defaults run the simulated
// board. Variables from a .env file in the working directory are loaded
// first and never replace variables already set.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration: a simulated thermistor and
// ultrasonic ranger with only the web server enabled.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Hardware:        HardwareSimulated,
			ScanInterval:    time.Second,
			PublishInterval: 5 * time.Second,
			ReadTimeout:     500 * time.Millisecond,
		},
		Sensors: []SensorConfig{
			{Name: "temperature", Type: SensorThermistor},
			{Name: "ultrasonic", Type: SensorUltrasonic, Pin: "GPIO22"},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:   1,
			Thing: "sensorhub",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Web: WebConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies SENSORHUB_* variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENSORHUB_HARDWARE"); v != "" {
		cfg.Agent.Hardware = v
	}

	if v := os.Getenv("SENSORHUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SENSORHUB_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SENSORHUB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SENSORHUB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("SENSORHUB_MQTT_THING"); v != "" {
		cfg.MQTT.Thing = v
	}

	if v := os.Getenv("SENSORHUB_INFLUX_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("SENSORHUB_INFLUX_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("SENSORHUB_INFLUX_ORG"); v != "" {
		cfg.InfluxDB.Org = v
	}
	if v := os.Getenv("SENSORHUB_INFLUX_BUCKET"); v != "" {
		cfg.InfluxDB.Bucket = v
	}

	if v := os.Getenv("SENSORHUB_WEB_ADDR"); v != "" {
		cfg.Web.Addr = v
	}
	if v := os.Getenv("SENSORHUB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Agent.Hardware {
	case HardwarePeriph, HardwareSimulated:
	default:
		errs = append(errs, fmt.Sprintf("agent.hardware must be %q or %q", HardwarePeriph, HardwareSimulated))
	}
	if c.Agent.ScanInterval <= 0 {
		errs = append(errs, "agent.scan_interval must be positive")
	}
	if c.Agent.PublishInterval <= 0 {
		errs = append(errs, "agent.publish_interval must be positive")
	}

	seen := make(map[string]bool, len(c.Sensors))
	for i, s := range c.Sensors {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("sensors[%d].name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("sensors[%d].name %q is duplicated", i, s.Name))
		}
		seen[s.Name] = true

		switch s.Type {
		case SensorThermistor:
			if c.Agent.Hardware == HardwarePeriph && s.ADCPath == "" {
				errs = append(errs, fmt.Sprintf("sensors[%d].adc_path is required on periph hardware", i))
			}
		case SensorUltrasonic, SensorDHT22:
			if c.Agent.Hardware == HardwarePeriph && s.Pin == "" {
				errs = append(errs, fmt.Sprintf("sensors[%d].pin is required", i))
			}
		case SensorModbus:
			if s.Address == "" {
				errs = append(errs, fmt.Sprintf("sensors[%d].address is required", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("sensors[%d].type %q is unknown", i, s.Type))
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Thing == "" {
			errs = append(errs, "mqtt.thing is required")
		}
		if (c.MQTT.Broker.CertFile == "") != (c.MQTT.Broker.KeyFile == "") {
			errs = append(errs, "mqtt.broker.cert_file and mqtt.broker.key_file must be set together")
		}
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required")
	}

	if c.Web.Enabled && c.Web.Addr == "" {
		errs = append(errs, "web.addr is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
