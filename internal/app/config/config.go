package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eldaeon/sensorhub/internal/adapters/gqdevice"
	"github.com/eldaeon/sensorhub/internal/adapters/observability"
	"github.com/eldaeon/sensorhub/internal/adapters/serialport"
	"github.com/eldaeon/sensorhub/internal/adapters/sink"
	"github.com/eldaeon/sensorhub/internal/adapters/stream"
	"github.com/eldaeon/sensorhub/internal/app/gps"
	"github.com/eldaeon/sensorhub/internal/app/poller"
	"github.com/eldaeon/sensorhub/internal/app/store"
	"github.com/eldaeon/sensorhub/internal/ports"
)

type Config struct {
	Devices []DeviceConfig          `yaml:"devices"`
	GPS     gps.Config              `yaml:"gps"`
	History store.Config            `yaml:"history"`
	HTTP    HTTPConfig              `yaml:"http"`
	Stream  stream.Config           `yaml:"stream"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Log     observability.LogConfig `yaml:"log"`
	Policy  ports.Policy            `yaml:"policy"`
	Sinks   SinksConfig             `yaml:"sinks"`
}

// DeviceConfig is one serial instrument: poller settings plus link
// settings, flattened into one YAML mapping.
type DeviceConfig struct {
	Poller poller.Config     `yaml:",inline"`
	Serial serialport.Config `yaml:",inline"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig.Addr is an optional dedicated listener; /metrics is also
// served on the HTTP address.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// SinksConfig enables a sink by its presence.
type SinksConfig struct {
	MQTT      *sink.MQTTConfig  `yaml:"mqtt"`
	Redis     *sink.RedisConfig `yaml:"redis"`
	Timescale *TimescaleConfig  `yaml:"timescale"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	for i := range c.Devices {
		c.Devices[i].Poller.ApplyDefaults()
		c.Devices[i].Serial.ApplyDefaults()
	}
	c.GPS.ApplyDefaults()
	c.History.ApplyDefaults()
	c.Stream.ApplyDefaults()
	c.Log.ApplyDefaults()

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":5000"
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 10_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 500
	}
	if c.Policy.FlushInterval == 0 {
		c.Policy.FlushInterval = time.Second
	}
	if c.Policy.SinkTimeout == 0 {
		c.Policy.SinkTimeout = 5 * time.Second
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "drop_oldest"
	}
	if c.Sinks.MQTT != nil {
		c.Sinks.MQTT.ApplyDefaults()
	}
	if c.Sinks.Redis != nil {
		c.Sinks.Redis.ApplyDefaults()
	}
	if c.Sinks.Timescale != nil && c.Sinks.Timescale.Table == "" {
		c.Sinks.Timescale.Table = "sensor_samples"
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Devices) == 0 && !c.GPS.Enabled {
		errs = append(errs, errors.New("no devices configured and gps disabled"))
	}

	names := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if err := d.Poller.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("devices[%d]: %w", i, err))
			continue
		}
		if _, err := gqdevice.Lookup(d.Poller.Driver, d.Poller.Identity); err != nil {
			errs = append(errs, fmt.Errorf("devices[%d]: %w", i, err))
		}
		if names[d.Poller.Name] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate name %q", i, d.Poller.Name))
		}
		names[d.Poller.Name] = true
	}

	if c.GPS.Enabled {
		switch c.GPS.Provider {
		case "gpsd":
		case "nmea":
			if c.GPS.Device == "" {
				errs = append(errs, errors.New("gps.device is required for the nmea provider"))
			}
		default:
			errs = append(errs, fmt.Errorf("gps.provider %q is not supported", c.GPS.Provider))
		}
	}

	switch c.Policy.OnQueueFull {
	case "drop", "drop_oldest":
	default:
		errs = append(errs, fmt.Errorf("policy.on_queue_full %q must be drop or drop_oldest", c.Policy.OnQueueFull))
	}

	for _, pattern := range c.Stream.AllowedOrigins {
		if _, err := filepath.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("stream.allowed_origins %q: %w", pattern, err))
		}
	}

	if c.Sinks.MQTT != nil && c.Sinks.MQTT.Broker == "" {
		errs = append(errs, errors.New("sinks.mqtt.broker is required"))
	}
	if c.Sinks.MQTT != nil && c.Sinks.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("sinks.mqtt.qos %d must be 0, 1 or 2", c.Sinks.MQTT.QoS))
	}
	if c.Sinks.Redis != nil && c.Sinks.Redis.Addr == "" {
		errs = append(errs, errors.New("sinks.redis.addr is required"))
	}
	if c.Sinks.Timescale != nil && c.Sinks.Timescale.ConnString == "" {
		errs = append(errs, errors.New("sinks.timescale.conn_string is required"))
	}
	return errors.Join(errs...)
}
