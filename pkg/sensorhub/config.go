package sensorhub

import (
	"github.com/eldaeon/sensorhub/internal/adapters/observability"
	"github.com/eldaeon/sensorhub/internal/adapters/serialport"
	"github.com/eldaeon/sensorhub/internal/adapters/sink"
	"github.com/eldaeon/sensorhub/internal/adapters/stream"
	"github.com/eldaeon/sensorhub/internal/app/config"
	"github.com/eldaeon/sensorhub/internal/app/gps"
	"github.com/eldaeon/sensorhub/internal/app/poller"
	"github.com/eldaeon/sensorhub/internal/app/store"
	"github.com/eldaeon/sensorhub/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// DeviceConfig is one serial instrument.
	DeviceConfig = config.DeviceConfig
	// PollerConfig holds the poll cadence and recovery settings of a device.
	PollerConfig = poller.Config
	// ReconnectConfig drives reconnect backoff.
	ReconnectConfig = poller.ReconnectConfig
	// SerialConfig holds baud rate and read timing.
	SerialConfig = serialport.Config
	GPSConfig    = gps.Config
	// HistoryConfig bounds the in-memory history.
	HistoryConfig = store.Config
	HTTPConfig    = config.HTTPConfig
	StreamConfig  = stream.Config
	MetricsConfig = config.MetricsConfig
	LogConfig     = observability.LogConfig
	// Policy controls the export queue.
	Policy          = ports.Policy
	SinksConfig     = config.SinksConfig
	MQTTConfig      = sink.MQTTConfig
	RedisConfig     = sink.RedisConfig
	TimescaleConfig = config.TimescaleConfig
)

// LoadConfig loads YAML from disk, applies defaults and validates.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig is LoadConfig for YAML already in memory.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
