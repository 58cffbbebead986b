package sensorhub

import (
	base "github.com/eldaeon/sensorhub/pkg/sensorhub"
)

// Re-exported errors for convenience.
var (
	ErrNoSources               = base.ErrNoSources
	ErrChannelSinkClosed       = base.ErrChannelSinkClosed
	ErrInvalidSample           = base.ErrInvalidSample
	ErrDeviceTimeout           = base.ErrDeviceTimeout
	ErrDeviceMalformedResponse = base.ErrDeviceMalformedResponse
	ErrDeviceDisconnected      = base.ErrDeviceDisconnected
	ErrIdentityMismatch        = base.ErrIdentityMismatch
	ErrGPSUnavailable          = base.ErrGPSUnavailable
	ErrHistoryEmpty            = base.ErrHistoryEmpty
	ErrSubscriberSendFailed    = base.ErrSubscriberSendFailed
)

// Type aliases so consumers can import github.com/eldaeon/sensorhub directly.
type (
	Config                  = base.Config
	DeviceConfig            = base.DeviceConfig
	PollerConfig            = base.PollerConfig
	ReconnectConfig         = base.ReconnectConfig
	SerialConfig            = base.SerialConfig
	GPSConfig               = base.GPSConfig
	HistoryConfig           = base.HistoryConfig
	HTTPConfig              = base.HTTPConfig
	StreamConfig            = base.StreamConfig
	MetricsConfig           = base.MetricsConfig
	LogConfig               = base.LogConfig
	Policy                  = base.Policy
	SinksConfig             = base.SinksConfig
	MQTTConfig              = base.MQTTConfig
	RedisConfig             = base.RedisConfig
	TimescaleConfig         = base.TimescaleConfig
	Flow                    = base.Flow
	FlowOption              = base.FlowOption
	StreamInOption          = base.StreamInOption
	StreamOutOption         = base.StreamOutOption
	EdgeRuntime             = base.EdgeRuntime
	EdgeRuntimeOption       = base.EdgeRuntimeOption
	RuntimeStatus           = base.RuntimeStatus
	Sample                  = base.Sample
	Batch                   = base.Batch
	Snapshot                = base.Snapshot
	Channel                 = base.Channel
	Fix                     = base.Fix
	Store                   = base.Store
	BatchHandler            = base.BatchHandler
	Sink                    = base.Sink
	BatchListener           = base.BatchListener
	Opener                  = base.Opener
	Conn                    = base.Conn
	ResponseShape           = base.ResponseShape
	GPSProvider             = base.GPSProvider
	Observability           = base.Observability
	Field                   = base.Field
	Clock                   = base.Clock
	ExternalPublisher       = base.ExternalPublisher
	ExternalPublisherConfig = base.ExternalPublisherConfig
)

// Channel values.
const (
	CPMHigh   = base.CPMHigh
	CPMLow    = base.CPMLow
	EMF       = base.EMF
	RF        = base.RF
	EF        = base.EF
	Altitude  = base.Altitude
	Latitude  = base.Latitude
	Longitude = base.Longitude
	Velocity  = base.Velocity
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...EdgeRuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInDevice(d DeviceConfig) StreamInOption {
	return base.StreamInDevice(d)
}

func StreamInOpener(op Opener) StreamInOption {
	return base.StreamInOpener(op)
}

func StreamInGPS(p GPSProvider) StreamInOption {
	return base.StreamInGPS(p)
}

func StreamInStore(st *Store) StreamInOption {
	return base.StreamInStore(st)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutCallback(name string, fn BatchHandler) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Edge runtime and options.
func NewEdgeRuntime(cfg *Config, opts ...EdgeRuntimeOption) (*EdgeRuntime, error) {
	return base.NewEdgeRuntime(cfg, opts...)
}

func WithStore(st *Store) EdgeRuntimeOption {
	return base.WithStore(st)
}

func WithSink(s Sink) EdgeRuntimeOption {
	return base.WithSink(s)
}

func WithObservability(obs Observability) EdgeRuntimeOption {
	return base.WithObservability(obs)
}

func WithOpener(op Opener) EdgeRuntimeOption {
	return base.WithOpener(op)
}

func WithGPSProvider(p GPSProvider) EdgeRuntimeOption {
	return base.WithGPSProvider(p)
}

func WithClock(c Clock) EdgeRuntimeOption {
	return base.WithClock(c)
}

// Sink adapters.
func NewCallbackSink(name string, fn BatchHandler) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan []Batch, func()) {
	return base.NewChannelSink(name, buffer)
}

// External publisher.
func NewExternalPublisher(cfg *ExternalPublisherConfig, handler BatchHandler) (*ExternalPublisher, error) {
	return base.NewExternalPublisher(cfg, handler)
}
