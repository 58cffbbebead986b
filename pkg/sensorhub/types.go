package sensorhub

import (
	"github.com/eldaeon/sensorhub/internal/app/store"
	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

// Sample is one reading from one channel. It mirrors internal/domain.Sample
// so custom adapters can reference it.
type Sample = domain.Sample

// Batch is emitted once per store write and is what sinks receive.
type Batch = domain.Batch

// Snapshot is the latest value of every channel.
type Snapshot = domain.Snapshot

// Channel identifies a telemetry quantity.
type Channel = domain.Channel

// Store holds the current snapshot and the bounded history.
type Store = store.Store

// Sink consumes ordered batches and forwards them to any downstream system.
type Sink = ports.Sink

// BatchListener observes every store write synchronously and must not block.
type BatchListener = ports.BatchListener

// Opener opens device paths. Replace it to drive simulated instruments.
type Opener = ports.Opener

// Conn is an open request/response link to one device.
type Conn = ports.Conn

// ResponseShape tells a Conn when a response is complete.
type ResponseShape = ports.ResponseShape

// GPSProvider is a location service such as gpsd or a serial NMEA receiver.
type GPSProvider = ports.GPSProvider

// Fix is one GPS solution in display units.
type Fix = domain.Fix

// Observability emits logs and metrics about pollers, the store and sinks.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

type Clock = ports.Clock

// Channel values.
const (
	CPMHigh   = domain.CPMHigh
	CPMLow    = domain.CPMLow
	EMF       = domain.EMF
	RF        = domain.RF
	EF        = domain.EF
	Altitude  = domain.Altitude
	Latitude  = domain.Latitude
	Longitude = domain.Longitude
	Velocity  = domain.Velocity
)

// Sentinel errors callers can match with errors.Is.
var (
	ErrDeviceTimeout           = domain.ErrDeviceTimeout
	ErrDeviceMalformedResponse = domain.ErrDeviceMalformedResponse
	ErrDeviceDisconnected      = domain.ErrDeviceDisconnected
	ErrIdentityMismatch        = domain.ErrIdentityMismatch
	ErrGPSUnavailable          = domain.ErrGPSUnavailable
	ErrHistoryEmpty            = domain.ErrHistoryEmpty
	ErrSubscriberSendFailed    = domain.ErrSubscriberSendFailed
)
