package domain

import (
	"fmt"
	"time"
)

// Channel identifies one telemetry quantity. The set is fixed.
type Channel uint8

const (
	CPMHigh Channel = iota
	CPMLow
	EMF
	RF
	EF
	Altitude
	Latitude
	Longitude
	Velocity

	NumChannels = int(Velocity) + 1
)

var channelNames = [NumChannels]string{
	"CPM_HIGH", "CPM_LOW", "EMF", "RF", "EF", "ALTITUDE", "LATITUDE", "LONGITUDE", "VELOCITY",
}

// wire keys used by REST, the push stream and the sinks
var channelKeys = [NumChannels]string{
	"cpm_h", "cpm_l", "emf", "rf", "ef", "altitude", "latitude", "longitude", "velocity",
}

// Channels lists every channel in wire order.
func Channels() []Channel {
	out := make([]Channel, NumChannels)
	for i := range out {
		out[i] = Channel(i)
	}
	return out
}

func (c Channel) Valid() bool { return int(c) < NumChannels }

func (c Channel) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Channel(%d)", uint8(c))
	}
	return channelNames[c]
}

// Key is the JSON field name of the channel.
func (c Channel) Key() string {
	if !c.Valid() {
		return ""
	}
	return channelKeys[c]
}

// ParseChannel accepts either the enum name (CPM_HIGH) or the wire key (cpm_h).
func ParseChannel(s string) (Channel, error) {
	for i := 0; i < NumChannels; i++ {
		if channelNames[i] == s || channelKeys[i] == s {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

// Sample is one reading from one channel at one instant.
type Sample struct {
	Channel   Channel   `json:"channel"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"ts"`
}

// Batch is emitted once per store write. Snapshot is the state right after
// the write was applied.
type Batch struct {
	Seq      uint64   `json:"seq"`
	Samples  []Sample `json:"samples"`
	Snapshot Snapshot `json:"snapshot"`
}
