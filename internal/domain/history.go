package domain

import "time"

// History is a window of frames. Every entry of Series has len(Timestamps)
// values.
type History struct {
	Timestamps []time.Time
	Series     [NumChannels][]float64
}

func (h History) Len() int { return len(h.Timestamps) }

// ChannelStats summarises one channel over a window.
type ChannelStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}

// Stats summarises a window. Channels that were never written in the
// window are absent from PerChannel.
type Stats struct {
	PerChannel map[Channel]ChannelStats
	DataPoints int
	TimeRange  time.Duration
}
