package domain

import (
	"bytes"
	"strconv"
	"time"
)

// Snapshot holds the latest value of every channel. It is a plain value;
// copies never alias store state.
type Snapshot struct {
	Seq       uint64
	Timestamp time.Time
	Values    [NumChannels]float64
	seen      uint16
}

// Apply folds s into the snapshot.
func (s *Snapshot) Apply(sample Sample) {
	if !sample.Channel.Valid() {
		return
	}
	s.Values[sample.Channel] = sample.Value
	s.seen |= 1 << sample.Channel
	if sample.Timestamp.After(s.Timestamp) {
		s.Timestamp = sample.Timestamp
	}
}

func (s Snapshot) Value(c Channel) float64 {
	if !c.Valid() {
		return 0
	}
	return s.Values[c]
}

// Seen reports whether c has ever been written.
func (s Snapshot) Seen(c Channel) bool {
	return c.Valid() && s.seen&(1<<c) != 0
}

// Empty reports whether no channel has been written yet.
func (s Snapshot) Empty() bool { return s.seen == 0 }

// MarshalJSON renders the flat object served by /current and the push stream.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(`{"timestamp":`)
	b.WriteString(strconv.FormatFloat(EpochSeconds(s.Timestamp), 'f', -1, 64))
	for i := 0; i < NumChannels; i++ {
		b.WriteString(`,"`)
		b.WriteString(channelKeys[i])
		b.WriteString(`":`)
		b.WriteString(strconv.FormatFloat(s.Values[i], 'f', -1, 64))
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// EpochSeconds converts t to fractional unix seconds; the zero time maps to 0.
func EpochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
