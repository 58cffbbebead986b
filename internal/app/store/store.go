package store

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

// Config bounds the retained history. Whichever limit triggers first wins.
// A negative MaxAge disables age eviction.
type Config struct {
	MaxPoints int           `yaml:"max_points"`
	MaxAge    time.Duration `yaml:"max_age"`
}

func (c *Config) ApplyDefaults() {
	if c.MaxPoints <= 0 {
		c.MaxPoints = 10_000
	}
	if c.MaxAge == 0 {
		c.MaxAge = 60 * time.Minute
	}
}

// frame is the state of every channel right after one write.
type frame struct {
	ts     time.Time
	values [domain.NumChannels]float64
	seen   uint16
}

// Store is the single shared telemetry state: the current snapshot plus a
// bounded FIFO of frames. All channel series are columns of the same frames.
//
// Lock order: notifyMu before mu. Listeners run under notifyMu only and must
// not call back into Write.
type Store struct {
	mu     sync.RWMutex
	snap   domain.Snapshot
	frames []frame
	head   int
	size   int
	maxAge time.Duration

	notifyMu  sync.Mutex
	listeners []ports.BatchListener

	clock ports.Clock
	obs   ports.Observability
}

type Option func(*Store)

func WithClock(c ports.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithObservability(obs ports.Observability) Option {
	return func(s *Store) {
		if obs != nil {
			s.obs = obs
		}
	}
}

func New(cfg Config, opts ...Option) *Store {
	cfg.ApplyDefaults()
	s := &Store{
		frames: make([]frame, cfg.MaxPoints),
		maxAge: cfg.MaxAge,
		clock:  ports.SystemClock{},
		obs:    ports.NopObservability{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// AddListener registers l for every subsequent write.
func (s *Store) AddListener(l ports.BatchListener) {
	if l == nil {
		return
	}
	s.notifyMu.Lock()
	s.listeners = append(s.listeners, l)
	s.notifyMu.Unlock()
}

// Cap is the configured frame capacity.
func (s *Store) Cap() int { return len(s.frames) }

func (s *Store) Write(sample domain.Sample) {
	s.WriteBatch([]domain.Sample{sample})
}

// WriteBatch applies samples as one atomic update and one history frame.
// Invalid channels and non-finite values are ignored.
func (s *Store) WriteBatch(samples []domain.Sample) {
	valid := make([]domain.Sample, 0, len(samples))
	for _, sm := range samples {
		if sm.Channel.Valid() && !math.IsNaN(sm.Value) && !math.IsInf(sm.Value, 0) {
			valid = append(valid, sm)
		}
	}
	if len(valid) == 0 {
		return
	}

	now := s.clock.Now()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	ts := s.frameTime(valid, now)
	for _, sm := range valid {
		s.snap.Apply(sm)
	}
	s.snap.Seq++
	s.snap.Timestamp = ts
	s.appendFrame(ts)
	s.evictOlderThan(now)
	batch := domain.Batch{Seq: s.snap.Seq, Samples: valid, Snapshot: s.snap}
	frames := s.size
	s.mu.Unlock()

	for _, sm := range valid {
		s.obs.IncCounter("sensorhub_samples_written_total", 1, sm.Channel.Key())
	}
	s.obs.SetGauge("sensorhub_history_frames", float64(frames))

	for _, l := range s.listeners {
		l.OnBatch(batch)
	}
}

// frameTime picks the latest sample time, falling back to now, clamped so
// frame timestamps never go backwards. Caller holds mu.
func (s *Store) frameTime(samples []domain.Sample, now time.Time) time.Time {
	var ts time.Time
	for _, sm := range samples {
		if sm.Timestamp.After(ts) {
			ts = sm.Timestamp
		}
	}
	if ts.IsZero() {
		ts = now
	}
	if s.size > 0 {
		if last := s.at(s.size - 1).ts; ts.Before(last) {
			ts = last
		}
	}
	return ts
}

func (s *Store) at(i int) *frame {
	return &s.frames[(s.head+i)%len(s.frames)]
}

func (s *Store) appendFrame(ts time.Time) {
	if s.size == len(s.frames) {
		s.head = (s.head + 1) % len(s.frames)
		s.size--
	}
	f := s.at(s.size)
	f.ts = ts
	f.values = s.snap.Values
	f.seen = seenMask(s.snap)
	s.size++
}

func (s *Store) evictOlderThan(now time.Time) {
	if s.maxAge <= 0 {
		return
	}
	cutoff := now.Add(-s.maxAge)
	for s.size > 0 && s.at(0).ts.Before(cutoff) {
		*s.at(0) = frame{}
		s.head = (s.head + 1) % len(s.frames)
		s.size--
	}
}

func seenMask(snap domain.Snapshot) uint16 {
	var m uint16
	for _, c := range domain.Channels() {
		if snap.Seen(c) {
			m |= 1 << c
		}
	}
	return m
}

// ReadCurrent returns a copy of the current snapshot.
func (s *Store) ReadCurrent() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Len is the number of retained frames.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// window returns the frame index range [lo, hi) with timestamps inside
// [now-window, now]. A non-positive window selects everything. Caller holds mu.
func (s *Store) window(window time.Duration, now time.Time) (int, int) {
	hi := sort.Search(s.size, func(i int) bool { return s.at(i).ts.After(now) })
	if window <= 0 {
		return 0, hi
	}
	cutoff := now.Add(-window)
	lo := sort.Search(hi, func(i int) bool { return !s.at(i).ts.Before(cutoff) })
	return lo, hi
}

// ReadHistory returns the frames within the window, subsampled by a fixed
// stride of ceil(n/maxPoints) starting at the oldest frame so that at most
// maxPoints remain. maxPoints <= 0 disables subsampling.
func (s *Store) ReadHistory(window time.Duration, maxPoints int) domain.History {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi := s.window(window, now)
	n := hi - lo
	stride := Stride(n, maxPoints)
	count := 0
	if n > 0 {
		count = (n + stride - 1) / stride
	}

	var h domain.History
	h.Timestamps = make([]time.Time, count)
	for c := range h.Series {
		h.Series[c] = make([]float64, count)
	}
	for k := 0; k < count; k++ {
		f := s.at(lo + k*stride)
		h.Timestamps[k] = f.ts
		for c := range h.Series {
			h.Series[c][k] = f.values[c]
		}
	}
	return h
}

// Stride is the downsampling step for n points capped at maxPoints.
func Stride(n, maxPoints int) int {
	if maxPoints <= 0 || n <= maxPoints {
		return 1
	}
	return (n + maxPoints - 1) / maxPoints
}

// ReadStats summarises the window. A channel only counts in frames written
// after its first sample. Returns domain.ErrHistoryEmpty for an empty window.
func (s *Store) ReadStats(window time.Duration) (domain.Stats, error) {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi := s.window(window, now)
	if hi <= lo {
		return domain.Stats{}, fmt.Errorf("read stats: %w", domain.ErrHistoryEmpty)
	}

	var (
		sums  [domain.NumChannels]float64
		stats [domain.NumChannels]domain.ChannelStats
	)
	for i := lo; i < hi; i++ {
		f := s.at(i)
		for c := 0; c < domain.NumChannels; c++ {
			if f.seen&(1<<c) == 0 {
				continue
			}
			v := f.values[c]
			st := &stats[c]
			if st.Count == 0 || v < st.Min {
				st.Min = v
			}
			if st.Count == 0 || v > st.Max {
				st.Max = v
			}
			st.Count++
			sums[c] += v
		}
	}

	out := domain.Stats{
		PerChannel: make(map[domain.Channel]domain.ChannelStats, domain.NumChannels),
		DataPoints: hi - lo,
		TimeRange:  s.at(hi-1).ts.Sub(s.at(lo).ts),
	}
	for c := 0; c < domain.NumChannels; c++ {
		if stats[c].Count == 0 {
			continue
		}
		stats[c].Avg = sums[c] / float64(stats[c].Count)
		out.PerChannel[domain.Channel(c)] = stats[c]
	}
	return out, nil
}

// ChannelSeries returns one channel's (timestamp, value) pairs in the window,
// skipping frames before the channel's first write.
func (s *Store) ChannelSeries(c domain.Channel, window time.Duration) ([]time.Time, []float64) {
	if !c.Valid() {
		return nil, nil
	}
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi := s.window(window, now)
	ts := make([]time.Time, 0, hi-lo)
	vals := make([]float64, 0, hi-lo)
	for i := lo; i < hi; i++ {
		f := s.at(i)
		if f.seen&(1<<c) == 0 {
			continue
		}
		ts = append(ts, f.ts)
		vals = append(vals, f.values[c])
	}
	return ts, vals
}
