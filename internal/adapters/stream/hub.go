package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

// Config.AllowedOrigins lists extra Origin host patterns (path.Match syntax)
// allowed to open a stream. Same-origin requests and clients that send no
// Origin are always accepted.
type Config struct {
	Buffer         int           `yaml:"buffer"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

func (c *Config) ApplyDefaults() {
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// SnapshotReader supplies the snapshot sent to a new subscriber.
type SnapshotReader interface {
	ReadCurrent() domain.Snapshot
}

type subscriber struct {
	id    string
	since uint64 // batches at or below this seq are already covered by the initial snapshot
	msgs  chan []byte

	once   sync.Once
	done   chan struct{}
	reason error
}

func (s *subscriber) kill(reason error) {
	s.once.Do(func() {
		s.reason = reason
		close(s.done)
	})
}

// Hub fans store batches out to websocket subscribers. A subscriber either
// gets every batch in store order or is disconnected.
//
// LOCK ORDERING: store notify lock, then h.mu. Subscribe reads the store
// while holding h.mu, which is safe because ReadCurrent does not take the
// notify lock.
type Hub struct {
	cfg   Config
	store SnapshotReader
	obs   ports.Observability

	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool

	wg sync.WaitGroup
}

func NewHub(cfg Config, store SnapshotReader, obs ports.Observability) *Hub {
	cfg.ApplyDefaults()
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &Hub{cfg: cfg, store: store, obs: obs, subs: make(map[string]*subscriber)}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// subscribe registers a subscriber and queues the current snapshot as its
// first message. The caller owns one wg count on success.
func (h *Hub) subscribe() (*subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errHubClosed
	}

	snap := h.store.ReadCurrent()
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	sub := &subscriber{
		id:    uuid.NewString(),
		since: snap.Seq,
		msgs:  make(chan []byte, h.cfg.Buffer),
		done:  make(chan struct{}),
	}
	sub.msgs <- body
	h.subs[sub.id] = sub
	h.wg.Add(1)
	h.obs.SetGauge("sensorhub_stream_subscribers", float64(len(h.subs)))
	return sub, nil
}

func (h *Hub) remove(sub *subscriber, reason error) {
	sub.kill(reason)
	h.mu.Lock()
	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
		h.obs.SetGauge("sensorhub_stream_subscribers", float64(len(h.subs)))
	}
	h.mu.Unlock()
}

// OnBatch implements ports.BatchListener. Sends never block; a subscriber
// whose queue is full is dropped.
func (h *Hub) OnBatch(b domain.Batch) {
	body, err := json.Marshal(b.Snapshot)
	if err != nil {
		h.obs.LogError("stream_marshal_failed", err)
		return
	}

	var dead []*subscriber
	h.mu.RLock()
	for _, sub := range h.subs {
		if b.Seq <= sub.since {
			continue
		}
		select {
		case sub.msgs <- body:
		default:
			dead = append(dead, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range dead {
		err := fmt.Errorf("%w: queue full at seq %d", domain.ErrSubscriberSendFailed, b.Seq)
		h.obs.IncCounter("sensorhub_stream_dropped_total", 1, "queue_full")
		h.obs.LogError("stream_subscriber_dropped", err, ports.Field{Key: "subscriber", Value: sub.id})
		h.remove(sub, err)
	}
}

// ServeHTTP upgrades the request and streams until the client leaves, a
// send fails or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.AllowedOrigins})
	if err != nil {
		h.obs.LogError("stream_accept_failed", err)
		return
	}

	sub, err := h.subscribe()
	if err != nil {
		c.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.wg.Done()

	h.obs.LogInfo("stream_subscribed", ports.Field{Key: "subscriber", Value: sub.id})
	err = h.writeLoop(r.Context(), c, sub)
	h.remove(sub, err)

	switch {
	case errors.Is(sub.reason, domain.ErrSubscriberSendFailed):
		c.Close(websocket.StatusPolicyViolation, "subscriber too slow")
	case sub.reason == nil || errors.Is(sub.reason, errHubClosed):
		c.Close(websocket.StatusGoingAway, "shutting down")
	default:
		c.CloseNow()
	}
	h.obs.LogInfo("stream_unsubscribed", ports.Field{Key: "subscriber", Value: sub.id})
}

var errHubClosed = errors.New("hub closed")

func (h *Hub) writeLoop(ctx context.Context, c *websocket.Conn, sub *subscriber) error {
	ctx = c.CloseRead(ctx)
	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.done:
			return sub.reason
		case msg := <-sub.msgs:
			if err := h.write(ctx, c, msg); err != nil {
				h.obs.IncCounter("sensorhub_stream_dropped_total", 1, "write_failed")
				return fmt.Errorf("%w: %v", domain.ErrSubscriberSendFailed, err)
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := c.Ping(pctx)
			cancel()
			if err != nil {
				h.obs.IncCounter("sensorhub_stream_dropped_total", 1, "ping_failed")
				return fmt.Errorf("%w: ping: %v", domain.ErrSubscriberSendFailed, err)
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, msg)
}

// Close disconnects every subscriber and waits for their handlers, bounded
// by ctx.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.kill(errHubClosed)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stream hub close: %w", ctx.Err())
	}
}

var _ ports.BatchListener = (*Hub)(nil)
