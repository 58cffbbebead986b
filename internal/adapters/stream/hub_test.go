package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/eldaeon/sensorhub/internal/app/store"
	"github.com/eldaeon/sensorhub/internal/domain"
)

func newTestServer(t *testing.T, cfg Config) (*Hub, *store.Store, string) {
	t.Helper()
	st := store.New(store.Config{MaxPoints: 1000})
	hub := NewHub(cfg, st, nil)
	st.AddListener(hub)

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Close(ctx)
		srv.Close()
	})
	return hub, st, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readSnapshot(t *testing.T, ctx context.Context, c *websocket.Conn) map[string]float64 {
	t.Helper()
	typ, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("expected text frame, got %v", typ)
	}
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return m
}

func waitCount(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, hub.Count())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSubscriberReceivesInitialSnapshotThenOrderedBatches(t *testing.T) {
	hub, st, url := newTestServer(t, Config{Buffer: 512})
	st.Write(domain.Sample{Channel: domain.EMF, Value: 7, Timestamp: time.Now()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	first := readSnapshot(t, ctx, c)
	if first["emf"] != 7 {
		t.Fatalf("expected initial snapshot with emf=7, got %v", first)
	}
	waitCount(t, hub, 1)

	const n = 200
	for i := 1; i <= n; i++ {
		st.Write(domain.Sample{Channel: domain.CPMHigh, Value: float64(i), Timestamp: time.Now()})
	}
	for i := 1; i <= n; i++ {
		m := readSnapshot(t, ctx, c)
		if m["cpm_h"] != float64(i) {
			t.Fatalf("message %d: expected cpm_h=%d, got %v", i, i, m["cpm_h"])
		}
		if m["emf"] != 7 {
			t.Fatalf("message %d lost earlier channel state: %v", i, m)
		}
	}
}

func dialWithOrigin(ctx context.Context, url, origin string) (*websocket.Conn, *http.Response, error) {
	return websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{origin}},
	})
}

func TestCrossOriginRejectedByDefault(t *testing.T) {
	hub, _, url := newTestServer(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, resp, err := dialWithOrigin(ctx, url, "http://evil.example")
	if err == nil {
		c.CloseNow()
		t.Fatalf("expected cross-origin upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
	if hub.Count() != 0 {
		t.Fatalf("refused client must not be subscribed")
	}
}

func TestAllowedOriginAccepted(t *testing.T) {
	hub, _, url := newTestServer(t, Config{AllowedOrigins: []string{"*.dashboard.local"}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := dialWithOrigin(ctx, url, "https://ops.dashboard.local")
	if err != nil {
		t.Fatalf("dial from allowed origin: %v", err)
	}
	defer c.CloseNow()
	readSnapshot(t, ctx, c)
	waitCount(t, hub, 1)

	if c2, _, err := dialWithOrigin(ctx, url, "https://evil.example"); err == nil {
		c2.CloseNow()
		t.Fatalf("origin outside the allow list was accepted")
	}
}

func TestClientCloseRemovesSubscriber(t *testing.T) {
	hub, _, url := newTestServer(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readSnapshot(t, ctx, c)
	waitCount(t, hub, 1)

	c.Close(websocket.StatusNormalClosure, "bye")
	waitCount(t, hub, 0)
}

func TestHubCloseDisconnectsSubscribers(t *testing.T) {
	hub, _, url := newTestServer(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()
	readSnapshot(t, ctx, c)
	waitCount(t, hub, 1)

	if err := hub.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, _, err = c.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestFullQueueDropsSubscriber(t *testing.T) {
	st := store.New(store.Config{MaxPoints: 10})
	hub := NewHub(Config{Buffer: 2}, st, nil)

	sub, err := hub.subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer hub.wg.Done()

	// initial snapshot occupies one slot
	hub.OnBatch(domain.Batch{Seq: 1})
	if hub.Count() != 1 {
		t.Fatalf("subscriber dropped too early")
	}
	hub.OnBatch(domain.Batch{Seq: 2})

	if hub.Count() != 0 {
		t.Fatalf("expected subscriber removed on full queue")
	}
	select {
	case <-sub.done:
	default:
		t.Fatalf("expected subscriber marked dead")
	}
	if !errors.Is(sub.reason, domain.ErrSubscriberSendFailed) {
		t.Fatalf("expected ErrSubscriberSendFailed, got %v", sub.reason)
	}
}

func TestBatchesCoveredBySnapshotAreSkipped(t *testing.T) {
	st := store.New(store.Config{MaxPoints: 10})
	st.Write(domain.Sample{Channel: domain.RF, Value: 1})
	st.Write(domain.Sample{Channel: domain.RF, Value: 2})
	hub := NewHub(Config{Buffer: 4}, st, nil)

	sub, err := hub.subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer hub.wg.Done()

	hub.OnBatch(domain.Batch{Seq: 2})
	hub.OnBatch(domain.Batch{Seq: 3})
	if got := len(sub.msgs); got != 2 {
		t.Fatalf("expected snapshot plus seq 3 only, got %d queued", got)
	}
}
