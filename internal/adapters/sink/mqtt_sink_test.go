package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/eldaeon/sensorhub/internal/domain"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	err          error
	msgs         []published
	disconnected bool
}

func (f *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.msgs = append(f.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return doneToken{err: f.err}
}

func (f *fakePublisher) Disconnect(uint) { f.disconnected = true }

func snapshotBatch(seq uint64, ts time.Time, cpm float64) domain.Batch {
	var s domain.Snapshot
	s.Apply(domain.Sample{Channel: domain.CPMHigh, Value: cpm, Timestamp: ts})
	s.Apply(domain.Sample{Channel: domain.Altitude, Value: 120, Timestamp: ts})
	s.Seq = seq
	return domain.Batch{Seq: seq, Snapshot: s}
}

func TestMQTTSinkPublishesLatestSnapshot(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, MQTTConfig{QoS: 1})
	ts := time.Unix(1700000000, 0)

	err := sink.WriteBatch(context.Background(), []domain.Batch{
		snapshotBatch(1, ts, 10),
		snapshotBatch(2, ts, 12),
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("expected one publish, got %d", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.topic != "clair/sensors/environment" || msg.qos != 1 {
		t.Fatalf("unexpected topic/qos %q/%d", msg.topic, msg.qos)
	}

	var got map[string]float64
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got["cpm_h"] != 12 || got["alt"] != 120 || got["timestamp"] != 1700000000 {
		t.Fatalf("unexpected payload %v", got)
	}
	for _, k := range []string{"cpm_l", "emf", "rf", "ef", "lat", "lon", "vel"} {
		if _, ok := got[k]; !ok {
			t.Fatalf("payload missing %q: %v", k, got)
		}
	}
}

func TestMQTTSinkThrottles(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, MQTTConfig{MinInterval: 2 * time.Second})
	now := time.Unix(100, 0)
	sink.now = func() time.Time { return now }

	write := func() {
		if err := sink.WriteBatch(context.Background(), []domain.Batch{snapshotBatch(1, now, 1)}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write()
	now = now.Add(time.Second)
	write()
	if len(pub.msgs) != 1 {
		t.Fatalf("expected throttled second write, got %d publishes", len(pub.msgs))
	}
	now = now.Add(time.Second)
	write()
	if len(pub.msgs) != 2 {
		t.Fatalf("expected publish after interval, got %d", len(pub.msgs))
	}
}

func TestMQTTSinkPublishError(t *testing.T) {
	boom := errors.New("not connected")
	pub := &fakePublisher{err: boom}
	sink := NewMQTTSink(pub, MQTTConfig{})

	if err := sink.WriteBatch(context.Background(), []domain.Batch{snapshotBatch(1, time.Now(), 1)}); !errors.Is(err, boom) {
		t.Fatalf("expected publish error, got %v", err)
	}
	if err := sink.Close(); err != nil || !pub.disconnected {
		t.Fatalf("expected disconnect on close")
	}
}
