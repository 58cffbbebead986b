package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Topic       string        `yaml:"topic"`
	QoS         byte          `yaml:"qos"`
	MinInterval time.Duration `yaml:"min_interval"`
}

func (c *MQTTConfig) ApplyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "sensorhub"
	}
	if c.Topic == "" {
		c.Topic = "clair/sensors/environment"
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 2 * time.Second
	}
}

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes the latest snapshot at most once per MinInterval.
type MQTTSink struct {
	client publisher
	cfg    MQTTConfig
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

// DialMQTT connects to the broker with auto-reconnect enabled.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTTSink, error) {
	cfg.ApplyDefaults()
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second)
	client := mqtt.NewClient(opts)

	tok := client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
		}
	case <-ctx.Done():
		// SetConnectRetry keeps trying in the background.
	}
	return NewMQTTSink(client, cfg), nil
}

func NewMQTTSink(client publisher, cfg MQTTConfig) *MQTTSink {
	cfg.ApplyDefaults()
	return &MQTTSink{client: client, cfg: cfg, now: time.Now}
}

func (m *MQTTSink) Name() string { return "mqtt" }

type mqttPayload struct {
	Timestamp float64 `json:"timestamp"`
	CPMHigh   float64 `json:"cpm_h"`
	CPMLow    float64 `json:"cpm_l"`
	EMF       float64 `json:"emf"`
	RF        float64 `json:"rf"`
	EF        float64 `json:"ef"`
	Altitude  float64 `json:"alt"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Velocity  float64 `json:"vel"`
}

func payloadFor(s domain.Snapshot) mqttPayload {
	return mqttPayload{
		Timestamp: domain.EpochSeconds(s.Timestamp),
		CPMHigh:   s.Value(domain.CPMHigh),
		CPMLow:    s.Value(domain.CPMLow),
		EMF:       s.Value(domain.EMF),
		RF:        s.Value(domain.RF),
		EF:        s.Value(domain.EF),
		Altitude:  s.Value(domain.Altitude),
		Latitude:  s.Value(domain.Latitude),
		Longitude: s.Value(domain.Longitude),
		Velocity:  s.Value(domain.Velocity),
	}
}

// WriteBatch publishes the snapshot of the newest batch if the throttle
// window has passed. Older batches are superseded by it.
func (m *MQTTSink) WriteBatch(ctx context.Context, batches []domain.Batch) error {
	if len(batches) == 0 {
		return nil
	}
	now := m.now()
	m.mu.Lock()
	if !m.last.IsZero() && now.Sub(m.last) < m.cfg.MinInterval {
		m.mu.Unlock()
		return nil
	}
	m.last = now
	m.mu.Unlock()

	body, err := json.Marshal(payloadFor(batches[len(batches)-1].Snapshot))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	tok := m.client.Publish(m.cfg.Topic, m.cfg.QoS, false, body)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", m.cfg.Topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", m.cfg.Topic, ctx.Err())
	}
}

func (m *MQTTSink) Close() error {
	m.client.Disconnect(250)
	return nil
}

var _ ports.Sink = (*MQTTSink)(nil)
