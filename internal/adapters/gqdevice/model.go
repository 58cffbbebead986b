package gqdevice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

// Read is one command whose answer decodes to one channel.
type Read struct {
	Channel domain.Channel
	Command string
	Shape   ports.ResponseShape
	Decode  func([]byte) (float64, error)
}

// Model describes a GQ Electronics instrument: the power-on/version
// handshake and the reads issued on every poll.
type Model struct {
	ModelName string
	PowerOn   string
	Version   string
	Settle    time.Duration
	Identity  string
	Reads     []Read
}

func (m *Model) Name() string { return m.ModelName }

// Identify powers the unit on, waits for it to settle, then checks the
// version string starts with the expected identity.
func (m *Model) Identify(ctx context.Context, conn ports.Conn) error {
	if m.PowerOn != "" {
		if err := conn.Write(ctx, []byte(m.PowerOn)); err != nil {
			return err
		}
		if err := sleepCtx(ctx, m.Settle); err != nil {
			return err
		}
	}
	raw, err := conn.Exchange(ctx, []byte(m.Version), ports.QuietFramed)
	if err != nil {
		return err
	}
	got := cleanText(raw)
	if !strings.HasPrefix(got, m.Identity) {
		return fmt.Errorf("%w: %s on %s answered %q", domain.ErrIdentityMismatch, m.ModelName, conn.Path(), got)
	}
	return nil
}

// Poll issues every read once. Decode failures and timeouts skip the read;
// a disconnect or cancellation aborts the cycle.
func (m *Model) Poll(ctx context.Context, conn ports.Conn, now time.Time) ([]domain.Sample, error) {
	out := make([]domain.Sample, 0, len(m.Reads))
	var errs []error
	for _, r := range m.Reads {
		raw, err := conn.Exchange(ctx, []byte(r.Command), r.Shape)
		if err != nil {
			if errors.Is(err, domain.ErrDeviceDisconnected) || ctx.Err() != nil {
				return out, err
			}
			errs = append(errs, fmt.Errorf("%s: %w", r.Channel, err))
			continue
		}
		v, err := r.Decode(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Channel, err))
			continue
		}
		out = append(out, domain.Sample{Channel: r.Channel, Value: v, Timestamp: now})
	}
	return out, errors.Join(errs...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ ports.Driver = (*Model)(nil)
