package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

const (
	columnsPerRow = 4
	// Postgres caps a statement at 65535 bind parameters.
	maxInsertRows = 65535 / columnsPerRow
)

// TimescaleSink stores one row per sample. Rows are keyed by
// (channel, ts, seq), so replays and re-sent chunks are no-ops.
type TimescaleSink struct {
	db        *sql.DB
	tableName string
	maxRows   int
}

func NewTimescaleSink(db *sql.DB, table string) *TimescaleSink {
	if table == "" {
		table = "sensor_samples"
	}
	return &TimescaleSink{db: db, tableName: table, maxRows: maxInsertRows}
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

type row struct {
	channel string
	ts      time.Time
	seq     int64
	value   float64
}

// WriteBatch inserts every sample, split into statements of at most maxRows rows.
func (t *TimescaleSink) WriteBatch(ctx context.Context, batches []domain.Batch) error {
	var rows []row
	for _, batch := range batches {
		for _, s := range batch.Samples {
			rows = append(rows, row{s.Channel.Key(), s.Timestamp, int64(batch.Seq), s.Value})
		}
	}

	for start := 0; start < len(rows); start += t.maxRows {
		end := min(start+t.maxRows, len(rows))
		if err := t.insert(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (t *TimescaleSink) insert(ctx context.Context, rows []row) error {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (channel, ts, seq, value) VALUES ")

	args := make([]any, 0, len(rows)*columnsPerRow)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "($%d,$%d,$%d,$%d)", len(args)+1, len(args)+2, len(args)+3, len(args)+4)
		args = append(args, r.channel, r.ts, r.seq, r.value)
	}
	b.WriteString(" ON CONFLICT (channel, ts, seq) DO NOTHING")

	if _, err := t.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert %d samples: %w", len(rows), err)
	}
	return nil
}

func (t *TimescaleSink) Close() error { return t.db.Close() }

var _ ports.Sink = (*TimescaleSink)(nil)
