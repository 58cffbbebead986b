package ports

import (
	"context"

	"github.com/eldaeon/sensorhub/internal/domain"
)

// Sink forwards store batches to a third-party system.
type Sink interface {
	WriteBatch(ctx context.Context, batches []domain.Batch) error
	Name() string
	Close() error
}

// BatchListener receives every store write, in store order. Implementations
// must not block.
type BatchListener interface {
	OnBatch(b domain.Batch)
}
