package ports

import "github.com/eldaeon/sensorhub/internal/domain"

// BatchQueue is the bounded buffer between the store and the sink exporter.
type BatchQueue interface {
	Enqueue(b domain.Batch) bool
	DropOldest() bool
	DequeueBatch(max int) []domain.Batch
	Len() int
	// Ready receives a token after an enqueue. Tokens coalesce.
	Ready() <-chan struct{}
}
