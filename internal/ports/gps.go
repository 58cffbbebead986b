package ports

import (
	"context"

	"github.com/eldaeon/sensorhub/internal/domain"
)

// GPSProvider is a location service. Fix returns domain.ErrGPSUnavailable
// while there is no usable solution.
type GPSProvider interface {
	Name() string
	Connect(ctx context.Context) error
	Fix(ctx context.Context) (domain.Fix, error)
	Close() error
}
