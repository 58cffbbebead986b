package ports

import (
	"context"
	"time"

	"github.com/eldaeon/sensorhub/internal/domain"
)

// ResponseShape tells a Conn how to decide a response is complete.
// Length > 0 reads exactly that many bytes; zero frames by a quiet gap.
type ResponseShape struct {
	Length int
}

var QuietFramed = ResponseShape{}

func FixedLength(n int) ResponseShape { return ResponseShape{Length: n} }

// Conn is an open request/response channel to one device.
type Conn interface {
	Exchange(ctx context.Context, cmd []byte, shape ResponseShape) ([]byte, error)
	Write(ctx context.Context, cmd []byte) error
	Path() string
	Close() error
}

// Opener resolves and opens a device path.
type Opener interface {
	Open(path string) (Conn, error)
}

// Driver is the per-model capability a poller drives: identify a freshly
// opened port, then read all of the model's channels once per Poll.
type Driver interface {
	Name() string
	Identify(ctx context.Context, conn Conn) error
	// Poll returns every sample it could decode. err is non-nil when at least
	// one read failed; it wraps the domain error kinds.
	Poll(ctx context.Context, conn Conn, now time.Time) ([]domain.Sample, error)
}
