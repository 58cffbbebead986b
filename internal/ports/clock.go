package ports

import "time"

// Clock abstracts wall time so windows and timestamps can be driven in tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
