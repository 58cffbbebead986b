package poller

import "time"

type State int

const (
	StateDetecting State = iota
	StateConnected
	StatePolling
	StateErrorBackoff
	StateClosed
	StateNoDevice
)

func (s State) String() string {
	switch s {
	case StateDetecting:
		return "DETECTING"
	case StateConnected:
		return "CONNECTED"
	case StatePolling:
		return "POLLING"
	case StateErrorBackoff:
		return "ERROR_BACKOFF"
	case StateClosed:
		return "CLOSED"
	case StateNoDevice:
		return "NO_DEVICE"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is a point-in-time view of one poller.
type Status struct {
	Name              string    `json:"name"`
	Driver            string    `json:"driver"`
	State             State     `json:"state"`
	Path              string    `json:"path,omitempty"`
	Degraded          bool      `json:"degraded"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	Reconnects        uint64    `json:"reconnects"`
	LastError         string    `json:"last_error,omitempty"`
	LastSample        time.Time `json:"last_sample"`
}
