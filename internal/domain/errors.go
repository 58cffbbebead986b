package domain

import "errors"

var (
	ErrDeviceTimeout           = errors.New("device timeout")
	ErrDeviceMalformedResponse = errors.New("device malformed response")
	ErrDeviceDisconnected      = errors.New("device disconnected")
	ErrIdentityMismatch        = errors.New("device identity mismatch")
	ErrGPSUnavailable          = errors.New("gps unavailable")
	ErrHistoryEmpty            = errors.New("no data available")
	ErrSubscriberSendFailed    = errors.New("subscriber send failed")
)
