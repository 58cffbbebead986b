package gqdevice

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/eldaeon/sensorhub/internal/domain"
)

// DecodeUint32BE decodes a 4-byte big-endian counter.
func DecodeUint32BE(raw []byte) (float64, error) {
	if len(raw) != 4 {
		return 0, fmt.Errorf("%w: want 4 bytes, got %d", domain.ErrDeviceMalformedResponse, len(raw))
	}
	return float64(binary.BigEndian.Uint32(raw)), nil
}

// DecodeToken returns a decoder that parses the whitespace-separated token
// at index as a finite float. Invalid UTF-8 is dropped before splitting.
func DecodeToken(index int) func([]byte) (float64, error) {
	return func(raw []byte) (float64, error) {
		fields := strings.Fields(cleanText(raw))
		if index < 0 || index >= len(fields) {
			return 0, fmt.Errorf("%w: no token %d in %q", domain.ErrDeviceMalformedResponse, index, raw)
		}
		v, err := strconv.ParseFloat(fields[index], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: token %q is not a number", domain.ErrDeviceMalformedResponse, fields[index])
		}
		return v, nil
	}
}

func cleanText(raw []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
}
