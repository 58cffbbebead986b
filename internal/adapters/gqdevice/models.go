package gqdevice

import (
	"fmt"
	"time"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

const (
	DriverGMC500 = "gmc500"
	DriverEMF390 = "emf390"
)

// GMC500 is the GMC-500+ Geiger counter. Counts come back as raw 32-bit
// big-endian integers.
func GMC500() *Model {
	return &Model{
		ModelName: "GMC-500+",
		PowerOn:   "<POWERON>>",
		Version:   "<GETVER>>",
		Settle:    500 * time.Millisecond,
		Identity:  "GMC-500+Re",
		Reads: []Read{
			{Channel: domain.CPMHigh, Command: "<GETCPMH>>", Shape: ports.FixedLength(4), Decode: DecodeUint32BE},
			{Channel: domain.CPMLow, Command: "<GETCPML>>", Shape: ports.FixedLength(4), Decode: DecodeUint32BE},
		},
	}
}

// EMF390 is the GQ-EMF390 meter. Answers are ASCII like "EMF = 1.2 mG".
func EMF390() *Model {
	return &Model{
		ModelName: "GQ-EMF390",
		PowerOn:   "<POWERON>>",
		Version:   "<GETVER>>",
		Settle:    2 * time.Second,
		Identity:  "GQ-EMF390",
		Reads: []Read{
			{Channel: domain.EMF, Command: "<GETEMF>>", Shape: ports.QuietFramed, Decode: DecodeToken(2)},
			{Channel: domain.EF, Command: "<GETEF>>", Shape: ports.QuietFramed, Decode: DecodeToken(2)},
			{Channel: domain.RF, Command: "<GETRFTOTALDENSITY>>", Shape: ports.QuietFramed, Decode: DecodeToken(0)},
		},
	}
}

// Lookup returns a fresh model for a configured driver name. A non-empty
// identity overrides the model's expected version prefix.
func Lookup(name, identity string) (*Model, error) {
	var m *Model
	switch name {
	case DriverGMC500:
		m = GMC500()
	case DriverEMF390:
		m = EMF390()
	default:
		return nil, fmt.Errorf("unknown device driver %q", name)
	}
	if identity != "" {
		m.Identity = identity
	}
	return m, nil
}
