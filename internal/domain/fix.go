package domain

import "time"

// Conversion factors applied at the GPS boundary.
const (
	FeetPerMeter      = 3.28084
	MPHPerMeterSecond = 2.237
)

// Fix is a position/velocity reading in display units (feet, mph).
// The zero value is NoFix.
type Fix struct {
	Valid     bool
	Latitude  float64
	Longitude float64
	Altitude  float64
	Speed     float64
}

// NoFix is the neutral fix written while the receiver has no solution.
func NoFix() Fix { return Fix{} }

// FixFromMetric converts a metric reading (meters, m/s) into display units.
func FixFromMetric(lat, lon, altMeters, speedMPS float64) Fix {
	return Fix{
		Valid:     true,
		Latitude:  lat,
		Longitude: lon,
		Altitude:  altMeters * FeetPerMeter,
		Speed:     speedMPS * MPHPerMeterSecond,
	}
}

// Samples expands the fix into its four channel samples.
func (f Fix) Samples(ts time.Time) []Sample {
	return []Sample{
		{Channel: Altitude, Value: f.Altitude, Timestamp: ts},
		{Channel: Latitude, Value: f.Latitude, Timestamp: ts},
		{Channel: Longitude, Value: f.Longitude, Timestamp: ts},
		{Channel: Velocity, Value: f.Speed, Timestamp: ts},
	}
}
