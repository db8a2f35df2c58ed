package models

import "time"

// PositionSample is one geolocation fix.
type PositionSample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy"`
	CapturedAt     time.Time `json:"timestamp"`
}

// PowerReading is the remaining battery percentage, 0..100.
type PowerReading struct {
	LevelPercent int `json:"battery"`
}

// DefaultPowerLevel is reported when the battery cannot be read.
const DefaultPowerLevel = 100

// TelemetryPayload is what the ingest endpoint receives for one submission attempt.
type TelemetryPayload struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	LevelPercent   int
	Token          string
	UserType       UserType
}

// NewTelemetryPayload joins a sample, a power reading and the session token.
func NewTelemetryPayload(sample PositionSample, power PowerReading, session Session, userType UserType) TelemetryPayload {
	return TelemetryPayload{
		Latitude:       sample.Latitude,
		Longitude:      sample.Longitude,
		AccuracyMeters: sample.AccuracyMeters,
		LevelPercent:   power.LevelPercent,
		Token:          session.Token,
		UserType:       userType,
	}
}
