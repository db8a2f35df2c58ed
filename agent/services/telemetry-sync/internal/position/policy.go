package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// Policy controls one acquisition cycle.
type Policy struct {
	HighAccuracy bool          `yaml:"highAccuracy"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxStaleness time.Duration `yaml:"maxStaleness"`
	// Interval spaces consecutive cycles of a tracking subscription.
	Interval time.Duration `yaml:"interval"`
}

// DefaultTrackingPolicy mirrors the watch options of the web client.
func DefaultTrackingPolicy() Policy {
	return Policy{
		HighAccuracy: true,
		Timeout:      10 * time.Second,
		MaxStaleness: 30 * time.Second,
		Interval:     10 * time.Second,
	}
}

// DefaultSnapshotPolicy always asks for a fresh fix.
func DefaultSnapshotPolicy() Policy {
	return Policy{
		HighAccuracy: true,
		Timeout:      10 * time.Second,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.Timeout <= 0 {
		return models.NewRejection(models.ErrInvalidInput, "position timeout must be positive")
	}
	if p.MaxStaleness < 0 || p.Interval < 0 {
		return models.NewRejection(models.ErrInvalidInput, "position staleness and interval must not be negative")
	}
	return nil
}

// ValidateTracking checks a policy for a continuous subscription, which needs a
// positive interval between cycles.
func (p Policy) ValidateTracking() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Interval <= 0 {
		return models.NewRejection(models.ErrInvalidInput, "tracking interval must be positive")
	}
	return nil
}

// Locator is the platform positioning primitive. Locate blocks until a fix is
// available or ctx is done. It reports models.ErrPermissionDenied or
// models.ErrSourceUnavailable for platform failures.
type Locator interface {
	Locate(ctx context.Context, policy Policy) (models.PositionSample, error)
}

// Classify maps any acquisition error onto PermissionDenied, SourceUnavailable or Timeout.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrPermissionDenied),
		errors.Is(err, models.ErrSourceUnavailable),
		errors.Is(err, models.ErrTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
}

func validateSample(s models.PositionSample) error {
	if math.IsNaN(s.Latitude) || math.IsNaN(s.Longitude) ||
		s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("%w: coordinates out of range (%f, %f)", models.ErrSourceUnavailable, s.Latitude, s.Longitude)
	}
	if s.AccuracyMeters < 0 || math.IsNaN(s.AccuracyMeters) {
		return fmt.Errorf("%w: negative accuracy", models.ErrSourceUnavailable)
	}
	return nil
}
