package position

import (
	"context"
	"time"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// StaticLocator reports a fixed position. Simulator deployments and bench devices
// without a positioning bridge use it.
type StaticLocator struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
}

func (l StaticLocator) Locate(ctx context.Context, _ Policy) (models.PositionSample, error) {
	if err := ctx.Err(); err != nil {
		return models.PositionSample{}, err
	}
	return models.PositionSample{
		Latitude:       l.Latitude,
		Longitude:      l.Longitude,
		AccuracyMeters: l.AccuracyMeters,
		CapturedAt:     time.Now().UTC(),
	}, nil
}
