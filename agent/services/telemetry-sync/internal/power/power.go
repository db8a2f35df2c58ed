package power

import (
	"context"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// Source answers single-shot battery queries. Sample never fails: when the platform
// cannot report a level it returns models.DefaultPowerLevel.
type Source interface {
	Sample(ctx context.Context) models.PowerReading
}

// Fixed always reports the same level.
type Fixed int

func (f Fixed) Sample(context.Context) models.PowerReading {
	return models.PowerReading{LevelPercent: clamp(int(f))}
}

func clamp(level int) int {
	switch {
	case level < 0:
		return 0
	case level > 100:
		return 100
	default:
		return level
	}
}
