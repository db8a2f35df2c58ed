package power

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// DefaultSysfsRoot is where Linux and Android expose power supplies.
const DefaultSysfsRoot = "/sys"

// SysfsSource reads the capacity of the first battery under <root>/class/power_supply.
type SysfsSource struct {
	root   string
	logger *zap.Logger
}

// NewSysfsSource returns a battery reader rooted at root (DefaultSysfsRoot when empty).
func NewSysfsSource(root string, logger *zap.Logger) *SysfsSource {
	if strings.TrimSpace(root) == "" {
		root = DefaultSysfsRoot
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SysfsSource{root: root, logger: logger}
}

func (s *SysfsSource) Sample(ctx context.Context) models.PowerReading {
	fallback := models.PowerReading{LevelPercent: models.DefaultPowerLevel}
	if ctx.Err() != nil {
		return fallback
	}

	supplies, err := filepath.Glob(filepath.Join(s.root, "class", "power_supply", "*"))
	if err != nil || len(supplies) == 0 {
		s.logger.Debug("no power supplies found, using default battery level", zap.String("root", s.root))
		return fallback
	}
	sort.Strings(supplies)

	for _, dir := range supplies {
		kind, err := readTrimmed(filepath.Join(dir, "type"))
		if err != nil || !strings.EqualFold(kind, "Battery") {
			continue
		}
		raw, err := readTrimmed(filepath.Join(dir, "capacity"))
		if err != nil {
			s.logger.Debug("battery capacity unreadable", zap.String("supply", dir), zap.Error(err))
			continue
		}
		level, err := strconv.Atoi(raw)
		if err != nil {
			s.logger.Debug("battery capacity malformed", zap.String("supply", dir), zap.String("value", raw))
			continue
		}
		return models.PowerReading{LevelPercent: clamp(level)}
	}
	return fallback
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
