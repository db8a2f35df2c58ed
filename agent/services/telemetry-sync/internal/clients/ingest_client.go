package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// IngestClient delivers telemetry payloads to /api/{userType}/location.
type IngestClient struct {
	base    *BaseClient
	markers AuthMarkers
	logger  *zap.Logger
}

// IngestReceipt is the server acknowledgement of an accepted payload.
type IngestReceipt struct {
	LocationID int64
}

// NewIngestClient returns client wrapper.
func NewIngestClient(base *BaseClient, markers AuthMarkers, logger *zap.Logger) *IngestClient {
	if markers == nil {
		markers = DefaultAuthMarkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestClient{base: base, markers: markers, logger: logger}
}

// SendLocation issues exactly one ingest request. The error, if any, wraps
// ErrTransportFailure, ErrAuthRejected or ErrApplicationRejected.
func (c *IngestClient) SendLocation(ctx context.Context, payload models.TelemetryPayload) (IngestReceipt, error) {
	form := EncodePayload(payload)
	path := fmt.Sprintf("/api/%s/location", url.PathEscape(payload.UserType.String()))

	status, body, err := c.base.PostForm(ctx, path, nil, form)
	if err != nil {
		c.logger.Warn("location request failed", zap.Error(err))
		return IngestReceipt{}, transportError(err)
	}

	env, err := interpret(status, body, c.markers)
	if err != nil {
		c.logger.Warn("location request not accepted", zap.Int("status", status), zap.Error(err))
		return IngestReceipt{}, err
	}

	var receipt IngestReceipt
	if raw, ok := env.Fields["location_id"]; ok {
		_ = json.Unmarshal(raw, &receipt.LocationID)
	}
	return receipt, nil
}

// EncodePayload renders the form body. Accuracy falls back to 0 and battery to 100
// when the values are unusable, as the server expects.
func EncodePayload(p models.TelemetryPayload) url.Values {
	accuracy := p.AccuracyMeters
	if math.IsNaN(accuracy) || math.IsInf(accuracy, 0) || accuracy < 0 {
		accuracy = 0
	}
	battery := p.LevelPercent
	if battery < 0 || battery > 100 {
		battery = models.DefaultPowerLevel
	}

	form := url.Values{}
	form.Set("latitude", strconv.FormatFloat(p.Latitude, 'f', -1, 64))
	form.Set("longitude", strconv.FormatFloat(p.Longitude, 'f', -1, 64))
	form.Set("accuracy", strconv.FormatFloat(accuracy, 'f', -1, 64))
	form.Set("battery", strconv.Itoa(battery))
	form.Set("token", p.Token)
	return form
}
