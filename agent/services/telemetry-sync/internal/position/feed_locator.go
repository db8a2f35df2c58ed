package position

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

const (
	feedWriteTimeout = 5 * time.Second
	feedReadLimit    = 64 * 1024
)

// Bridge error codes, named after the W3C geolocation error codes.
const (
	codePermissionDenied    = "permission_denied"
	codePositionUnavailable = "position_unavailable"
	codeTimeout             = "timeout"
)

type watchFrame struct {
	Type               string `json:"type"`
	EnableHighAccuracy bool   `json:"enableHighAccuracy"`
	TimeoutMs          int64  `json:"timeout"`
	MaximumAgeMs       int64  `json:"maximumAge"`
}

type feedFrame struct {
	Type      string    `json:"type"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
}

// FeedLocator reads fixes pushed by the device positioning bridge over a websocket.
// The bridge owns the platform location service. It receives a watch frame on
// connect and again whenever a caller asks with different options, and streams
// "position" and "error" frames back.
type FeedLocator struct {
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	conn       *websocket.Conn
	watched    watchFrame
	readerDone chan struct{}
	updates    chan struct{}
	latest     *models.PositionSample
	latestAt   time.Time
	lastErr    error
	lastErrAt  time.Time
}

// NewFeedLocator returns a locator for the bridge at url (ws:// or wss://).
func NewFeedLocator(url string, logger *zap.Logger) *FeedLocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedLocator{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: feedWriteTimeout},
		logger:  logger,
		now:     time.Now,
		updates: make(chan struct{}),
	}
}

// Locate returns a cached fix younger than policy.MaxStaleness, or waits for the next
// fix or bridge error until ctx is done.
func (l *FeedLocator) Locate(ctx context.Context, policy Policy) (models.PositionSample, error) {
	requestedAt := l.now()
	if err := l.ensureConnected(ctx, policy); err != nil {
		return models.PositionSample{}, err
	}

	for {
		l.mu.Lock()
		if l.latest != nil {
			fresh := !l.latestAt.Before(requestedAt)
			withinAge := policy.MaxStaleness > 0 && l.now().Sub(l.latestAt) <= policy.MaxStaleness
			if fresh || withinAge {
				sample := *l.latest
				l.mu.Unlock()
				return sample, nil
			}
		}
		if l.lastErr != nil && !l.lastErrAt.Before(requestedAt) {
			err := l.lastErr
			l.mu.Unlock()
			return models.PositionSample{}, err
		}
		wait := l.updates
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.PositionSample{}, ctx.Err()
		case <-wait:
		}
	}
}

// Close drops the bridge connection and waits for the reader to exit.
func (l *FeedLocator) Close() error {
	l.mu.Lock()
	conn, done := l.conn, l.readerDone
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}

func newWatchFrame(policy Policy) watchFrame {
	return watchFrame{
		Type:               "watch",
		EnableHighAccuracy: policy.HighAccuracy,
		TimeoutMs:          policy.Timeout.Milliseconds(),
		MaximumAgeMs:       policy.MaxStaleness.Milliseconds(),
	}
}

func sendWatch(conn *websocket.Conn, watch watchFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	if err := conn.WriteJSON(watch); err != nil {
		return fmt.Errorf("%w: send watch: %v", models.ErrSourceUnavailable, err)
	}
	return nil
}

func (l *FeedLocator) ensureConnected(ctx context.Context, policy Policy) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	watch := newWatchFrame(policy)

	if l.conn != nil {
		if watch == l.watched {
			return nil
		}
		// The reader notices the close and clears l.conn once the lock is released.
		if err := sendWatch(l.conn, watch); err != nil {
			l.conn.Close()
			return err
		}
		l.watched = watch
		l.logger.Debug("position bridge watch updated",
			zap.Bool("high_accuracy", watch.EnableHighAccuracy),
			zap.Int64("timeout_ms", watch.TimeoutMs),
			zap.Int64("maximum_age_ms", watch.MaximumAgeMs),
		)
		return nil
	}

	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: dial bridge: %v", models.ErrSourceUnavailable, err)
	}

	conn.SetReadLimit(feedReadLimit)
	if err := sendWatch(conn, watch); err != nil {
		conn.Close()
		return err
	}

	l.conn = conn
	l.watched = watch
	l.readerDone = make(chan struct{})
	go l.readPump(conn, l.readerDone)
	l.logger.Info("position bridge connected", zap.String("url", l.url))
	return nil
}

func (l *FeedLocator) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			l.logger.Info("position bridge read closed", zap.Error(err))
			l.mu.Lock()
			if l.conn == conn {
				l.conn = nil
			}
			l.lastErr = fmt.Errorf("%w: bridge disconnected: %v", models.ErrSourceUnavailable, err)
			l.lastErrAt = l.now()
			l.broadcastLocked()
			l.mu.Unlock()
			_ = conn.Close()
			return
		}

		var frame feedFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			l.logger.Warn("discarding malformed bridge frame", zap.Error(err))
			continue
		}
		l.apply(frame)
	}
}

func (l *FeedLocator) apply(frame feedFrame) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch strings.ToLower(frame.Type) {
	case "position":
		captured := frame.Timestamp
		if captured.IsZero() {
			captured = l.now()
		}
		l.latest = &models.PositionSample{
			Latitude:       frame.Latitude,
			Longitude:      frame.Longitude,
			AccuracyMeters: frame.Accuracy,
			CapturedAt:     captured.UTC(),
		}
		l.latestAt = l.now()
	case "error":
		l.lastErr = bridgeError(frame.Code, frame.Message)
		l.lastErrAt = l.now()
	default:
		l.logger.Debug("ignoring bridge frame", zap.String("type", frame.Type))
		return
	}
	l.broadcastLocked()
}

func (l *FeedLocator) broadcastLocked() {
	close(l.updates)
	l.updates = make(chan struct{})
}

func bridgeError(code, message string) error {
	var kind error
	switch strings.ToLower(code) {
	case codePermissionDenied:
		kind = models.ErrPermissionDenied
	case codeTimeout:
		kind = models.ErrTimeout
	case codePositionUnavailable:
		kind = models.ErrSourceUnavailable
	default:
		kind = models.ErrSourceUnavailable
	}
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
