package diagnostics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 3 * time.Second
)

// Recorder receives diagnostic events. Implementations must not block the caller for long.
type Recorder interface {
	Record(ctx context.Context, event models.DiagnosticEvent)
}

// Nop discards every event.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, models.DiagnosticEvent) {}

// Multi fans an event out to every recorder in order.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(ctx context.Context, event models.DiagnosticEvent) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, event)
		}
	}
}

// LogRecorder writes events to a zap logger.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder returns recorder writing to logger.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRecorder{logger: logger}
}

// Record implements Recorder.
func (r *LogRecorder) Record(_ context.Context, event models.DiagnosticEvent) {
	fields := []zap.Field{
		zap.String("kind", string(event.Kind)),
		zap.String("user_type", string(event.UserType)),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	if event.DeviceID != "" {
		fields = append(fields, zap.String("device_id", event.DeviceID))
	}

	switch event.Kind {
	case models.DiagnosticSampleDropped:
		r.logger.Debug("diagnostic", fields...)
	case models.DiagnosticAuthRejected, models.DiagnosticApplicationRejected:
		r.logger.Warn("diagnostic", fields...)
	default:
		r.logger.Info("diagnostic", fields...)
	}
}

// EventWriter persists diagnostic events.
type EventWriter interface {
	Insert(ctx context.Context, event *models.DiagnosticEvent) error
}

// StoreRecorder queues events and writes them from a single background goroutine.
// When the queue is full new events are dropped.
type StoreRecorder struct {
	writer  EventWriter
	logger  *zap.Logger
	timeout time.Duration

	queue chan models.DiagnosticEvent
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewStoreRecorder starts the writer goroutine. Call Close to flush and stop it.
func NewStoreRecorder(writer EventWriter, logger *zap.Logger, queueSize int) *StoreRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	r := &StoreRecorder{
		writer:  writer,
		logger:  logger,
		timeout: defaultWriteTimeout,
		queue:   make(chan models.DiagnosticEvent, queueSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record implements Recorder.
func (r *StoreRecorder) Record(_ context.Context, event models.DiagnosticEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.logger.Warn("diagnostics queue full, dropping event", zap.String("kind", string(event.Kind)))
	}
}

// Close stops accepting events and waits until queued ones are written.
func (r *StoreRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *StoreRecorder) run() {
	defer close(r.done)
	for event := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.writer.Insert(ctx, &event); err != nil {
			r.logger.Warn("failed to store diagnostic event", zap.String("kind", string(event.Kind)), zap.Error(err))
		}
		cancel()
	}
}
