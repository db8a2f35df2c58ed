package diagnostics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

type memoryWriter struct {
	mu     sync.Mutex
	events []models.DiagnosticEvent
	err    error
	block  chan struct{}
}

func (w *memoryWriter) Insert(_ context.Context, event *models.DiagnosticEvent) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	event.ID = int64(len(w.events) + 1)
	w.events = append(w.events, *event)
	return nil
}

func (w *memoryWriter) stored() []models.DiagnosticEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.DiagnosticEvent(nil), w.events...)
}

func event(kind models.DiagnosticKind) models.DiagnosticEvent {
	return models.DiagnosticEvent{
		Kind:       kind,
		Reason:     "test",
		UserType:   models.UserTypeAgent,
		OccurredAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestStoreRecorderFlushesOnClose(t *testing.T) {
	writer := &memoryWriter{}
	rec := NewStoreRecorder(writer, zap.NewNop(), 8)

	rec.Record(context.Background(), event(models.DiagnosticTransportFailure))
	rec.Record(context.Background(), event(models.DiagnosticAuthRejected))
	rec.Close()

	stored := writer.stored()
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(stored))
	}
	if stored[1].Kind != models.DiagnosticAuthRejected {
		t.Fatalf("unexpected order: %+v", stored)
	}

	rec.Record(context.Background(), event(models.DiagnosticSampleDropped))
	rec.Close()
	if len(writer.stored()) != 2 {
		t.Fatalf("expected events after close to be ignored")
	}
}

func TestStoreRecorderDropsWhenQueueFull(t *testing.T) {
	writer := &memoryWriter{block: make(chan struct{})}
	core, logs := observer.New(zapcore.WarnLevel)
	rec := NewStoreRecorder(writer, zap.New(core), 1)

	// First event is picked up by the writer and blocks; the second fills the queue.
	rec.Record(context.Background(), event(models.DiagnosticTransportFailure))
	deadline := time.Now().Add(time.Second)
	for len(rec.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	rec.Record(context.Background(), event(models.DiagnosticTransportFailure))
	rec.Record(context.Background(), event(models.DiagnosticTransportFailure))

	close(writer.block)
	rec.Close()

	if got := len(writer.stored()); got != 2 {
		t.Fatalf("expected 2 stored events, got %d", got)
	}
	if logs.FilterMessage("diagnostics queue full, dropping event").Len() != 1 {
		t.Fatalf("expected one drop warning, got %d", logs.Len())
	}
}

func TestStoreRecorderLogsWriteErrors(t *testing.T) {
	writer := &memoryWriter{err: errors.New("connection reset")}
	core, logs := observer.New(zapcore.WarnLevel)
	rec := NewStoreRecorder(writer, zap.New(core), 4)

	rec.Record(context.Background(), event(models.DiagnosticApplicationRejected))
	rec.Close()

	if logs.FilterMessage("failed to store diagnostic event").Len() != 1 {
		t.Fatalf("expected write failure to be logged")
	}
}

func TestLogRecorderLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rec := NewLogRecorder(zap.New(core))

	rec.Record(context.Background(), event(models.DiagnosticSampleDropped))
	rec.Record(context.Background(), event(models.DiagnosticAuthRejected))
	rec.Record(context.Background(), event(models.DiagnosticAcquisitionFailed))

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []zapcore.Level{zapcore.DebugLevel, zapcore.WarnLevel, zapcore.InfoLevel}
	for i, entry := range entries {
		if entry.Level != want[i] {
			t.Fatalf("entry %d: level %s, want %s", i, entry.Level, want[i])
		}
		if entry.ContextMap()["reason"] != "test" {
			t.Fatalf("entry %d: missing reason field", i)
		}
	}
}

func TestMultiFansOut(t *testing.T) {
	a, b := &memoryWriter{}, &memoryWriter{}
	ra := NewStoreRecorder(a, nil, 4)
	rb := NewStoreRecorder(b, nil, 4)

	Multi{ra, nil, Nop{}, rb}.Record(context.Background(), event(models.DiagnosticTransportFailure))
	ra.Close()
	rb.Close()

	if len(a.stored()) != 1 || len(b.stored()) != 1 {
		t.Fatalf("expected both recorders to receive the event")
	}
}
