package position

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// ErrAlreadyTracking is returned by Start while a subscription is running.
var ErrAlreadyTracking = errors.New("position: already tracking")

// Tracker turns a Locator into a continuous, restartable sequence of samples.
// Callbacks run on a single goroutine, one at a time. They must not call Start or Stop.
type Tracker struct {
	locator Locator
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	lastMu sync.RWMutex
	last   *models.PositionSample
}

// NewTracker wraps locator.
func NewTracker(locator Locator, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{locator: locator, logger: logger}
}

// Start begins tracking. A failed cycle is reported through onFailure with a
// classified cause and the next cycle still runs.
func (t *Tracker) Start(onSample func(models.PositionSample), onFailure func(error), policy Policy) error {
	if err := policy.ValidateTracking(); err != nil {
		return err
	}
	if onSample == nil {
		onSample = func(models.PositionSample) {}
	}
	if onFailure == nil {
		onFailure = func(error) {}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return ErrAlreadyTracking
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go t.run(ctx, done, onSample, onFailure, policy)
	t.logger.Info("position tracking started",
		zap.Bool("high_accuracy", policy.HighAccuracy),
		zap.Duration("timeout", policy.Timeout),
		zap.Duration("max_staleness", policy.MaxStaleness),
		zap.Duration("interval", policy.Interval),
	)
	return nil
}

// Stop cancels tracking and waits for the running cycle to unwind. Once it returns
// no callback fires. Safe to call repeatedly or when not tracking.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil
	t.logger.Info("position tracking stopped")
}

// Tracking reports whether a subscription is running.
func (t *Tracker) Tracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done != nil
}

// Snapshot performs a single acquisition outside the continuous stream.
func (t *Tracker) Snapshot(ctx context.Context, policy Policy) (models.PositionSample, error) {
	if err := policy.Validate(); err != nil {
		return models.PositionSample{}, err
	}
	sample, err := t.acquire(ctx, policy)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.PositionSample{}, ctxErr
		}
		return models.PositionSample{}, err
	}
	return sample, nil
}

// LastSample returns the most recent fix delivered by any acquisition.
func (t *Tracker) LastSample() (models.PositionSample, bool) {
	t.lastMu.RLock()
	defer t.lastMu.RUnlock()
	if t.last == nil {
		return models.PositionSample{}, false
	}
	return *t.last, true
}

func (t *Tracker) run(ctx context.Context, done chan struct{}, onSample func(models.PositionSample), onFailure func(error), policy Policy) {
	defer close(done)

	for {
		sample, err := t.acquire(ctx, policy)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			t.logger.Warn("position acquisition failed", zap.Error(err))
			onFailure(err)
		} else {
			onSample(sample)
		}

		timer := time.NewTimer(policy.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (t *Tracker) acquire(ctx context.Context, policy Policy) (models.PositionSample, error) {
	cycleCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	sample, err := t.locator.Locate(cycleCtx, policy)
	if err != nil {
		return models.PositionSample{}, Classify(err)
	}
	if err := validateSample(sample); err != nil {
		return models.PositionSample{}, err
	}
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = time.Now().UTC()
	}

	t.lastMu.Lock()
	t.last = &sample
	t.lastMu.Unlock()
	return sample, nil
}
