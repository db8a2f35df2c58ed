package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fieldagent/agent/services/telemetry-sync/internal/clients"
	"fieldagent/agent/services/telemetry-sync/internal/diagnostics"
	"fieldagent/agent/services/telemetry-sync/internal/models"
	"fieldagent/agent/services/telemetry-sync/internal/power"
)

// DefaultAttemptTimeout bounds one background submission.
const DefaultAttemptTimeout = 15 * time.Second

// ErrSubmissionInFlight is returned by Submit while another submission is outstanding.
var ErrSubmissionInFlight = errors.New("service: submission already in flight")

// Outcome of a single submission attempt.
type Outcome int

const (
	OutcomeAccepted Outcome = iota + 1
	OutcomeRejected
	OutcomeTransportFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// SessionReader is the part of the session store the submitter needs.
type SessionReader interface {
	Current() (models.Session, bool)
	ClearIfToken(ctx context.Context, token string) (bool, error)
}

// LocationSender delivers one payload to the ingest endpoint.
type LocationSender interface {
	SendLocation(ctx context.Context, payload models.TelemetryPayload) (clients.IngestReceipt, error)
}

// Stats is a snapshot of submitter counters.
type Stats struct {
	Attempted         int64 `json:"attempted"`
	Accepted          int64 `json:"accepted"`
	Rejected          int64 `json:"rejected"`
	AuthRejected      int64 `json:"auth_rejected"`
	TransportFailures int64 `json:"transport_failures"`
	Dropped           int64 `json:"dropped"`
	Suppressed        int64 `json:"suppressed"`
	AcquisitionErrors int64 `json:"acquisition_errors"`
}

// SubmitterConfig wires the submitter collaborators.
type SubmitterConfig struct {
	Sessions       SessionReader
	Power          power.Source
	Sender         LocationSender
	Recorder       diagnostics.Recorder
	Logger         *zap.Logger
	UserType       models.UserType
	DeviceID       string
	AttemptTimeout time.Duration
}

// Submitter joins position samples with a power reading and the session token and
// delivers them one at a time. Samples arriving while a submission is outstanding are
// dropped; the next sample supersedes them.
type Submitter struct {
	sessions SessionReader
	power    power.Source
	sender   LocationSender
	recorder diagnostics.Recorder
	logger   *zap.Logger
	userType models.UserType
	deviceID string
	timeout  time.Duration
	now      func() time.Time

	submitting atomic.Bool
	inflight   sync.WaitGroup

	attempted         atomic.Int64
	accepted          atomic.Int64
	rejected          atomic.Int64
	authRejected      atomic.Int64
	transportFailures atomic.Int64
	dropped           atomic.Int64
	suppressed        atomic.Int64
	acquisitionErrors atomic.Int64
}

// NewSubmitter builds submitter.
func NewSubmitter(cfg SubmitterConfig) *Submitter {
	s := &Submitter{
		sessions: cfg.Sessions,
		power:    cfg.Power,
		sender:   cfg.Sender,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		userType: cfg.UserType,
		deviceID: cfg.DeviceID,
		timeout:  cfg.AttemptTimeout,
		now:      time.Now,
	}
	if s.power == nil {
		s.power = power.Fixed(models.DefaultPowerLevel)
	}
	if s.recorder == nil {
		s.recorder = diagnostics.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.userType == "" {
		s.userType = models.UserTypeAgent
	}
	if s.timeout <= 0 {
		s.timeout = DefaultAttemptTimeout
	}
	return s
}

// HandleSample is the tracker's sample callback. It never blocks on the network.
func (s *Submitter) HandleSample(sample models.PositionSample) {
	session, ok := s.sessions.Current()
	if !ok {
		s.suppressed.Add(1)
		s.logger.Debug("no active session, sample suppressed")
		return
	}

	if !s.submitting.CompareAndSwap(false, true) {
		s.dropped.Add(1)
		s.logger.Debug("submission in flight, sample dropped")
		s.record(context.Background(), s.userTypeOf(session), models.DiagnosticSampleDropped, "submission in flight")
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.submitting.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.submit(ctx, sample, session)
	}()
}

// HandleFailure is the tracker's failure callback. Tracking continues regardless.
func (s *Submitter) HandleFailure(err error) {
	s.acquisitionErrors.Add(1)
	s.logger.Warn("position acquisition failed", zap.Error(err))
	s.record(context.Background(), s.userType, models.DiagnosticAcquisitionFailed, err.Error())
}

// Submit issues exactly one ingest request for sample under session. It returns
// ErrSubmissionInFlight without a request when another submission is outstanding.
func (s *Submitter) Submit(ctx context.Context, sample models.PositionSample, session models.Session) (Outcome, error) {
	if !session.Valid() {
		return 0, fmt.Errorf("%w: session is not active", models.ErrInvalidInput)
	}
	if !s.submitting.CompareAndSwap(false, true) {
		return 0, ErrSubmissionInFlight
	}
	s.inflight.Add(1)
	defer s.inflight.Done()
	defer s.submitting.Store(false)

	return s.submit(ctx, sample, session)
}

// Submitting reports whether a submission is outstanding.
func (s *Submitter) Submitting() bool {
	return s.submitting.Load()
}

// Wait blocks until the outstanding submission, if any, has finished.
func (s *Submitter) Wait() {
	s.inflight.Wait()
}

// Stats returns a snapshot of the counters.
func (s *Submitter) Stats() Stats {
	return Stats{
		Attempted:         s.attempted.Load(),
		Accepted:          s.accepted.Load(),
		Rejected:          s.rejected.Load(),
		AuthRejected:      s.authRejected.Load(),
		TransportFailures: s.transportFailures.Load(),
		Dropped:           s.dropped.Load(),
		Suppressed:        s.suppressed.Load(),
		AcquisitionErrors: s.acquisitionErrors.Load(),
	}
}

func (s *Submitter) submit(ctx context.Context, sample models.PositionSample, session models.Session) (Outcome, error) {
	reading := s.power.Sample(ctx)
	userType := s.userTypeOf(session)
	payload := models.NewTelemetryPayload(sample, reading, session, userType)

	s.attempted.Add(1)
	started := s.now()
	receipt, err := s.sender.SendLocation(ctx, payload)
	elapsed := s.now().Sub(started)

	switch {
	case err == nil:
		s.accepted.Add(1)
		s.logger.Debug("location accepted",
			zap.Int64("location_id", receipt.LocationID),
			zap.Int("battery", reading.LevelPercent),
			zap.Duration("elapsed", elapsed),
		)
		return OutcomeAccepted, nil

	case errors.Is(err, models.ErrAuthRejected):
		s.rejected.Add(1)
		s.authRejected.Add(1)
		s.logger.Warn("session rejected by server, clearing",
			zap.String("token", models.TokenPrefix(session.Token)),
			zap.String("reason", models.Reason(err)),
		)
		// A newer session saved while this request was in flight is left alone.
		if _, clearErr := s.sessions.ClearIfToken(ctx, session.Token); clearErr != nil {
			s.logger.Error("failed to clear rejected session", zap.Error(clearErr))
		}
		s.record(ctx, userType, models.DiagnosticAuthRejected, models.Reason(err))
		return OutcomeRejected, err

	case errors.Is(err, models.ErrApplicationRejected):
		s.rejected.Add(1)
		s.logger.Warn("location rejected", zap.String("reason", models.Reason(err)))
		s.record(ctx, userType, models.DiagnosticApplicationRejected, models.Reason(err))
		return OutcomeRejected, err

	default:
		s.transportFailures.Add(1)
		s.logger.Info("location dropped after transport failure", zap.Error(err), zap.Duration("elapsed", elapsed))
		s.record(ctx, userType, models.DiagnosticTransportFailure, err.Error())
		if !errors.Is(err, models.ErrTransportFailure) {
			err = fmt.Errorf("%w: %v", models.ErrTransportFailure, err)
		}
		return OutcomeTransportFailure, err
	}
}

// userTypeOf picks the namespace the session's token was issued for. Sessions
// restored from records that predate the userType field use the configured one.
func (s *Submitter) userTypeOf(session models.Session) models.UserType {
	if session.UserType != "" {
		return session.UserType
	}
	return s.userType
}

func (s *Submitter) record(ctx context.Context, userType models.UserType, kind models.DiagnosticKind, reason string) {
	s.recorder.Record(ctx, models.DiagnosticEvent{
		Kind:       kind,
		Reason:     reason,
		UserType:   userType,
		DeviceID:   s.deviceID,
		OccurredAt: s.now().UTC(),
	})
}
