package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// Store owns the current session. Writers are serialized and the cached session is
// swapped under a lock, so readers see either the old or the new session, never a mix.
type Store struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	writeMu sync.Mutex
	mu      sync.RWMutex
	current *models.Session
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for IssuedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns a store backed by backend. Call Restore to pick up a persisted session.
func NewStore(backend Backend, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads the persisted session. Incomplete state is wiped and treated as absent.
func (s *Store) Restore(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	session, err := s.backend.Load(ctx)
	switch {
	case errors.Is(err, ErrNoSession):
		s.swap(nil)
		return nil
	case errors.Is(err, ErrIncomplete) || (err == nil && !session.Valid()):
		s.logger.Warn("discarding incomplete persisted session", zap.Error(err))
		s.swap(nil)
		if delErr := s.backend.Delete(ctx); delErr != nil {
			return fmt.Errorf("session: wipe incomplete state: %w", delErr)
		}
		return nil
	case err != nil:
		return fmt.Errorf("session: restore: %w", err)
	}

	s.swap(&session)
	s.logger.Info("session restored",
		zap.Time("issued_at", session.IssuedAt),
		zap.String("token", models.TokenPrefix(session.Token)),
	)
	return nil
}

// Save persists identity and token issued for userType with the current time,
// replacing any prior session.
func (s *Store) Save(ctx context.Context, userType models.UserType, identity json.RawMessage, token string) (models.Session, error) {
	userType, err := models.ParseUserType(string(userType))
	if err != nil {
		return models.Session{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Session{}, models.NewRejection(models.ErrInvalidInput, "token is empty")
	}
	if len(identity) == 0 {
		identity = json.RawMessage("{}")
	}
	if !json.Valid(identity) {
		return models.Session{}, models.NewRejection(models.ErrInvalidInput, "identity is not valid JSON")
	}

	session := models.Session{
		Identity: append(json.RawMessage(nil), identity...),
		Token:    token,
		IssuedAt: s.now().UTC(),
		UserType: userType,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.backend.Save(ctx, session); err != nil {
		return models.Session{}, fmt.Errorf("session: save: %w", err)
	}
	s.swap(&session)
	return session, nil
}

// Current returns the session, or false when none exists.
func (s *Store) Current() (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.Session{}, false
	}
	return *s.current, true
}

// IsActive reports whether a session is present. The server is authoritative on expiry.
func (s *Store) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// Clear removes the session. It is idempotent; the in-memory session is dropped even
// if the backend delete fails.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.swap(nil)
	if err := s.backend.Delete(ctx); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

// ClearIfToken clears the session only if it still carries token. A rejection that
// arrives after a fresh login must not wipe the new session.
func (s *Store) ClearIfToken(ctx context.Context, token string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	matches := s.current != nil && s.current.Token == token
	s.mu.RUnlock()
	if !matches {
		return false, nil
	}

	s.swap(nil)
	if err := s.backend.Delete(ctx); err != nil {
		return true, fmt.Errorf("session: clear: %w", err)
	}
	return true, nil
}

func (s *Store) swap(session *models.Session) {
	s.mu.Lock()
	s.current = session
	s.mu.Unlock()
}
