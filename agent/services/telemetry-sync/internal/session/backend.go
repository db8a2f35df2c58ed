package session

import (
	"context"
	"errors"
	"sync"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// Stable keys shared by every backend. They match the keys the web client kept in localStorage.
const (
	keyUser      = "user"
	keyToken     = "token"
	keyLoginTime = "loginTime"
	keyUserType  = "userType"
)

var (
	// ErrNoSession is returned by a Backend that holds no session.
	ErrNoSession = errors.New("session: not found")
	// ErrIncomplete is returned when persisted state is partial or undecodable.
	ErrIncomplete = errors.New("session: persisted state is incomplete")
)

// Backend persists a single session. Implementations must make Save and Delete
// all-or-nothing from the point of view of a later Load.
type Backend interface {
	Load(ctx context.Context) (models.Session, error)
	Save(ctx context.Context, session models.Session) error
	Delete(ctx context.Context) error
}

// MemoryBackend keeps the session in process memory only.
type MemoryBackend struct {
	mu      sync.Mutex
	session *models.Session
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load(_ context.Context) (models.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return models.Session{}, ErrNoSession
	}
	return *b.session, nil
}

func (b *MemoryBackend) Save(_ context.Context, session models.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = &session
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = nil
	return nil
}
