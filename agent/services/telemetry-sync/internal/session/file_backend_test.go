package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func sampleSession() models.Session {
	return models.Session{
		Identity: json.RawMessage(`{"id":3,"full_name":"Test Agent"}`),
		Token:    "abc123",
		IssuedAt: fixedNow,
		UserType: models.UserTypeDriver,
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		key  []byte
	}{
		{name: "plain"},
		{name: "sealed", key: testKey(7)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state", "session.json")
			backend, err := NewFileBackend(path, tc.key)
			if err != nil {
				t.Fatalf("new backend: %v", err)
			}
			ctx := context.Background()

			if _, err := backend.Load(ctx); !errors.Is(err, ErrNoSession) {
				t.Fatalf("expected ErrNoSession, got %v", err)
			}
			if err := backend.Save(ctx, sampleSession()); err != nil {
				t.Fatalf("save: %v", err)
			}
			loaded, err := backend.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if loaded.Token != "abc123" || !loaded.IssuedAt.Equal(fixedNow) || loaded.UserType != models.UserTypeDriver {
				t.Fatalf("unexpected session %+v", loaded)
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read file: %v", err)
			}
			if sealed := !bytes.Contains(raw, []byte("abc123")); sealed != (tc.key != nil) {
				t.Fatalf("sealed=%v but key configured=%v", sealed, tc.key != nil)
			}

			if err := backend.Delete(ctx); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := backend.Delete(ctx); err != nil {
				t.Fatalf("second delete: %v", err)
			}
		})
	}
}

func TestFileBackendWrongKeyIsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	writer, err := NewFileBackend(path, testKey(1))
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if err := writer.Save(context.Background(), sampleSession()); err != nil {
		t.Fatalf("save: %v", err)
	}

	reader, err := NewFileBackend(path, testKey(2))
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if _, err := reader.Load(context.Background()); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestFileBackendRejectsBadKey(t *testing.T) {
	if _, err := NewFileBackend("session.json", []byte("short")); err == nil {
		t.Fatalf("expected error for short key")
	}
	if _, err := NewFileBackend("", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestFileBackendPartialDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte(`{"token":"abc"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	backend, err := NewFileBackend(path, nil)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if _, err := backend.Load(context.Background()); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}

	store := newTestStore(backend)
	if err := store.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected partial document to be removed, stat err=%v", err)
	}
}

func TestFileBackendUserType(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name    string
		doc     string
		want    models.UserType
		wantErr error
	}{
		{
			name: "legacy record without user type",
			doc:  `{"user":{"id":1},"token":"abc","loginTime":"2024-05-01T10:00:00Z"}`,
		},
		{
			name: "driver",
			doc:  `{"user":{"id":1},"token":"abc","loginTime":"2024-05-01T10:00:00Z","userType":"driver"}`,
			want: models.UserTypeDriver,
		},
		{
			name:    "unknown user type",
			doc:     `{"user":{"id":1},"token":"abc","loginTime":"2024-05-01T10:00:00Z","userType":"admin"}`,
			wantErr: ErrIncomplete,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "session.json")
			if err := os.WriteFile(path, []byte(tc.doc), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			backend, err := NewFileBackend(path, nil)
			if err != nil {
				t.Fatalf("new backend: %v", err)
			}
			loaded, err := backend.Load(ctx)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if loaded.UserType != tc.want {
				t.Fatalf("expected user type %q, got %q", tc.want, loaded.UserType)
			}
		})
	}
}
