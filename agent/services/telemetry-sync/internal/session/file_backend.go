package session

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// FileBackend keeps the session as one JSON document on disk. Writes go to a temp
// file that is renamed over the target, so a crash leaves either the old or the new
// document. With a key configured the document is sealed with XChaCha20-Poly1305.
type FileBackend struct {
	path string
	aead cipher.AEAD
}

type fileDocument struct {
	User      json.RawMessage `json:"user"`
	Token     string          `json:"token"`
	LoginTime string          `json:"loginTime"`
	UserType  string          `json:"userType,omitempty"`
}

// NewFileBackend returns a backend writing to path. key may be nil (plain JSON) or
// exactly chacha20poly1305.KeySize bytes.
func NewFileBackend(path string, key []byte) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("session: file path is empty")
	}
	b := &FileBackend{path: path}
	if len(key) > 0 {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("session: init cipher: %w", err)
		}
		b.aead = aead
	}
	return b, nil
}

// Path returns the document location.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Load(_ context.Context) (models.Session, error) {
	blob, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Session{}, ErrNoSession
		}
		return models.Session{}, err
	}

	plain, err := b.open(blob)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", ErrIncomplete, err)
	}

	var doc fileDocument
	if err := json.Unmarshal(plain, &doc); err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	return decodeFields(doc.User, doc.Token, doc.LoginTime, doc.UserType)
}

func (b *FileBackend) Save(_ context.Context, session models.Session) error {
	doc := fileDocument{
		User:      session.Identity,
		Token:     session.Token,
		LoginTime: encodeTime(session.IssuedAt),
		UserType:  string(session.UserType),
	}
	plain, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	blob, err := b.seal(plain)
	if err != nil {
		return err
	}
	return writeFileAtomic(b.path, blob)
}

func (b *FileBackend) Delete(_ context.Context) error {
	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (b *FileBackend) seal(plain []byte) ([]byte, error) {
	if b.aead == nil {
		return plain, nil
	}
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plain)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return b.aead.Seal(nonce, nonce, plain, []byte(keyToken)), nil
}

func (b *FileBackend) open(blob []byte) ([]byte, error) {
	if b.aead == nil {
		return blob, nil
	}
	if len(blob) < b.aead.NonceSize() {
		return nil, errors.New("sealed document too short")
	}
	nonce, ciphertext := blob[:b.aead.NonceSize()], blob[b.aead.NonceSize():]
	return b.aead.Open(nil, nonce, ciphertext, []byte(keyToken))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
