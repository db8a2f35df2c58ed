package session

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateDeviceID returns the installation id stored at path, generating and
// persisting a new one on first use.
func LoadOrCreateDeviceID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("session: read device id: %w", err)
	}

	id := uuid.NewString()
	if err := writeFileAtomic(path, []byte(id+"\n")); err != nil {
		return "", fmt.Errorf("session: write device id: %w", err)
	}
	return id, nil
}
