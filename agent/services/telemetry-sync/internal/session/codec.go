package session

import (
	"encoding/json"
	"fmt"
	"time"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// decodeFields rebuilds a session from its persisted fields. A missing user, token or
// loginTime means the record is partial. userType is optional for records written
// before it was persisted.
func decodeFields(user json.RawMessage, token, loginTime, userType string) (models.Session, error) {
	if len(user) == 0 || token == "" || loginTime == "" {
		return models.Session{}, ErrIncomplete
	}
	if !json.Valid(user) {
		return models.Session{}, fmt.Errorf("%w: identity is not valid JSON", ErrIncomplete)
	}
	issuedAt, err := time.Parse(time.RFC3339Nano, loginTime)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	session := models.Session{
		Identity: user,
		Token:    token,
		IssuedAt: issuedAt,
	}
	if userType != "" {
		ut, err := models.ParseUserType(userType)
		if err != nil {
			return models.Session{}, fmt.Errorf("%w: %v", ErrIncomplete, err)
		}
		session.UserType = ut
	}
	return session, nil
}
