package models

import (
	"encoding/json"
	"strings"
	"time"
)

// UserType selects the server role namespace (/api/{userType}/...).
type UserType string

const (
	UserTypeAgent   UserType = "agent"
	UserTypeDriver  UserType = "driver"
	UserTypePartner UserType = "partner"
)

// ParseUserType validates a raw user type.
func ParseUserType(raw string) (UserType, error) {
	switch ut := UserType(strings.ToLower(strings.TrimSpace(raw))); ut {
	case UserTypeAgent, UserTypeDriver, UserTypePartner:
		return ut, nil
	default:
		return "", NewRejection(ErrInvalidInput, "unknown user type "+raw)
	}
}

func (u UserType) String() string {
	return string(u)
}

// Credentials is transient login input. It is never persisted.
type Credentials struct {
	UserType UserType
	Username string
	Password string
}

// Session is the authenticated identity plus bearer token. UserType is the role the
// token was issued for and selects the /api/{userType}/ namespace for submissions.
type Session struct {
	Identity json.RawMessage `json:"user"`
	Token    string          `json:"token"`
	IssuedAt time.Time       `json:"loginTime"`
	UserType UserType        `json:"userType,omitempty"`
}

// Valid reports whether every field required for a usable session is populated.
func (s Session) Valid() bool {
	return s.Token != "" && !s.IssuedAt.IsZero()
}

// TokenPrefix returns a log-safe prefix of the token.
func TokenPrefix(token string) string {
	const keep = 8
	if len(token) <= keep {
		return strings.Repeat("*", len(token))
	}
	return token[:keep] + "..."
}
