package clients

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// DefaultAuthMarkers are substrings of server error messages that mean the token
// is invalid or expired. "Token talab qilinadi" is the server's "token required".
var DefaultAuthMarkers = AuthMarkers{
	"invalid token",
	"token expired",
	"token talab qilinadi",
	"unauthorized",
}

// AuthMarkers classifies application-level failures as authentication rejections.
type AuthMarkers []string

// Matches reports whether reason contains any marker, case-insensitively.
func (m AuthMarkers) Matches(reason string) bool {
	reason = strings.ToLower(reason)
	for _, marker := range m {
		marker = strings.ToLower(strings.TrimSpace(marker))
		if marker != "" && strings.Contains(reason, marker) {
			return true
		}
	}
	return false
}

// envelope is the {success, error, ...} wrapper every field endpoint returns.
type envelope struct {
	Success *bool                      `json:"success"`
	Error   string                     `json:"error"`
	Fields  map[string]json.RawMessage `json:"-"`
}

// interpret turns an HTTP exchange into the decoded envelope or a classified error:
// 401/403 and auth-marker reasons are ErrAuthRejected, other success:false replies
// are ErrApplicationRejected, and 5xx or undecodable bodies are ErrTransportFailure.
func interpret(status int, body []byte, markers AuthMarkers) (envelope, error) {
	var env envelope
	decodeErr := json.Unmarshal(body, &env.Fields)
	if decodeErr == nil {
		decodeErr = json.Unmarshal(body, &env)
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		reason := env.Error
		if reason == "" {
			reason = http.StatusText(status)
		}
		return env, models.NewRejection(models.ErrAuthRejected, reason)
	}
	if status >= http.StatusInternalServerError {
		return env, fmt.Errorf("%w: server returned %d", models.ErrTransportFailure, status)
	}
	if decodeErr != nil || env.Success == nil {
		return env, fmt.Errorf("%w: malformed response (status %d)", models.ErrTransportFailure, status)
	}
	if *env.Success {
		return env, nil
	}

	reason := env.Error
	if markers.Matches(reason) {
		return env, models.NewRejection(models.ErrAuthRejected, reason)
	}
	return env, models.NewRejection(models.ErrApplicationRejected, reason)
}

func transportError(err error) error {
	return fmt.Errorf("%w: %v", models.ErrTransportFailure, err)
}
