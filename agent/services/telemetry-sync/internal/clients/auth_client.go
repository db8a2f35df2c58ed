package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// AuthClient performs the login exchange.
type AuthClient struct {
	base    *BaseClient
	markers AuthMarkers
	logger  *zap.Logger
}

// LoginResponse is the accepted login exchange.
type LoginResponse struct {
	Identity json.RawMessage
	Token    string
}

// NewAuthClient returns client.
func NewAuthClient(base *BaseClient, markers AuthMarkers, logger *zap.Logger) *AuthClient {
	if markers == nil {
		markers = DefaultAuthMarkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthClient{base: base, markers: markers, logger: logger}
}

// Login posts the credentials as a form to /api/{userType}/login. The identity is read
// from "user", falling back to the key named after the user type ("agent", "driver").
func (c *AuthClient) Login(ctx context.Context, userType models.UserType, username, password string) (LoginResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	path := fmt.Sprintf("/api/%s/login", url.PathEscape(userType.String()))
	status, body, err := c.base.PostForm(ctx, path, nil, form)
	if err != nil {
		c.logger.Warn("login request failed", zap.String("user_type", userType.String()), zap.Error(err))
		return LoginResponse{}, transportError(err)
	}

	env, err := interpret(status, body, c.markers)
	if err != nil {
		var rej *models.RejectionError
		if errors.As(err, &rej) {
			// Bad credentials are a domain failure at login time, whatever the wording.
			return LoginResponse{}, models.NewRejection(models.ErrApplicationRejected, rej.Reason)
		}
		return LoginResponse{}, err
	}

	var token string
	if raw, ok := env.Fields["token"]; ok {
		if err := json.Unmarshal(raw, &token); err != nil {
			return LoginResponse{}, fmt.Errorf("%w: token is not a string", models.ErrTransportFailure)
		}
	}
	if token == "" {
		return LoginResponse{}, fmt.Errorf("%w: login succeeded without a token", models.ErrTransportFailure)
	}

	identity := env.Fields["user"]
	if len(identity) == 0 || string(identity) == "null" {
		identity = env.Fields[userType.String()]
	}
	if len(identity) == 0 || string(identity) == "null" {
		identity = json.RawMessage("{}")
	}
	return LoginResponse{Identity: identity, Token: token}, nil
}
