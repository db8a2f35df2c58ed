package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"fieldagent/agent/services/telemetry-sync/internal/clients"
	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// LoginClient performs the login exchange.
type LoginClient interface {
	Login(ctx context.Context, userType models.UserType, username, password string) (clients.LoginResponse, error)
}

// SessionClearer drops the stored session.
type SessionClearer interface {
	Clear(ctx context.Context) error
}

// LoginResult is a successful login. The caller decides whether to persist it.
type LoginResult struct {
	UserType models.UserType
	Identity json.RawMessage
	Token    string
}

// AuthGateway validates credentials locally and performs the login exchange.
type AuthGateway struct {
	client   LoginClient
	sessions SessionClearer
	logger   *zap.Logger
}

// NewAuthGateway builds gateway.
func NewAuthGateway(client LoginClient, sessions SessionClearer, logger *zap.Logger) *AuthGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthGateway{client: client, sessions: sessions, logger: logger}
}

// Login performs one login exchange. Empty username or password fails with
// ErrInvalidInput before any request is made. Failures are never retried.
func (g *AuthGateway) Login(ctx context.Context, creds models.Credentials) (LoginResult, error) {
	username := strings.TrimSpace(creds.Username)
	if username == "" || creds.Password == "" {
		return LoginResult{}, fmt.Errorf("%w: username and password are required", models.ErrInvalidInput)
	}
	userType, err := models.ParseUserType(string(creds.UserType))
	if err != nil {
		return LoginResult{}, err
	}

	resp, err := g.client.Login(ctx, userType, username, creds.Password)
	if err != nil {
		g.logger.Warn("login failed",
			zap.String("user_type", userType.String()),
			zap.String("reason", models.Reason(err)),
			zap.Error(err),
		)
		return LoginResult{}, err
	}

	g.logger.Info("login succeeded",
		zap.String("user_type", userType.String()),
		zap.String("token", models.TokenPrefix(resp.Token)),
	)
	return LoginResult{UserType: userType, Identity: resp.Identity, Token: resp.Token}, nil
}

// Logout clears the stored session. Calling it without a session is not an error.
func (g *AuthGateway) Logout(ctx context.Context) error {
	if g.sessions == nil {
		return nil
	}
	if err := g.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	g.logger.Info("logged out")
	return nil
}
