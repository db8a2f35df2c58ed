package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"fieldagent/agent/services/telemetry-sync/internal/clients"
	"fieldagent/agent/services/telemetry-sync/internal/models"
	"fieldagent/agent/services/telemetry-sync/internal/service"
)

// StatusWindow is how far back /status counts recorded diagnostics.
const StatusWindow = time.Hour

// Controller is the slice of the application the control surface drives.
type Controller interface {
	Login(ctx context.Context, creds models.Credentials) (models.Session, error)
	Logout(ctx context.Context) error
	Session() (models.Session, bool)
	Snapshot(ctx context.Context) (models.PositionSample, error)
	Stats() service.Stats
	DeviceID() string
	LastFix() (models.PositionSample, bool)
	// DiagnosticCounts returns nil when no diagnostics store is configured.
	DiagnosticCounts(ctx context.Context, since time.Time) (map[models.DiagnosticKind]int64, error)

	Partners(ctx context.Context) ([]clients.Partner, error)
	Orders(ctx context.Context) ([]json.RawMessage, error)
	Visits(ctx context.Context) ([]json.RawMessage, error)
}

// NewHealthHandler returns GET /health handler.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// NewStatusHandler handles GET /status.
func NewStatusHandler(ctrl Controller) http.HandlerFunc {
	type sessionView struct {
		UserType models.UserType `json:"userType,omitempty"`
		Token    string          `json:"token"`
		IssuedAt time.Time       `json:"loginTime"`
	}
	type response struct {
		DeviceID         string                          `json:"device_id"`
		Active           bool                            `json:"session_active"`
		Session          *sessionView                    `json:"session,omitempty"`
		LastFix          *models.PositionSample          `json:"last_fix,omitempty"`
		Stats            service.Stats                   `json:"stats"`
		Diagnostics      map[models.DiagnosticKind]int64 `json:"diagnostics,omitempty"`
		DiagnosticsError string                          `json:"diagnostics_error,omitempty"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{DeviceID: ctrl.DeviceID(), Stats: ctrl.Stats()}
		if sess, ok := ctrl.Session(); ok {
			resp.Active = true
			resp.Session = &sessionView{UserType: sess.UserType, Token: models.TokenPrefix(sess.Token), IssuedAt: sess.IssuedAt}
		}
		if fix, ok := ctrl.LastFix(); ok {
			resp.LastFix = &fix
		}
		counts, err := ctrl.DiagnosticCounts(r.Context(), time.Now().Add(-StatusWindow))
		if err != nil {
			resp.DiagnosticsError = "diagnostics store unavailable"
		} else {
			resp.Diagnostics = counts
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// NewLoginHandler handles POST /session/login.
func NewLoginHandler(ctrl Controller, defaultType models.UserType) http.HandlerFunc {
	type request struct {
		UserType string `json:"userType"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	type response struct {
		Success   bool            `json:"success"`
		User      json.RawMessage `json:"user"`
		LoginTime time.Time       `json:"loginTime"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		userType := models.UserType(strings.TrimSpace(req.UserType))
		if userType == "" {
			userType = defaultType
		}

		sess, err := ctrl.Login(r.Context(), models.Credentials{
			UserType: userType,
			Username: req.Username,
			Password: req.Password,
		})
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response{Success: true, User: sess.Identity, LoginTime: sess.IssuedAt})
	}
}

// NewLogoutHandler handles POST /session/logout.
func NewLogoutHandler(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ctrl.Logout(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to logout")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// NewPositionHandler handles GET /position with a fresh one-shot fix.
func NewPositionHandler(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sample, err := ctrl.Snapshot(r.Context())
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sample)
	}
}

// NewPartnersHandler handles GET /partners.
func NewPartnersHandler(ctrl Controller) http.HandlerFunc {
	return newListHandler(ctrl, "partners", func(ctx context.Context) (any, error) {
		return ctrl.Partners(ctx)
	})
}

// NewOrdersHandler handles GET /orders.
func NewOrdersHandler(ctrl Controller) http.HandlerFunc {
	return newListHandler(ctrl, "orders", func(ctx context.Context) (any, error) {
		return ctrl.Orders(ctx)
	})
}

// NewVisitsHandler handles GET /visits.
func NewVisitsHandler(ctrl Controller) http.HandlerFunc {
	return newListHandler(ctrl, "visits", func(ctx context.Context) (any, error) {
		return ctrl.Visits(ctx)
	})
}

// newListHandler relays one field-service listing under the stored session. A
// rejected token clears the session in the controller and surfaces as 401.
func newListHandler(ctrl Controller, field string, list func(ctx context.Context) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ctrl.Session(); !ok {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}
		items, err := list(r.Context())
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, field: items})
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrApplicationRejected), errors.Is(err, models.ErrAuthRejected):
		reason := models.Reason(err)
		if reason == "" {
			reason = "rejected"
		}
		writeError(w, http.StatusUnauthorized, reason)
	case errors.Is(err, models.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "position permission denied")
	case errors.Is(err, models.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timed out")
	case errors.Is(err, models.ErrSourceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "position source unavailable")
	case errors.Is(err, models.ErrTransportFailure):
		writeError(w, http.StatusBadGateway, "field service unreachable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
