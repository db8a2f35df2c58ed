package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Routes aggregates handlers for the control server.
type Routes struct {
	Health   http.HandlerFunc
	Status   http.HandlerFunc
	Login    http.HandlerFunc
	Logout   http.HandlerFunc
	Position http.HandlerFunc
	Partners http.HandlerFunc
	Orders   http.HandlerFunc
	Visits   http.HandlerFunc
}

// NewRouter wires all HTTP routes. When token is set every route except /health
// requires "Authorization: Bearer <token>".
func NewRouter(routes Routes, token string) http.Handler {
	mux := http.NewServeMux()
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	protect := bearer(token)
	if routes.Status != nil {
		mux.Handle("/status", protect(method(http.MethodGet, routes.Status)))
	}
	if routes.Login != nil {
		mux.Handle("/session/login", protect(method(http.MethodPost, routes.Login)))
	}
	if routes.Logout != nil {
		mux.Handle("/session/logout", protect(method(http.MethodPost, routes.Logout)))
	}
	if routes.Position != nil {
		mux.Handle("/position", protect(method(http.MethodGet, routes.Position)))
	}
	if routes.Partners != nil {
		mux.Handle("/partners", protect(method(http.MethodGet, routes.Partners)))
	}
	if routes.Orders != nil {
		mux.Handle("/orders", protect(method(http.MethodGet, routes.Orders)))
	}
	if routes.Visits != nil {
		mux.Handle("/visits", protect(method(http.MethodGet, routes.Visits)))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}

func bearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(token)) != 1 {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
