package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"fieldagent/agent/services/telemetry-sync/internal/config"
	"fieldagent/agent/services/telemetry-sync/internal/models"
	"fieldagent/agent/services/telemetry-sync/internal/repository"
)

// fieldService is a minimal stand-in for the field API.
type fieldService struct {
	mu            sync.Mutex
	logins        int
	locations     []url.Values
	locationPaths []string
	deviceIDs     map[string]bool
	rejectWith    string
}

func (f *fieldService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deviceIDs == nil {
		f.deviceIDs = map[string]bool{}
	}
	f.deviceIDs[r.Header.Get("X-Device-ID")] = true

	w.Header().Set("Content-Type", "application/json")
	userType, endpoint, ok := splitFieldPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch endpoint {
	case "login":
		f.logins++
		token := "abc123"
		if userType != "agent" {
			token = userType + "-token"
		}
		_, _ = w.Write([]byte(`{"success":true,"user":{"id":7},"token":"` + token + `"}`))
	case "location":
		f.locations = append(f.locations, r.PostForm)
		f.locationPaths = append(f.locationPaths, r.URL.Path)
		if f.rejectWith != "" {
			_, _ = w.Write([]byte(`{"success":false,"error":"` + f.rejectWith + `"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"location_id":1}`))
	case "partners":
		if f.rejectWith != "" {
			_, _ = w.Write([]byte(`{"success":false,"error":"` + f.rejectWith + `"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"partners":[{"id":1,"name":"Market"}]}`))
	case "orders":
		_, _ = w.Write([]byte(`{"success":true,"orders":[{"id":10}]}`))
	case "visits":
		_, _ = w.Write([]byte(`{"success":true,"visits":[{"id":20},{"id":21}]}`))
	default:
		http.NotFound(w, r)
	}
}

// splitFieldPath parses /api/{userType}/{endpoint}.
func splitFieldPath(path string) (string, string, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/api/"), "/")
	if len(parts) != 2 || !strings.HasPrefix(path, "/api/") {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (f *fieldService) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.locationPaths...)
}

func (f *fieldService) snapshot() (int, []url.Values, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, append([]url.Values(nil), f.locations...), len(f.deviceIDs)
}

func (f *fieldService) reject(reason string) {
	f.mu.Lock()
	f.rejectWith = reason
	f.mu.Unlock()
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.BaseURL = baseURL
	cfg.Server.RequestTimeout = time.Second
	cfg.Credentials.Username = "+998901111111"
	cfg.Credentials.Password = "test"
	cfg.Credentials.ReloginEvery = 20 * time.Millisecond
	cfg.Session.Backend = config.BackendMemory
	cfg.Session.DeviceIDPath = filepath.Join(t.TempDir(), "device-id")
	cfg.Tracking.Locator = config.LocatorStatic
	cfg.Tracking.StaticLatitude = 41.31
	cfg.Tracking.StaticLongitude = 69.24
	cfg.Tracking.StaticAccuracy = 5
	cfg.Tracking.Interval = 10 * time.Millisecond
	cfg.Power.FixedLevel = 62
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) (*App, func()) {
	t.Helper()
	application, err := New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	return application, func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("run did not return after cancel")
		}
		application.Close()
	}
}

func TestAppLogsInAndSubmits(t *testing.T) {
	fs := &fieldService{}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	application, stop := startApp(t, testConfig(t, srv.URL))
	defer stop()

	waitFor(t, 2*time.Second, func() bool {
		_, locations, _ := fs.snapshot()
		return len(locations) >= 2
	})

	logins, locations, devices := fs.snapshot()
	if logins != 1 {
		t.Fatalf("expected one login, got %d", logins)
	}
	first := locations[0]
	want := map[string]string{"latitude": "41.31", "longitude": "69.24", "accuracy": "5", "battery": "62", "token": "abc123"}
	for key, value := range want {
		if got := first.Get(key); got != value {
			t.Fatalf("form %s: expected %q, got %q", key, value, got)
		}
	}
	if devices != 1 {
		t.Fatalf("expected a single device id across requests, got %d", devices)
	}
	if sess, ok := application.Session(); !ok || sess.Token != "abc123" {
		t.Fatalf("expected active session, got %+v", sess)
	}
}

func TestAppReloginsAfterAuthRejection(t *testing.T) {
	fs := &fieldService{}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	_, stop := startApp(t, testConfig(t, srv.URL))
	defer stop()

	waitFor(t, 2*time.Second, func() bool {
		_, locations, _ := fs.snapshot()
		return len(locations) >= 1
	})
	fs.reject("Token expired")
	waitFor(t, 2*time.Second, func() bool {
		logins, _, _ := fs.snapshot()
		return logins >= 2
	})
}

func TestAppQueriesClearSessionOnAuthRejection(t *testing.T) {
	fs := &fieldService{}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Credentials.Username, cfg.Credentials.Password = "", ""
	application, err := New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer application.Close()

	if _, err := application.Partners(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected not logged in, got %v", err)
	}

	if _, err := application.Login(context.Background(), models.Credentials{UserType: models.UserTypeAgent, Username: "u", Password: "p"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	partners, err := application.Partners(context.Background())
	if err != nil || len(partners) != 1 || partners[0].Name != "Market" {
		t.Fatalf("unexpected partners %+v %v", partners, err)
	}

	fs.reject("Invalid token")
	if _, err := application.Partners(context.Background()); !errors.Is(err, models.ErrAuthRejected) {
		t.Fatalf("expected auth rejection, got %v", err)
	}
	if _, ok := application.Session(); ok {
		t.Fatalf("expected session to be cleared")
	}

	if _, ok := application.LastFix(); ok {
		t.Fatalf("expected no fix before any acquisition")
	}
	sample, err := application.Snapshot(context.Background())
	if err != nil || sample.Latitude != 41.31 {
		t.Fatalf("unexpected snapshot %+v %v", sample, err)
	}
	if fix, ok := application.LastFix(); !ok || fix.Longitude != 69.24 {
		t.Fatalf("expected snapshot to be the last fix, got %+v", fix)
	}
}

func TestAppListsOrdersAndVisits(t *testing.T) {
	fs := &fieldService{}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Credentials.Username, cfg.Credentials.Password = "", ""
	application, err := New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer application.Close()

	if _, err := application.Orders(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected not logged in, got %v", err)
	}
	if _, err := application.Login(context.Background(), models.Credentials{UserType: models.UserTypeAgent, Username: "u", Password: "p"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	orders, err := application.Orders(context.Background())
	if err != nil || len(orders) != 1 {
		t.Fatalf("unexpected orders %s %v", orders, err)
	}
	visits, err := application.Visits(context.Background())
	if err != nil || len(visits) != 2 {
		t.Fatalf("unexpected visits %s %v", visits, err)
	}
}

func TestAppDiagnosticCounts(t *testing.T) {
	application := &App{logger: zap.NewNop()}
	counts, err := application.DiagnosticCounts(context.Background(), time.Now())
	if err != nil || counts != nil {
		t.Fatalf("expected no counts without a diagnostics database, got %v %v", counts, err)
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	since := time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)
	for i, kind := range models.DiagnosticKinds() {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
			WithArgs(string(kind), since).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(i)))
	}

	application.diagRepo = repository.NewDiagnosticsRepository(db)
	counts, err = application.DiagnosticCounts(context.Background(), since)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if len(counts) != len(models.DiagnosticKinds()) || counts[models.DiagnosticTransportFailure] != 1 || counts[models.DiagnosticSampleDropped] != 4 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).WillReturnError(errors.New("connection reset"))
	if _, err := application.DiagnosticCounts(context.Background(), since); err == nil {
		t.Fatalf("expected count failure to surface")
	}
}

func TestAppSubmitsUnderLoggedInUserType(t *testing.T) {
	fs := &fieldService{}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Credentials.Username, cfg.Credentials.Password = "", ""
	application, stop := startApp(t, cfg)
	defer stop()

	sess, err := application.Login(context.Background(), models.Credentials{UserType: models.UserTypeDriver, Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.UserType != models.UserTypeDriver || sess.Token != "driver-token" {
		t.Fatalf("unexpected session %+v", sess)
	}

	waitFor(t, 2*time.Second, func() bool { return len(fs.paths()) >= 2 })
	for _, path := range fs.paths() {
		if path != "/api/driver/location" {
			t.Fatalf("expected driver submissions only, got %v", fs.paths())
		}
	}
	_, locations, _ := fs.snapshot()
	if got := locations[0].Get("token"); got != "driver-token" {
		t.Fatalf("expected driver token in payload, got %q", got)
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
