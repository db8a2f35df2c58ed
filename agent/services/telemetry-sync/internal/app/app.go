package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "fieldagent/agent/libs/db"
	libredis "fieldagent/agent/libs/redis"
	"fieldagent/agent/services/telemetry-sync/internal/clients"
	"fieldagent/agent/services/telemetry-sync/internal/config"
	"fieldagent/agent/services/telemetry-sync/internal/diagnostics"
	httpserver "fieldagent/agent/services/telemetry-sync/internal/http"
	"fieldagent/agent/services/telemetry-sync/internal/http/handlers"
	"fieldagent/agent/services/telemetry-sync/internal/models"
	"fieldagent/agent/services/telemetry-sync/internal/position"
	"fieldagent/agent/services/telemetry-sync/internal/power"
	"fieldagent/agent/services/telemetry-sync/internal/repository"
	"fieldagent/agent/services/telemetry-sync/internal/service"
	"fieldagent/agent/services/telemetry-sync/internal/session"
)

// ErrNotLoggedIn is returned by query helpers when no session is stored.
var ErrNotLoggedIn = fmt.Errorf("%w: not logged in", models.ErrInvalidInput)

// App wires the telemetry core for a headless host.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	deviceID  string
	store     *session.Store
	gateway   *service.AuthGateway
	submitter *service.Submitter
	tracker   *position.Tracker
	query     *clients.QueryClient
	policy    position.Policy
	server    *httpserver.Server

	feed      *position.FeedLocator
	diagStore *diagnostics.StoreRecorder
	diagRepo  *repository.DiagnosticsRepository
	redis     *redis.Client
	db        *sql.DB
}

// New builds the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	deviceID, err := session.LoadOrCreateDeviceID(cfg.Session.DeviceIDPath)
	if err != nil {
		return nil, err
	}
	a.deviceID = deviceID

	backend, err := a.sessionBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = session.NewStore(backend, logger.Named("session"))

	recorder, err := a.recorder(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	markers := clients.DefaultAuthMarkers
	if len(cfg.Server.AuthMarkers) > 0 {
		markers = clients.AuthMarkers(cfg.Server.AuthMarkers)
	}
	base := clients.NewBaseClient(
		cfg.Server.BaseURL,
		clients.NewDefaultHTTPClient(cfg.Server.RequestTimeout),
		clients.WithDeviceID(deviceID),
	)
	authClient := clients.NewAuthClient(base, markers, logger.Named("auth"))
	ingestClient := clients.NewIngestClient(base, markers, logger.Named("ingest"))
	a.query = clients.NewQueryClient(base, markers)

	a.gateway = service.NewAuthGateway(authClient, a.store, logger.Named("gateway"))
	a.submitter = service.NewSubmitter(service.SubmitterConfig{
		Sessions:       a.store,
		Power:          a.powerSource(),
		Sender:         ingestClient,
		Recorder:       recorder,
		Logger:         logger.Named("submitter"),
		UserType:       cfg.UserType(),
		DeviceID:       deviceID,
		AttemptTimeout: cfg.Server.RequestTimeout,
	})

	a.tracker = position.NewTracker(a.locator(), logger.Named("position"))
	a.policy = position.Policy{
		HighAccuracy: cfg.Tracking.HighAccuracy,
		Timeout:      cfg.Tracking.Timeout,
		MaxStaleness: cfg.Tracking.MaxStaleness,
		Interval:     cfg.Tracking.Interval,
	}

	if cfg.Control.Addr != "" {
		router := httpserver.NewRouter(httpserver.Routes{
			Health:   handlers.NewHealthHandler(),
			Status:   handlers.NewStatusHandler(a),
			Login:    handlers.NewLoginHandler(a, cfg.UserType()),
			Logout:   handlers.NewLogoutHandler(a),
			Position: handlers.NewPositionHandler(a),
			Partners: handlers.NewPartnersHandler(a),
			Orders:   handlers.NewOrdersHandler(a),
			Visits:   handlers.NewVisitsHandler(a),
		}, cfg.Control.Token)
		a.server = httpserver.NewServer(cfg.Control.Addr, router, logger.Named("control"))
	}

	return a, nil
}

// Run restores the session, logs in when configured to, and tracks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.store.Restore(ctx); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	a.logSession()
	a.ensureSession(ctx)

	if err := a.tracker.Start(a.submitter.HandleSample, a.submitter.HandleFailure, a.policy); err != nil {
		return err
	}
	a.logger.Info("telemetry sync started",
		zap.String("device_id", a.deviceID),
		zap.String("user_type", a.cfg.UserType().String()),
		zap.String("base_url", a.cfg.Server.BaseURL),
	)

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	serverErr := make(chan error, 1)
	if a.server != nil {
		go func() { serverErr <- a.server.Run(serverCtx) }()
	}

	ticker := time.NewTicker(a.cfg.Credentials.ReloginEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			if a.server != nil {
				if err := <-serverErr; err != nil {
					a.logger.Warn("control server shutdown failed", zap.Error(err))
				}
			}
			return nil
		case err := <-serverErr:
			a.shutdown()
			if err == nil {
				err = errors.New("stopped unexpectedly")
			}
			return fmt.Errorf("control server: %w", err)
		case <-ticker.C:
			a.ensureSession(ctx)
		}
	}
}

func (a *App) shutdown() {
	a.tracker.Stop()
	a.submitter.Wait()
	stats := a.submitter.Stats()
	a.logger.Info("telemetry sync stopped",
		zap.Int64("attempted", stats.Attempted),
		zap.Int64("accepted", stats.Accepted),
		zap.Int64("rejected", stats.Rejected),
		zap.Int64("transport_failures", stats.TransportFailures),
		zap.Int64("dropped", stats.Dropped),
	)
}

// Login authenticates and stores the resulting session.
func (a *App) Login(ctx context.Context, creds models.Credentials) (models.Session, error) {
	result, err := a.gateway.Login(ctx, creds)
	if err != nil {
		return models.Session{}, err
	}
	sess, err := a.store.Save(ctx, result.UserType, result.Identity, result.Token)
	if err != nil {
		return models.Session{}, err
	}
	a.logSession()
	return sess, nil
}

// Logout clears the stored session. Tracking keeps running but nothing is submitted.
func (a *App) Logout(ctx context.Context) error {
	return a.gateway.Logout(ctx)
}

// Session returns the current session, if any.
func (a *App) Session() (models.Session, bool) {
	return a.store.Current()
}

// Snapshot takes a one-shot fresh position fix.
func (a *App) Snapshot(ctx context.Context) (models.PositionSample, error) {
	policy := position.DefaultSnapshotPolicy()
	policy.HighAccuracy = a.cfg.Tracking.HighAccuracy
	policy.Timeout = a.cfg.Tracking.Timeout
	return a.tracker.Snapshot(ctx, policy)
}

// Stats returns submission counters.
func (a *App) Stats() service.Stats {
	return a.submitter.Stats()
}

// DeviceID returns the installation id sent with every request.
func (a *App) DeviceID() string {
	return a.deviceID
}

// LastFix returns the most recent position fix from tracking or a snapshot.
func (a *App) LastFix() (models.PositionSample, bool) {
	return a.tracker.LastSample()
}

// DiagnosticCounts counts stored diagnostic events per kind since the given time.
// It returns nil without a diagnostics database.
func (a *App) DiagnosticCounts(ctx context.Context, since time.Time) (map[models.DiagnosticKind]int64, error) {
	if a.diagRepo == nil {
		return nil, nil
	}
	counts := make(map[models.DiagnosticKind]int64, len(models.DiagnosticKinds()))
	for _, kind := range models.DiagnosticKinds() {
		n, err := a.diagRepo.CountSince(ctx, kind, since)
		if err != nil {
			a.logger.Warn("failed to count diagnostics", zap.String("kind", string(kind)), zap.Error(err))
			return nil, err
		}
		counts[kind] = n
	}
	return counts, nil
}

// Partners lists partners visible to the agent.
func (a *App) Partners(ctx context.Context) ([]clients.Partner, error) {
	var out []clients.Partner
	err := a.withToken(ctx, func(token string) (err error) {
		out, err = a.query.Partners(ctx, token)
		return err
	})
	return out, err
}

// Orders lists the agent's orders.
func (a *App) Orders(ctx context.Context) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := a.withToken(ctx, func(token string) (err error) {
		out, err = a.query.Orders(ctx, token)
		return err
	})
	return out, err
}

// Visits lists the agent's visits.
func (a *App) Visits(ctx context.Context) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := a.withToken(ctx, func(token string) (err error) {
		out, err = a.query.Visits(ctx, token)
		return err
	})
	return out, err
}

// Close releases resources.
func (a *App) Close() {
	if a.tracker != nil {
		a.tracker.Stop()
	}
	if a.submitter != nil {
		a.submitter.Wait()
	}
	if a.feed != nil {
		if err := a.feed.Close(); err != nil {
			a.logger.Debug("failed to close position bridge", zap.Error(err))
		}
	}
	if a.diagStore != nil {
		a.diagStore.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}

func (a *App) withToken(ctx context.Context, call func(token string) error) error {
	sess, ok := a.store.Current()
	if !ok {
		return ErrNotLoggedIn
	}
	err := call(sess.Token)
	if errors.Is(err, models.ErrAuthRejected) {
		a.logger.Warn("session rejected by server, clearing", zap.String("token", models.TokenPrefix(sess.Token)))
		if _, clearErr := a.store.ClearIfToken(ctx, sess.Token); clearErr != nil {
			a.logger.Error("failed to clear rejected session", zap.Error(clearErr))
		}
	}
	return err
}

func (a *App) ensureSession(ctx context.Context) {
	if a.store.IsActive() || !a.cfg.HasCredentials() {
		return
	}
	_, err := a.Login(ctx, models.Credentials{
		UserType: a.cfg.UserType(),
		Username: a.cfg.Credentials.Username,
		Password: a.cfg.Credentials.Password,
	})
	if err != nil {
		a.logger.Warn("automatic login failed", zap.Error(err))
	}
}

func (a *App) logSession() {
	sess, ok := a.store.Current()
	if !ok {
		a.logger.Info("no active session")
		return
	}
	fields := []zap.Field{
		zap.String("user_type", sess.UserType.String()),
		zap.String("token", models.TokenPrefix(sess.Token)),
		zap.Time("issued_at", sess.IssuedAt),
	}
	if claims, ok := session.TokenClaims(sess.Token); ok {
		fields = append(fields, zap.String("subject", claims.Subject))
		if !claims.ExpiresAt.IsZero() {
			fields = append(fields, zap.Time("expires_at", claims.ExpiresAt))
		}
	}
	a.logger.Info("session active", fields...)
}

func (a *App) sessionBackend(ctx context.Context) (session.Backend, error) {
	switch a.cfg.Session.Backend {
	case config.BackendRedis:
		client, err := libredis.NewRedisClient(ctx, a.cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		return session.NewRedisBackend(client, a.cfg.Session.RedisPrefix), nil
	case config.BackendMemory:
		return session.NewMemoryBackend(), nil
	default:
		key, err := a.cfg.SessionKey()
		if err != nil {
			return nil, err
		}
		backend, err := session.NewFileBackend(a.cfg.Session.FilePath, key)
		if err != nil {
			return nil, err
		}
		a.logger.Info("session file", zap.String("path", backend.Path()), zap.Bool("sealed", key != nil))
		return backend, nil
	}
}

func (a *App) recorder(ctx context.Context) (diagnostics.Recorder, error) {
	logRecorder := diagnostics.NewLogRecorder(a.logger.Named("diagnostics"))
	if a.cfg.Diagnostics.DSN == "" {
		return logRecorder, nil
	}

	sqlDB, err := libdb.NewPostgresDB(ctx, a.cfg.Diagnostics.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect diagnostics db: %w", err)
	}
	a.db = sqlDB
	repo := repository.NewDiagnosticsRepository(sqlDB)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("diagnostics schema: %w", err)
	}
	a.diagRepo = repo
	a.diagStore = diagnostics.NewStoreRecorder(repo, a.logger.Named("diagnostics"), a.cfg.Diagnostics.QueueSize)
	return diagnostics.Multi{logRecorder, a.diagStore}, nil
}

func (a *App) locator() position.Locator {
	if a.cfg.Tracking.Locator == config.LocatorStatic {
		return position.StaticLocator{
			Latitude:       a.cfg.Tracking.StaticLatitude,
			Longitude:      a.cfg.Tracking.StaticLongitude,
			AccuracyMeters: a.cfg.Tracking.StaticAccuracy,
		}
	}
	a.feed = position.NewFeedLocator(a.cfg.Tracking.BridgeURL, a.logger.Named("bridge"))
	return a.feed
}

func (a *App) powerSource() power.Source {
	if a.cfg.Power.FixedLevel > 0 {
		return power.Fixed(a.cfg.Power.FixedLevel)
	}
	return power.NewSysfsSource(a.cfg.Power.SysfsRoot, a.logger.Named("power"))
}
