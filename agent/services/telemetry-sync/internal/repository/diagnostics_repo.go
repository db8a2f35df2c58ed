package repository

import (
	"context"
	"database/sql"
	"time"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// DiagnosticsRepository persists diagnostic events.
type DiagnosticsRepository struct {
	db *sql.DB
}

// NewDiagnosticsRepository returns repository.
func NewDiagnosticsRepository(db *sql.DB) *DiagnosticsRepository {
	return &DiagnosticsRepository{db: db}
}

// EnsureSchema creates the diagnostics table when missing.
func (r *DiagnosticsRepository) EnsureSchema(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS agent_diagnostics (
			id          BIGSERIAL PRIMARY KEY,
			kind        TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			user_type   TEXT NOT NULL DEFAULT '',
			device_id   TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMPTZ NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	_, err := r.db.ExecContext(ctx, query)
	return err
}

// Insert stores new diagnostic event.
func (r *DiagnosticsRepository) Insert(ctx context.Context, event *models.DiagnosticEvent) error {
	const query = `
		INSERT INTO agent_diagnostics (kind, reason, user_type, device_id, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		string(event.Kind),
		event.Reason,
		string(event.UserType),
		event.DeviceID,
		event.OccurredAt.UTC(),
	).Scan(&event.ID, &event.CreatedAt)
}

// CountSince returns how many events of kind were recorded at or after since.
func (r *DiagnosticsRepository) CountSince(ctx context.Context, kind models.DiagnosticKind, since time.Time) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM agent_diagnostics
		WHERE kind = $1 AND occurred_at >= $2
	`
	var total int64
	if err := r.db.QueryRowContext(ctx, query, string(kind), since.UTC()).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
