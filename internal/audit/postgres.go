package audit

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const insertEventSQL = `INSERT INTO auth_events (event_id, kind, user_id, email, client_ip, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// PostgresRecorder writes events to the auth_events table.
type PostgresRecorder struct {
	pool   *pgxpool.Pool
	node   *snowflake.Node
	logger *zap.Logger
}

var _ Recorder = (*PostgresRecorder)(nil)

// NewPostgresRecorder constructs the Postgres-backed recorder.
func NewPostgresRecorder(pool *pgxpool.Pool, node *snowflake.Node, logger *zap.Logger) *PostgresRecorder {
	if logger == nil {
		logger = zap.L()
	}
	return &PostgresRecorder{pool: pool, node: node, logger: logger}
}

// Record inserts the event. Failures are logged and swallowed so the primary
// operation is never blocked on the trail.
func (r *PostgresRecorder) Record(ctx context.Context, ev Event) {
	if ev.ID == 0 {
		ev.ID = r.node.Generate().Int64()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, insertEventSQL,
		ev.ID, ev.Kind, ev.UserID, ev.Email, ev.ClientIP, ev.Detail, ev.At,
	)
	if err != nil {
		r.logger.Warn("audit write failed",
			zap.String("kind", ev.Kind),
			zap.Error(err),
		)
	}
}
