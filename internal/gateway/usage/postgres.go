package usage

import (
	"context"
	"database/sql"
	"time"

	"github.com/modelrelay/gateway/internal/shared/database"
	"github.com/modelrelay/gateway/internal/shared/logging"
	"github.com/modelrelay/gateway/internal/shared/models"
)

// PostgresRecorder writes usage_records rows.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder creates a recorder backed by Postgres.
func NewPostgresRecorder(db *database.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db.Conn()}
}

// Record inserts one row. Failures are logged and swallowed: the audit
// trail must never block or fail the caller-visible response.
func (r *PostgresRecorder) Record(ctx context.Context, rec *models.UsageRecord) {
	prepare(rec)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO usage_records (
			id, caller_id, model, provider, prompt_tokens, completion_tokens,
			total_tokens, credits_charged, latency_ms, streamed, cache_hit,
			status, error_code, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID, rec.CallerID, rec.Model, rec.Provider, rec.PromptTokens,
		rec.CompletionTokens, rec.TotalTokens, rec.CreditsCharged,
		rec.LatencyMs, rec.Streamed, rec.CacheHit, rec.Status,
		nullable(rec.ErrorCode), nullable(rec.ErrorMessage), rec.CreatedAt)
	if err != nil {
		logging.Error().Err(err).Str("caller_id", rec.CallerID).
			Msg("failed to persist usage record")
	}
}

// Stats aggregates the caller's rows newer than since.
func (r *PostgresRecorder) Stats(ctx context.Context, callerID string, since time.Time) (*CallerStats, error) {
	var stats CallerStats
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0),
		        COALESCE(SUM(total_tokens), 0),
		        COALESCE(SUM(credits_charged), 0),
		        COALESCE(AVG(latency_ms), 0)
		 FROM usage_records
		 WHERE caller_id = $1 AND created_at >= $2`,
		callerID, since).Scan(
		&stats.TotalCalls, &stats.SuccessCalls, &stats.CacheHits,
		&stats.PromptTokens, &stats.CompletionTokens, &stats.TotalTokens,
		&stats.CreditsCharged, &stats.AvgLatencyMs)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT model, COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(credits_charged), 0)
		 FROM usage_records
		 WHERE caller_id = $1 AND created_at >= $2 AND model <> ''
		 GROUP BY model
		 ORDER BY COUNT(*) DESC`,
		callerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(&m.Model, &m.Calls, &m.TotalTokens, &m.CreditsCharged); err != nil {
			return nil, err
		}
		stats.ByModel = append(stats.ByModel, m)
	}
	return &stats, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
