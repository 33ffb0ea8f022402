package database

import (
	"context"
	"fmt"
)

const createCreditTransactionsSQL = `CREATE TABLE IF NOT EXISTS credit_transactions (
    id          UUID PRIMARY KEY,
    caller_id   TEXT NOT NULL,
    amount      BIGINT NOT NULL,
    balance     BIGINT NOT NULL,
    type        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createCreditTransactionsIndexSQL = `CREATE INDEX IF NOT EXISTS idx_credit_transactions_caller_created
    ON credit_transactions (caller_id, created_at DESC)`

const createUsageRecordsSQL = `CREATE TABLE IF NOT EXISTS usage_records (
    id                UUID PRIMARY KEY,
    caller_id         TEXT NOT NULL,
    model             TEXT NOT NULL DEFAULT '',
    provider          TEXT NOT NULL DEFAULT '',
    prompt_tokens     INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    total_tokens      INTEGER NOT NULL DEFAULT 0,
    credits_charged   BIGINT NOT NULL DEFAULT 0,
    latency_ms        INTEGER NOT NULL DEFAULT 0,
    streamed          BOOLEAN NOT NULL DEFAULT FALSE,
    cache_hit         BOOLEAN NOT NULL DEFAULT FALSE,
    status            TEXT NOT NULL,
    error_code        TEXT,
    error_message     TEXT,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createUsageRecordsIndexSQL = `CREATE INDEX IF NOT EXISTS idx_usage_records_caller_created
    ON usage_records (caller_id, created_at DESC)`

// EnsureSchema creates the ledger and usage tables if they do not already
// exist. This is a convenience for development; production deployments
// should manage schema changes with proper migration tooling.
func (db *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		createCreditTransactionsSQL,
		createCreditTransactionsIndexSQL,
		createUsageRecordsSQL,
		createUsageRecordsIndexSQL,
	}
	for _, stmt := range stmts {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
