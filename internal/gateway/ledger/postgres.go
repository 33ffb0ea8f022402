package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	"github.com/modelrelay/gateway/internal/gateway/gwerr"
	"github.com/modelrelay/gateway/internal/shared/database"
	"github.com/modelrelay/gateway/internal/shared/models"
)

// PostgresLedger stores transactions in the credit_transactions table.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a ledger backed by Postgres.
func NewPostgresLedger(db *database.DB) *PostgresLedger {
	return &PostgresLedger{db: db.Conn()}
}

// Balance returns the balance of the most recent row for the caller.
func (l *PostgresLedger) Balance(ctx context.Context, callerID string) (int64, error) {
	var balance int64
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_transactions
		 WHERE caller_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, callerID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, gwerr.Wrap(gwerr.CodePersistenceError, err, "read balance for %s", callerID)
	}
	return balance, nil
}

// Append writes one transaction inside a transaction holding a
// caller-scoped advisory lock, so two concurrent deductions cannot both
// read the same stale balance.
func (l *PostgresLedger) Append(ctx context.Context, callerID string, amount int64, txType models.TransactionType, description string) (*models.CreditTransaction, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodePersistenceError, err, "begin ledger transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, callerLockKey(callerID)); err != nil {
		return nil, gwerr.Wrap(gwerr.CodePersistenceError, err, "acquire ledger lock for %s", callerID)
	}

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM credit_transactions
		 WHERE caller_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, callerID).Scan(&balance)
	if err != nil && err != sql.ErrNoRows {
		return nil, gwerr.Wrap(gwerr.CodePersistenceError, err, "read balance for %s", callerID)
	}

	newBalance := balance + amount
	if newBalance < 0 {
		return nil, insufficient(callerID, balance, amount)
	}

	row := newTransaction(callerID, amount, newBalance, txType, description)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, caller_id, amount, balance, type, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		row.ID, row.CallerID, row.Amount, row.Balance, row.Type, row.Description, row.CreatedAt)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodePersistenceError, err, "append transaction for %s", callerID)
	}

	if err := tx.Commit(); err != nil {
		return nil, gwerr.Wrap(gwerr.CodePersistenceError, err, "commit ledger transaction for %s", callerID)
	}
	return row, nil
}

// callerLockKey maps a caller id onto the advisory lock keyspace.
func callerLockKey(callerID string) int64 {
	h := fnv.New64a()
	fmt.Fprint(h, callerID)
	return int64(h.Sum64())
}
