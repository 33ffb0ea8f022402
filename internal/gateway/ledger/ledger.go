// Package ledger implements the append-only credit ledger. Balance is
// derived from the most recent row, so every balance mutation for a caller
// must be serialized; both implementations do that, the Postgres one with a
// caller-scoped advisory lock and the in-memory one with a per-caller mutex.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/modelrelay/gateway/internal/gateway/gwerr"
	"github.com/modelrelay/gateway/internal/shared/models"
)

// Ledger reads balances and appends transactions.
type Ledger interface {
	// Balance returns the current balance for a caller. A caller with no
	// rows has balance zero.
	Balance(ctx context.Context, callerID string) (int64, error)

	// Append writes one transaction and returns it with the resulting
	// balance filled in. A deduction that would drive the balance negative
	// fails with an insufficient-credits error and writes nothing.
	Append(ctx context.Context, callerID string, amount int64, txType models.TransactionType, description string) (*models.CreditTransaction, error)
}

func insufficient(callerID string, balance, amount int64) error {
	return gwerr.New(gwerr.CodeInsufficientCredits,
		"caller %s has %d credits, needs %d", callerID, balance, -amount)
}

func newTransaction(callerID string, amount, balance int64, txType models.TransactionType, description string) *models.CreditTransaction {
	return &models.CreditTransaction{
		ID:          uuid.NewString(),
		CallerID:    callerID,
		Amount:      amount,
		Balance:     balance,
		Type:        txType,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
}
