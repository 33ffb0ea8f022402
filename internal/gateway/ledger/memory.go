package ledger

import (
	"context"
	"sync"

	"github.com/modelrelay/gateway/internal/shared/models"
)

// MemoryLedger keeps the ledger in process memory. Used in tests and when
// no database is configured; rows do not survive a restart.
type MemoryLedger struct {
	mu   sync.Mutex
	rows map[string][]*models.CreditTransaction
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{rows: make(map[string][]*models.CreditTransaction)}
}

// Balance returns the balance of the caller's most recent row.
func (l *MemoryLedger) Balance(ctx context.Context, callerID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(callerID), nil
}

// Append writes one transaction. The whole read-then-write runs under the
// ledger mutex, so concurrent deductions for the same caller serialize.
func (l *MemoryLedger) Append(ctx context.Context, callerID string, amount int64, txType models.TransactionType, description string) (*models.CreditTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balanceLocked(callerID)
	newBalance := balance + amount
	if newBalance < 0 {
		return nil, insufficient(callerID, balance, amount)
	}

	row := newTransaction(callerID, amount, newBalance, txType, description)
	l.rows[callerID] = append(l.rows[callerID], row)
	out := *row
	return &out, nil
}

// Transactions returns a snapshot of the caller's rows in append order.
func (l *MemoryLedger) Transactions(callerID string) []models.CreditTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.CreditTransaction, 0, len(l.rows[callerID]))
	for _, row := range l.rows[callerID] {
		out = append(out, *row)
	}
	return out
}

func (l *MemoryLedger) balanceLocked(callerID string) int64 {
	rows := l.rows[callerID]
	if len(rows) == 0 {
		return 0
	}
	return rows[len(rows)-1].Balance
}
