package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/modelrelay/gateway/internal/gateway/gwerr"
	"github.com/modelrelay/gateway/internal/shared/models"
)

func TestBalanceEmptyLedger(t *testing.T) {
	l := NewMemoryLedger()

	balance, err := l.Balance(context.Background(), "caller-1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
}

func TestAppendTracksRunningBalance(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	row, err := l.Append(ctx, "caller-1", 100, models.TransactionPurchase, "initial purchase")
	if err != nil {
		t.Fatalf("Append purchase failed: %v", err)
	}
	if row.Balance != 100 {
		t.Fatalf("purchase balance = %d, want 100", row.Balance)
	}

	row, err = l.Append(ctx, "caller-1", -2, models.TransactionDeduction, "chat completion gpt-4o-mini")
	if err != nil {
		t.Fatalf("Append deduction failed: %v", err)
	}
	if row.Balance != 98 {
		t.Fatalf("deduction balance = %d, want 98", row.Balance)
	}

	balance, _ := l.Balance(ctx, "caller-1")
	if balance != 98 {
		t.Fatalf("Balance = %d, want 98", balance)
	}
}

func TestAppendRejectsOverdraft(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	l.Append(ctx, "caller-1", 10, models.TransactionPurchase, "small purchase")

	_, err := l.Append(ctx, "caller-1", -11, models.TransactionDeduction, "too big")
	if !gwerr.Is(err, gwerr.CodeInsufficientCredits) {
		t.Fatalf("overdraft error = %v, want insufficient_credits", err)
	}

	// A rejected deduction writes nothing.
	balance, _ := l.Balance(ctx, "caller-1")
	if balance != 10 {
		t.Fatalf("balance after rejected deduction = %d, want 10", balance)
	}
	if rows := l.Transactions("caller-1"); len(rows) != 1 {
		t.Fatalf("ledger has %d rows, want 1", len(rows))
	}
}

func TestAppendIsolatesCallers(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	l.Append(ctx, "caller-1", 50, models.TransactionPurchase, "")
	l.Append(ctx, "caller-2", 70, models.TransactionPurchase, "")

	b1, _ := l.Balance(ctx, "caller-1")
	b2, _ := l.Balance(ctx, "caller-2")
	if b1 != 50 || b2 != 70 {
		t.Fatalf("balances = %d, %d, want 50, 70", b1, b2)
	}
}

// Two deductions racing for a balance that only covers one of them must not
// both succeed off the same stale read.
func TestConcurrentDeductionsSerialize(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	l.Append(ctx, "caller-1", 100, models.TransactionPurchase, "")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Append(ctx, "caller-1", -60, models.TransactionDeduction, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !gwerr.Is(err, gwerr.CodeInsufficientCredits) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d deductions succeeded, want exactly 1", succeeded)
	}

	balance, _ := l.Balance(ctx, "caller-1")
	if balance != 40 {
		t.Fatalf("final balance = %d, want 40", balance)
	}
}

func TestConcurrentAppendsKeepLedgerConsistent(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	l.Append(ctx, "caller-1", 1000, models.TransactionPurchase, "")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(ctx, "caller-1", -1, models.TransactionDeduction, "")
		}()
	}
	wg.Wait()

	balance, _ := l.Balance(ctx, "caller-1")
	if balance != 950 {
		t.Fatalf("final balance = %d, want 950", balance)
	}

	// Every row's balance must equal the previous row's balance plus its
	// amount; an append-only ledger with serialized writers guarantees it.
	rows := l.Transactions("caller-1")
	var prev int64
	for i, row := range rows {
		if row.Balance != prev+row.Amount {
			t.Fatalf("row %d: balance %d != prev %d + amount %d", i, row.Balance, prev, row.Amount)
		}
		prev = row.Balance
	}
}
