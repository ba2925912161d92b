package balance

import (
	"context"
	"testing"
	"time"

	"github.com/predictionmkt/engine/internal/ledger"
	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
)

func seedLedger(t *testing.T, l *ledger.MemoryLedger, userID string, amounts ...string) money.Money {
	t.Helper()
	ctx := context.Background()
	running := money.Zero
	for i, a := range amounts {
		running = running.Add(money.MustOf(a))
		tx := model.Transaction{
			ID:           userID + string(rune('a'+i)),
			Nonce:        userID + string(rune('a'+i)),
			UserID:       userID,
			Type:         model.TxDeposit,
			Amount:       money.MustOf(a),
			Timestamp:    time.Now(),
			BalanceAfter: running,
		}
		if _, err := l.Append(ctx, tx); err != nil {
			t.Fatalf("seed append failed: %v", err)
		}
	}
	return running
}

func TestBalance_ZeroForUnknownUser(t *testing.T) {
	s := NewService(ledger.NewMemoryLedger())
	bal, err := s.Balance(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bal.IsZero() {
		t.Errorf("expected zero balance, got %s", bal)
	}
}

func TestBalance_ReadsLatestFromLedgerOnMiss(t *testing.T) {
	l := ledger.NewMemoryLedger()
	want := seedLedger(t, l, "u1", "100", "-20", "5")
	s := NewService(l)

	bal, err := s.Balance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bal.Equal(want) {
		t.Errorf("Balance = %s, want %s", bal, want)
	}
}

func TestHasSufficientBalance(t *testing.T) {
	l := ledger.NewMemoryLedger()
	seedLedger(t, l, "u1", "100")
	s := NewService(l)

	if !s.HasSufficientBalance("u1", money.MustOf("50")) {
		t.Error("expected sufficient balance for 50 against 100")
	}
	if s.HasSufficientBalance("u1", money.MustOf("150")) {
		t.Error("expected insufficient balance for 150 against 100")
	}
}

func TestObserve_UpdatesCacheWithoutLedgerRoundTrip(t *testing.T) {
	s := NewService(ledger.NewMemoryLedger())
	s.Observe("u1", money.MustOf("42"))

	bal, err := s.Balance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bal.Equal(money.MustOf("42")) {
		t.Errorf("Balance = %s, want 42", bal)
	}
}

func TestReconcile_CorrectsDriftAboveThreshold(t *testing.T) {
	l := ledger.NewMemoryLedger()
	seedLedger(t, l, "u1", "100", "-10")
	s := NewService(l)

	// Force a stale cached balance far from the ledger-derived sum.
	s.Observe("u1", money.MustOf("1000"))
	s.Reconcile(context.Background())

	bal, _ := s.Balance(context.Background(), "u1")
	if !bal.Equal(money.MustOf("90")) {
		t.Errorf("expected reconciliation to correct to 90, got %s", bal)
	}
}

func TestReconcile_IgnoresDriftWithinThreshold(t *testing.T) {
	l := ledger.NewMemoryLedger()
	seedLedger(t, l, "u1", "100")
	s := NewService(l)

	s.Observe("u1", money.MustOf("100.00001"))
	s.Reconcile(context.Background())

	bal, _ := s.Balance(context.Background(), "u1")
	if !bal.Equal(money.MustOf("100.00001")) {
		t.Errorf("small drift should not be corrected, got %s", bal)
	}
}

func TestReconcile_NeverMutatesLedger(t *testing.T) {
	l := ledger.NewMemoryLedger()
	seedLedger(t, l, "u1", "100", "-10")
	s := NewService(l)
	s.Observe("u1", money.MustOf("999"))
	s.Reconcile(context.Background())

	entries, err := l.ScanFor(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected ledger entries to be untouched, got %d", len(entries))
	}
}
