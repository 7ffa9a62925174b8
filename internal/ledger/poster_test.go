package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/brokersoft/backoffice/internal/models"
	"github.com/brokersoft/backoffice/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestPoster() (*Poster, *memory.Store) {
	store := memory.New()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return NewPoster(store, log), store
}

func TestPost_BalanceContinuity(t *testing.T) {
	p, _ := newTestPoster()
	ctx := context.Background()

	first, err := p.Post(ctx, EntryInput{
		AccountCode: "P001", Kind: models.EntryPartyBill, Debit: d(5000),
	})
	if err != nil {
		t.Fatalf("first post: %v", err)
	}
	if !first.Balance.Equal(d(5000)) {
		t.Errorf("first balance = %s, want 5000", first.Balance)
	}

	second, err := p.Post(ctx, EntryInput{
		AccountCode: "P001", Kind: models.EntryPayment, Credit: d(2000),
	})
	if err != nil {
		t.Fatalf("second post: %v", err)
	}
	if !second.Balance.Equal(d(3000)) {
		t.Errorf("second balance = %s, want 3000", second.Balance)
	}

	third, err := p.Post(ctx, EntryInput{
		AccountCode: "P001", Kind: models.EntryAdjustment, Debit: d(150.25),
	})
	if err != nil {
		t.Fatalf("third post: %v", err)
	}
	if !third.Balance.Equal(d(3150.25)) {
		t.Errorf("third balance = %s, want 3150.25", third.Balance)
	}
}

func TestPost_AccountsIndependent(t *testing.T) {
	p, _ := newTestPoster()
	ctx := context.Background()

	if _, err := p.Post(ctx, EntryInput{AccountCode: "P001", Kind: models.EntryPartyBill, Debit: d(100)}); err != nil {
		t.Fatal(err)
	}
	e, err := p.Post(ctx, EntryInput{AccountCode: "P002", Kind: models.EntryPartyBill, Debit: d(40)})
	if err != nil {
		t.Fatal(err)
	}
	if !e.Balance.Equal(d(40)) {
		t.Errorf("P002 balance = %s, want 40 (must not see P001's balance)", e.Balance)
	}
}

func TestPost_ZeroValueInformationalEntry(t *testing.T) {
	p, _ := newTestPoster()
	e, err := p.Post(context.Background(), EntryInput{
		AccountCode: "P001", Kind: models.EntryAdjustment, Particulars: "opening note",
	})
	if err != nil {
		t.Fatalf("zero-value entry should be allowed: %v", err)
	}
	if !e.Balance.IsZero() {
		t.Errorf("balance = %s, want 0", e.Balance)
	}
}

func TestPost_Validation(t *testing.T) {
	p, _ := newTestPoster()
	ctx := context.Background()

	if _, err := p.Post(ctx, EntryInput{AccountCode: "P001", Debit: d(5), Credit: d(5)}); !errors.Is(err, ErrBothSides) {
		t.Errorf("both sides: got %v, want ErrBothSides", err)
	}
	if _, err := p.Post(ctx, EntryInput{AccountCode: "P001", Debit: d(-5)}); !errors.Is(err, ErrNegativeAmount) {
		t.Errorf("negative debit: got %v, want ErrNegativeAmount", err)
	}
	if _, err := p.Post(ctx, EntryInput{Debit: d(5)}); err == nil {
		t.Error("missing account code: expected error")
	}
}

// Concurrent postings to the same account must serialize: every entry's
// balance equals the previous entry's balance plus debit minus credit.
func TestPost_ConcurrentSameAccount(t *testing.T) {
	p, store := newTestPoster()
	ctx := context.Background()

	var wg sync.WaitGroup
	n := 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Post(ctx, EntryInput{AccountCode: "P001", Kind: models.EntryPartyBill, Debit: d(10)}); err != nil {
				t.Errorf("post failed: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, err := store.ListLedgerEntries(ctx, "P001")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != n {
		t.Fatalf("expected %d entries, got %d", n, len(entries))
	}
	prior := decimal.Zero
	for i, e := range entries {
		want := prior.Add(e.Debit).Sub(e.Credit)
		if !e.Balance.Equal(want) {
			t.Fatalf("entry %d: balance %s, want %s", i, e.Balance, want)
		}
		prior = e.Balance
	}
	if !prior.Equal(d(500)) {
		t.Errorf("final balance = %s, want 500", prior)
	}
}

func TestWithAccounts_DuplicateCodes(t *testing.T) {
	p, _ := newTestPoster()
	called := false
	err := p.WithAccounts([]string{"A", "A", "B"}, func() error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run once without deadlock, err=%v", err)
	}
}
