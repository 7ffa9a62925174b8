// Package ledger maintains per-account running balances over an append-only
// entry stream.
//
// Convention, applied uniformly: balance = prior balance + debit - credit.
// Debit increases what the account owes the house, credit decreases it. For
// the MAIN-BROKER sentinel account the arithmetic is identical but a positive
// balance reads as "house owes broker"; SUB-BROKER accumulates house margin
// as credits.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/brokersoft/backoffice/internal/models"
	"github.com/brokersoft/backoffice/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	// ErrBothSides indicates a posting with both debit and credit non-zero.
	ErrBothSides = errors.New("entry cannot carry both debit and credit")
	// ErrNegativeAmount indicates a negative debit or credit.
	ErrNegativeAmount = errors.New("debit and credit must be non-negative")
)

// EntryInput describes one posting. Exactly one of Debit/Credit should be
// non-zero; both zero is permitted for informational entries.
type EntryInput struct {
	AccountCode string
	PartyID     string
	EntryDate   time.Time
	Kind        models.EntryKind
	Particulars string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	BillID      string
}

// Poster appends ledger entries with running balances. Postings to the same
// account code are strictly serialized because the balance computation is a
// read-modify-write; different accounts proceed in parallel.
type Poster struct {
	store repository.LedgerStore
	locks *accountLocks
	now   func() time.Time
	log   *logrus.Entry
}

func NewPoster(store repository.LedgerStore, log *logrus.Logger) *Poster {
	return &Poster{
		store: store,
		locks: newAccountLocks(),
		now:   func() time.Time { return time.Now().UTC() },
		log:   log.WithField("component", "ledger-poster"),
	}
}

// Post appends one entry for the account, computing the new running balance
// from the latest persisted entry.
func (p *Poster) Post(ctx context.Context, in EntryInput) (*models.LedgerEntry, error) {
	var out *models.LedgerEntry
	err := p.WithAccounts([]string{in.AccountCode}, func() error {
		entry, err := p.Prepare(ctx, in)
		if err != nil {
			return err
		}
		saved, err := p.store.AppendLedgerEntry(ctx, entry)
		if err != nil {
			return err
		}
		out = saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.log.WithFields(logrus.Fields{
		"account": out.AccountCode,
		"kind":    out.Kind,
		"debit":   out.Debit.String(),
		"credit":  out.Credit.String(),
		"balance": out.Balance.String(),
	}).Debug("ledger entry posted")
	return out, nil
}

// Prepare validates the input and builds the entry with its running balance.
// The caller must hold the account's lock (via WithAccounts) so the latest
// balance read stays valid until the entry is persisted.
func (p *Poster) Prepare(ctx context.Context, in EntryInput) (models.LedgerEntry, error) {
	if err := validate(in); err != nil {
		return models.LedgerEntry{}, err
	}
	prior := decimal.Zero
	latest, err := p.store.LatestLedgerEntry(ctx, in.AccountCode)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("read latest entry for %s: %w", in.AccountCode, err)
	}
	if latest != nil {
		prior = latest.Balance
	}
	entryDate := in.EntryDate
	if entryDate.IsZero() {
		entryDate = p.now()
	}
	return models.LedgerEntry{
		ID:          uuid.NewString(),
		AccountCode: in.AccountCode,
		PartyID:     in.PartyID,
		EntryDate:   entryDate,
		Kind:        in.Kind,
		Particulars: in.Particulars,
		Debit:       in.Debit,
		Credit:      in.Credit,
		Balance:     prior.Add(in.Debit).Sub(in.Credit),
		BillID:      in.BillID,
		CreatedAt:   p.now(),
	}, nil
}

// Statement returns every entry for one account in posting order.
func (p *Poster) Statement(ctx context.Context, accountCode string) ([]models.LedgerEntry, error) {
	return p.store.ListLedgerEntries(ctx, accountCode)
}

// Summary reduces the full ledger to per-account totals. The snapshot is
// eventually consistent with in-flight postings.
func (p *Poster) Summary(ctx context.Context) ([]models.PartySummaryRow, error) {
	entries, err := p.store.ListAllLedgerEntries(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(entries), nil
}

// WithAccounts runs fn while holding the locks for the given account codes.
// Locks are taken in sorted order so overlapping sets cannot deadlock.
func (p *Poster) WithAccounts(codes []string, fn func() error) error {
	ordered := append([]string(nil), codes...)
	sort.Strings(ordered)
	acquired := make([]*sync.Mutex, 0, len(ordered))
	for i, code := range ordered {
		if i > 0 && code == ordered[i-1] {
			continue
		}
		mu := p.locks.get(code)
		mu.Lock()
		acquired = append(acquired, mu)
	}
	defer func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}()
	return fn()
}

func validate(in EntryInput) error {
	if in.AccountCode == "" {
		return fmt.Errorf("account code is required")
	}
	if in.Debit.IsNegative() || in.Credit.IsNegative() {
		return ErrNegativeAmount
	}
	if !in.Debit.IsZero() && !in.Credit.IsZero() {
		return ErrBothSides
	}
	return nil
}

// accountLocks hands out one mutex per account code.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

func (a *accountLocks) get(code string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	mu, ok := a.locks[code]
	if !ok {
		mu = &sync.Mutex{}
		a.locks[code] = mu
	}
	return mu
}
