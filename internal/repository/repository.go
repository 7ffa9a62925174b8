package repository

import (
	"context"
	"errors"
	"time"

	"github.com/brokersoft/backoffice/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateCode indicates a master-data code is already taken.
	ErrDuplicateCode = errors.New("duplicate code")
	// ErrDuplicateBatch indicates a bill batch with the same bill number or
	// batch reference was already persisted; a retried batch must be rejected
	// wholesale rather than double-posted.
	ErrDuplicateBatch = errors.New("duplicate bill batch")
)

// BillBatch is the unit of atomic persistence for bill generation: either
// every row in it is written or none are. Entries arrive with balances
// already computed; the store must persist them in slice order.
type BillBatch struct {
	BatchRef   string
	Contracts  []models.Contract
	PartyBill  models.Bill
	BrokerBill models.Bill
	Items      []models.BillItem
	Entries    []models.LedgerEntry
}

// MasterStore persists parties, brokers, instruments and settlements.
type MasterStore interface {
	CreateParty(ctx context.Context, p models.Party) error
	GetParty(ctx context.Context, code string) (*models.Party, error)
	ListParties(ctx context.Context) ([]models.Party, error)
	UpdatePartySlabs(ctx context.Context, code string, slabs models.SlabRates) error

	CreateBroker(ctx context.Context, b models.Broker) error
	GetBroker(ctx context.Context, code string) (*models.Broker, error)
	ListBrokers(ctx context.Context) ([]models.Broker, error)
	UpdateBrokerSlabs(ctx context.Context, code string, slabs models.SlabRates) error

	CreateInstrument(ctx context.Context, ins models.Instrument) error
	GetInstrument(ctx context.Context, code string) (*models.Instrument, error)
	ListInstruments(ctx context.Context) ([]models.Instrument, error)

	CreateSettlement(ctx context.Context, s models.Settlement) error
	GetSettlement(ctx context.Context, number string) (*models.Settlement, error)
	ListSettlements(ctx context.Context) ([]models.Settlement, error)
}

// BillingStore persists contracts and bills.
type BillingStore interface {
	// CreateBillBatch writes the whole batch atomically, returning
	// ErrDuplicateBatch if the batch reference or either bill number exists.
	CreateBillBatch(ctx context.Context, batch BillBatch) error
	GetBill(ctx context.Context, number string) (*models.Bill, []models.BillItem, error)
	ListBills(ctx context.Context, billType models.BillType) ([]models.Bill, error)
	UpdateBillPayment(ctx context.Context, number string, paid decimal.Decimal, status models.BillStatus) error
	// NextBillSequence returns the next per-day sequence used in bill numbers.
	NextBillSequence(ctx context.Context, billDate time.Time) (int, error)
}

// LedgerStore persists append-only ledger entries. AppendLedgerEntry assigns
// Seq; LatestLedgerEntry and ListLedgerEntries order by Seq.
type LedgerStore interface {
	AppendLedgerEntry(ctx context.Context, e models.LedgerEntry) (*models.LedgerEntry, error)
	LatestLedgerEntry(ctx context.Context, accountCode string) (*models.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, accountCode string) ([]models.LedgerEntry, error)
	ListAllLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error)
}

// PositionStore persists per-(party, instrument) position aggregates.
type PositionStore interface {
	GetPosition(ctx context.Context, partyID, instrumentID string) (*models.Position, error)
	SavePosition(ctx context.Context, p models.Position) error
	ListPositions(ctx context.Context, partyID string) ([]models.Position, error)
}

// Store is the full persistence surface the services depend on.
type Store interface {
	MasterStore
	BillingStore
	LedgerStore
	PositionStore
}
