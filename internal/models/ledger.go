package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel account codes for house-side ledger entries. Party accounts use
// the party's own code.
const (
	AccountMainBroker = "MAIN-BROKER"
	AccountSubBroker  = "SUB-BROKER"
)

// EntryKind classifies a ledger entry at creation time. Reporting switches on
// this enum, never on the free-text particulars.
type EntryKind string

const (
	EntryPartyBill       EntryKind = "PARTY_BILL"
	EntryBrokerBill      EntryKind = "BROKER_BILL"
	EntrySubBrokerProfit EntryKind = "SUB_BROKER_PROFIT"
	EntryPayment         EntryKind = "PAYMENT"
	EntryAdjustment      EntryKind = "ADJUSTMENT"
)

// LedgerEntry is one append-only ledger line. Balance is the running balance
// after this entry under the convention
//
//	balance = prior balance + debit - credit
//
// so debit increases what the account owes the house and credit decreases it.
// Seq is the insertion sequence assigned by the store; balance continuity is
// defined over Seq order, not EntryDate, because entry dates can be backdated.
type LedgerEntry struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"seq"`
	AccountCode string          `json:"accountCode"`
	PartyID     string          `json:"partyId,omitempty"`
	EntryDate   time.Time       `json:"entryDate"`
	Kind        EntryKind       `json:"kind"`
	Particulars string          `json:"particulars"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Balance     decimal.Decimal `json:"balance"`
	BillID      string          `json:"billId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// PartySummaryRow is one line of the ledger summary report.
type PartySummaryRow struct {
	AccountCode    string          `json:"accountCode"`
	TotalDebit     decimal.Decimal `json:"totalDebit"`
	TotalCredit    decimal.Decimal `json:"totalCredit"`
	ClosingBalance decimal.Decimal `json:"closingBalance"`
	Entries        int             `json:"entries"`
}

// Position aggregates open quantity and cost basis for a party in one
// instrument. Quantity is signed: positive long, negative short. AvgPrice is
// meaningful only while Quantity != 0. Zero-quantity records are retained as
// closed positions for history.
type Position struct {
	ID            string          `json:"id"`
	PartyID       string          `json:"partyId"`
	InstrumentID  string          `json:"instrumentId"`
	Quantity      int64           `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	LastTradeRate decimal.Decimal `json:"lastTradeRate"`
	LastTradeDate time.Time       `json:"lastTradeDate"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// PositionReportRow is a position with its mark-to-market valuation. The
// reference price is whatever the caller supplied (or the last trade rate as
// a fallback); UnrealizedPnL is derived from it on read.
type PositionReportRow struct {
	Position       `json:"position"`
	ReferencePrice decimal.Decimal `json:"referencePrice"`
	UnrealizedPnL  decimal.Decimal `json:"unrealizedPnl"`
}

// UnrealizedPnL marks the open quantity against the supplied reference price.
// It is derived on read and never persisted as ground truth.
func (p Position) UnrealizedPnL(refPrice decimal.Decimal) decimal.Decimal {
	if p.Quantity == 0 {
		return decimal.Zero
	}
	return refPrice.Sub(p.AvgPrice).Mul(decimal.NewFromInt(p.Quantity))
}

// Open reports whether the position currently has open quantity.
func (p Position) Open() bool {
	return p.Quantity != 0
}
