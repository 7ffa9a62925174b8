package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractType is the side of a trade leg.
type ContractType string

const (
	ContractBuy  ContractType = "buy"
	ContractSell ContractType = "sell"
)

// ContractStatus tracks the lifecycle of a contract after bill generation.
type ContractStatus string

const (
	ContractActive    ContractStatus = "active"
	ContractCompleted ContractStatus = "completed"
	ContractCancelled ContractStatus = "cancelled"
)

// Contract is one trade leg. Immutable once a bill is generated from it,
// except for status transitions. BrokerageRate is the party's slab snapshotted
// at creation time; later slab edits never alter it.
type Contract struct {
	ID              string          `json:"id"`
	PartyID         string          `json:"partyId"`
	BrokerID        string          `json:"brokerId"`
	SettlementID    string          `json:"settlementId"`
	InstrumentID    string          `json:"instrumentId"`
	TradeType       TradeType       `json:"tradeType"`
	ContractType    ContractType    `json:"contractType"`
	Quantity        int64           `json:"quantity"`
	Rate            decimal.Decimal `json:"rate"`
	Amount          decimal.Decimal `json:"amount"`
	BrokerageRate   decimal.Decimal `json:"brokerageRate"`
	BrokerageAmount decimal.Decimal `json:"brokerageAmount"`
	TradeDate       time.Time       `json:"tradeDate"`
	Status          ContractStatus  `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// BillType distinguishes the client-facing bill from the upstream broker bill.
type BillType string

const (
	BillTypeParty  BillType = "party"
	BillTypeBroker BillType = "broker"
)

// BillStatus is derived from PaidAmount vs TotalAmount.
type BillStatus string

const (
	BillPending BillStatus = "pending"
	BillPartial BillStatus = "partial"
	BillPaid    BillStatus = "paid"
)

// Bill groups a batch of contracts from one perspective: the party bill
// charges brokerage at the client's slab, the broker bill carries the
// upstream broker's own share at the broker's slab.
type Bill struct {
	ID              string          `json:"id"`
	Number          string          `json:"billNumber"`
	Type            BillType        `json:"billType"`
	PartyID         string          `json:"partyId,omitempty"`
	BrokerID        string          `json:"brokerId,omitempty"`
	BillDate        time.Time       `json:"billDate"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	BrokerageAmount decimal.Decimal `json:"brokerageAmount"`
	PaidAmount      decimal.Decimal `json:"paidAmount"`
	Status          BillStatus      `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// DeriveStatus recomputes Status from PaidAmount vs TotalAmount.
func (b *Bill) DeriveStatus() {
	switch {
	case b.PaidAmount.LessThanOrEqual(decimal.Zero):
		b.Status = BillPending
	case b.PaidAmount.GreaterThanOrEqual(b.TotalAmount):
		b.Status = BillPaid
	default:
		b.Status = BillPartial
	}
}

// BillItem is one contract line under a bill, from that bill's perspective:
// party bill items carry the full brokerage charged to the client, broker
// bill items the broker's computed share.
type BillItem struct {
	ID              string          `json:"id"`
	BillID          string          `json:"billId"`
	ContractID      string          `json:"contractId"`
	InstrumentID    string          `json:"instrumentId"`
	Quantity        int64           `json:"quantity"`
	Rate            decimal.Decimal `json:"rate"`
	Amount          decimal.Decimal `json:"amount"`
	BrokerageAmount decimal.Decimal `json:"brokerageAmount"`
	CreatedAt       time.Time       `json:"createdAt"`
}
