package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeType selects which brokerage slab applies to a trade.
type TradeType string

const (
	TradeTypeTrading  TradeType = "T"
	TradeTypeDelivery TradeType = "D"
)

// SlabRates carries the percentage brokerage tiers assigned to a party or broker.
type SlabRates struct {
	Trading  decimal.Decimal `json:"tradingSlab"`
	Delivery decimal.Decimal `json:"deliverySlab"`
}

// Party is a client of the house. Identity (code) is immutable once a bill or
// contract references it; slabs may be edited going forward, posted bills keep
// the rate snapshotted at contract creation.
type Party struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Address      string          `json:"address,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	Slabs        SlabRates       `json:"slabs"`
	InterestRate decimal.Decimal `json:"interestRate"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Broker is the upstream counterpart broker. Same shape as Party; its slabs
// determine the broker's own share of client brokerage.
type Broker struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Address      string          `json:"address,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	Slabs        SlabRates       `json:"slabs"`
	InterestRate decimal.Decimal `json:"interestRate"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// InstrumentType distinguishes F&O instruments. Empty for cash-segment scrips.
type InstrumentType string

const (
	InstrumentFuture  InstrumentType = "FUT"
	InstrumentCallOpt InstrumentType = "CE"
	InstrumentPutOpt  InstrumentType = "PE"
)

// Instrument is a tradable scrip or derivative contract definition.
type Instrument struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	ExchangeCode string          `json:"exchangeCode,omitempty"`
	Type         InstrumentType  `json:"instrumentType,omitempty"`
	ExpiryDate   *time.Time      `json:"expiryDate,omitempty"`
	StrikePrice  decimal.Decimal `json:"strikePrice"`
	LotSize      int64           `json:"lotSize,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Derivative reports whether positions are tracked for this instrument.
func (i Instrument) Derivative() bool {
	return i.Type != ""
}

// SettlementType classifies a settlement period.
type SettlementType string

const (
	SettlementDelivery SettlementType = "delivery"
	SettlementTrading  SettlementType = "trading"
	SettlementAuction  SettlementType = "auction"
)

// Settlement is a batch period contracts are tagged with. Descriptive only,
// never used in calculations.
type Settlement struct {
	ID        string         `json:"id"`
	Number    string         `json:"settlementNumber"`
	Type      SettlementType `json:"type"`
	StartDate time.Time      `json:"startDate"`
	EndDate   time.Time      `json:"endDate"`
	CreatedAt time.Time      `json:"createdAt"`
}
