// Package brokerage holds the pure slab-rate and brokerage arithmetic used by
// bill generation. Rates are percentages, amounts are currency values rounded
// to 2 decimal places.
package brokerage

import (
	"errors"
	"fmt"

	"github.com/brokersoft/backoffice/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidTradeType indicates a trade type other than T or D.
	ErrInvalidTradeType = errors.New("invalid trade type")
	// ErrInvalidInput indicates a negative amount or rate.
	ErrInvalidInput = errors.New("invalid input")
)

var hundred = decimal.NewFromInt(100)

// Resolve returns the slab percentage applicable to a trade type: the trading
// slab for T, the delivery slab for D. Resolution happens at contract
// creation and the result is snapshotted into the contract; later slab edits
// must never alter historical brokerage.
func Resolve(slabs models.SlabRates, tradeType models.TradeType) (decimal.Decimal, error) {
	switch tradeType {
	case models.TradeTypeTrading:
		return slabs.Trading, nil
	case models.TradeTypeDelivery:
		return slabs.Delivery, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidTradeType, tradeType)
	}
}

// Brokerage computes amount * ratePercent / 100 rounded half-up to 2 places.
func Brokerage(amount, ratePercent decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() || ratePercent.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: amount=%s rate=%s", ErrInvalidInput, amount, ratePercent)
	}
	return amount.Mul(ratePercent).Div(hundred).Round(2), nil
}

// Amount computes quantity * rate, the trade value a contract carries.
func Amount(quantity int64, rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(decimal.NewFromInt(quantity))
}
