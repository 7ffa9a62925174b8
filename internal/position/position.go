// Package position tracks open quantity, weighted-average cost and realized
// P&L per (party, instrument) pair across a stream of trades.
package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brokersoft/backoffice/internal/models"
	"github.com/brokersoft/backoffice/internal/pricing"
	"github.com/brokersoft/backoffice/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	// ErrZeroQuantity indicates a trade with no quantity.
	ErrZeroQuantity = errors.New("trade quantity cannot be zero")
	// ErrInvalidRate indicates a non-positive trade rate.
	ErrInvalidRate = errors.New("trade rate must be positive")
)

// Trade is one signed fill: positive quantity for buy, negative for sell.
type Trade struct {
	PartyID      string
	InstrumentID string
	Quantity     int64
	Rate         decimal.Decimal
	TradeDate    time.Time
}

// Ledger applies trades to position aggregates. Trades for the same
// (party, instrument) key are applied strictly in call order under a per-key
// lock; out-of-order application would corrupt the average price and realized
// P&L, so callers must hand over batches sequentially per key.
type Ledger struct {
	store  repository.PositionStore
	prices *pricing.RefPriceCache
	mu     sync.Mutex
	keys   map[string]*sync.Mutex
	now    func() time.Time
	log    *logrus.Entry
}

func NewLedger(store repository.PositionStore, prices *pricing.RefPriceCache, log *logrus.Logger) *Ledger {
	return &Ledger{
		store:  store,
		prices: prices,
		keys:   make(map[string]*sync.Mutex),
		now:    func() time.Time { return time.Now().UTC() },
		log:    log.WithField("component", "position-ledger"),
	}
}

// ApplyTrade folds one trade into the position for its key and persists the
// result. The position record is created on the first trade and retained at
// zero quantity once closed.
func (l *Ledger) ApplyTrade(ctx context.Context, t Trade) (*models.Position, error) {
	if t.Quantity == 0 {
		return nil, ErrZeroQuantity
	}
	if !t.Rate.IsPositive() {
		return nil, ErrInvalidRate
	}

	mu := l.keyLock(t.PartyID + "::" + t.InstrumentID)
	mu.Lock()
	defer mu.Unlock()

	pos, err := l.store.GetPosition(ctx, t.PartyID, t.InstrumentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load position: %w", err)
	}
	if pos == nil {
		pos = &models.Position{
			ID:           uuid.NewString(),
			PartyID:      t.PartyID,
			InstrumentID: t.InstrumentID,
			CreatedAt:    l.now(),
		}
	}

	applyTransition(pos, t.Quantity, t.Rate)
	pos.LastTradeRate = t.Rate
	pos.LastTradeDate = t.TradeDate
	pos.UpdatedAt = l.now()

	if err := l.store.SavePosition(ctx, *pos); err != nil {
		return nil, fmt.Errorf("save position: %w", err)
	}
	if l.prices != nil {
		l.prices.Set(t.InstrumentID, t.Rate)
	}
	l.log.WithFields(logrus.Fields{
		"party":      t.PartyID,
		"instrument": t.InstrumentID,
		"qty":        pos.Quantity,
		"avg":        pos.AvgPrice.String(),
		"realized":   pos.RealizedPnL.String(),
	}).Debug("position updated")
	return pos, nil
}

// applyTransition mutates the aggregate for one signed fill.
//
// States by sign of quantity: flat (0), long (>0), short (<0).
//   - flat:            open at the trade rate
//   - same sign:       accumulate, new weighted average
//   - opposite, |d|<|q|: realize closedQty*(rate-avg)*sign(q), keep avg
//   - opposite, |d|=|q|: realize fully, quantity to zero
//   - opposite, |d|>|q|: realize fully, reopen the excess at the trade rate
func applyTransition(pos *models.Position, delta int64, rate decimal.Decimal) {
	oldQty := pos.Quantity

	switch {
	case oldQty == 0:
		pos.Quantity = delta
		pos.AvgPrice = rate

	case sameSign(oldQty, delta):
		oldAbs := decimal.NewFromInt(abs(oldQty))
		deltaAbs := decimal.NewFromInt(abs(delta))
		weighted := pos.AvgPrice.Mul(oldAbs).Add(rate.Mul(deltaAbs))
		pos.AvgPrice = weighted.Div(oldAbs.Add(deltaAbs))
		pos.Quantity = oldQty + delta

	default:
		closed := min64(abs(delta), abs(oldQty))
		// Realized P&L on the closed portion: sign(oldQty) makes a short
		// covered below its average price a gain.
		pnl := rate.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(closed * sign(oldQty)))
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.Quantity = oldQty + delta

		if pos.Quantity == 0 {
			pos.AvgPrice = decimal.Zero
		} else if !sameSign(oldQty, pos.Quantity) {
			// Flip: the excess opens a new position at the trade rate.
			pos.AvgPrice = rate
		}
		// Partial reduction keeps the remaining cost basis untouched.
	}
}

// Report returns the positions for a party (all parties when partyID is
// empty), split into open and closed, with unrealized P&L marked against
// refPrices. Instruments missing from refPrices fall back to the last trade
// rate, which is an approximation in the absence of live market data.
func (l *Ledger) Report(ctx context.Context, partyID string, refPrices map[string]decimal.Decimal) (open, closed []models.PositionReportRow, err error) {
	positions, err := l.store.ListPositions(ctx, partyID)
	if err != nil {
		return nil, nil, err
	}
	for _, pos := range positions {
		ref, ok := refPrices[pos.InstrumentID]
		if !ok && l.prices != nil {
			ref, ok = l.prices.Get(pos.InstrumentID)
		}
		if !ok {
			ref = pos.LastTradeRate
		}
		row := models.PositionReportRow{
			Position:       pos,
			ReferencePrice: ref,
			UnrealizedPnL:  pos.UnrealizedPnL(ref),
		}
		if pos.Open() {
			open = append(open, row)
		} else {
			closed = append(closed, row)
		}
	}
	return open, closed, nil
}

func (l *Ledger) keyLock(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.keys[key]
	if !ok {
		mu = &sync.Mutex{}
		l.keys[key] = mu
	}
	return mu
}

func sameSign(a, b int64) bool {
	return (a > 0) == (b > 0)
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
