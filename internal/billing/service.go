// Package billing turns validated trade batches into contracts, party and
// broker bills, and the ledger postings that go with them.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brokersoft/backoffice/internal/brokerage"
	"github.com/brokersoft/backoffice/internal/ledger"
	"github.com/brokersoft/backoffice/internal/models"
	"github.com/brokersoft/backoffice/internal/position"
	"github.com/brokersoft/backoffice/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrValidation = errors.New("validation_error")
	ErrDuplicate  = repository.ErrDuplicateBatch
)

const (
	partyBillPrefix  = "PTY"
	brokerBillPrefix = "BRK"
)

// TradeRow is one raw trade line in an incoming batch.
type TradeRow struct {
	InstrumentCode string
	TradeType      models.TradeType
	ContractType   models.ContractType
	Quantity       int64
	Rate           decimal.Decimal
	TradeDate      time.Time
}

// GenerateBillsInput carries the batch's common fields plus its rows.
type GenerateBillsInput struct {
	PartyCode        string
	BrokerCode       string
	SettlementNumber string
	BillDate         time.Time
	// BatchRef lets callers retry safely: a resubmitted batch with the same
	// reference is rejected instead of double-posted.
	BatchRef string
	Rows     []TradeRow
}

// GenerateBillsResult is what one accepted batch produced.
type GenerateBillsResult struct {
	Contracts  []models.Contract
	PartyBill  models.Bill
	BrokerBill models.Bill
	Items      []models.BillItem
	// Profit is the sub-broker margin: client brokerage minus the upstream
	// broker's own share.
	Profit decimal.Decimal
}

// Service is the bill batch builder. It snapshots slab rates at contract
// creation, groups rows into one party bill and one broker bill, posts the
// resulting ledger entries and, for derivative instruments, feeds the trades
// into the position ledger.
type Service struct {
	store     repository.Store
	poster    *ledger.Poster
	positions *position.Ledger
	now       func() time.Time
	log       *logrus.Entry
}

func NewService(store repository.Store, poster *ledger.Poster, positions *position.Ledger, log *logrus.Logger) *Service {
	return &Service{
		store:     store,
		poster:    poster,
		positions: positions,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.WithField("component", "billing-service"),
	}
}

// GenerateBills validates the whole batch, rejecting it wholesale when any
// row is invalid, then persists contracts, both bills, bill items and ledger
// entries in one atomic store write.
func (s *Service) GenerateBills(ctx context.Context, input GenerateBillsInput) (*GenerateBillsResult, error) {
	if input.PartyCode == "" || input.BrokerCode == "" || input.SettlementNumber == "" {
		return nil, fmt.Errorf("%w: partyCode, brokerCode and settlementNumber are required", ErrValidation)
	}
	if len(input.Rows) == 0 {
		return nil, fmt.Errorf("%w: batch has no rows", ErrValidation)
	}

	party, err := s.store.GetParty(ctx, input.PartyCode)
	if err != nil {
		return nil, fmt.Errorf("%w: party %q: %v", ErrValidation, input.PartyCode, err)
	}
	broker, err := s.store.GetBroker(ctx, input.BrokerCode)
	if err != nil {
		return nil, fmt.Errorf("%w: broker %q: %v", ErrValidation, input.BrokerCode, err)
	}
	settlement, err := s.store.GetSettlement(ctx, input.SettlementNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: settlement %q: %v", ErrValidation, input.SettlementNumber, err)
	}

	instruments, problems := s.resolveRows(ctx, input.Rows)
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}

	billDate := input.BillDate
	if billDate.IsZero() {
		billDate = s.now()
	}

	contracts := make([]models.Contract, 0, len(input.Rows))
	partyTotal := decimal.Zero
	partyBrokerage := decimal.Zero
	brokerShareTotal := decimal.Zero
	brokerShares := make([]decimal.Decimal, 0, len(input.Rows))

	for i, row := range input.Rows {
		rate, err := brokerage.Resolve(party.Slabs, row.TradeType)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		amount := brokerage.Amount(row.Quantity, row.Rate)
		charged, err := brokerage.Brokerage(amount, rate)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		// The broker's own share comes from the broker's slab against the
		// same row amount, never from the party's.
		brokerRate, err := brokerage.Resolve(broker.Slabs, row.TradeType)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		share, err := brokerage.Brokerage(amount, brokerRate)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		contracts = append(contracts, models.Contract{
			ID:              uuid.NewString(),
			PartyID:         party.ID,
			BrokerID:        broker.ID,
			SettlementID:    settlement.ID,
			InstrumentID:    instruments[i].ID,
			TradeType:       row.TradeType,
			ContractType:    row.ContractType,
			Quantity:        row.Quantity,
			Rate:            row.Rate,
			Amount:          amount,
			BrokerageRate:   rate,
			BrokerageAmount: charged,
			TradeDate:       row.TradeDate,
			Status:          models.ContractActive,
			CreatedAt:       s.now(),
		})
		partyTotal = partyTotal.Add(amount)
		partyBrokerage = partyBrokerage.Add(charged)
		brokerShareTotal = brokerShareTotal.Add(share)
		brokerShares = append(brokerShares, share)
	}

	seq, err := s.store.NextBillSequence(ctx, billDate)
	if err != nil {
		return nil, err
	}
	partyBill := models.Bill{
		ID:              uuid.NewString(),
		Number:          billNumber(partyBillPrefix, billDate, seq),
		Type:            models.BillTypeParty,
		PartyID:         party.ID,
		BrokerID:        broker.ID,
		BillDate:        billDate,
		TotalAmount:     partyTotal,
		BrokerageAmount: partyBrokerage,
		PaidAmount:      decimal.Zero,
		Status:          models.BillPending,
		CreatedAt:       s.now(),
	}
	brokerBill := models.Bill{
		ID:              uuid.NewString(),
		Number:          billNumber(brokerBillPrefix, billDate, seq),
		Type:            models.BillTypeBroker,
		BrokerID:        broker.ID,
		BillDate:        billDate,
		TotalAmount:     brokerShareTotal,
		BrokerageAmount: brokerShareTotal,
		PaidAmount:      decimal.Zero,
		Status:          models.BillPending,
		CreatedAt:       s.now(),
	}

	items := make([]models.BillItem, 0, 2*len(contracts))
	for i, c := range contracts {
		items = append(items, models.BillItem{
			ID:              uuid.NewString(),
			BillID:          partyBill.ID,
			ContractID:      c.ID,
			InstrumentID:    c.InstrumentID,
			Quantity:        c.Quantity,
			Rate:            c.Rate,
			Amount:          c.Amount,
			BrokerageAmount: c.BrokerageAmount,
			CreatedAt:       s.now(),
		}, models.BillItem{
			ID:              uuid.NewString(),
			BillID:          brokerBill.ID,
			ContractID:      c.ID,
			InstrumentID:    c.InstrumentID,
			Quantity:        c.Quantity,
			Rate:            c.Rate,
			Amount:          c.Amount,
			BrokerageAmount: brokerShares[i],
			CreatedAt:       s.now(),
		})
	}

	profit := partyBrokerage.Sub(brokerShareTotal)

	// The three account balances are read and extended under their locks so
	// the batch's entries land with consistent running balances.
	err = s.poster.WithAccounts([]string{party.Code, models.AccountMainBroker, models.AccountSubBroker}, func() error {
		partyEntry, err := s.poster.Prepare(ctx, ledger.EntryInput{
			AccountCode: party.Code,
			PartyID:     party.ID,
			EntryDate:   billDate,
			Kind:        models.EntryPartyBill,
			Particulars: fmt.Sprintf("Bill %s (%d contracts)", partyBill.Number, len(contracts)),
			Debit:       partyTotal.Add(partyBrokerage),
			BillID:      partyBill.ID,
		})
		if err != nil {
			return err
		}
		brokerEntry, err := s.poster.Prepare(ctx, ledger.EntryInput{
			AccountCode: models.AccountMainBroker,
			EntryDate:   billDate,
			Kind:        models.EntryBrokerBill,
			Particulars: fmt.Sprintf("Broker bill %s", brokerBill.Number),
			Debit:       brokerShareTotal,
			BillID:      brokerBill.ID,
		})
		if err != nil {
			return err
		}
		// Margin is normally posted as a credit; a broker slab above the
		// party's would make it a debit instead of a negative credit.
		profitIn := ledger.EntryInput{
			AccountCode: models.AccountSubBroker,
			EntryDate:   billDate,
			Kind:        models.EntrySubBrokerProfit,
			Particulars: fmt.Sprintf("Margin on bill %s", partyBill.Number),
			BillID:      partyBill.ID,
		}
		if profit.IsNegative() {
			profitIn.Debit = profit.Neg()
		} else {
			profitIn.Credit = profit
		}
		profitEntry, err := s.poster.Prepare(ctx, profitIn)
		if err != nil {
			return err
		}

		return s.store.CreateBillBatch(ctx, repository.BillBatch{
			BatchRef:   input.BatchRef,
			Contracts:  contracts,
			PartyBill:  partyBill,
			BrokerBill: brokerBill,
			Items:      items,
			Entries:    []models.LedgerEntry{partyEntry, brokerEntry, profitEntry},
		})
	})
	if err != nil {
		return nil, err
	}

	// Each contract updates the position ledger exactly once, and only for
	// derivative instruments.
	for i, c := range contracts {
		if !instruments[i].Derivative() {
			continue
		}
		qty := c.Quantity
		if c.ContractType == models.ContractSell {
			qty = -qty
		}
		if _, err := s.positions.ApplyTrade(ctx, position.Trade{
			PartyID:      c.PartyID,
			InstrumentID: c.InstrumentID,
			Quantity:     qty,
			Rate:         c.Rate,
			TradeDate:    c.TradeDate,
		}); err != nil {
			return nil, fmt.Errorf("position update for contract %s: %w", c.ID, err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"party":      party.Code,
		"broker":     broker.Code,
		"contracts":  len(contracts),
		"partyBill":  partyBill.Number,
		"brokerBill": brokerBill.Number,
		"profit":     profit.String(),
	}).Info("bill batch generated")

	return &GenerateBillsResult{
		Contracts:  contracts,
		PartyBill:  partyBill,
		BrokerBill: brokerBill,
		Items:      items,
		Profit:     profit,
	}, nil
}

// resolveRows validates every row and resolves instruments, returning one
// problem string per offending row index. A single bad row fails the batch.
func (s *Service) resolveRows(ctx context.Context, rows []TradeRow) ([]models.Instrument, []string) {
	instruments := make([]models.Instrument, len(rows))
	problems := []string{}
	for i, row := range rows {
		switch {
		case row.InstrumentCode == "":
			problems = append(problems, fmt.Sprintf("row %d: instrument is required", i))
			continue
		case row.Quantity <= 0:
			problems = append(problems, fmt.Sprintf("row %d: quantity must be positive", i))
			continue
		case !row.Rate.IsPositive():
			problems = append(problems, fmt.Sprintf("row %d: rate must be positive", i))
			continue
		case row.TradeDate.IsZero():
			problems = append(problems, fmt.Sprintf("row %d: trade date is required", i))
			continue
		case row.ContractType != models.ContractBuy && row.ContractType != models.ContractSell:
			problems = append(problems, fmt.Sprintf("row %d: contract type must be buy or sell", i))
			continue
		case row.TradeType != models.TradeTypeTrading && row.TradeType != models.TradeTypeDelivery:
			problems = append(problems, fmt.Sprintf("row %d: trade type must be T or D", i))
			continue
		}
		ins, err := s.store.GetInstrument(ctx, row.InstrumentCode)
		if err != nil {
			problems = append(problems, fmt.Sprintf("row %d: instrument %q: %v", i, row.InstrumentCode, err))
			continue
		}
		instruments[i] = *ins
	}
	return instruments, problems
}

// GetBill returns a bill with its line items.
func (s *Service) GetBill(ctx context.Context, number string) (*models.Bill, []models.BillItem, error) {
	return s.store.GetBill(ctx, number)
}

// RecordPayment posts a payment credit to the party's ledger and advances the
// bill's paid amount, deriving pending/partial/paid.
func (s *Service) RecordPayment(ctx context.Context, partyCode, billNumber string, amount decimal.Decimal, date time.Time) (*models.Bill, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	}
	party, err := s.store.GetParty(ctx, partyCode)
	if err != nil {
		return nil, fmt.Errorf("%w: party %q: %v", ErrValidation, partyCode, err)
	}
	bill, _, err := s.store.GetBill(ctx, billNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: bill %q: %v", ErrValidation, billNumber, err)
	}
	if bill.Type != models.BillTypeParty || bill.PartyID != party.ID {
		return nil, fmt.Errorf("%w: bill %q does not belong to party %q", ErrValidation, billNumber, partyCode)
	}

	if _, err := s.poster.Post(ctx, ledger.EntryInput{
		AccountCode: party.Code,
		PartyID:     party.ID,
		EntryDate:   date,
		Kind:        models.EntryPayment,
		Particulars: fmt.Sprintf("Payment against bill %s", billNumber),
		Credit:      amount,
		BillID:      bill.ID,
	}); err != nil {
		return nil, err
	}

	bill.PaidAmount = bill.PaidAmount.Add(amount)
	bill.DeriveStatus()
	if err := s.store.UpdateBillPayment(ctx, billNumber, bill.PaidAmount, bill.Status); err != nil {
		return nil, err
	}
	return bill, nil
}

func billNumber(prefix string, billDate time.Time, seq int) string {
	return fmt.Sprintf("%s%s-%d", prefix, billDate.Format("20060102"), seq)
}
