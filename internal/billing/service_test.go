package billing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/brokersoft/backoffice/internal/ledger"
	"github.com/brokersoft/backoffice/internal/models"
	"github.com/brokersoft/backoffice/internal/position"
	"github.com/brokersoft/backoffice/internal/pricing"
	"github.com/brokersoft/backoffice/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var tradeDate = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	store  *memory.Store
	poster *ledger.Poster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	poster := ledger.NewPoster(store, log)
	positions := position.NewLedger(store, pricing.NewRefPriceCache(0), log)
	svc := NewService(store, poster, positions, log)

	ctx := context.Background()
	mustCreate := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("fixture setup: %v", err)
		}
	}
	mustCreate(store.CreateParty(ctx, models.Party{
		ID: "party-1", Code: "P001", Name: "Acme Traders",
		Slabs: models.SlabRates{Trading: d(0.10), Delivery: d(1.30)},
	}))
	mustCreate(store.CreateBroker(ctx, models.Broker{
		ID: "broker-1", Code: "B001", Name: "Upstream Broking",
		Slabs: models.SlabRates{Trading: d(0.05), Delivery: d(1.00)},
	}))
	mustCreate(store.CreateInstrument(ctx, models.Instrument{
		ID: "ins-rel", Code: "RELIANCE", Name: "Reliance Industries",
	}))
	expiry := time.Date(2025, 4, 24, 0, 0, 0, 0, time.UTC)
	mustCreate(store.CreateInstrument(ctx, models.Instrument{
		ID: "ins-nifty", Code: "NIFTY-FUT", Name: "Nifty Futures",
		Type: models.InstrumentFuture, ExpiryDate: &expiry, LotSize: 50,
	}))
	mustCreate(store.CreateSettlement(ctx, models.Settlement{
		ID: "set-1", Number: "2025-14", Type: models.SettlementTrading,
		StartDate: tradeDate, EndDate: tradeDate.AddDate(0, 0, 4),
	}))
	return &fixture{svc: svc, store: store, poster: poster}
}

func baseInput(rows ...TradeRow) GenerateBillsInput {
	return GenerateBillsInput{
		PartyCode:        "P001",
		BrokerCode:       "B001",
		SettlementNumber: "2025-14",
		BillDate:         tradeDate,
		Rows:             rows,
	}
}

// Party slab 0.10% trading, broker slab 0.05%: one 100@50 trade gives amount
// 5000, client brokerage 5.00, broker share 2.50, margin 2.50, party debited
// 5005.
func TestGenerateBills_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.GenerateBills(ctx, baseInput(TradeRow{
		InstrumentCode: "RELIANCE",
		TradeType:      models.TradeTypeTrading,
		ContractType:   models.ContractBuy,
		Quantity:       100,
		Rate:           d(50),
		TradeDate:      tradeDate,
	}))
	if err != nil {
		t.Fatalf("GenerateBills: %v", err)
	}

	c := res.Contracts[0]
	if !c.Amount.Equal(d(5000)) {
		t.Errorf("amount = %s, want 5000", c.Amount)
	}
	if !c.BrokerageRate.Equal(d(0.10)) {
		t.Errorf("brokerage rate = %s, want 0.10", c.BrokerageRate)
	}
	if !c.BrokerageAmount.Equal(d(5.00)) {
		t.Errorf("client brokerage = %s, want 5.00", c.BrokerageAmount)
	}
	if !res.PartyBill.TotalAmount.Equal(d(5000)) || !res.PartyBill.BrokerageAmount.Equal(d(5.00)) {
		t.Errorf("party bill = %s/%s, want 5000/5.00", res.PartyBill.TotalAmount, res.PartyBill.BrokerageAmount)
	}
	if !res.BrokerBill.TotalAmount.Equal(d(2.50)) {
		t.Errorf("broker bill total = %s, want 2.50", res.BrokerBill.TotalAmount)
	}
	if !res.Profit.Equal(d(2.50)) {
		t.Errorf("profit = %s, want 2.50", res.Profit)
	}
	if res.PartyBill.Number != "PTY20250401-1" || res.BrokerBill.Number != "BRK20250401-1" {
		t.Errorf("bill numbers = %s / %s", res.PartyBill.Number, res.BrokerBill.Number)
	}

	last, err := f.store.LatestLedgerEntry(ctx, "P001")
	if err != nil {
		t.Fatal(err)
	}
	if !last.Balance.Equal(d(5005)) {
		t.Errorf("party balance = %s, want 5005 (amount + brokerage)", last.Balance)
	}
	if last.Kind != models.EntryPartyBill {
		t.Errorf("entry kind = %s, want PARTY_BILL", last.Kind)
	}
}

// Bill items must sum to the parent bill's total from that bill's
// perspective.
func TestGenerateBills_ItemSumInvariant(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.GenerateBills(context.Background(), baseInput(
		TradeRow{InstrumentCode: "RELIANCE", TradeType: models.TradeTypeTrading, ContractType: models.ContractBuy, Quantity: 100, Rate: d(50), TradeDate: tradeDate},
		TradeRow{InstrumentCode: "RELIANCE", TradeType: models.TradeTypeDelivery, ContractType: models.ContractSell, Quantity: 30, Rate: d(1234.55), TradeDate: tradeDate},
		TradeRow{InstrumentCode: "NIFTY-FUT", TradeType: models.TradeTypeTrading, ContractType: models.ContractBuy, Quantity: 50, Rate: d(22150.10), TradeDate: tradeDate},
	))
	if err != nil {
		t.Fatalf("GenerateBills: %v", err)
	}

	tolerance := d(0.01)
	sums := map[string]decimal.Decimal{}
	fees := map[string]decimal.Decimal{}
	for _, item := range res.Items {
		sums[item.BillID] = sums[item.BillID].Add(item.Amount)
		fees[item.BillID] = fees[item.BillID].Add(item.BrokerageAmount)
	}
	if diff := sums[res.PartyBill.ID].Sub(res.PartyBill.TotalAmount).Abs(); diff.GreaterThan(tolerance) {
		t.Errorf("party items sum %s vs bill total %s", sums[res.PartyBill.ID], res.PartyBill.TotalAmount)
	}
	if diff := fees[res.PartyBill.ID].Sub(res.PartyBill.BrokerageAmount).Abs(); diff.GreaterThan(tolerance) {
		t.Errorf("party items brokerage %s vs bill %s", fees[res.PartyBill.ID], res.PartyBill.BrokerageAmount)
	}
	if diff := fees[res.BrokerBill.ID].Sub(res.BrokerBill.TotalAmount).Abs(); diff.GreaterThan(tolerance) {
		t.Errorf("broker items share %s vs bill total %s", fees[res.BrokerBill.ID], res.BrokerBill.TotalAmount)
	}
	if len(res.Items) != 6 {
		t.Errorf("items = %d, want 2 per contract", len(res.Items))
	}
}

func TestGenerateBills_RejectsWholeBatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GenerateBills(context.Background(), baseInput(
		TradeRow{InstrumentCode: "RELIANCE", TradeType: models.TradeTypeTrading, ContractType: models.ContractBuy, Quantity: 100, Rate: d(50), TradeDate: tradeDate},
		TradeRow{InstrumentCode: "RELIANCE", TradeType: models.TradeTypeTrading, ContractType: models.ContractBuy, Quantity: 0, Rate: d(50), TradeDate: tradeDate},
		TradeRow{InstrumentCode: "UNKNOWN", TradeType: models.TradeTypeTrading, ContractType: models.ContractBuy, Quantity: 10, Rate: d(50), TradeDate: tradeDate},
	))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), "row 1") || !strings.Contains(err.Error(), "row 2") {
		t.Errorf("error should list offending row indices, got %q", err)
	}

	// Nothing may be persisted for a rejected batch.
	entries, _ := f.store.ListAllLedgerEntries(context.Background())
	if len(entries) != 0 {
		t.Errorf("rejected batch persisted %d ledger entries", len(entries))
	}
	bills, _ := f.store.ListBills(context.Background(), "")
	if len(bills) != 0 {
		t.Errorf("rejected batch persisted %d bills", len(bills))
	}
}

func TestGenerateBills_IdempotentRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := baseInput(TradeRow{
		InstrumentCode: "RELIANCE", TradeType: models.TradeTypeTrading,
		ContractType: models.ContractBuy, Quantity: 100, Rate: d(50), TradeDate: tradeDate,
	})
	input.BatchRef = "upload-42"

	if _, err := f.svc.GenerateBills(ctx, input); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if _, err := f.svc.GenerateBills(ctx, input); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("retry: expected ErrDuplicate, got %v", err)
	}

	entries, _ := f.store.ListLedgerEntries(ctx, "P001")
	if len(entries) != 1 {
		t.Errorf("retry double-posted: %d party entries, want 1", len(entries))
	}
}

// Editing the party's slab after bill generation must not alter the
// brokerage snapshotted on posted contracts.
func TestGenerateBills_SlabSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.GenerateBills(ctx, baseInput(TradeRow{
		InstrumentCode: "RELIANCE", TradeType: models.TradeTypeTrading,
		ContractType: models.ContractBuy, Quantity: 100, Rate: d(50), TradeDate: tradeDate,
	}))
	if err != nil {
		t.Fatal(err)
	}

	if err := f.store.UpdatePartySlabs(ctx, "P001", models.SlabRates{Trading: d(9.99), Delivery: d(9.99)}); err != nil {
		t.Fatal(err)
	}

	if !res.Contracts[0].BrokerageRate.Equal(d(0.10)) {
		t.Errorf("snapshotted rate changed: %s", res.Contracts[0].BrokerageRate)
	}

	// A new batch picks up the edited slab.
	input := baseInput(TradeRow{
		InstrumentCode: "RELIANCE", TradeType: models.TradeTypeTrading,
		ContractType: models.ContractBuy, Quantity: 100, Rate: d(50), TradeDate: tradeDate,
	})
	res2, err := f.svc.GenerateBills(ctx, input)
	if err != nil {
		t.Fatal(err)
	}
	if !res2.Contracts[0].BrokerageRate.Equal(d(9.99)) {
		t.Errorf("new contract rate = %s, want 9.99", res2.Contracts[0].BrokerageRate)
	}
}

// Derivative rows update positions exactly once per contract; cash rows do
// not touch the position ledger.
func TestGenerateBills_PositionUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GenerateBills(ctx, baseInput(
		TradeRow{InstrumentCode: "NIFTY-FUT", TradeType: models.TradeTypeTrading, ContractType: models.ContractBuy, Quantity: 100, Rate: d(10), TradeDate: tradeDate},
		TradeRow{InstrumentCode: "NIFTY-FUT", TradeType: models.TradeTypeTrading, ContractType: models.ContractBuy, Quantity: 100, Rate: d(20), TradeDate: tradeDate},
		TradeRow{InstrumentCode: "NIFTY-FUT", TradeType: models.TradeTypeTrading, ContractType: models.ContractSell, Quantity: 50, Rate: d(30), TradeDate: tradeDate},
		TradeRow{InstrumentCode: "RELIANCE", TradeType: models.TradeTypeDelivery, ContractType: models.ContractBuy, Quantity: 10, Rate: d(2900), TradeDate: tradeDate},
	))
	if err != nil {
		t.Fatal(err)
	}

	pos, err := f.store.GetPosition(ctx, "party-1", "ins-nifty")
	if err != nil {
		t.Fatal(err)
	}
	if pos.Quantity != 150 {
		t.Errorf("qty = %d, want 150", pos.Quantity)
	}
	if !pos.AvgPrice.Equal(d(15)) {
		t.Errorf("avg = %s, want 15", pos.AvgPrice)
	}
	if !pos.RealizedPnL.Equal(d(750)) {
		t.Errorf("realized = %s, want 750", pos.RealizedPnL)
	}

	positions, err := f.store.ListPositions(ctx, "party-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 {
		t.Errorf("cash instrument leaked into position ledger: %d positions", len(positions))
	}
}

func TestRecordPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.GenerateBills(ctx, baseInput(TradeRow{
		InstrumentCode: "RELIANCE", TradeType: models.TradeTypeTrading,
		ContractType: models.ContractBuy, Quantity: 100, Rate: d(50), TradeDate: tradeDate,
	}))
	if err != nil {
		t.Fatal(err)
	}

	bill, err := f.svc.RecordPayment(ctx, "P001", res.PartyBill.Number, d(2000), tradeDate)
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if bill.Status != models.BillPartial {
		t.Errorf("status = %s, want partial", bill.Status)
	}

	last, _ := f.store.LatestLedgerEntry(ctx, "P001")
	if !last.Balance.Equal(d(3005)) {
		t.Errorf("balance after payment = %s, want 3005", last.Balance)
	}
	if last.Kind != models.EntryPayment {
		t.Errorf("kind = %s, want PAYMENT", last.Kind)
	}

	bill, err = f.svc.RecordPayment(ctx, "P001", res.PartyBill.Number, d(3000), tradeDate)
	if err != nil {
		t.Fatal(err)
	}
	if bill.Status != models.BillPaid {
		t.Errorf("status = %s, want paid", bill.Status)
	}

	if _, err := f.svc.RecordPayment(ctx, "P001", res.PartyBill.Number, d(-5), tradeDate); !errors.Is(err, ErrValidation) {
		t.Errorf("negative payment: got %v", err)
	}
}

func TestGenerateBills_UnknownMasterData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := TradeRow{InstrumentCode: "RELIANCE", TradeType: models.TradeTypeTrading, ContractType: models.ContractBuy, Quantity: 1, Rate: d(1), TradeDate: tradeDate}

	in := baseInput(row)
	in.PartyCode = "NOPE"
	if _, err := f.svc.GenerateBills(ctx, in); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown party: got %v", err)
	}
	in = baseInput(row)
	in.BrokerCode = "NOPE"
	if _, err := f.svc.GenerateBills(ctx, in); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown broker: got %v", err)
	}
	in = baseInput(row)
	in.SettlementNumber = "NOPE"
	if _, err := f.svc.GenerateBills(ctx, in); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown settlement: got %v", err)
	}
}
