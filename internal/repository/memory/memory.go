package memory

import (
	"context"
	"sync"
	"time"

	"github.com/brokersoft/backoffice/internal/models"
	"github.com/brokersoft/backoffice/internal/repository"
	"github.com/shopspring/decimal"
)

// Store implements repository.Store in process memory. Used for local
// development and tests; data resets on restart.
type Store struct {
	mu sync.RWMutex

	parties     map[string]models.Party
	brokers     map[string]models.Broker
	instruments map[string]models.Instrument
	settlements map[string]models.Settlement

	contracts map[string]models.Contract
	bills     map[string]models.Bill // keyed by bill number
	items     map[string][]models.BillItem
	batchRefs map[string]struct{}

	ledger  []models.LedgerEntry
	nextSeq int64

	positions map[string]models.Position
}

func New() *Store {
	return &Store{
		parties:     make(map[string]models.Party),
		brokers:     make(map[string]models.Broker),
		instruments: make(map[string]models.Instrument),
		settlements: make(map[string]models.Settlement),
		contracts:   make(map[string]models.Contract),
		bills:       make(map[string]models.Bill),
		items:       make(map[string][]models.BillItem),
		batchRefs:   make(map[string]struct{}),
		positions:   make(map[string]models.Position),
		nextSeq:     1,
	}
}

func (s *Store) CreateParty(ctx context.Context, p models.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parties[p.Code]; ok {
		return repository.ErrDuplicateCode
	}
	s.parties[p.Code] = p
	return nil
}

func (s *Store) GetParty(ctx context.Context, code string) (*models.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parties[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListParties(ctx context.Context) ([]models.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Party, 0, len(s.parties))
	for _, p := range s.parties {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) UpdatePartySlabs(ctx context.Context, code string, slabs models.SlabRates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parties[code]
	if !ok {
		return repository.ErrNotFound
	}
	p.Slabs = slabs
	s.parties[code] = p
	return nil
}

func (s *Store) CreateBroker(ctx context.Context, b models.Broker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.brokers[b.Code]; ok {
		return repository.ErrDuplicateCode
	}
	s.brokers[b.Code] = b
	return nil
}

func (s *Store) GetBroker(ctx context.Context, code string) (*models.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.brokers[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (s *Store) ListBrokers(ctx context.Context) ([]models.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Broker, 0, len(s.brokers))
	for _, b := range s.brokers {
		out = append(out, b)
	}
	return out, nil
}

func (s *Store) UpdateBrokerSlabs(ctx context.Context, code string, slabs models.SlabRates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.brokers[code]
	if !ok {
		return repository.ErrNotFound
	}
	b.Slabs = slabs
	s.brokers[code] = b
	return nil
}

func (s *Store) CreateInstrument(ctx context.Context, ins models.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instruments[ins.Code]; ok {
		return repository.ErrDuplicateCode
	}
	s.instruments[ins.Code] = ins
	return nil
}

func (s *Store) GetInstrument(ctx context.Context, code string) (*models.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ins, ok := s.instruments[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &ins, nil
}

func (s *Store) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Instrument, 0, len(s.instruments))
	for _, ins := range s.instruments {
		out = append(out, ins)
	}
	return out, nil
}

func (s *Store) CreateSettlement(ctx context.Context, st models.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settlements[st.Number]; ok {
		return repository.ErrDuplicateCode
	}
	s.settlements[st.Number] = st
	return nil
}

func (s *Store) GetSettlement(ctx context.Context, number string) (*models.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settlements[number]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &st, nil
}

func (s *Store) ListSettlements(ctx context.Context) ([]models.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Settlement, 0, len(s.settlements))
	for _, st := range s.settlements {
		out = append(out, st)
	}
	return out, nil
}

// CreateBillBatch validates uniqueness first, then mutates, so a rejected
// batch leaves no partial state behind.
func (s *Store) CreateBillBatch(ctx context.Context, batch repository.BillBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.BatchRef != "" {
		if _, ok := s.batchRefs[batch.BatchRef]; ok {
			return repository.ErrDuplicateBatch
		}
	}
	if _, ok := s.bills[batch.PartyBill.Number]; ok {
		return repository.ErrDuplicateBatch
	}
	if _, ok := s.bills[batch.BrokerBill.Number]; ok {
		return repository.ErrDuplicateBatch
	}

	for _, c := range batch.Contracts {
		s.contracts[c.ID] = c
	}
	s.bills[batch.PartyBill.Number] = batch.PartyBill
	s.bills[batch.BrokerBill.Number] = batch.BrokerBill
	for _, item := range batch.Items {
		s.items[item.BillID] = append(s.items[item.BillID], item)
	}
	for _, e := range batch.Entries {
		e.Seq = s.nextSeq
		s.nextSeq++
		s.ledger = append(s.ledger, e)
	}
	if batch.BatchRef != "" {
		s.batchRefs[batch.BatchRef] = struct{}{}
	}
	return nil
}

func (s *Store) GetBill(ctx context.Context, number string) (*models.Bill, []models.BillItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bills[number]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	items := append([]models.BillItem(nil), s.items[b.ID]...)
	return &b, items, nil
}

func (s *Store) ListBills(ctx context.Context, billType models.BillType) ([]models.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Bill{}
	for _, b := range s.bills {
		if billType == "" || b.Type == billType {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) UpdateBillPayment(ctx context.Context, number string, paid decimal.Decimal, status models.BillStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[number]
	if !ok {
		return repository.ErrNotFound
	}
	b.PaidAmount = paid
	b.Status = status
	s.bills[number] = b
	return nil
}

func (s *Store) NextBillSequence(ctx context.Context, billDate time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := billDate.Format("20060102")
	n := 0
	for _, b := range s.bills {
		if b.BillDate.Format("20060102") == day {
			n++
		}
	}
	// Two bills (party + broker) share one sequence slot per batch.
	return n/2 + 1, nil
}

func (s *Store) AppendLedgerEntry(ctx context.Context, e models.LedgerEntry) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Seq = s.nextSeq
	s.nextSeq++
	s.ledger = append(s.ledger, e)
	return &e, nil
}

func (s *Store) LatestLedgerEntry(ctx context.Context, accountCode string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].AccountCode == accountCode {
			e := s.ledger[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, accountCode string) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.LedgerEntry{}
	for _, e := range s.ledger {
		if e.AccountCode == accountCode {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ListAllLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LedgerEntry(nil), s.ledger...), nil
}

func (s *Store) GetPosition(ctx context.Context, partyID, instrumentID string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[posKey(partyID, instrumentID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *Store) SavePosition(ctx context.Context, p models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[posKey(p.PartyID, p.InstrumentID)] = p
	return nil
}

func (s *Store) ListPositions(ctx context.Context, partyID string) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Position{}
	for _, p := range s.positions {
		if partyID == "" || p.PartyID == partyID {
			out = append(out, p)
		}
	}
	return out, nil
}

func posKey(partyID, instrumentID string) string {
	return partyID + "::" + instrumentID
}
