package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/brokersoft/backoffice/internal/models"
	"github.com/brokersoft/backoffice/internal/repository"
	"github.com/shopspring/decimal"

	"github.com/lib/pq"
)

// Store implements repository.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateParty(ctx context.Context, p models.Party) error {
	const query = `
		INSERT INTO parties
		(id, code, name, address, phone, trading_slab, delivery_slab, interest_rate, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Code, p.Name, p.Address, p.Phone, p.Slabs.Trading, p.Slabs.Delivery, p.InterestRate, p.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicateCode
	}
	return err
}

func (s *Store) GetParty(ctx context.Context, code string) (*models.Party, error) {
	const query = `
		SELECT id, code, name, address, phone, trading_slab, delivery_slab, interest_rate, created_at
		FROM parties WHERE code = $1
	`
	var p models.Party
	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&p.ID, &p.Code, &p.Name, &p.Address, &p.Phone, &p.Slabs.Trading, &p.Slabs.Delivery, &p.InterestRate, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListParties(ctx context.Context) ([]models.Party, error) {
	const query = `
		SELECT id, code, name, address, phone, trading_slab, delivery_slab, interest_rate, created_at
		FROM parties ORDER BY code ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Party{}
	for rows.Next() {
		var p models.Party
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Address, &p.Phone, &p.Slabs.Trading, &p.Slabs.Delivery, &p.InterestRate, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePartySlabs(ctx context.Context, code string, slabs models.SlabRates) error {
	const query = `UPDATE parties SET trading_slab = $2, delivery_slab = $3 WHERE code = $1`
	return s.execExpectingRow(ctx, query, code, slabs.Trading, slabs.Delivery)
}

func (s *Store) CreateBroker(ctx context.Context, b models.Broker) error {
	const query = `
		INSERT INTO brokers
		(id, code, name, address, phone, trading_slab, delivery_slab, interest_rate, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.Code, b.Name, b.Address, b.Phone, b.Slabs.Trading, b.Slabs.Delivery, b.InterestRate, b.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicateCode
	}
	return err
}

func (s *Store) GetBroker(ctx context.Context, code string) (*models.Broker, error) {
	const query = `
		SELECT id, code, name, address, phone, trading_slab, delivery_slab, interest_rate, created_at
		FROM brokers WHERE code = $1
	`
	var b models.Broker
	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&b.ID, &b.Code, &b.Name, &b.Address, &b.Phone, &b.Slabs.Trading, &b.Slabs.Delivery, &b.InterestRate, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBrokers(ctx context.Context) ([]models.Broker, error) {
	const query = `
		SELECT id, code, name, address, phone, trading_slab, delivery_slab, interest_rate, created_at
		FROM brokers ORDER BY code ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Broker{}
	for rows.Next() {
		var b models.Broker
		if err := rows.Scan(&b.ID, &b.Code, &b.Name, &b.Address, &b.Phone, &b.Slabs.Trading, &b.Slabs.Delivery, &b.InterestRate, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBrokerSlabs(ctx context.Context, code string, slabs models.SlabRates) error {
	const query = `UPDATE brokers SET trading_slab = $2, delivery_slab = $3 WHERE code = $1`
	return s.execExpectingRow(ctx, query, code, slabs.Trading, slabs.Delivery)
}

func (s *Store) CreateInstrument(ctx context.Context, ins models.Instrument) error {
	const query = `
		INSERT INTO instruments
		(id, code, name, exchange_code, instrument_type, expiry_date, strike_price, lot_size, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	_, err := s.db.ExecContext(ctx, query,
		ins.ID, ins.Code, ins.Name, ins.ExchangeCode, nullableString(string(ins.Type)), ins.ExpiryDate, ins.StrikePrice, ins.LotSize, ins.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicateCode
	}
	return err
}

func (s *Store) GetInstrument(ctx context.Context, code string) (*models.Instrument, error) {
	const query = `
		SELECT id, code, name, exchange_code, instrument_type, expiry_date, strike_price, lot_size, created_at
		FROM instruments WHERE code = $1
	`
	ins, err := scanInstrument(s.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ins, nil
}

func (s *Store) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	const query = `
		SELECT id, code, name, exchange_code, instrument_type, expiry_date, strike_price, lot_size, created_at
		FROM instruments ORDER BY code ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Instrument{}
	for rows.Next() {
		ins, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ins)
	}
	return out, rows.Err()
}

func (s *Store) CreateSettlement(ctx context.Context, st models.Settlement) error {
	const query = `
		INSERT INTO settlements
		(id, settlement_number, type, start_date, end_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	_, err := s.db.ExecContext(ctx, query, st.ID, st.Number, st.Type, st.StartDate, st.EndDate, st.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicateCode
	}
	return err
}

func (s *Store) GetSettlement(ctx context.Context, number string) (*models.Settlement, error) {
	const query = `
		SELECT id, settlement_number, type, start_date, end_date, created_at
		FROM settlements WHERE settlement_number = $1
	`
	var st models.Settlement
	err := s.db.QueryRowContext(ctx, query, number).Scan(&st.ID, &st.Number, &st.Type, &st.StartDate, &st.EndDate, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) ListSettlements(ctx context.Context) ([]models.Settlement, error) {
	const query = `
		SELECT id, settlement_number, type, start_date, end_date, created_at
		FROM settlements ORDER BY settlement_number ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Settlement{}
	for rows.Next() {
		var st models.Settlement
		if err := rows.Scan(&st.ID, &st.Number, &st.Type, &st.StartDate, &st.EndDate, &st.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CreateBillBatch writes contracts, both bills, bill items and ledger entries
// in one transaction. Unique constraints on bill number and batch reference
// turn a retried batch into ErrDuplicateBatch with nothing persisted.
func (s *Store) CreateBillBatch(ctx context.Context, batch repository.BillBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if batch.BatchRef != "" {
		const refQuery = `INSERT INTO bill_batches (batch_ref, created_at) VALUES ($1, $2)`
		if _, err := tx.ExecContext(ctx, refQuery, batch.BatchRef, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			if isUniqueViolation(err) {
				return repository.ErrDuplicateBatch
			}
			return err
		}
	}

	const contractQuery = `
		INSERT INTO contracts
		(id, party_id, broker_id, settlement_id, instrument_id, trade_type, contract_type,
		 quantity, rate, amount, brokerage_rate, brokerage_amount, trade_date, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`
	for _, c := range batch.Contracts {
		if _, err := tx.ExecContext(ctx, contractQuery,
			c.ID, c.PartyID, c.BrokerID, c.SettlementID, c.InstrumentID, c.TradeType, c.ContractType,
			c.Quantity, c.Rate, c.Amount, c.BrokerageRate, c.BrokerageAmount, c.TradeDate, c.Status, c.CreatedAt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	const billQuery = `
		INSERT INTO bills
		(id, bill_number, bill_type, party_id, broker_id, bill_date, total_amount, brokerage_amount, paid_amount, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`
	for _, b := range []models.Bill{batch.PartyBill, batch.BrokerBill} {
		if _, err := tx.ExecContext(ctx, billQuery,
			b.ID, b.Number, b.Type, nullableString(b.PartyID), nullableString(b.BrokerID),
			b.BillDate, b.TotalAmount, b.BrokerageAmount, b.PaidAmount, b.Status, b.CreatedAt); err != nil {
			_ = tx.Rollback()
			if isUniqueViolation(err) {
				return repository.ErrDuplicateBatch
			}
			return err
		}
	}

	const itemQuery = `
		INSERT INTO bill_items
		(id, bill_id, contract_id, instrument_id, quantity, rate, amount, brokerage_amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	for _, item := range batch.Items {
		if _, err := tx.ExecContext(ctx, itemQuery,
			item.ID, item.BillID, item.ContractID, item.InstrumentID, item.Quantity, item.Rate, item.Amount, item.BrokerageAmount, item.CreatedAt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	const entryQuery = `
		INSERT INTO ledger_entries
		(id, account_code, party_id, entry_date, kind, particulars, debit, credit, balance, bill_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`
	for _, e := range batch.Entries {
		if _, err := tx.ExecContext(ctx, entryQuery,
			e.ID, e.AccountCode, nullableString(e.PartyID), e.EntryDate, e.Kind, e.Particulars,
			e.Debit, e.Credit, e.Balance, nullableString(e.BillID), e.CreatedAt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetBill(ctx context.Context, number string) (*models.Bill, []models.BillItem, error) {
	const billQuery = `
		SELECT id, bill_number, bill_type, party_id, broker_id, bill_date, total_amount, brokerage_amount, paid_amount, status, created_at
		FROM bills WHERE bill_number = $1
	`
	var b models.Bill
	var partyID, brokerID sql.NullString
	err := s.db.QueryRowContext(ctx, billQuery, number).Scan(
		&b.ID, &b.Number, &b.Type, &partyID, &brokerID, &b.BillDate, &b.TotalAmount, &b.BrokerageAmount, &b.PaidAmount, &b.Status, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	b.PartyID = partyID.String
	b.BrokerID = brokerID.String

	const itemQuery = `
		SELECT id, bill_id, contract_id, instrument_id, quantity, rate, amount, brokerage_amount, created_at
		FROM bill_items WHERE bill_id = $1 ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, itemQuery, b.ID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	items := []models.BillItem{}
	for rows.Next() {
		var it models.BillItem
		if err := rows.Scan(&it.ID, &it.BillID, &it.ContractID, &it.InstrumentID, &it.Quantity, &it.Rate, &it.Amount, &it.BrokerageAmount, &it.CreatedAt); err != nil {
			return nil, nil, err
		}
		items = append(items, it)
	}
	return &b, items, rows.Err()
}

func (s *Store) ListBills(ctx context.Context, billType models.BillType) ([]models.Bill, error) {
	query := `
		SELECT id, bill_number, bill_type, party_id, broker_id, bill_date, total_amount, brokerage_amount, paid_amount, status, created_at
		FROM bills
	`
	args := []interface{}{}
	if billType != "" {
		query += ` WHERE bill_type = $1`
		args = append(args, billType)
	}
	query += ` ORDER BY bill_number ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Bill{}
	for rows.Next() {
		var b models.Bill
		var partyID, brokerID sql.NullString
		if err := rows.Scan(&b.ID, &b.Number, &b.Type, &partyID, &brokerID, &b.BillDate, &b.TotalAmount, &b.BrokerageAmount, &b.PaidAmount, &b.Status, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.PartyID = partyID.String
		b.BrokerID = brokerID.String
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBillPayment(ctx context.Context, number string, paid decimal.Decimal, status models.BillStatus) error {
	const query = `UPDATE bills SET paid_amount = $2, status = $3 WHERE bill_number = $1`
	return s.execExpectingRow(ctx, query, number, paid, status)
}

func (s *Store) NextBillSequence(ctx context.Context, billDate time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM bills WHERE bill_date::date = $1::date`
	var n int
	if err := s.db.QueryRowContext(ctx, query, billDate).Scan(&n); err != nil {
		return 0, err
	}
	// Two bills (party + broker) share one sequence slot per batch.
	return n/2 + 1, nil
}

func (s *Store) AppendLedgerEntry(ctx context.Context, e models.LedgerEntry) (*models.LedgerEntry, error) {
	const query = `
		INSERT INTO ledger_entries
		(id, account_code, party_id, entry_date, kind, particulars, debit, credit, balance, bill_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING seq
	`
	err := s.db.QueryRowContext(ctx, query,
		e.ID, e.AccountCode, nullableString(e.PartyID), e.EntryDate, e.Kind, e.Particulars,
		e.Debit, e.Credit, e.Balance, nullableString(e.BillID), e.CreatedAt).Scan(&e.Seq)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) LatestLedgerEntry(ctx context.Context, accountCode string) (*models.LedgerEntry, error) {
	const query = `
		SELECT seq, id, account_code, party_id, entry_date, kind, particulars, debit, credit, balance, bill_id, created_at
		FROM ledger_entries WHERE account_code = $1
		ORDER BY seq DESC LIMIT 1
	`
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, accountCode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, accountCode string) ([]models.LedgerEntry, error) {
	const query = `
		SELECT seq, id, account_code, party_id, entry_date, kind, particulars, debit, credit, balance, bill_id, created_at
		FROM ledger_entries WHERE account_code = $1
		ORDER BY seq ASC
	`
	return s.queryEntries(ctx, query, accountCode)
}

func (s *Store) ListAllLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	const query = `
		SELECT seq, id, account_code, party_id, entry_date, kind, particulars, debit, credit, balance, bill_id, created_at
		FROM ledger_entries ORDER BY seq ASC
	`
	return s.queryEntries(ctx, query)
}

func (s *Store) GetPosition(ctx context.Context, partyID, instrumentID string) (*models.Position, error) {
	const query = `
		SELECT id, party_id, instrument_id, quantity, avg_price, realized_pnl, last_trade_rate, last_trade_date, created_at, updated_at
		FROM positions WHERE party_id = $1 AND instrument_id = $2
	`
	var p models.Position
	err := s.db.QueryRowContext(ctx, query, partyID, instrumentID).Scan(
		&p.ID, &p.PartyID, &p.InstrumentID, &p.Quantity, &p.AvgPrice, &p.RealizedPnL, &p.LastTradeRate, &p.LastTradeDate, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SavePosition(ctx context.Context, p models.Position) error {
	const query = `
		INSERT INTO positions
		(id, party_id, instrument_id, quantity, avg_price, realized_pnl, last_trade_rate, last_trade_date, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (party_id, instrument_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			avg_price = EXCLUDED.avg_price,
			realized_pnl = EXCLUDED.realized_pnl,
			last_trade_rate = EXCLUDED.last_trade_rate,
			last_trade_date = EXCLUDED.last_trade_date,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.PartyID, p.InstrumentID, p.Quantity, p.AvgPrice, p.RealizedPnL, p.LastTradeRate, p.LastTradeDate, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *Store) ListPositions(ctx context.Context, partyID string) ([]models.Position, error) {
	query := `
		SELECT id, party_id, instrument_id, quantity, avg_price, realized_pnl, last_trade_rate, last_trade_date, created_at, updated_at
		FROM positions
	`
	args := []interface{}{}
	if partyID != "" {
		query += ` WHERE party_id = $1`
		args = append(args, partyID)
	}
	query += ` ORDER BY party_id ASC, instrument_id ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Position{}
	for rows.Next() {
		var p models.Position
		if err := rows.Scan(&p.ID, &p.PartyID, &p.InstrumentID, &p.Quantity, &p.AvgPrice, &p.RealizedPnL, &p.LastTradeRate, &p.LastTradeDate, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...interface{}) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) execExpectingRow(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var partyID, billID sql.NullString
	if err := row.Scan(&e.Seq, &e.ID, &e.AccountCode, &partyID, &e.EntryDate, &e.Kind, &e.Particulars,
		&e.Debit, &e.Credit, &e.Balance, &billID, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.PartyID = partyID.String
	e.BillID = billID.String
	return &e, nil
}

func scanInstrument(row scanner) (*models.Instrument, error) {
	var ins models.Instrument
	var insType sql.NullString
	var expiry sql.NullTime
	if err := row.Scan(&ins.ID, &ins.Code, &ins.Name, &ins.ExchangeCode, &insType, &expiry, &ins.StrikePrice, &ins.LotSize, &ins.CreatedAt); err != nil {
		return nil, err
	}
	ins.Type = models.InstrumentType(insType.String)
	if expiry.Valid {
		t := expiry.Time
		ins.ExpiryDate = &t
	}
	return &ins, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
