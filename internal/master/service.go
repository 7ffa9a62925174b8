// Package master manages the brokerage's master data: parties, brokers,
// instruments and settlements.
package master

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brokersoft/backoffice/internal/models"
	"github.com/brokersoft/backoffice/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrValidation = errors.New("validation_error")
	ErrDuplicate  = repository.ErrDuplicateCode
	ErrNotFound   = repository.ErrNotFound
)

type Service struct {
	store repository.MasterStore
	now   func() time.Time
	log   *logrus.Entry
}

func NewService(store repository.MasterStore, log *logrus.Logger) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log.WithField("component", "master-service"),
	}
}

func (s *Service) CreateParty(ctx context.Context, p models.Party) (*models.Party, error) {
	if p.Code == "" || p.Name == "" {
		return nil, fmt.Errorf("%w: code and name are required", ErrValidation)
	}
	if err := validSlabs(p.Slabs); err != nil {
		return nil, err
	}
	p.ID = uuid.NewString()
	p.CreatedAt = s.now()
	if err := s.store.CreateParty(ctx, p); err != nil {
		return nil, err
	}
	s.log.WithField("code", p.Code).Info("party created")
	return &p, nil
}

func (s *Service) GetParty(ctx context.Context, code string) (*models.Party, error) {
	return s.store.GetParty(ctx, code)
}

func (s *Service) ListParties(ctx context.Context) ([]models.Party, error) {
	return s.store.ListParties(ctx)
}

// UpdatePartySlabs edits the slabs going forward. Posted bills keep the rates
// snapshotted on their contracts.
func (s *Service) UpdatePartySlabs(ctx context.Context, code string, slabs models.SlabRates) error {
	if err := validSlabs(slabs); err != nil {
		return err
	}
	return s.store.UpdatePartySlabs(ctx, code, slabs)
}

func (s *Service) CreateBroker(ctx context.Context, b models.Broker) (*models.Broker, error) {
	if b.Code == "" || b.Name == "" {
		return nil, fmt.Errorf("%w: code and name are required", ErrValidation)
	}
	if err := validSlabs(b.Slabs); err != nil {
		return nil, err
	}
	b.ID = uuid.NewString()
	b.CreatedAt = s.now()
	if err := s.store.CreateBroker(ctx, b); err != nil {
		return nil, err
	}
	s.log.WithField("code", b.Code).Info("broker created")
	return &b, nil
}

func (s *Service) GetBroker(ctx context.Context, code string) (*models.Broker, error) {
	return s.store.GetBroker(ctx, code)
}

func (s *Service) ListBrokers(ctx context.Context) ([]models.Broker, error) {
	return s.store.ListBrokers(ctx)
}

func (s *Service) UpdateBrokerSlabs(ctx context.Context, code string, slabs models.SlabRates) error {
	if err := validSlabs(slabs); err != nil {
		return err
	}
	return s.store.UpdateBrokerSlabs(ctx, code, slabs)
}

func (s *Service) CreateInstrument(ctx context.Context, ins models.Instrument) (*models.Instrument, error) {
	if ins.Code == "" || ins.Name == "" {
		return nil, fmt.Errorf("%w: code and name are required", ErrValidation)
	}
	switch ins.Type {
	case "", models.InstrumentFuture, models.InstrumentCallOpt, models.InstrumentPutOpt:
	default:
		return nil, fmt.Errorf("%w: instrument type must be FUT, CE or PE", ErrValidation)
	}
	if ins.Type != "" && ins.ExpiryDate == nil {
		return nil, fmt.Errorf("%w: derivative instruments need an expiry date", ErrValidation)
	}
	if (ins.Type == models.InstrumentCallOpt || ins.Type == models.InstrumentPutOpt) && !ins.StrikePrice.IsPositive() {
		return nil, fmt.Errorf("%w: options need a positive strike price", ErrValidation)
	}
	ins.ID = uuid.NewString()
	ins.CreatedAt = s.now()
	if err := s.store.CreateInstrument(ctx, ins); err != nil {
		return nil, err
	}
	return &ins, nil
}

func (s *Service) GetInstrument(ctx context.Context, code string) (*models.Instrument, error) {
	return s.store.GetInstrument(ctx, code)
}

func (s *Service) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	return s.store.ListInstruments(ctx)
}

func (s *Service) CreateSettlement(ctx context.Context, st models.Settlement) (*models.Settlement, error) {
	if st.Number == "" {
		return nil, fmt.Errorf("%w: settlement number is required", ErrValidation)
	}
	switch st.Type {
	case models.SettlementDelivery, models.SettlementTrading, models.SettlementAuction:
	default:
		return nil, fmt.Errorf("%w: settlement type must be delivery, trading or auction", ErrValidation)
	}
	if st.EndDate.Before(st.StartDate) {
		return nil, fmt.Errorf("%w: end date before start date", ErrValidation)
	}
	st.ID = uuid.NewString()
	st.CreatedAt = s.now()
	if err := s.store.CreateSettlement(ctx, st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Service) GetSettlement(ctx context.Context, number string) (*models.Settlement, error) {
	return s.store.GetSettlement(ctx, number)
}

func (s *Service) ListSettlements(ctx context.Context) ([]models.Settlement, error) {
	return s.store.ListSettlements(ctx)
}

func validSlabs(slabs models.SlabRates) error {
	if slabs.Trading.IsNegative() || slabs.Delivery.IsNegative() {
		return fmt.Errorf("%w: slab rates cannot be negative", ErrValidation)
	}
	return nil
}
