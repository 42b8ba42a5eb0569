package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/agamariel/fooddispatch/internal/storage"
)

// DriverOperations описывает операции водителя и подготовку участников.
type DriverOperations interface {
	Provision(ctx context.Context, req *models.ProvisionRequest) error
	Me(ctx context.Context, actor models.Actor) (*models.Driver, error)
	UpdateLocation(ctx context.Context, actor models.Actor, lat, lon float64) (*models.Driver, error)
	SetAvailability(ctx context.Context, actor models.Actor, available bool) (*models.Driver, error)
	Offers(ctx context.Context, actor models.Actor) ([]*models.Order, error)
}

// DriverService управляет записями водителей и первичной регистрацией участников.
type DriverService struct {
	drivers  DriverStorage
	orders   OrderStorage
	wallets  WalletStorage
	contacts ContactStorage
	audit    AuditSink
	clock    func() time.Time
	logger   *log.Logger
}

func NewDriverService(drivers DriverStorage, orders OrderStorage, wallets WalletStorage, contacts ContactStorage, audit AuditSink, clock func() time.Time, logger *log.Logger) *DriverService {
	if logger == nil {
		logger = log.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &DriverService{
		drivers:  drivers,
		orders:   orders,
		wallets:  wallets,
		contacts: contacts,
		audit:    audit,
		clock:    clock,
		logger:   logger,
	}
}

// Provision создаёт записи, нужные участнику после регистрации:
// контакт для уведомлений, кошелёк получателя выплат и запись водителя.
// Повторный вызов ничего не дублирует.
func (s *DriverService) Provision(ctx context.Context, req *models.ProvisionRequest) error {
	if !req.Role.Valid() {
		return ErrForbidden
	}

	contact := &models.Contact{UserID: req.UserID, Role: req.Role, PushAddress: req.PushAddress}
	if err := s.contacts.Upsert(ctx, contact); err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}

	if req.Role != models.RoleCustomer {
		if _, err := s.wallets.EnsureWallet(ctx, req.UserID); err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}
	}

	if req.Role == models.RoleDriver {
		driver := &models.Driver{UserID: req.UserID, PushAddress: req.PushAddress}
		err := s.drivers.Create(ctx, driver)
		if err != nil && !errors.Is(err, storage.ErrDriverExists) {
			return fmt.Errorf("create driver: %w", err)
		}
		if err == nil {
			s.logger.Printf("driver %s provisioned for user %s", driver.ID, req.UserID)
		}
	}

	if s.audit != nil {
		userID := req.UserID
		rec := models.AuditRecord{
			ActorID:     &userID,
			Action:      "provisioned",
			Description: fmt.Sprintf("user provisioned as %s", req.Role),
			Entity:      "user",
			EntityID:    req.UserID.String(),
		}
		if err := s.audit.Record(ctx, rec); err != nil {
			s.logger.Printf("audit provisioned failed: %v", err)
		}
	}
	return nil
}

// Me возвращает запись водителя текущего пользователя.
func (s *DriverService) Me(ctx context.Context, actor models.Actor) (*models.Driver, error) {
	if actor.Role != models.RoleDriver {
		return nil, ErrNotDriver
	}
	driver, err := s.drivers.GetByUserID(ctx, actor.UserID)
	if errors.Is(err, storage.ErrDriverNotFound) {
		return nil, ErrNotDriver
	}
	if err != nil {
		return nil, err
	}
	return driver, nil
}

// UpdateLocation сохраняет координаты водителя.
func (s *DriverService) UpdateLocation(ctx context.Context, actor models.Actor, lat, lon float64) (*models.Driver, error) {
	driver, err := s.Me(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := s.drivers.UpdateLocation(ctx, driver.ID, lat, lon); err != nil {
		return nil, err
	}
	driver.Lat = &lat
	driver.Lon = &lon
	return driver, nil
}

// SetAvailability включает или выключает приём заказов.
func (s *DriverService) SetAvailability(ctx context.Context, actor models.Actor, available bool) (*models.Driver, error) {
	driver, err := s.Me(ctx, actor)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	err = s.drivers.SetAvailability(ctx, driver.ID, available, now)
	if errors.Is(err, storage.ErrDriverUnavailable) {
		return nil, ErrDriverSuspended
	}
	if err != nil {
		return nil, err
	}

	driver.Available = available
	s.logger.Printf("driver %s availability set to %t", driver.ID, available)
	return driver, nil
}

// Offers возвращает заказы, ожидающие подтверждения водителем.
func (s *DriverService) Offers(ctx context.Context, actor models.Actor) ([]*models.Order, error) {
	driver, err := s.Me(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.orders.ListAwaitingByDriver(ctx, driver.ID)
}
