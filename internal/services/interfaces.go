package services

import (
	"context"
	"time"

	"github.com/agamariel/fooddispatch/internal/fare"
	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStorage определяет интерфейс для работы с заказами.
type OrderStorage interface {
	Create(ctx context.Context, order *models.Order, lines []*models.OrderLine) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetLines(ctx context.Context, orderID uuid.UUID) ([]*models.OrderLine, error)
	ReplaceLines(ctx context.Context, orderID uuid.UUID, lines []*models.OrderLine, totals fare.Totals, allowed []models.OrderStatus) error
	ListAwaitingByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Order, error)
	ListExpiredAwaiting(ctx context.Context, now time.Time, limit int) ([]*models.Order, error)
	ListUnsettledDelivered(ctx context.Context, limit int) ([]*models.Order, error)
	ClaimForDriver(ctx context.Context, orderID, driverID uuid.UUID, now, deadline time.Time) error
	ConfirmAcceptance(ctx context.Context, orderID, driverID uuid.UUID, now time.Time) error
	ExpireAttempt(ctx context.Context, orderID, driverID uuid.UUID, now time.Time) (*models.Driver, bool, error)
	MarkStuck(ctx context.Context, orderID uuid.UUID, now time.Time) error
	UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to models.OrderStatus, now time.Time) error
	Cancel(ctx context.Context, orderID uuid.UUID, from models.OrderStatus, now time.Time) error
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, now time.Time) error
}

// DriverStorage определяет интерфейс для работы с водителями.
type DriverStorage interface {
	Create(ctx context.Context, driver *models.Driver) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Driver, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Driver, error)
	UpdateLocation(ctx context.Context, driverID uuid.UUID, lat, lon float64) error
	SetAvailability(ctx context.Context, driverID uuid.UUID, available bool, now time.Time) error
	ListDispatchable(ctx context.Context, now time.Time, excluding []uuid.UUID) ([]*models.Driver, error)
}

// WalletStorage определяет интерфейс кошельков и проводок.
type WalletStorage interface {
	EnsureWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error)
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error)
	ListEntries(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
	ApplySettlement(ctx context.Context, orderID uuid.UUID, postings []models.Posting) error
	Withdraw(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal, description string) error
	Adjust(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal, description string) error
}

// CatalogStorage даёт цены и координаты ресторанов.
type CatalogStorage interface {
	GetRestaurant(ctx context.Context, id uuid.UUID) (*models.Restaurant, error)
	GetItem(ctx context.Context, restaurantID, itemID uuid.UUID) (*models.MenuItem, error)
	GetAddon(ctx context.Context, itemID, addonID uuid.UUID) (*models.MenuAddon, error)
}

// ContactStorage хранит адреса уведомлений пользователей.
type ContactStorage interface {
	Upsert(ctx context.Context, c *models.Contact) error
	Get(ctx context.Context, userID uuid.UUID) (*models.Contact, error)
}

// AuditSink принимает записи аудита.
type AuditSink interface {
	Record(ctx context.Context, rec models.AuditRecord) error
}

// Settler рассчитывает доставленный заказ.
type Settler interface {
	Settle(ctx context.Context, orderID uuid.UUID) (*Settlement, error)
}
