package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/agamariel/fooddispatch/internal/fare"
	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/agamariel/fooddispatch/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	restaurantShare  = decimal.RequireFromString("0.87")
	driverBaseShare  = decimal.RequireFromString("0.75")
	driverPerKmShare = decimal.RequireFromString("0.20")
)

const (
	PayeeRestaurant = "restaurant"
	PayeeDriver     = "driver"
	PayeePlatform   = "platform"
)

// Split: распределение выручки заказа.
type Split struct {
	Restaurant decimal.Decimal
	Driver     decimal.Decimal
	Platform   decimal.Decimal
}

// Total возвращает сумму всех долей.
func (s Split) Total() decimal.Decimal {
	return s.Restaurant.Add(s.Driver).Add(s.Platform)
}

// ComputeSplit делит выручку заказа между рестораном, водителем и платформой.
// S = subtotal, F = delivery fee, T = tax. Сумма долей равна S + F + T.
func ComputeSplit(order *models.Order, hasDriver bool) Split {
	food := order.Subtotal
	restaurant := food.Mul(restaurantShare).Round(2)
	platform := food.Sub(restaurant)

	fee := order.DeliveryFee
	driver := decimal.Zero
	if hasDriver && fee.IsPositive() {
		if fee.GreaterThanOrEqual(fare.BaseFee) {
			driver = fare.BaseFee.Mul(driverBaseShare)
			remainder := fee.Sub(fare.BaseFee)
			if remainder.IsPositive() {
				kmEquivalent := remainder.Div(fare.PerKmRate)
				driver = driver.Add(kmEquivalent.Mul(driverPerKmShare)).Round(2)
			}
		} else {
			driver = fee.Mul(driverBaseShare).Round(2)
		}
	}
	platform = platform.Add(fee.Sub(driver)).Add(order.Tax)

	return Split{Restaurant: restaurant, Driver: driver.Round(2), Platform: platform}
}

// Settlement: результат расчёта заказа.
type Settlement struct {
	OrderID  uuid.UUID
	Applied  bool
	Split    Split
	Postings []models.Posting
}

// SettlementLedger проводит расчёт доставленного заказа ровно один раз.
type SettlementLedger struct {
	orders          OrderStorage
	wallets         WalletStorage
	drivers         DriverStorage
	catalog         CatalogStorage
	audit           AuditSink
	platformAccount uuid.UUID
	logger          *log.Logger
}

// NewSettlementLedger создаёт SettlementLedger.
func NewSettlementLedger(orders OrderStorage, wallets WalletStorage, drivers DriverStorage, catalog CatalogStorage, audit AuditSink, platformAccount uuid.UUID, logger *log.Logger) *SettlementLedger {
	if logger == nil {
		logger = log.Default()
	}
	return &SettlementLedger{
		orders:          orders,
		wallets:         wallets,
		drivers:         drivers,
		catalog:         catalog,
		audit:           audit,
		platformAccount: platformAccount,
		logger:          logger,
	}
}

// Settle рассчитывает доставленный заказ. Повторный вызов возвращает Applied = false.
func (l *SettlementLedger) Settle(ctx context.Context, orderID uuid.UUID) (*Settlement, error) {
	order, err := l.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusDelivered {
		return nil, ErrInvalidState
	}
	if order.Settled {
		return &Settlement{OrderID: orderID, Applied: false}, nil
	}

	restaurant, err := l.catalog.GetRestaurant(ctx, order.RestaurantID)
	if err != nil {
		return nil, fmt.Errorf("get restaurant: %w", err)
	}

	var driver *models.Driver
	if order.DriverID != nil {
		driver, err = l.drivers.GetByID(ctx, *order.DriverID)
		if err != nil {
			return nil, fmt.Errorf("get driver: %w", err)
		}
	}

	split := ComputeSplit(order, driver != nil)
	postings := make([]models.Posting, 0, 3)
	postings = appendPosting(postings, restaurant.OwnerID, PayeeRestaurant, split.Restaurant,
		fmt.Sprintf("order #%d food share", order.Number))
	if driver != nil {
		postings = appendPosting(postings, driver.UserID, PayeeDriver, split.Driver,
			fmt.Sprintf("order #%d delivery", order.Number))
	}
	postings = appendPosting(postings, l.platformAccount, PayeePlatform, split.Platform,
		fmt.Sprintf("order #%d commission, delivery and tax", order.Number))

	err = l.wallets.ApplySettlement(ctx, orderID, postings)
	if errors.Is(err, storage.ErrAlreadySettled) {
		return &Settlement{OrderID: orderID, Applied: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("apply settlement: %w", err)
	}

	l.logger.Printf("order %s settled: restaurant %s, driver %s, platform %s",
		orderID, split.Restaurant, split.Driver, split.Platform)
	for _, p := range postings {
		owner := p.OwnerID
		l.record(ctx, models.AuditRecord{
			ActorID:     &owner,
			Action:      "wallet_credit",
			Description: fmt.Sprintf("credited %s to %s for order #%d", p.Amount.StringFixed(2), p.Payee, order.Number),
			Entity:      "wallet",
			EntityID:    owner.String(),
		})
	}

	return &Settlement{OrderID: orderID, Applied: true, Split: split, Postings: postings}, nil
}

func (l *SettlementLedger) record(ctx context.Context, rec models.AuditRecord) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Record(ctx, rec); err != nil {
		l.logger.Printf("audit %s failed: %v", rec.Action, err)
	}
}

func appendPosting(list []models.Posting, owner uuid.UUID, payee string, amount decimal.Decimal, description string) []models.Posting {
	if amount.IsZero() {
		return list
	}
	return append(list, models.Posting{OwnerID: owner, Payee: payee, Amount: amount, Description: description})
}
