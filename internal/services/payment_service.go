package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/agamariel/fooddispatch/internal/notify"
	"github.com/agamariel/fooddispatch/internal/payments"
	"github.com/agamariel/fooddispatch/internal/storage"
	"github.com/google/uuid"
)

// PaymentConfirmer проверяет оплату заказа во внешнем банке.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, actor models.Actor, orderID uuid.UUID, phone string) (*models.Order, payments.Status, error)
}

// PaymentService подтверждает мобильные платежи через банк.
type PaymentService struct {
	orders   OrderStorage
	catalog  CatalogStorage
	verifier payments.Verifier
	notifier *Notifier
	audit    AuditSink
	clock    func() time.Time
	logger   *log.Logger
}

func NewPaymentService(orders OrderStorage, catalog CatalogStorage, verifier payments.Verifier, notifier *Notifier, audit AuditSink, clock func() time.Time, logger *log.Logger) *PaymentService {
	if logger == nil {
		logger = log.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &PaymentService{
		orders:   orders,
		catalog:  catalog,
		verifier: verifier,
		notifier: notifier,
		audit:    audit,
		clock:    clock,
		logger:   logger,
	}
}

// ConfirmPayment ищет платёж заказа в банке и при успехе переводит заказ
// из awaiting_payment в pending. Неподтверждённый платёж статус не меняет.
func (s *PaymentService) ConfirmPayment(ctx context.Context, actor models.Actor, orderID uuid.UUID, phone string) (*models.Order, payments.Status, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, "", err
	}

	restaurant, err := s.catalog.GetRestaurant(ctx, order.RestaurantID)
	if err != nil {
		return nil, "", fmt.Errorf("get restaurant: %w", err)
	}
	switch {
	case actor.Role == models.RoleAdmin:
	case ownsAsCustomer(order, actor):
	case actor.Role == models.RoleRestaurant && restaurant.OwnerID == actor.UserID:
	default:
		return nil, "", ErrForbidden
	}

	if !order.PaymentMethod.RequiresVerification() {
		return nil, "", ErrPaymentNotRequired
	}
	if order.Status != models.OrderStatusAwaitingPayment {
		return nil, "", ErrInvalidState
	}

	now := s.clock()
	status, err := s.verifier.Verify(ctx, payments.PaymentRecord{
		Reference: order.PaymentReference,
		Phone:     phone,
		From:      order.CreatedAt.Add(-24 * time.Hour),
		To:        now,
	})
	if err != nil {
		return nil, "", fmt.Errorf("verify payment: %w", err)
	}
	s.logger.Printf("payment %s for order %s: %s", order.PaymentReference, orderID, status)

	if status != payments.StatusConfirmed {
		return order, status, nil
	}

	err = s.orders.ConfirmPayment(ctx, orderID, now)
	if errors.Is(err, storage.ErrOrderStateConflict) {
		return nil, "", ErrInvalidState
	}
	if err != nil {
		return nil, "", err
	}

	order.Status = models.OrderStatusPending
	order.PaymentConfirmed = true
	order.UpdatedAt = now

	s.notifier.Restaurant(ctx, restaurant, notify.Message{
		Title: "Payment confirmed",
		Body:  fmt.Sprintf("Order #%d is paid and waiting for confirmation", order.Number),
		Data:  orderData(order),
	})
	s.notifier.Customer(ctx, order, notify.Message{
		Title: "Payment confirmed",
		Body:  fmt.Sprintf("We received the payment for order #%d", order.Number),
		Data:  orderData(order),
	})

	if s.audit != nil {
		actorID := actor.UserID
		rec := models.AuditRecord{
			ActorID:     &actorID,
			Action:      "payment_confirmed",
			Description: fmt.Sprintf("payment %s confirmed for order #%d", order.PaymentReference, order.Number),
			Entity:      "order",
			EntityID:    orderID.String(),
		}
		if err := s.audit.Record(ctx, rec); err != nil {
			s.logger.Printf("audit payment_confirmed failed: %v", err)
		}
	}
	return order, status, nil
}
