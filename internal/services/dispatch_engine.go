package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/agamariel/fooddispatch/internal/alerts"
	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/agamariel/fooddispatch/internal/notify"
	"github.com/agamariel/fooddispatch/internal/storage"
	"github.com/google/uuid"
)

const (
	DefaultDispatchRadiusKm = 5.0
	DefaultAcceptWindow     = 60 * time.Second
)

// DispatchConfig задаёт параметры назначения.
type DispatchConfig struct {
	RadiusKm     float64
	AcceptWindow time.Duration
	Clock        func() time.Time
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.RadiusKm <= 0 {
		c.RadiusKm = DefaultDispatchRadiusKm
	}
	if c.AcceptWindow <= 0 {
		c.AcceptWindow = DefaultAcceptWindow
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// AssignResult: итог попытки назначения.
// Driver == nil означает, что подходящих водителей не нашлось.
type AssignResult struct {
	Order    *models.Order
	Driver   *models.Driver
	Deadline time.Time
	Stuck    bool
}

// NoCandidate сообщает, что заказ остался без водителя.
func (r *AssignResult) NoCandidate() bool {
	return r == nil || r.Driver == nil
}

// TransitionResult: итог смены статуса.
type TransitionResult struct {
	Order      *models.Order
	Assignment *AssignResult
	Settlement *Settlement
}

// DispatchService определяет операции назначения, доступные HTTP-слою.
type DispatchService interface {
	Assign(ctx context.Context, orderID uuid.UUID, excluding []uuid.UUID) (*AssignResult, error)
	Accept(ctx context.Context, orderID, driverID uuid.UUID) error
	ExpireAndReassign(ctx context.Context, orderID uuid.UUID, excluding []uuid.UUID) (*AssignResult, error)
	ChangeState(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, actor models.Actor) (*TransitionResult, error)
	RetryDispatch(ctx context.Context, orderID uuid.UUID, actor models.Actor) (*AssignResult, error)
}

// DispatchEngine ведёт заказ от подтверждения рестораном до назначения водителя
// и переводит статусы жизненного цикла.
type DispatchEngine struct {
	orders   OrderStorage
	drivers  DriverStorage
	catalog  CatalogStorage
	pool     *DriverPool
	policy   *TransitionPolicy
	settler  Settler
	notifier *Notifier
	audit    AuditSink
	reporter alerts.Reporter
	cfg      DispatchConfig
	logger   *log.Logger
}

// NewDispatchEngine создаёт движок назначения.
func NewDispatchEngine(
	orders OrderStorage,
	drivers DriverStorage,
	catalog CatalogStorage,
	pool *DriverPool,
	policy *TransitionPolicy,
	settler Settler,
	notifier *Notifier,
	audit AuditSink,
	reporter alerts.Reporter,
	cfg DispatchConfig,
	logger *log.Logger,
) *DispatchEngine {
	if logger == nil {
		logger = log.Default()
	}
	if reporter == nil {
		reporter = alerts.NewLogReporter(logger)
	}
	return &DispatchEngine{
		orders:   orders,
		drivers:  drivers,
		catalog:  catalog,
		pool:     pool,
		policy:   policy,
		settler:  settler,
		notifier: notifier,
		audit:    audit,
		reporter: reporter,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Assign предлагает заказ без водителя лучшему доступному кандидату.
func (e *DispatchEngine) Assign(ctx context.Context, orderID uuid.UUID, excluding []uuid.UUID) (*AssignResult, error) {
	now := e.cfg.Clock()

	order, err := e.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.DispatchState() != models.DispatchUnassigned {
		return nil, ErrInvalidState
	}
	return e.assign(ctx, order, excluding, now)
}

func (e *DispatchEngine) assign(ctx context.Context, order *models.Order, excluding []uuid.UUID, now time.Time) (*AssignResult, error) {
	restaurant, err := e.catalog.GetRestaurant(ctx, order.RestaurantID)
	if err != nil {
		return nil, fmt.Errorf("get restaurant: %w", err)
	}

	candidates, err := e.pool.FindCandidatesAt(ctx, now, restaurant.Lat, restaurant.Lon, e.cfg.RadiusKm, excluding)
	if err != nil {
		return nil, err
	}

	deadline := now.Add(e.cfg.AcceptWindow)
	for _, c := range candidates {
		err := e.orders.ClaimForDriver(ctx, order.ID, c.Driver.ID, now, deadline)
		switch {
		case err == nil:
			return e.offered(ctx, order, c.Driver, now, deadline), nil
		case errors.Is(err, storage.ErrDriverUnavailable):
			e.logger.Printf("driver %s became unavailable for order %s, trying next", c.Driver.ID, order.ID)
			continue
		case errors.Is(err, storage.ErrOrderStateConflict):
			return nil, ErrOrderConflict
		default:
			return nil, fmt.Errorf("claim order: %w", err)
		}
	}

	e.logger.Printf("no driver available for order %s", order.ID)
	return &AssignResult{Order: order}, nil
}

func (e *DispatchEngine) offered(ctx context.Context, order *models.Order, driver *models.Driver, now, deadline time.Time) *AssignResult {
	driverID := driver.ID
	order.DriverID = &driverID
	order.Status = models.OrderStatusAwaitingAcceptance
	order.AcceptanceDeadline = &deadline
	order.StuckSince = nil
	order.UpdatedAt = now
	driver.LastAssignedAt = &now

	e.logger.Printf("order %s offered to driver %s until %s", order.ID, driver.ID, deadline.Format(time.RFC3339))

	data := orderData(order)
	data["deadline"] = deadline.Format(time.RFC3339)
	e.notifier.Driver(ctx, driver, notify.Message{
		Title: "New order available",
		Body:  fmt.Sprintf("Order #%d: you have %d seconds to accept", order.Number, int(e.cfg.AcceptWindow.Seconds())),
		Data:  data,
	})
	e.record(ctx, nil, "dispatch_offer", fmt.Sprintf("order #%d offered to driver %s", order.Number, driver.ID), order.ID)

	return &AssignResult{Order: order, Driver: driver, Deadline: deadline}
}

// Accept подтверждает принятие заказа водителем.
// Если окно истекло, сначала выполняется снятие и переназначение.
func (e *DispatchEngine) Accept(ctx context.Context, orderID, driverID uuid.UUID) error {
	now := e.cfg.Clock()

	order, err := e.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.AssignedTo(driverID) {
		return ErrNotAssignedToDriver
	}
	if order.Status != models.OrderStatusAwaitingAcceptance {
		return ErrInvalidState
	}

	if order.Expired(now) {
		if _, err := e.expireAndReassign(ctx, order, nil, now); err != nil && !errors.Is(err, ErrOrderConflict) {
			e.logger.Printf("expire order %s on late accept: %v", orderID, err)
		}
		return ErrExpiredWindow
	}

	err = e.orders.ConfirmAcceptance(ctx, orderID, driverID, now)
	if errors.Is(err, storage.ErrOrderStateConflict) {
		current, gErr := e.orders.GetByID(ctx, orderID)
		if gErr != nil {
			return gErr
		}
		switch {
		case current.Status == models.OrderStatusCancelled:
			return ErrInvalidState
		case !current.AssignedTo(driverID):
			return ErrExpiredWindow
		default:
			return ErrOrderConflict
		}
	}
	if err != nil {
		return fmt.Errorf("confirm acceptance: %w", err)
	}

	order.Status = models.OrderStatusAssigned
	order.AcceptanceDeadline = nil
	e.logger.Printf("order %s accepted by driver %s", orderID, driverID)

	e.notifier.Customer(ctx, order, notify.Message{
		Title: "Your order was accepted",
		Body:  fmt.Sprintf("A driver is on the way to pick up order #%d", order.Number),
		Data:  orderData(order),
	})
	e.record(ctx, nil, "dispatch_accept", fmt.Sprintf("order #%d accepted by driver %s", order.Number, driverID), order.ID)
	return nil
}

// ExpireAndReassign снимает водителя с просроченного предложения, штрафует его
// и один раз пробует назначить другого.
func (e *DispatchEngine) ExpireAndReassign(ctx context.Context, orderID uuid.UUID, excluding []uuid.UUID) (*AssignResult, error) {
	now := e.cfg.Clock()

	order, err := e.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return e.expireAndReassign(ctx, order, excluding, now)
}

func (e *DispatchEngine) expireAndReassign(ctx context.Context, order *models.Order, excluding []uuid.UUID, now time.Time) (*AssignResult, error) {
	if order.Status != models.OrderStatusAwaitingAcceptance || order.DriverID == nil {
		return nil, ErrOrderConflict
	}
	if !order.Expired(now) {
		return nil, ErrInvalidState
	}

	expiredID := *order.DriverID
	driver, suspended, err := e.orders.ExpireAttempt(ctx, order.ID, expiredID, now)
	if errors.Is(err, storage.ErrOrderStateConflict) {
		return nil, ErrOrderConflict
	}
	if err != nil {
		return nil, fmt.Errorf("expire attempt: %w", err)
	}

	order.Status = models.OrderStatusAccepted
	order.DriverID = nil
	order.AcceptanceDeadline = nil
	order.UpdatedAt = now

	e.logger.Printf("offer for order %s expired, driver %s penalized (%d total)", order.ID, expiredID, driver.PenaltyCount)
	e.record(ctx, nil, "dispatch_expired", fmt.Sprintf("driver %s did not accept order #%d in time", expiredID, order.Number), order.ID)
	if suspended {
		e.logger.Printf("driver %s suspended until %s", expiredID, driver.SuspendedUntil.Format(time.RFC3339))
		e.recordEntity(ctx, "driver_suspended", fmt.Sprintf("driver suspended until %s", driver.SuspendedUntil.Format(time.RFC3339)), "driver", expiredID.String())
		e.notifier.Driver(ctx, driver, notify.Message{
			Title: "Account suspended",
			Body:  fmt.Sprintf("Too many missed orders. You can drive again after %s", driver.SuspendedUntil.Format(time.RFC1123)),
		})
	}

	excluded := make([]uuid.UUID, 0, len(excluding)+1)
	excluded = append(excluded, excluding...)
	excluded = append(excluded, expiredID)

	result, err := e.assign(ctx, order, excluded, now)
	if err != nil {
		return nil, err
	}
	if result.NoCandidate() {
		e.markStuck(ctx, order, now)
		result.Stuck = true
	}
	return result, nil
}

func (e *DispatchEngine) markStuck(ctx context.Context, order *models.Order, now time.Time) {
	if err := e.orders.MarkStuck(ctx, order.ID, now); err != nil {
		e.logger.Printf("mark order %s stuck: %v", order.ID, err)
	} else {
		order.StuckSince = &now
	}

	ev := alerts.Event{
		Kind:        alerts.KindStuckOrder,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Reason:      "acceptance window expired and no other driver is available",
		At:          now,
	}
	if err := e.reporter.Report(ctx, ev); err != nil {
		e.logger.Printf("report stuck order %s: %v", order.ID, err)
	}
	e.record(ctx, nil, "dispatch_stuck", fmt.Sprintf("order #%d has no available driver", order.Number), order.ID)

	if restaurant, err := e.catalog.GetRestaurant(ctx, order.RestaurantID); err == nil {
		e.notifier.Restaurant(ctx, restaurant, notify.Message{
			Title: "No drivers available",
			Body:  fmt.Sprintf("Order #%d is waiting for a driver. Retry dispatch later.", order.Number),
			Data:  orderData(order),
		})
	}
}

// ChangeState переводит заказ в новый статус от имени actor.
func (e *DispatchEngine) ChangeState(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, actor models.Actor) (*TransitionResult, error) {
	if !status.Valid() {
		return nil, ErrInvalidTransition
	}
	now := e.cfg.Clock()

	order, err := e.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !TransitionAllowed(order.Status, status) {
		return nil, ErrInvalidTransition
	}
	if err := e.authorize(ctx, order, status, actor); err != nil {
		return nil, err
	}

	from := order.Status
	result := &TransitionResult{Order: order}

	switch status {
	case models.OrderStatusCancelled:
		err = e.orders.Cancel(ctx, orderID, from, now)
	default:
		err = e.orders.UpdateStatus(ctx, orderID, from, status, now)
	}
	if errors.Is(err, storage.ErrOrderStateConflict) {
		return nil, ErrOrderConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	order.Status = status
	order.UpdatedAt = now
	if status == models.OrderStatusCancelled && from == models.OrderStatusAwaitingAcceptance {
		order.DriverID = nil
		order.AcceptanceDeadline = nil
	}
	e.logger.Printf("order %s: %s -> %s by %s %s", orderID, from, status, actor.Role, actor.UserID)

	e.notifier.Customer(ctx, order, notify.Message{
		Title: "Your order status changed",
		Body:  fmt.Sprintf("Order #%d is now %s", order.Number, status),
		Data:  orderData(order),
	})
	actorID := actor.UserID
	e.record(ctx, &actorID, "status_change", fmt.Sprintf("order #%d changed from %s to %s", order.Number, from, status), order.ID)

	switch status {
	case models.OrderStatusAccepted:
		assignment, err := e.assign(ctx, order, nil, now)
		if err != nil {
			return nil, err
		}
		result.Assignment = assignment
	case models.OrderStatusDelivered:
		if e.settler != nil {
			settlement, err := e.settler.Settle(ctx, orderID)
			if err != nil {
				// сверка доставленных заказов повторит расчёт
				e.logger.Printf("settle order %s: %v", orderID, err)
			} else {
				result.Settlement = settlement
				order.Settled = true
			}
		}
	}

	return result, nil
}

// RetryDispatch повторно запускает назначение для заказа без водителя.
func (e *DispatchEngine) RetryDispatch(ctx context.Context, orderID uuid.UUID, actor models.Actor) (*AssignResult, error) {
	order, err := e.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleRestaurant:
		if err := e.ownsRestaurant(ctx, order, actor); err != nil {
			return nil, err
		}
	default:
		return nil, ErrForbidden
	}

	result, err := e.Assign(ctx, orderID, nil)
	if err != nil {
		return nil, err
	}
	actorID := actor.UserID
	e.record(ctx, &actorID, "dispatch_retry", fmt.Sprintf("manual dispatch retry for order #%d", order.Number), order.ID)
	return result, nil
}

func (e *DispatchEngine) authorize(ctx context.Context, order *models.Order, to models.OrderStatus, actor models.Actor) error {
	allowed, err := e.policy.Allowed(actor.Role, to)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}

	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleRestaurant:
		return e.ownsRestaurant(ctx, order, actor)
	case models.RoleDriver:
		driver, err := e.drivers.GetByUserID(ctx, actor.UserID)
		if errors.Is(err, storage.ErrDriverNotFound) {
			return ErrForbidden
		}
		if err != nil {
			return err
		}
		if !order.AssignedTo(driver.ID) {
			return ErrForbidden
		}
		return nil
	case models.RoleCustomer:
		if order.CustomerID == nil || *order.CustomerID != actor.UserID {
			return ErrForbidden
		}
		// заказчик может отменить только до подтверждения рестораном
		if order.Status != models.OrderStatusAwaitingPayment && order.Status != models.OrderStatusPending {
			return ErrForbidden
		}
		return nil
	}
	return ErrForbidden
}

func (e *DispatchEngine) ownsRestaurant(ctx context.Context, order *models.Order, actor models.Actor) error {
	restaurant, err := e.catalog.GetRestaurant(ctx, order.RestaurantID)
	if err != nil {
		return fmt.Errorf("get restaurant: %w", err)
	}
	if restaurant.OwnerID != actor.UserID {
		return ErrForbidden
	}
	return nil
}

func (e *DispatchEngine) record(ctx context.Context, actorID *uuid.UUID, action, description string, orderID uuid.UUID) {
	e.recordAs(ctx, actorID, action, description, "order", orderID.String())
}

func (e *DispatchEngine) recordEntity(ctx context.Context, action, description, entity, entityID string) {
	e.recordAs(ctx, nil, action, description, entity, entityID)
}

func (e *DispatchEngine) recordAs(ctx context.Context, actorID *uuid.UUID, action, description, entity, entityID string) {
	if e.audit == nil {
		return
	}
	rec := models.AuditRecord{
		ActorID:     actorID,
		Action:      action,
		Description: description,
		Entity:      entity,
		EntityID:    entityID,
	}
	if err := e.audit.Record(ctx, rec); err != nil {
		e.logger.Printf("audit %s failed: %v", action, err)
	}
}
