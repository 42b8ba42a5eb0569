package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/agamariel/fooddispatch/internal/alerts"
	"github.com/agamariel/fooddispatch/internal/fare"
	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/agamariel/fooddispatch/internal/notify"
	"github.com/agamariel/fooddispatch/internal/routing"
	"github.com/agamariel/fooddispatch/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// editableStatuses: статусы, в которых заказчик может менять позиции.
var editableStatuses = []models.OrderStatus{
	models.OrderStatusAwaitingPayment,
	models.OrderStatusPending,
}

// OrderService определяет операции оформления и просмотра заказов.
type OrderService interface {
	Checkout(ctx context.Context, actor models.Actor, req *models.CheckoutRequest) (*models.Order, error)
	ReplaceLines(ctx context.Context, actor models.Actor, orderID uuid.UUID, lines []models.CheckoutLine) (*models.Order, error)
	GetOrder(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.Order, error)
}

// CheckoutService оформляет заказы: цены из каталога, стоимость доставки по маршруту.
type CheckoutService struct {
	orders   OrderStorage
	catalog  CatalogStorage
	drivers  DriverStorage
	router   routing.Client
	notifier *Notifier
	audit    AuditSink
	reporter alerts.Reporter
	clock    func() time.Time
	logger   *log.Logger
}

func NewCheckoutService(
	orders OrderStorage,
	catalog CatalogStorage,
	drivers DriverStorage,
	router routing.Client,
	notifier *Notifier,
	audit AuditSink,
	reporter alerts.Reporter,
	clock func() time.Time,
	logger *log.Logger,
) *CheckoutService {
	if logger == nil {
		logger = log.Default()
	}
	if reporter == nil {
		reporter = alerts.NewLogReporter(logger)
	}
	if clock == nil {
		clock = time.Now
	}
	return &CheckoutService{
		orders:   orders,
		catalog:  catalog,
		drivers:  drivers,
		router:   router,
		notifier: notifier,
		audit:    audit,
		reporter: reporter,
		clock:    clock,
		logger:   logger,
	}
}

// Checkout создаёт заказ заказчика.
// Ресторан может оформить заказ у себя без заказчика (walk-in), тогда customer_id пуст.
// Если маршрут не удалось построить, доставка считается бесплатной и заказ помечается fee_degraded.
func (s *CheckoutService) Checkout(ctx context.Context, actor models.Actor, req *models.CheckoutRequest) (*models.Order, error) {
	switch actor.Role {
	case models.RoleCustomer, models.RoleAdmin, models.RoleRestaurant:
	default:
		return nil, ErrForbidden
	}

	restaurant, err := s.catalog.GetRestaurant(ctx, req.RestaurantID)
	if errors.Is(err, storage.ErrRestaurantNotFound) {
		return nil, ErrUnknownRestaurant
	}
	if err != nil {
		return nil, fmt.Errorf("get restaurant: %w", err)
	}
	if actor.Role == models.RoleRestaurant && restaurant.OwnerID != actor.UserID {
		return nil, ErrForbidden
	}

	lines, fareLines, err := s.priceLines(ctx, restaurant.ID, req.Lines)
	if err != nil {
		return nil, err
	}

	fee, degraded, reason := s.deliveryFee(ctx, restaurant, req.DeliveryLat, req.DeliveryLon)
	totals := fare.ComputeOrderTotals(fareLines, fee)

	status := models.OrderStatusPending
	if req.PaymentMethod.RequiresVerification() {
		status = models.OrderStatusAwaitingPayment
	}

	order := &models.Order{
		RestaurantID:     restaurant.ID,
		Status:           status,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
		Subtotal:         totals.Subtotal,
		Discount:         totals.Discount,
		Tax:              totals.Tax,
		DeliveryFee:      fee,
		Total:            totals.Total,
		DeliveryAddress:  req.DeliveryAddress,
		DeliveryLat:      req.DeliveryLat,
		DeliveryLon:      req.DeliveryLon,
		FeeDegraded:      degraded,
	}
	if actor.Role == models.RoleCustomer {
		customerID := actor.UserID
		order.CustomerID = &customerID
	}

	if err := s.orders.Create(ctx, order, lines); err != nil {
		return nil, err
	}
	s.logger.Printf("order %s (#%d) created for restaurant %s, total %s", order.ID, order.Number, restaurant.ID, order.Total.StringFixed(2))

	if degraded {
		ev := alerts.Event{
			Kind:        alerts.KindDegradedFare,
			OrderID:     order.ID,
			OrderNumber: order.Number,
			Reason:      reason,
			At:          s.clock(),
		}
		if err := s.reporter.Report(ctx, ev); err != nil {
			s.logger.Printf("report degraded fare for order %s: %v", order.ID, err)
		}
	}

	s.notifier.Restaurant(ctx, restaurant, notify.Message{
		Title: "New order",
		Body:  fmt.Sprintf("Order #%d, total %s", order.Number, order.Total.StringFixed(2)),
		Data:  orderData(order),
	})
	s.record(ctx, actor, "order_created", fmt.Sprintf("order #%d created with status %s", order.Number, order.Status), order.ID)

	return order, nil
}

// ReplaceLines заменяет позиции заказа и пересчитывает итоги в той же транзакции.
func (s *CheckoutService) ReplaceLines(ctx context.Context, actor models.Actor, orderID uuid.UUID, req []models.CheckoutLine) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !ownsAsCustomer(order, actor) && actor.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if !containsStatus(editableStatuses, order.Status) {
		return nil, ErrInvalidState
	}

	lines, fareLines, err := s.priceLines(ctx, order.RestaurantID, req)
	if err != nil {
		return nil, err
	}
	totals := fare.ComputeOrderTotals(fareLines, order.DeliveryFee)

	err = s.orders.ReplaceLines(ctx, orderID, lines, totals, editableStatuses)
	if errors.Is(err, storage.ErrOrderStateConflict) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}

	order.Subtotal = totals.Subtotal
	order.Discount = totals.Discount
	order.Tax = totals.Tax
	order.Total = totals.Total
	s.record(ctx, actor, "order_lines_replaced", fmt.Sprintf("order #%d lines replaced, total %s", order.Number, order.Total.StringFixed(2)), order.ID)
	return order, nil
}

// GetOrder возвращает заказ участнику заказа или администратору.
func (s *CheckoutService) GetOrder(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case models.RoleAdmin:
		return order, nil
	case models.RoleCustomer:
		if ownsAsCustomer(order, actor) {
			return order, nil
		}
	case models.RoleRestaurant:
		restaurant, err := s.catalog.GetRestaurant(ctx, order.RestaurantID)
		if err != nil {
			return nil, fmt.Errorf("get restaurant: %w", err)
		}
		if restaurant.OwnerID == actor.UserID {
			return order, nil
		}
	case models.RoleDriver:
		driver, err := s.drivers.GetByUserID(ctx, actor.UserID)
		if err != nil && !errors.Is(err, storage.ErrDriverNotFound) {
			return nil, err
		}
		if driver != nil && order.AssignedTo(driver.ID) {
			return order, nil
		}
	}
	return nil, ErrForbidden
}

func (s *CheckoutService) priceLines(ctx context.Context, restaurantID uuid.UUID, req []models.CheckoutLine) ([]*models.OrderLine, []fare.Line, error) {
	lines := make([]*models.OrderLine, 0, len(req))
	fareLines := make([]fare.Line, 0, len(req))

	for _, l := range req {
		if l.Quantity <= 0 {
			return nil, nil, ErrInvalidAmount
		}
		item, err := s.catalog.GetItem(ctx, restaurantID, l.ItemID)
		if errors.Is(err, storage.ErrItemNotFound) {
			return nil, nil, ErrUnknownItem
		}
		if err != nil {
			return nil, nil, fmt.Errorf("get item: %w", err)
		}

		addons := make([]decimal.Decimal, 0, len(l.AddonIDs))
		for _, addonID := range l.AddonIDs {
			addon, err := s.catalog.GetAddon(ctx, item.ID, addonID)
			if errors.Is(err, storage.ErrAddonNotFound) {
				return nil, nil, ErrUnknownItem
			}
			if err != nil {
				return nil, nil, fmt.Errorf("get addon: %w", err)
			}
			addons = append(addons, addon.Price)
		}

		unit, discount, subtotal := fare.LineSubtotal(item.Price, item.DiscountPrice, addons, l.Quantity)
		lines = append(lines, &models.OrderLine{
			ItemID:    item.ID,
			AddonIDs:  l.AddonIDs,
			Quantity:  l.Quantity,
			UnitPrice: unit,
			Discount:  discount,
			Subtotal:  subtotal,
		})
		fareLines = append(fareLines, fare.Line{Subtotal: subtotal, Discount: discount})
	}
	return lines, fareLines, nil
}

func (s *CheckoutService) deliveryFee(ctx context.Context, restaurant *models.Restaurant, lat, lon *float64) (decimal.Decimal, bool, string) {
	if lat == nil || lon == nil {
		return decimal.Zero, true, "delivery coordinates are missing"
	}
	if s.router == nil {
		return decimal.Zero, true, "routing service is not configured"
	}

	km, err := s.router.DistanceKm(ctx, restaurant.Lat, restaurant.Lon, *lat, *lon)
	if err != nil {
		s.logger.Printf("routing from restaurant %s failed: %v", restaurant.ID, err)
		return decimal.Zero, true, fmt.Sprintf("routing failed: %v", err)
	}
	return fare.DeliveryFee(km), false, ""
}

func (s *CheckoutService) record(ctx context.Context, actor models.Actor, action, description string, orderID uuid.UUID) {
	if s.audit == nil {
		return
	}
	actorID := actor.UserID
	rec := models.AuditRecord{
		ActorID:     &actorID,
		Action:      action,
		Description: description,
		Entity:      "order",
		EntityID:    orderID.String(),
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.Printf("audit %s failed: %v", action, err)
	}
}

func ownsAsCustomer(order *models.Order, actor models.Actor) bool {
	return actor.Role == models.RoleCustomer && order.CustomerID != nil && *order.CustomerID == actor.UserID
}

func containsStatus(list []models.OrderStatus, s models.OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
