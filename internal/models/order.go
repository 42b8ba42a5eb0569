package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusAwaitingPayment    OrderStatus = "awaiting_payment"
	OrderStatusPending            OrderStatus = "pending"
	OrderStatusAccepted           OrderStatus = "accepted"
	OrderStatusAwaitingAcceptance OrderStatus = "awaiting_acceptance"
	OrderStatusAssigned           OrderStatus = "assigned"
	OrderStatusEnRoute            OrderStatus = "en_route"
	OrderStatusDelivered          OrderStatus = "delivered"
	OrderStatusCancelled          OrderStatus = "cancelled"
)

// Valid сообщает, известен ли статус.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusAwaitingPayment, OrderStatusPending, OrderStatusAccepted,
		OrderStatusAwaitingAcceptance, OrderStatusAssigned, OrderStatusEnRoute,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// LiveDriverStatuses: статусы, в которых водитель считается занятым заказом.
var LiveDriverStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusAwaitingAcceptance,
	OrderStatusAssigned,
	OrderStatusEnRoute,
}

// DispatchState: подстатус назначения водителя.
type DispatchState string

const (
	DispatchUnassigned         DispatchState = "unassigned"
	DispatchAwaitingAcceptance DispatchState = "awaiting_acceptance"
	DispatchAssigned           DispatchState = "assigned"
	DispatchCancelled          DispatchState = "cancelled"
	DispatchNotApplicable      DispatchState = "not_applicable"
)

// PaymentMethod описывает способ оплаты.
type PaymentMethod string

const (
	PaymentCash          PaymentMethod = "cash"
	PaymentCard          PaymentMethod = "card"
	PaymentMobilePayment PaymentMethod = "mobile_payment"
)

// RequiresVerification сообщает, нужна ли внешняя проверка платежа.
func (m PaymentMethod) RequiresVerification() bool {
	return m == PaymentMobilePayment
}

// Order представляет заказ на доставку.
type Order struct {
	ID                 uuid.UUID       `db:"id"`
	Number             int64           `db:"number"`
	CustomerID         *uuid.UUID      `db:"customer_id"`
	RestaurantID       uuid.UUID       `db:"restaurant_id"`
	DriverID           *uuid.UUID      `db:"driver_id"`
	Status             OrderStatus     `db:"status"`
	PaymentMethod      PaymentMethod   `db:"payment_method"`
	PaymentReference   string          `db:"payment_reference"`
	PaymentConfirmed   bool            `db:"payment_confirmed"`
	Subtotal           decimal.Decimal `db:"subtotal"`
	Discount           decimal.Decimal `db:"discount"`
	Tax                decimal.Decimal `db:"tax"`
	DeliveryFee        decimal.Decimal `db:"delivery_fee"`
	Total              decimal.Decimal `db:"total"`
	DeliveryAddress    string          `db:"delivery_address"`
	DeliveryLat        *float64        `db:"delivery_lat"`
	DeliveryLon        *float64        `db:"delivery_lon"`
	AcceptanceDeadline *time.Time      `db:"acceptance_deadline"`
	FeeDegraded        bool            `db:"fee_degraded"`
	StuckSince         *time.Time      `db:"stuck_since"`
	Settled            bool            `db:"settled"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

// DispatchState вычисляет подстатус назначения по статусу заказа.
func (o *Order) DispatchState() DispatchState {
	switch o.Status {
	case OrderStatusAccepted:
		if o.DriverID == nil {
			return DispatchUnassigned
		}
		return DispatchNotApplicable
	case OrderStatusAwaitingAcceptance:
		return DispatchAwaitingAcceptance
	case OrderStatusAssigned, OrderStatusEnRoute, OrderStatusDelivered:
		return DispatchAssigned
	case OrderStatusCancelled:
		return DispatchCancelled
	}
	return DispatchNotApplicable
}

// AssignedTo сообщает, назначен ли заказ указанному водителю.
func (o *Order) AssignedTo(driverID uuid.UUID) bool {
	return o.DriverID != nil && *o.DriverID == driverID
}

// Expired сообщает, истекло ли окно принятия на момент now.
func (o *Order) Expired(now time.Time) bool {
	return o.AcceptanceDeadline != nil && now.After(*o.AcceptanceDeadline)
}

// OrderLine: позиция заказа.
type OrderLine struct {
	ID        uuid.UUID       `db:"id"`
	OrderID   uuid.UUID       `db:"order_id"`
	ItemID    uuid.UUID       `db:"item_id"`
	AddonIDs  []uuid.UUID     `db:"addon_ids"`
	Quantity  int             `db:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price"`
	Discount  decimal.Decimal `db:"discount"`
	Subtotal  decimal.Decimal `db:"subtotal"`
}

// DispatchOutcome: результат попытки назначения.
type DispatchOutcome string

const (
	AttemptPending   DispatchOutcome = "pending"
	AttemptAccepted  DispatchOutcome = "accepted"
	AttemptExpired   DispatchOutcome = "expired"
	AttemptCancelled DispatchOutcome = "cancelled"
)

// DispatchAttempt: запись истории предложений заказа водителям.
type DispatchAttempt struct {
	ID        uuid.UUID       `db:"id"`
	OrderID   uuid.UUID       `db:"order_id"`
	DriverID  uuid.UUID       `db:"driver_id"`
	OfferedAt time.Time       `db:"offered_at"`
	Deadline  time.Time       `db:"deadline"`
	Outcome   DispatchOutcome `db:"outcome"`
	ClosedAt  *time.Time      `db:"closed_at"`
}

// CheckoutLine: позиция в запросе на оформление заказа.
type CheckoutLine struct {
	ItemID   uuid.UUID   `json:"item_id" validate:"required"`
	AddonIDs []uuid.UUID `json:"addon_ids"`
	Quantity int         `json:"quantity" validate:"required,min=1,max=100"`
}

// CheckoutRequest DTO для оформления заказа.
type CheckoutRequest struct {
	RestaurantID     uuid.UUID      `json:"restaurant_id" validate:"required"`
	PaymentMethod    PaymentMethod  `json:"payment_method" validate:"required,oneof=cash card mobile_payment"`
	PaymentReference string         `json:"payment_reference" validate:"required_if=PaymentMethod mobile_payment"`
	DeliveryAddress  string         `json:"delivery_address" validate:"max=500"`
	DeliveryLat      *float64       `json:"delivery_lat" validate:"omitempty,latitude"`
	DeliveryLon      *float64       `json:"delivery_lon" validate:"omitempty,longitude"`
	Lines            []CheckoutLine `json:"lines" validate:"required,min=1,dive"`
}

// ReplaceLinesRequest DTO для замены позиций заказа.
type ReplaceLinesRequest struct {
	Lines []CheckoutLine `json:"lines" validate:"required,min=1,dive"`
}

// ChangeStatusRequest DTO для смены статуса.
type ChangeStatusRequest struct {
	Status OrderStatus `json:"status" validate:"required"`
}

// OrderResponse ответ с данными заказа.
type OrderResponse struct {
	ID                 string  `json:"id"`
	Number             int64   `json:"number"`
	Status             string  `json:"status"`
	DispatchState      string  `json:"dispatch_state"`
	DriverID           *string `json:"driver_id,omitempty"`
	Subtotal           string  `json:"subtotal"`
	Discount           string  `json:"discount"`
	Tax                string  `json:"tax"`
	DeliveryFee        string  `json:"delivery_fee"`
	Total              string  `json:"total"`
	FeeDegraded        bool    `json:"fee_degraded"`
	AcceptanceDeadline *string `json:"acceptance_deadline,omitempty"`
	Stuck              bool    `json:"stuck"`
	CreatedAt          string  `json:"created_at"`
}

// NewOrderResponse преобразует заказ в DTO.
func NewOrderResponse(o *Order) *OrderResponse {
	resp := &OrderResponse{
		ID:            o.ID.String(),
		Number:        o.Number,
		Status:        string(o.Status),
		DispatchState: string(o.DispatchState()),
		Subtotal:      o.Subtotal.StringFixed(2),
		Discount:      o.Discount.StringFixed(2),
		Tax:           o.Tax.StringFixed(2),
		DeliveryFee:   o.DeliveryFee.StringFixed(2),
		Total:         o.Total.StringFixed(2),
		FeeDegraded:   o.FeeDegraded,
		Stuck:         o.StuckSince != nil,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
	if o.DriverID != nil {
		id := o.DriverID.String()
		resp.DriverID = &id
	}
	if o.AcceptanceDeadline != nil {
		d := o.AcceptanceDeadline.Format(time.RFC3339)
		resp.AcceptanceDeadline = &d
	}
	return resp
}

// ConfirmPaymentRequest DTO для проверки мобильного платежа.
type ConfirmPaymentRequest struct {
	Phone string `json:"phone" validate:"required,min=7,max=20"`
}

// PaymentStatusResponse ответ на проверку платежа.
type PaymentStatusResponse struct {
	Status string         `json:"status"`
	Order  *OrderResponse `json:"order"`
}

// DispatchResponse ответ с результатом назначения водителя.
type DispatchResponse struct {
	Order    *OrderResponse `json:"order"`
	DriverID *string        `json:"driver_id,omitempty"`
	Deadline *string        `json:"acceptance_deadline,omitempty"`
	Stuck    bool           `json:"stuck"`
	Message  string         `json:"message,omitempty"`
}
