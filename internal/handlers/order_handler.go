package handlers

import (
	"net/http"
	"time"

	"github.com/agamariel/fooddispatch/internal/auth"
	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/agamariel/fooddispatch/internal/payments"
	"github.com/agamariel/fooddispatch/internal/services"
	"github.com/labstack/echo/v4"
)

// OrderHandler обрабатывает запросы, связанные с заказами.
type OrderHandler struct {
	orders   services.OrderService
	dispatch services.DispatchService
	payments services.PaymentConfirmer
	drivers  services.DriverOperations
}

func NewOrderHandler(
	orders services.OrderService,
	dispatch services.DispatchService,
	payments services.PaymentConfirmer,
	drivers services.DriverOperations,
) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		dispatch: dispatch,
		payments: payments,
		drivers:  drivers,
	}
}

// Checkout обрабатывает POST /api/orders.
func (h *OrderHandler) Checkout(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}

	var req models.CheckoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	order, err := h.orders.Checkout(c.Request().Context(), actor, &req)
	if err != nil {
		return serviceError(c, err, "checkout")
	}
	return c.JSON(http.StatusCreated, models.NewOrderResponse(order))
}

// GetOrder обрабатывает GET /api/orders/:id.
func (h *OrderHandler) GetOrder(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}
	orderID, err := parseOrderID(c)
	if err != nil {
		return err
	}

	order, err := h.orders.GetOrder(c.Request().Context(), actor, orderID)
	if err != nil {
		return serviceError(c, err, "get order")
	}
	return c.JSON(http.StatusOK, models.NewOrderResponse(order))
}

// ReplaceLines обрабатывает PUT /api/orders/:id/lines.
func (h *OrderHandler) ReplaceLines(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}
	orderID, err := parseOrderID(c)
	if err != nil {
		return err
	}

	var req models.ReplaceLinesRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	order, err := h.orders.ReplaceLines(c.Request().Context(), actor, orderID, req.Lines)
	if err != nil {
		return serviceError(c, err, "replace order lines")
	}
	return c.JSON(http.StatusOK, models.NewOrderResponse(order))
}

// ChangeStatus обрабатывает PATCH /api/orders/:id/status.
// Подтверждение рестораном сразу запускает поиск водителя.
func (h *OrderHandler) ChangeStatus(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}
	orderID, err := parseOrderID(c)
	if err != nil {
		return err
	}

	var req models.ChangeStatusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.dispatch.ChangeState(c.Request().Context(), orderID, req.Status, actor)
	if err != nil {
		return serviceError(c, err, "change order status")
	}

	if result.Assignment != nil {
		return c.JSON(http.StatusOK, dispatchResponse(result.Assignment, result.Order))
	}
	return c.JSON(http.StatusOK, &models.DispatchResponse{Order: models.NewOrderResponse(result.Order)})
}

// Accept обрабатывает POST /api/orders/:id/accept.
func (h *OrderHandler) Accept(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}
	orderID, err := parseOrderID(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	driver, err := h.drivers.Me(ctx, actor)
	if err != nil {
		return serviceError(c, err, "resolve driver")
	}

	if err := h.dispatch.Accept(ctx, orderID, driver.ID); err != nil {
		return serviceError(c, err, "accept order")
	}
	return c.NoContent(http.StatusNoContent)
}

// RetryDispatch обрабатывает POST /api/orders/:id/dispatch.
func (h *OrderHandler) RetryDispatch(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}
	orderID, err := parseOrderID(c)
	if err != nil {
		return err
	}

	result, err := h.dispatch.RetryDispatch(c.Request().Context(), orderID, actor)
	if err != nil {
		return serviceError(c, err, "retry dispatch")
	}
	if result.NoCandidate() {
		return echo.NewHTTPError(http.StatusConflict, noDriversMessage)
	}
	return c.JSON(http.StatusOK, dispatchResponse(result, result.Order))
}

// ConfirmPayment обрабатывает POST /api/orders/:id/payment/confirm.
func (h *OrderHandler) ConfirmPayment(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}
	orderID, err := parseOrderID(c)
	if err != nil {
		return err
	}

	var req models.ConfirmPaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	order, status, err := h.payments.ConfirmPayment(c.Request().Context(), actor, orderID, req.Phone)
	if err != nil {
		return serviceError(c, err, "confirm payment")
	}

	code := http.StatusOK
	if status != payments.StatusConfirmed {
		code = http.StatusAccepted
	}
	return c.JSON(code, &models.PaymentStatusResponse{
		Status: string(status),
		Order:  models.NewOrderResponse(order),
	})
}

func dispatchResponse(result *services.AssignResult, order *models.Order) *models.DispatchResponse {
	if result.Order != nil {
		order = result.Order
	}
	resp := &models.DispatchResponse{
		Order: models.NewOrderResponse(order),
		Stuck: result.Stuck,
	}
	if result.NoCandidate() {
		resp.Message = noDriversMessage
		return resp
	}
	id := result.Driver.ID.String()
	deadline := result.Deadline.Format(time.RFC3339)
	resp.DriverID = &id
	resp.Deadline = &deadline
	return resp
}
