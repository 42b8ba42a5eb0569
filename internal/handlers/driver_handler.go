package handlers

import (
	"net/http"

	"github.com/agamariel/fooddispatch/internal/auth"
	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/agamariel/fooddispatch/internal/services"
	"github.com/labstack/echo/v4"
)

// OfferStream держит WebSocket-подключения водителей.
type OfferStream interface {
	Serve(w http.ResponseWriter, r *http.Request, key string) error
}

// DriverHandler обрабатывает запросы водителей.
type DriverHandler struct {
	drivers services.DriverOperations
	stream  OfferStream
}

func NewDriverHandler(drivers services.DriverOperations, stream OfferStream) *DriverHandler {
	return &DriverHandler{drivers: drivers, stream: stream}
}

// UpdateLocation обрабатывает PUT /api/drivers/me/location.
func (h *DriverHandler) UpdateLocation(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}

	var req models.LocationRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	driver, err := h.drivers.UpdateLocation(c.Request().Context(), actor, *req.Lat, *req.Lon)
	if err != nil {
		return serviceError(c, err, "update driver location")
	}
	return c.JSON(http.StatusOK, models.NewDriverResponse(driver))
}

// SetAvailability обрабатывает PUT /api/drivers/me/availability.
func (h *DriverHandler) SetAvailability(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}

	var req models.AvailabilityRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	driver, err := h.drivers.SetAvailability(c.Request().Context(), actor, *req.Available)
	if err != nil {
		return serviceError(c, err, "set driver availability")
	}
	return c.JSON(http.StatusOK, models.NewDriverResponse(driver))
}

// Offers обрабатывает GET /api/drivers/me/offers.
func (h *DriverHandler) Offers(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}

	orders, err := h.drivers.Offers(c.Request().Context(), actor)
	if err != nil {
		return serviceError(c, err, "list driver offers")
	}
	if len(orders) == 0 {
		return c.NoContent(http.StatusNoContent)
	}

	response := make([]*models.OrderResponse, 0, len(orders))
	for _, o := range orders {
		response = append(response, models.NewOrderResponse(o))
	}
	return c.JSON(http.StatusOK, response)
}

// Stream обрабатывает GET /api/drivers/ws: предложения приходят в открытый сокет.
func (h *DriverHandler) Stream(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}

	driver, err := h.drivers.Me(c.Request().Context(), actor)
	if err != nil {
		return serviceError(c, err, "resolve driver")
	}

	if err := h.stream.Serve(c.Response(), c.Request(), driver.ID.String()); err != nil {
		c.Logger().Errorf("websocket for driver %s: %v", driver.ID, err)
	}
	return nil
}
