package handlers

import (
	"errors"
	"net/http"

	"github.com/agamariel/fooddispatch/internal/services"
	"github.com/agamariel/fooddispatch/internal/storage"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const noDriversMessage = "no drivers nearby, try again later"

// serviceError переводит ошибку сервиса в HTTP-ответ.
func serviceError(c echo.Context, err error, op string) error {
	switch {
	case errors.Is(err, services.ErrExpiredWindow):
		return echo.NewHTTPError(http.StatusGone, "acceptance window expired")
	case errors.Is(err, services.ErrNotAssignedToDriver):
		return echo.NewHTTPError(http.StatusForbidden, "order is not assigned to this driver")
	case errors.Is(err, services.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	case errors.Is(err, services.ErrNotDriver):
		return echo.NewHTTPError(http.StatusForbidden, "user is not a registered driver")
	case errors.Is(err, services.ErrDriverSuspended):
		return echo.NewHTTPError(http.StatusConflict, "driver is suspended")
	case errors.Is(err, services.ErrOrderConflict):
		return echo.NewHTTPError(http.StatusConflict, "order already taken")
	case errors.Is(err, services.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, "status transition is not allowed")
	case errors.Is(err, services.ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, "order is not in a state that allows this operation")
	case errors.Is(err, services.ErrPaymentNotRequired):
		return echo.NewHTTPError(http.StatusConflict, "order payment does not require verification")
	case errors.Is(err, services.ErrUnknownRestaurant):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "restaurant not found")
	case errors.Is(err, services.ErrUnknownItem):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "menu item not found for restaurant")
	case errors.Is(err, services.ErrInvalidAmount):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid amount")
	case errors.Is(err, storage.ErrInsufficientBalance):
		return echo.NewHTTPError(http.StatusPaymentRequired, "insufficient balance")
	case errors.Is(err, storage.ErrOrderNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	case errors.Is(err, storage.ErrWalletNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "wallet not found")
	case errors.Is(err, storage.ErrDriverNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "driver not found")
	}

	c.Logger().Errorf("failed to %s: %v", op, err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func parseOrderID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	return id, nil
}
