package handlers

import (
	"net/http"

	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/agamariel/fooddispatch/internal/services"
	"github.com/labstack/echo/v4"
)

// ProvisionHandler принимает вызовы сервиса регистрации.
type ProvisionHandler struct {
	drivers services.DriverOperations
}

func NewProvisionHandler(drivers services.DriverOperations) *ProvisionHandler {
	return &ProvisionHandler{drivers: drivers}
}

// Provision обрабатывает POST /api/internal/provision.
func (h *ProvisionHandler) Provision(c echo.Context) error {
	var req models.ProvisionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.drivers.Provision(c.Request().Context(), &req); err != nil {
		return serviceError(c, err, "provision user")
	}
	return c.NoContent(http.StatusNoContent)
}
