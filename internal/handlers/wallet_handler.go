package handlers

import (
	"net/http"
	"strconv"

	"github.com/agamariel/fooddispatch/internal/auth"
	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/agamariel/fooddispatch/internal/services"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// WalletHandler обрабатывает баланс, историю и выводы.
type WalletHandler struct {
	wallets services.WalletService
}

// NewWalletHandler создаёт новый handler.
func NewWalletHandler(wallets services.WalletService) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

// GetWallet обрабатывает GET /api/wallet.
func (h *WalletHandler) GetWallet(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}

	wallet, err := h.wallets.GetWallet(c.Request().Context(), actor)
	if err != nil {
		return serviceError(c, err, "get wallet")
	}
	return c.JSON(http.StatusOK, models.NewWalletResponse(wallet))
}

// ListEntries обрабатывает GET /api/wallet/entries?limit=N.
func (h *WalletHandler) ListEntries(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}

	entries, err := h.wallets.ListEntries(c.Request().Context(), actor, limit)
	if err != nil {
		return serviceError(c, err, "list wallet entries")
	}
	if len(entries) == 0 {
		return c.NoContent(http.StatusNoContent)
	}

	response := make([]*models.LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		response = append(response, models.NewLedgerEntryResponse(e))
	}
	return c.JSON(http.StatusOK, response)
}

// Withdraw обрабатывает POST /api/wallet/withdraw.
func (h *WalletHandler) Withdraw(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}

	var req models.WithdrawRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	sum, err := decimal.NewFromString(req.Sum)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid sum")
	}

	if err := h.wallets.Withdraw(c.Request().Context(), actor, sum, req.Description); err != nil {
		return serviceError(c, err, "withdraw")
	}
	return c.NoContent(http.StatusOK)
}

// Adjust обрабатывает POST /api/wallet/adjust (только администратор).
func (h *WalletHandler) Adjust(c echo.Context) error {
	actor, err := auth.GetActorFromContext(c)
	if err != nil {
		return err
	}

	var req models.AdjustRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid amount")
	}

	if err := h.wallets.Adjust(c.Request().Context(), actor, req.OwnerID, amount, req.Description); err != nil {
		return serviceError(c, err, "adjust wallet")
	}
	return c.NoContent(http.StatusOK)
}
