package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agamariel/fooddispatch/internal/auth"
	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/agamariel/fooddispatch/internal/payments"
	"github.com/agamariel/fooddispatch/internal/services"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type mockOrderService struct {
	CheckoutFunc     func(ctx context.Context, actor models.Actor, req *models.CheckoutRequest) (*models.Order, error)
	ReplaceLinesFunc func(ctx context.Context, actor models.Actor, orderID uuid.UUID, lines []models.CheckoutLine) (*models.Order, error)
	GetOrderFunc     func(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.Order, error)
}

func (m *mockOrderService) Checkout(ctx context.Context, actor models.Actor, req *models.CheckoutRequest) (*models.Order, error) {
	if m.CheckoutFunc != nil {
		return m.CheckoutFunc(ctx, actor, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockOrderService) ReplaceLines(ctx context.Context, actor models.Actor, orderID uuid.UUID, lines []models.CheckoutLine) (*models.Order, error) {
	if m.ReplaceLinesFunc != nil {
		return m.ReplaceLinesFunc(ctx, actor, orderID, lines)
	}
	return nil, errors.New("not implemented")
}

func (m *mockOrderService) GetOrder(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.Order, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, actor, orderID)
	}
	return nil, errors.New("not implemented")
}

type mockDispatchService struct {
	AssignFunc      func(ctx context.Context, orderID uuid.UUID, excluding []uuid.UUID) (*services.AssignResult, error)
	AcceptFunc      func(ctx context.Context, orderID, driverID uuid.UUID) error
	ExpireFunc      func(ctx context.Context, orderID uuid.UUID, excluding []uuid.UUID) (*services.AssignResult, error)
	ChangeStateFunc func(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, actor models.Actor) (*services.TransitionResult, error)
	RetryFunc       func(ctx context.Context, orderID uuid.UUID, actor models.Actor) (*services.AssignResult, error)
}

func (m *mockDispatchService) Assign(ctx context.Context, orderID uuid.UUID, excluding []uuid.UUID) (*services.AssignResult, error) {
	if m.AssignFunc != nil {
		return m.AssignFunc(ctx, orderID, excluding)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDispatchService) Accept(ctx context.Context, orderID, driverID uuid.UUID) error {
	if m.AcceptFunc != nil {
		return m.AcceptFunc(ctx, orderID, driverID)
	}
	return errors.New("not implemented")
}

func (m *mockDispatchService) ExpireAndReassign(ctx context.Context, orderID uuid.UUID, excluding []uuid.UUID) (*services.AssignResult, error) {
	if m.ExpireFunc != nil {
		return m.ExpireFunc(ctx, orderID, excluding)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDispatchService) ChangeState(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, actor models.Actor) (*services.TransitionResult, error) {
	if m.ChangeStateFunc != nil {
		return m.ChangeStateFunc(ctx, orderID, status, actor)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDispatchService) RetryDispatch(ctx context.Context, orderID uuid.UUID, actor models.Actor) (*services.AssignResult, error) {
	if m.RetryFunc != nil {
		return m.RetryFunc(ctx, orderID, actor)
	}
	return nil, errors.New("not implemented")
}

type mockPaymentConfirmer struct {
	ConfirmFunc func(ctx context.Context, actor models.Actor, orderID uuid.UUID, phone string) (*models.Order, payments.Status, error)
}

func (m *mockPaymentConfirmer) ConfirmPayment(ctx context.Context, actor models.Actor, orderID uuid.UUID, phone string) (*models.Order, payments.Status, error) {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, actor, orderID, phone)
	}
	return nil, "", errors.New("not implemented")
}

type mockDriverOps struct {
	ProvisionFunc       func(ctx context.Context, req *models.ProvisionRequest) error
	MeFunc              func(ctx context.Context, actor models.Actor) (*models.Driver, error)
	UpdateLocationFunc  func(ctx context.Context, actor models.Actor, lat, lon float64) (*models.Driver, error)
	SetAvailabilityFunc func(ctx context.Context, actor models.Actor, available bool) (*models.Driver, error)
	OffersFunc          func(ctx context.Context, actor models.Actor) ([]*models.Order, error)
}

func (m *mockDriverOps) Provision(ctx context.Context, req *models.ProvisionRequest) error {
	if m.ProvisionFunc != nil {
		return m.ProvisionFunc(ctx, req)
	}
	return nil
}

func (m *mockDriverOps) Me(ctx context.Context, actor models.Actor) (*models.Driver, error) {
	if m.MeFunc != nil {
		return m.MeFunc(ctx, actor)
	}
	return nil, services.ErrNotDriver
}

func (m *mockDriverOps) UpdateLocation(ctx context.Context, actor models.Actor, lat, lon float64) (*models.Driver, error) {
	if m.UpdateLocationFunc != nil {
		return m.UpdateLocationFunc(ctx, actor, lat, lon)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDriverOps) SetAvailability(ctx context.Context, actor models.Actor, available bool) (*models.Driver, error) {
	if m.SetAvailabilityFunc != nil {
		return m.SetAvailabilityFunc(ctx, actor, available)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDriverOps) Offers(ctx context.Context, actor models.Actor) ([]*models.Order, error) {
	if m.OffersFunc != nil {
		return m.OffersFunc(ctx, actor)
	}
	return nil, nil
}

type mockWalletService struct {
	GetWalletFunc   func(ctx context.Context, actor models.Actor) (*models.Wallet, error)
	ListEntriesFunc func(ctx context.Context, actor models.Actor, limit int) ([]*models.LedgerEntry, error)
	WithdrawFunc    func(ctx context.Context, actor models.Actor, sum decimal.Decimal, description string) error
	AdjustFunc      func(ctx context.Context, actor models.Actor, ownerID uuid.UUID, amount decimal.Decimal, description string) error
}

func (m *mockWalletService) GetWallet(ctx context.Context, actor models.Actor) (*models.Wallet, error) {
	if m.GetWalletFunc != nil {
		return m.GetWalletFunc(ctx, actor)
	}
	return nil, errors.New("not implemented")
}

func (m *mockWalletService) ListEntries(ctx context.Context, actor models.Actor, limit int) ([]*models.LedgerEntry, error) {
	if m.ListEntriesFunc != nil {
		return m.ListEntriesFunc(ctx, actor, limit)
	}
	return nil, nil
}

func (m *mockWalletService) Withdraw(ctx context.Context, actor models.Actor, sum decimal.Decimal, description string) error {
	if m.WithdrawFunc != nil {
		return m.WithdrawFunc(ctx, actor, sum, description)
	}
	return nil
}

func (m *mockWalletService) Adjust(ctx context.Context, actor models.Actor, ownerID uuid.UUID, amount decimal.Decimal, description string) error {
	if m.AdjustFunc != nil {
		return m.AdjustFunc(ctx, actor, ownerID, amount, description)
	}
	return nil
}

// request описывает вызов handler в тесте.
type request struct {
	method string
	target string
	body   string
	actor  *models.Actor
	params map[string]string
}

// serve вызывает handler и возвращает итоговый статус и записанный ответ.
func serve(t *testing.T, handler echo.HandlerFunc, r request) (int, *httptest.ResponseRecorder) {
	t.Helper()

	e := echo.New()
	e.Validator = NewRequestValidator()

	var req *http.Request
	if r.body != "" {
		req = httptest.NewRequest(r.method, r.target, strings.NewReader(r.body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(r.method, r.target, nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if r.actor != nil {
		c.Set(string(auth.UserIDKey), r.actor.UserID)
		c.Set(string(auth.UserRoleKey), r.actor.Role)
	}
	for name, value := range r.params {
		c.SetParamNames(name)
		c.SetParamValues(value)
	}

	err := handler(c)
	if err == nil {
		return rec.Code, rec
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, rec
	}
	t.Fatalf("handler returned non-HTTP error: %v", err)
	return 0, rec
}

func actorOf(role models.Role) *models.Actor {
	return &models.Actor{UserID: uuid.New(), Role: role}
}
