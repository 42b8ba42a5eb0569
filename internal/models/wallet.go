package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryKind описывает тип движения по кошельку.
type EntryKind string

const (
	EntryCredit     EntryKind = "credit"
	EntryDebit      EntryKind = "debit"
	EntryAdjustment EntryKind = "adjustment"
)

// Wallet: баланс получателя (владелец ресторана, водитель, платформа).
type Wallet struct {
	ID        uuid.UUID       `db:"id"`
	OwnerID   uuid.UUID       `db:"owner_id"`
	Balance   decimal.Decimal `db:"balance"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// LedgerEntry: неизменяемая запись движения по кошельку.
// Amount хранится со знаком: списания отрицательные.
type LedgerEntry struct {
	ID          uuid.UUID       `db:"id"`
	WalletID    uuid.UUID       `db:"wallet_id"`
	OrderID     *uuid.UUID      `db:"order_id"`
	Kind        EntryKind       `db:"kind"`
	Amount      decimal.Decimal `db:"amount"`
	Description string          `db:"description"`
	CreatedAt   time.Time       `db:"created_at"`
}

// Posting: начисление, которое нужно провести по кошельку владельца.
type Posting struct {
	OwnerID     uuid.UUID
	Payee       string
	Amount      decimal.Decimal
	Description string
}

// WithdrawRequest DTO для запроса вывода средств.
type WithdrawRequest struct {
	Sum         string `json:"sum" validate:"required,numeric"`
	Description string `json:"description" validate:"max=200"`
}

// AdjustRequest DTO для ручной корректировки баланса.
type AdjustRequest struct {
	OwnerID     uuid.UUID `json:"owner_id" validate:"required"`
	Amount      string    `json:"amount" validate:"required,numeric"`
	Description string    `json:"description" validate:"required,max=200"`
}

// WalletResponse ответ с балансом.
type WalletResponse struct {
	OwnerID string `json:"owner_id"`
	Balance string `json:"balance"`
}

// LedgerEntryResponse DTO для истории движений.
type LedgerEntryResponse struct {
	Kind        string  `json:"kind"`
	Amount      string  `json:"amount"`
	Description string  `json:"description"`
	OrderID     *string `json:"order_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// NewWalletResponse преобразует кошелёк в DTO.
func NewWalletResponse(w *Wallet) *WalletResponse {
	return &WalletResponse{
		OwnerID: w.OwnerID.String(),
		Balance: w.Balance.StringFixed(2),
	}
}

// NewLedgerEntryResponse преобразует запись движения в DTO.
func NewLedgerEntryResponse(e *LedgerEntry) *LedgerEntryResponse {
	resp := &LedgerEntryResponse{
		Kind:        string(e.Kind),
		Amount:      e.Amount.StringFixed(2),
		Description: e.Description,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
	if e.OrderID != nil {
		id := e.OrderID.String()
		resp.OrderID = &id
	}
	return resp
}
