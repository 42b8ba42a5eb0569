package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultEntriesLimit = 100

// WalletService описывает операции по кошелькам получателей.
type WalletService interface {
	GetWallet(ctx context.Context, actor models.Actor) (*models.Wallet, error)
	ListEntries(ctx context.Context, actor models.Actor, limit int) ([]*models.LedgerEntry, error)
	Withdraw(ctx context.Context, actor models.Actor, sum decimal.Decimal, description string) error
	Adjust(ctx context.Context, actor models.Actor, ownerID uuid.UUID, amount decimal.Decimal, description string) error
}

type WalletServiceImpl struct {
	wallets WalletStorage
	audit   AuditSink
	logger  *log.Logger
}

// NewWalletService создаёт сервис кошельков.
func NewWalletService(wallets WalletStorage, audit AuditSink, logger *log.Logger) *WalletServiceImpl {
	if logger == nil {
		logger = log.Default()
	}
	return &WalletServiceImpl{wallets: wallets, audit: audit, logger: logger}
}

// GetWallet возвращает кошелёк текущего пользователя.
func (s *WalletServiceImpl) GetWallet(ctx context.Context, actor models.Actor) (*models.Wallet, error) {
	return s.wallets.GetByOwner(ctx, actor.UserID)
}

// ListEntries возвращает историю движений, новые первыми.
func (s *WalletServiceImpl) ListEntries(ctx context.Context, actor models.Actor, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > defaultEntriesLimit {
		limit = defaultEntriesLimit
	}
	return s.wallets.ListEntries(ctx, actor.UserID, limit)
}

// Withdraw выполняет вывод средств.
func (s *WalletServiceImpl) Withdraw(ctx context.Context, actor models.Actor, sum decimal.Decimal, description string) error {
	if sum.LessThanOrEqual(decimal.Zero) || !sum.Equal(sum.Round(2)) {
		return ErrInvalidAmount
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "withdrawal"
	}

	if err := s.wallets.Withdraw(ctx, actor.UserID, sum, description); err != nil {
		return err
	}

	s.logger.Printf("wallet %s: withdrawn %s", actor.UserID, sum.StringFixed(2))
	s.record(ctx, actor, "wallet_debit", fmt.Sprintf("withdrawn %s", sum.StringFixed(2)), actor.UserID)
	return nil
}

// Adjust проводит ручную корректировку. Доступно только администратору.
func (s *WalletServiceImpl) Adjust(ctx context.Context, actor models.Actor, ownerID uuid.UUID, amount decimal.Decimal, description string) error {
	if actor.Role != models.RoleAdmin {
		return ErrForbidden
	}
	if amount.IsZero() || !amount.Equal(amount.Round(2)) {
		return ErrInvalidAmount
	}

	if err := s.wallets.Adjust(ctx, ownerID, amount, description); err != nil {
		return fmt.Errorf("adjust wallet: %w", err)
	}

	s.logger.Printf("wallet %s adjusted by %s", ownerID, amount.StringFixed(2))
	s.record(ctx, actor, "wallet_adjustment", fmt.Sprintf("adjusted by %s: %s", amount.StringFixed(2), description), ownerID)
	return nil
}

func (s *WalletServiceImpl) record(ctx context.Context, actor models.Actor, action, description string, ownerID uuid.UUID) {
	if s.audit == nil {
		return
	}
	actorID := actor.UserID
	rec := models.AuditRecord{
		ActorID:     &actorID,
		Action:      action,
		Description: description,
		Entity:      "wallet",
		EntityID:    ownerID.String(),
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.Printf("audit %s failed: %v", action, err)
	}
}
