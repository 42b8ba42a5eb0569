package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// PostgresWalletStorage реализует кошельки и журнал проводок в PostgreSQL.
// Баланс кошелька всегда меняется в одной транзакции с вставкой проводки.
type PostgresWalletStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresWalletStorage создаёт новый экземпляр PostgresWalletStorage.
func NewPostgresWalletStorage(pool *pgxpool.Pool) *PostgresWalletStorage {
	return &PostgresWalletStorage{pool: pool}
}

// EnsureWallet создаёт кошелёк владельца, если его ещё нет, и возвращает его.
func (s *PostgresWalletStorage) EnsureWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (id, owner_id, balance, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())
		ON CONFLICT (owner_id) DO NOTHING
	`, uuid.New(), ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}
	return s.GetByOwner(ctx, ownerID)
}

// GetByOwner возвращает кошелёк владельца.
func (s *PostgresWalletStorage) GetByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	query := `
		SELECT id, owner_id, balance, created_at, updated_at
		FROM wallets
		WHERE owner_id = $1
	`

	w := &models.Wallet{}
	err := s.pool.QueryRow(ctx, query, ownerID).Scan(&w.ID, &w.OwnerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// ListEntries возвращает проводки кошелька владельца, новые первыми.
func (s *PostgresWalletStorage) ListEntries(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT e.id, e.wallet_id, e.order_id, e.kind, e.amount, e.description, e.created_at
		FROM ledger_entries e
		JOIN wallets w ON w.id = e.wallet_id
		WHERE w.owner_id = $1
		ORDER BY e.created_at DESC, e.id
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.OrderID, &e.Kind, &e.Amount, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}
	return entries, nil
}

// ListOrderEntries возвращает все проводки по заказу.
func (s *PostgresWalletStorage) ListOrderEntries(ctx context.Context, orderID uuid.UUID) ([]*models.LedgerEntry, error) {
	query := `
		SELECT id, wallet_id, order_id, kind, amount, description, created_at
		FROM ledger_entries
		WHERE order_id = $1
		ORDER BY created_at, id
	`

	rows, err := s.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.OrderID, &e.Kind, &e.Amount, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}
	return entries, nil
}

// ApplySettlement отмечает заказ рассчитанным и проводит начисления в одной транзакции.
// Если заказ уже рассчитан или не доставлен, возвращает ErrAlreadySettled и ничего не пишет.
func (s *PostgresWalletStorage) ApplySettlement(ctx context.Context, orderID uuid.UUID, postings []models.Posting) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE orders
		SET settled = TRUE, updated_at = NOW()
		WHERE id = $1 AND settled = FALSE AND status = $2
	`, orderID, models.OrderStatusDelivered)
	if err != nil {
		return fmt.Errorf("failed to mark order settled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadySettled
	}

	// блокируем кошельки в стабильном порядке
	sorted := make([]models.Posting, len(postings))
	copy(sorted, postings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OwnerID.String() < sorted[j].OwnerID.String()
	})

	for _, p := range sorted {
		if p.Amount.IsZero() {
			continue
		}
		if err := s.postTx(ctx, tx, p.OwnerID, &orderID, models.EntryCredit, p.Amount, p.Description); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}

// Withdraw списывает средства с кошелька владельца.
func (s *PostgresWalletStorage) Withdraw(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal, description string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.postTx(ctx, tx, ownerID, nil, models.EntryDebit, amount.Neg(), description); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Adjust проводит ручную корректировку со знаком.
func (s *PostgresWalletStorage) Adjust(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal, description string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.postTx(ctx, tx, ownerID, nil, models.EntryAdjustment, amount, description); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// postTx применяет подписанную сумму к кошельку и добавляет проводку.
// Баланс не может стать отрицательным.
func (s *PostgresWalletStorage) postTx(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, orderID *uuid.UUID, kind models.EntryKind, amount decimal.Decimal, description string) error {
	var (
		walletID uuid.UUID
		balance  decimal.Decimal
	)
	err := tx.QueryRow(ctx, `SELECT id, balance FROM wallets WHERE owner_id = $1 FOR UPDATE`, ownerID).
		Scan(&walletID, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrWalletNotFound
		}
		return fmt.Errorf("failed to lock wallet: %w", err)
	}

	if balance.Add(amount).IsNegative() {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, wallet_id, order_id, kind, amount, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, uuid.New(), walletID, orderID, kind, amount, description)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE id = $2
	`, amount, walletID)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	return nil
}
