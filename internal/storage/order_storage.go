package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agamariel/fooddispatch/internal/fare"
	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderStateConflict = errors.New("order state changed concurrently")
	ErrAlreadySettled     = errors.New("order already settled")
)

const orderColumns = `
	id, number, customer_id, restaurant_id, driver_id, status, payment_method,
	payment_reference, payment_confirmed, subtotal, discount, tax, delivery_fee, total,
	delivery_address, delivery_lat, delivery_lon, acceptance_deadline, fee_degraded,
	stuck_since, settled, created_at, updated_at`

// PostgresOrderStorage реализует хранение заказов в PostgreSQL.
// Все переходы назначения выполняются как compare-and-swap по статусу.
type PostgresOrderStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresOrderStorage создаёт новый экземпляр PostgresOrderStorage.
func NewPostgresOrderStorage(pool *pgxpool.Pool) *PostgresOrderStorage {
	return &PostgresOrderStorage{pool: pool}
}

// Create создаёт заказ вместе с позициями. Номер выдаётся последовательностью.
func (s *PostgresOrderStorage) Create(ctx context.Context, order *models.Order, lines []*models.OrderLine) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	query := `
		INSERT INTO orders (
			id, number, customer_id, restaurant_id, status, payment_method, payment_reference,
			subtotal, discount, tax, delivery_fee, total,
			delivery_address, delivery_lat, delivery_lon, fee_degraded, created_at, updated_at
		)
		VALUES ($1, nextval('order_number_seq'), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		RETURNING number, created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		order.ID,
		order.CustomerID,
		order.RestaurantID,
		order.Status,
		order.PaymentMethod,
		order.PaymentReference,
		order.Subtotal,
		order.Discount,
		order.Tax,
		order.DeliveryFee,
		order.Total,
		order.DeliveryAddress,
		order.DeliveryLat,
		order.DeliveryLon,
		order.FeeDegraded,
	).Scan(&order.Number, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	if err := insertLinesTx(ctx, tx, order.ID, lines); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

// GetByID возвращает заказ по идентификатору.
func (s *PostgresOrderStorage) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(s.pool.QueryRow(ctx, query, id))
}

// GetLines возвращает позиции заказа.
func (s *PostgresOrderStorage) GetLines(ctx context.Context, orderID uuid.UUID) ([]*models.OrderLine, error) {
	query := `
		SELECT id, order_id, item_id, addon_ids, quantity, unit_price, discount, subtotal
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id
	`
	rows, err := s.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	var lines []*models.OrderLine
	for rows.Next() {
		var (
			l      models.OrderLine
			addons []string
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &addons, &l.Quantity, &l.UnitPrice, &l.Discount, &l.Subtotal); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		for _, a := range addons {
			id, err := uuid.Parse(a)
			if err != nil {
				return nil, fmt.Errorf("invalid addon id %q: %w", a, err)
			}
			l.AddonIDs = append(l.AddonIDs, id)
		}
		lines = append(lines, &l)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}
	return lines, nil
}

// ReplaceLines заменяет позиции и записывает пересчитанные итоги в одной транзакции.
// Заказ должен находиться в одном из статусов allowed.
func (s *PostgresOrderStorage) ReplaceLines(ctx context.Context, orderID uuid.UUID, lines []*models.OrderLine, totals fare.Totals, allowed []models.OrderStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status models.OrderStatus
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("failed to lock order: %w", err)
	}
	if !containsStatus(allowed, status) {
		return ErrOrderStateConflict
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("failed to delete order lines: %w", err)
	}
	if err := insertLinesTx(ctx, tx, orderID, lines); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET subtotal = $2, discount = $3, tax = $4, total = $5, updated_at = NOW()
		WHERE id = $1
	`, orderID, totals.Subtotal, totals.Discount, totals.Tax, totals.Total)
	if err != nil {
		return fmt.Errorf("failed to update order totals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit order lines: %w", err)
	}
	return nil
}

// ListAwaitingByDriver возвращает заказы, ожидающие принятия указанным водителем.
func (s *PostgresOrderStorage) ListAwaitingByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE driver_id = $1 AND status = $2
		ORDER BY acceptance_deadline ASC
	`
	return s.queryOrders(ctx, query, driverID, models.OrderStatusAwaitingAcceptance)
}

// ListExpiredAwaiting возвращает заказы с истёкшим окном принятия на момент now.
func (s *PostgresOrderStorage) ListExpiredAwaiting(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1 AND acceptance_deadline < $2
		ORDER BY acceptance_deadline ASC
		LIMIT $3
	`
	return s.queryOrders(ctx, query, models.OrderStatusAwaitingAcceptance, now, limit)
}

// ListUnsettledDelivered возвращает доставленные, но ещё не рассчитанные заказы.
func (s *PostgresOrderStorage) ListUnsettledDelivered(ctx context.Context, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1 AND settled = FALSE
		ORDER BY updated_at ASC
		LIMIT $2
	`
	return s.queryOrders(ctx, query, models.OrderStatusDelivered, limit)
}

// ClaimForDriver атомарно предлагает заказ водителю.
// Строка водителя блокируется и перепроверяется в момент записи, чтобы фильтр кандидатов
// не оставлял окна гонки. Потеря CAS по заказу даёт ErrOrderStateConflict,
// потеря доступности водителя: ErrDriverUnavailable.
func (s *PostgresOrderStorage) ClaimForDriver(ctx context.Context, orderID, driverID uuid.UUID, now, deadline time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	driver, err := lockDriverTx(ctx, tx, driverID)
	if err != nil {
		return err
	}
	if !driver.Dispatchable(now) {
		return ErrDriverUnavailable
	}

	var busy bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE driver_id = $1 AND status = ANY($2))
	`, driverID, liveStatusNames()).Scan(&busy)
	if err != nil {
		return fmt.Errorf("failed to check driver orders: %w", err)
	}
	if busy {
		return ErrDriverUnavailable
	}

	result, err := tx.Exec(ctx, `
		UPDATE orders
		SET driver_id = $2, status = $3, acceptance_deadline = $4, stuck_since = NULL, updated_at = $5
		WHERE id = $1 AND status = $6 AND driver_id IS NULL
	`, orderID, driverID, models.OrderStatusAwaitingAcceptance, deadline, now,
		models.OrderStatusAccepted)
	if err != nil {
		return fmt.Errorf("failed to claim order: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOrderStateConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO dispatch_attempts (id, order_id, driver_id, offered_at, deadline, outcome)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), orderID, driverID, now, deadline, models.AttemptPending)
	if err != nil {
		return fmt.Errorf("failed to record dispatch attempt: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE drivers SET last_assigned_at = $2, updated_at = $2 WHERE id = $1`, driverID, now)
	if err != nil {
		return fmt.Errorf("failed to update driver: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit claim: %w", err)
	}
	return nil
}

// ConfirmAcceptance переводит заказ в assigned, если окно ещё не истекло.
func (s *PostgresOrderStorage) ConfirmAcceptance(ctx context.Context, orderID, driverID uuid.UUID, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $3, acceptance_deadline = NULL, updated_at = $4
		WHERE id = $1 AND driver_id = $2 AND status = $5 AND acceptance_deadline >= $4
	`, orderID, driverID, models.OrderStatusAssigned, now, models.OrderStatusAwaitingAcceptance)
	if err != nil {
		return fmt.Errorf("failed to accept order: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOrderStateConflict
	}

	if err := closeAttemptTx(ctx, tx, orderID, models.AttemptAccepted, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit acceptance: %w", err)
	}
	return nil
}

// ExpireAttempt снимает водителя с заказа с истёкшим окном и выставляет ему штраф.
// Возвращает обновлённого водителя и признак отстранения.
func (s *PostgresOrderStorage) ExpireAttempt(ctx context.Context, orderID, driverID uuid.UUID, now time.Time) (*models.Driver, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// порядок блокировок: водитель, затем заказ (как в ClaimForDriver)
	driver, err := lockDriverTx(ctx, tx, driverID)
	if err != nil {
		return nil, false, err
	}

	result, err := tx.Exec(ctx, `
		UPDATE orders
		SET driver_id = NULL, status = $3, acceptance_deadline = NULL, updated_at = $4
		WHERE id = $1 AND driver_id = $2 AND status = $5 AND acceptance_deadline < $4
	`, orderID, driverID, models.OrderStatusAccepted, now, models.OrderStatusAwaitingAcceptance)
	if err != nil {
		return nil, false, fmt.Errorf("failed to expire order: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, false, ErrOrderStateConflict
	}

	if err := closeAttemptTx(ctx, tx, orderID, models.AttemptExpired, now); err != nil {
		return nil, false, err
	}

	suspended, err := registerPenaltyTx(ctx, tx, driver, &orderID, now)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit expiry: %w", err)
	}
	return driver, suspended, nil
}

// MarkStuck помечает заказ, для которого не нашлось водителя.
func (s *PostgresOrderStorage) MarkStuck(ctx context.Context, orderID uuid.UUID, now time.Time) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET stuck_since = COALESCE(stuck_since, $2), updated_at = $2
		WHERE id = $1 AND driver_id IS NULL AND status = $3
	`, orderID, now, models.OrderStatusAccepted)
	if err != nil {
		return fmt.Errorf("failed to mark order stuck: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOrderStateConflict
	}
	return nil
}

// UpdateStatus выполняет переход from → to, если статус не изменился.
func (s *PostgresOrderStorage) UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to models.OrderStatus, now time.Time) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, orderID, from, to, now)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOrderStateConflict
	}
	return nil
}

// Cancel отменяет заказ из статуса from. Ожидающее предложение закрывается,
// водитель, ещё не принявший заказ, освобождается.
func (s *PostgresOrderStorage) Cancel(ctx context.Context, orderID uuid.UUID, from models.OrderStatus, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $3,
		    driver_id = CASE WHEN status = $5 THEN NULL ELSE driver_id END,
		    acceptance_deadline = NULL,
		    updated_at = $4
		WHERE id = $1 AND status = $2
	`, orderID, from, models.OrderStatusCancelled, now, models.OrderStatusAwaitingAcceptance)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOrderStateConflict
	}

	if err := closeAttemptTx(ctx, tx, orderID, models.AttemptCancelled, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit cancel: %w", err)
	}
	return nil
}

// ConfirmPayment отмечает платёж подтверждённым и открывает заказ (awaiting_payment → pending).
func (s *PostgresOrderStorage) ConfirmPayment(ctx context.Context, orderID uuid.UUID, now time.Time) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $2, payment_confirmed = TRUE, updated_at = $3
		WHERE id = $1 AND status = $4
	`, orderID, models.OrderStatusPending, now, models.OrderStatusAwaitingPayment)
	if err != nil {
		return fmt.Errorf("failed to confirm payment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOrderStateConflict
	}
	return nil
}

func (s *PostgresOrderStorage) queryOrders(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}
	return orders, nil
}

func insertLinesTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, lines []*models.OrderLine) error {
	query := `
		INSERT INTO order_lines (id, order_id, item_id, addon_ids, quantity, unit_price, discount, subtotal)
		VALUES ($1, $2, $3, $4::uuid[], $5, $6, $7, $8)
	`
	for _, l := range lines {
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		l.OrderID = orderID

		addons := make([]string, 0, len(l.AddonIDs))
		for _, a := range l.AddonIDs {
			addons = append(addons, a.String())
		}

		_, err := tx.Exec(ctx, query, l.ID, orderID, l.ItemID, addons, l.Quantity, l.UnitPrice, l.Discount, l.Subtotal)
		if err != nil {
			return fmt.Errorf("failed to insert order line: %w", err)
		}
	}
	return nil
}

func closeAttemptTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, outcome models.DispatchOutcome, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE dispatch_attempts
		SET outcome = $2, closed_at = $3
		WHERE order_id = $1 AND outcome = $4
	`, orderID, outcome, now, models.AttemptPending)
	if err != nil {
		return fmt.Errorf("failed to close dispatch attempt: %w", err)
	}
	return nil
}

// scanOrder помогает читать заказ из строки результата.
func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	err := row.Scan(
		&order.ID,
		&order.Number,
		&order.CustomerID,
		&order.RestaurantID,
		&order.DriverID,
		&order.Status,
		&order.PaymentMethod,
		&order.PaymentReference,
		&order.PaymentConfirmed,
		&order.Subtotal,
		&order.Discount,
		&order.Tax,
		&order.DeliveryFee,
		&order.Total,
		&order.DeliveryAddress,
		&order.DeliveryLat,
		&order.DeliveryLon,
		&order.AcceptanceDeadline,
		&order.FeeDegraded,
		&order.StuckSince,
		&order.Settled,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return &order, nil
}

func containsStatus(list []models.OrderStatus, status models.OrderStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

func liveStatusNames() []string {
	names := make([]string, 0, len(models.LiveDriverStatuses))
	for _, s := range models.LiveDriverStatuses {
		names = append(names, string(s))
	}
	return names
}
