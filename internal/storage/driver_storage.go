package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrDriverNotFound    = errors.New("driver not found")
	ErrDriverExists      = errors.New("driver already exists")
	ErrDriverUnavailable = errors.New("driver is no longer available")
)

const driverColumns = `
	id, user_id, available, lat, lon, last_assigned_at, penalty_count,
	last_penalty_at, suspended_until, push_address, created_at, updated_at`

// PostgresDriverStorage реализует хранение водителей в PostgreSQL.
type PostgresDriverStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresDriverStorage создаёт новый экземпляр PostgresDriverStorage.
func NewPostgresDriverStorage(pool *pgxpool.Pool) *PostgresDriverStorage {
	return &PostgresDriverStorage{pool: pool}
}

// Create создаёт запись водителя. Водитель создаётся недоступным и без координат.
func (s *PostgresDriverStorage) Create(ctx context.Context, driver *models.Driver) error {
	if driver.ID == uuid.Nil {
		driver.ID = uuid.New()
	}

	query := `
		INSERT INTO drivers (id, user_id, available, push_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query, driver.ID, driver.UserID, driver.Available, driver.PushAddress).
		Scan(&driver.CreatedAt, &driver.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrDriverExists
		}
		return fmt.Errorf("failed to create driver: %w", err)
	}
	return nil
}

// GetByID возвращает водителя по идентификатору.
func (s *PostgresDriverStorage) GetByID(ctx context.Context, id uuid.UUID) (*models.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1`
	return scanDriver(s.pool.QueryRow(ctx, query, id))
}

// GetByUserID возвращает водителя по пользователю.
func (s *PostgresDriverStorage) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE user_id = $1`
	return scanDriver(s.pool.QueryRow(ctx, query, userID))
}

// UpdateLocation сохраняет последние координаты водителя.
func (s *PostgresDriverStorage) UpdateLocation(ctx context.Context, driverID uuid.UUID, lat, lon float64) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE drivers SET lat = $2, lon = $3, updated_at = NOW() WHERE id = $1
	`, driverID, lat, lon)
	if err != nil {
		return fmt.Errorf("failed to update driver location: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrDriverNotFound
	}
	return nil
}

// SetAvailability меняет доступность. Включить доступность отстранённому водителю нельзя.
func (s *PostgresDriverStorage) SetAvailability(ctx context.Context, driverID uuid.UUID, available bool, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	driver, err := lockDriverTx(ctx, tx, driverID)
	if err != nil {
		return err
	}
	if available && driver.Suspended(now) {
		return ErrDriverUnavailable
	}

	_, err = tx.Exec(ctx, `UPDATE drivers SET available = $2, updated_at = $3 WHERE id = $1`, driverID, available, now)
	if err != nil {
		return fmt.Errorf("failed to update driver availability: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit availability: %w", err)
	}
	return nil
}

// ListDispatchable возвращает водителей, которым можно предложить заказ на момент now:
// доступных, не отстранённых, с координатами, не исключённых и без живых заказов.
// Фильтрация по радиусу и сортировка выполняются в сервисе.
func (s *PostgresDriverStorage) ListDispatchable(ctx context.Context, now time.Time, excluding []uuid.UUID) ([]*models.Driver, error) {
	excluded := make([]string, 0, len(excluding))
	for _, id := range excluding {
		excluded = append(excluded, id.String())
	}

	query := `SELECT ` + driverColumns + `
		FROM drivers d
		WHERE d.available
		  AND (d.suspended_until IS NULL OR d.suspended_until <= $1)
		  AND d.lat IS NOT NULL AND d.lon IS NOT NULL
		  AND NOT (d.id = ANY($2::uuid[]))
		  AND NOT EXISTS (
			SELECT 1 FROM orders o WHERE o.driver_id = d.id AND o.status = ANY($3)
		  )
	`
	rows, err := s.pool.Query(ctx, query, now, excluded, liveStatusNames())
	if err != nil {
		return nil, fmt.Errorf("failed to query drivers: %w", err)
	}
	defer rows.Close()

	var drivers []*models.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}
	return drivers, nil
}

// lockDriverTx читает водителя с блокировкой строки до конца транзакции.
func lockDriverTx(ctx context.Context, tx pgx.Tx, driverID uuid.UUID) (*models.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1 FOR UPDATE`
	return scanDriver(tx.QueryRow(ctx, query, driverID))
}

// registerPenaltyTx добавляет штраф, пересчитывает окно и сохраняет водителя.
func registerPenaltyTx(ctx context.Context, tx pgx.Tx, driver *models.Driver, orderID *uuid.UUID, now time.Time) (bool, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO driver_penalties (id, driver_id, order_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), driver.ID, orderID, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert penalty: %w", err)
	}

	var inWindow int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM driver_penalties
		WHERE driver_id = $1 AND created_at > $2 AND created_at <= $3
	`, driver.ID, now.Add(-models.PenaltyWindow), now).Scan(&inWindow)
	if err != nil {
		return false, fmt.Errorf("failed to count penalties: %w", err)
	}

	suspended := driver.RegisterPenalty(now, inWindow)

	_, err = tx.Exec(ctx, `
		UPDATE drivers
		SET penalty_count = $2, last_penalty_at = $3, suspended_until = $4, available = $5, updated_at = $6
		WHERE id = $1
	`, driver.ID, driver.PenaltyCount, driver.LastPenaltyAt, driver.SuspendedUntil, driver.Available, now)
	if err != nil {
		return false, fmt.Errorf("failed to update driver penalties: %w", err)
	}
	return suspended, nil
}

func scanDriver(row pgx.Row) (*models.Driver, error) {
	var d models.Driver
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.Available,
		&d.Lat,
		&d.Lon,
		&d.LastAssignedAt,
		&d.PenaltyCount,
		&d.LastPenaltyAt,
		&d.SuspendedUntil,
		&d.PushAddress,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDriverNotFound
		}
		return nil, fmt.Errorf("failed to scan driver: %w", err)
	}
	return &d, nil
}
