package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrContactNotFound = errors.New("contact not found")

// PostgresAuditStorage пишет журнал аудита. Записи только добавляются.
type PostgresAuditStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresAuditStorage создаёт новый экземпляр PostgresAuditStorage.
func NewPostgresAuditStorage(pool *pgxpool.Pool) *PostgresAuditStorage {
	return &PostgresAuditStorage{pool: pool}
}

// Record добавляет запись аудита.
func (s *PostgresAuditStorage) Record(ctx context.Context, rec models.AuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_records (id, actor_id, action, description, entity, entity_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, rec.ID, rec.ActorID, rec.Action, rec.Description, rec.Entity, rec.EntityID)
	if err != nil {
		return fmt.Errorf("failed to record audit: %w", err)
	}
	return nil
}

// ListByEntity возвращает записи по сущности в порядке добавления.
func (s *PostgresAuditStorage) ListByEntity(ctx context.Context, entity, entityID string) ([]*models.AuditRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, actor_id, action, description, entity, entity_id, created_at
		FROM audit_records
		WHERE entity = $1 AND entity_id = $2
		ORDER BY created_at, id
	`, entity, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		if err := rows.Scan(&r.ID, &r.ActorID, &r.Action, &r.Description, &r.Entity, &r.EntityID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, &r)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}
	return records, nil
}

// PostgresContactStorage хранит адреса уведомлений пользователей.
type PostgresContactStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresContactStorage создаёт новый экземпляр PostgresContactStorage.
func NewPostgresContactStorage(pool *pgxpool.Pool) *PostgresContactStorage {
	return &PostgresContactStorage{pool: pool}
}

// Upsert сохраняет адрес уведомлений пользователя.
func (s *PostgresContactStorage) Upsert(ctx context.Context, c *models.Contact) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (user_id, role, push_address, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role, push_address = EXCLUDED.push_address, updated_at = NOW()
		RETURNING updated_at
	`, c.UserID, c.Role, c.PushAddress).Scan(&c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

// Get возвращает контакт пользователя.
func (s *PostgresContactStorage) Get(ctx context.Context, userID uuid.UUID) (*models.Contact, error) {
	c := &models.Contact{}
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, role, push_address, updated_at FROM contacts WHERE user_id = $1
	`, userID).Scan(&c.UserID, &c.Role, &c.PushAddress, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}
