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

var (
	ErrRestaurantNotFound = errors.New("restaurant not found")
	ErrItemNotFound       = errors.New("menu item not found")
	ErrAddonNotFound      = errors.New("menu addon not found")
)

// PostgresCatalogStorage даёт доступ на чтение к ресторанам и ценам каталога.
type PostgresCatalogStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalogStorage создаёт новый экземпляр PostgresCatalogStorage.
func NewPostgresCatalogStorage(pool *pgxpool.Pool) *PostgresCatalogStorage {
	return &PostgresCatalogStorage{pool: pool}
}

// GetRestaurant возвращает ресторан по идентификатору.
func (s *PostgresCatalogStorage) GetRestaurant(ctx context.Context, id uuid.UUID) (*models.Restaurant, error) {
	query := `
		SELECT id, owner_id, name, lat, lon, push_address
		FROM restaurants
		WHERE id = $1
	`

	r := &models.Restaurant{}
	err := s.pool.QueryRow(ctx, query, id).Scan(&r.ID, &r.OwnerID, &r.Name, &r.Lat, &r.Lon, &r.PushAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRestaurantNotFound
		}
		return nil, fmt.Errorf("failed to get restaurant: %w", err)
	}
	return r, nil
}

// CreateRestaurant добавляет ресторан. Используется при заведении данных и в тестах.
func (s *PostgresCatalogStorage) CreateRestaurant(ctx context.Context, r *models.Restaurant) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO restaurants (id, owner_id, name, lat, lon, push_address)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.OwnerID, r.Name, r.Lat, r.Lon, r.PushAddress)
	if err != nil {
		return fmt.Errorf("failed to create restaurant: %w", err)
	}
	return nil
}

// CreateItem добавляет позицию меню вместе с опциями.
func (s *PostgresCatalogStorage) CreateItem(ctx context.Context, item *models.MenuItem, addons []*models.MenuAddon) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO menu_items (id, restaurant_id, name, price, discount_price)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.RestaurantID, item.Name, item.Price, item.DiscountPrice)
	if err != nil {
		return fmt.Errorf("failed to create menu item: %w", err)
	}

	for _, a := range addons {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.ItemID = item.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO menu_addons (id, item_id, name, price) VALUES ($1, $2, $3, $4)
		`, a.ID, a.ItemID, a.Name, a.Price)
		if err != nil {
			return fmt.Errorf("failed to create menu addon: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit menu item: %w", err)
	}
	return nil
}

// GetItem возвращает позицию меню ресторана.
func (s *PostgresCatalogStorage) GetItem(ctx context.Context, restaurantID, itemID uuid.UUID) (*models.MenuItem, error) {
	query := `
		SELECT id, restaurant_id, name, price, discount_price
		FROM menu_items
		WHERE id = $1 AND restaurant_id = $2
	`

	item := &models.MenuItem{}
	err := s.pool.QueryRow(ctx, query, itemID, restaurantID).
		Scan(&item.ID, &item.RestaurantID, &item.Name, &item.Price, &item.DiscountPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get menu item: %w", err)
	}
	return item, nil
}

// GetAddon возвращает опцию позиции.
func (s *PostgresCatalogStorage) GetAddon(ctx context.Context, itemID, addonID uuid.UUID) (*models.MenuAddon, error) {
	query := `
		SELECT id, item_id, name, price
		FROM menu_addons
		WHERE id = $1 AND item_id = $2
	`

	a := &models.MenuAddon{}
	err := s.pool.QueryRow(ctx, query, addonID, itemID).Scan(&a.ID, &a.ItemID, &a.Name, &a.Price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAddonNotFound
		}
		return nil, fmt.Errorf("failed to get menu addon: %w", err)
	}
	return a, nil
}
