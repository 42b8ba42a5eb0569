package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var embedMigrations embed.FS

func newProvider(db *sql.DB) (*goose.Provider, error) {
	provider, err := goose.NewProvider(goose.DialectPostgres, db, embedMigrations)
	if err != nil {
		return nil, fmt.Errorf("failed to create goose provider: %w", err)
	}
	return provider, nil
}

// Run применяет все миграции схемы диспетчеризации.
func Run(ctx context.Context, db *sql.DB, logger *log.Logger) error {
	provider, err := newProvider(db)
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if logger != nil {
		for _, r := range results {
			logger.Printf("applied migration %s in %s", r.Source.Path, r.Duration)
		}
	}
	return nil
}

// Version возвращает текущую версию схемы.
func Version(ctx context.Context, db *sql.DB) (int64, error) {
	provider, err := newProvider(db)
	if err != nil {
		return 0, err
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, nil
}
