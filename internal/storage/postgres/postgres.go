// Package postgres implements the storage.Backend interface on PostgreSQL
// with PostGIS, reusing the GORM queue writer.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stagesim/pioneer/internal/config"
	"github.com/stagesim/pioneer/internal/database"
	gormstorage "github.com/stagesim/pioneer/internal/storage/gorm"

	"gorm.io/gorm"
)

const pingTimeout = 5 * time.Second

// Backend embeds the GORM backend and adds connection health checks.
type Backend struct {
	*gormstorage.Backend
	log *slog.Logger
}

// New connects to PostgreSQL and returns a backend writing to it.
func New(cfg config.PostgresConfig, logger *slog.Logger, clk clock.Clock) (*Backend, error) {
	db, err := database.OpenPostgres(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres at %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	return NewWithDB(db, logger, clk), nil
}

// NewWithDB wraps an existing connection.
func NewWithDB(db *gorm.DB, logger *slog.Logger, clk clock.Clock) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:     db,
			Logger: logger,
			Clock:  clk,
		}),
		log: logger,
	}
}

// Init checks the connection before migrating.
func (b *Backend) Init() error {
	if err := b.Ping(context.Background()); err != nil {
		return err
	}
	return b.Backend.Init()
}

// Ping verifies the database is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	db := b.DB()
	if db == nil {
		return fmt.Errorf("postgres: no connection")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		b.log.Error("postgres unreachable", "error", err)
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close closes the writer and then the connection pool.
func (b *Backend) Close() error {
	if err := b.Backend.Close(); err != nil {
		return err
	}
	if db := b.DB(); db != nil {
		if sqlDB, err := db.DB(); err == nil {
			return sqlDB.Close()
		}
	}
	return nil
}
