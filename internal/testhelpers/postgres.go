// Package testhelpers provides testing utilities for integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultPostgresImage is the image used for test databases.
	DefaultPostgresImage = "postgres:16-alpine"
	// DefaultPostgresStartupTimeout bounds container startup.
	DefaultPostgresStartupTimeout = 60 * time.Second
)

// PostgresContainer manages a test PostgreSQL instance.
type PostgresContainer struct {
	Container *postgres.PostgresContainer
	ConnStr   string
}

// StartPostgres starts a PostgreSQL container for testing. The returned
// container should be stopped with Stop().
func StartPostgres(ctx context.Context) (*PostgresContainer, error) {
	pgContainer, err := postgres.Run(
		ctx,
		DefaultPostgresImage,
		postgres.WithDatabase("beancrawl_test"),
		postgres.WithUsername("beancrawl"),
		postgres.WithPassword("beancrawl"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(DefaultPostgresStartupTimeout),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{Container: pgContainer, ConnStr: connStr}, nil
}

// Connect opens an sqlx connection to the container's database.
func (p *PostgresContainer) Connect() (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", p.ConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// Stop stops and removes the container.
func (p *PostgresContainer) Stop(ctx context.Context) error {
	if p.Container == nil {
		return nil
	}
	return p.Container.Terminate(ctx)
}
