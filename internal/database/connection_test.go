package database

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/trial-matcher-server/internal/domain"
)

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot resolve test file path")
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

func TestFromDomainConfig(t *testing.T) {
	cfg := FromDomainConfig(domain.DatabaseConfig{
		Host:         "db",
		Port:         5432,
		Database:     "trials",
		Username:     "matcher",
		Password:     "p@ss word",
		MaxOpenConns: 4,
		MaxIdleConns: 8,
	})

	assert.Equal(t, int32(4), cfg.MaxConns)
	assert.Equal(t, int32(4), cfg.MinConns)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.True(t, cfg.RegisterVector)
	assert.Equal(t, "postgres://matcher:p%40ss%20word@db:5432/trials?sslmode=disable", cfg.URL())
}

func TestDatabaseConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	config := Config{
		Host:           host,
		Port:           port.Int(),
		Database:       "testdb",
		Username:       "testuser",
		Password:       "testpass",
		MaxConns:       10,
		MinConns:       2,
		MaxConnLife:    time.Hour,
		MaxConnIdle:    time.Minute * 30,
		SSLMode:        "disable",
		RegisterVector: true,
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel) // Reduce noise in tests

	if err := Migrate(ctx, config.URL(), migrationsDir(t), logger); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	// Second run is a no-op.
	if err := Migrate(ctx, config.URL(), migrationsDir(t), logger); err != nil {
		t.Fatalf("Re-running migrations failed: %v", err)
	}

	db, err := NewConnection(ctx, config, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}
	defer db.Close()

	if err := db.Health(ctx); err != nil {
		t.Fatalf("Database health check failed: %v", err)
	}

	var count int
	if err := db.Pool.QueryRow(ctx, "SELECT count(*) FROM trials").Scan(&count); err != nil {
		t.Fatalf("trials table missing: %v", err)
	}
	assert.Equal(t, 0, count)

	stats := db.Stats()
	if stats.TotalConns() == 0 {
		t.Error("Expected at least one connection in pool")
	}
}
