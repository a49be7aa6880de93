// Package postgres keeps the journal in PostgreSQL. It wraps the GORM
// backend and owns the connection.
package postgres

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodemc/mapsync/internal/config"
	"github.com/nodemc/mapsync/internal/database"
	"github.com/nodemc/mapsync/internal/status"
	"github.com/nodemc/mapsync/internal/storage"
	gormstorage "github.com/nodemc/mapsync/internal/storage/gorm"
)

var errNotInitialized = errors.New("postgres journal not initialized")

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	DB            config.DBConfig
	FlushInterval time.Duration
	Logger        *slog.Logger
	DBLogger      zerolog.Logger
}

// Backend implements storage.Backend on PostgreSQL.
type Backend struct {
	*gormstorage.Backend
	deps    Dependencies
	manager *database.Manager
}

// New creates a new Postgres storage backend. The connection is opened by
// Init.
func New(deps Dependencies) *Backend {
	return &Backend{
		deps:    deps,
		manager: database.NewManager(deps.DBLogger),
	}
}

// Init connects, migrates and starts the writer goroutine.
func (b *Backend) Init() error {
	if err := b.manager.ConnectPostgres(b.deps.DB); err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	b.manager.SqlDB.SetMaxOpenConns(10)

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:            b.manager.DB,
		Logger:        b.deps.Logger,
		FlushInterval: b.deps.FlushInterval,
	})
	return b.Backend.Init()
}

// Close flushes the journal and closes the connection.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	return b.manager.Close()
}

// Record queues a journal entry.
func (b *Backend) Record(e storage.Entry) error {
	if b.Backend == nil {
		return errNotInitialized
	}
	return b.Backend.Record(e)
}

// RecordStatus queues a status sample.
func (b *Backend) RecordStatus(clientID string, s status.Status) error {
	if b.Backend == nil {
		return errNotInitialized
	}
	return b.Backend.RecordStatus(clientID, s)
}
