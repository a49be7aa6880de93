package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodemc/mapsync/internal/config"
	"github.com/nodemc/mapsync/internal/storage"
	"github.com/nodemc/mapsync/internal/storage/memory"
	pgstorage "github.com/nodemc/mapsync/internal/storage/postgres"
	sqlitestorage "github.com/nodemc/mapsync/internal/storage/sqlite"
)

// createStorageBackend picks the journal backend named by storage.type.
// Unknown types fall back to memory.
func createStorageBackend(
	storageCfg config.StorageConfig,
	logsDir string,
	sessionStart time.Time,
	logger *slog.Logger,
	dbLogger zerolog.Logger,
) (storage.Backend, error) {
	switch storageCfg.Type {
	case "none":
		logger.Info("Journal disabled")
		return storage.Nop{}, nil

	case "postgres":
		logger.Info("Postgres storage backend initialized")
		return pgstorage.New(pgstorage.Dependencies{
			DB:            config.GetDBConfig(),
			FlushInterval: storageCfg.Postgres.FlushInterval,
			Logger:        logger,
			DBLogger:      dbLogger,
		}), nil

	case "sqlite":
		dumpPath := storageCfg.SQLite.DumpPath
		if dumpPath == "" {
			dumpPath = filepath.Join(logsDir, fmt.Sprintf("%s_%s.db", appName, sessionStart.Format("20060102_150405")))
		}
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: storageCfg.SQLite.DumpInterval,
			DumpPath:     dumpPath,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		logger.Info("SQLite storage backend initialized", "dumpPath", dumpPath)
		return backend, nil

	default:
		memCfg := storageCfg.Memory
		if memCfg.OutputDir == "" {
			memCfg.OutputDir = logsDir
		}
		logger.Info("Memory storage backend initialized", "outputDir", memCfg.OutputDir)
		return memory.New(memCfg), nil
	}
}
