// Package gormstorage implements the journal on top of GORM with internal
// queues and a background writer goroutine. The sqlite and postgres
// backends wrap it.
package gormstorage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nodemc/mapsync/internal/model"
	"github.com/nodemc/mapsync/internal/queue"
	"github.com/nodemc/mapsync/internal/status"
	"github.com/nodemc/mapsync/internal/storage"
)

// DefaultFlushInterval is how often queued rows are written.
const DefaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// queues holds the write queues for batch DB insertion.
type queues struct {
	Entries *queue.Queue[model.JournalEntry]
	Samples *queue.Queue[model.StatusSample]
}

func newQueues() *queues {
	return &queues{
		Entries: queue.New[model.JournalEntry](),
		Samples: queue.New[model.StatusSample](),
	}
}

// Backend implements storage.Backend with queue-based batch writes.
type Backend struct {
	deps     Dependencies
	logger   *slog.Logger
	queues   *queues
	stopChan chan struct{}
	wg       sync.WaitGroup
	flushMu  sync.Mutex
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		deps:   deps,
		logger: logger,
		queues: newQueues(),
	}
}

// Init migrates the schema and starts the writer goroutine. Without a DB
// the backend only queues, which is what the unit tests use.
func (b *Backend) Init() error {
	b.stopChan = make(chan struct{})

	if b.deps.DB != nil {
		if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
		b.wg.Add(1)
		go b.writeLoop()
	}
	return nil
}

// Close stops the writer and flushes whatever is still queued.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		b.wg.Wait()
		b.stopChan = nil
	}
	return b.Flush()
}

// Record converts and queues a journal entry.
func (b *Backend) Record(e storage.Entry) error {
	row, err := entryToModel(e)
	if err != nil {
		return err
	}
	b.queues.Entries.Push(row)
	return nil
}

// RecordStatus converts and queues a status sample.
func (b *Backend) RecordStatus(clientID string, s status.Status) error {
	row, err := statusToModel(clientID, s)
	if err != nil {
		return err
	}
	b.queues.Samples.Push(row)
	return nil
}

// Pending returns the number of rows waiting for the writer.
func (b *Backend) Pending() int {
	return b.queues.Entries.Len() + b.queues.Samples.Len()
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

func (b *Backend) writeLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.logger.Error("Failed to flush journal", "error", err)
			}
		}
	}
}

// Flush writes every queued row. Rows that fail to insert are dropped
// and reported.
func (b *Backend) Flush() error {
	if b.deps.DB == nil {
		return nil
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	start := time.Now()
	entries := b.queues.Entries.Drain()
	samples := b.queues.Samples.Drain()

	if len(entries) > 0 {
		if err := b.deps.DB.CreateInBatches(entries, 500).Error; err != nil {
			return fmt.Errorf("failed to insert %d journal entries: %w", len(entries), err)
		}
	}
	if len(samples) > 0 {
		if err := b.deps.DB.CreateInBatches(samples, 500).Error; err != nil {
			return fmt.Errorf("failed to insert %d status samples: %w", len(samples), err)
		}
	}
	if n := len(entries) + len(samples); n > 0 {
		b.logger.Debug("Journal flushed", "rows", n, "duration", time.Since(start))
	}
	return nil
}

func entryToModel(e storage.Entry) (model.JournalEntry, error) {
	t := e.Time
	if t.IsZero() {
		t = time.Now()
	}
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return model.JournalEntry{}, fmt.Errorf("encoding journal detail: %w", err)
	}
	return model.JournalEntry{
		Time:     t.UTC(),
		ClientID: e.ClientID,
		Kind:     string(e.Kind),
		Revision: e.Revision,
		Detail:   datatypes.JSON(detail),
	}, nil
}

func statusToModel(clientID string, s status.Status) (model.StatusSample, error) {
	counts, err := json.Marshal(s.Counts)
	if err != nil {
		return model.StatusSample{}, fmt.Errorf("encoding status counts: %w", err)
	}
	t := s.UpdatedAt
	if t.IsZero() {
		t = time.Now()
	}
	return model.StatusSample{
		Time:            t.UTC(),
		ClientID:        clientID,
		Connected:       s.Connected,
		Phase:           string(s.Phase),
		Revision:        s.Revision,
		Markers:         s.Markers,
		PendingCommands: s.PendingCommands,
		LastError:       truncate(s.LastError, 255),
		Counts:          datatypes.JSON(counts),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
