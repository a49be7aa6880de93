// Package memory keeps the sync journal in memory and exports it as JSON
// when closed.
package memory

import (
	"sync"
	"time"

	"github.com/nodemc/mapsync/internal/config"
	"github.com/nodemc/mapsync/internal/status"
	"github.com/nodemc/mapsync/internal/storage"
)

// DefaultMaxEntries caps the in-memory journal when no limit is set.
const DefaultMaxEntries = 100_000

// Sample is one stored status sample.
type Sample struct {
	Time     time.Time     `json:"time"`
	ClientID string        `json:"clientId"`
	Status   status.Status `json:"status"`
}

// Backend stores journal entries in memory and exports them to JSON
type Backend struct {
	cfg     config.MemoryConfig
	started time.Time

	entries []storage.Entry
	samples []Sample
	dropped int

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &Backend{cfg: cfg, started: time.Now()}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports the journal when an output directory is configured
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.OutputDir == "" {
		return nil
	}
	return b.exportJSON()
}

// Record appends an entry. The oldest entry is discarded once the journal
// is full.
func (b *Backend) Record(e storage.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if len(b.entries) >= b.cfg.MaxEntries {
		b.entries = b.entries[1:]
		b.dropped++
	}
	b.entries = append(b.entries, e)
	return nil
}

// RecordStatus appends a status sample.
func (b *Backend) RecordStatus(clientID string, s status.Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) >= b.cfg.MaxEntries {
		b.samples = b.samples[1:]
	}
	b.samples = append(b.samples, Sample{Time: time.Now(), ClientID: clientID, Status: s})
	return nil
}

// Entries returns a copy of the journal.
func (b *Backend) Entries() []storage.Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]storage.Entry(nil), b.entries...)
}

// EntriesOfKind returns the entries of one kind, oldest first.
func (b *Backend) EntriesOfKind(kind storage.Kind) []storage.Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []storage.Entry
	for _, e := range b.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Samples returns a copy of the stored status samples.
func (b *Backend) Samples() []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Sample(nil), b.samples...)
}

// LastExportPath returns the file written by the last Close.
func (b *Backend) LastExportPath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
