// Package monitor samples the status board on a fixed interval and fans the
// sample out to a status file, InfluxDB and the journal.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nodemc/mapsync/internal/status"
	"github.com/nodemc/mapsync/internal/storage"
)

// DefaultInterval is used when Dependencies.Interval is not positive.
const DefaultInterval = 10 * time.Second

// StatusFileName is written into Dependencies.Dir on every sample.
const StatusFileName = "status.json"

// StatusWriter receives status samples. *influx.Manager satisfies it.
type StatusWriter interface {
	WriteStatus(ctx context.Context, clientID string, s status.Status) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Board    *status.Board
	Journal  storage.Backend
	Influx   StatusWriter
	ClientID string
	// Dir receives status.json. Empty disables the file.
	Dir      string
	Interval time.Duration
	Logger   *slog.Logger
}

// Service manages status monitoring
type Service struct {
	deps Dependencies

	mu        sync.Mutex
	isRunning bool
	stop      context.CancelFunc
	done      chan struct{}
	samples   int
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "monitor")
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Samples returns how many samples have been taken.
func (s *Service) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// Start launches the sampling goroutine. It is a no-op when already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	ctx, s.stop = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.isRunning = true

	go s.loop(ctx, s.done)
}

// Stop halts sampling and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	stop, done := s.stop, s.done
	s.mu.Unlock()

	stop()
	<-done
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample(ctx)
		}
	}
}

// Sample takes one sample. Boards that were never published are skipped.
func (s *Service) Sample(ctx context.Context) bool {
	st := s.deps.Board.Get()
	if st.UpdatedAt.IsZero() {
		return false
	}

	if s.deps.Dir != "" {
		if err := writeStatusFile(filepath.Join(s.deps.Dir, StatusFileName), st); err != nil {
			s.deps.Logger.Error("Error writing status file", "error", err)
		}
	}
	if s.deps.Influx != nil {
		if err := s.deps.Influx.WriteStatus(ctx, s.deps.ClientID, st); err != nil {
			s.deps.Logger.Warn("Error writing status point", "error", err)
		}
	}
	if s.deps.Journal != nil {
		if err := s.deps.Journal.RecordStatus(s.deps.ClientID, st); err != nil {
			s.deps.Logger.Warn("Error recording status sample", "error", err)
		}
	}

	s.mu.Lock()
	s.samples++
	s.mu.Unlock()
	return true
}

// writeStatusFile replaces path atomically so readers never see a partial
// document.
func writeStatusFile(path string, st status.Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
