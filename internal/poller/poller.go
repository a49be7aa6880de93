// Package poller is the polling Channel Manager: it fetches full snapshots
// on an interval and feeds them through the same mirror and projector as
// the push session.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nodemc/mapsync/internal/channel"
	"github.com/nodemc/mapsync/internal/mirror"
	"github.com/nodemc/mapsync/internal/render"
	"github.com/nodemc/mapsync/internal/status"
	"github.com/nodemc/mapsync/internal/storage"
	"github.com/nodemc/mapsync/pkg/protocol"
)

// DefaultInterval is the poll period when none is configured.
const DefaultInterval = time.Second

// ModePoll is reported in Status.Mode.
const ModePoll = "poll"

// ErrCommandsUnsupported is recorded when a command is issued in poll mode.
var ErrCommandsUnsupported = errors.New("commands require push mode")

// Fetcher downloads one snapshot.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (*protocol.Snapshot, error)
}

// Options configures a Poller. Fetcher is required.
type Options struct {
	Fetcher  Fetcher
	URL      string
	Interval time.Duration
	ClientID string

	Projector *render.Projector
	Journal   storage.Recorder
	Board     *status.Board
	Logger    *slog.Logger
	Now       func() time.Time
}

type result struct {
	snap *protocol.Snapshot
	err  error
}

// Poller owns a mirror that is refreshed from whole snapshots. There is no
// reconnect logic: a failed poll is recorded and the next tick tries again.
type Poller struct {
	opts   Options
	logger *slog.Logger
	board  *status.Board

	inbox   channel.Channel[func()]
	life    context.Context
	stop    context.CancelFunc
	running atomic.Bool
	kick    chan struct{}

	// owned by Run
	mirror    *mirror.Mirror
	projector *render.Projector
	journal   storage.Recorder
	paused    bool
	inflight  bool
	polled    bool
	healthy   bool
	lastError string
	counters  status.Counters
	skipped   int
}

// New creates a Poller.
func New(opts Options) (*Poller, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("poller: fetcher is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Journal == nil {
		opts.Journal = storage.Nop{}
	}
	if opts.Board == nil {
		opts.Board = status.NewBoard()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	life, stop := context.WithCancel(context.Background())
	return &Poller{
		opts:      opts,
		logger:    opts.Logger.With("component", "poller"),
		board:     opts.Board,
		inbox:     channel.New[func()](16),
		life:      life,
		stop:      stop,
		kick:      make(chan struct{}, 1),
		mirror:    mirror.New(),
		projector: opts.Projector,
		journal:   opts.Journal,
	}, nil
}

// Run polls until ctx is done. The first poll starts immediately.
func (p *Poller) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("poller already running")
	}
	defer p.stop()

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	results := make(chan result, 1)

	p.poll(ctx, results)
	p.publish()
	for {
		select {
		case <-ctx.Done():
			p.publish()
			return nil
		case <-ticker.C:
			p.poll(ctx, results)
		case <-p.kick:
			p.poll(ctx, results)
		case r := <-results:
			p.inflight = false
			p.apply(r)
		case fn := <-p.inbox.Receive():
			fn()
		}
		p.publish()
	}
}

// poll starts a fetch unless one is already running or polling is paused.
func (p *Poller) poll(ctx context.Context, results chan<- result) {
	if p.inflight || p.paused {
		return
	}
	p.inflight = true
	go func() {
		snap, err := p.opts.Fetcher.FetchSnapshot(ctx)
		select {
		case results <- result{snap: snap, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (p *Poller) apply(r result) {
	p.polled = true
	if r.err != nil {
		p.healthy = false
		p.lastError = r.err.Error()
		p.logger.Debug("poll failed", "error", r.err)
		return
	}
	p.healthy = true
	p.lastError = ""
	p.counters.Frames++

	if rev, ok := r.snap.RevisionValue(); ok && p.mirror.HasBaseline() && rev == p.mirror.Revision() {
		p.skipped++
		return
	}

	res := p.mirror.ApplySnapshot(r.snap)
	p.counters.Snapshots++
	if len(res.Skipped) > 0 {
		p.logger.Warn("skipped undecodable records", "ids", res.Skipped)
	}
	if p.projector != nil {
		if _, err := p.projector.Project(p.mirror); err != nil {
			p.logger.Warn("projection incomplete", "error", err)
		}
	}
	counts := make(map[string]int, len(res.Counts))
	for s, n := range res.Counts {
		counts[string(s)] = n
	}
	err := p.journal.Record(storage.Entry{
		Time:     p.opts.Now().UTC(),
		ClientID: p.opts.ClientID,
		Kind:     storage.KindSnapshot,
		Revision: res.Revision,
		Detail:   map[string]any{"source": ModePoll, "counts": counts},
	})
	if err != nil {
		p.logger.Warn("journal write failed", "error", err)
	}
}

func (p *Poller) call(fn func()) bool {
	if !p.running.Load() {
		return false
	}
	done := make(chan struct{})
	if err := p.inbox.SendContext(p.life, func() {
		defer close(done)
		fn()
	}); err != nil {
		return false
	}
	select {
	case <-done:
		return true
	case <-p.life.Done():
		return false
	}
}

// Connect resumes polling.
func (p *Poller) Connect() bool {
	return p.call(func() { p.paused = false })
}

// Disconnect pauses polling.
func (p *Poller) Disconnect() bool {
	return p.call(func() { p.paused = true })
}

// Reconnect resumes polling and fetches right away.
func (p *Poller) Reconnect() bool {
	return p.call(func() {
		p.paused = false
		p.lastError = ""
		select {
		case p.kick <- struct{}{}:
		default:
		}
	})
}

// SetMark is not available without the push channel.
func (p *Poller) SetMark(string, string, string, string) bool { return p.refuse() }

// ClearMark is not available without the push channel.
func (p *Poller) ClearMark(string) bool { return p.refuse() }

// ClearAllMarks is not available without the push channel.
func (p *Poller) ClearAllMarks() bool { return p.refuse() }

// SetSameServerFilter is not available without the push channel.
func (p *Poller) SetSameServerFilter(bool) bool { return p.refuse() }

// Resync forces an immediate poll.
func (p *Poller) Resync() bool {
	return p.Reconnect()
}

func (p *Poller) refuse() bool {
	p.call(func() { p.lastError = ErrCommandsUnsupported.Error() })
	return false
}

// SetRenderConfig replaces the projector config and re-projects.
func (p *Poller) SetRenderConfig(cfg render.Config) error {
	if p.projector == nil {
		return fmt.Errorf("poller: no projector configured")
	}
	var err error
	if !p.call(func() {
		if err = p.projector.SetConfig(cfg); err == nil {
			_, err = p.projector.Project(p.mirror)
		}
	}) {
		return p.projector.SetConfig(cfg)
	}
	return err
}

// Status returns the current state.
func (p *Poller) Status() status.Status {
	var s status.Status
	if p.call(func() { s = p.snapshot() }) {
		return s
	}
	return p.board.Get()
}

// Board returns the board the poller publishes to.
func (p *Poller) Board() *status.Board {
	return p.board
}

// Skipped returns how many polls carried an unchanged revision.
func (p *Poller) Skipped() int {
	var n int
	p.call(func() { n = p.skipped })
	return n
}

func (p *Poller) publish() {
	p.board.Publish(p.snapshot())
}

func (p *Poller) snapshot() status.Status {
	var conn status.Connection
	phase := status.PhaseDisconnected
	switch {
	case p.paused:
		conn = status.ConnClosed
	case !p.polled:
		conn = status.ConnConnecting
		phase = status.PhaseConnecting
	case p.healthy:
		conn = status.ConnOpen
		phase = status.PhaseSynchronized
	default:
		conn = status.ConnClosed
	}

	counts := make(map[string]int)
	for s, n := range p.mirror.Counts() {
		counts[string(s)] = n
	}
	s := status.Status{
		Mode:             ModePoll,
		Endpoint:         p.opts.URL,
		Connection:       conn,
		Connected:        conn == status.ConnOpen,
		Phase:            phase,
		LastError:        p.lastError,
		Revision:         p.mirror.Revision(),
		HasBaseline:      p.mirror.HasBaseline(),
		ServerTime:       p.mirror.ServerTime(),
		SameServerFilter: p.mirror.SameServerFilter(),
		Counts:           counts,
		Counters:         p.counters,
		UpdatedAt:        p.opts.Now().UTC(),
	}
	if p.projector != nil {
		s.Markers = p.projector.Registry().Len()
	}
	return s
}
