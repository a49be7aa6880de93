// Package session runs the push-mode channel: one actor goroutine owns the
// connection, the mirror, the command queue and the projector, and every
// transport event, timer and API call reaches it through a single inbox.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nodemc/mapsync/internal/channel"
	"github.com/nodemc/mapsync/internal/command"
	"github.com/nodemc/mapsync/internal/dispatcher"
	"github.com/nodemc/mapsync/internal/mirror"
	"github.com/nodemc/mapsync/internal/render"
	"github.com/nodemc/mapsync/internal/sched"
	"github.com/nodemc/mapsync/internal/status"
	"github.com/nodemc/mapsync/internal/storage"
	"github.com/nodemc/mapsync/internal/transport"
	"github.com/nodemc/mapsync/internal/util"
	"github.com/nodemc/mapsync/pkg/protocol"
)

// Defaults applied by New.
const (
	DefaultReconnectDelay = time.Second
	DefaultInboxSize      = 256
)

// ModePush is reported in Status.Mode.
const ModePush = "push"

// Options configures a Manager. Dialer is required.
type Options struct {
	Endpoint string
	ClientID string
	RoomCode string
	Channel  string

	// ReconnectDelay is the fixed wait before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts stops retrying after that many consecutive
	// failures. 0 retries forever.
	MaxReconnectAttempts int
	// KeepaliveInterval spaces ping messages. 0 disables keepalive.
	KeepaliveInterval time.Duration
	ResyncCooldown    time.Duration
	AckTimeout        time.Duration

	Dialer    transport.Dialer
	Scheduler sched.Scheduler
	// Now is the clock used by the resync limiter and status timestamps.
	Now func() time.Time

	// Projector is optional; without it the mirror is kept but nothing is
	// rendered.
	Projector *render.Projector
	Journal   storage.Recorder
	Board     *status.Board

	Logger       *slog.Logger
	RouterLogger dispatcher.Logger
	InboxSize    int

	// ConnectOnStart opens the channel as soon as Run starts.
	ConnectOnStart bool
}

// Manager is the push-mode Channel Manager.
type Manager struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics
	board   *status.Board

	inbox   channel.Channel[func()]
	life    context.Context
	stop    context.CancelFunc
	runCtx  context.Context
	running atomic.Bool

	// Everything below is owned by the Run goroutine.
	conn      transport.Conn
	gen       uint64
	state     status.Connection
	phase     status.Phase
	manual    bool
	lastError string
	attempts  int

	reconnectTimer sched.Timer
	reconnectSeq   uint64
	keepalive      sched.Timer

	mirror    *mirror.Mirror
	limiter   *mirror.ResyncLimiter
	commands  *command.Dispatcher
	router    *dispatcher.Dispatcher
	projector *render.Projector
	journal   storage.Recorder

	protocolVersion int
	deltaEnabled    bool
	digestInterval  float64
	counters        status.Counters
}

// New creates a Manager. Nothing happens until Run is started and Connect
// is called.
func New(opts Options) (*Manager, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("session: dialer is required")
	}
	opts.Endpoint = util.NormalizeWSURL(opts.Endpoint)
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ResyncCooldown <= 0 {
		opts.ResyncCooldown = mirror.DefaultResyncCooldown
	}
	if opts.Scheduler == nil {
		opts.Scheduler = sched.Real{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
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
	if opts.RouterLogger == nil {
		opts.RouterLogger = opts.Logger
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}

	met, err := newMetrics()
	if err != nil {
		return nil, err
	}
	router, err := dispatcher.New(opts.RouterLogger)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}

	life, stop := context.WithCancel(context.Background())
	m := &Manager{
		opts:      opts,
		logger:    opts.Logger.With("component", "session"),
		metrics:   met,
		board:     opts.Board,
		inbox:     channel.New[func()](opts.InboxSize),
		life:      life,
		stop:      stop,
		state:     status.ConnIdle,
		phase:     status.PhaseDisconnected,
		mirror:    mirror.New(),
		limiter:   mirror.NewResyncLimiter(opts.ResyncCooldown, opts.Now),
		router:    router,
		projector: opts.Projector,
		journal:   opts.Journal,
	}
	m.commands = command.New(senderFunc(m.send), m.mirror, command.Options{
		AckTimeout: opts.AckTimeout,
		Scheduler:  sched.Func(m.after),
		Logger:     m.logger,
		Report:     m.commandResult,
		OnSent:     m.commandSent,
		OnAck:      m.commandAcked,
	})
	m.registerHandlers()
	return m, nil
}

// Run drains the inbox until ctx is done. It closes the channel on the way
// out and may be called only once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.stop()
	m.runCtx = ctx
	if m.opts.ConnectOnStart {
		m.connect()
	}
	m.publish()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			m.publish()
			return nil
		case fn := <-m.inbox.Receive():
			fn()
			m.publish()
		}
	}
}

// post hands fn to the actor without waiting for it.
func (m *Manager) post(fn func()) {
	_ = m.inbox.SendContext(m.life, fn)
}

// call runs fn on the actor and waits. It reports false when the actor is
// not running.
func (m *Manager) call(fn func()) bool {
	if !m.running.Load() {
		return false
	}
	done := make(chan struct{})
	if err := m.inbox.SendContext(m.life, func() {
		defer close(done)
		fn()
	}); err != nil {
		return false
	}
	select {
	case <-done:
		return true
	case <-m.life.Done():
		return false
	}
}

// after schedules fn to run on the actor.
func (m *Manager) after(d time.Duration, fn func()) sched.Timer {
	return m.opts.Scheduler.AfterFunc(d, func() { m.post(fn) })
}

// Connect opens the channel. It does nothing while a connection is open or
// being established.
func (m *Manager) Connect() bool {
	return m.call(m.connect)
}

// Disconnect closes the channel and suppresses automatic reconnects.
func (m *Manager) Disconnect() bool {
	return m.call(m.disconnect)
}

// Reconnect tears the current connection down and starts a fresh one.
func (m *Manager) Reconnect() bool {
	return m.call(func() {
		m.disconnect()
		m.lastError = ""
		m.attempts = 0
		m.connect()
	})
}

// Send encodes msg and writes it to the channel. Failures are recorded in
// Status().LastError.
func (m *Manager) Send(msg any) bool {
	var ok bool
	if !m.call(func() { ok = m.send(msg) }) {
		return false
	}
	return ok
}

// Resync asks the server for a fresh snapshot, subject to the cooldown.
func (m *Manager) Resync() bool {
	var ok bool
	m.call(func() { ok = m.requestResync(protocol.ResyncReasonManual) })
	return ok
}

// SetMark assigns a mark to a player.
func (m *Manager) SetMark(player, team, color, label string) bool {
	var ok bool
	m.call(func() { ok = m.commands.SetMark(player, team, color, label) })
	return ok
}

// ClearMark removes one player's mark.
func (m *Manager) ClearMark(player string) bool {
	var ok bool
	m.call(func() { ok = m.commands.ClearMark(player) })
	return ok
}

// ClearAllMarks removes every mark.
func (m *Manager) ClearAllMarks() bool {
	var ok bool
	m.call(func() { ok = m.commands.ClearAllMarks() })
	return ok
}

// SetSameServerFilter toggles the server-side same-server filter.
func (m *Manager) SetSameServerFilter(enabled bool) bool {
	var ok bool
	m.call(func() { ok = m.commands.SetSameServerFilter(enabled) })
	return ok
}

// SetRenderConfig replaces the projector config and re-projects.
func (m *Manager) SetRenderConfig(cfg render.Config) error {
	if m.projector == nil {
		return fmt.Errorf("session: no projector configured")
	}
	var err error
	if !m.call(func() {
		if err = m.projector.SetConfig(cfg); err == nil {
			m.project()
		}
	}) {
		return m.projector.SetConfig(cfg)
	}
	return err
}

// Status returns a consistent snapshot of the session. Once Run has
// returned it reports the last published state.
func (m *Manager) Status() status.Status {
	var s status.Status
	if m.call(func() { s = m.snapshot() }) {
		return s
	}
	return m.board.Get()
}

// Board returns the board the session publishes to.
func (m *Manager) Board() *status.Board {
	return m.board
}

func (m *Manager) publish() {
	m.board.Publish(m.snapshot())
}

func (m *Manager) snapshot() status.Status {
	s := status.Status{
		Mode:              ModePush,
		Endpoint:          m.opts.Endpoint,
		Connection:        m.state,
		Connected:         m.state == status.ConnOpen,
		Phase:             m.phase,
		LastError:         m.lastError,
		ReconnectAttempts: m.attempts,
		ReconnectPending:  m.reconnectTimer != nil,
		Revision:          m.mirror.Revision(),
		HasBaseline:       m.mirror.HasBaseline(),
		ServerTime:        m.mirror.ServerTime(),
		ProtocolVersion:   m.protocolVersion,
		DeltaEnabled:      m.deltaEnabled,
		DigestInterval:    m.digestInterval,
		SameServerFilter:  m.mirror.SameServerFilter(),
		Counts:            scopeCounts(m.mirror.Counts()),
		PendingCommands:   m.commands.Pending(),
		Counters:          m.counters,
		UpdatedAt:         m.opts.Now().UTC(),
	}
	if m.projector != nil {
		s.Markers = m.projector.Registry().Len()
	}
	if t, ok := m.commands.InFlight(); ok {
		s.CommandInFlight = t
	}
	return s
}

func (m *Manager) record(kind storage.Kind, detail map[string]any) {
	err := m.journal.Record(storage.Entry{
		Time:     m.opts.Now().UTC(),
		ClientID: m.opts.ClientID,
		Kind:     kind,
		Revision: m.mirror.Revision(),
		Detail:   detail,
	})
	if err != nil {
		m.logger.Warn("journal write failed", "kind", kind, "error", err)
	}
}

// senderFunc adapts the actor's send to command.Sender.
type senderFunc func(msg any) bool

func (f senderFunc) Send(msg any) bool {
	return f(msg)
}
