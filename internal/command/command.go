// Package command sends mark and filter commands, one at a time, and
// tracks their acknowledgement.
package command

import (
	"log/slog"
	"strings"
	"time"

	"github.com/nodemc/mapsync/internal/queue"
	"github.com/nodemc/mapsync/internal/sched"
	"github.com/nodemc/mapsync/pkg/core"
	"github.com/nodemc/mapsync/pkg/protocol"
)

// DefaultAckTimeout bounds the wait for admin_ack.
const DefaultAckTimeout = 10 * time.Second

// Sender delivers a message over the channel.
type Sender interface {
	Send(msg any) bool
}

// Resolver maps user input onto a player id.
type Resolver interface {
	ResolvePlayer(input string) (string, bool)
}

// Intent is a command waiting to be sent or acknowledged.
type Intent struct {
	Type string
	Msg  any
}

// Options configures a Dispatcher.
type Options struct {
	AckTimeout time.Duration
	Scheduler  sched.Scheduler
	Logger     *slog.Logger
	// Report receives command errors. A nil error means the last command
	// succeeded.
	Report func(err error)
	// OnSent is called whenever an intent is written to the channel.
	OnSent func(Intent)
	// OnAck is called with the intent an admin_ack settled.
	OnAck func(Intent, protocol.AdminAck)
}

// Dispatcher keeps at most one command in flight. Commands issued while
// one awaits its ack are queued in order. It is not goroutine-safe; the
// session calls it from its own goroutine only.
type Dispatcher struct {
	sender   Sender
	resolver Resolver
	opts     Options
	logger   *slog.Logger

	pending  *queue.Queue[Intent]
	inflight *Intent
	timer    sched.Timer
	seq      uint64
}

// New creates a Dispatcher.
func New(sender Sender, resolver Resolver, opts Options) *Dispatcher {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.Scheduler == nil {
		opts.Scheduler = sched.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:   sender,
		resolver: resolver,
		opts:     opts,
		logger:   logger,
		pending:  queue.New[Intent](),
	}
}

// SetMark assigns a mark to a player.
func (d *Dispatcher) SetMark(player, team, color, label string) bool {
	id, ok := d.target(player)
	if !ok {
		return false
	}
	mark := core.NewMark(team, color, label)
	return d.Submit(Intent{Type: protocol.TypeMarkSet, Msg: protocol.MarkSet{
		Type:     protocol.TypeMarkSet,
		PlayerID: id,
		Team:     string(mark.Team),
		Color:    mark.Color,
		Label:    mark.Label,
	}})
}

// ClearMark removes a player's mark.
func (d *Dispatcher) ClearMark(player string) bool {
	id, ok := d.target(player)
	if !ok {
		return false
	}
	return d.Submit(Intent{Type: protocol.TypeMarkClear, Msg: protocol.MarkClear{
		Type:     protocol.TypeMarkClear,
		PlayerID: id,
	}})
}

// ClearAllMarks removes every mark.
func (d *Dispatcher) ClearAllMarks() bool {
	return d.Submit(Intent{Type: protocol.TypeMarkClearAll, Msg: protocol.MarkClearAll{
		Type: protocol.TypeMarkClearAll,
	}})
}

// SetSameServerFilter toggles the same-server filter.
func (d *Dispatcher) SetSameServerFilter(enabled bool) bool {
	return d.Submit(Intent{Type: protocol.TypeSameServerFilterSet, Msg: protocol.SameServerFilterSet{
		Type:    protocol.TypeSameServerFilterSet,
		Enabled: enabled,
	}})
}

func (d *Dispatcher) target(player string) (string, bool) {
	player = strings.TrimSpace(player)
	if player == "" {
		d.report(ErrEmptyTarget)
		return "", false
	}
	if d.resolver != nil {
		if id, ok := d.resolver.ResolvePlayer(player); ok {
			return id, true
		}
	}
	return player, true
}

// Submit sends the intent now, or queues it behind the command in flight.
// The result reports acceptance only, never server-side success.
func (d *Dispatcher) Submit(in Intent) bool {
	if d.inflight != nil {
		d.pending.Push(in)
		d.logger.Debug("command queued", "type", in.Type, "pending", d.pending.Len())
		return true
	}
	return d.send(in)
}

func (d *Dispatcher) send(in Intent) bool {
	if !d.sender.Send(in.Msg) {
		d.logger.Warn("command dropped", "type", in.Type)
		d.report(ErrRefused)
		return false
	}

	d.seq++
	seq := d.seq
	d.inflight = &in
	d.timer = d.opts.Scheduler.AfterFunc(d.opts.AckTimeout, func() { d.timeout(seq) })
	if d.opts.OnSent != nil {
		d.opts.OnSent(in)
	}
	return true
}

// next sends queued intents until one is accepted by the channel.
func (d *Dispatcher) next() {
	for {
		in, ok := d.pending.Pop()
		if !ok {
			return
		}
		if d.send(in) {
			return
		}
	}
}

func (d *Dispatcher) timeout(seq uint64) {
	if d.inflight == nil || seq != d.seq {
		return
	}
	in := *d.inflight
	d.inflight = nil
	d.timer = nil
	d.logger.Warn("command ack timed out", "type", in.Type)
	d.report(&TimeoutError{Type: in.Type})
	d.next()
}

// HandleAck settles the command in flight.
func (d *Dispatcher) HandleAck(ack protocol.AdminAck) {
	var in Intent
	if d.inflight != nil {
		in = *d.inflight
	}
	d.stopTimer()
	d.inflight = nil

	if ack.OK {
		d.report(nil)
	} else {
		d.logger.Warn("command rejected", "type", in.Type, "error", ack.Error)
		d.report(&RejectedError{Type: in.Type, Reason: ack.Error})
	}
	if d.opts.OnAck != nil {
		d.opts.OnAck(in, ack)
	}
	d.next()
}

// Reset forgets the command in flight and everything queued. Called when
// the channel closes.
func (d *Dispatcher) Reset() {
	d.stopTimer()
	d.inflight = nil
	if n := d.pending.Clear(); n > 0 {
		d.logger.Info("dropped queued commands", "count", n)
	}
}

// InFlight returns the type of the command awaiting its ack.
func (d *Dispatcher) InFlight() (string, bool) {
	if d.inflight == nil {
		return "", false
	}
	return d.inflight.Type, true
}

// Pending returns the number of queued commands.
func (d *Dispatcher) Pending() int {
	return d.pending.Len()
}

func (d *Dispatcher) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Dispatcher) report(err error) {
	if d.opts.Report != nil {
		d.opts.Report(err)
	}
}
