// Package dispatcher routes inbound channel frames to per-type handlers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrUnknownType is returned when no handler matches a frame.
var ErrUnknownType = errors.New("unknown message type")

// Frame is one inbound message.
type Frame struct {
	Type     string
	Data     []byte
	Received time.Time
}

// HandlerFunc processes a frame.
type HandlerFunc func(Frame) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged bool
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes frames to registered handlers. Handlers run on the
// caller's goroutine.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	fallback HandlerFunc
	logger   Logger

	processed metric.Int64Counter
	failed    metric.Int64Counter
	unknown   metric.Int64Counter
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}

	m := meter()

	var err error

	d.processed, err = m.Int64Counter(
		"mapsync.frames.processed",
		metric.WithDescription("Inbound frames handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"mapsync.frames.failed",
		metric.WithDescription("Inbound frames whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.unknown, err = m.Int64Counter(
		"mapsync.frames.unknown",
		metric.WithDescription("Inbound frames with no matching handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating unknown counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given message type.
func (d *Dispatcher) Register(msgType string, h HandlerFunc, opts ...Option) {
	d.handlers[msgType] = d.wrap(msgType, h, opts)
}

// Fallback sets the handler for frames whose type has no handler of its
// own. Untyped legacy frames arrive here with an empty Type.
func (d *Dispatcher) Fallback(h HandlerFunc, opts ...Option) {
	d.fallback = d.wrap("*", h, opts)
}

func (d *Dispatcher) wrap(msgType string, h HandlerFunc, opts []Option) HandlerFunc {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logged {
		h = d.withLogging(msgType, h)
	}
	return h
}

// Dispatch routes a frame to its registered handler.
func (d *Dispatcher) Dispatch(f Frame) error {
	typeAttr := metric.WithAttributes(attribute.String("type", f.Type))

	h, ok := d.handlers[f.Type]
	if !ok {
		h = d.fallback
	}
	if h == nil {
		d.unknown.Add(context.Background(), 1, typeAttr)
		return fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}

	if err := h(f); err != nil {
		d.failed.Add(context.Background(), 1, typeAttr)
		return err
	}
	d.processed.Add(context.Background(), 1, typeAttr)
	return nil
}

// HasHandler returns true if a handler is registered for the type.
func (d *Dispatcher) HasHandler(msgType string) bool {
	_, ok := d.handlers[msgType]
	return ok
}

func (d *Dispatcher) withLogging(msgType string, h HandlerFunc) HandlerFunc {
	return func(f Frame) error {
		start := time.Now()
		d.logger.Debug("handling frame", "type", msgType, "bytes", len(f.Data))

		err := h(f)

		if err != nil {
			d.logger.Error("frame failed", "type", msgType, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("frame complete", "type", msgType, "duration", time.Since(start))
		}

		return err
	}
}
