package session

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/nodemc/mapsync/internal/session"

type metrics struct {
	reconnects metric.Int64Counter
	resyncs    metric.Int64Counter
	drift      metric.Int64Counter
}

// newMetrics registers the session counters on the global meter, which is
// a no-op until a provider is installed.
func newMetrics() (*metrics, error) {
	m := otel.Meter(instrumentationName)
	var (
		out metrics
		err error
	)

	out.reconnects, err = m.Int64Counter(
		"mapsync.session.reconnects",
		metric.WithDescription("Reconnect attempts scheduled after an unexpected close"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating reconnects counter: %w", err)
	}

	out.resyncs, err = m.Int64Counter(
		"mapsync.session.resyncs",
		metric.WithDescription("resync_req messages sent"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resyncs counter: %w", err)
	}

	out.drift, err = m.Int64Counter(
		"mapsync.session.drift",
		metric.WithDescription("Patches that revealed baseline drift"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating drift counter: %w", err)
	}

	return &out, nil
}
