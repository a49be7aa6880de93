// Package status holds the published, read-only view of the sync engine.
package status

import (
	"sync"
	"time"
)

// Connection is the state of the channel.
type Connection string

const (
	ConnIdle       Connection = "idle"
	ConnConnecting Connection = "connecting"
	ConnOpen       Connection = "open"
	ConnClosed     Connection = "closed"
)

// Phase is the synchronization phase.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseHandshaking  Phase = "handshaking"
	PhaseSynchronized Phase = "synchronized"
	PhaseResyncing    Phase = "resyncing"
)

// Counters are cumulative since start.
type Counters struct {
	Frames           int `json:"frames"`
	Malformed        int `json:"malformed"`
	Snapshots        int `json:"snapshots"`
	Patches          int `json:"patches"`
	Resyncs          int `json:"resyncs"`
	Drift            int `json:"drift"`
	DigestMismatches int `json:"digestMismatches"`
	Reconnects       int `json:"reconnects"`
	CommandsSent     int `json:"commandsSent"`
	CommandsFailed   int `json:"commandsFailed"`
}

// Status is a point-in-time copy of the engine state.
type Status struct {
	Mode              string         `json:"mode"`
	Endpoint          string         `json:"endpoint"`
	Connection        Connection     `json:"connection"`
	Connected         bool           `json:"connected"`
	Phase             Phase          `json:"phase"`
	LastError         string         `json:"lastError,omitempty"`
	ReconnectAttempts int            `json:"reconnectAttempts"`
	ReconnectPending  bool           `json:"reconnectPending"`
	Revision          int64          `json:"revision"`
	HasBaseline       bool           `json:"hasBaseline"`
	ServerTime        *float64       `json:"serverTime,omitempty"`
	ProtocolVersion   int            `json:"protocolVersion,omitempty"`
	DeltaEnabled      bool           `json:"deltaEnabled"`
	DigestInterval    float64        `json:"digestIntervalSec,omitempty"`
	SameServerFilter  bool           `json:"sameServerFilter"`
	Counts            map[string]int `json:"counts"`
	Markers           int            `json:"markers"`
	CommandInFlight   string         `json:"commandInFlight,omitempty"`
	PendingCommands   int            `json:"pendingCommands"`
	Counters          Counters       `json:"counters"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Board stores the latest Status. Writers publish whole values; readers
// get a copy.
type Board struct {
	mu     sync.RWMutex
	status Status
}

// NewBoard creates a Board in the disconnected state.
func NewBoard() *Board {
	return &Board{
		status: Status{
			Connection: ConnIdle,
			Phase:      PhaseDisconnected,
			Counts:     map[string]int{},
		},
	}
}

// Get returns the latest status
func (b *Board) Get() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.status
	s.Counts = cloneCounts(b.status.Counts)
	return s
}

// Publish replaces the latest status
func (b *Board) Publish(s Status) {
	s.Counts = cloneCounts(s.Counts)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

func cloneCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
