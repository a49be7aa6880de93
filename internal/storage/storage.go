// Package storage defines the sync journal: a record of what the engine
// saw and did, kept by one of several backends.
package storage

import (
	"time"

	"github.com/nodemc/mapsync/internal/status"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindSessionOpened  Kind = "session_opened"
	KindSessionClosed  Kind = "session_closed"
	KindSnapshot       Kind = "snapshot"
	KindPatch          Kind = "patch"
	KindResync         Kind = "resync"
	KindDigestMismatch Kind = "digest_mismatch"
	KindCommandSent    Kind = "command_sent"
	KindCommandAcked   Kind = "command_acked"
)

// Entry is one journal record.
type Entry struct {
	Time     time.Time      `json:"time"`
	ClientID string         `json:"clientId,omitempty"`
	Kind     Kind           `json:"kind"`
	Revision int64          `json:"revision"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// Recorder is the write side the engine depends on.
type Recorder interface {
	Record(e Entry) error
}

// Backend is the interface all journal implementations must satisfy
type Backend interface {
	Recorder

	// Lifecycle
	Init() error
	Close() error

	// RecordStatus stores a periodic status sample.
	RecordStatus(clientID string, s status.Status) error
}

// Nop discards everything. It backs storage.type "none".
type Nop struct{}

func (Nop) Init() error                              { return nil }
func (Nop) Close() error                             { return nil }
func (Nop) Record(Entry) error                       { return nil }
func (Nop) RecordStatus(string, status.Status) error { return nil }
