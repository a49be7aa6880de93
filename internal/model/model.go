// Package model holds the database tables of the sync journal.
package model

import (
	"time"

	"gorm.io/datatypes"
)

// DatabaseModels lists every table in the journal schema.
var DatabaseModels = []any{
	&JournalEntry{},
	&StatusSample{},
}

// JournalEntry is one sync-level fact: a connection opening, a snapshot or
// patch applied, a resync requested, a command sent.
type JournalEntry struct {
	ID       uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time     time.Time      `json:"time" gorm:"index:idx_journal_time"`
	ClientID string         `json:"clientId" gorm:"size:64;index:idx_journal_client"`
	Kind     string         `json:"kind" gorm:"size:32;index:idx_journal_kind"`
	Revision int64          `json:"revision"`
	Detail   datatypes.JSON `json:"detail"`
}

func (*JournalEntry) TableName() string {
	return "journal_entries"
}

// StatusSample is a periodic copy of the engine status.
type StatusSample struct {
	ID              uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time            time.Time      `json:"time" gorm:"index:idx_status_time"`
	ClientID        string         `json:"clientId" gorm:"size:64"`
	Connected       bool           `json:"connected" gorm:"default:false"`
	Phase           string         `json:"phase" gorm:"size:16"`
	Revision        int64          `json:"revision"`
	Markers         int            `json:"markers"`
	PendingCommands int            `json:"pendingCommands"`
	LastError       string         `json:"lastError" gorm:"size:255"`
	Counts          datatypes.JSON `json:"counts"`
}

func (*StatusSample) TableName() string {
	return "status_samples"
}
