// Package mirror holds the client-side copy of server state and the
// snapshot/patch reconciliation rules that keep it consistent.
package mirror

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/nodemc/mapsync/pkg/core"
	"github.com/nodemc/mapsync/pkg/protocol"
)

// Mirror is the canonical in-memory copy of server state. It is not safe
// for concurrent use; a single owner applies every update.
type Mirror struct {
	scopes     map[Scope]map[string]Record
	aux        map[string]json.RawMessage
	revision   int64
	serverTime *float64

	// baseline is reset on every fresh connection.
	baseline  bool
	snapshots int
}

// New creates an empty mirror with no baseline.
func New() *Mirror {
	m := &Mirror{aux: make(map[string]json.RawMessage)}
	m.scopes = emptyScopes()
	return m
}

func emptyScopes() map[Scope]map[string]Record {
	out := make(map[Scope]map[string]Record, len(Scopes))
	for _, s := range Scopes {
		out[s] = make(map[string]Record)
	}
	return out
}

// SnapshotResult summarizes an applied snapshot.
type SnapshotResult struct {
	Revision int64
	Counts   map[Scope]int
	Skipped  []string
}

// ApplySnapshot replaces every scope, the auxiliary metadata, the revision
// and the server time, and establishes the baseline. Undecodable records are
// skipped.
func (m *Mirror) ApplySnapshot(s *protocol.Snapshot) SnapshotResult {
	scopes := emptyScopes()
	var skipped []string

	load := func(scope Scope, raw map[string]json.RawMessage) {
		for id, node := range raw {
			rec, err := DecodeRecord(node)
			if err != nil {
				skipped = append(skipped, string(scope)+":"+id)
				continue
			}
			scopes[scope][id] = rec
		}
	}
	load(ScopePlayers, s.Players)
	load(ScopeEntities, s.Entities)
	load(ScopeWaypoints, s.Waypoints)
	load(ScopeMarks, s.PlayerMarks)

	aux := make(map[string]json.RawMessage, len(s.Aux))
	for k, v := range s.Aux {
		aux[k] = v
	}

	m.scopes = scopes
	m.aux = aux
	m.serverTime = s.ServerTime
	if rev, ok := s.RevisionValue(); ok {
		m.revision = rev
	}
	m.baseline = true
	m.snapshots++

	return SnapshotResult{Revision: m.revision, Counts: m.Counts(), Skipped: skipped}
}

// PatchResult summarizes an applied patch.
type PatchResult struct {
	Revision int64
	Scopes   map[Scope]ScopeResult
}

// Changed reports whether any scope map changed.
func (r PatchResult) Changed() bool {
	for _, s := range r.Scopes {
		if s.Changed() {
			return true
		}
	}
	return false
}

// ApplyPatch merges a delta into the mirror.
//
// Without a baseline the patch is rejected whole with ErrPatchBeforeBaseline.
// When new ids lack required fields, every valid entry is still applied and
// a *DriftError is returned alongside the result.
func (m *Mirror) ApplyPatch(p *protocol.Patch) (PatchResult, error) {
	if !m.baseline {
		return PatchResult{Revision: m.revision}, ErrPatchBeforeBaseline
	}

	res := PatchResult{Scopes: make(map[Scope]ScopeResult)}
	drift := make(map[Scope][]string)

	apply := func(scope Scope, sp *protocol.ScopePatch) {
		if sp == nil {
			return
		}
		next, sr := ApplyScopePatch(scope, m.scopes[scope], decodeDelta(sp))
		m.scopes[scope] = next
		res.Scopes[scope] = sr
		if len(sr.Drift) > 0 {
			drift[scope] = sr.Drift
		}
	}
	apply(ScopePlayers, p.Players)
	apply(ScopeEntities, p.Entities)
	apply(ScopeWaypoints, p.Waypoints)

	marksDelta, marksFull, err := p.MarksPatch()
	switch {
	case err != nil:
		// A broken marks node leaves marks untouched but does not void the
		// other scopes.
	case marksDelta != nil:
		apply(ScopeMarks, marksDelta)
	case marksFull != nil:
		m.replaceScope(ScopeMarks, marksFull)
		res.Scopes[ScopeMarks] = ScopeResult{Inserted: sortedKeys(m.scopes[ScopeMarks])}
	}

	for k, v := range p.Meta {
		m.aux[k] = v
	}
	if p.ServerTime != nil {
		m.serverTime = p.ServerTime
	}
	if rev, ok := p.RevisionValue(); ok {
		m.ObserveRevision(rev)
	}
	res.Revision = m.revision

	if len(drift) > 0 {
		return res, &DriftError{IDs: drift}
	}
	if err != nil {
		return res, &MalformedMessageError{Type: protocol.TypePatch, Err: err}
	}
	return res, nil
}

func (m *Mirror) replaceScope(scope Scope, raw map[string]json.RawMessage) {
	next := make(map[string]Record, len(raw))
	for id, node := range raw {
		if rec, err := DecodeRecord(node); err == nil {
			next[id] = rec
		}
	}
	m.scopes[scope] = next
}

func decodeDelta(sp *protocol.ScopePatch) ScopeDelta {
	d := ScopeDelta{Upsert: make(map[string]Record, len(sp.Upsert)), Delete: sp.Delete}
	for id, node := range sp.Upsert {
		rec, err := DecodeRecord(node)
		if err != nil {
			d.Upsert[id] = nil
			continue
		}
		d.Upsert[id] = rec
	}
	return d
}

// SetRevision replaces the revision, lowering it if needed. A fresh
// connection starts its numbering here.
func (m *Mirror) SetRevision(rev int64) {
	m.revision = rev
}

// ObserveRevision raises the revision; it never lowers it.
func (m *Mirror) ObserveRevision(rev int64) {
	if rev > m.revision {
		m.revision = rev
	}
}

// ResetBaseline forgets the baseline so that the next patch is rejected
// until a fresh snapshot arrives. Mirrored data is kept.
func (m *Mirror) ResetBaseline() {
	m.baseline = false
}

// HasBaseline reports whether a snapshot was applied on this connection.
func (m *Mirror) HasBaseline() bool {
	return m.baseline
}

// Snapshots returns how many full snapshots were applied in total.
func (m *Mirror) Snapshots() int {
	return m.snapshots
}

// Revision returns the current revision: the last snapshot's, raised by
// newer patches.
func (m *Mirror) Revision() int64 {
	return m.revision
}

// ServerTime returns the last server timestamp, if any.
func (m *Mirror) ServerTime() *float64 {
	return m.serverTime
}

// Records returns the records of one scope. Callers must not modify the map.
func (m *Mirror) Records(scope Scope) map[string]Record {
	return m.scopes[scope]
}

// Record returns a single record.
func (m *Mirror) Record(scope Scope, id string) (Record, bool) {
	r, ok := m.scopes[scope][id]
	return r, ok
}

// Counts returns the number of records per scope.
func (m *Mirror) Counts() map[Scope]int {
	out := make(map[Scope]int, len(m.scopes))
	for s, recs := range m.scopes {
		out[s] = len(recs)
	}
	return out
}

// Aux returns one auxiliary metadata value.
func (m *Mirror) Aux(key string) (json.RawMessage, bool) {
	v, ok := m.aux[key]
	return v, ok
}

// Mark returns the normalized mark for a player id. Ids are matched exactly
// first, then case-insensitively.
func (m *Mirror) Mark(playerID string) (core.Mark, bool) {
	marks := m.scopes[ScopeMarks]
	rec, ok := marks[playerID]
	if !ok {
		want := strings.ToLower(strings.TrimSpace(playerID))
		for id, r := range marks {
			if strings.ToLower(strings.TrimSpace(id)) == want {
				rec, ok = r, true
				break
			}
		}
	}
	if !ok {
		return core.Mark{}, false
	}
	return core.NewMark(rec.String("team"), rec.String("color"), rec.String("label")), true
}

func sortedKeys(recs map[string]Record) []string {
	keys := make([]string, 0, len(recs))
	for k := range recs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
