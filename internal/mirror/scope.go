package mirror

import (
	"sort"
	"strings"

	"github.com/nodemc/mapsync/pkg/protocol"
)

// Scope names a partition of mirrored state.
type Scope string

const (
	ScopePlayers   Scope = protocol.ScopePlayers
	ScopeEntities  Scope = protocol.ScopeEntities
	ScopeWaypoints Scope = protocol.ScopeWaypoints
	ScopeMarks     Scope = protocol.ScopeMarks
)

// Scopes lists every scope in a stable order.
var Scopes = []Scope{ScopePlayers, ScopeEntities, ScopeWaypoints, ScopeMarks}

// Complete reports whether r carries the minimum field set required to be
// inserted as a new record of this scope.
func (s Scope) Complete(r Record) bool {
	if r == nil {
		return false
	}
	switch s {
	case ScopePlayers, ScopeEntities, ScopeWaypoints:
		_, _, _, ok := r.Position()
		return ok && r.Dimension() != ""
	default:
		return true
	}
}

// ScopeDelta is a decoded upsert/delete pair. A nil record in Upsert marks
// an entry that could not be decoded.
type ScopeDelta struct {
	Upsert map[string]Record
	Delete []string
}

// ScopeResult describes what ApplyScopePatch did, with ids sorted.
type ScopeResult struct {
	Inserted []string
	Merged   []string
	Deleted  []string
	Dropped  []string

	// Drift holds new ids that were dropped for lacking required fields.
	Drift []string
}

// Changed reports whether the scope map was modified.
func (r ScopeResult) Changed() bool {
	return len(r.Inserted)+len(r.Merged)+len(r.Deleted) > 0
}

// ApplyScopePatch applies d to base and returns the resulting map. base is
// not modified. Existing ids are shallow-merged; new ids are inserted only
// when complete; deletes are unconditional and applied after upserts.
func ApplyScopePatch(scope Scope, base map[string]Record, d ScopeDelta) (map[string]Record, ScopeResult) {
	out := make(map[string]Record, len(base)+len(d.Upsert))
	for id, rec := range base {
		out[id] = rec
	}

	var res ScopeResult
	ids := make([]string, 0, len(d.Upsert))
	for id := range d.Upsert {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		delta := d.Upsert[id]
		existing, ok := out[id]
		switch {
		case ok && delta != nil:
			out[id] = existing.Merge(delta)
			res.Merged = append(res.Merged, id)
		case ok:
			res.Dropped = append(res.Dropped, id)
		case scope.Complete(delta):
			out[id] = delta.Clone()
			res.Inserted = append(res.Inserted, id)
		default:
			res.Dropped = append(res.Dropped, id)
			res.Drift = append(res.Drift, id)
		}
	}

	for _, id := range d.Delete {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := out[id]; ok {
			delete(out, id)
			res.Deleted = append(res.Deleted, id)
		}
	}
	sort.Strings(res.Deleted)

	return out, res
}
