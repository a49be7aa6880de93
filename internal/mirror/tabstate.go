package mirror

import (
	"encoding/json"
	"sort"
	"strings"
)

type tabPlayer struct {
	UUID         string `json:"uuid"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	DisplayName  string `json:"displayName"`
	PrefixedName string `json:"prefixedName"`
}

type tabReport struct {
	Players []tabPlayer `json:"players"`
}

type tabState struct {
	Enabled bool            `json:"enabled"`
	Reports json.RawMessage `json:"reports"`
}

func (m *Mirror) tabState() (tabState, bool) {
	raw, ok := m.aux["tabState"]
	if !ok {
		return tabState{}, false
	}
	var ts tabState
	if err := json.Unmarshal(raw, &ts); err != nil {
		return tabState{}, false
	}
	return ts, true
}

// tabReports returns the roster reports in a stable order. Reports may be
// keyed by source or sent as a list.
func (ts tabState) tabReports() []tabReport {
	var keyed map[string]tabReport
	if err := json.Unmarshal(ts.Reports, &keyed); err == nil {
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]tabReport, 0, len(keys))
		for _, k := range keys {
			out = append(out, keyed[k])
		}
		return out
	}
	var list []tabReport
	if err := json.Unmarshal(ts.Reports, &list); err == nil {
		return list
	}
	return nil
}

// SameServerFilter reports the server-side same-server filter state.
func (m *Mirror) SameServerFilter() bool {
	ts, ok := m.tabState()
	return ok && ts.Enabled
}

// TabName returns the roster name for a player id, if the roster has one.
func (m *Mirror) TabName(playerID string) (string, bool) {
	ts, ok := m.tabState()
	if !ok {
		return "", false
	}
	for _, report := range ts.tabReports() {
		for _, p := range report.Players {
			id := strings.TrimSpace(p.UUID)
			if id == "" {
				id = strings.TrimSpace(p.ID)
			}
			if id == "" || id != playerID {
				continue
			}
			for _, name := range []string{p.PrefixedName, p.DisplayName, p.Name} {
				if n := strings.TrimSpace(name); n != "" {
					return n, true
				}
			}
		}
	}
	return "", false
}

// DisplayName resolves the name shown for a player: roster name first, then
// the record's own name fields, then the id.
func (m *Mirror) DisplayName(playerID string) string {
	if name, ok := m.TabName(playerID); ok {
		return name
	}
	if rec, ok := m.scopes[ScopePlayers][playerID]; ok {
		return rec.Name(playerID)
	}
	return playerID
}

// ResolvePlayer maps user input to a player id: an exact id match wins,
// then a case-insensitive display name match.
func (m *Mirror) ResolvePlayer(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}
	players := m.scopes[ScopePlayers]
	if _, ok := players[input]; ok {
		return input, true
	}
	ids := sortedKeys(players)
	for _, id := range ids {
		if strings.EqualFold(m.DisplayName(id), input) {
			return id, true
		}
	}
	return "", false
}
