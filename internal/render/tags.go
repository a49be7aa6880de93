package render

import (
	"github.com/nodemc/mapsync/internal/util"
	"github.com/nodemc/mapsync/pkg/core"
)

// AutoTeam derives a team from tags embedded in a player's display name.
// Friendly tags win over enemy tags. Matching is a case-sensitive
// substring test.
func AutoTeam(name string, friendly, enemy []string) (core.Team, bool) {
	if name == "" {
		return "", false
	}
	if util.ContainsAny(name, friendly) {
		return core.TeamFriendly, true
	}
	if util.ContainsAny(name, enemy) {
		return core.TeamEnemy, true
	}
	return "", false
}
