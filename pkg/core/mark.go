// pkg/core/mark.go
package core

import (
	"regexp"
	"strings"
)

// Team is the annotation side of a player.
type Team string

const (
	TeamFriendly Team = "friendly"
	TeamEnemy    Team = "enemy"
	TeamNeutral  Team = "neutral"
)

// Default marker colors per team.
var teamDefaultColors = map[Team]string{
	TeamFriendly: "#3b82f6",
	TeamEnemy:    "#ef4444",
	TeamNeutral:  "#94a3b8",
}

var hexColor = regexp.MustCompile(`^#?([0-9a-fA-F]{6})$`)

// Mark is a server-owned annotation attached to a player id.
type Mark struct {
	Team  Team   `json:"team"`
	Color string `json:"color"`
	Label string `json:"label,omitempty"`
}

// NormalizeTeam maps free-form team names onto the three known teams.
func NormalizeTeam(raw string) Team {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "friendly", "friend", "ally", "blue":
		return TeamFriendly
	case "enemy", "hostile", "red":
		return TeamEnemy
	default:
		return TeamNeutral
	}
}

// DefaultColor returns the color used for a team when none is given.
func (t Team) DefaultColor() string {
	if c, ok := teamDefaultColors[t]; ok {
		return c
	}
	return teamDefaultColors[TeamNeutral]
}

// NormalizeColor returns "#rrggbb" for a 6-digit hex color, or fallback.
func NormalizeColor(raw, fallback string) string {
	m := hexColor.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return fallback
	}
	return "#" + strings.ToLower(m[1])
}

// NewMark builds a normalized mark.
func NewMark(team, color, label string) Mark {
	t := NormalizeTeam(team)
	return Mark{
		Team:  t,
		Color: NormalizeColor(color, t.DefaultColor()),
		Label: strings.TrimSpace(label),
	}
}
