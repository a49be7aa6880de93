package render

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nodemc/mapsync/internal/geo"
	"github.com/nodemc/mapsync/internal/mirror"
	"github.com/nodemc/mapsync/pkg/core"
)

// Fallback colors for markers that carry no team.
const (
	EntityColor   = "#f59e0b"
	WaypointColor = "#22c55e"
)

// Sizes holds the per-kind marker size.
type Sizes struct {
	Player   float64 `mapstructure:"player"`
	Entity   float64 `mapstructure:"entity"`
	Waypoint float64 `mapstructure:"waypoint"`
}

// Config controls what is projected and how it looks.
type Config struct {
	// TargetDimension limits output to one dimension. Empty disables the
	// filter.
	TargetDimension  string
	Scopes           []mirror.Scope
	ShowCoords       bool
	AutoTeamFromName bool
	FriendlyTags     []string
	EnemyTags        []string
	Sizes            Sizes
	Projection       string
	Scale            float64
}

// DefaultConfig renders every position-bearing scope in the overworld.
func DefaultConfig() Config {
	return Config{
		TargetDimension: core.DimensionOverworld,
		Scopes:          []mirror.Scope{mirror.ScopePlayers, mirror.ScopeEntities, mirror.ScopeWaypoints},
		Sizes:           Sizes{Player: 10, Entity: 7, Waypoint: 12},
		Projection:      geo.ProjectionSimple,
		Scale:           1,
	}
}

// Source is the read side of the mirror the projector needs.
type Source interface {
	Records(scope mirror.Scope) map[string]mirror.Record
	Mark(playerID string) (core.Mark, bool)
	DisplayName(playerID string) string
}

// Ops counts the surface operations issued by one projection.
type Ops struct {
	Placed  int `json:"placed"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// Total is the sum of all operations.
func (o Ops) Total() int {
	return o.Placed + o.Updated + o.Removed
}

// Projector reconciles a Surface against the wanted marker set.
// It is not safe for concurrent Project calls.
type Projector struct {
	cfg      Config
	geo      *geo.Projector
	surface  Surface
	registry *Registry
}

// NewProjector creates a projector drawing on surface.
func NewProjector(surface Surface, cfg Config) (*Projector, error) {
	p := &Projector{surface: surface, registry: NewRegistry()}
	if err := p.SetConfig(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Config returns the active configuration.
func (p *Projector) Config() Config {
	return p.cfg
}

// SetConfig swaps the configuration. The caller re-projects afterwards.
func (p *Projector) SetConfig(cfg Config) error {
	scale := cfg.Scale
	if scale == 0 {
		scale = 1
	}
	g, err := geo.NewProjector(cfg.Projection, scale)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	cfg.Scale = scale
	cfg.Projection = g.Kind()
	cfg.TargetDimension = core.NormalizeDimension(cfg.TargetDimension)
	p.cfg = cfg
	p.geo = g
	return nil
}

// Registry exposes the set of markers currently on the surface.
func (p *Projector) Registry() *Registry {
	return p.registry
}

// Wanted computes the keyed marker set for the current state of src.
func (p *Projector) Wanted(src Source) map[string]Marker {
	wanted := make(map[string]Marker)
	seen := make(map[mirror.Scope]bool)
	for _, scope := range p.cfg.Scopes {
		kind := kindOf(scope)
		if kind == "" || seen[scope] {
			continue
		}
		seen[scope] = true

		for id, rec := range src.Records(scope) {
			x, _, z, ok := rec.Position()
			if !ok {
				continue
			}
			dim := core.NormalizeDimension(rec.Dimension())
			if p.cfg.TargetDimension != "" && dim != p.cfg.TargetDimension {
				continue
			}
			lat, lng, err := p.geo.LatLng(x, z)
			if err != nil {
				continue
			}
			key := kind + ":" + id
			wanted[key] = Marker{
				Key:      key,
				Position: Position{Lat: lat, Lng: lng},
				Visual:   p.visual(src, kind, id, rec, x, z, dim),
			}
		}
	}
	return wanted
}

// Project diffs the wanted set against the registry and issues the
// minimal place/update/remove calls. A failed call leaves the registry
// untouched for that key so the next projection retries it.
func (p *Projector) Project(src Source) (Ops, error) {
	wanted := p.Wanted(src)

	keys := make([]string, 0, len(wanted))
	for k := range wanted {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var ops Ops
	var errs []error
	for _, key := range keys {
		m := wanted[key]
		prev, ok := p.registry.Get(key)
		switch {
		case !ok:
			if err := p.surface.Place(key, m.Position, m.Visual); err != nil {
				errs = append(errs, fmt.Errorf("place %s: %w", key, err))
				continue
			}
			ops.Placed++
		case prev.Position != m.Position || prev.Visual != m.Visual:
			if err := p.surface.Update(key, m.Position, m.Visual); err != nil {
				errs = append(errs, fmt.Errorf("update %s: %w", key, err))
				continue
			}
			ops.Updated++
		default:
			continue
		}
		p.registry.Set(m)
	}

	for _, key := range p.registry.Keys() {
		if _, ok := wanted[key]; ok {
			continue
		}
		if err := p.surface.Remove(key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
			continue
		}
		p.registry.Delete(key)
		ops.Removed++
	}

	return ops, errors.Join(errs...)
}

// Clear removes every registered marker from the surface.
func (p *Projector) Clear() (Ops, error) {
	var ops Ops
	var errs []error
	for _, key := range p.registry.Keys() {
		if err := p.surface.Remove(key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
			continue
		}
		p.registry.Delete(key)
		ops.Removed++
	}
	return ops, errors.Join(errs...)
}

func kindOf(scope mirror.Scope) string {
	switch scope {
	case mirror.ScopePlayers:
		return KindPlayer
	case mirror.ScopeEntities:
		return KindEntity
	case mirror.ScopeWaypoints:
		return KindWaypoint
	}
	return ""
}

func (p *Projector) visual(src Source, kind, id string, rec mirror.Record, x, z float64, dim string) Visual {
	v := Visual{Kind: kind, Dimension: dim}

	switch kind {
	case KindPlayer:
		v.Label = rec.Name(id)
		v.Size = p.cfg.Sizes.Player
		v.Team = string(core.TeamNeutral)
		v.Color = core.TeamNeutral.DefaultColor()
		if mark, ok := src.Mark(id); ok {
			v.Team = string(mark.Team)
			v.Color = mark.Color
			v.TeamText = mark.Label
			if v.TeamText == "" {
				v.TeamText = string(mark.Team)
			}
		} else if p.cfg.AutoTeamFromName {
			if team, ok := AutoTeam(src.DisplayName(id), p.cfg.FriendlyTags, p.cfg.EnemyTags); ok {
				v.Team = string(team)
				v.Color = team.DefaultColor()
				v.TeamText = "auto:" + string(team)
			}
		}
	case KindEntity:
		v.Label = entityName(id, rec)
		v.Size = p.cfg.Sizes.Entity
		v.Color = EntityColor
	case KindWaypoint:
		v.Label = strings.TrimSpace(rec.String("label"))
		if v.Label == "" {
			v.Label = rec.Name(id)
		}
		v.Size = p.cfg.Sizes.Waypoint
		v.Color = core.NormalizeColor(rec.String("color"), WaypointColor)
	}

	if p.cfg.ShowCoords {
		v.Label += fmt.Sprintf(" (%d, %d)", int64(math.Round(x)), int64(math.Round(z)))
	}
	if h, ok := rec.Health(); ok && h > 0 {
		v.Label += fmt.Sprintf(" ❤%d", int64(math.Round(h)))
	}
	return v
}

func entityName(id string, rec mirror.Record) string {
	if name := rec.Name(""); name != "" {
		return name
	}
	if t := strings.TrimSpace(rec.String("type")); t != "" {
		return t
	}
	return id
}
