// Package render turns the mirrored world state into keyed map markers and
// keeps a rendering surface in step with it.
package render

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Marker kinds.
const (
	KindPlayer   = "player"
	KindEntity   = "entity"
	KindWaypoint = "waypoint"
)

// Position is a projected surface coordinate.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Visual describes how a marker is drawn. It is comparable so that an
// unchanged marker can be detected with ==.
type Visual struct {
	Kind      string  `json:"kind"`
	Label     string  `json:"label"`
	Team      string  `json:"team,omitempty"`
	TeamText  string  `json:"teamText,omitempty"`
	Color     string  `json:"color"`
	Size      float64 `json:"size"`
	Dimension string  `json:"dimension,omitempty"`
}

// Marker is one rendered item.
type Marker struct {
	Key      string   `json:"key"`
	Position Position `json:"position"`
	Visual   Visual   `json:"visual"`
}

// Surface is the drawing target the projector reconciles against.
type Surface interface {
	Place(key string, pos Position, v Visual) error
	Update(key string, pos Position, v Visual) error
	Remove(key string) error
}

// Recorder is an in-memory Surface. It backs the HTTP marker listing and
// is what tests assert against.
type Recorder struct {
	mu      sync.RWMutex
	markers map[string]Marker
	places  int
	updates int
	removes int
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{markers: make(map[string]Marker)}
}

func (r *Recorder) Place(key string, pos Position, v Visual) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers[key] = Marker{Key: key, Position: pos, Visual: v}
	r.places++
	return nil
}

func (r *Recorder) Update(key string, pos Position, v Visual) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers[key] = Marker{Key: key, Position: pos, Visual: v}
	r.updates++
	return nil
}

func (r *Recorder) Remove(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.markers, key)
	r.removes++
	return nil
}

// Get returns the marker stored under key.
func (r *Recorder) Get(key string) (Marker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markers[key]
	return m, ok
}

// Markers returns every marker sorted by key.
func (r *Recorder) Markers() []Marker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Marker, 0, len(r.markers))
	for _, m := range r.markers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Calls returns how many place, update and remove calls were made.
func (r *Recorder) Calls() (places, updates, removes int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.places, r.updates, r.removes
}

// LogSurface writes every operation to a structured logger and optionally
// forwards it to another surface.
type LogSurface struct {
	Logger *slog.Logger
	Next   Surface
}

func (s LogSurface) Place(key string, pos Position, v Visual) error {
	s.log("place", key, pos, v)
	if s.Next != nil {
		return s.Next.Place(key, pos, v)
	}
	return nil
}

func (s LogSurface) Update(key string, pos Position, v Visual) error {
	s.log("update", key, pos, v)
	if s.Next != nil {
		return s.Next.Update(key, pos, v)
	}
	return nil
}

func (s LogSurface) Remove(key string) error {
	if s.Logger != nil {
		s.Logger.Debug("marker remove", "key", key)
	}
	if s.Next != nil {
		return s.Next.Remove(key)
	}
	return nil
}

func (s LogSurface) log(op, key string, pos Position, v Visual) {
	if s.Logger == nil || !s.Logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	s.Logger.Debug("marker "+op,
		"key", key,
		"lat", pos.Lat,
		"lng", pos.Lng,
		"label", v.Label,
		"color", v.Color)
}
