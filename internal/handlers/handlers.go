// Package handlers exposes the engine over a small HTTP control surface.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nodemc/mapsync/internal/render"
	"github.com/nodemc/mapsync/internal/status"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// Engine is what the push session and the poller both provide.
type Engine interface {
	Status() status.Status
	SetMark(player, team, color, label string) bool
	ClearMark(player string) bool
	ClearAllMarks() bool
	SetSameServerFilter(enabled bool) bool
	Resync() bool
	Reconnect() bool
	Disconnect() bool
}

// MarkerSource lists the markers currently drawn.
type MarkerSource interface {
	Markers() []render.Marker
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Engine  Engine
	Markers MarkerSource
	Logger  *slog.Logger
}

// Service serves the control routes.
type Service struct {
	deps Dependencies
}

// NewService creates a new handler service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// Handler returns the routed control surface.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.getStatus)
	mux.HandleFunc("GET /markers", s.getMarkers)
	mux.HandleFunc("POST /marks", s.setMark)
	mux.HandleFunc("DELETE /marks/{player}", s.clearMark)
	mux.HandleFunc("DELETE /marks", s.clearAllMarks)
	mux.HandleFunc("POST /filter/same-server", s.setSameServerFilter)
	mux.HandleFunc("POST /resync", s.action(Engine.Resync))
	mux.HandleFunc("POST /reconnect", s.action(Engine.Reconnect))
	mux.HandleFunc("POST /disconnect", s.action(Engine.Disconnect))
	return s.logged(mux)
}

// Result is the body returned by every command route.
type Result struct {
	Accepted  bool   `json:"accepted"`
	LastError string `json:"lastError,omitempty"`
}

// MarkRequest is the body of POST /marks.
type MarkRequest struct {
	Player string `json:"player"`
	Team   string `json:"team"`
	Color  string `json:"color"`
	Label  string `json:"label"`
}

// FilterRequest is the body of POST /filter/same-server.
type FilterRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Service) getStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Engine.Status())
}

func (s *Service) getMarkers(w http.ResponseWriter, r *http.Request) {
	markers := []render.Marker{}
	if s.deps.Markers != nil {
		markers = append(markers, s.deps.Markers.Markers()...)
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := markers[:0]
		for _, m := range markers {
			if m.Visual.Kind == kind {
				filtered = append(filtered, m)
			}
		}
		markers = filtered
	}
	s.writeJSON(w, http.StatusOK, markers)
}

func (s *Service) setMark(w http.ResponseWriter, r *http.Request) {
	var req MarkRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Player) == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("player is required"))
		return
	}
	s.writeResult(w, s.deps.Engine.SetMark(req.Player, req.Team, req.Color, req.Label))
}

func (s *Service) clearMark(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, s.deps.Engine.ClearMark(r.PathValue("player")))
}

func (s *Service) clearAllMarks(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, s.deps.Engine.ClearAllMarks())
}

func (s *Service) setSameServerFilter(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Enabled == nil {
		s.writeError(w, http.StatusBadRequest, errors.New("enabled is required"))
		return
	}
	s.writeResult(w, s.deps.Engine.SetSameServerFilter(*req.Enabled))
}

func (s *Service) action(fn func(Engine) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeResult(w, fn(s.deps.Engine))
	}
}

// writeResult answers 202 when the engine took the command and 409 with
// the recorded error otherwise.
func (s *Service) writeResult(w http.ResponseWriter, accepted bool) {
	res := Result{Accepted: accepted}
	code := http.StatusAccepted
	if !accepted {
		code = http.StatusConflict
		res.LastError = s.deps.Engine.Status().LastError
	}
	s.writeJSON(w, code, res)
}

func (s *Service) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Service) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.deps.Logger.Warn("failed to write response", "error", err)
	}
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Service) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.deps.Logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.code)
	})
}
