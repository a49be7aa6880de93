package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodemc/mapsync/internal/render"
	"github.com/nodemc/mapsync/internal/status"
)

// fakeEngine records every call and accepts unless refuse is set.
type fakeEngine struct {
	mu     sync.Mutex
	refuse bool
	calls  []string
	args   []any
	st     status.Status
}

func (e *fakeEngine) Status() status.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

func (e *fakeEngine) recorded() ([]string, []any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls, e.args
}

func (e *fakeEngine) result(name string, args ...any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, name)
	e.args = append(e.args, args...)
	if e.refuse {
		e.st.LastError = "channel not open"
	}
	return !e.refuse
}

func (e *fakeEngine) SetMark(player, team, color, label string) bool {
	return e.result("SetMark", player, team, color, label)
}
func (e *fakeEngine) ClearMark(player string) bool     { return e.result("ClearMark", player) }
func (e *fakeEngine) ClearAllMarks() bool              { return e.result("ClearAllMarks") }
func (e *fakeEngine) SetSameServerFilter(on bool) bool { return e.result("SetSameServerFilter", on) }
func (e *fakeEngine) Resync() bool                     { return e.result("Resync") }
func (e *fakeEngine) Reconnect() bool                  { return e.result("Reconnect") }
func (e *fakeEngine) Disconnect() bool                 { return e.result("Disconnect") }

func newTestServer(t *testing.T, engine *fakeEngine) (*httptest.Server, *render.Recorder) {
	t.Helper()
	surface := render.NewRecorder()
	svc := NewService(Dependencies{
		Engine:  engine,
		Markers: surface,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	server := httptest.NewServer(svc.Handler())
	t.Cleanup(server.Close)
	return server, surface
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestGetStatus(t *testing.T) {
	engine := &fakeEngine{st: status.Status{Mode: "push", Connected: true, Revision: 42, Phase: status.PhaseSynchronized}}
	server, _ := newTestServer(t, engine)

	resp, body := do(t, http.MethodGet, server.URL+"/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got status.Status
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, int64(42), got.Revision)
	assert.True(t, got.Connected)
	assert.Equal(t, status.PhaseSynchronized, got.Phase)
}

func TestGetMarkers(t *testing.T) {
	server, surface := newTestServer(t, &fakeEngine{})

	resp, body := do(t, http.MethodGet, server.URL+"/markers", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	require.NoError(t, surface.Place("player:p1", render.Position{Lat: 3, Lng: 10}, render.Visual{Kind: render.KindPlayer, Label: "Steve"}))
	require.NoError(t, surface.Place("waypoint:w1", render.Position{}, render.Visual{Kind: render.KindWaypoint, Label: "Spawn"}))

	_, body = do(t, http.MethodGet, server.URL+"/markers", "")
	var markers []render.Marker
	require.NoError(t, json.Unmarshal(body, &markers))
	require.Len(t, markers, 2)
	assert.Equal(t, "player:p1", markers[0].Key)
	assert.Equal(t, 10.0, markers[0].Position.Lng)

	_, body = do(t, http.MethodGet, server.URL+"/markers?kind=waypoint", "")
	require.NoError(t, json.Unmarshal(body, &markers))
	require.Len(t, markers, 1)
	assert.Equal(t, "Spawn", markers[0].Visual.Label)
}

func TestSetMark(t *testing.T) {
	engine := &fakeEngine{}
	server, _ := newTestServer(t, engine)

	resp, body := do(t, http.MethodPost, server.URL+"/marks", `{"player":"Steve","team":"enemy","color":"#ff0000","label":"focus"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"accepted":true}`, string(body))
	calls, args := engine.recorded()
	assert.Equal(t, []string{"SetMark"}, calls)
	assert.Equal(t, []any{"Steve", "enemy", "#ff0000", "focus"}, args)
}

func TestSetMark_BadRequests(t *testing.T) {
	engine := &fakeEngine{}
	server, _ := newTestServer(t, engine)

	resp, _ := do(t, http.MethodPost, server.URL+"/marks", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, http.MethodPost, server.URL+"/marks", `{"player":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "player is required")
	calls, _ := engine.recorded()
	assert.Empty(t, calls)
}

func TestRefusedCommandReportsLastError(t *testing.T) {
	engine := &fakeEngine{refuse: true}
	server, _ := newTestServer(t, engine)

	resp, body := do(t, http.MethodDelete, server.URL+"/marks", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.JSONEq(t, `{"accepted":false,"lastError":"channel not open"}`, string(body))
}

func TestClearMark(t *testing.T) {
	engine := &fakeEngine{}
	server, _ := newTestServer(t, engine)

	resp, _ := do(t, http.MethodDelete, server.URL+"/marks/p-1", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	calls, args := engine.recorded()
	assert.Equal(t, []string{"ClearMark"}, calls)
	assert.Equal(t, []any{"p-1"}, args)
}

func TestSameServerFilter(t *testing.T) {
	engine := &fakeEngine{}
	server, _ := newTestServer(t, engine)

	resp, _ := do(t, http.MethodPost, server.URL+"/filter/same-server", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, server.URL+"/filter/same-server", `{"enabled":false}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	_, args := engine.recorded()
	assert.Equal(t, []any{false}, args)
}

func TestSessionActions(t *testing.T) {
	engine := &fakeEngine{}
	server, _ := newTestServer(t, engine)

	for _, path := range []string{"/resync", "/reconnect", "/disconnect"} {
		resp, _ := do(t, http.MethodPost, server.URL+path, "")
		assert.Equal(t, http.StatusAccepted, resp.StatusCode, path)
	}
	calls, _ := engine.recorded()
	assert.Equal(t, []string{"Resync", "Reconnect", "Disconnect"}, calls)
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t, &fakeEngine{})

	resp, _ := do(t, http.MethodGet, server.URL+"/reconnect", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
