package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodemc/mapsync/internal/config"
	"github.com/nodemc/mapsync/internal/status"
	"github.com/nodemc/mapsync/internal/storage/memory"
)

type fakeInflux struct {
	mu      sync.Mutex
	samples []status.Status
	clients []string
	err     error
}

func (f *fakeInflux) WriteStatus(_ context.Context, clientID string, s status.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s)
	f.clients = append(f.clients, clientID)
	return f.err
}

func (f *fakeInflux) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

func publishedBoard() *status.Board {
	b := status.NewBoard()
	b.Publish(status.Status{
		Mode:       "push",
		Connection: status.ConnOpen,
		Phase:      status.PhaseSynchronized,
		Revision:   9,
		UpdatedAt:  time.Now().UTC(),
	})
	return b
}

func TestSample_SkipsUnpublishedBoard(t *testing.T) {
	inf := &fakeInflux{}
	svc := NewService(Dependencies{Board: status.NewBoard(), Influx: inf})

	assert.False(t, svc.Sample(context.Background()))
	assert.Equal(t, 0, inf.count())
	assert.Equal(t, 0, svc.Samples())
}

func TestSample_FansOut(t *testing.T) {
	dir := t.TempDir()
	inf := &fakeInflux{}
	journal := memory.New(config.MemoryConfig{})
	svc := NewService(Dependencies{
		Board:    publishedBoard(),
		Journal:  journal,
		Influx:   inf,
		ClientID: "client-1",
		Dir:      dir,
	})

	require.True(t, svc.Sample(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, StatusFileName))
	require.NoError(t, err)
	var got status.Status
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, int64(9), got.Revision)
	assert.Equal(t, status.PhaseSynchronized, got.Phase)

	require.Equal(t, 1, inf.count())
	assert.Equal(t, "client-1", inf.clients[0])

	samples := journal.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, "client-1", samples[0].ClientID)
	assert.Equal(t, 1, svc.Samples())
}

func TestSample_ContinuesPastInfluxError(t *testing.T) {
	inf := &fakeInflux{err: errors.New("backup closed")}
	journal := memory.New(config.MemoryConfig{})
	svc := NewService(Dependencies{Board: publishedBoard(), Journal: journal, Influx: inf})

	assert.True(t, svc.Sample(context.Background()))
	assert.Len(t, journal.Samples(), 1)
}

func TestSample_StatusFileReplaced(t *testing.T) {
	dir := t.TempDir()
	board := publishedBoard()
	svc := NewService(Dependencies{Board: board, Dir: dir})

	svc.Sample(context.Background())
	s := board.Get()
	s.Revision = 10
	board.Publish(s)
	svc.Sample(context.Background())

	data, err := os.ReadFile(filepath.Join(dir, StatusFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"revision": 10`)
	_, err = os.Stat(filepath.Join(dir, StatusFileName+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestStartStop(t *testing.T) {
	inf := &fakeInflux{}
	svc := NewService(Dependencies{
		Board:    publishedBoard(),
		Influx:   inf,
		Interval: 5 * time.Millisecond,
	})

	svc.Start(context.Background())
	svc.Start(context.Background())
	assert.True(t, svc.IsRunning())

	require.Eventually(t, func() bool { return inf.count() >= 2 }, time.Second, time.Millisecond)

	svc.Stop()
	assert.False(t, svc.IsRunning())
	n := inf.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, inf.count(), "no samples after Stop")

	svc.Stop()
}

func TestStop_AfterContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := NewService(Dependencies{Board: publishedBoard(), Interval: time.Hour})
	svc.Start(ctx)
	cancel()

	require.Eventually(t, func() bool { return !svc.IsRunning() }, time.Second, time.Millisecond)
	svc.Stop()
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(Dependencies{Board: status.NewBoard()})
	assert.Equal(t, DefaultInterval, svc.deps.Interval)
	assert.NotNil(t, svc.deps.Logger)
}
