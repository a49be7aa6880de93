package render

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SetGetDelete(t *testing.T) {
	r := NewRegistry()

	r.Set(Marker{Key: "player:p1", Visual: Visual{Label: "Steve"}})
	r.Set(Marker{Key: "entity:e1"})

	m, ok := r.Get("player:p1")
	require.True(t, ok)
	assert.Equal(t, "Steve", m.Visual.Label)
	assert.Equal(t, []string{"entity:e1", "player:p1"}, r.Keys())

	r.Delete("player:p1")
	_, ok = r.Get("player:p1")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())

	r.Reset()
	assert.Zero(t, r.Len())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Set(Marker{Key: "k"})
		}()
		go func() {
			defer wg.Done()
			r.Get("k")
			r.Keys()
		}()
	}
	wg.Wait()

	_, ok := r.Get("k")
	assert.True(t, ok)
}
