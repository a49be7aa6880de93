package mirror

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResyncLimiter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewResyncLimiter(DefaultResyncCooldown, func() time.Time { return now })

	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	now = now.Add(time.Second)
	assert.False(t, l.Allow())

	now = now.Add(600 * time.Millisecond)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestResyncLimiter_ZeroCooldown(t *testing.T) {
	l := NewResyncLimiter(0, nil)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
}

func TestResyncLimiter_Reset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewResyncLimiter(DefaultResyncCooldown, func() time.Time { return now })

	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	l.Reset()
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}
