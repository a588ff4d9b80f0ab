package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAllowWithinBurst(t *testing.T) {
	m := NewMemory(1, 3)
	defer m.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "actor-1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst should be admitted", i+1)
	}

	ok, err := m.Allow(ctx, "actor-1")
	require.NoError(t, err)
	assert.False(t, ok, "request beyond burst should be rejected")
}

func TestMemoryKeysAreIndependent(t *testing.T) {
	m := NewMemory(1, 1)
	defer m.Close()

	ctx := context.Background()
	ok, err := m.Allow(ctx, "actor-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Allow(ctx, "actor-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Allow(ctx, "actor-2")
	require.NoError(t, err)
	assert.True(t, ok, "a different actor has its own bucket")
}

func TestNoopAlwaysAllows(t *testing.T) {
	var l Limiter = Noop{}
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(context.Background(), "anyone")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}
