package detector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	destroyed *atomic.Int32
}

func (s *fakeSession) Destroy() {
	s.destroyed.Add(1)
}

func TestSessionPool_AcquireRelease(t *testing.T) {
	var destroyed atomic.Int32
	pool, err := NewSessionPool(2, func() (*fakeSession, error) {
		return &fakeSession{destroyed: &destroyed}, nil
	})
	require.NoError(t, err)

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, pool.Metrics().InUse)

	// pool exhausted: the context wins
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	pool.Release(a)
	pool.Release(b)
	metrics := pool.Metrics()
	assert.Equal(t, 0, metrics.InUse)
	assert.Equal(t, int64(2), metrics.TotalReleased)

	pool.Destroy()
	assert.Equal(t, int32(2), destroyed.Load())

	_, err = pool.Acquire(context.Background())
	assert.Error(t, err)
}

func TestSessionPool_InitFailureDestroysBuilt(t *testing.T) {
	var destroyed atomic.Int32
	calls := 0
	_, err := NewSessionPool(3, func() (*fakeSession, error) {
		calls++
		if calls == 3 {
			return nil, errors.New("boom")
		}
		return &fakeSession{destroyed: &destroyed}, nil
	})

	require.Error(t, err)
	assert.Equal(t, int32(2), destroyed.Load())
}
