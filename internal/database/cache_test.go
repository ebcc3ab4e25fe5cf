package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/koustreak/pgtable/internal/backoff"
	"github.com/koustreak/pgtable/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(d *fakeDriver, rec *sleepRecorder) *Cache {
	return NewCache(d,
		WithBackoff(backoff.Config{Initial: 100 * time.Millisecond, Factor: 2, Steps: 3}),
		WithSleep(rec.sleep),
	)
}

func TestCache_AcquireReusesSession(t *testing.T) {
	d := &fakeDriver{}
	c := newTestCache(d, &sleepRecorder{})
	ctx := context.Background()

	s1, err := c.Acquire(ctx, testIdentity())
	require.NoError(t, err)
	s2, err := c.Acquire(ctx, testIdentity())
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, d.connects)
	assert.Equal(t, 1, c.Len())
}

func TestCache_KeyedByHostAndDatabase(t *testing.T) {
	d := &fakeDriver{}
	c := newTestCache(d, &sleepRecorder{})
	ctx := context.Background()

	a := testIdentity()
	b := testIdentity()
	b.DBName = "other"
	p := testIdentity()
	p.Port = 5433

	for _, id := range []Identity{a, b, p, a} {
		_, err := c.Acquire(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, d.connects)
	assert.Equal(t, 3, c.Len())
}

func TestCache_InvalidateClosesAndEvicts(t *testing.T) {
	d := &fakeDriver{}
	c := newTestCache(d, &sleepRecorder{})
	ctx := context.Background()

	s1, err := c.Acquire(ctx, testIdentity())
	require.NoError(t, err)

	c.Invalidate(ctx, testIdentity())
	assert.True(t, d.conns[0].closed)
	assert.Equal(t, 0, c.Len())

	s2, err := c.Acquire(ctx, testIdentity())
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.Equal(t, 2, d.connects)

	// Invalidating an unknown identity is a no-op.
	other := testIdentity()
	other.DBName = "missing"
	c.Invalidate(ctx, other)
}

func TestCache_AcquireFreshBacksOff(t *testing.T) {
	d := &fakeDriver{connectErrs: []error{nil, errTransient, errTransient}}
	rec := &sleepRecorder{}
	c := newTestCache(d, rec)
	ctx := context.Background()

	_, err := c.Acquire(ctx, testIdentity())
	require.NoError(t, err)

	s, err := c.AcquireFresh(ctx, testIdentity())
	require.NoError(t, err)
	assert.Same(t, d.conns[1], s.conn)
	assert.True(t, d.conns[0].closed)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.slept)
}

func TestCache_RetriesForeverWithoutBudget(t *testing.T) {
	connectErrs := make([]error, 50)
	for i := range connectErrs {
		connectErrs[i] = errTransient
	}
	d := &fakeDriver{connectErrs: connectErrs}
	rec := &sleepRecorder{}
	c := newTestCache(d, rec)

	_, err := c.AcquireFresh(context.Background(), testIdentity())
	require.NoError(t, err)
	require.Len(t, rec.slept, 50)

	// Holds at the ceiling after the configured steps.
	assert.Equal(t, 800*time.Millisecond, rec.slept[49])
}

func TestCache_RetryBudgetExhausted(t *testing.T) {
	d := &fakeDriver{connectErrs: []error{errTransient, errTransient, errTransient, errTransient}}
	rec := &sleepRecorder{}
	c := newTestCache(d, rec)

	id := testIdentity()
	id.Retries = 2
	_, err := c.AcquireFresh(context.Background(), id)

	require.Error(t, err)
	assert.True(t, errs.IsConnectionFailed(err))
	assert.Contains(t, err.Error(), "giving up")
	assert.Len(t, rec.slept, 2)
	assert.Equal(t, 0, c.Len())
}

func TestCache_NonTransientConnectErrorIsNotRetried(t *testing.T) {
	auth := errs.New(errs.ErrKindPermissionDenied, "password authentication failed")
	d := &fakeDriver{connectErrs: []error{auth}}
	rec := &sleepRecorder{}
	c := newTestCache(d, rec)

	_, err := c.Acquire(context.Background(), testIdentity())
	assert.True(t, errs.IsPermissionDenied(err))
	assert.Empty(t, rec.slept)
}

func TestCache_ConcurrentAcquireSharesOneConnection(t *testing.T) {
	d := &fakeDriver{}
	c := newTestCache(d, &sleepRecorder{})

	var wg sync.WaitGroup
	sessions := make([]*Session, 16)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := c.Acquire(context.Background(), testIdentity())
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, d.connects)
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
}

func TestCache_Close(t *testing.T) {
	d := &fakeDriver{}
	c := newTestCache(d, &sleepRecorder{})
	ctx := context.Background()

	other := testIdentity()
	other.DBName = "other"
	_, _ = c.Acquire(ctx, testIdentity())
	_, _ = c.Acquire(ctx, other)

	c.Close(ctx)
	assert.Equal(t, 0, c.Len())
	for _, conn := range d.conns {
		assert.True(t, conn.closed)
	}
}

func TestSleep_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Hour)
	assert.True(t, errs.IsTimeout(err))
}
