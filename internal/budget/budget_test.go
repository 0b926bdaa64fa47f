package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerSplitsTotal(t *testing.T) {
	m := NewManager(10)
	assert.Equal(t, int64(10), m.Total())
	assert.Equal(t, int64(4), m.For(DomainDiscovery, 0).Capacity())
	assert.Equal(t, int64(3), m.For(DomainMatch, 0).Capacity())
	assert.Equal(t, int64(3), m.For(DomainTransform, 0).Capacity())
}

func TestNewManagerTinyTotal(t *testing.T) {
	// Every standard domain keeps at least one slot.
	m := NewManager(1)
	assert.Equal(t, int64(1), m.For(DomainDiscovery, 0).Capacity())
	assert.Equal(t, int64(1), m.For(DomainMatch, 0).Capacity())
}

func TestForCreatesLazily(t *testing.T) {
	m := NewManager(8)

	d := m.For("hashing", 5)
	assert.Equal(t, int64(5), d.Capacity())
	assert.Same(t, d, m.For("hashing", 99), "second For returns the existing domain")

	// Unregistered domains get a small default rather than failing.
	assert.Equal(t, int64(defaultDomainCapacity), m.For("adhoc", 0).Capacity())
}

func TestDomainBoundsConcurrency(t *testing.T) {
	m := NewManager(8)
	d := m.For("bounded", 2)

	require.True(t, d.TryAcquire())
	require.True(t, d.TryAcquire())
	assert.False(t, d.TryAcquire(), "capacity exhausted")
	assert.Equal(t, int64(2), d.Active())

	d.Release()
	assert.Equal(t, int64(1), d.Active())
	assert.True(t, d.TryAcquire())

	d.Release()
	d.Release()
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	m := NewManager(8)
	d := m.For("serial", 1)

	require.NoError(t, d.Acquire(context.Background()))

	acquired := make(chan struct{})
	go func() {
		if err := d.Acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, int64(1), d.Pending())

	d.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("release did not unblock the waiter")
	}
	d.Release()
}

func TestAcquireHonorsContext(t *testing.T) {
	m := NewManager(8)
	d := m.For("stuck", 1)
	require.NoError(t, d.Acquire(context.Background()))
	defer d.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(0), d.Pending())
}

func TestInFlight(t *testing.T) {
	m := NewManager(8)
	a := m.For("a", 2)
	b := m.For("b", 2)

	require.True(t, a.TryAcquire())
	require.True(t, b.TryAcquire())
	require.True(t, b.TryAcquire())
	assert.Equal(t, int64(3), m.InFlight())

	a.Release()
	b.Release()
	b.Release()
	assert.Equal(t, int64(0), m.InFlight())
}

func TestSetBudgetReplacesSemaphore(t *testing.T) {
	m := NewManager(8)
	d := m.For("resize", 1)
	require.True(t, d.TryAcquire())
	assert.False(t, d.TryAcquire())

	// The new capacity applies to subsequent acquisitions; the slot held
	// across the resize stays admitted.
	m.SetBudget("resize", 3)
	assert.Equal(t, int64(3), d.Capacity())
	assert.True(t, d.TryAcquire())
	assert.True(t, d.TryAcquire())
	assert.True(t, d.TryAcquire())
	assert.False(t, d.TryAcquire())
}

func TestReleaseAfterResizeDrainsOldSemaphore(t *testing.T) {
	m := NewManager(8)
	d := m.For("resize", 1)
	require.NoError(t, d.Acquire(context.Background()))

	m.SetBudget("resize", 5)

	// The straggler's slot belongs to the retired semaphore; releasing it
	// must not over-credit the replacement.
	d.Release()
	assert.Equal(t, int64(0), d.Active())

	// The new capacity is fully usable afterwards.
	for i := 0; i < 5; i++ {
		require.True(t, d.TryAcquire())
	}
	assert.False(t, d.TryAcquire())
	for i := 0; i < 5; i++ {
		d.Release()
	}
}

func TestSetBudgetUnknownDomain(t *testing.T) {
	m := NewManager(8)
	m.SetBudget("fresh", 4)
	assert.Equal(t, int64(4), m.For("fresh", 0).Capacity())
}

func TestSnapshot(t *testing.T) {
	m := NewManager(10)
	d := m.For(DomainDiscovery, 0)
	require.True(t, d.TryAcquire())
	defer d.Release()

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap[DomainDiscovery].Active)
	assert.Equal(t, int64(4), snap[DomainDiscovery].Capacity)
	assert.Contains(t, snap, DomainMatch)
	assert.Contains(t, snap, DomainTransform)
}

func TestWaitIdle(t *testing.T) {
	m := NewManager(8)
	d := m.For("drain", 1)
	require.NoError(t, d.Acquire(context.Background()))

	go func() {
		time.Sleep(20 * time.Millisecond)
		d.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.WaitIdle(ctx, "drain"))
}

func TestWaitIdleTimesOut(t *testing.T) {
	m := NewManager(8)
	d := m.For("held", 1)
	require.NoError(t, d.Acquire(context.Background()))
	defer d.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.WaitIdle(ctx, "held"), context.DeadlineExceeded)
}
