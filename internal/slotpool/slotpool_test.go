package slotpool_test

import (
	"testing"

	"github.com/nullsrc/tracecore/internal/collab"
	"github.com/nullsrc/tracecore/internal/slotpool"
	"github.com/stretchr/testify/require"
)

const device = collab.DeviceHandle(1)

func newPool(capacity int) *slotpool.Pool {
	p := slotpool.New(capacity)
	p.InitDevice(device, collab.QueryPoolHandle(42))
	return p
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	p := newPool(4)
	before := p.Stats(device)

	slot, ok := p.Reserve(device)
	require.True(t, ok)

	p.Release(device, []collab.SlotIndex{slot})

	after := p.Stats(device)
	require.Equal(t, before, after)
}

func TestReserveRollbackRoundTrip(t *testing.T) {
	p := newPool(4)
	before := p.Stats(device)

	slot, ok := p.Reserve(device)
	require.True(t, ok)

	p.Rollback(device, []collab.SlotIndex{slot})

	after := p.Stats(device)
	require.Equal(t, before, after)
}

func TestReserveSaturation(t *testing.T) {
	p := newPool(2)
	_, ok1 := p.Reserve(device)
	_, ok2 := p.Reserve(device)
	_, ok3 := p.Reserve(device)

	require.True(t, ok1)
	require.True(t, ok2)
	require.False(t, ok3, "third reservation must fail once capacity is exhausted")
}

func TestReleaseSchedulesPendingReset(t *testing.T) {
	p := newPool(4)
	slot, _ := p.Reserve(device)

	require.Empty(t, p.PullPendingResets(device))

	p.Release(device, []collab.SlotIndex{slot})

	resets := p.PullPendingResets(device)
	require.Equal(t, []uint32{uint32(slot) * 2}, resets)
	require.Empty(t, p.PullPendingResets(device), "pending resets must be cleared after pulling")
}

func TestRollbackDoesNotScheduleReset(t *testing.T) {
	p := newPool(4)
	slot, _ := p.Reserve(device)
	p.Rollback(device, []collab.SlotIndex{slot})

	require.Empty(t, p.PullPendingResets(device))
}

func TestTransitionPanicsOnDoubleRelease(t *testing.T) {
	p := newPool(4)
	slot, _ := p.Reserve(device)
	p.Release(device, []collab.SlotIndex{slot})

	require.Panics(t, func() {
		p.Release(device, []collab.SlotIndex{slot})
	})
}

func TestStatsReflectsFreeAndPending(t *testing.T) {
	p := newPool(4)
	p.Reserve(device)
	p.Reserve(device)

	stats := p.Stats(device)
	require.Equal(t, slotpool.Stats{Free: 2, Pending: 2}, stats)
}
