// Package slotpool implements SlotPool (spec.md §4.1): a fixed-capacity
// allocator of GPU timestamp query slots per logical device, grounded on
// OrbitVulkanLayer/TimerQueryPool.{h,cpp} — simplified to the two-state
// (FREE/PENDING) model spec.md §3 describes rather than the original's
// four-state reset-batching machine (the latter is carried forward
// separately as PullPendingResets, see SPEC_FULL.md §12).
package slotpool

import (
	"fmt"
	"sync"

	"github.com/nullsrc/tracecore/internal/collab"
	"github.com/nullsrc/tracecore/pkg/types"
)

type deviceState struct {
	mu            sync.Mutex
	slots         []types.SlotState
	nextFreeHint  int
	queryPool     collab.QueryPoolHandle
	pendingResets []uint32 // physical begin-slot indices awaiting a CmdResetQueryPool
}

// Pool is SlotPool. One Pool instance serves every device; each device
// gets its own lock (spec.md §5).
type Pool struct {
	capacity int
	mu       sync.RWMutex
	devices  map[collab.DeviceHandle]*deviceState
}

// New returns a Pool with capacity logical slots per device.
func New(capacity int) *Pool {
	return &Pool{
		capacity: capacity,
		devices:  make(map[collab.DeviceHandle]*deviceState),
	}
}

// InitDevice registers device with the pool, associated with an
// already-created GPU query pool able to hold 2*capacity physical
// queries. Must be called once before any other operation for device.
func (p *Pool) InitDevice(device collab.DeviceHandle, queryPool collab.QueryPoolHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices[device] = &deviceState{
		slots:     make([]types.SlotState, p.capacity),
		queryPool: queryPool,
	}
}

func (p *Pool) device(device collab.DeviceHandle) *deviceState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.devices[device]
	if !ok {
		panic(fmt.Sprintf("slotpool: device %v not initialized", device))
	}
	return d
}

// QueryPoolHandle returns the underlying GPU query pool for a device.
func (p *Pool) QueryPoolHandle(device collab.DeviceHandle) collab.QueryPoolHandle {
	return p.device(device).queryPool
}

// Reserve returns a FREE slot and marks it PENDING, searching from a
// next_free_hint cursor and wrapping once. ok is false when the pool is
// saturated — the caller must drop instrumentation for this recording
// and never stall the driver (spec.md §4.1 Failure).
func (p *Pool) Reserve(device collab.DeviceHandle) (slot collab.SlotIndex, ok bool) {
	d := p.device(device)
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.slots)
	for i := 0; i < n; i++ {
		idx := (d.nextFreeHint + i) % n
		if d.slots[idx] == types.SlotFree {
			d.slots[idx] = types.SlotPending
			d.nextFreeHint = (idx + 1) % n
			return collab.SlotIndex(idx), true
		}
	}
	return 0, false
}

// Release transitions slots from PENDING to FREE. Each slot must
// currently be PENDING. The caller is responsible for issuing (or
// deferring) the driver-level vkResetQueryPool for the physical indices
// of each slot — Release only updates pool bookkeeping.
func (p *Pool) Release(device collab.DeviceHandle, slots []collab.SlotIndex) {
	p.transition(device, slots, types.SlotFree, true)
}

// Rollback identically transitions slots to FREE, used when the query
// was never actually written because the recording was aborted. Same
// state transition as Release; separated so callers can state intent
// (spec.md §4.1 Rationale) — a rollback implies no GPU write occurred.
func (p *Pool) Rollback(device collab.DeviceHandle, slots []collab.SlotIndex) {
	p.transition(device, slots, types.SlotFree, false)
}

func (p *Pool) transition(device collab.DeviceHandle, slots []collab.SlotIndex, to types.SlotState, needsReset bool) {
	if len(slots) == 0 {
		return
	}
	d := p.device(device)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range slots {
		if d.slots[s] != types.SlotPending {
			panic(fmt.Sprintf("slotpool: slot %d not PENDING", s))
		}
		d.slots[s] = to
		if needsReset {
			d.pendingResets = append(d.pendingResets, uint32(s)*2)
		}
	}
}

// PullPendingResets returns and clears the physical begin-slot indices
// released since the last pull, for the caller to issue
// CmdResetQueryPool on the next command buffer it records (GPU resets
// must happen on a command buffer — SPEC_FULL.md §12, grounded on
// TimerQueryPool::PullSlotsToReset).
func (p *Pool) PullPendingResets(device collab.DeviceHandle) []uint32 {
	d := p.device(device)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pendingResets) == 0 {
		return nil
	}
	out := d.pendingResets
	d.pendingResets = nil
	return out
}

// Stats reports free/pending slot counts for device, the Go analogue of
// TimerQueryPool::PrintState (SPEC_FULL.md §12).
type Stats struct {
	Free    int
	Pending int
}

// Stats returns the current free/pending slot counts for device.
func (p *Pool) Stats(device collab.DeviceHandle) Stats {
	d := p.device(device)
	d.mu.Lock()
	defer d.mu.Unlock()
	var s Stats
	for _, st := range d.slots {
		if st == types.SlotFree {
			s.Free++
		} else {
			s.Pending++
		}
	}
	return s
}
