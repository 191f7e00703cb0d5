// Package cbtracker implements CommandBufferTracker (spec.md §4.4),
// grounded on OrbitVulkanLayer/CommandBufferManager.{h,cpp}: it records
// per-command-buffer begin/end and debug-marker nesting, reserves
// timestamp slots from a slotpool.Pool, and maintains per-queue
// submission lists with CPU-side metadata.
package cbtracker

import (
	"fmt"
	"sync"

	"github.com/nullsrc/tracecore/internal/collab"
	"github.com/nullsrc/tracecore/internal/faults"
	"github.com/nullsrc/tracecore/internal/metrics"
	"github.com/nullsrc/tracecore/internal/slotpool"
	"github.com/nullsrc/tracecore/pkg/types"
	"go.uber.org/zap"
)

// SubmitInfo is one batch of command buffers submitted to a queue, the
// Go shape of a single VkSubmitInfo's command buffer list.
type SubmitInfo struct {
	CommandBuffers []collab.CommandBufferHandle
}

// Submission is an opaque handle to a pending QueueSubmission, returned
// by PreSubmit and threaded through to the matching PostSubmit call so
// the two can be correlated without guessing which queue entry is
// "the one just pushed" (spec.md §4.4 leaves this implicit; tracecore
// resolves it explicitly — see DESIGN.md).
type Submission struct {
	sub *queueSubmission
}

// Tracker is CommandBufferTracker. All operations are safe to call
// concurrently from arbitrary driver-invoked threads (spec.md §5).
type Tracker struct {
	mu sync.RWMutex

	poolToCBs  map[collab.CommandPoolHandle]map[collab.CommandBufferHandle]struct{}
	cbToDevice map[collab.CommandBufferHandle]collab.DeviceHandle
	cbState    map[collab.CommandBufferHandle]*cbState

	queueSubmissions  map[collab.QueueHandle][]*queueSubmission
	queueMarkerStacks map[collab.QueueHandle][]openMarker

	dispatch collab.VulkanDispatch
	slots    *slotpool.Pool
	capture  collab.CaptureState
	clk      collab.Clock
	counters *faults.Counters
	met      *metrics.Collectors
	logger   *zap.Logger
}

// New returns an empty Tracker wired to its collaborators. met may be
// nil to skip Prometheus updates (e.g. in tests).
func New(dispatch collab.VulkanDispatch, slots *slotpool.Pool, capture collab.CaptureState, clk collab.Clock, counters *faults.Counters, met *metrics.Collectors, logger *zap.Logger) *Tracker {
	return &Tracker{
		poolToCBs:         make(map[collab.CommandPoolHandle]map[collab.CommandBufferHandle]struct{}),
		cbToDevice:        make(map[collab.CommandBufferHandle]collab.DeviceHandle),
		cbState:           make(map[collab.CommandBufferHandle]*cbState),
		queueSubmissions:  make(map[collab.QueueHandle][]*queueSubmission),
		queueMarkerStacks: make(map[collab.QueueHandle][]openMarker),
		dispatch:          dispatch,
		slots:             slots,
		capture:           capture,
		clk:               clk,
		counters:          counters,
		met:               met,
		logger:            logger,
	}
}

// Track registers each command buffer under pool and device. Command
// buffers must be non-null.
func (t *Tracker) Track(device collab.DeviceHandle, pool collab.CommandPoolHandle, cbs []collab.CommandBufferHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.poolToCBs[pool]
	if !ok {
		set = make(map[collab.CommandBufferHandle]struct{})
		t.poolToCBs[pool] = set
	}
	for _, cb := range cbs {
		if cb == 0 {
			faults.Fatal(t.logger, "cbtracker: Track called with null command buffer")
		}
		set[cb] = struct{}{}
		t.cbToDevice[cb] = device
	}
}

// Untrack removes registrations for cbs. The device passed must match
// the device each cb was tracked under (spec.md §4.4 invariant); a
// mismatch is a contract violation. Empty pool sets are purged.
func (t *Tracker) Untrack(device collab.DeviceHandle, pool collab.CommandPoolHandle, cbs []collab.CommandBufferHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.poolToCBs[pool]
	for _, cb := range cbs {
		if registered, ok := t.cbToDevice[cb]; ok && registered != device {
			faults.Fatal(t.logger, "cbtracker: Untrack device mismatch", zap.Uintptr("cb", uintptr(cb)))
		}
		delete(t.cbToDevice, cb)
		delete(t.cbState, cb)
		if set != nil {
			delete(set, cb)
		}
	}
	if set != nil && len(set) == 0 {
		delete(t.poolToCBs, pool)
	}
}

// MarkBegin records the start of a command buffer recording (spec.md
// §4.4 mark_begin).
func (t *Tracker) MarkBegin(cb collab.CommandBufferHandle) {
	device, ok := t.lookupDevice(cb)
	if !ok {
		faults.Fatal(t.logger, "cbtracker: MarkBegin on untracked command buffer", zap.Uintptr("cb", uintptr(cb)))
	}

	t.mu.Lock()
	if _, exists := t.cbState[cb]; exists {
		t.mu.Unlock()
		faults.Fatal(t.logger, "cbtracker: MarkBegin on command buffer already being recorded", zap.Uintptr("cb", uintptr(cb)))
		return
	}
	t.cbState[cb] = &cbState{}
	t.mu.Unlock()

	if !t.capture.IsCapturing() {
		return
	}

	pool := t.slots.QueryPoolHandle(device)
	for _, base := range t.slots.PullPendingResets(device) {
		t.dispatch.CmdResetQueryPool(device, cb, pool, base, 2)
	}

	slot, ok := t.slots.Reserve(device)
	if !ok {
		t.dropInstrumentation()
		return
	}
	t.dispatch.CmdWriteTimestamp(device, cb, types.TopOfPipe, pool, uint32(slot)*2)

	t.mu.Lock()
	t.cbState[cb].BeginSlot = &slot
	t.mu.Unlock()
}

// MarkEnd records the end of a command buffer recording (spec.md §4.4
// mark_end). Runs under a reader lock only, per spec.md §5's Observation:
// writing end_slot on an existing CommandBufferState is safe under a
// reader lock because Vulkan forbids concurrent recording on one command
// buffer.
func (t *Tracker) MarkEnd(cb collab.CommandBufferHandle) {
	t.mu.RLock()
	st, ok := t.cbState[cb]
	device := t.cbToDevice[cb]
	t.mu.RUnlock()
	if !ok {
		faults.Fatal(t.logger, "cbtracker: MarkEnd on unknown command buffer", zap.Uintptr("cb", uintptr(cb)))
		return
	}
	if !t.capture.IsCapturing() || st.BeginSlot == nil {
		return
	}

	pool := t.slots.QueryPoolHandle(device)
	slot, ok := t.slots.Reserve(device)
	if !ok {
		t.dropInstrumentation()
		return
	}
	t.dispatch.CmdWriteTimestamp(device, cb, types.BottomOfPipe, pool, uint32(slot)*2)

	t.mu.RLock()
	st.EndSlot = &slot
	t.mu.RUnlock()
}

// MarkerBegin appends a BEGIN debug marker to cb's recording and, if
// capturing, reserves and writes a timestamp for it (spec.md §4.4
// marker_begin).
func (t *Tracker) MarkerBegin(cb collab.CommandBufferHandle, text string) {
	device, idx, ok := t.appendMarker(cb, marker{Kind: types.MarkerBegin, Text: text})
	if !ok {
		faults.Fatal(t.logger, "cbtracker: MarkerBegin on unknown command buffer", zap.Uintptr("cb", uintptr(cb)))
		return
	}
	t.finishMarkerSlot(cb, device, idx, types.TopOfPipe)
}

// MarkerEnd appends an END debug marker to cb's recording and, if
// capturing, reserves and writes a timestamp for it (spec.md §4.4
// marker_end).
func (t *Tracker) MarkerEnd(cb collab.CommandBufferHandle) {
	device, idx, ok := t.appendMarker(cb, marker{Kind: types.MarkerEnd})
	if !ok {
		faults.Fatal(t.logger, "cbtracker: MarkerEnd on unknown command buffer", zap.Uintptr("cb", uintptr(cb)))
		return
	}
	t.finishMarkerSlot(cb, device, idx, types.BottomOfPipe)
}

func (t *Tracker) appendMarker(cb collab.CommandBufferHandle, m marker) (device collab.DeviceHandle, idx int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, exists := t.cbState[cb]
	if !exists {
		return 0, 0, false
	}
	st.Markers = append(st.Markers, m)
	return t.cbToDevice[cb], len(st.Markers) - 1, true
}

func (t *Tracker) finishMarkerSlot(cb collab.CommandBufferHandle, device collab.DeviceHandle, idx int, stage types.PipelineStage) {
	if !t.capture.IsCapturing() {
		return
	}
	pool := t.slots.QueryPoolHandle(device)
	slot, ok := t.slots.Reserve(device)
	if !ok {
		t.dropInstrumentation()
		return
	}
	t.dispatch.CmdWriteTimestamp(device, cb, stage, pool, uint32(slot)*2)

	t.mu.Lock()
	if st, exists := t.cbState[cb]; exists && idx < len(st.Markers) {
		st.Markers[idx].Slot = &slot
	} else {
		// CB was reset or erased between reservation and write-back:
		// the slot was reserved but never recorded anywhere, so roll
		// it back rather than leaking it PENDING forever.
		t.mu.Unlock()
		t.slots.Rollback(device, []collab.SlotIndex{slot})
		return
	}
	t.mu.Unlock()
}

func (t *Tracker) dropInstrumentation() {
	if t.counters != nil {
		t.counters.DropInstrumentation()
	}
	if t.met != nil {
		t.met.InstrumentationDrops.Inc()
	}
}

func (t *Tracker) lookupDevice(cb collab.CommandBufferHandle) (collab.DeviceHandle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.cbToDevice[cb]
	return d, ok
}

// PreSubmit builds a QueueSubmission from submits if capturing, records
// CPU-side pre-submit metadata, and enqueues it as pending on queue
// (spec.md §4.4 pre_submit). Returns nil when not capturing — callers
// must pass that nil through to the matching PostSubmit call.
func (t *Tracker) PreSubmit(queue collab.QueueHandle, submits []SubmitInfo) *Submission {
	if !t.capture.IsCapturing() {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	qs := &queueSubmission{
		Meta: submissionMeta{
			ThreadID:       t.clk.CurrentThreadID(),
			PreSubmitCPUNs: t.clk.MonotonicNs(),
		},
	}
	for _, si := range submits {
		var built submitInfo
		for _, cb := range si.CommandBuffers {
			st, ok := t.cbState[cb]
			if !ok || st.BeginSlot == nil {
				// Never mark_begin'd (or began without capture) —
				// skipped silently (spec.md §4.4 edge cases).
				continue
			}
			built.CommandBuffers = append(built.CommandBuffers, submittedCB{
				CB:        cb,
				Device:    t.cbToDevice[cb],
				BeginSlot: st.BeginSlot,
				EndSlot:   st.EndSlot,
			})
		}
		qs.SubmitInfos = append(qs.SubmitInfos, built)
	}
	t.queueSubmissions[queue] = append(t.queueSubmissions[queue], qs)
	return &Submission{sub: qs}
}

// PostSubmit finalizes pending's CPU-side metadata (if pending is
// non-nil) and, for every command buffer named in submits — regardless
// of capture state, since markers are always recorded structurally —
// walks its marker list to update queue's marker stack, attaching
// completed markers to pending when one exists (spec.md §4.4
// post_submit). Every named command buffer's state is erased
// afterward.
func (t *Tracker) PostSubmit(queue collab.QueueHandle, submits []SubmitInfo, pending *Submission) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pending != nil {
		pending.sub.Meta.PostSubmitCPUNs = t.clk.MonotonicNs()
	}

	stack := t.queueMarkerStacks[queue]
	for _, si := range submits {
		for _, cb := range si.CommandBuffers {
			st, ok := t.cbState[cb]
			if !ok {
				continue
			}
			for _, m := range st.Markers {
				switch m.Kind {
				case types.MarkerBegin:
					stack = append(stack, openMarker{
						Text:      m.Text,
						Depth:     len(stack),
						BeginSlot: m.Slot,
					})
					if pending != nil {
						stack[len(stack)-1].BeginMeta = pending.sub.Meta
						pending.sub.NumBeginMarkers++
					}
				case types.MarkerEnd:
					if len(stack) == 0 {
						// Unmatched END on an empty stack: undefined
						// behavior of the instrumented app, must not
						// crash the layer (spec.md §3, §4.4).
						continue
					}
					top := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					if pending != nil {
						pending.sub.CompletedMarkers = append(pending.sub.CompletedMarkers, markerState{
							Text:      top.Text,
							Depth:     top.Depth,
							HasBegin:  top.BeginSlot != nil,
							BeginMeta: top.BeginMeta,
							BeginSlot: top.BeginSlot,
							HasEnd:    true,
							EndMeta:   pending.sub.Meta,
							EndSlot:   m.Slot,
						})
					}
				}
			}
			delete(t.cbState, cb)
		}
	}
	t.queueMarkerStacks[queue] = stack
}

// ResetCB rolls back any reserved begin/end slots via SlotPool.Rollback
// and erases cb's state. No-op if cb has no state (spec.md §4.4
// reset_cb).
func (t *Tracker) ResetCB(cb collab.CommandBufferHandle) {
	t.mu.Lock()
	st, ok := t.cbState[cb]
	if !ok {
		t.mu.Unlock()
		return
	}
	device := t.cbToDevice[cb]
	delete(t.cbState, cb)
	t.mu.Unlock()

	var toRollback []collab.SlotIndex
	if st.BeginSlot != nil {
		toRollback = append(toRollback, *st.BeginSlot)
	}
	if st.EndSlot != nil {
		toRollback = append(toRollback, *st.EndSlot)
	}
	for _, m := range st.Markers {
		if m.Slot != nil {
			toRollback = append(toRollback, *m.Slot)
		}
	}
	if len(toRollback) > 0 {
		t.slots.Rollback(device, toRollback)
	}
}

// ResetPool resets every command buffer associated with pool (spec.md
// §4.4 reset_pool).
func (t *Tracker) ResetPool(pool collab.CommandPoolHandle) {
	t.mu.RLock()
	set := t.poolToCBs[pool]
	cbs := make([]collab.CommandBufferHandle, 0, len(set))
	for cb := range set {
		cbs = append(cbs, cb)
	}
	t.mu.RUnlock()
	for _, cb := range cbs {
		t.ResetCB(cb)
	}
}

// String is used only in panics/log fields for debugging command pool
// identity.
func (t *Tracker) String() string {
	return fmt.Sprintf("cbtracker.Tracker{%d pools}", len(t.poolToCBs))
}

// SubmittedCBView is a read-only view of one SubmittedCommandBuffer, for
// SubmissionCompleter to poll without reaching into Tracker internals.
type SubmittedCBView struct {
	Device    collab.DeviceHandle
	BeginSlot *collab.SlotIndex
	EndSlot   *collab.SlotIndex
}

// MarkerStateView is a read-only view of one MarkerState. BeginThreadID/
// BeginPreSubmitCPUNs/BeginPostSubmitCPUNs are the CPU-side metadata of
// the submission whose post_submit call pushed this marker's BEGIN onto
// the queue's marker stack (spec.md §4.5 step 5 "begin_meta?") — only
// meaningful when HasBegin, and distinct from the completed submission's
// own meta when the BEGIN and END land in different submissions.
type MarkerStateView struct {
	Text                 string
	Depth                int
	HasBegin             bool
	BeginSlot            *collab.SlotIndex
	BeginThreadID        int32
	BeginPreSubmitCPUNs  uint64
	BeginPostSubmitCPUNs uint64
	HasEnd               bool
	EndSlot              *collab.SlotIndex
}

// QueueSubmissionView is a read-only view of the oldest still-pending
// QueueSubmission on a queue, handed to SubmissionCompleter (spec.md
// §4.5) so it can poll GPU query results without SubmissionCompleter
// needing to know cbtracker's internal submission representation.
type QueueSubmissionView struct {
	CommandBuffers  []SubmittedCBView
	ThreadID        int32
	PreSubmitCPUNs  uint64
	PostSubmitCPUNs uint64
	Markers         []MarkerStateView
	NumBeginMarkers int
}

// FrontSubmission returns a view of the oldest pending QueueSubmission
// for queue, without removing it, and the device it was submitted to.
// ok is false when queue has no pending submissions.
func (t *Tracker) FrontSubmission(queue collab.QueueHandle) (view QueueSubmissionView, device collab.DeviceHandle, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	list := t.queueSubmissions[queue]
	if len(list) == 0 {
		return QueueSubmissionView{}, 0, false
	}
	qs := list[0]

	view = QueueSubmissionView{
		ThreadID:        qs.Meta.ThreadID,
		PreSubmitCPUNs:  qs.Meta.PreSubmitCPUNs,
		PostSubmitCPUNs: qs.Meta.PostSubmitCPUNs,
		NumBeginMarkers: qs.NumBeginMarkers,
	}
	for _, si := range qs.SubmitInfos {
		for _, cb := range si.CommandBuffers {
			if device == 0 {
				device = cb.Device
			}
			view.CommandBuffers = append(view.CommandBuffers, SubmittedCBView{
				Device:    cb.Device,
				BeginSlot: cb.BeginSlot,
				EndSlot:   cb.EndSlot,
			})
		}
	}
	for _, m := range qs.CompletedMarkers {
		view.Markers = append(view.Markers, MarkerStateView{
			Text:                 m.Text,
			Depth:                m.Depth,
			HasBegin:             m.HasBegin,
			BeginSlot:            m.BeginSlot,
			BeginThreadID:        m.BeginMeta.ThreadID,
			BeginPreSubmitCPUNs:  m.BeginMeta.PreSubmitCPUNs,
			BeginPostSubmitCPUNs: m.BeginMeta.PostSubmitCPUNs,
			HasEnd:               m.HasEnd,
			EndSlot:              m.EndSlot,
		})
	}
	return view, device, true
}

// PopSubmission removes the oldest pending QueueSubmission for queue,
// called by SubmissionCompleter once it has fully resolved and emitted
// it (spec.md §4.5).
func (t *Tracker) PopSubmission(queue collab.QueueHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.queueSubmissions[queue]
	if len(list) == 0 {
		return
	}
	if len(list) == 1 {
		delete(t.queueSubmissions, queue)
		return
	}
	t.queueSubmissions[queue] = list[1:]
}

// Queues returns the set of queues with at least one pending
// submission, for SubmissionCompleter's polling loop to iterate.
func (t *Tracker) Queues() []collab.QueueHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]collab.QueueHandle, 0, len(t.queueSubmissions))
	for q, list := range t.queueSubmissions {
		if len(list) > 0 {
			out = append(out, q)
		}
	}
	return out
}
