// Package collab declares the external collaborators spec.md §6 leaves
// out of scope: Vulkan dispatch, capture-state, emit, and clock. Only
// their interfaces live here; concrete adapters (the real dispatch
// table, the real Vulkan physical-device calibration, ...) are owned by
// whatever embeds this module into an actual Vulkan layer. tracecore
// ships adapters only for the pieces explicitly brought in scope by
// SPEC_FULL.md (transport, perf ring buffers).
package collab

import "github.com/nullsrc/tracecore/pkg/types"

// SlotIndex identifies a logical query slot. Logical slot i owns the
// physical query indices 2*i and 2*i+1; its timestamp is written at 2*i
// and the pair is reset together. A command buffer's begin and end each
// take their own logical slot.
type SlotIndex uint32

// DeviceHandle opaquely identifies a logical GPU device. The core never
// interprets it beyond using it as a map key.
type DeviceHandle uintptr

// QueryPoolHandle opaquely identifies the underlying GPU query pool for
// a device, as returned by SlotPool.QueryPoolHandle.
type QueryPoolHandle uintptr

// CommandBufferHandle opaquely identifies a driver command buffer.
type CommandBufferHandle uintptr

// CommandPoolHandle opaquely identifies a driver command pool.
type CommandPoolHandle uintptr

// QueueHandle opaquely identifies a driver submission queue.
type QueueHandle uintptr

// VulkanDispatch is the driver dispatch table collaborator (§6): the
// handful of Vulkan entry points the core issues instrumentation
// through. A real implementation forwards to the next layer down in the
// driver's dispatch chain; tests use a fake.
type VulkanDispatch interface {
	// CmdWriteTimestamp emits a GPU timestamp query write into cb's
	// command stream at the given pipeline stage, targeting the
	// physical slot index within pool.
	CmdWriteTimestamp(device DeviceHandle, cb CommandBufferHandle, stage types.PipelineStage, pool QueryPoolHandle, physicalSlot uint32)

	// CmdResetQueryPool issues a GPU-side query pool reset for count
	// consecutive physical slots starting at first, recorded on cb (GPU
	// resets must happen on a command buffer, not from the host).
	CmdResetQueryPool(device DeviceHandle, cb CommandBufferHandle, pool QueryPoolHandle, first uint32, count uint32)

	// CreateQueryPool allocates a query pool able to hold count
	// timestamp queries and returns its handle.
	CreateQueryPool(device DeviceHandle, count uint32) (QueryPoolHandle, error)

	// ResetQueryPoolHost resets count consecutive physical slots from
	// the host, used only during pool initialization before any
	// recording has happened.
	ResetQueryPoolHost(device DeviceHandle, pool QueryPoolHandle, first uint32, count uint32)

	// GetQueryPoolResult polls a single 64-bit timestamp query result.
	// ok is false when the query is not yet available; err is non-nil
	// only for a driver-reported failure distinct from not-ready.
	GetQueryPoolResult(device DeviceHandle, pool QueryPoolHandle, physicalSlot uint32) (value uint64, ok bool, err error)
}

// CaptureState is the capture-state collaborator (§6): whether the
// profiler is currently recording. Polled at every instrumentation entry
// point; spec.md §9 "Capture toggle race" relies on each poll being
// independent.
type CaptureState interface {
	IsCapturing() bool
}

// SubmissionRecord is the payload the Emit collaborator writes: the
// fully-resolved, timestamp-scaled result of one completed queue
// submission (spec.md §4.5).
type SubmissionRecord struct {
	ThreadID        int32
	PreSubmitCPUNs  uint64
	PostSubmitCPUNs uint64
	GPUCPUOffsetNs  int64
	CommandBuffers  []CommandBufferTiming
	Markers         []MarkerTiming
	NumBeginMarkers int
}

// CommandBufferTiming is one command buffer's resolved GPU span.
type CommandBufferTiming struct {
	BeginGPUNs uint64
	EndGPUNs   uint64
}

// MarkerTiming is one completed debug marker's resolved GPU span.
// BeginGPUNs is absent (HasBegin==false) when the BEGIN got no slot:
// capture was off when it was recorded, or the slot pool was saturated.
// EndGPUNs is 0 when the END got no slot. BeginThreadID/BeginPreSubmitCPUNs/
// BeginPostSubmitCPUNs carry the CPU-side metadata of whichever
// submission's post_submit recorded the BEGIN (spec.md §4.5 step 5
// "begin_meta?") — only meaningful when HasBegin, since a marker's BEGIN
// and END can land in different submissions when the queue's marker
// stack outlives a single post_submit call.
type MarkerTiming struct {
	Text                 string
	Depth                int
	HasBegin             bool
	BeginGPUNs           uint64
	BeginThreadID        int32
	BeginPreSubmitCPUNs  uint64
	BeginPostSubmitCPUNs uint64
	EndGPUNs             uint64
}

// Emitter is the Emit collaborator (§6): it owns the wire format and
// transport for completed records, and interns repeated strings (marker
// text) to keys.
type Emitter interface {
	Write(record SubmissionRecord) error
	InternString(text string) uint64
}

// Clock is the clock collaborator (§6): the monotonic time source, the
// calling thread id, and each device's GPU-tick-to-nanosecond scaling
// and CPU/GPU offset.
type Clock interface {
	MonotonicNs() uint64
	CurrentThreadID() int32
	TimestampPeriodNs(device DeviceHandle) float64
	CPUGPUOffsetNs(device DeviceHandle) int64
}
