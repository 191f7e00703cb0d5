package cbtracker

import (
	"github.com/nullsrc/tracecore/internal/collab"
	"github.com/nullsrc/tracecore/pkg/types"
)

// marker is one recorded BEGIN/END event within a command buffer's
// recording (spec.md §3 CommandBufferState.Markers). Text is only
// meaningful for BEGIN. Slot is nil when capture was off at the instant
// this specific op ran (spec.md §9 "capture toggle race").
type marker struct {
	Kind types.MarkerEventKind
	Text string
	Slot *collab.SlotIndex
}

// cbState is CommandBufferState (spec.md §3): optional begin/end slot for
// the command buffer's own span, plus the ordered debug-marker log.
type cbState struct {
	BeginSlot *collab.SlotIndex
	EndSlot   *collab.SlotIndex
	Markers   []marker
}

// submittedCB is one SubmittedCommandBuffer within a SubmitInfo
// (spec.md §3). CB records the command buffer's handle beyond the
// literal {begin_slot, end_slot} pair spec.md §3 names; PostSubmit does
// not read it, it walks the handles in its own submits argument.
type submittedCB struct {
	CB        collab.CommandBufferHandle
	Device    collab.DeviceHandle
	BeginSlot *collab.SlotIndex
	EndSlot   *collab.SlotIndex
}

// submitInfo is one ordered batch of command buffers within a
// QueueSubmission.
type submitInfo struct {
	CommandBuffers []submittedCB
}

// submissionMeta is QueueSubmission.meta (spec.md §3).
type submissionMeta struct {
	ThreadID        int32
	PreSubmitCPUNs  uint64
	PostSubmitCPUNs uint64
}

// markerState is MarkerState (spec.md §3): a completed (or still-open)
// debug marker span, carrying the stack depth at which its BEGIN was
// observed and optional begin/end info once resolved.
type markerState struct {
	Text      string
	Depth     int
	HasBegin  bool
	BeginMeta submissionMeta
	BeginSlot *collab.SlotIndex
	HasEnd    bool
	EndMeta   submissionMeta
	EndSlot   *collab.SlotIndex
}

// queueSubmission is QueueSubmission (spec.md §3): created at pre-submit,
// finalized at post-submit, erased once all its slots are drained.
type queueSubmission struct {
	SubmitInfos      []submitInfo
	Meta             submissionMeta
	CompletedMarkers []markerState
	NumBeginMarkers  int
}

// openMarker is one entry on a queue's marker stack: a BEGIN observed on
// this queue that has not yet been matched by an END.
type openMarker struct {
	Text      string
	Depth     int
	BeginMeta submissionMeta
	BeginSlot *collab.SlotIndex
}
