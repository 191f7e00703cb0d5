// Package eventmerger implements the k-way, timestamp-ordered merge over
// per-source FIFOs described in spec.md §4.2, grounded on
// OrbitLinuxTracing/PerfEventProcessor.h's PerfEventQueue: a heap of
// (source, FIFO) pairs keyed on each FIFO's front timestamp, since
// individual sources are already internally sorted.
package eventmerger

// SourceID identifies an independent event producer — in production, the
// file descriptor of one perf_event_open ring buffer (spec.md §3).
type SourceID int64

// Event is an opaque timestamped record. Payload carries whatever the
// source collaborator decoded; the merger never inspects it.
type Event struct {
	TimestampNs uint64
	Payload     any
}
