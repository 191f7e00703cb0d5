// Package delayed implements DelayedEventProcessor (spec.md §4.3): it
// wraps an EventMerger and withholds events until they are older than
// SafetyDelay, guaranteeing no out-of-order release under bounded
// cross-source skew, then dispatches them synchronously to visitors.
package delayed

import (
	"time"

	"github.com/nullsrc/tracecore/internal/eventmerger"
	"github.com/nullsrc/tracecore/internal/faults"
	"github.com/nullsrc/tracecore/internal/metrics"
)

// Visitor receives each dispatched event exactly once, in registration
// order (spec.md §4.3).
type Visitor interface {
	VisitEvent(source eventmerger.SourceID, event eventmerger.Event)
}

// Processor is DelayedEventProcessor.
type Processor struct {
	merger            *eventmerger.EventMerger
	safetyDelay       time.Duration
	lastProcessedTsNs uint64
	visitors          []Visitor
	counters          *faults.Counters
	metrics           *metrics.Collectors
}

// New returns a Processor gating dispatch by safetyDelay. counters and m
// may be nil; when non-nil, out-of-order discards are recorded on both.
func New(safetyDelay time.Duration, counters *faults.Counters, m *metrics.Collectors) *Processor {
	return &Processor{
		merger:      eventmerger.New(),
		safetyDelay: safetyDelay,
		counters:    counters,
		metrics:     m,
	}
}

// Add forwards an event to the underlying EventMerger.
func (p *Processor) Add(source eventmerger.SourceID, event eventmerger.Event) {
	p.merger.Push(source, event)
}

// AddVisitor registers v to receive future dispatches.
func (p *Processor) AddVisitor(v Visitor) {
	p.visitors = append(p.visitors, v)
}

// ClearVisitors removes all registered visitors.
func (p *Processor) ClearVisitors() {
	p.visitors = nil
}

// ProcessAll drains every buffered event through the visitors regardless
// of delay. Used at shutdown (spec.md §4.3).
func (p *Processor) ProcessAll() {
	for p.merger.HasEvent() {
		p.dispatchTop()
	}
}

// ProcessOld releases only events with timestamp <= now - SafetyDelay.
// now is supplied by the caller (the Clock collaborator's MonotonicNs)
// rather than read internally, so tests can drive it deterministically.
func (p *Processor) ProcessOld(nowNs uint64) {
	threshold := saturatingSub(nowNs, uint64(p.safetyDelay.Nanoseconds()))
	for p.merger.HasEvent() && p.merger.Top().TimestampNs <= threshold {
		p.dispatchTop()
	}
}

func (p *Processor) dispatchTop() {
	source := p.merger.TopSource()
	event := p.merger.Pop()

	if event.TimestampNs < p.lastProcessedTsNs {
		// Pathological late arrival violating the skew bound (spec.md
		// §4.3 "out-of-order guard"): discard and count, never dispatch.
		if p.counters != nil {
			p.counters.DiscardOutOfOrder()
		}
		if p.metrics != nil {
			p.metrics.EventsDiscardedOutOfOrder.Inc()
		}
		return
	}
	p.lastProcessedTsNs = event.TimestampNs

	for _, v := range p.visitors {
		v.VisitEvent(source, event)
	}
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
