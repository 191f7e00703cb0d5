// Package faults implements the error taxonomy of spec.md §7:
// instrumentation-drop and out-of-order-discard are silent, counted
// conditions; contract violations and post-readiness GPU read failures
// are fatal and abort the process with diagnostics.
package faults

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Counters tracks the two benign-but-countable fault classes spec.md §7
// calls out. Safe for concurrent use.
type Counters struct {
	instrumentationDrops atomic.Uint64
	outOfOrderDiscards   atomic.Uint64
}

// DropInstrumentation records that a slot reservation failed and the
// current mark was skipped. No log spam, per spec.md §7.
func (c *Counters) DropInstrumentation() {
	c.instrumentationDrops.Add(1)
}

// DiscardOutOfOrder records that DelayedEventProcessor discarded an
// event whose timestamp regressed past last_processed_timestamp.
func (c *Counters) DiscardOutOfOrder() {
	c.outOfOrderDiscards.Add(1)
}

// InstrumentationDrops returns the current count.
func (c *Counters) InstrumentationDrops() uint64 {
	return c.instrumentationDrops.Load()
}

// OutOfOrderDiscards returns the current count.
func (c *Counters) OutOfOrderDiscards() uint64 {
	return c.outOfOrderDiscards.Load()
}

// Fatal logs a contract violation or post-readiness GPU read failure and
// aborts the process. These indicate driver or instrumented-app misuse,
// not a transient condition — spec.md §7 is explicit that they must not
// be treated as recoverable.
func Fatal(logger *zap.Logger, msg string, fields ...zap.Field) {
	logger.Fatal(msg, fields...)
}
