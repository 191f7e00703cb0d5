// Package submission implements SubmissionCompleter (spec.md §4.5),
// grounded on OrbitVulkanLayer/SubmissionTracker.cpp's
// RetrieveCommandBufferAndPipelineStatsCalculator-adjacent drain loop:
// it polls GPU query results for pending submissions in FIFO order per
// queue, resolves timestamps once the last slot in a submission is
// ready, and emits completed records while batching slots back to the
// SlotPool.
package submission

import (
	"github.com/nullsrc/tracecore/internal/cbtracker"
	"github.com/nullsrc/tracecore/internal/collab"
	"github.com/nullsrc/tracecore/internal/faults"
	"github.com/nullsrc/tracecore/internal/metrics"
	"github.com/nullsrc/tracecore/internal/slotpool"
	"go.uber.org/zap"
)

// Completer is SubmissionCompleter.
type Completer struct {
	tracker  *cbtracker.Tracker
	slots    *slotpool.Pool
	dispatch collab.VulkanDispatch
	clk      collab.Clock
	emitter  collab.Emitter
	met      *metrics.Collectors
	logger   *zap.Logger
}

// New returns a Completer wired to its collaborators. met may be nil.
func New(tracker *cbtracker.Tracker, slots *slotpool.Pool, dispatch collab.VulkanDispatch, clk collab.Clock, emitter collab.Emitter, met *metrics.Collectors, logger *zap.Logger) *Completer {
	return &Completer{
		tracker:  tracker,
		slots:    slots,
		dispatch: dispatch,
		clk:      clk,
		emitter:  emitter,
		met:      met,
		logger:   logger,
	}
}

// CompleteSubmissions drains every queue whose pending submissions
// belong to device, in FIFO order per queue, stopping each queue at the
// first submission whose readiness query is not yet available (spec.md
// §4.5). Invoked periodically — in practice, on queue-present.
func (c *Completer) CompleteSubmissions(device collab.DeviceHandle) error {
	pool := c.slots.QueryPoolHandle(device)
	period := c.clk.TimestampPeriodNs(device)
	offset := c.clk.CPUGPUOffsetNs(device)

	for _, queue := range c.tracker.Queues() {
		for {
			view, qDevice, ok := c.tracker.FrontSubmission(queue)
			if !ok {
				break
			}

			if len(view.CommandBuffers) == 0 {
				// No recorded command buffers at all: nothing to
				// drain, erase it (spec.md §4.5 step 2). Such a
				// submission has no device, so this runs before the
				// device check.
				c.tracker.PopSubmission(queue)
				continue
			}

			if qDevice != device {
				break
			}

			last := view.CommandBuffers[len(view.CommandBuffers)-1]
			readySlot, readyPhysical := readinessSlot(last)
			if readySlot == nil {
				c.tracker.PopSubmission(queue)
				continue
			}

			_, ready, err := c.dispatch.GetQueryPoolResult(device, pool, readyPhysical)
			if err != nil {
				faults.Fatal(c.logger, "submission: GPU read failure on readiness probe", zap.Error(err))
				return err
			}
			if !ready {
				// Preserve FIFO order: later submissions on this queue
				// cannot precede this one, so stop draining it.
				break
			}

			c.tracker.PopSubmission(queue)
			c.resolveAndEmit(device, pool, period, offset, view)
		}
	}
	return nil
}

func readinessSlot(last cbtracker.SubmittedCBView) (slot *collab.SlotIndex, physical uint32) {
	if last.EndSlot != nil {
		return last.EndSlot, uint32(*last.EndSlot) * 2
	}
	if last.BeginSlot != nil {
		return last.BeginSlot, uint32(*last.BeginSlot) * 2
	}
	return nil, 0
}

func (c *Completer) resolveAndEmit(device collab.DeviceHandle, pool collab.QueryPoolHandle, period float64, offset int64, view cbtracker.QueueSubmissionView) {
	var toRelease []collab.SlotIndex

	record := collab.SubmissionRecord{
		ThreadID:        view.ThreadID,
		PreSubmitCPUNs:  view.PreSubmitCPUNs,
		PostSubmitCPUNs: view.PostSubmitCPUNs,
		GPUCPUOffsetNs:  offset,
		NumBeginMarkers: view.NumBeginMarkers,
	}

	for _, cb := range view.CommandBuffers {
		var timing collab.CommandBufferTiming
		if cb.BeginSlot != nil {
			timing.BeginGPUNs = c.readScaled(device, pool, *cb.BeginSlot, period)
			toRelease = append(toRelease, *cb.BeginSlot)
		}
		if cb.EndSlot != nil {
			timing.EndGPUNs = c.readScaled(device, pool, *cb.EndSlot, period)
			toRelease = append(toRelease, *cb.EndSlot)
		}
		record.CommandBuffers = append(record.CommandBuffers, timing)
	}

	for _, m := range view.Markers {
		c.emitter.InternString(m.Text)
		timing := collab.MarkerTiming{
			Text:     m.Text,
			Depth:    m.Depth,
			HasBegin: m.HasBegin,
		}
		if m.HasBegin && m.BeginSlot != nil {
			timing.BeginGPUNs = c.readScaled(device, pool, *m.BeginSlot, period)
			timing.BeginThreadID = m.BeginThreadID
			timing.BeginPreSubmitCPUNs = m.BeginPreSubmitCPUNs
			timing.BeginPostSubmitCPUNs = m.BeginPostSubmitCPUNs
			toRelease = append(toRelease, *m.BeginSlot)
		}
		if m.HasEnd && m.EndSlot != nil {
			timing.EndGPUNs = c.readScaled(device, pool, *m.EndSlot, period)
			toRelease = append(toRelease, *m.EndSlot)
		}
		record.Markers = append(record.Markers, timing)
	}

	if err := c.emitter.Write(record); err != nil {
		c.logger.Warn("submission: emit failed, dropping record", zap.Error(err))
	}

	c.slots.Release(device, toRelease)

	if c.met != nil {
		c.met.SubmissionsCompleted.Inc()
	}
}

func (c *Completer) readScaled(device collab.DeviceHandle, pool collab.QueryPoolHandle, slot collab.SlotIndex, period float64) uint64 {
	raw, ok, err := c.dispatch.GetQueryPoolResult(device, pool, uint32(slot)*2)
	if err != nil {
		faults.Fatal(c.logger, "submission: GPU read failure after readiness check", zap.Error(err))
		return 0
	}
	if !ok {
		faults.Fatal(c.logger, "submission: slot reported not-ready after readiness check, driver inconsistency")
		return 0
	}
	return uint64(float64(raw) * period)
}
