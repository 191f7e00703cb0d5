// Package clock implements the Clock collaborator (spec.md §6) against
// CLOCK_MONOTONIC and the calling Linux thread id, the same primitives
// golang.org/x/sys/unix exposes elsewhere in the retrieved corpus.
package clock

import (
	"sync"

	"github.com/nullsrc/tracecore/internal/collab"
	"golang.org/x/sys/unix"
)

// System is the production Clock collaborator.
type System struct {
	mu       sync.RWMutex
	period   map[collab.DeviceHandle]float64
	offsetNs map[collab.DeviceHandle]int64
}

// NewSystem returns a Clock with no devices calibrated yet. Callers
// populate per-device calibration via SetDeviceCalibration once the
// out-of-scope CPU/GPU clock offset algorithm (spec.md §1) has run.
func NewSystem() *System {
	return &System{
		period:   make(map[collab.DeviceHandle]float64),
		offsetNs: make(map[collab.DeviceHandle]int64),
	}
}

// SetDeviceCalibration records a device's timestampPeriod (ns/tick) and
// approximate CPU/GPU offset, as produced by the out-of-scope
// calibration collaborator.
func (s *System) SetDeviceCalibration(device collab.DeviceHandle, periodNs float64, offsetNs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.period[device] = periodNs
	s.offsetNs[device] = offsetNs
}

// MonotonicNs returns CLOCK_MONOTONIC in nanoseconds.
func (s *System) MonotonicNs() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
}

// CurrentThreadID returns the kernel thread id of the calling goroutine's
// underlying OS thread. Callers that need this to be stable across a
// sequence of operations must hold the goroutine to its OS thread with
// runtime.LockOSThread, matching the driver's guarantee that a single
// callback runs on one native thread for its duration.
func (s *System) CurrentThreadID() int32 {
	return int32(unix.Gettid())
}

// TimestampPeriodNs returns the device's ns-per-tick scaling factor, or
// 1.0 if the device was never calibrated (keeps raw ticks as a fallback
// rather than silently zeroing timestamps).
func (s *System) TimestampPeriodNs(device collab.DeviceHandle) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.period[device]; ok {
		return p
	}
	return 1.0
}

// CPUGPUOffsetNs returns the device's approximate CPU/GPU clock offset.
func (s *System) CPUGPUOffsetNs(device collab.DeviceHandle) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offsetNs[device]
}
