package submission_test

import (
	"testing"

	"github.com/nullsrc/tracecore/internal/cbtracker"
	"github.com/nullsrc/tracecore/internal/collab"
	"github.com/nullsrc/tracecore/internal/slotpool"
	"github.com/nullsrc/tracecore/internal/submission"
	"github.com/nullsrc/tracecore/pkg/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	device  collab.DeviceHandle        = 1
	pool    collab.QueryPoolHandle     = 2
	cmdPool collab.CommandPoolHandle   = 2
	queue   collab.QueueHandle         = 3
	cbA     collab.CommandBufferHandle = 10
)

type fakeDispatch struct {
	writes  []uint32
	results map[uint32]uint64
}

func (f *fakeDispatch) CmdWriteTimestamp(_ collab.DeviceHandle, _ collab.CommandBufferHandle, _ types.PipelineStage, _ collab.QueryPoolHandle, physicalSlot uint32) {
	f.writes = append(f.writes, physicalSlot)
}
func (f *fakeDispatch) CmdResetQueryPool(_ collab.DeviceHandle, _ collab.CommandBufferHandle, _ collab.QueryPoolHandle, _ uint32, _ uint32) {
}
func (f *fakeDispatch) CreateQueryPool(_ collab.DeviceHandle, _ uint32) (collab.QueryPoolHandle, error) {
	return pool, nil
}
func (f *fakeDispatch) ResetQueryPoolHost(_ collab.DeviceHandle, _ collab.QueryPoolHandle, _ uint32, _ uint32) {
}
func (f *fakeDispatch) GetQueryPoolResult(_ collab.DeviceHandle, _ collab.QueryPoolHandle, physicalSlot uint32) (uint64, bool, error) {
	v, ok := f.results[physicalSlot]
	return v, ok, nil
}

type fakeCapture struct{}

func (fakeCapture) IsCapturing() bool { return true }

type fakeClock struct{}

func (fakeClock) MonotonicNs() uint64                             { return 42 }
func (fakeClock) CurrentThreadID() int32                          { return 7 }
func (fakeClock) TimestampPeriodNs(_ collab.DeviceHandle) float64 { return 10.0 }
func (fakeClock) CPUGPUOffsetNs(_ collab.DeviceHandle) int64      { return 5 }

type fakeEmitter struct {
	records []collab.SubmissionRecord
	interns []string
}

func (f *fakeEmitter) Write(record collab.SubmissionRecord) error {
	f.records = append(f.records, record)
	return nil
}
func (f *fakeEmitter) InternString(text string) uint64 {
	f.interns = append(f.interns, text)
	return uint64(len(f.interns))
}

func TestCompleteSubmissionsEmitsScaledTimestampsAndReleasesSlots(t *testing.T) {
	dispatch := &fakeDispatch{results: make(map[uint32]uint64)}
	slots := slotpool.New(16)
	slots.InitDevice(device, pool)
	clk := fakeClock{}
	tr := cbtracker.New(dispatch, slots, fakeCapture{}, clk, nil, nil, zap.NewNop())
	tr.Track(device, cmdPool, []collab.CommandBufferHandle{cbA})

	tr.MarkBegin(cbA)
	tr.MarkEnd(cbA)
	require.Len(t, dispatch.writes, 2)

	dispatch.results[dispatch.writes[0]] = 1000 // begin, ticks
	dispatch.results[dispatch.writes[1]] = 3000 // end, ticks

	pending := tr.PreSubmit(queue, []cbtracker.SubmitInfo{{CommandBuffers: []collab.CommandBufferHandle{cbA}}})
	tr.PostSubmit(queue, []cbtracker.SubmitInfo{{CommandBuffers: []collab.CommandBufferHandle{cbA}}}, pending)

	emitter := &fakeEmitter{}
	completer := submission.New(tr, slots, dispatch, clk, emitter, nil, zap.NewNop())

	err := completer.CompleteSubmissions(device)
	require.NoError(t, err)

	require.Len(t, emitter.records, 1)
	record := emitter.records[0]
	require.Equal(t, int32(7), record.ThreadID)
	require.Equal(t, int64(5), record.GPUCPUOffsetNs)
	require.Len(t, record.CommandBuffers, 1)
	require.Equal(t, uint64(10000), record.CommandBuffers[0].BeginGPUNs)
	require.Equal(t, uint64(30000), record.CommandBuffers[0].EndGPUNs)

	require.Equal(t, 0, slots.Stats(device).Pending, "all slots must be released after completion")
	require.ElementsMatch(t, []uint32{dispatch.writes[0], dispatch.writes[1]}, slots.PullPendingResets(device))
}

func TestCompleteSubmissionsStopsAtFirstNotReadySubmission(t *testing.T) {
	dispatch := &fakeDispatch{results: make(map[uint32]uint64)}
	slots := slotpool.New(16)
	slots.InitDevice(device, pool)
	clk := fakeClock{}
	tr := cbtracker.New(dispatch, slots, fakeCapture{}, clk, nil, nil, zap.NewNop())
	tr.Track(device, cmdPool, []collab.CommandBufferHandle{cbA})

	tr.MarkBegin(cbA)
	tr.MarkEnd(cbA)
	// Do not populate dispatch.results: the readiness probe reports not-ready.

	pending := tr.PreSubmit(queue, []cbtracker.SubmitInfo{{CommandBuffers: []collab.CommandBufferHandle{cbA}}})
	tr.PostSubmit(queue, []cbtracker.SubmitInfo{{CommandBuffers: []collab.CommandBufferHandle{cbA}}}, pending)

	emitter := &fakeEmitter{}
	completer := submission.New(tr, slots, dispatch, clk, emitter, nil, zap.NewNop())

	err := completer.CompleteSubmissions(device)
	require.NoError(t, err)
	require.Empty(t, emitter.records)

	_, _, ok := tr.FrontSubmission(queue)
	require.True(t, ok, "submission must remain pending, preserving FIFO order")
}

func TestCompleteSubmissionsErasesEmptySubmission(t *testing.T) {
	dispatch := &fakeDispatch{results: make(map[uint32]uint64)}
	slots := slotpool.New(16)
	slots.InitDevice(device, pool)
	clk := fakeClock{}
	tr := cbtracker.New(dispatch, slots, fakeCapture{}, clk, nil, nil, zap.NewNop())

	// pre_submit with no tracked/begun command buffers yields an
	// all-empty SubmitInfo.
	pending := tr.PreSubmit(queue, []cbtracker.SubmitInfo{{CommandBuffers: []collab.CommandBufferHandle{99}}})
	tr.PostSubmit(queue, []cbtracker.SubmitInfo{{CommandBuffers: []collab.CommandBufferHandle{99}}}, pending)

	emitter := &fakeEmitter{}
	completer := submission.New(tr, slots, dispatch, clk, emitter, nil, zap.NewNop())

	err := completer.CompleteSubmissions(device)
	require.NoError(t, err)
	require.Empty(t, emitter.records)

	_, _, ok := tr.FrontSubmission(queue)
	require.False(t, ok)
}
