package delayed_test

import (
	"testing"
	"time"

	"github.com/nullsrc/tracecore/internal/delayed"
	"github.com/nullsrc/tracecore/internal/eventmerger"
	"github.com/nullsrc/tracecore/internal/faults"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	seen []uint64
}

func (r *recorder) VisitEvent(_ eventmerger.SourceID, event eventmerger.Event) {
	r.seen = append(r.seen, event.TimestampNs)
}

func TestProcessAllDrainsRegardlessOfDelay(t *testing.T) {
	p := delayed.New(100*time.Millisecond, nil, nil)
	p.Add(1, eventmerger.Event{TimestampNs: 10})
	p.Add(2, eventmerger.Event{TimestampNs: 15})
	p.Add(1, eventmerger.Event{TimestampNs: 20})
	p.Add(2, eventmerger.Event{TimestampNs: 25})
	p.Add(1, eventmerger.Event{TimestampNs: 30})
	p.Add(2, eventmerger.Event{TimestampNs: 35})

	rec := &recorder{}
	p.AddVisitor(rec)
	p.ProcessAll()

	require.Equal(t, []uint64{10, 15, 20, 25, 30, 35}, rec.seen)
}

func TestDelayGating(t *testing.T) {
	const ms = uint64(time.Millisecond)
	p := delayed.New(100*time.Millisecond, nil, nil)
	p.Add(1, eventmerger.Event{TimestampNs: 100 * ms})
	p.Add(1, eventmerger.Event{TimestampNs: 150 * ms})

	rec := &recorder{}
	p.AddVisitor(rec)

	p.ProcessOld(200 * ms)
	require.Equal(t, []uint64{100 * ms}, rec.seen)

	p.ProcessOld(260 * ms)
	require.Equal(t, []uint64{100 * ms, 150 * ms}, rec.seen)
}

func TestOutOfOrderDiscard(t *testing.T) {
	counters := &faults.Counters{}
	const delay = 100 * time.Millisecond
	p := delayed.New(delay, counters, nil)
	rec := &recorder{}
	p.AddVisitor(rec)

	now := 100 + uint64(delay)
	p.Add(1, eventmerger.Event{TimestampNs: 100})
	p.ProcessOld(now)
	require.Equal(t, []uint64{100}, rec.seen)

	p.Add(1, eventmerger.Event{TimestampNs: 50})
	p.ProcessOld(now)

	require.Equal(t, []uint64{100}, rec.seen, "late event must not reach visitors")
	require.Equal(t, uint64(1), counters.OutOfOrderDiscards())
}

func TestClearVisitorsStopsDispatch(t *testing.T) {
	p := delayed.New(0, nil, nil)
	rec := &recorder{}
	p.AddVisitor(rec)
	p.ClearVisitors()

	p.Add(1, eventmerger.Event{TimestampNs: 1})
	p.ProcessAll()

	require.Empty(t, rec.seen)
}
