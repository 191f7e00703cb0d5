package eventmerger_test

import (
	"testing"

	"github.com/nullsrc/tracecore/internal/eventmerger"
	"github.com/stretchr/testify/require"
)

func TestTwoSourceMerge(t *testing.T) {
	m := eventmerger.New()

	for _, ts := range []uint64{10, 20, 30} {
		m.Push(1, eventmerger.Event{TimestampNs: ts})
	}
	for _, ts := range []uint64{15, 25, 35} {
		m.Push(2, eventmerger.Event{TimestampNs: ts})
	}

	var got []uint64
	for m.HasEvent() {
		got = append(got, m.Pop().TimestampNs)
	}

	require.Equal(t, []uint64{10, 15, 20, 25, 30, 35}, got)
}

func TestPushPopRoundTripPreservesMultiset(t *testing.T) {
	m := eventmerger.New()
	input := map[eventmerger.SourceID][]uint64{
		1: {5, 5, 9, 40},
		2: {1, 2, 3},
		3: {100},
	}
	for src, tss := range input {
		for _, ts := range tss {
			m.Push(src, eventmerger.Event{TimestampNs: ts})
		}
	}

	var got []uint64
	for m.HasEvent() {
		got = append(got, m.Pop().TimestampNs)
	}

	require.Len(t, got, 8)
	for i := 1; i < len(got); i++ {
		require.LessOrEqual(t, got[i-1], got[i])
	}
}

func TestTieBreakBySourceID(t *testing.T) {
	m := eventmerger.New()
	m.Push(2, eventmerger.Event{TimestampNs: 10})
	m.Push(1, eventmerger.Event{TimestampNs: 10})

	require.Equal(t, eventmerger.SourceID(1), m.TopSource())
}

func TestEmptyMergerHasNoEvent(t *testing.T) {
	m := eventmerger.New()
	require.False(t, m.HasEvent())
}

func TestSourceReentersHeapAfterDrainingAndPushingAgain(t *testing.T) {
	m := eventmerger.New()
	m.Push(1, eventmerger.Event{TimestampNs: 10})
	m.Pop()
	require.False(t, m.HasEvent())

	m.Push(1, eventmerger.Event{TimestampNs: 20})
	require.True(t, m.HasEvent())
	require.Equal(t, uint64(20), m.Top().TimestampNs)
}
