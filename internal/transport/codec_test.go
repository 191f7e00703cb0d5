package transport

import (
	"testing"

	"github.com/nullsrc/tracecore/internal/collab"
	"github.com/stretchr/testify/require"
)

func TestGobCodecRoundTrip(t *testing.T) {
	var c gobCodec

	req := EmitRequest{
		NodeName: "node-1",
		Record: collab.SubmissionRecord{
			ThreadID:        123,
			NumBeginMarkers: 2,
			CommandBuffers: []collab.CommandBufferTiming{
				{BeginGPUNs: 10, EndGPUNs: 20},
			},
			Markers: []collab.MarkerTiming{
				{Text: "draw", Depth: 0, HasBegin: true, BeginGPUNs: 5, EndGPUNs: 15},
			},
		},
	}

	data, err := c.Marshal(req)
	require.NoError(t, err)

	var got EmitRequest
	require.NoError(t, c.Unmarshal(data, &got))
	require.Equal(t, req, got)
}

func TestCodecRegisteredUnderExpectedName(t *testing.T) {
	require.Equal(t, "gob", codecName)
}
