package transport

import "github.com/nullsrc/tracecore/internal/collab"

// EmitRequest carries one completed SubmissionRecord to the collector,
// tagged with the originating node (spec.md §6 Emit collaborator).
type EmitRequest struct {
	NodeName string
	Record   collab.SubmissionRecord
}

// EmitResponse acknowledges an EmitRequest.
type EmitResponse struct {
	Accepted bool
}

// InternStringRequest registers text with the collector's string table.
type InternStringRequest struct {
	NodeName string
	Text     string
}

// InternStringResponse returns the key text was interned under.
type InternStringResponse struct {
	Key uint64
}
