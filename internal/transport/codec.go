package transport

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's encoding package and selected via
// grpc.CallContentSubtype so Client and the Collector server agree on
// wire format without protoc-generated stubs.
const codecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// gobCodec lets tracecore exercise grpc's real transport (HTTP/2
// framing, flow control, status codes) without fabricating
// protoc-generated message types — the wire messages are plain Go
// structs in messages.go, encoded with encoding/gob.
type gobCodec struct{}

func (gobCodec) Name() string { return codecName }

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
