// Package transport implements the Emit collaborator (spec.md §6) over
// gRPC, adapted from InfraSight_gpu's internal/grpc/grpc_client.go
// connection-setup pattern. It uses a hand-registered codec
// (codec.go) instead of protoc-generated stubs: the wire messages are
// plain structs (messages.go) and RPCs are issued with
// grpc.ClientConn.Invoke against literal method paths, so grpc's real
// transport is exercised without fabricating generated code.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/nullsrc/tracecore/internal/collab"
	"github.com/nullsrc/tracecore/pkg/logutil"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const maxMsgSize = 64 * 1024 * 1024

const (
	methodEmit         = "/tracecore.Collector/Emit"
	methodInternString = "/tracecore.Collector/InternString"
)

// Client is collab.Emitter's concrete implementation: it ships
// SubmissionRecords to a remote collector over a single gRPC
// connection.
type Client struct {
	conn     *grpc.ClientConn
	nodeName string
	timeout  time.Duration
}

// NewClient dials address:port and returns a ready Client. Call RPCs
// carry nodeName so the collector can attribute records per host.
func NewClient(address, port, nodeName string) (*Client, error) {
	serverAddress := fmt.Sprintf("%s:%s", address, port)
	conn, err := grpc.NewClient(serverAddress,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
			grpc.CallContentSubtype(codecName),
		),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, nodeName: nodeName, timeout: 5 * time.Second}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Write implements collab.Emitter.
func (c *Client) Write(record collab.SubmissionRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req := &EmitRequest{NodeName: c.nodeName, Record: record}
	resp := &EmitResponse{}
	if err := c.conn.Invoke(ctx, methodEmit, req, resp); err != nil {
		return c.classify(err)
	}
	return nil
}

// InternString implements collab.Emitter. On transport failure it logs
// and returns key 0 rather than propagating an error, since interning
// is best-effort diagnostics, not load-bearing for emitted records
// (spec.md §4.5's MarkerTiming carries Text directly; the interned key
// only helps the wire codec dedupe repeated text across records).
func (c *Client) InternString(text string) uint64 {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req := &InternStringRequest{NodeName: c.nodeName, Text: text}
	resp := &InternStringResponse{}
	if err := c.conn.Invoke(ctx, methodInternString, req, resp); err != nil {
		logutil.GetLogger().Warn("transport: InternString failed", zap.Error(err))
		return 0
	}
	return resp.Key
}

func (c *Client) classify(err error) error {
	if st, ok := status.FromError(err); ok && (st.Code() == codes.Unavailable || st.Code() == codes.Canceled) {
		logutil.GetLogger().Warn("transport: collector unavailable", zap.Error(err))
	}
	return err
}
