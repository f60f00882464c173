// Package client dials the consensus actuator's gRPC service and exposes it
// as a typed Go API to the networking/transport process that owns peer
// connectivity.
package client

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"bftcore/consensus/codec"
	"bftcore/consensus/engine"
	"bftcore/consensus/types"
)

// Client is a thin wrapper around the hand-rolled consensus actuator
// service, dialled with the RLP codec negotiated instead of protobuf.
type Client struct {
	conn *grpc.ClientConn
}

// Dial initialises a consensus client against the provided target.
func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	opts = append(opts,
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codec.Name)),
		grpc.WithChainUnaryInterceptor(otelgrpc.UnaryClientInterceptor()),
		grpc.WithChainStreamInterceptor(otelgrpc.StreamClientInterceptor()),
	)
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close tears down the client connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) submit(ctx context.Context, kind engine.MsgKind, payload []byte) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("consensus client not initialised")
	}
	req := &codec.Envelope{Kind: kind.String(), Payload: payload}
	reply := new(codec.Reply)
	if err := c.conn.Invoke(ctx, "/"+codec.ServiceName+"/Submit", req, reply); err != nil {
		return err
	}
	if !reply.Accepted {
		return fmt.Errorf("consensus actuator rejected %s: %s", kind, reply.Error)
	}
	return nil
}

// SendProposal forwards a signed proposal to the remote actuator.
func (c *Client) SendProposal(ctx context.Context, sp *types.SignedProposal) error {
	payload, err := rlpEncode(sp)
	if err != nil {
		return err
	}
	return c.submit(ctx, engine.MsgProposal, payload)
}

// SendVote forwards a signed vote to the remote actuator.
func (c *Client) SendVote(ctx context.Context, sv *types.SignedVote) error {
	payload, err := rlpEncode(sv)
	if err != nil {
		return err
	}
	return c.submit(ctx, engine.MsgVote, payload)
}

// SendStatus forwards a host status acknowledgement to the remote actuator.
func (c *Client) SendStatus(ctx context.Context, st *types.Status) error {
	payload, err := rlpEncode(st)
	if err != nil {
		return err
	}
	return c.submit(ctx, engine.MsgStatus, payload)
}

// SendFeed forwards a candidate block to the remote actuator.
func (c *Client) SendFeed(ctx context.Context, f *types.Feed) error {
	payload, err := rlpEncode(f)
	if err != nil {
		return err
	}
	return c.submit(ctx, engine.MsgFeed, payload)
}

// SendVerifyResp forwards an asynchronous verification outcome.
func (c *Client) SendVerifyResp(ctx context.Context, vr *types.VerifyResp) error {
	payload, err := rlpEncode(vr)
	if err != nil {
		return err
	}
	return c.submit(ctx, engine.MsgVerifyResp, payload)
}

// Pause issues a Pause command.
func (c *Client) Pause(ctx context.Context) error { return c.submit(ctx, engine.MsgPause, nil) }

// Start issues a Start command.
func (c *Client) Start(ctx context.Context) error { return c.submit(ctx, engine.MsgStart, nil) }

// Kill issues a Kill command.
func (c *Client) Kill(ctx context.Context) error { return c.submit(ctx, engine.MsgKill, nil) }

// Corrupt issues a Corrupt command.
func (c *Client) Corrupt(ctx context.Context) error { return c.submit(ctx, engine.MsgCorrupt, nil) }

// Clear issues a Clear command. A nil proof clears without changing height.
func (c *Client) Clear(ctx context.Context, p *types.Proof) error {
	var payload []byte
	if p != nil {
		encoded, err := rlpEncode(p)
		if err != nil {
			return err
		}
		payload = encoded
	}
	return c.submit(ctx, engine.MsgClear, payload)
}

// Snapshot fetches the remote engine's current (height, round, step).
func (c *Client) Snapshot(ctx context.Context) (engine.Snapshot, error) {
	if c == nil || c.conn == nil {
		return engine.Snapshot{}, fmt.Errorf("consensus client not initialised")
	}
	reply := new(codec.SnapshotReply)
	if err := c.conn.Invoke(ctx, "/"+codec.ServiceName+"/Snapshot", new(codec.SnapshotRequest), reply); err != nil {
		return engine.Snapshot{}, err
	}
	return engine.Snapshot{Height: reply.Height, Round: reply.Round, Step: types.Step(reply.Step)}, nil
}


func rlpEncode(v interface{}) ([]byte, error) {
	return codec.Codec{}.Marshal(v)
}
