// Package service exposes the consensus actuator over gRPC, the boundary
// through which an external networking/transport process feeds proposals,
// votes, host statuses and operator commands into the engine and reads back
// its current position. The wire encoding is the codec package's RLP
// grpc.Codec rather than protobuf, so the service descriptor is hand-built
// instead of protoc-generated.
package service

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"bftcore/consensus/actuator"
	"bftcore/consensus/codec"
	"bftcore/consensus/engine"
	"bftcore/consensus/types"
)

// Authorizer evaluates whether an incoming request should be allowed,
// evaluated for every RPC before it reaches the actuator.
type Authorizer interface {
	Authorize(context.Context) error
}

// Server exposes an Actuator's operations over gRPC.
type Server struct {
	act  *actuator.Actuator
	auth Authorizer
}

// ServerOption mutates server defaults during construction.
type ServerOption func(*Server)

// WithAuthorizer injects an authorizer evaluated for every RPC.
func WithAuthorizer(authorizer Authorizer) ServerOption {
	return func(s *Server) {
		if s != nil {
			s.auth = authorizer
		}
	}
}

// NewServer constructs a consensus actuator service backed by act.
func NewServer(act *actuator.Actuator, opts ...ServerOption) *Server {
	srv := &Server{act: act}
	for _, opt := range opts {
		if opt != nil {
			opt(srv)
		}
	}
	return srv
}

func (s *Server) authorize(ctx context.Context) error {
	if s.auth == nil {
		return nil
	}
	return s.auth.Authorize(ctx)
}

// Submit decodes env.Payload according to env.Kind and hands it to the
// actuator. Kind values mirror engine.MsgKind's String() form.
func (s *Server) Submit(ctx context.Context, env *codec.Envelope) (*codec.Reply, error) {
	if s == nil || s.act == nil {
		return nil, fmt.Errorf("consensus service not initialised")
	}
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}

	var err error
	switch env.Kind {
	case engine.MsgProposal.String():
		sp, decErr := actuator.DecodeProposalBytes(env.Payload)
		if decErr != nil {
			err = decErr
			break
		}
		err = s.act.SendProposal(sp)
	case engine.MsgVote.String():
		sv, decErr := actuator.DecodeVoteBytes(env.Payload)
		if decErr != nil {
			err = decErr
			break
		}
		err = s.act.SendVote(sv)
	case engine.MsgStatus.String():
		var st types.Status
		if decErr := decodeRLP(env.Payload, &st); decErr != nil {
			err = decErr
			break
		}
		err = s.act.SendStatus(&st)
	case engine.MsgFeed.String():
		var f types.Feed
		if decErr := decodeRLP(env.Payload, &f); decErr != nil {
			err = decErr
			break
		}
		err = s.act.SendFeed(&f)
	case engine.MsgVerifyResp.String():
		var vr types.VerifyResp
		if decErr := decodeRLP(env.Payload, &vr); decErr != nil {
			err = decErr
			break
		}
		err = s.act.SendVerifyResp(&vr)
	case engine.MsgPause.String():
		err = s.act.Pause()
	case engine.MsgStart.String():
		err = s.act.Start()
	case engine.MsgKill.String():
		err = s.act.Kill()
	case engine.MsgCorrupt.String():
		err = s.act.Corrupt()
	case engine.MsgClear.String():
		var p *types.Proof
		if len(env.Payload) > 0 {
			var decoded types.Proof
			if decErr := decodeRLP(env.Payload, &decoded); decErr != nil {
				err = decErr
				break
			}
			p = &decoded
		}
		err = s.act.Clear(p)
	default:
		err = fmt.Errorf("consensus service: unknown envelope kind %q", env.Kind)
	}

	if err != nil {
		return &codec.Reply{Accepted: false, Error: err.Error()}, nil
	}
	return &codec.Reply{Accepted: true}, nil
}

// Snapshot reports the engine's current (height, round, step).
func (s *Server) Snapshot(ctx context.Context, _ *codec.SnapshotRequest) (*codec.SnapshotReply, error) {
	if s == nil || s.act == nil {
		return nil, fmt.Errorf("consensus service not initialised")
	}
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	snap := s.act.Snapshot()
	return &codec.SnapshotReply{Height: snap.Height, Round: snap.Round, Step: byte(snap.Step)}, nil
}

func decodeRLP(b []byte, v interface{}) error {
	return codec.Codec{}.Unmarshal(b, v)
}

// serviceDesc is hand-built in place of a protoc-generated descriptor,
// since the wire codec is RLP rather than protobuf.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: codec.ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(codec.Envelope)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).Submit(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + codec.ServiceName + "/Submit"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(*Server).Submit(ctx, req.(*codec.Envelope))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "Snapshot",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(codec.SnapshotRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).Snapshot(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + codec.ServiceName + "/Snapshot"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(*Server).Snapshot(ctx, req.(*codec.SnapshotRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "consensus/service/server.go",
}

// RegisterServer attaches s's RPC methods to gs.
func RegisterServer(gs grpc.ServiceRegistrar, s *Server) {
	gs.RegisterService(&serviceDesc, s)
}
