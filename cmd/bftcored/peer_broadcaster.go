package main

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"bftcore/consensus/actuator"
	"bftcore/consensus/client"
	"bftcore/p2p"
)

const peerDialTimeout = 5 * time.Second

// peerBroadcaster is the p2p.Broadcaster sink the resilient broadcaster
// drains into: it fans a locally signed proposal or vote out to every
// configured peer's consensus actuator over gRPC, reusing the same RLP
// codec and service the operator control plane dials.
type peerBroadcaster struct {
	mu    sync.Mutex
	peers map[string]*client.Client
}

func newPeerBroadcaster(addrs []string) *peerBroadcaster {
	pb := &peerBroadcaster{peers: make(map[string]*client.Client, len(addrs))}
	for _, addr := range addrs {
		pb.peers[addr] = nil
	}
	return pb
}

func (pb *peerBroadcaster) clientFor(ctx context.Context, addr string) (*client.Client, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if c := pb.peers[addr]; c != nil {
		return c, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, peerDialTimeout)
	defer cancel()
	c, err := client.Dial(dialCtx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	pb.peers[addr] = c
	return c, nil
}

func (pb *peerBroadcaster) dropClient(addr string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if c := pb.peers[addr]; c != nil {
		_ = c.Close()
	}
	pb.peers[addr] = nil
}

// Broadcast decodes msg according to its type tag and relays it to every
// peer, returning the first dial or RPC error encountered so the caller's
// retry/backoff loop can re-attempt delivery.
func (pb *peerBroadcaster) Broadcast(msg *p2p.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), peerDialTimeout)
	defer cancel()

	pb.mu.Lock()
	addrs := make([]string, 0, len(pb.peers))
	for addr := range pb.peers {
		addrs = append(addrs, addr)
	}
	pb.mu.Unlock()

	var firstErr error
	for _, addr := range addrs {
		if err := pb.send(ctx, addr, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (pb *peerBroadcaster) send(ctx context.Context, addr string, msg *p2p.Message) error {
	c, err := pb.clientFor(ctx, addr)
	if err != nil {
		return err
	}

	switch msg.Type {
	case msgTypeProposal:
		sp, err := actuator.DecodeProposalBytes(msg.Payload)
		if err != nil {
			return err
		}
		if err := c.SendProposal(ctx, sp); err != nil {
			pb.dropClient(addr)
			return err
		}
	default:
		sv, err := actuator.DecodeVoteBytes(msg.Payload)
		if err != nil {
			return err
		}
		if err := c.SendVote(ctx, sv); err != nil {
			pb.dropClient(addr)
			return err
		}
	}
	return nil
}

func (pb *peerBroadcaster) Close() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	for addr, c := range pb.peers {
		if c != nil {
			_ = c.Close()
		}
		pb.peers[addr] = nil
	}
}
