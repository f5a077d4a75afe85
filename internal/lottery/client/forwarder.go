package client

import (
	"context"
	"fmt"

	"github.com/aman879/LotteryDaap/internal/lottery/consensus"
	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
)

// LocalNode is the in-process replica.
type LocalNode interface {
	IsLeader() bool
	LeaderNodeID() string
	Submit(ctx context.Context, tx protocol.Tx) error
}

// Forwarder submits locally when this node leads and otherwise to the
// leader's HTTP API, looked up by node id.
type Forwarder struct {
	local LocalNode
	peers map[string]*Client
}

func NewForwarder(local LocalNode, peers map[string]*Client) *Forwarder {
	return &Forwarder{local: local, peers: peers}
}

func (f *Forwarder) Submit(ctx context.Context, tx protocol.Tx) error {
	if f.local.IsLeader() {
		return f.local.Submit(ctx, tx)
	}
	leaderID := f.local.LeaderNodeID()
	peer, ok := f.peers[leaderID]
	if !ok {
		return fmt.Errorf("%w: no http address for leader %q", consensus.ErrNotLeader, leaderID)
	}
	return peer.Submit(ctx, tx)
}
