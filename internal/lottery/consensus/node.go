package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/rs/zerolog"

	"github.com/aman879/LotteryDaap/internal/clock"
	"github.com/aman879/LotteryDaap/internal/lottery/app"
	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
)

var (
	ErrNotLeader  = errors.New("node is not the leader")
	ErrClockSkew  = errors.New("tx timestamp outside allowed clock skew")
	errNilOutcome = errors.New("raft apply returned no result")
)

const membershipTimeout = 10 * time.Second

// Publisher receives the outcome of every committed tx on this replica.
type Publisher interface {
	PublishApplied(res app.Result)
	PublishRejected(tx protocol.Tx, err error)
}

// Config defines one Raft node runtime.
type Config struct {
	NodeID         string
	RaftAddr       string
	DataDir        string
	Bootstrap      bool
	SnapshotRetain int
	// SnapshotThreshold is the number of log entries between snapshots.
	// Zero keeps the raft default.
	SnapshotThreshold uint64
	ApplyTimeout      time.Duration
	// MaxClockSkew bounds how far a submitted tx timestamp may sit from
	// the leader's clock. Zero disables the check.
	MaxClockSkew time.Duration
	Clock        clock.Clock
	Publisher    Publisher
	Logger       zerolog.Logger
}

func (c Config) validate() (Config, error) {
	c.NodeID = strings.TrimSpace(c.NodeID)
	c.RaftAddr = strings.TrimSpace(c.RaftAddr)
	c.DataDir = strings.TrimSpace(c.DataDir)
	switch {
	case c.NodeID == "":
		return c, errors.New("node_id is required")
	case c.RaftAddr == "":
		return c, errors.New("raft_addr is required")
	case c.DataDir == "":
		return c, errors.New("data_dir is required")
	}
	if c.SnapshotRetain <= 0 {
		c.SnapshotRetain = 2
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.System{}
	}
	return c, nil
}

// Node replicates signed lottery transactions with Raft and applies them to
// the local application.
type Node struct {
	id           string
	raftAddr     string
	applyTimeout time.Duration
	maxSkew      time.Duration
	clock        clock.Clock
	logger       zerolog.Logger

	raft      *raft.Raft
	transport *raft.NetworkTransport
	app       *app.App
}

type stores struct {
	log      *raftboltdb.BoltStore
	stable   *raftboltdb.BoltStore
	snapshot raft.SnapshotStore
}

func openStores(dir string, retain int, logOut zerolog.Logger) (*stores, error) {
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft-log.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft-stable.bolt"))
	if err != nil {
		_ = logStore.Close()
		return nil, fmt.Errorf("open stable store: %w", err)
	}
	snapshots, err := raft.NewFileSnapshotStore(dir, retain, logOut)
	if err != nil {
		_ = logStore.Close()
		_ = stableStore.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return &stores{log: logStore, stable: stableStore, snapshot: snapshots}, nil
}

// NewNode starts a Raft node replicating application. With Bootstrap set
// and no prior state on disk, it forms a single-voter cluster.
func NewNode(cfg Config, application *app.App) (*Node, error) {
	if application == nil {
		return nil, errors.New("application is required")
	}
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}

	logger := cfg.Logger.With().Str("service", "raft-node").Str("node_id", cfg.NodeID).Logger()
	raftOut := logger.With().Str("component", "raft").Logger()

	st, err := openStores(cfg.DataDir, cfg.SnapshotRetain, raftOut)
	if err != nil {
		return nil, err
	}
	transport, err := raft.NewTCPTransport(cfg.RaftAddr, nil, 3, 10*time.Second, raftOut)
	if err != nil {
		return nil, fmt.Errorf("raft transport: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.LogOutput = raftOut
	if cfg.SnapshotThreshold > 0 {
		raftCfg.SnapshotThreshold = cfg.SnapshotThreshold
	}
	fsm := &fsm{app: application, publisher: cfg.Publisher, logger: logger}
	r, err := raft.NewRaft(raftCfg, fsm, st.log, st.stable, st.snapshot, transport)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	if cfg.Bootstrap {
		if err := bootstrapIfEmpty(r, st, cfg); err != nil {
			_ = r.Shutdown().Error()
			_ = transport.Close()
			return nil, fmt.Errorf("bootstrap cluster: %w", err)
		}
	}

	return &Node{
		id:           cfg.NodeID,
		raftAddr:     cfg.RaftAddr,
		applyTimeout: cfg.ApplyTimeout,
		maxSkew:      cfg.MaxClockSkew,
		clock:        cfg.Clock,
		logger:       logger,
		raft:         r,
		transport:    transport,
		app:          application,
	}, nil
}

func bootstrapIfEmpty(r *raft.Raft, st *stores, cfg Config) error {
	hasState, err := raft.HasExistingState(st.log, st.stable, st.snapshot)
	if err != nil || hasState {
		return err
	}
	self := raft.Server{ID: raft.ServerID(cfg.NodeID), Address: raft.ServerAddress(cfg.RaftAddr)}
	err = r.BootstrapCluster(raft.Configuration{Servers: []raft.Server{self}}).Error()
	if errors.Is(err, raft.ErrCantBootstrap) {
		return nil
	}
	return err
}

// ApplyTx admits a signed tx on the leader, replicates it and returns the
// result produced by the local application.
func (n *Node) ApplyTx(ctx context.Context, tx protocol.Tx) (app.Result, error) {
	if err := tx.Verify(); err != nil {
		return app.Result{}, err
	}
	if !n.IsLeader() {
		return app.Result{}, ErrNotLeader
	}
	if err := n.checkSkew(tx); err != nil {
		return app.Result{}, err
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return app.Result{}, err
	}
	timeout, err := boundedTimeout(ctx, n.applyTimeout)
	if err != nil {
		return app.Result{}, err
	}

	future := n.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return app.Result{}, ErrNotLeader
		}
		return app.Result{}, err
	}
	switch out := future.Response().(type) {
	case error:
		return app.Result{}, out
	case app.Result:
		return out, nil
	default:
		return app.Result{}, errNilOutcome
	}
}

// Submit adapts ApplyTx for background submitters.
func (n *Node) Submit(ctx context.Context, tx protocol.Tx) error {
	_, err := n.ApplyTx(ctx, tx)
	return err
}

func (n *Node) checkSkew(tx protocol.Tx) error {
	if n.maxSkew <= 0 {
		return nil
	}
	drift := tx.Timestamp.Sub(n.clock.Now())
	if drift < 0 {
		drift = -drift
	}
	if drift > n.maxSkew {
		return fmt.Errorf("%w: %s off by %s (max %s)", ErrClockSkew, tx.TxID, drift, n.maxSkew)
	}
	return nil
}

// boundedTimeout shrinks limit to the context deadline.
func boundedTimeout(ctx context.Context, limit time.Duration) (time.Duration, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return limit, nil
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0, context.DeadlineExceeded
	}
	return min(limit, remaining), nil
}

// AddVoter adds a voter, replacing any server that reuses its id or
// address. Re-adding an identical voter is a no-op.
func (n *Node) AddVoter(ctx context.Context, nodeID, raftAddr string) error {
	id := raft.ServerID(strings.TrimSpace(nodeID))
	addr := raft.ServerAddress(strings.TrimSpace(raftAddr))
	if id == "" || addr == "" {
		return errors.New("node_id and raft_addr are required")
	}
	if !n.IsLeader() {
		return ErrNotLeader
	}
	timeout, err := boundedTimeout(ctx, membershipTimeout)
	if err != nil {
		return err
	}
	current := n.raft.GetConfiguration()
	if err := current.Error(); err != nil {
		return err
	}
	for _, srv := range current.Configuration().Servers {
		switch {
		case srv.ID == id && srv.Address == addr:
			return nil
		case srv.ID == id || srv.Address == addr:
			n.logger.Info().Str("server_id", string(srv.ID)).Str("server_addr", string(srv.Address)).Msg("replacing stale raft server")
			if err := n.raft.RemoveServer(srv.ID, 0, timeout).Error(); err != nil {
				return err
			}
		}
	}
	if err := n.raft.AddVoter(id, addr, 0, timeout).Error(); err != nil {
		return err
	}
	n.logger.Info().Str("server_id", string(id)).Str("server_addr", string(addr)).Msg("raft voter added")
	return nil
}

// RemoveServer removes one server by node ID.
func (n *Node) RemoveServer(ctx context.Context, nodeID string) error {
	id := raft.ServerID(strings.TrimSpace(nodeID))
	if id == "" {
		return errors.New("node_id is required")
	}
	if !n.IsLeader() {
		return ErrNotLeader
	}
	timeout, err := boundedTimeout(ctx, membershipTimeout)
	if err != nil {
		return err
	}
	if err := n.raft.RemoveServer(id, 0, timeout).Error(); err != nil {
		return err
	}
	n.logger.Info().Str("server_id", string(id)).Msg("raft server removed")
	return nil
}

// WaitForLeader blocks until a leader is known and returns its address.
func (n *Node) WaitForLeader(ctx context.Context, pollInterval time.Duration) (string, error) {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if leader := n.LeaderAddr(); leader != "" {
			return leader, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (n *Node) ID() string         { return n.id }
func (n *Node) RaftAddr() string   { return n.raftAddr }
func (n *Node) App() *app.App      { return n.app }
func (n *Node) IsLeader() bool     { return n.raft.State() == raft.Leader }
func (n *Node) State() string      { return n.raft.State().String() }
func (n *Node) LeaderAddr() string { return strings.TrimSpace(string(n.raft.Leader())) }

func (n *Node) LeaderNodeID() string {
	_, leaderID := n.raft.LeaderWithID()
	return strings.TrimSpace(string(leaderID))
}

func (n *Node) Stats() map[string]string { return maps.Clone(n.raft.Stats()) }

// Shutdown stops Raft, then the transport.
func (n *Node) Shutdown() error {
	err := n.raft.Shutdown().Error()
	if cerr := n.transport.Close(); err == nil {
		err = cerr
	}
	return err
}
