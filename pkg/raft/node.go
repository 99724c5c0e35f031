package raft

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"

	"github.com/metaparticle-io/container-lib/pkg/fsm"
	"github.com/metaparticle-io/container-lib/pkg/types"
)

const defaultApplyTimeout = 5 * time.Second

// wraps a raft inst with our fsm and provides a clean api
type Node struct {
	raft      *raft.Raft
	fsm       *fsm.FSM
	raftFSM   *fsm.RaftFSM
	storage   *Storage
	transport *raft.NetworkTransport
	cfg       *Config
	logger    hclog.Logger

	shutdownOnce sync.Once
	shutdownErr  error

	barrierMu   sync.Mutex
	barrierTerm uint64 //term whose earlier entries are known applied locally
}

type Config struct {
	NodeID        string        //unique ID for this node
	BindAddr      string        //net addr to bind Raft communication
	AdvertiseAddr string        //addr peers dial, defaults to the bound listener addr
	DataDir       string        //data directory for Raft storage
	Bootstrap     bool          //if this is the first node in the cluster
	Peers         []Peer        //other voters included when bootstrapping
	ApplyTimeout  time.Duration //upper bound for one replicated command
	Logger        hclog.Logger
}

// a voter known up front
type Peer struct {
	ID      string
	Address string
}

func NewNode(cfg *Config) (*Node, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("raft node id is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	raftFSM := fsm.NewRaftFSM()

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.Logger = logger

	raftCfg.HeartbeatTimeout = 1000 * time.Millisecond
	raftCfg.ElectionTimeout = 1000 * time.Millisecond
	raftCfg.CommitTimeout = 50 * time.Millisecond //time to wait before committing entries
	raftCfg.SnapshotThreshold = 8192              // snapshot after 8K log entries

	//add boltDB storage
	raftStorage, err := NewStorage(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create stores: %w", err)
	}

	//tcp transport for inter-node communication
	var advertise net.Addr
	if cfg.AdvertiseAddr != "" {
		advertise, err = net.ResolveTCPAddr("tcp", cfg.AdvertiseAddr)
		if err != nil {
			raftStorage.Close()
			return nil, fmt.Errorf("failed to resolve advertise addr: %w", err)
		}
	}

	transport, err := raft.NewTCPTransportWithLogger(cfg.BindAddr, advertise, 3, 10*time.Second, logger)
	if err != nil {
		raftStorage.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, raftFSM, raftStorage.LogStore, raftStorage.StableStore, raftStorage.SnapshotStore, transport)
	if err != nil {
		transport.Close()
		raftStorage.Close()
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	//bootstrap if needed, a node with existing state keeps its configuration
	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raftCfg.LocalID,
					Address: transport.LocalAddr(),
				},
			},
		}
		for _, p := range cfg.Peers {
			configuration.Servers = append(configuration.Servers, raft.Server{
				ID:      raft.ServerID(p.ID),
				Address: raft.ServerAddress(p.Address),
			})
		}

		if err := r.BootstrapCluster(configuration).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			r.Shutdown()
			transport.Close()
			raftStorage.Close()
			return nil, fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
	}

	logger.Info("raft node started", "id", cfg.NodeID, "addr", transport.LocalAddr())

	return &Node{
		raft:      r,
		fsm:       raftFSM.State(),
		raftFSM:   raftFSM,
		storage:   raftStorage,
		transport: transport,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// apply a command to the Raft cluster
// only the leader accepts commands, followers fail with types.ErrNotLeader
func (n *Node) Apply(ctx context.Context, cmd types.Command) (*types.Lease, error) {
	if !n.IsLeader() {
		return nil, n.notLeader()
	}

	data, err := types.EncodeCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}

	//replicate to cluster via Raft
	future := n.raft.Apply(data, n.applyTimeout(ctx))
	if err := future.Error(); err != nil {
		if isLeadershipErr(err) {
			return nil, n.notLeader()
		}
		return nil, fmt.Errorf("failed to apply command: %w", err)
	}

	res, ok := future.Response().(fsm.ApplyResult)
	if !ok {
		return nil, fmt.Errorf("unexpected fsm response %T", future.Response())
	}
	return res.Lease, res.Err
}

// confirms leadership with a quorum so local reads are not stale
// the first read of each term also waits for the FSM to catch up with
// everything committed before this node took over
func (n *Node) VerifyLeader(ctx context.Context) error {
	if err := n.raft.VerifyLeader().Error(); err != nil {
		if isLeadershipErr(err) {
			return n.notLeader()
		}
		return fmt.Errorf("failed to verify leadership: %w", err)
	}
	return n.barrier(ctx)
}

func (n *Node) barrier(ctx context.Context) error {
	term := n.raft.CurrentTerm()

	n.barrierMu.Lock()
	defer n.barrierMu.Unlock()
	if n.barrierTerm == term {
		return nil
	}

	if err := n.raft.Barrier(n.applyTimeout(ctx)).Error(); err != nil {
		if isLeadershipErr(err) {
			return n.notLeader()
		}
		return fmt.Errorf("failed to wait for fsm: %w", err)
	}
	n.barrierTerm = term
	n.logger.Debug("fsm caught up", "term", term, "applied", n.raft.AppliedIndex())
	return nil
}

// term in which local reads were last made safe, zero before the first read
func (n *Node) ReadTerm() uint64 {
	n.barrierMu.Lock()
	defer n.barrierMu.Unlock()
	return n.barrierTerm
}

// adds a voter, must be called on the leader
func (n *Node) Join(id, addr string) error {
	future := n.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 0)
	if err := future.Error(); err != nil {
		if isLeadershipErr(err) {
			return n.notLeader()
		}
		return fmt.Errorf("failed to add voter %s: %w", id, err)
	}
	n.logger.Info("voter added", "id", id, "addr", addr)
	return nil
}

// returns true if this node is the leader
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// returns the leader's address
func (n *Node) GetLeader() string {
	leaderAddr, _ := n.raft.LeaderWithID()
	return string(leaderAddr)
}

// the address peers use to reach this node
func (n *Node) Addr() string {
	return string(n.transport.LocalAddr())
}

// delivers true on gaining and false on losing leadership
func (n *Node) LeaderCh() <-chan bool {
	return n.raft.LeaderCh()
}

// blocks until a leader is elected
func (n *Node) WaitForLeader(timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	timeoutCh := time.After(timeout)

	for {
		select {
		case <-timeoutCh:
			return fmt.Errorf("no leader elected within timeout")
		case <-ticker.C:
			if n.GetLeader() != "" {
				return nil
			}
		}
	}
}

// reads a lease from the local replica without any leadership check
func (n *Node) LocalLease(name string) (*types.Lease, bool) {
	return n.fsm.GetLease(name)
}

// returns FSM statistics
func (n *Node) Stats() fsm.Stats {
	return n.fsm.Stats()
}

// gracefully shuts down the Raft node, safe to call more than once
func (n *Node) Shutdown() error {
	n.shutdownOnce.Do(func() {
		if err := n.raft.Shutdown().Error(); err != nil {
			n.shutdownErr = err
			return
		}
		if err := n.transport.Close(); err != nil {
			n.shutdownErr = err
			return
		}
		n.shutdownErr = n.storage.Close()
	})
	return n.shutdownErr
}

func (n *Node) notLeader() error {
	return fmt.Errorf("%w: leader is %q", types.ErrNotLeader, n.GetLeader())
}

func (n *Node) applyTimeout(ctx context.Context) time.Duration {
	timeout := n.cfg.ApplyTimeout
	if timeout <= 0 {
		timeout = defaultApplyTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 && left < timeout {
			timeout = left
		}
	}
	return timeout
}

func isLeadershipErr(err error) bool {
	return errors.Is(err, raft.ErrNotLeader) ||
		errors.Is(err, raft.ErrLeadershipLost) ||
		errors.Is(err, raft.ErrLeadershipTransferInProgress)
}
