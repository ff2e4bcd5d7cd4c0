package raft

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	hraft "github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config contains the minimal settings to start a Raft node.
type Config struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	Bootstrap bool
	Logger    *slog.Logger
}

// Server is one member of the Raft configuration.
type Server struct {
	ID      string
	Address string
	Voter   bool
}

// Node wraps hashicorp/raft components.
type Node struct {
	raft  *hraft.Raft
	store *raftboltdb.BoltStore
	snap  *hraft.FileSnapshotStore
	trans *hraft.NetworkTransport
}

// Start sets up a local raft node. With Bootstrap set, a node without prior
// state forms a single-voter cluster; existing state is reused as is.
func Start(cfg Config, fsm hraft.FSM) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("raft data dir: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := newLogger(cfg.Logger)

	// Stores
	store, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft.bolt"))
	if err != nil {
		return nil, fmt.Errorf("bolt store: %w", err)
	}
	snap, err := hraft.NewFileSnapshotStoreWithLogger(filepath.Join(cfg.DataDir, "snapshots"), 2, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("snapshot store: %w", err)
	}

	// Transport
	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("resolve %s: %w", cfg.BindAddr, err)
	}
	trans, err := hraft.NewTCPTransportWithLogger(cfg.BindAddr, addr, 3, 10*time.Second, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("transport: %w", err)
	}

	// Raft config
	rcfg := hraft.DefaultConfig()
	rcfg.LocalID = hraft.ServerID(cfg.NodeID)
	rcfg.Logger = logger

	n := &Node{store: store, snap: snap, trans: trans}

	if cfg.Bootstrap {
		existing, err := hraft.HasExistingState(store, store, snap)
		if err != nil {
			n.close()
			return nil, fmt.Errorf("inspect raft state: %w", err)
		}
		if !existing {
			conf := hraft.Configuration{Servers: []hraft.Server{{
				ID:      rcfg.LocalID,
				Address: trans.LocalAddr(),
			}}}
			if err := hraft.BootstrapCluster(rcfg, store, store, snap, trans, conf); err != nil {
				n.close()
				return nil, fmt.Errorf("bootstrap: %w", err)
			}
		}
	}

	ra, err := hraft.NewRaft(rcfg, fsm, store, store, snap, trans)
	if err != nil {
		n.close()
		return nil, err
	}
	n.raft = ra

	return n, nil
}

// LeaderID returns the current leader id, if known.
func (n *Node) LeaderID() string {
	if n == nil || n.raft == nil {
		return ""
	}
	_, id := n.raft.LeaderWithID()
	return string(id)
}

// IsLeader reports whether this node is the current leader.
func (n *Node) IsLeader() bool {
	if n == nil || n.raft == nil {
		return false
	}
	return n.raft.State() == hraft.Leader
}

// LocalAddr returns the address the transport advertises.
func (n *Node) LocalAddr() string {
	if n == nil || n.trans == nil {
		return ""
	}
	return string(n.trans.LocalAddr())
}

// Servers returns the current Raft configuration.
func (n *Node) Servers() ([]Server, error) {
	future := n.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, err
	}
	cfg := future.Configuration()
	out := make([]Server, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		out = append(out, Server{
			ID:      string(s.ID),
			Address: string(s.Address),
			Voter:   s.Suffrage == hraft.Voter,
		})
	}
	return out, nil
}

// AddVoter adds a voting member. Only the leader can change membership.
func (n *Node) AddVoter(id, address string, timeout time.Duration) error {
	return n.raft.AddVoter(hraft.ServerID(id), hraft.ServerAddress(address), 0, timeout).Error()
}

// RemoveServer removes a member.
func (n *Node) RemoveServer(id string, timeout time.Duration) error {
	return n.raft.RemoveServer(hraft.ServerID(id), 0, timeout).Error()
}

// Shutdown stops raft and closes stores.
func (n *Node) Shutdown() error {
	if n == nil {
		return nil
	}
	var err error
	if n.raft != nil {
		err = n.raft.Shutdown().Error()
	}
	n.close()
	return err
}

func (n *Node) close() {
	if n.trans != nil {
		_ = n.trans.Close()
	}
	if n.store != nil {
		_ = n.store.Close()
	}
}
