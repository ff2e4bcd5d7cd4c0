package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gitforge/pkg/cluster/raft"
	"gitforge/pkg/lifecycle"
)

// Manager owns the local raft node. It joins the lifecycle as a listener:
// raft starts with the system and shuts down after it.
type Manager struct {
	lifecycle.NopListener

	cfg    Config
	logger *slog.Logger

	mu   sync.RWMutex
	node *raft.Node
}

// NewManager creates a manager. Raft is not started until SystemStarting.
func NewManager(cfg Config) *Manager {
	if cfg.ChangeTimeout <= 0 {
		cfg.ChangeTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger.With("component", "cluster")}
}

// Name identifies the manager in lifecycle errors.
func (m *Manager) Name() string { return "cluster" }

// SystemStarting starts the raft node on the cluster address.
func (m *Manager) SystemStarting(ctx context.Context, _ lifecycle.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.node != nil {
		return nil
	}

	n, err := raft.Start(raft.Config{
		NodeID:    m.cfg.NodeID,
		BindAddr:  m.cfg.Address,
		DataDir:   m.cfg.DataDir,
		Bootstrap: m.cfg.Bootstrap,
		Logger:    m.logger,
	}, raft.NewNoopFSM())
	if err != nil {
		return err
	}
	m.node = n

	m.logger.Info("cluster node started", "node_id", m.cfg.NodeID, "address", n.LocalAddr())
	return nil
}

// SystemStopped shuts the raft node down.
func (m *Manager) SystemStopped(ctx context.Context, _ lifecycle.Subject) error {
	return m.Shutdown()
}

// Shutdown stops raft. It is safe to call when raft never started.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.node == nil {
		return nil
	}
	err := m.node.Shutdown()
	m.node = nil
	m.logger.Info("cluster node stopped")
	return err
}

// Join adds a server to the Raft configuration as a voting member.
// Joining an existing member is a no-op.
func (m *Manager) Join(id, address string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.node == nil {
		return ErrNotRunning
	}
	servers, err := m.node.Servers()
	if err != nil {
		return err
	}
	for _, s := range servers {
		if s.ID == id && s.Address == address {
			// already a member; treat as success
			return nil
		}
	}
	return m.node.AddVoter(id, address, m.cfg.ChangeTimeout)
}

// Leave removes a server from the Raft configuration.
func (m *Manager) Leave(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.node == nil {
		return ErrNotRunning
	}
	return m.node.RemoveServer(id, m.cfg.ChangeTimeout)
}

// Nodes returns the current servers known to Raft.
func (m *Manager) Nodes() ([]Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.node == nil {
		return nil, ErrNotRunning
	}
	servers, err := m.node.Servers()
	if err != nil {
		return nil, err
	}

	leader := m.node.LeaderID()
	nodes := make([]Node, 0, len(servers))
	for _, s := range servers {
		n := Node{ID: s.ID, Address: s.Address, Role: RoleFollower, Voter: s.Voter}
		if s.ID == leader {
			n.Role = RoleLeader
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Leader returns the current leader node, if known.
func (m *Manager) Leader() (Node, bool) {
	nodes, err := m.Nodes()
	if err != nil {
		return Node{}, false
	}
	for _, n := range nodes {
		if n.Role == RoleLeader {
			return n, true
		}
	}
	return Node{}, false
}

// IsLeader reports whether the local node leads the cluster.
func (m *Manager) IsLeader() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.node.IsLeader()
}
