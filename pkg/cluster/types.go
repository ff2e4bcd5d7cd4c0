package cluster

import (
	"errors"
	"log/slog"
	"time"
)

// Role indicates the node's cluster role.
type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
)

var ErrNotRunning = errors.New("cluster is not running")

// Node represents a cluster member.
type Node struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Role    Role   `json:"role"`
	Voter   bool   `json:"voter"`
}

// Config controls the cluster manager.
type Config struct {
	// NodeID is this process's ID.
	NodeID string
	// Address is this process's advertised host:port.
	Address string
	// DataDir holds the Raft log and snapshots.
	DataDir string
	// Bootstrap allows forming a new cluster when no state exists.
	Bootstrap bool
	// ChangeTimeout bounds membership changes. Defaults to 10s.
	ChangeTimeout time.Duration
	Logger        *slog.Logger
}
