package cluster

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitforge/pkg/lifecycle"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestManager_NotRunning(t *testing.T) {
	m := NewManager(Config{NodeID: "n1"})

	_, err := m.Nodes()
	require.ErrorIs(t, err, ErrNotRunning)
	require.ErrorIs(t, m.Join("n2", "127.0.0.1:1"), ErrNotRunning)
	require.ErrorIs(t, m.Leave("n2"), ErrNotRunning)
	assert.False(t, m.IsLeader())

	_, ok := m.Leader()
	assert.False(t, ok)
	require.NoError(t, m.Shutdown())
}

func TestManager_BootstrapSingleNode(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	addr := freeAddr(t)
	root := lifecycle.Subject{ID: "root"}

	m := NewManager(Config{NodeID: "n1", Address: addr, DataDir: dir, Bootstrap: true})
	require.NoError(t, m.SystemStarting(ctx, root))
	t.Cleanup(func() { _ = m.Shutdown() })

	require.Eventually(t, m.IsLeader, 15*time.Second, 50*time.Millisecond)

	nodes, err := m.Nodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, Node{ID: "n1", Address: addr, Role: RoleLeader, Voter: true}, nodes[0])

	leader, ok := m.Leader()
	require.True(t, ok)
	assert.Equal(t, "n1", leader.ID)

	// Joining an existing member is a no-op.
	require.NoError(t, m.Join("n1", addr))

	require.NoError(t, m.SystemStopped(ctx, root))
	_, err = m.Nodes()
	require.ErrorIs(t, err, ErrNotRunning)

	// Restart reuses the persisted configuration instead of bootstrapping again.
	m = NewManager(Config{NodeID: "n1", Address: addr, DataDir: dir, Bootstrap: true})
	require.NoError(t, m.SystemStarting(ctx, root))
	t.Cleanup(func() { _ = m.Shutdown() })
	require.Eventually(t, m.IsLeader, 15*time.Second, 50*time.Millisecond)
}
