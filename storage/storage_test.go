package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]*Storage {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	urls := map[string]string{
		"memory": "memory:",
		"badger": "badger:" + filepath.Join(dir, "badger"),
		"sqlite": "jdbc:sqlite:" + filepath.Join(dir, "sqlite", "gitforge.db"),
	}

	out := make(map[string]*Storage, len(urls))
	for name, u := range urls {
		s, err := Open(ctx, u)
		require.NoError(t, err, name)
		t.Cleanup(func() { _ = s.Close() })
		out[name] = s
	}
	return out
}

func TestStorage_SetupFlow(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			steps, err := s.Init(ctx)
			require.NoError(t, err)
			require.Len(t, steps, 2)
			assert.Equal(t, StepRootAccount, steps[0].Key)
			assert.Equal(t, StepServerURL, steps[1].Key)

			_, err = s.Root(ctx)
			require.ErrorIs(t, err, ErrSetupIncomplete)

			remaining, err := s.CompleteStep(ctx, StepRootAccount, " admin ")
			require.NoError(t, err)
			assert.Equal(t, 1, remaining)

			root, err := s.Root(ctx)
			require.NoError(t, err)
			assert.Equal(t, "admin", root.Name)
			assert.NotEmpty(t, root.ID)

			remaining, err = s.CompleteStep(ctx, StepServerURL, "https://git.example.com/")
			require.NoError(t, err)
			assert.Equal(t, 0, remaining)

			_, ok, err := s.ServerURL(ctx)
			require.NoError(t, err)
			assert.True(t, ok)

			url, ok, err := s.Setting(ctx, SettingServerURL)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "https://git.example.com", url)

			steps, err = s.Init(ctx)
			require.NoError(t, err)
			assert.Empty(t, steps)

			// Renaming the root account keeps its ID.
			_, err = s.CompleteStep(ctx, StepRootAccount, "owner")
			require.NoError(t, err)
			renamed, err := s.Root(ctx)
			require.NoError(t, err)
			assert.Equal(t, root.ID, renamed.ID)
			assert.Equal(t, "owner", renamed.Name)
		})
	}
}

func TestStorage_InvalidSteps(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CompleteStep(ctx, "license", "x")
	require.ErrorIs(t, err, ErrUnknownStep)

	for _, v := range []string{"", "two words", "a/b"} {
		_, err = s.CompleteStep(ctx, StepRootAccount, v)
		assert.ErrorIs(t, err, ErrInvalidStepValue, v)
	}

	for _, v := range []string{"", "git.example.com", "ftp://git.example.com", "http://"} {
		_, err = s.CompleteStep(ctx, StepServerURL, v)
		assert.ErrorIs(t, err, ErrInvalidStepValue, v)
	}

	steps, err := s.PendingSteps(ctx)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestStorage_NodeIDIsStable(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")

	s, err := Open(ctx, "badger:"+dir)
	require.NoError(t, err)
	id, err := s.NodeID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, s.Close())

	s, err = Open(ctx, "badger:"+dir)
	require.NoError(t, err)
	defer s.Close()

	again, err := s.NodeID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, "badger", s.Dialect())
}

func TestOpen_Rejected(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, "jdbc:mysql://db:3306/gitforge")
	require.ErrorIs(t, err, ErrUnsupportedBackend)

	_, err = Open(ctx, "jdbc:hsqldb:file:/tmp/db")
	require.ErrorIs(t, err, ErrUnsupportedBackend)

	_, err = Open(ctx, "badger:")
	require.ErrorIs(t, err, ErrUnsupportedBackend)

	_, err = Open(ctx, "not a url")
	require.Error(t, err)
}

func TestKV_Delete(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.kv.Set(ctx, "k", []byte("v1")))
			require.NoError(t, s.kv.Set(ctx, "k", []byte("v2")))

			v, ok, err := s.kv.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("v2"), v)

			require.NoError(t, s.kv.Delete(ctx, "k"))
			require.NoError(t, s.kv.Delete(ctx, "k"))

			_, ok, err = s.kv.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}
