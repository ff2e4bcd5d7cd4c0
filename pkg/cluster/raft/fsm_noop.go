package raft

import (
	"io"

	hraft "github.com/hashicorp/raft"
)

// noopFSM is the state machine of a membership-only cluster: the Raft log
// carries configuration changes and nothing else.
type noopFSM struct{}

func (n noopFSM) Apply(*hraft.Log) interface{}         { return nil }
func (n noopFSM) Snapshot() (hraft.FSMSnapshot, error) { return noopSnapshot{}, nil }
func (n noopFSM) Restore(rc io.ReadCloser) error       { return rc.Close() }

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink hraft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                              {}

// NewNoopFSM returns the membership-only FSM.
func NewNoopFSM() hraft.FSM { return noopFSM{} }
