package storage

import (
	"context"
	"errors"
)

var (
	ErrUnsupportedBackend = errors.New("unsupported storage backend")
	ErrUnknownStep        = errors.New("unknown setup step")
	ErrInvalidStepValue   = errors.New("invalid setup step value")
	ErrSetupIncomplete    = errors.New("server setup is incomplete")
)

// KV defines the key/value contract every storage backend provides.
type KV interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}
