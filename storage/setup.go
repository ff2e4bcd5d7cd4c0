package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"gitforge/pkg/lifecycle"
)

// Setup step keys.
const (
	StepRootAccount = "root-account"
	StepServerURL   = "server-url"
)

const (
	keyRootAccount   = "setup/root-account"
	SettingServerURL = "server-url"
)

type setupStep struct {
	lifecycle.ManualStep
	done  func(ctx context.Context, s *Storage) (bool, error)
	apply func(ctx context.Context, s *Storage, value string) error
}

// Steps in the order an administrator is asked to complete them.
var setupSteps = []setupStep{
	{
		ManualStep: lifecycle.ManualStep{
			Key:         StepRootAccount,
			Title:       "Create administrator account",
			Description: "Name of the account that owns the server.",
		},
		done: func(ctx context.Context, s *Storage) (bool, error) {
			_, ok, err := s.kv.Get(ctx, keyRootAccount)
			return ok, err
		},
		apply: applyRootAccount,
	},
	{
		ManualStep: lifecycle.ManualStep{
			Key:         StepServerURL,
			Title:       "Specify server URL",
			Description: "Absolute http(s) URL users reach the server at.",
		},
		done: func(ctx context.Context, s *Storage) (bool, error) {
			_, ok, err := s.kv.Get(ctx, settingKey(SettingServerURL))
			return ok, err
		},
		apply: applyServerURL,
	},
}

type account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Init ensures the node has an identity and returns the setup steps that
// are still outstanding.
func (s *Storage) Init(ctx context.Context) ([]lifecycle.ManualStep, error) {
	if _, err := s.NodeID(ctx); err != nil {
		return nil, err
	}
	return s.PendingSteps(ctx)
}

// PendingSteps returns the outstanding setup steps in order.
func (s *Storage) PendingSteps(ctx context.Context) ([]lifecycle.ManualStep, error) {
	var pending []lifecycle.ManualStep
	for _, st := range setupSteps {
		done, err := st.done(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("failed to check setup step %s: %w", st.Key, err)
		}
		if !done {
			pending = append(pending, st.ManualStep)
		}
	}
	return pending, nil
}

// CompleteStep validates and records value for the given step and returns
// the number of steps still outstanding.
func (s *Storage) CompleteStep(ctx context.Context, key, value string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var step *setupStep
	for i := range setupSteps {
		if setupSteps[i].Key == key {
			step = &setupSteps[i]
			break
		}
	}
	if step == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownStep, key)
	}

	if err := step.apply(ctx, s, strings.TrimSpace(value)); err != nil {
		return 0, err
	}

	pending, err := s.PendingSteps(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// Root returns the root account as a lifecycle subject.
func (s *Storage) Root(ctx context.Context) (lifecycle.Subject, error) {
	v, ok, err := s.kv.Get(ctx, keyRootAccount)
	if err != nil {
		return lifecycle.Subject{}, fmt.Errorf("failed to read root account: %w", err)
	}
	if !ok {
		return lifecycle.Subject{}, ErrSetupIncomplete
	}

	var a account
	if err := json.Unmarshal(v, &a); err != nil {
		return lifecycle.Subject{}, fmt.Errorf("corrupt root account: %w", err)
	}
	return lifecycle.Subject{ID: a.ID, Name: a.Name}, nil
}

func applyRootAccount(ctx context.Context, s *Storage, name string) error {
	if name == "" || strings.ContainsAny(name, " \t\r\n/") {
		return fmt.Errorf("%w: account name %q", ErrInvalidStepValue, name)
	}

	// Renaming keeps the account ID stable.
	a := account{ID: uuid.NewString(), Name: name}
	if root, err := s.Root(ctx); err == nil {
		a.ID = root.ID
	}

	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, keyRootAccount, data)
}

func applyServerURL(ctx context.Context, s *Storage, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: server url %q", ErrInvalidStepValue, raw)
	}
	return s.kv.Set(ctx, settingKey(SettingServerURL), []byte(strings.TrimRight(raw, "/")))
}
