package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gitforge/config"
)

const (
	labelStarting = "Server is starting..."
	labelSetup    = "Server setup"
)

var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Options configures a Machine.
type Options struct {
	Config    *config.ServerConfig
	Data      DataInitializer
	Identity  IdentityProvider
	Listeners []Listener
	Logger    *slog.Logger
	Metrics   *Metrics

	// ServerURL returns the server URL recorded during setup, if any. It is
	// preferred over the guessed URL when announcing readiness.
	ServerURL func(context.Context) (string, bool, error)

	// Hostname defaults to os.Hostname.
	Hostname func() (string, error)
}

// Machine sequences node startup and shutdown.
//
// The supervisor calls Start, PostStart, PreStop and Stop in that order.
// Start may block while the node awaits manual setup; Release ends the wait.
// Snapshot and IsReady may be called from any goroutine at any time.
type Machine struct {
	cfg       *config.ServerConfig
	data      DataInitializer
	identity  IdentityProvider
	listeners []Listener
	logger    *slog.Logger
	metrics   *Metrics
	serverURL func(context.Context) (string, bool, error)
	hostname  func() (string, error)

	// stage is nil once the node is running. Published values are immutable.
	stage atomic.Pointer[Stage]
	phase atomic.Int32

	mu      sync.Mutex // serializes transitions
	begun   bool
	started bool

	// gate is open only while Start awaits setup.
	gateMu sync.Mutex
	gate   chan struct{}
}

// New creates a machine in the starting phase.
func New(opts Options) *Machine {
	m := &Machine{
		cfg:       opts.Config,
		data:      opts.Data,
		identity:  opts.Identity,
		listeners: append([]Listener(nil), opts.Listeners...),
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		serverURL: opts.ServerURL,
		hostname:  opts.Hostname,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.hostname == nil {
		m.hostname = os.Hostname
	}
	m.stage.Store(&Stage{Label: labelStarting})
	m.setPhase(PhaseStarting)
	return m
}

// Start initializes data, waits for manual setup when required, then calls
// SystemStarting on every listener.
//
// The wait ends when Release is called or ctx is done.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.begun {
		return fmt.Errorf("%w: start called twice", ErrInvalidTransition)
	}
	m.begun = true

	steps, err := m.data.Init(ctx)
	if err != nil {
		return fmt.Errorf("data initialization failed: %w", err)
	}

	if len(steps) > 0 {
		if url, err := m.GuessServerURL(); err == nil {
			m.logger.Warn("please set up the server at " + url)
		} else {
			m.logger.Warn("please set up the server", "error", err)
		}

		gate := m.openGate()
		m.stage.Store(&Stage{Label: labelSetup, Pending: append([]ManualStep(nil), steps...)})
		m.metrics.recordPending(len(steps))
		m.setPhase(PhaseAwaitingSetup)

		select {
		case <-gate:
		case <-ctx.Done():
			m.closeGate()
			return ctx.Err()
		}

		m.stage.Store(&Stage{Label: labelStarting})
		m.metrics.recordPending(0)
		m.setPhase(PhaseStarting)
	}

	err = m.notify(ctx, "system_starting", func(ctx context.Context, l Listener, root Subject) error {
		return l.SystemStarting(ctx, root)
	})
	if err != nil {
		return err
	}

	m.started = true
	return nil
}

// PostStart marks the node ready and calls SystemStarted on every listener.
// Listeners observe IsReady() == true.
func (m *Machine) PostStart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started || m.Phase() != PhaseStarting {
		return fmt.Errorf("%w: post start before start completed", ErrInvalidTransition)
	}

	m.stage.Store(nil)
	m.setPhase(PhaseRunning)

	err := m.notify(ctx, "system_started", func(ctx context.Context, l Listener, root Subject) error {
		return l.SystemStarted(ctx, root)
	})
	if err != nil {
		return err
	}

	if url, ok := m.readyURL(ctx); ok {
		m.logger.Info("server is ready at " + url)
	} else {
		m.logger.Info("server is ready")
	}
	return nil
}

// readyURL returns the configured server URL, falling back to a guess.
func (m *Machine) readyURL(ctx context.Context) (string, bool) {
	if m.serverURL != nil {
		url, ok, err := m.serverURL(ctx)
		if err != nil {
			m.logger.Warn("failed to read server url", "error", err)
		} else if ok {
			return url, true
		}
	}
	url, err := m.GuessServerURL()
	return url, err == nil
}

// PreStop calls SystemStopping on every listener.
func (m *Machine) PreStop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Phase() >= PhaseStopping {
		return fmt.Errorf("%w: already stopping", ErrInvalidTransition)
	}
	m.setPhase(PhaseStopping)

	return m.notify(ctx, "system_stopping", func(ctx context.Context, l Listener, root Subject) error {
		return l.SystemStopping(ctx, root)
	})
}

// Stop calls SystemStopped on every listener. Unlike the other phases a
// failing listener does not prevent the remaining ones from being called;
// all errors are returned joined. When the root identity cannot be resolved
// listeners receive the zero Subject.
func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Phase() == PhaseStopped {
		return fmt.Errorf("%w: already stopped", ErrInvalidTransition)
	}
	defer m.setPhase(PhaseStopped)

	var errs []error
	root, err := m.identity.Root(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to resolve root identity: %w", err))
		root = Subject{}
	}

	for _, l := range m.listeners {
		if err := l.SystemStopped(ctx, root); err != nil {
			m.metrics.recordFailure("system_stopped")
			errs = append(errs, fmt.Errorf("system_stopped: %s: %w", listenerName(l), err))
		}
	}
	return errors.Join(errs...)
}

// Release ends the setup wait in Start. It has no effect unless Start is
// awaiting setup, and is safe to call more than once.
func (m *Machine) Release() {
	m.closeGate()
}

func (m *Machine) openGate() <-chan struct{} {
	m.gateMu.Lock()
	defer m.gateMu.Unlock()
	m.gate = make(chan struct{})
	return m.gate
}

func (m *Machine) closeGate() {
	m.gateMu.Lock()
	defer m.gateMu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// Snapshot returns a copy of the current stage, or false once the node is
// ready.
func (m *Machine) Snapshot() (*Stage, bool) {
	s := m.stage.Load()
	if s == nil {
		return nil, false
	}
	return s.Clone(), true
}

// IsReady reports whether startup has completed.
func (m *Machine) IsReady() bool {
	return m.stage.Load() == nil
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return Phase(m.phase.Load())
}

// GuessServerURL returns the URL the server is likely reachable at, built
// from the host name and the HTTP port, or the HTTPS port when HTTP is
// disabled.
func (m *Machine) GuessServerURL() (string, error) {
	host, err := m.hostname()
	if err != nil {
		return "", fmt.Errorf("failed to determine host name: %w", err)
	}

	var url string
	if m.cfg.HTTPPort != 0 {
		url = fmt.Sprintf("http://%s:%d", host, m.cfg.HTTPPort)
	} else {
		url = fmt.Sprintf("https://%s:%d", host, m.cfg.HTTPSPort)
	}
	return strings.TrimRight(url, "/"), nil
}

func (m *Machine) setPhase(p Phase) {
	m.phase.Store(int32(p))
	m.metrics.recordPhase(p)
}

// notify resolves the root identity for this call and invokes hook on each
// listener in order, stopping at the first error.
func (m *Machine) notify(ctx context.Context, hook string, call func(context.Context, Listener, Subject) error) error {
	root, err := m.identity.Root(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve root identity: %w", err)
	}

	for _, l := range m.listeners {
		if err := call(ctx, l, root); err != nil {
			m.metrics.recordFailure(hook)
			return fmt.Errorf("%s: %s: %w", hook, listenerName(l), err)
		}
	}
	return nil
}

func listenerName(l Listener) string {
	if n, ok := l.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", l)
}
