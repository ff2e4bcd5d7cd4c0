package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"gitforge/config"
	"gitforge/pkg/cluster"
	"gitforge/pkg/lifecycle"
)

// stopTimeout bounds graceful shutdown of each listener.
const stopTimeout = 30 * time.Second

// Lifecycle is the status surface of the lifecycle machine.
type Lifecycle interface {
	Snapshot() (*lifecycle.Stage, bool)
	IsReady() bool
	Phase() lifecycle.Phase
	Release()
}

// Setup records manual setup steps.
type Setup interface {
	CompleteStep(ctx context.Context, key, value string) (int, error)
}

// Cluster exposes cluster membership.
type Cluster interface {
	Nodes() ([]cluster.Node, error)
	Join(id, address string) error
}

// Deps are the collaborators the server reports on.
type Deps struct {
	Lifecycle Lifecycle
	Setup     Setup
	Cluster   Cluster
	Health    *Health
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

// Server serves the status and setup API over HTTP(S) and the health
// service over gRPC. It runs from before lifecycle start until after stop,
// so the setup API is reachable while the node awaits setup.
type Server struct {
	cfg    *config.ServerConfig
	deps   Deps
	logger *slog.Logger

	handler http.Handler
	grpc    *grpc.Server

	mu        sync.Mutex
	https     []*http.Server
	addrs     map[string]string
	listening bool
}

// New creates a server for cfg.
func New(cfg *config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Health == nil {
		deps.Health = NewHealth()
	}

	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 15 * time.Second,
			Time:              5 * time.Second,
			Timeout:           1 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	grpcServer := grpc.NewServer(opts...)
	deps.Health.Register(grpcServer)

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "server"),
		grpc:   grpcServer,
		addrs:  make(map[string]string),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start opens the listeners and serves in the background.
//
// HTTP is served on HTTPPort unless it is 0. HTTPS is served on HTTPSPort
// when HTTP is disabled or a keystore is configured.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listening {
		return errors.New("server already started")
	}

	if s.cfg.HTTPPort != 0 {
		if err := s.serveHTTP("http", s.cfg.HTTPPort, nil); err != nil {
			return err
		}
	}
	if s.cfg.HTTPPort == 0 || s.cfg.KeystoreFile != "" {
		tc, err := s.cfg.TLSConfig()
		if err != nil {
			s.closeLocked()
			return fmt.Errorf("https: %w", err)
		}
		if err := s.serveHTTP("https", s.cfg.HTTPSPort, tc); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.cfg.GRPCPort))
	if err != nil {
		s.closeLocked()
		return fmt.Errorf("failed to listen on grpc port %d: %w", s.cfg.GRPCPort, err)
	}
	s.addrs["grpc"] = ln.Addr().String()
	s.logger.Info("serving grpc", "address", ln.Addr().String())
	go func() {
		if err := s.grpc.Serve(ln); err != nil {
			s.logger.Error("grpc server error", "error", err)
		}
	}()

	s.listening = true
	return nil
}

func (s *Server) serveHTTP(name string, port int, tc *tls.Config) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		s.closeLocked()
		return fmt.Errorf("failed to listen on %s port %d: %w", name, port, err)
	}
	if tc != nil {
		ln = tls.NewListener(ln, tc)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.https = append(s.https, srv)
	s.addrs[name] = ln.Addr().String()
	s.logger.Info("serving "+name, "address", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(name+" server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address of the "http", "https" or "grpc" listener.
func (s *Server) Addr(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrs[name]
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.listening {
		return nil
	}
	s.listening = false

	s.logger.Info("stopping server")

	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	var errs []error
	for _, srv := range s.https {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.https = nil

	// Graceful stop with timeout
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("force stopping grpc server")
		s.grpc.Stop()
	}

	return errors.Join(errs...)
}

// closeLocked releases listeners opened by a failed Start.
func (s *Server) closeLocked() {
	for _, srv := range s.https {
		_ = srv.Close()
	}
	s.https = nil
}
