package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
)

// Default ports.
const (
	DefaultHTTPPort    = 6610
	DefaultSSHPort     = 6611
	DefaultGRPCPort    = 6612
	DefaultHTTPSPort   = 6643
	DefaultClusterPort = 5701
)

// LoopbackAddress is the cluster address of a node whose database is
// embedded and therefore cannot have peers.
const LoopbackAddress = "127.0.0.1"

var (
	ErrMalformedDatabaseURL = errors.New("malformed database url")
	ErrUnsupportedDialect   = errors.New("unsupported database dialect")
	ErrProbeFailed          = errors.New("cluster address probe failed")
	ErrTrustCertsMissing    = errors.New("trust certs directory does not exist")
	ErrInvalidSetting       = errors.New("invalid setting")
)

// ServerConfig is the resolved configuration of a node. It is created once by
// Resolve and never modified afterwards.
type ServerConfig struct {
	// HTTPPort is the plain HTTP port; 0 disables HTTP in favour of HTTPSPort.
	HTTPPort int `validate:"min=0,max=65535"`

	HTTPSPort int `validate:"min=0,max=65535"`
	SSHPort   int `validate:"min=0,max=65535"`
	GRPCPort  int `validate:"min=0,max=65535"`

	// TrustCertsDir holds PEM certificates to trust. Empty when unset.
	TrustCertsDir string

	// KeystoreFile is a PEM bundle with the server certificate chain and key.
	KeystoreFile     string
	KeystorePassword string

	// ClusterAddress is the address advertised to cluster peers.
	ClusterAddress   string `validate:"required"`
	ClusterPort      int    `validate:"min=1,max=65535"`
	ClusterBootstrap bool

	ConfDir     string
	DataDir     string `validate:"required"`
	DatabaseURL string `validate:"required"`

	Logging LoggingConfig
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `validate:"oneof=text json"`
}

// ClusterAddr returns the host:port cluster peers connect to.
func (c *ServerConfig) ClusterAddr() string {
	return net.JoinHostPort(c.ClusterAddress, strconv.Itoa(c.ClusterPort))
}

// Redacted returns a copy safe for printing.
func (c *ServerConfig) Redacted() ServerConfig {
	out := *c
	if out.KeystorePassword != "" {
		out.KeystorePassword = "********"
	}
	return out
}

// Option customizes Resolve.
type Option func(*resolver)

// WithLogger sets the logger used for defaulting warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *resolver) { r.logger = l }
}

// WithProber replaces the network probe used to discover the cluster address.
func WithProber(p Prober) Option {
	return func(r *resolver) { r.prober = p }
}

type resolver struct {
	src    *Source
	logger *slog.Logger
	prober Prober
}

// Resolve builds the server configuration from src.
//
// Each setting is taken from the environment, then the properties store, then
// a built-in default where one exists. When cluster_ip is unset the cluster
// address is derived from the database URL: loopback for embedded databases,
// otherwise the local address of a probe connection to the database server.
// Any failure is fatal; no partially resolved configuration is returned.
func Resolve(ctx context.Context, src *Source, opts ...Option) (*ServerConfig, error) {
	r := &resolver{
		src:    src,
		logger: slog.Default(),
		prober: DialProber{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r.resolve(ctx)
}

func (r *resolver) resolve(ctx context.Context) (*ServerConfig, error) {
	cfg := &ServerConfig{ConfDir: r.src.ConfDir()}

	var err error
	if cfg.HTTPPort, err = r.port(KeyHTTPPort, DefaultHTTPPort); err != nil {
		return nil, err
	}
	if cfg.HTTPSPort, err = r.port(KeyHTTPSPort, DefaultHTTPSPort); err != nil {
		return nil, err
	}
	if cfg.SSHPort, err = r.port(KeySSHPort, DefaultSSHPort); err != nil {
		return nil, err
	}
	if cfg.GRPCPort, err = r.port(KeyGRPCPort, DefaultGRPCPort); err != nil {
		return nil, err
	}

	if dir, ok := r.src.Lookup(KeyTrustCerts); ok {
		dir = r.path(dir)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrTrustCertsMissing, dir)
		}
		cfg.TrustCertsDir = dir
	}
	if file, ok := r.src.Lookup(KeyKeystoreFile); ok {
		cfg.KeystoreFile = r.path(file)
	}
	cfg.KeystorePassword, _ = r.src.Lookup(KeyKeystorePassword)

	cfg.DataDir = DefaultDataDir()
	if dir, ok := r.src.Lookup(KeyDataDir); ok {
		cfg.DataDir = r.path(dir)
	}
	cfg.DatabaseURL = "badger:" + filepath.Join(cfg.DataDir, "db")
	if u, ok := r.src.Lookup(KeyDatabaseURL); ok {
		cfg.DatabaseURL = u
	}

	if cfg.ClusterAddress, err = r.clusterAddress(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	if cfg.ClusterPort, err = r.port(KeyClusterPort, DefaultClusterPort); err != nil {
		return nil, err
	}
	cfg.ClusterBootstrap = true
	if s, ok := r.src.Lookup(KeyClusterBootstrap); ok {
		if cfg.ClusterBootstrap, err = cast.ToBoolE(s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSetting, KeyClusterBootstrap, err)
		}
	}

	cfg.Logging.Level = "info"
	if s, ok := r.src.Lookup(KeyLogLevel); ok {
		cfg.Logging.Level = s
	}
	cfg.Logging.Format = "text"
	if s, ok := r.src.Lookup(KeyLogFormat); ok {
		cfg.Logging.Format = s
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSetting, err)
	}

	return cfg, nil
}

// port parses an integer setting, falling back to def when unset.
func (r *resolver) port(key string, def int) (int, error) {
	s, ok := r.src.Lookup(key)
	if !ok {
		r.logger.Warn(key+" not specified, using default", "default", def)
		return def, nil
	}
	// Base 10 only: cast would read a leading zero as octal.
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidSetting, key, s)
	}
	return p, nil
}

// path resolves p against the configuration directory unless absolute.
func (r *resolver) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.src.ConfDir(), p)
}

func (r *resolver) clusterAddress(ctx context.Context, dbURL string) (string, error) {
	if ip, ok := r.src.Lookup(KeyClusterIP); ok {
		return ip, nil
	}

	u, err := ParseDatabaseURL(dbURL)
	if err != nil {
		return "", err
	}
	if u.Embedded {
		return LoopbackAddress, nil
	}

	addr, err := r.prober.LocalAddress(ctx, u.Addr())
	if err != nil {
		return "", fmt.Errorf("failed to determine cluster address via %s: %w", u.Addr(), err)
	}
	r.logger.Info("cluster address discovered", "address", addr, "database", u.Addr())
	return addr, nil
}
