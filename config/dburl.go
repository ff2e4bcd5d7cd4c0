package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Dialects that keep their data on the local host. A node using one of them
// cannot share its database with other nodes.
var embeddedDialects = map[string]bool{
	"badger": true,
	"sqlite": true,
	"memory": true,
	"hsqldb": true,
	"h2":     true,
}

// DatabaseURL is the parsed form of the data layer's connection URL.
type DatabaseURL struct {
	// Dialect is the lower-cased token that selects the URL syntax
	// (postgresql, mysql, sqlserver, oracle, badger, ...).
	Dialect string

	// Embedded reports a file-based or in-process database.
	Embedded bool

	// Location is everything after the dialect token. For embedded
	// dialects this is the database path.
	Location string

	// Host and Port of the database server. Unset for embedded dialects.
	Host string
	Port int
}

// Addr returns host:port of the database server.
func (u DatabaseURL) Addr() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// ParseDatabaseURL parses a connection URL such as
//
//	jdbc:postgresql://db.example.com:5432/gitforge
//	mysql://db:3306/gitforge
//	jdbc:sqlserver://db:1433;databaseName=gitforge
//	jdbc:oracle:thin:@db:1521/ORCL
//	badger:/var/lib/gitforge/db
//
// The jdbc: prefix is optional. Unknown dialects and URLs without a usable
// host and port are rejected.
func ParseDatabaseURL(raw string) (DatabaseURL, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "jdbc:")

	dialect, rest, ok := strings.Cut(s, ":")
	if !ok || dialect == "" {
		return DatabaseURL{}, fmt.Errorf("%w: %q", ErrMalformedDatabaseURL, raw)
	}

	u := DatabaseURL{Dialect: strings.ToLower(dialect), Location: rest}
	if embeddedDialects[u.Dialect] {
		u.Embedded = true
		return u, nil
	}

	var err error
	switch u.Dialect {
	case "postgres", "postgresql":
		u.Host, u.Port, err = parsePostgres(rest)
	case "mysql", "mariadb":
		u.Host, u.Port, err = parseSlashed(rest, "/?")
	case "sqlserver":
		u.Host, u.Port, err = parseSlashed(rest, ";")
	case "oracle":
		u.Host, u.Port, err = parseOracle(rest)
	default:
		return DatabaseURL{}, fmt.Errorf("%w: %q", ErrUnsupportedDialect, u.Dialect)
	}
	if err != nil {
		return DatabaseURL{}, fmt.Errorf("%w: %q: %v", ErrMalformedDatabaseURL, raw, err)
	}

	return u, nil
}

// parseSlashed handles //host:port<term>... where any byte of terms ends
// the port field.
func parseSlashed(rest, terms string) (string, int, error) {
	after, ok := strings.CutPrefix(rest, "//")
	if !ok {
		return "", 0, fmt.Errorf("expected // before host")
	}
	if i := strings.IndexAny(after, terms); i >= 0 {
		after = after[:i]
	}

	host, port, err := net.SplitHostPort(after)
	if err != nil {
		return "", 0, err
	}
	return checkHostPort(host, port)
}

// parseOracle handles thin-driver URLs, where the host follows an @ marker
// and the port ends at a service-name slash or a SID colon.
func parseOracle(rest string) (string, int, error) {
	_, after, ok := strings.Cut(rest, "@")
	if !ok {
		return "", 0, fmt.Errorf("expected @ before host")
	}
	after = strings.TrimPrefix(after, "//")

	host, tail, ok := strings.Cut(after, ":")
	if !ok {
		return "", 0, fmt.Errorf("missing port")
	}
	if i := strings.IndexAny(tail, "/:?"); i >= 0 {
		tail = tail[:i]
	}
	return checkHostPort(host, tail)
}

func parsePostgres(rest string) (string, int, error) {
	if !strings.HasPrefix(rest, "//") {
		return "", 0, fmt.Errorf("expected // before host")
	}

	cfg, err := pgconn.ParseConfig("postgres:" + rest)
	if err != nil {
		return "", 0, err
	}
	// Unix socket directories are not reachable from other hosts.
	if cfg.Host == "" || strings.HasPrefix(cfg.Host, "/") {
		return "", 0, fmt.Errorf("no network host")
	}
	return cfg.Host, int(cfg.Port), nil
}

func checkHostPort(host, port string) (string, int, error) {
	if host == "" {
		return "", 0, fmt.Errorf("missing host")
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", port)
	}
	if p < 1 || p > 65535 {
		return "", 0, fmt.Errorf("port %d out of range", p)
	}
	return host, p, nil
}
