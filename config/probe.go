package config

import (
	"context"
	"fmt"
	"net"
	"time"
)

// ProbeTimeout bounds the connection attempt made by the address probe.
const ProbeTimeout = 10 * time.Second

// Prober discovers the local address used to reach a remote endpoint.
type Prober interface {
	LocalAddress(ctx context.Context, addr string) (string, error)
}

// DialProber opens a TCP connection to the endpoint and reports the local
// side of it. The connection is closed before returning.
type DialProber struct {
	Timeout time.Duration
}

// LocalAddress implements Prober.
func (p DialProber) LocalAddress(ctx context.Context, addr string) (string, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = ProbeTimeout
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok || local.IP == nil {
		return "", fmt.Errorf("%w: unexpected local address %v", ErrProbeFailed, conn.LocalAddr())
	}
	return local.IP.String(), nil
}
