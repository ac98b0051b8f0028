// Package probe answers one question: is a freshly launched stand
// reachable yet. It polls a predicate and checks SSH reachability by
// performing a real handshake, not just a TCP connect.
package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	// DefaultTimeout bounds one reachability wait
	DefaultTimeout = 120 * time.Second
	// DefaultInterval is the polling step
	DefaultInterval = 500 * time.Millisecond

	dialTimeout = 5 * time.Second
)

// WaitFor polls predicate until it returns true, an error, or timeout.
// interval <= 0 uses DefaultInterval.
func WaitFor(ctx context.Context, predicate func(ctx context.Context) (bool, error), timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := predicate(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out after %s: %w", timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// SSHReachable dials addr and attempts an SSH handshake. A host that
// answers the handshake far enough to reject our empty auth is up; only
// connection level failures count as unreachable.
func SSHReachable(ctx context.Context, addr string) bool {
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, "22")
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	defer conn.Close()

	config := &ssh.ClientConfig{
		User:            "probe",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		// Auth rejection still proves sshd is answering
		return strings.Contains(err.Error(), "unable to authenticate")
	}
	ssh.NewClient(sshConn, chans, reqs).Close()
	return true
}

// WaitForSSH waits until addr accepts SSH connections
func WaitForSSH(ctx context.Context, addr string, timeout time.Duration) error {
	return WaitFor(ctx, func(ctx context.Context) (bool, error) {
		return SSHReachable(ctx, addr), nil
	}, timeout, 0)
}
