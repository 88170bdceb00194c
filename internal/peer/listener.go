package peer

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/btide/btide/internal/bpkg"
	"github.com/btide/btide/internal/packet"
	"github.com/btide/btide/internal/request"
	"github.com/btide/btide/internal/utils"
	"github.com/sirupsen/logrus"
)

// Listener accepts inbound connections, runs the responding handshake, and
// starts a session for each peer the registry admits.
type Listener struct {
	ln       net.Listener
	registry *Registry
	queue    *request.Queue
	packages *bpkg.Set
	log      *logrus.Logger

	wg sync.WaitGroup
}

// Listen binds the node's TCP port. Port 0 asks the OS for a free port;
// Port() reports the bound one.
func Listen(port uint16, reg *Registry, q *request.Queue, pkgs *bpkg.Set, log *logrus.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, utils.WrapError("listener bind failed", err)
	}
	return &Listener{
		ln:       ln,
		registry: reg,
		queue:    q,
		packages: pkgs,
		log:      log,
	}, nil
}

// Port returns the bound TCP port.
func (l *Listener) Port() uint16 {
	//nolint:gosec // G115: TCP ports fit in uint16
	return uint16(l.ln.Addr().(*net.TCPAddr).Port)
}

// Close closes the listening socket. Run does this itself on context
// cancellation; Close covers listeners that never ran.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Run accepts connections until ctx is cancelled, then waits for the
// sessions it spawned to drain.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return utils.WrapError("accept failed", err)
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleInbound(ctx, conn)
		}()
	}
}

// handleInbound admits one accepted connection: handshake, registry add,
// session. Rejections answer DSN and close.
func (l *Listener) handleInbound(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()

	if err := AcceptHandshake(conn); err != nil {
		l.log.WithError(err).WithField("remote", remote).Debug("inbound handshake failed")
		_ = conn.Close()
		return
	}

	host, portStr, err := net.SplitHostPort(remote)
	if err != nil {
		_ = conn.Close()
		return
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		_ = conn.Close()
		return
	}

	p := New(host, port, conn)
	if err := l.registry.Add(p); err != nil {
		l.log.WithError(err).WithField("remote", remote).Info("inbound peer rejected")
		_ = writeFrame(conn, &packet.Packet{Code: packet.DSN})
		_ = conn.Close()
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		NewSession(p, l.registry, l.queue, l.packages, l.log).Run(ctx)
	}()
}
