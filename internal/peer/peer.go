// Package peer manages the node's active peers: the bounded registry, the
// per-peer session state machine, and the listener accepting inbound
// connections.
package peer

import (
	"fmt"
	"net"

	"github.com/google/uuid"
)

// Peer is one connected remote node. A peer record is created after a
// successful handshake and destroyed when its session exits.
type Peer struct {
	IP   string
	Port uint16
	// ID correlates a session's log lines; it is not part of peer identity.
	ID string

	conn net.Conn
}

// New creates a peer record for a connected socket.
func New(ip string, port uint16, conn net.Conn) *Peer {
	return &Peer{
		IP:   ip,
		Port: port,
		ID:   uuid.NewString()[:8],
		conn: conn,
	}
}

// Addr returns the textual ip:port of the peer.
func (p *Peer) Addr() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Close closes the peer's socket. The owning session normally does this
// during teardown; callers close directly only for peers that never got a
// session.
func (p *Peer) Close() error {
	return p.conn.Close()
}
