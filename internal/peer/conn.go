package peer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/btide/btide/internal/packet"
	"github.com/btide/btide/internal/utils"
)

var (
	// ErrNetworkTimeout is returned when a bounded read sees no frame.
	ErrNetworkTimeout = errors.New("network timeout")
	// ErrNetworkClosed is returned when the remote end went away.
	ErrNetworkClosed = errors.New("connection closed")
	// ErrHandshake is returned when the ACP/ACK exchange fails.
	ErrHandshake = errors.New("handshake failed")
)

// Protocol timing. The handshake deadline is part of the peer contract; the
// receive timeout only paces the session loop.
const (
	HandshakeTimeout = 3 * time.Second
	recvTimeout      = 500 * time.Millisecond
	writeTimeout     = 3 * time.Second
	// responseTimeout bounds how long an in-flight request waits for RES.
	responseTimeout = 10 * time.Second
)

// writeFrame marshals and sends one frame.
func writeFrame(conn net.Conn, pkt *packet.Packet) error {
	buf := packet.GetFrame()
	defer packet.PutFrame(buf)

	if err := pkt.Marshal(buf); err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return utils.WrapError("set write deadline", err)
	}
	if _, err := conn.Write(buf); err != nil {
		return utils.WrapEntityError("frame write", conn.RemoteAddr().String(), classify(err))
	}
	return nil
}

// readFrame receives one whole frame, waiting at most timeout. Partial
// frames are read to completion; a chunk is received whole or not at all.
func readFrame(conn net.Conn, timeout time.Duration) (*packet.Packet, error) {
	buf := packet.GetFrame()
	defer packet.PutFrame(buf)

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, utils.WrapError("set read deadline", err)
	}
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, utils.WrapEntityError("frame read", conn.RemoteAddr().String(), classify(err))
	}
	return packet.Unmarshal(buf)
}

// classify maps transport errors onto the protocol error kinds.
func classify(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrNetworkClosed, err)
	}
	return err
}

// Dial connects out to a remote node and runs the initiating handshake:
// send ACP, wait up to HandshakeTimeout for ACK. On any failure the socket
// is closed and no peer record is created.
func Dial(ip string, port uint16) (*Peer, error) {
	addr := fmt.Sprintf("%s:%d", ip, port)
	conn, err := net.DialTimeout("tcp", addr, HandshakeTimeout)
	if err != nil {
		return nil, utils.WrapEntityError("dial", addr, err)
	}

	if err := writeFrame(conn, &packet.Packet{Code: packet.ACP}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	pkt, err := readFrame(conn, HandshakeTimeout)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: no ACK: %v", ErrHandshake, err)
	}
	if pkt.Code != packet.ACK {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: unexpected %s during handshake", ErrHandshake, pkt.Code)
	}

	return New(ip, port, conn), nil
}

// AcceptHandshake runs the responding side on an accepted connection: wait
// up to HandshakeTimeout for ACP, reply ACK.
func AcceptHandshake(conn net.Conn) error {
	pkt, err := readFrame(conn, HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("%w: no ACP: %v", ErrHandshake, err)
	}
	if pkt.Code != packet.ACP {
		return fmt.Errorf("%w: unexpected %s during handshake", ErrHandshake, pkt.Code)
	}
	if err := writeFrame(conn, &packet.Packet{Code: packet.ACK}); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	return nil
}
