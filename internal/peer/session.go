package peer

import (
	"context"
	"errors"
	"time"

	"github.com/btide/btide/internal/bpkg"
	"github.com/btide/btide/internal/packet"
	"github.com/btide/btide/internal/request"
	"github.com/sirupsen/logrus"
)

// Session drives one peer connection: it serves outbound requests from the
// shared queue and dispatches inbound packets until the peer disconnects,
// the connection fails, or the node shuts down. At most one REQ is in
// flight at a time, which makes RES correlation unambiguous.
type Session struct {
	peer     *Peer
	registry *Registry
	queue    *request.Queue
	packages *bpkg.Set
	log      *logrus.Entry

	// recvTimeout paces the loop and respTimeout bounds the wait for a
	// RES; both overridable in tests.
	recvTimeout time.Duration
	respTimeout time.Duration

	inflight *request.Request
	sentAt   time.Time
}

// NewSession wires a session for a registered peer.
func NewSession(p *Peer, reg *Registry, q *request.Queue, pkgs *bpkg.Set, log *logrus.Logger) *Session {
	return &Session{
		peer:        p,
		registry:    reg,
		queue:       q,
		packages:    pkgs,
		log:         log.WithFields(logrus.Fields{"peer": p.Addr(), "session": p.ID}),
		recvTimeout: recvTimeout,
		respTimeout: responseTimeout,
	}
}

// Run executes the session loop until termination. Teardown runs on every
// exit path: the socket closes, still-queued requests for this peer fail,
// and the peer leaves the registry.
func (s *Session) Run(ctx context.Context) {
	defer s.teardown()
	s.log.Info("session active")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if done := s.pumpOutbound(); done || ctx.Err() != nil {
			return
		}

		pkt, err := readFrame(s.peer.conn, s.recvTimeout)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, ErrNetworkTimeout) {
				continue // absence of input is not fatal
			}
			s.log.WithError(err).Debug("receive failed")
			return
		}
		if done := s.dispatch(pkt); done {
			return
		}
	}
}

// pumpOutbound sends the next queued request for this peer, or expires the
// in-flight one. Returns true when the session must terminate.
func (s *Session) pumpOutbound() bool {
	if s.inflight != nil {
		if time.Since(s.sentAt) > s.respTimeout {
			s.log.Warn("request timed out waiting for RES")
			s.inflight.Resolve(request.Failed)
			s.inflight = nil
		}
		// The correlation rule: no new request until the prior resolves.
		return false
	}

	req := s.queue.NextMatching(s.peer)
	if req == nil {
		return false
	}

	if err := writeFrame(s.peer.conn, req.Packet); err != nil {
		s.log.WithError(err).Debug("send failed")
		req.Resolve(request.Failed)
		return true
	}

	switch req.Packet.Code {
	case packet.REQ:
		s.inflight = req
		s.sentAt = time.Now()
	case packet.DSN:
		req.Resolve(request.Success)
		return true
	default:
		// PNG and friends need no correlation.
		req.Resolve(request.Success)
	}
	return false
}

// dispatch handles one inbound packet. Returns true when the session must
// terminate.
func (s *Session) dispatch(pkt *packet.Packet) bool {
	switch pkt.Code {
	case packet.PNG:
		return s.reply(&packet.Packet{Code: packet.POG})
	case packet.ACP:
		return s.reply(&packet.Packet{Code: packet.ACK})
	case packet.REQ:
		return s.serveChunk(pkt)
	case packet.RES:
		s.completeInflight(pkt)
		return false
	case packet.DSN:
		_ = writeFrame(s.peer.conn, &packet.Packet{Code: packet.DSN})
		s.log.Info("peer disconnected")
		return true
	default:
		// POG, post-handshake ACK, unknown codes.
		return false
	}
}

func (s *Session) reply(pkt *packet.Packet) bool {
	if err := writeFrame(s.peer.conn, pkt); err != nil {
		s.log.WithError(err).Debug("reply failed")
		return true
	}
	return false
}

// serveChunk answers an inbound REQ from the local package set. Missing
// packages or incomplete chunks answer RES with the error byte set.
func (s *Session) serveChunk(req *packet.Packet) bool {
	c := req.Chunk
	data, err := s.packages.ReadChunk(c.Ident, c.Hash, uint64(c.Offset), c.Size)
	if err != nil {
		s.log.WithError(err).Debug("cannot serve chunk")
		return s.reply(packet.NewRes(1, packet.Chunk{
			Ident:  c.Ident,
			Hash:   c.Hash,
			Offset: c.Offset,
		}))
	}
	return s.reply(packet.NewRes(0, packet.Chunk{
		Ident:  c.Ident,
		Hash:   c.Hash,
		Offset: c.Offset,
		Size:   uint32(len(data)),
		Data:   data,
	}))
}

// completeInflight resolves the in-flight request from an inbound RES.
func (s *Session) completeInflight(res *packet.Packet) {
	req := s.inflight
	if req == nil {
		return // unsolicited RES
	}
	s.inflight = nil

	if res.Error != 0 {
		s.log.Debug("peer answered RES with error")
		req.Resolve(request.Failed)
		return
	}

	c := res.Chunk
	if err := s.packages.InstallChunk(c.Ident, c.Hash, uint64(c.Offset), c.Data); err != nil {
		s.log.WithError(err).Warn("chunk install failed")
		req.Resolve(request.Failed)
		return
	}
	s.log.WithField("chunk", c.Hash[:16]).Debug("chunk installed")
	req.Resolve(request.Success)
}

// teardown closes the socket, fails anything still pending for this peer,
// and removes it from the registry.
func (s *Session) teardown() {
	_ = s.peer.conn.Close()
	if s.inflight != nil {
		s.inflight.Resolve(request.Failed)
		s.inflight = nil
	}
	s.queue.DrainFor(s.peer)
	s.registry.Remove(s.peer.IP, s.peer.Port)
	s.log.Info("session closed")
}
