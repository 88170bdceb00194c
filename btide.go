// Package btide implements a peer-to-peer file distribution node. Files are
// described by bpkg manifests, split into fixed-size chunks attested by a
// Merkle tree; peers request chunks by hash, verify them against the tree,
// and install them into a sparse local file.
package btide

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/btide/btide/internal/bpkg"
	"github.com/btide/btide/internal/config"
	"github.com/btide/btide/internal/packet"
	"github.com/btide/btide/internal/peer"
	"github.com/btide/btide/internal/request"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownPeer is returned when an operation names a peer that is not in
// the registry.
var ErrUnknownPeer = errors.New("unknown peer")

// Node wires the peer registry, request queue, and package set together and
// exposes the operations the command surface drives.
type Node struct {
	cfg      config.Config
	log      *logrus.Logger
	registry *peer.Registry
	queue    *request.Queue
	packages *bpkg.Set
	listener *peer.Listener

	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// New constructs a node and binds its listener. A bind failure is fatal to
// startup.
func New(cfg config.Config, log *logrus.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := peer.NewRegistry(cfg.MaxPeers)
	queue := request.NewQueue()
	packages := bpkg.NewSet(cfg.Directory)

	listener, err := peer.Listen(cfg.Port, registry, queue, packages, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	return &Node{
		cfg:      cfg,
		log:      log,
		registry: registry,
		queue:    queue,
		packages: packages,
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
		group:    group,
	}, nil
}

// Start begins accepting inbound connections.
func (n *Node) Start() {
	if n.started {
		return
	}
	n.started = true
	n.log.WithField("port", n.Port()).Info("listening")
	n.group.Go(func() error {
		return n.listener.Run(n.ctx)
	})
}

// Port returns the listener's bound TCP port.
func (n *Node) Port() uint16 {
	return n.listener.Port()
}

// Connect dials a remote node, runs the initiating handshake, and starts a
// session for the new peer.
func (n *Node) Connect(ip string, port uint16) error {
	if n.registry.Find(ip, port) != nil {
		return fmt.Errorf("%w: %s:%d", peer.ErrDuplicatePeer, ip, port)
	}

	p, err := peer.Dial(ip, port)
	if err != nil {
		return err
	}
	if err := n.registry.Add(p); err != nil {
		_ = p.Close()
		return err
	}

	n.group.Go(func() error {
		peer.NewSession(p, n.registry, n.queue, n.packages, n.log).Run(n.ctx)
		return nil
	})
	return nil
}

// Disconnect enqueues a DSN for the matching peer and waits for its session
// to take it.
func (n *Node) Disconnect(ctx context.Context, ip string, port uint16) error {
	p := n.registry.Find(ip, port)
	if p == nil {
		return fmt.Errorf("%w: %s:%d", ErrUnknownPeer, ip, port)
	}

	req := request.New(p, &packet.Packet{Code: packet.DSN})
	if err := n.queue.Enqueue(req); err != nil {
		return err
	}
	st, err := req.Wait(ctx)
	if err != nil {
		return err
	}
	if st != request.Success {
		return fmt.Errorf("disconnect from %s resolved %s", p.Addr(), st)
	}
	return nil
}

// Fetch requests one chunk of a loaded package from a connected peer and
// waits for the transfer to resolve. The chunk's byte range comes from the
// local manifest.
func (n *Node) Fetch(ctx context.Context, ip string, port uint16, ident, hash string) (request.Status, error) {
	pkg, err := n.packages.Find(ident)
	if err != nil {
		return request.Failed, err
	}
	offset, size, err := pkg.ChunkRange(hash)
	if err != nil {
		return request.Failed, err
	}
	if offset > math.MaxUint32 {
		return request.Failed, fmt.Errorf("chunk offset %d exceeds wire range", offset)
	}

	p := n.registry.Find(ip, port)
	if p == nil {
		return request.Failed, fmt.Errorf("%w: %s:%d", ErrUnknownPeer, ip, port)
	}

	req := request.New(p, packet.NewReq(ident, hash, uint32(offset), size))
	if err := n.queue.Enqueue(req); err != nil {
		return request.Failed, err
	}
	return req.Wait(ctx)
}

// AddPackage loads a manifest into the package set.
func (n *Node) AddPackage(path string) (*bpkg.Package, bpkg.FileStatus, error) {
	return n.packages.Add(path)
}

// RemovePackage unloads the package with the given ident.
func (n *Node) RemovePackage(ident string) error {
	return n.packages.Remove(ident)
}

// Packages returns the loaded packages ordered by ident.
func (n *Node) Packages() []*bpkg.Package {
	return n.packages.List()
}

// Peers returns the active peers ordered by address.
func (n *Node) Peers() []*peer.Peer {
	return n.registry.Snapshot()
}

// Close shuts the node down: the queue stops accepting requests and fails
// everything pending, sessions observe cancellation and tear down, and the
// package set closes its backing files.
func (n *Node) Close() error {
	n.cancel()
	n.queue.Shutdown()
	if !n.started {
		_ = n.listener.Close()
	}
	err := n.group.Wait()
	if cerr := n.packages.Close(); err == nil {
		err = cerr
	}
	return err
}
