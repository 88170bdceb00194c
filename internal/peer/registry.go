package peer

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rcrowley/go-metrics"
)

var (
	// ErrPeerCapacity is returned when the registry is full.
	ErrPeerCapacity = errors.New("peer capacity reached")
	// ErrDuplicatePeer is returned when a peer with the same (ip, port) is
	// already registered.
	ErrDuplicatePeer = errors.New("duplicate peer")
)

// Registry is the bounded set of active peers. It gates membership only;
// socket I/O belongs to the sessions.
type Registry struct {
	mu    sync.Mutex
	max   int
	peers map[string]*Peer

	gauge metrics.Gauge
}

// NewRegistry creates a registry holding at most max peers.
func NewRegistry(max int) *Registry {
	return &Registry{
		max:   max,
		peers: make(map[string]*Peer),
		gauge: metrics.NewGauge(),
	}
}

// Add registers a peer. It fails when the registry is at capacity or a peer
// with the same (ip, port) is present.
func (r *Registry) Add(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.peers) >= r.max {
		return fmt.Errorf("%w: %d peers", ErrPeerCapacity, r.max)
	}
	if _, ok := r.peers[p.Addr()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePeer, p.Addr())
	}
	r.peers[p.Addr()] = p
	r.gauge.Update(int64(len(r.peers)))
	return nil
}

// Remove deregisters the peer at (ip, port). Removing an absent peer is a
// no-op.
func (r *Registry) Remove(ip string, port uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, fmt.Sprintf("%s:%d", ip, port))
	r.gauge.Update(int64(len(r.peers)))
}

// Find returns the peer at (ip, port), or nil.
func (r *Registry) Find(ip string, port uint16) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers[fmt.Sprintf("%s:%d", ip, port)]
}

// Snapshot returns the current peers ordered by address. Callers may hold
// the result across I/O without blocking the registry.
func (r *Registry) Snapshot() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Addr() < peers[j].Addr() })
	return peers
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
