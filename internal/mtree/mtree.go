// Package mtree implements the complete binary Merkle tree attesting a
// package's chunk contents. Nodes live in a flat array with the children of
// node i at 2i+1 and 2i+2, so parent links are index arithmetic rather than
// pointers.
package mtree

import (
	"errors"
	"fmt"

	"github.com/btide/btide/internal/hashio"
	"github.com/btide/btide/internal/utils"
)

// ErrTreeInvariant is returned when manifest counts cannot form a complete
// binary tree.
var ErrTreeInvariant = errors.New("tree invariant violated")

// HashSource selects which per-node hash a query compares against.
type HashSource int

const (
	// Expected selects the manifest-declared hash.
	Expected HashSource = iota
	// Computed selects the hash derived from installed data.
	Computed
)

// Chunk is one leaf record from the manifest: its expected hash and the byte
// range it occupies in the backing file.
type Chunk struct {
	Hash   string
	Offset uint64
	Size   uint32
}

// Node is a single tree node. Offset and Size are meaningful for leaves only.
type Node struct {
	Expected string
	Computed string
	Leaf     bool
	Offset   uint64
	Size     uint32

	idx int
}

// Complete reports whether the node's data-derived hash matches the manifest.
func (n *Node) Complete() bool {
	return n.Computed != "" && n.Computed == n.Expected
}

// Tree is a complete binary Merkle tree with 2^height leaves.
type Tree struct {
	nodes   []*Node
	height  int
	nchunks int
}

// Build constructs the tree from the manifest's internal-node hashes
// (pre-order) and chunk records (left to right). The chunk count must be a
// power of two and the internal hash count exactly one less.
func Build(internal []string, chunks []Chunk) (*Tree, error) {
	n := len(chunks)
	if n == 0 || n&(n-1) != 0 {
		return nil, utils.WrapError("build tree",
			fmt.Errorf("%w: chunk count %d is not a power of two", ErrTreeInvariant, n))
	}
	if len(internal) != n-1 {
		return nil, utils.WrapError("build tree",
			fmt.Errorf("%w: %d internal hashes for %d chunks", ErrTreeInvariant, len(internal), n))
	}

	height := 0
	for 1<<height < n {
		height++
	}

	t := &Tree{
		nodes:   make([]*Node, 2*n-1),
		height:  height,
		nchunks: n,
	}
	for i := range t.nodes {
		t.nodes[i] = &Node{idx: i}
	}

	// Leaves occupy the last n slots, already in left-to-right order.
	for i, c := range chunks {
		leaf := t.nodes[n-1+i]
		leaf.Leaf = true
		leaf.Expected = c.Hash
		leaf.Offset = c.Offset
		leaf.Size = c.Size
	}

	// Internal hashes arrive in pre-order.
	pos := 0
	t.walkPreorder(0, func(node *Node) {
		if !node.Leaf {
			node.Expected = internal[pos]
			pos++
		}
	})

	return t, nil
}

// Root returns the root node.
func (t *Tree) Root() *Node { return t.nodes[0] }

// NChunks returns the number of leaves.
func (t *Tree) NChunks() int { return t.nchunks }

// NNodes returns the total node count.
func (t *Tree) NNodes() int { return len(t.nodes) }

// Height returns log2 of the chunk count.
func (t *Tree) Height() int { return t.height }

// Leaves returns the leaf nodes in left-to-right order.
func (t *Tree) Leaves() []*Node {
	return t.nodes[t.nchunks-1:]
}

func (t *Tree) walkPreorder(i int, fn func(*Node)) {
	if i >= len(t.nodes) {
		return
	}
	fn(t.nodes[i])
	t.walkPreorder(2*i+1, fn)
	t.walkPreorder(2*i+2, fn)
}

// SetLeafComputed records a leaf's data-derived hash and recomputes every
// ancestor up to the root. This is the only way internal computed hashes
// change.
func (t *Tree) SetLeafComputed(leaf *Node, hash string) {
	leaf.Computed = hash
	for i := leaf.idx; i > 0; {
		i = (i - 1) / 2
		parent := t.nodes[i]
		parent.Computed = hashio.SumPair(t.nodes[2*i+1].Computed, t.nodes[2*i+2].Computed)
	}
}

// Find returns the first pre-order node whose selected hash equals query,
// or nil.
func (t *Tree) Find(query string, src HashSource) *Node {
	var found *Node
	t.walkPreorder(0, func(n *Node) {
		if found != nil {
			return
		}
		h := n.Expected
		if src == Computed {
			h = n.Computed
		}
		if h != "" && h == query {
			found = n
		}
	})
	return found
}

// FindLeaf returns the leaf matching the given expected hash and byte range,
// or nil.
func (t *Tree) FindLeaf(hash string, offset uint64, size uint32) *Node {
	for _, leaf := range t.Leaves() {
		if leaf.Expected == hash && leaf.Offset == offset && leaf.Size == size {
			return leaf
		}
	}
	return nil
}

// SubtreeChunks returns the expected hashes of the leaves beneath n, left to
// right. A leaf yields itself.
func (t *Tree) SubtreeChunks(n *Node) []string {
	var hashes []string
	t.walkPreorder(n.idx, func(node *Node) {
		if node.Leaf {
			hashes = append(hashes, node.Expected)
		}
	})
	return hashes
}

// MinCompletedRoots returns the roots of the maximal complete subtrees, left
// to right: the smallest set of hashes that attests every complete leaf.
func (t *Tree) MinCompletedRoots() []*Node {
	var roots []*Node
	var descend func(i int)
	descend = func(i int) {
		node := t.nodes[i]
		if node.Complete() {
			roots = append(roots, node)
			return
		}
		if node.Leaf {
			return
		}
		descend(2*i + 1)
		descend(2*i + 2)
	}
	descend(0)
	return roots
}

// AllExpected returns every node's expected hash in pre-order.
func (t *Tree) AllExpected() []string {
	hashes := make([]string, 0, len(t.nodes))
	t.walkPreorder(0, func(n *Node) {
		hashes = append(hashes, n.Expected)
	})
	return hashes
}

// ChunkHashes returns the leaf expected hashes, left to right.
func (t *Tree) ChunkHashes() []string {
	leaves := t.Leaves()
	hashes := make([]string, len(leaves))
	for i, leaf := range leaves {
		hashes[i] = leaf.Expected
	}
	return hashes
}

// CompletedChunks returns the expected hashes of complete leaves, left to
// right.
func (t *Tree) CompletedChunks() []string {
	var hashes []string
	for _, leaf := range t.Leaves() {
		if leaf.Complete() {
			hashes = append(hashes, leaf.Expected)
		}
	}
	return hashes
}
