// Package bpkg binds parsed package manifests to their backing data files
// and exposes the hash queries and chunk install/verify operations peers
// exchange data through.
package bpkg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/btide/btide/internal/hashio"
	"github.com/btide/btide/internal/mtree"
	"github.com/btide/btide/internal/utils"
)

var (
	// ErrBackingFileIO is returned when the package's data file cannot be
	// created, read, or written.
	ErrBackingFileIO = errors.New("backing file I/O failed")
	// ErrHashMismatch is returned when installed chunk data does not hash to
	// the manifest's expected value.
	ErrHashMismatch = errors.New("chunk hash mismatch")
	// ErrUnknownChunk is returned when a hash resolves to no tree node.
	ErrUnknownChunk = errors.New("unknown chunk")
)

// FileStatus reports what Load found when binding the backing file.
type FileStatus int

const (
	// FileExists means the declared data file was already present.
	FileExists FileStatus = iota
	// FileCreated means a sparse zero-filled file was created.
	FileCreated
	// FileCreationFailed means the data file could not be created.
	FileCreationFailed
)

// String returns the status in the form reported to the operator.
func (s FileStatus) String() string {
	switch s {
	case FileExists:
		return "File Exists"
	case FileCreated:
		return "File Created"
	default:
		return "File Creation Failed"
	}
}

// Package is a loaded bpkg: its manifest metadata, Merkle tree, and open
// backing data file. Tree mutation and file access are serialised by the
// package's own mutex because hash propagation to the root would otherwise
// race.
type Package struct {
	Ident    string
	Filename string
	FileSize uint64
	NChunks  uint32

	mu   sync.Mutex
	tree *mtree.Tree
	file *os.File
}

// Load parses the manifest at path and binds the package to its backing
// data file, creating it sparse and zero-filled when absent. Relative data
// filenames resolve against dir. When the file already exists its chunks
// are hashed so completed data is served immediately.
func Load(path, dir string) (*Package, FileStatus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, FileCreationFailed, utils.WrapEntityError("manifest open failed", path, err)
	}
	m, err := ParseManifest(f)
	closeErr := f.Close()
	if err != nil {
		return nil, FileCreationFailed, err
	}
	if closeErr != nil {
		return nil, FileCreationFailed, utils.WrapError("manifest close failed", closeErr)
	}

	tree, err := mtree.Build(m.Hashes, m.Chunks)
	if err != nil {
		return nil, FileCreationFailed, err
	}

	dataPath := m.Filename
	if !filepath.IsAbs(dataPath) {
		dataPath = filepath.Join(dir, dataPath)
	}

	status, file, err := bindDataFile(dataPath, m.Size)
	if err != nil {
		return nil, status, err
	}

	pkg := &Package{
		Ident:    m.Ident,
		Filename: m.Filename,
		FileSize: m.Size,
		NChunks:  m.NChunks,
		tree:     tree,
		file:     file,
	}

	if status == FileExists {
		if err := pkg.preload(); err != nil {
			_ = file.Close()
			return nil, status, err
		}
	}
	return pkg, status, nil
}

// bindDataFile opens the data file, creating a sparse file of the declared
// size if it does not exist.
func bindDataFile(path string, size uint64) (FileStatus, *os.File, error) {
	status := FileExists
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return FileCreationFailed, nil, utils.WrapEntityError("data file stat failed", path,
				fmt.Errorf("%w: %v", ErrBackingFileIO, err))
		}
		status = FileCreated
	}

	//nolint:gosec // G304: the data path comes from the operator's manifest
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return FileCreationFailed, nil, utils.WrapEntityError("data file open failed", path,
			fmt.Errorf("%w: %v", ErrBackingFileIO, err))
	}
	if status == FileCreated {
		//nolint:gosec // G115: manifest sizes fit in int64
		if err := file.Truncate(int64(size)); err != nil {
			_ = file.Close()
			return FileCreationFailed, nil, utils.WrapEntityError("data file extend failed", path,
				fmt.Errorf("%w: %v", ErrBackingFileIO, err))
		}
	}
	return status, file, nil
}

// preload hashes every chunk already on disk so the tree reflects the
// file's current completion state.
func (p *Package) preload() error {
	var buf []byte
	for _, leaf := range p.tree.Leaves() {
		if uint32(cap(buf)) < leaf.Size {
			buf = make([]byte, leaf.Size)
		}
		buf = buf[:leaf.Size]
		//nolint:gosec // G115: chunk offsets fit in int64
		if _, err := p.file.ReadAt(buf, int64(leaf.Offset)); err != nil {
			return utils.WrapEntityError("chunk preload failed", p.Ident,
				fmt.Errorf("%w: %v", ErrBackingFileIO, err))
		}
		p.tree.SetLeafComputed(leaf, hashio.Sum(buf))
	}
	return nil
}

// Complete reports whether every chunk matches the manifest.
func (p *Package) Complete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.Root().Complete()
}

// AllHashes returns every node's expected hash in pre-order.
func (p *Package) AllHashes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.AllExpected()
}

// ChunkHashes returns the leaf expected hashes, left to right.
func (p *Package) ChunkHashes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.ChunkHashes()
}

// CompletedChunks returns the expected hashes of verified leaves.
func (p *Package) CompletedChunks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.CompletedChunks()
}

// MinCompleted returns the smallest set of subtree-root hashes attesting
// the current completion state.
func (p *Package) MinCompleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	roots := p.tree.MinCompletedRoots()
	hashes := make([]string, len(roots))
	for i, n := range roots {
		hashes[i] = n.Expected
	}
	return hashes
}

// ChunksFromHash returns the chunk hashes beneath the node whose expected
// hash equals query, the node itself if it is a leaf.
func (p *Package) ChunksFromHash(query string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	node := p.tree.Find(query, mtree.Expected)
	if node == nil {
		return nil, fmt.Errorf("%w: no node with hash %.16s", ErrUnknownChunk, query)
	}
	return p.tree.SubtreeChunks(node), nil
}

// ChunkRange returns the byte range of the leaf with the given expected
// hash. Used to build outbound requests from a local manifest.
func (p *Package) ChunkRange(hash string) (offset uint64, size uint32, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, leaf := range p.tree.Leaves() {
		if leaf.Expected == hash {
			return leaf.Offset, leaf.Size, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: no chunk with hash %.16s", ErrUnknownChunk, hash)
}

// InstallChunk writes data at the leaf matching (hash, offset, len(data)),
// recomputes the leaf hash, and propagates upward. On mismatch the
// in-memory hashes are rolled back; the on-disk bytes remain, since a later
// correct install overwrites them and the verification gate is hash
// equality.
func (p *Package) InstallChunk(hash string, offset uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	leaf := p.tree.FindLeaf(hash, offset, uint32(len(data)))
	if leaf == nil {
		return fmt.Errorf("%w: no leaf matches hash %.16s offset %d size %d",
			ErrUnknownChunk, hash, offset, len(data))
	}

	//nolint:gosec // G115: chunk offsets fit in int64
	if _, err := p.file.WriteAt(data, int64(offset)); err != nil {
		return utils.WrapEntityError("chunk write failed", p.Ident,
			fmt.Errorf("%w: %v", ErrBackingFileIO, err))
	}

	prev := leaf.Computed
	p.tree.SetLeafComputed(leaf, hashio.Sum(data))
	if !leaf.Complete() {
		p.tree.SetLeafComputed(leaf, prev)
		return fmt.Errorf("%w: chunk %.16s", ErrHashMismatch, hash)
	}
	return nil
}

// ReadChunk returns the bytes of a verified chunk. Incomplete chunks are
// never served.
func (p *Package) ReadChunk(hash string, offset uint64, size uint32) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	leaf := p.tree.FindLeaf(hash, offset, size)
	if leaf == nil || !leaf.Complete() {
		return nil, fmt.Errorf("%w: no complete chunk %.16s at offset %d",
			ErrUnknownChunk, hash, offset)
	}

	data := make([]byte, size)
	//nolint:gosec // G115: chunk offsets fit in int64
	if _, err := p.file.ReadAt(data, int64(offset)); err != nil {
		return nil, utils.WrapEntityError("chunk read failed", p.Ident,
			fmt.Errorf("%w: %v", ErrBackingFileIO, err))
	}
	return data, nil
}

// Close releases the backing file. It is safe to call Close multiple times.
func (p *Package) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}
