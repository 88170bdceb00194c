package bpkg

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rcrowley/go-metrics"
)

// ErrUnknownPackage is returned when an ident resolves to no loaded package.
var ErrUnknownPackage = errors.New("unknown package")

// Set is the mutable collection of loaded packages, keyed by ident. All
// peer sessions resolve inbound requests against the same set.
type Set struct {
	mu   sync.Mutex
	dir  string
	pkgs map[string]*Package

	installs   metrics.Counter
	mismatches metrics.Counter
}

// NewSet creates an empty package set resolving relative data filenames
// against dir.
func NewSet(dir string) *Set {
	return &Set{
		dir:        dir,
		pkgs:       make(map[string]*Package),
		installs:   metrics.NewCounter(),
		mismatches: metrics.NewCounter(),
	}
}

// Add loads the manifest at path into the set.
func (s *Set) Add(path string) (*Package, FileStatus, error) {
	pkg, status, err := Load(path, s.dir)
	if err != nil {
		return nil, status, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pkgs[pkg.Ident]; ok {
		_ = pkg.Close()
		return nil, status, fmt.Errorf("package %.16s already loaded", pkg.Ident)
	}
	s.pkgs[pkg.Ident] = pkg
	return pkg, status, nil
}

// Remove unloads the package with the given ident and closes its backing
// file.
func (s *Set) Remove(ident string) error {
	s.mu.Lock()
	pkg, ok := s.pkgs[ident]
	if ok {
		delete(s.pkgs, ident)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %.16s", ErrUnknownPackage, ident)
	}
	return pkg.Close()
}

// Find returns the package with the given ident.
func (s *Set) Find(ident string) (*Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkg, ok := s.pkgs[ident]
	if !ok {
		return nil, fmt.Errorf("%w: %.16s", ErrUnknownPackage, ident)
	}
	return pkg, nil
}

// List returns the loaded packages ordered by ident.
func (s *Set) List() []*Package {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkgs := make([]*Package, 0, len(s.pkgs))
	for _, pkg := range s.pkgs {
		pkgs = append(pkgs, pkg)
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Ident < pkgs[j].Ident })
	return pkgs
}

// InstallChunk installs verified chunk data into the named package.
func (s *Set) InstallChunk(ident, hash string, offset uint64, data []byte) error {
	pkg, err := s.Find(ident)
	if err != nil {
		return err
	}
	if err := pkg.InstallChunk(hash, offset, data); err != nil {
		if errors.Is(err, ErrHashMismatch) {
			s.mismatches.Inc(1)
		}
		return err
	}
	s.installs.Inc(1)
	return nil
}

// ReadChunk reads a verified chunk from the named package.
func (s *Set) ReadChunk(ident, hash string, offset uint64, size uint32) ([]byte, error) {
	pkg, err := s.Find(ident)
	if err != nil {
		return nil, err
	}
	return pkg.ReadChunk(hash, offset, size)
}

// Installed returns the number of chunks installed across all packages.
func (s *Set) Installed() int64 { return s.installs.Count() }

// Mismatched returns the number of rejected chunk installs.
func (s *Set) Mismatched() int64 { return s.mismatches.Count() }

// Close closes every loaded package.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for ident, pkg := range s.pkgs {
		if err := pkg.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.pkgs, ident)
	}
	return first
}
