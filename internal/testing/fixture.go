// Package testing provides bpkg fixtures for node and package tests.
package testing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btide/btide/internal/hashio"
)

// Fixture is a generated package: a manifest on disk, its chunk payloads,
// and the hashes the manifest declares.
type Fixture struct {
	Ident        string
	ManifestPath string
	DataPath     string
	DataFilename string
	ChunkSize    uint32
	Payloads     [][]byte
	ChunkHashes  []string
	RootHash     string
}

// GenPayloads returns n deterministic chunk payloads of the given size.
func GenPayloads(n int, size uint32) [][]byte {
	payloads := make([][]byte, n)
	for i := range payloads {
		data := make([]byte, size)
		copy(data, fmt.Sprintf("payload-%02d", i))
		payloads[i] = data
	}
	return payloads
}

// WriteFixture writes a bpkg manifest for the given payloads into dir. The
// chunk count must be a power of two. When withData is true the backing
// data file is written alongside it, so a node loading the fixture seeds
// the complete package.
func WriteFixture(dir, name string, payloads [][]byte, chunkSize uint32, withData bool) (*Fixture, error) {
	n := len(payloads)
	if n == 0 || n&(n-1) != 0 {
		return nil, fmt.Errorf("fixture chunk count %d is not a power of two", n)
	}

	// Expected hashes: leaves left to right, internal nodes bottom-up.
	hashes := make([]string, 2*n-1)
	for i, data := range payloads {
		hashes[n-1+i] = hashio.Sum(data)
	}
	for i := n - 2; i >= 0; i-- {
		hashes[i] = hashio.SumPair(hashes[2*i+1], hashes[2*i+2])
	}

	var internal []string
	var preorder func(i int)
	preorder = func(i int) {
		if i >= len(hashes) {
			return
		}
		if i < n-1 {
			internal = append(internal, hashes[i])
		}
		preorder(2*i + 1)
		preorder(2*i + 2)
	}
	preorder(0)

	fx := &Fixture{
		Ident:        hashio.Sum([]byte(name))[:32],
		DataFilename: name + ".data",
		ChunkSize:    chunkSize,
		Payloads:     payloads,
		ChunkHashes:  hashes[n-1:],
		RootHash:     hashes[0],
		ManifestPath: filepath.Join(dir, name+".bpkg"),
		DataPath:     filepath.Join(dir, name+".data"),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ident:%s\n", fx.Ident)
	fmt.Fprintf(&b, "filename:%s\n", fx.DataFilename)
	fmt.Fprintf(&b, "size:%d\n", uint64(n)*uint64(chunkSize))
	fmt.Fprintf(&b, "nhashes:%d\n", len(internal))
	b.WriteString("hashes:\n")
	for _, h := range internal {
		fmt.Fprintf(&b, "\t%s\n", h)
	}
	fmt.Fprintf(&b, "nchunks:%d\n", n)
	b.WriteString("chunks:\n")
	for i, h := range fx.ChunkHashes {
		fmt.Fprintf(&b, "\t%s,%d,%d\n", h, uint64(i)*uint64(chunkSize), chunkSize)
	}

	if err := os.WriteFile(fx.ManifestPath, []byte(b.String()), 0o644); err != nil {
		return nil, err
	}

	if withData {
		var data []byte
		for _, p := range payloads {
			data = append(data, p...)
		}
		if err := os.WriteFile(fx.DataPath, data, 0o644); err != nil {
			return nil, err
		}
	}
	return fx, nil
}
