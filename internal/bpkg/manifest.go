package bpkg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/btide/btide/internal/hashio"
	"github.com/btide/btide/internal/mtree"
	"github.com/btide/btide/internal/utils"
)

// ErrManifestParse is returned for any deviation from the bpkg manifest
// format.
var ErrManifestParse = errors.New("malformed manifest")

// IdentLen is the length of a package identifier.
const IdentLen = 32

// Manifest is the parsed form of a bpkg file.
type Manifest struct {
	Ident    string
	Filename string
	Size     uint64
	NHashes  uint32
	NChunks  uint32
	Hashes   []string      // internal node hashes, pre-order
	Chunks   []mtree.Chunk // leaf records, left to right
}

// ParseManifest reads a bpkg manifest. The format is line-oriented and
// order-sensitive:
//
//	ident:<32 hex>
//	filename:<path>
//	size:<u64>
//	nhashes:<u32>
//	hashes:
//	  <64 hex>          one per line
//	nchunks:<u32>
//	chunks:
//	  <64 hex>,<offset>,<size>
func ParseManifest(r io.Reader) (*Manifest, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	m := &Manifest{}
	var err error

	if m.Ident, err = scanField(sc, "ident"); err != nil {
		return nil, err
	}
	if len(m.Ident) != IdentLen || !isHex(m.Ident) {
		return nil, parseErr("ident is not %d hex characters", IdentLen)
	}
	if m.Filename, err = scanField(sc, "filename"); err != nil {
		return nil, err
	}
	if m.Filename == "" {
		return nil, parseErr("empty filename")
	}
	if m.Size, err = scanUint(sc, "size"); err != nil {
		return nil, err
	}
	nhashes, err := scanUint(sc, "nhashes")
	if err != nil {
		return nil, err
	}
	m.NHashes = uint32(nhashes)

	if err := scanHeader(sc, "hashes"); err != nil {
		return nil, err
	}
	m.Hashes = make([]string, 0, m.NHashes)
	for i := uint32(0); i < m.NHashes; i++ {
		h, err := scanHash(sc)
		if err != nil {
			return nil, err
		}
		m.Hashes = append(m.Hashes, h)
	}

	nchunks, err := scanUint(sc, "nchunks")
	if err != nil {
		return nil, err
	}
	m.NChunks = uint32(nchunks)
	if m.NChunks == 0 || m.NHashes != m.NChunks-1 {
		return nil, parseErr("nhashes %d does not match nchunks %d", m.NHashes, m.NChunks)
	}

	if err := scanHeader(sc, "chunks"); err != nil {
		return nil, err
	}
	m.Chunks = make([]mtree.Chunk, 0, m.NChunks)
	for i := uint32(0); i < m.NChunks; i++ {
		c, err := scanChunk(sc)
		if err != nil {
			return nil, err
		}
		m.Chunks = append(m.Chunks, c)
	}

	if err := sc.Err(); err != nil {
		return nil, utils.WrapError("reading manifest", err)
	}
	return m, nil
}

func parseErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrManifestParse, fmt.Sprintf(format, args...))
}

func scanLine(sc *bufio.Scanner) (string, error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", utils.WrapError("reading manifest", err)
		}
		return "", parseErr("unexpected end of manifest")
	}
	return sc.Text(), nil
}

// scanField reads "key:value" and returns the value.
func scanField(sc *bufio.Scanner, key string) (string, error) {
	line, err := scanLine(sc)
	if err != nil {
		return "", err
	}
	value, ok := strings.CutPrefix(line, key+":")
	if !ok {
		return "", parseErr("expected %q field, got %q", key, line)
	}
	return value, nil
}

func scanUint(sc *bufio.Scanner, key string) (uint64, error) {
	value, err := scanField(sc, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, parseErr("%s: %q is not an unsigned integer", key, value)
	}
	return n, nil
}

// scanHeader reads a bare "key:" section line.
func scanHeader(sc *bufio.Scanner, key string) error {
	line, err := scanLine(sc)
	if err != nil {
		return err
	}
	if line != key+":" {
		return parseErr("expected %q section, got %q", key+":", line)
	}
	return nil
}

func scanHash(sc *bufio.Scanner) (string, error) {
	line, err := scanLine(sc)
	if err != nil {
		return "", err
	}
	h := strings.TrimSpace(line)
	if !hashio.Valid(h) {
		return "", parseErr("invalid hash line %q", line)
	}
	return h, nil
}

func scanChunk(sc *bufio.Scanner) (mtree.Chunk, error) {
	line, err := scanLine(sc)
	if err != nil {
		return mtree.Chunk{}, err
	}
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 3 {
		return mtree.Chunk{}, parseErr("chunk line %q is not hash,offset,size", line)
	}
	if !hashio.Valid(fields[0]) {
		return mtree.Chunk{}, parseErr("invalid chunk hash %q", fields[0])
	}
	offset, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return mtree.Chunk{}, parseErr("invalid chunk offset %q", fields[1])
	}
	size, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return mtree.Chunk{}, parseErr("invalid chunk size %q", fields[2])
	}
	return mtree.Chunk{Hash: fields[0], Offset: offset, Size: uint32(size)}, nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
