package bpkg

import (
	"fmt"
	"os"
	"strings"
	"testing"

	btest "github.com/btide/btide/internal/testing"
	"github.com/stretchr/testify/require"
)

func fixtureManifest(t *testing.T, nchunks int, withData bool) *btest.Fixture {
	t.Helper()
	fx, err := btest.WriteFixture(t.TempDir(), "pkg", btest.GenPayloads(nchunks, 16), 16, withData)
	require.NoError(t, err)
	return fx
}

func TestParseManifest(t *testing.T) {
	fx := fixtureManifest(t, 4, false)
	f, err := os.Open(fx.ManifestPath)
	require.NoError(t, err)
	defer f.Close()

	m, err := ParseManifest(f)
	require.NoError(t, err)
	require.Equal(t, fx.Ident, m.Ident)
	require.Equal(t, fx.DataFilename, m.Filename)
	require.Equal(t, uint64(64), m.Size)
	require.Equal(t, uint32(3), m.NHashes)
	require.Equal(t, uint32(4), m.NChunks)
	require.Len(t, m.Hashes, 3)
	require.Len(t, m.Chunks, 4)
	require.Equal(t, fx.ChunkHashes[0], m.Chunks[0].Hash)
	require.Equal(t, uint64(16), m.Chunks[1].Offset)
	require.Equal(t, uint32(16), m.Chunks[1].Size)
}

func TestParseManifest_Malformed(t *testing.T) {
	fx := fixtureManifest(t, 2, false)
	raw, err := os.ReadFile(fx.ManifestPath)
	require.NoError(t, err)
	good := string(raw)

	tests := []struct {
		name   string
		mangle func(string) string
	}{
		{"empty input", func(string) string { return "" }},
		{"wrong field order", func(s string) string {
			lines := strings.SplitN(s, "\n", 3)
			return lines[1] + "\n" + lines[0] + "\n" + lines[2]
		}},
		{"short ident", func(s string) string {
			return strings.Replace(s, "ident:"+fx.Ident, "ident:abc123", 1)
		}},
		{"bad size", func(s string) string {
			return strings.Replace(s, "size:32", "size:many", 1)
		}},
		{"missing hashes section", func(s string) string {
			return strings.Replace(s, "hashes:\n", "", 1)
		}},
		{"truncated hash", func(s string) string {
			return strings.Replace(s, fx.RootHash, fx.RootHash[:40], 1)
		}},
		{"nhashes mismatch", func(s string) string {
			return strings.Replace(s, "nchunks:2", "nchunks:4", 1)
		}},
		{"bad chunk separator", func(s string) string {
			return strings.Replace(s, fx.ChunkHashes[0]+",0,16", fx.ChunkHashes[0]+" 0 16", 1)
		}},
		{"truncated chunk list", func(s string) string {
			idx := strings.LastIndex(s, "\t")
			return s[:idx]
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest(strings.NewReader(tt.mangle(good)))
			require.ErrorIs(t, err, ErrManifestParse)
		})
	}
}

func TestParseManifest_RoundTrip(t *testing.T) {
	// Reserialising the parsed manifest and reparsing yields the same tree.
	fx := fixtureManifest(t, 8, false)
	raw, err := os.ReadFile(fx.ManifestPath)
	require.NoError(t, err)

	m, err := ParseManifest(strings.NewReader(string(raw)))
	require.NoError(t, err)

	var b strings.Builder
	fmt.Fprintf(&b, "ident:%s\n", m.Ident)
	fmt.Fprintf(&b, "filename:%s\n", m.Filename)
	fmt.Fprintf(&b, "size:%d\n", m.Size)
	fmt.Fprintf(&b, "nhashes:%d\n", m.NHashes)
	b.WriteString("hashes:\n")
	for _, h := range m.Hashes {
		fmt.Fprintf(&b, "\t%s\n", h)
	}
	fmt.Fprintf(&b, "nchunks:%d\n", m.NChunks)
	b.WriteString("chunks:\n")
	for _, c := range m.Chunks {
		fmt.Fprintf(&b, "\t%s,%d,%d\n", c.Hash, c.Offset, c.Size)
	}

	again, err := ParseManifest(strings.NewReader(b.String()))
	require.NoError(t, err)
	require.Equal(t, m, again)
}
