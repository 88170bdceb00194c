package bpkg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btide/btide/internal/hashio"
	btest "github.com/btide/btide/internal/testing"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, nchunks int, withData bool) (*Package, FileStatus, *btest.Fixture) {
	t.Helper()
	dir := t.TempDir()
	fx, err := btest.WriteFixture(dir, "pkg", btest.GenPayloads(nchunks, 16), 16, withData)
	require.NoError(t, err)

	pkg, status, err := Load(fx.ManifestPath, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pkg.Close() })
	return pkg, status, fx
}

func TestLoad_CreatesSparseFile(t *testing.T) {
	pkg, status, fx := loadFixture(t, 4, false)
	require.Equal(t, FileCreated, status)
	require.Equal(t, fx.Ident, pkg.Ident)
	require.Equal(t, uint32(4), pkg.NChunks)

	fi, err := os.Stat(fx.DataPath)
	require.NoError(t, err)
	require.Equal(t, int64(64), fi.Size())

	require.False(t, pkg.Complete())
	require.Empty(t, pkg.CompletedChunks())
}

func TestLoad_PreloadsExistingData(t *testing.T) {
	pkg, status, fx := loadFixture(t, 4, true)
	require.Equal(t, FileExists, status)
	require.True(t, pkg.Complete())
	require.Equal(t, fx.ChunkHashes, pkg.CompletedChunks())
	require.Equal(t, []string{fx.RootHash}, pkg.MinCompleted())
}

func TestLoad_MissingManifest(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent.bpkg"), t.TempDir())
	require.Error(t, err)
}

func TestInstallChunk(t *testing.T) {
	pkg, _, fx := loadFixture(t, 2, false)

	require.NoError(t, pkg.InstallChunk(fx.ChunkHashes[0], 0, fx.Payloads[0]))
	require.Equal(t, []string{fx.ChunkHashes[0]}, pkg.CompletedChunks())
	require.False(t, pkg.Complete())

	require.NoError(t, pkg.InstallChunk(fx.ChunkHashes[1], 16, fx.Payloads[1]))
	require.True(t, pkg.Complete())

	// The bytes really landed on disk.
	data, err := os.ReadFile(fx.DataPath)
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, fx.Payloads[0]...), fx.Payloads[1]...), data)
}

func TestInstallChunk_HashMismatchRollsBack(t *testing.T) {
	pkg, _, fx := loadFixture(t, 2, false)

	tampered := make([]byte, 16)
	copy(tampered, "tampered")
	err := pkg.InstallChunk(fx.ChunkHashes[0], 0, tampered)
	require.ErrorIs(t, err, ErrHashMismatch)
	require.Empty(t, pkg.CompletedChunks())

	// A later correct install of the same chunk succeeds.
	require.NoError(t, pkg.InstallChunk(fx.ChunkHashes[0], 0, fx.Payloads[0]))
	require.Equal(t, []string{fx.ChunkHashes[0]}, pkg.CompletedChunks())
}

func TestInstallChunk_UnknownLeaf(t *testing.T) {
	pkg, _, fx := loadFixture(t, 2, false)

	err := pkg.InstallChunk(hashio.Sum([]byte("nope")), 0, fx.Payloads[0])
	require.ErrorIs(t, err, ErrUnknownChunk)

	// Right hash, wrong offset.
	err = pkg.InstallChunk(fx.ChunkHashes[0], 16, fx.Payloads[0])
	require.ErrorIs(t, err, ErrUnknownChunk)
}

func TestReadChunk_OnlyServesComplete(t *testing.T) {
	pkg, _, fx := loadFixture(t, 2, false)

	_, err := pkg.ReadChunk(fx.ChunkHashes[0], 0, 16)
	require.ErrorIs(t, err, ErrUnknownChunk)

	require.NoError(t, pkg.InstallChunk(fx.ChunkHashes[0], 0, fx.Payloads[0]))
	data, err := pkg.ReadChunk(fx.ChunkHashes[0], 0, 16)
	require.NoError(t, err)
	require.Equal(t, fx.Payloads[0], data)
}

func TestQueries(t *testing.T) {
	pkg, _, fx := loadFixture(t, 4, true)

	all := pkg.AllHashes()
	require.Len(t, all, 7)
	require.Equal(t, fx.RootHash, all[0])
	require.Equal(t, fx.ChunkHashes, pkg.ChunkHashes())

	chunks, err := pkg.ChunksFromHash(fx.RootHash)
	require.NoError(t, err)
	require.Equal(t, fx.ChunkHashes, chunks)

	chunks, err = pkg.ChunksFromHash(fx.ChunkHashes[2])
	require.NoError(t, err)
	require.Equal(t, fx.ChunkHashes[2:3], chunks)

	_, err = pkg.ChunksFromHash(hashio.Sum([]byte("absent")))
	require.ErrorIs(t, err, ErrUnknownChunk)
}

func TestChunkRange(t *testing.T) {
	pkg, _, fx := loadFixture(t, 4, false)

	offset, size, err := pkg.ChunkRange(fx.ChunkHashes[3])
	require.NoError(t, err)
	require.Equal(t, uint64(48), offset)
	require.Equal(t, uint32(16), size)

	_, _, err = pkg.ChunkRange(hashio.Sum([]byte("absent")))
	require.ErrorIs(t, err, ErrUnknownChunk)
}

func TestClose_Idempotent(t *testing.T) {
	pkg, _, _ := loadFixture(t, 2, false)
	require.NoError(t, pkg.Close())
	require.NoError(t, pkg.Close())
}
