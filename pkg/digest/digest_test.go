package digest_test

import (
	"bytes"
	"testing"

	"github.com/kmsync/kmsync/pkg/digest"
	"github.com/stretchr/testify/require"
)

func TestPieceSizeMinimum(t *testing.T) {
	require.Equal(t, int64(digest.MinPieceSizeBytes), digest.PieceSize(0, 0, 0))
	require.Equal(t, int64(digest.MinPieceSizeBytes), digest.PieceSize(1024, 0, 0))
}

func TestPieceSizeDeterministic(t *testing.T) {
	a := digest.PieceSize(50*1024*1024, 0, 0)
	b := digest.PieceSize(50*1024*1024, 0, 0)
	require.Equal(t, a, b)
}

func TestPieceSizeBoundsPieceCount(t *testing.T) {
	size := int64(8 * 1024 * 1024 * 1024)
	p := digest.PieceSize(size, 0, 0)
	pieceCount := (size + p - 1) / p
	require.LessOrEqual(t, pieceCount, int64(digest.MaxPieceCount))
	require.LessOrEqual(t, p, int64(digest.MaxPieceSizeBytes))
}

func TestContentHashEmptyFile(t *testing.T) {
	h, err := digest.ContentHash(bytes.NewReader(nil))
	require.NoError(t, err)
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", h)
	require.Len(t, h, digest.ContentHashHexLen)
}

func TestPieceHashesConcatenation(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 150)
	hashes, err := digest.PieceHashes(bytes.NewReader(data), 64)
	require.NoError(t, err)
	require.Equal(t, 3, digest.PieceCount(hashes))
	require.Len(t, hashes, 3*digest.PieceHashHexLen)

	// Re-hashing identical bytes yields identical results.
	hashes2, err := digest.PieceHashes(bytes.NewReader(data), 64)
	require.NoError(t, err)
	require.Equal(t, hashes, hashes2)
}

func TestVerifyDetectsSizeMismatchWithoutHashing(t *testing.T) {
	data := []byte("hello world")
	ok, err := digest.Verify(bytes.NewReader(data), int64(len(data)), digest.Verifiable{
		SizeBytes: int64(len(data)) + 1,
	})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("mod-data"), 4096)
	contentHash, err := digest.ContentHash(bytes.NewReader(data))
	require.NoError(t, err)
	pieceLength := digest.PieceSize(int64(len(data)), 0, 0)
	pieceHashes, err := digest.PieceHashes(bytes.NewReader(data), pieceLength)
	require.NoError(t, err)

	ok, err := digest.Verify(bytes.NewReader(data), int64(len(data)), digest.Verifiable{
		SizeBytes:   int64(len(data)),
		ContentHash: contentHash,
		PieceLength: pieceLength,
		PieceHashes: pieceHashes,
	})
	require.NoError(t, err)
	require.True(t, ok)

	mutated := append([]byte{}, data...)
	mutated[len(mutated)/2] ^= 0xff
	ok, err = digest.Verify(bytes.NewReader(mutated), int64(len(mutated)), digest.Verifiable{
		SizeBytes:   int64(len(data)),
		ContentHash: contentHash,
		PieceLength: pieceLength,
		PieceHashes: pieceHashes,
	})
	require.NoError(t, err)
	require.False(t, ok)
}
