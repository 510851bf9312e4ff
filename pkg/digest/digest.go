// Package digest computes the content hashes, piece hashes and piece
// sizing that identify every byte sequence the checkpoint engine and
// the download integrity core store: a SHA-256 whole-file content hash
// and fixed-size SHA-1 piece hashes, bundled into a single set of pure
// functions rather than passing loose strings around.
package digest

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/kmsync/kmsync/pkg/kerrors"
)

// Minimum and maximum piece sizes a FileRecord may be split into.
// These are the config package's zero-value defaults; a loaded
// config.Config may narrow this range but never widen it.
const (
	MinPieceSizeBytes = 64 * 1024
	MaxPieceSizeBytes = 4 * 1024 * 1024

	// MaxPieceCount bounds piece_length so that no file decomposes
	// into more than 2^20 pieces.
	MaxPieceCount = 1 << 20

	// ContentHashHexLen is the length of a lowercase hex-encoded
	// SHA-256 content hash.
	ContentHashHexLen = sha256.Size * 2

	// PieceHashHexLen is the length of a single lowercase hex-encoded
	// SHA-1 piece digest.
	PieceHashHexLen = sha1.Size * 2
)

// PieceSize chooses the smallest power-of-two piece size in
// [minSizeBytes, maxSizeBytes] such that ceil(fileSize/pieceSize) does
// not exceed MaxPieceCount. It is pure and deterministic: identical
// fileSize and bounds always yield the identical result, and it must
// be called exactly once per file during a scan.
func PieceSize(fileSize int64, minSizeBytes, maxSizeBytes int64) int64 {
	if minSizeBytes <= 0 {
		minSizeBytes = MinPieceSizeBytes
	}
	if maxSizeBytes <= 0 {
		maxSizeBytes = MaxPieceSizeBytes
	}
	size := minSizeBytes
	for size < maxSizeBytes {
		pieceCount := (fileSize + size - 1) / size
		if fileSize == 0 || pieceCount <= MaxPieceCount {
			return size
		}
		size *= 2
	}
	return maxSizeBytes
}

// ContentHash streams r and returns the lowercase hex SHA-256 of its
// full contents.
func ContentHash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", kerrors.IoError("<stream>", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// PieceHashes reads r in pieceSize chunks and returns the
// concatenation of each chunk's SHA-1 digest, hex-encoded. The final
// piece may be short. Re-hashing identical bytes with the same
// pieceSize always yields an identical result.
func PieceHashes(r io.Reader, pieceSize int64) (string, error) {
	if pieceSize <= 0 {
		return "", kerrors.InvalidArgument("pieceSize must be positive, got %d", pieceSize)
	}
	var sb []byte
	buf := make([]byte, pieceSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			sum := sha1.Sum(buf[:n])
			sb = append(sb, []byte(hex.EncodeToString(sum[:]))...)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", kerrors.IoError("<stream>", err)
		}
	}
	return string(sb), nil
}

// PieceCount returns the number of pieces encoded in hashes, given the
// fixed PieceHashHexLen per entry.
func PieceCount(hashes string) int {
	return len(hashes) / PieceHashHexLen
}

// PieceAt returns the hex digest of the piece at index i.
func PieceAt(hashes string, i int) string {
	return hashes[i*PieceHashHexLen : (i+1)*PieceHashHexLen]
}

// Verifiable is the subset of a FileRecord that Verify needs, kept
// independent of the checkpoint package to avoid an import cycle.
type Verifiable struct {
	SizeBytes   int64
	ContentHash string
	PieceLength int64
	PieceHashes string
}

// Verify re-hashes r (which must produce exactly sizeBytes, matching
// record.SizeBytes) and reports whether its size, full content hash
// and every piece hash match record. A size mismatch short-circuits to
// false without touching any hash. When record.PieceLength is not
// positive, piece hashes are not checked.
func Verify(r io.ReaderAt, sizeBytes int64, record Verifiable) (bool, error) {
	if sizeBytes != record.SizeBytes {
		return false, nil
	}
	sr := io.NewSectionReader(r, 0, sizeBytes)
	contentHash, err := ContentHash(sr)
	if err != nil {
		return false, err
	}
	if contentHash != record.ContentHash {
		return false, nil
	}
	if record.PieceLength <= 0 {
		return true, nil
	}
	sr = io.NewSectionReader(r, 0, sizeBytes)
	pieceHashes, err := PieceHashes(sr, record.PieceLength)
	if err != nil {
		return false, err
	}
	return pieceHashes == record.PieceHashes, nil
}

// FormatBytes renders a byte count the way the CLI reports sizes, a
// plain one-line helper rather than a pulled-in humanize dependency.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
