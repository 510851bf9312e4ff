package download

import (
	"io"
	"os"

	"github.com/kmsync/kmsync/pkg/digest"
	"github.com/kmsync/kmsync/pkg/kerrors"
	"github.com/kmsync/kmsync/pkg/kmetrics"
)

// Mode selects how much of a downloaded file VerifyFile re-hashes.
type Mode int

const (
	// FullVerify recomputes the whole-file SHA-256 content hash.
	FullVerify Mode = iota
	// FastVerify recomputes only the per-piece SHA-1 hashes, which is
	// cheaper to parallelize per piece but does not double-check the
	// content hash itself.
	FastVerify
)

// Record is the stored integrity metadata VerifyFile checks a file
// against.
type Record struct {
	SizeBytes   int64
	ContentHash string
	PieceLength int64
	PieceHashes string
}

// VerifyFile re-reads path and reports whether it matches record under
// the given mode. Size is always checked first; a mismatch short-
// circuits to false without touching any hash. Both modes reject any
// single-byte modification. metrics may be nil; when supplied, a
// successful verification records its bytes as fetched and a failed
// one increments the piece/content verify-failure counter.
func VerifyFile(path string, record Record, mode Mode, metrics *kmetrics.Registry) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, kerrors.IoError(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, kerrors.IoError(path, err)
	}
	if info.Size() != record.SizeBytes {
		return false, nil
	}

	var ok bool
	switch mode {
	case FullVerify:
		ok, err = digest.Verify(f, info.Size(), digest.Verifiable{
			SizeBytes:   record.SizeBytes,
			ContentHash: record.ContentHash,
			PieceLength: 0,
			PieceHashes: "",
		})
	case FastVerify:
		sr := io.NewSectionReader(f, 0, info.Size())
		var pieceHashes string
		pieceHashes, err = digest.PieceHashes(sr, record.PieceLength)
		ok = err == nil && pieceHashes == record.PieceHashes
	default:
		return false, kerrors.InvalidArgument("unknown verify mode %d", mode)
	}
	if err != nil {
		return false, err
	}

	if metrics != nil {
		if ok {
			metrics.DownloadBytesFetched.Add(float64(info.Size()))
		} else {
			metrics.DownloadPieceVerifyFail.Inc()
		}
	}
	return ok, nil
}
