// Package scan implements the directory scanner and differ: walking a
// ManagedRoot into FileRecords, and partitioning two generations of
// FileRecords into Added/Modified/Deleted/Unchanged. The walk follows
// plain os/filepath idiom; every FileRecord it produces is built with
// the pkg/digest hashing functions.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kmsync/kmsync/pkg/checkpoint"
	"github.com/kmsync/kmsync/pkg/digest"
	"github.com/kmsync/kmsync/pkg/kerrors"
)

// MetadataDirName is the managed-root-relative subtree the scanner
// always skips.
const MetadataDirName = ".kmsync"

// Options configures one Scan call.
type Options struct {
	// CaseSensitivePaths selects the identity policy used when two
	// scans are later diffed against each other. It does not affect
	// the FileRecord.Path casing recorded, only how paths are
	// compared for equality.
	CaseSensitivePaths bool

	// PieceSizeMinBytes/PieceSizeMaxBytes override digest.PieceSize's
	// defaults; zero means "use the package defaults".
	PieceSizeMinBytes int64
	PieceSizeMaxBytes int64

	// TrustMtime permits the stat-only fast path: when a previous
	// FileRecord is available for a path and both size and mtime
	// match, the file is assumed unchanged and its previous record is
	// reused without rehashing.
	TrustMtime bool

	// Previous is consulted by the TrustMtime fast path. It may be
	// nil.
	Previous map[string]*checkpoint.FileRecord
}

// Warning reports a path the scanner could not or would not ingest,
// such as a symlink that escapes ManagedRoot.
type Warning struct {
	Path   string
	Reason string
}

// Key folds path for identity comparisons according to
// caseSensitive, without altering the path recorded in a FileRecord.
func Key(path string, caseSensitive bool) string {
	if caseSensitive {
		return path
	}
	return strings.ToLower(path)
}

// Scan walks root, producing one FileRecord per regular file found,
// keyed by Key(path, opts.CaseSensitivePaths). A symlink to a regular
// file inside root is followed and recorded under its target's path;
// a symlink to a directory is not descended into, so files reachable
// only through it are not recorded. Links that escape root or cannot
// be resolved are reported as warnings and skipped.
func Scan(root string, opts Options) (map[string]*checkpoint.FileRecord, []Warning, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, kerrors.IoError(root, err)
	}
	records := map[string]*checkpoint.FileRecord{}
	var warnings []Warning
	visited := map[string]struct{}{}

	metadataPrefix := filepath.Join(absRoot, MetadataDirName) + string(filepath.Separator)

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == absRoot {
			return nil
		}
		if path == filepath.Join(absRoot, MetadataDirName) || strings.HasPrefix(path, metadataPrefix) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if info.Mode()&fs.ModeSymlink != 0 {
			target, resolveErr := filepath.EvalSymlinks(path)
			if resolveErr != nil {
				warnings = append(warnings, Warning{Path: relPath(absRoot, path), Reason: "unresolvable symlink"})
				return nil
			}
			if !strings.HasPrefix(target, absRoot+string(filepath.Separator)) && target != absRoot {
				warnings = append(warnings, Warning{Path: relPath(absRoot, path), Reason: "symlink escapes managed root"})
				return nil
			}
			targetInfo, statErr := os.Stat(target)
			if statErr != nil {
				return nil
			}
			if targetInfo.IsDir() {
				if _, seen := visited[target]; seen {
					return nil
				}
				visited[target] = struct{}{}
				return nil
			}
			info = targetInfo
			path = target
		}

		if d.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		rel := relPath(absRoot, path)
		record, recordErr := buildFileRecord(path, rel, info.Size(), info.ModTime(), opts)
		if recordErr != nil {
			return recordErr
		}
		records[Key(rel, opts.CaseSensitivePaths)] = record
		return nil
	})
	if walkErr != nil {
		return nil, nil, kerrors.IoError(root, walkErr)
	}
	return records, warnings, nil
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	return filepath.ToSlash(rel)
}

func buildFileRecord(absPath, relPath string, size int64, modTime time.Time, opts Options) (*checkpoint.FileRecord, error) {
	mtime := modTime.UTC()

	if opts.TrustMtime && opts.Previous != nil {
		if prev, ok := opts.Previous[Key(relPath, opts.CaseSensitivePaths)]; ok {
			if prev.SizeBytes == size && prev.ModTime.Equal(mtime) {
				// Stat-only fast path: size and mtime both match the
				// previous record and the caller has opted in to
				// trusting mtime over content; the record is reused
				// verbatim.
				cp := *prev
				cp.Path = relPath
				return &cp, nil
			}
		}
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, kerrors.IoError(absPath, err)
	}
	defer f.Close()

	contentHash, err := digest.ContentHash(f)
	if err != nil {
		return nil, err
	}

	pieceLength := digest.PieceSize(size, opts.PieceSizeMinBytes, opts.PieceSizeMaxBytes)
	if _, err := f.Seek(0, 0); err != nil {
		return nil, kerrors.IoError(absPath, err)
	}
	pieceHashes, err := digest.PieceHashes(f, pieceLength)
	if err != nil {
		return nil, err
	}

	return &checkpoint.FileRecord{
		Path:        relPath,
		SizeBytes:   size,
		Hash:        contentHash,
		PieceLength: pieceLength,
		PieceHashes: pieceHashes,
		ModTime:     mtime,
	}, nil
}

// SortedPaths returns the Path fields of records in lexicographic
// order, the ordering byte-reproducible manifests require.
func SortedPaths(records map[string]*checkpoint.FileRecord) []string {
	paths := make([]string, 0, len(records))
	for _, r := range records {
		paths = append(paths, r.Path)
	}
	sort.Strings(paths)
	return paths
}
