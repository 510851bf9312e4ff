// Package objectstore implements the fanout, content-addressed object
// store that backs both the CAS (objects/) and delta (deltas/) leaves
// of .kmsync/checkpoints. Every object is staged to a temp file,
// fsynced, and renamed into place by content hash, so a crash mid-write
// never leaves a partially-written object visible under its final name.
package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kmsync/kmsync/pkg/kerrors"
)

// Store is a content-addressed, fanout object store rooted at a single
// directory (either .kmsync/checkpoints/objects or .../deltas). Every
// object is keyed by the SHA-256 of its own bytes.
type Store struct {
	root string

	mu    sync.Mutex
	state uint64 // xorshift64* state for temp-file suffixes
}

// New creates a Store rooted at root, creating root/tmp if it does not
// already exist.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, kerrors.IoError(root, err)
	}
	seed := uint64(time.Now().UnixNano()) ^ 0x9e3779b97f4a7c15
	if seed == 0 {
		seed = 1
	}
	return &Store{
		root:  root,
		state: seed,
	}, nil
}

// HashBytes returns the SHA-256 content key Put would assign to data,
// without writing anything. Callers that need to know ahead of a Put
// whether an object is already present (e.g. to report deduplicated
// bytes) compute the key with this and check it against Exists.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// pathFor returns the fanout path objects/aa/bb/<hash> for a hash.
func (s *Store) pathFor(hash string) string {
	return filepath.Join(s.root, hash[0:2], hash[2:4], hash)
}

// Exists reports whether an object with the given hash is present.
func (s *Store) Exists(hash string) bool {
	_, err := os.Stat(s.pathFor(hash))
	return err == nil
}

// Get opens the object for reading. It returns a NotFound kerrors
// error (MissingCASObject) if absent.
func (s *Store) Get(hash string) (io.ReadCloser, error) {
	f, err := os.Open(s.pathFor(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, kerrors.MissingCASObject(hash)
	}
	if err != nil {
		return nil, kerrors.IoError(s.pathFor(hash), err)
	}
	return f, nil
}

// GetBytes reads the whole object into memory.
func (s *Store) GetBytes(hash string) ([]byte, error) {
	r, err := s.Get(hash)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// nextTempSuffix generates a fast, non-cryptographic suffix for
// staging files via an xorshift64* step. Collisions are harmless: the
// final rename target is keyed by content hash, not by this suffix.
func (s *Store) nextTempSuffix() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	x := s.state
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	s.state = x
	return x * 0x2545F4914F6CDD1D
}

// Put writes data to the store and returns its SHA-256 hash as the
// object key. Concurrent puts of identical bytes converge on one
// object: the loser of the race deletes its own temp file once it
// observes the final path already exists.
func (s *Store) Put(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	return hash, s.putAt(hash, data)
}

// PutReader streams r into the store, computing its hash as it goes.
// The caller must know the expected hash ahead of time (e.g. from a
// FileRecord) so mismatches can be reported without first buffering
// the whole stream in memory.
func (s *Store) PutReader(expectedHash string, expectedSize int64, r io.Reader) error {
	finalPath := s.pathFor(expectedHash)
	if _, err := os.Stat(finalPath); err == nil {
		// Already present: drain r to keep callers simple, but do
		// no further I/O.
		_, _ = io.Copy(io.Discard, r)
		return nil
	}

	tempPath := filepath.Join(s.root, "tmp", fmt.Sprintf("%016x", s.nextTempSuffix()))
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return kerrors.IoError(tempPath, err)
	}
	h := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(f, h), r)
	if copyErr != nil {
		f.Close()
		os.Remove(tempPath)
		return kerrors.IoError(tempPath, copyErr)
	}
	if n != expectedSize {
		f.Close()
		os.Remove(tempPath)
		return kerrors.InvalidArgument("object %s: wrote %d bytes, expected %d", expectedHash, n, expectedSize)
	}
	actualHash := hex.EncodeToString(h.Sum(nil))
	if actualHash != expectedHash {
		f.Close()
		os.Remove(tempPath)
		return kerrors.HashMismatch("<object>", expectedHash, actualHash)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return kerrors.IoError(tempPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return kerrors.IoError(tempPath, err)
	}
	return s.commit(tempPath, finalPath)
}

func (s *Store) putAt(hash string, data []byte) error {
	finalPath := s.pathFor(hash)
	if _, err := os.Stat(finalPath); err == nil {
		return nil
	}

	tempPath := filepath.Join(s.root, "tmp", fmt.Sprintf("%016x", s.nextTempSuffix()))
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return kerrors.IoError(tempPath, err)
	}
	f, err := os.OpenFile(tempPath, os.O_WRONLY, 0o644)
	if err != nil {
		os.Remove(tempPath)
		return kerrors.IoError(tempPath, err)
	}
	syncErr := f.Sync()
	f.Close()
	if syncErr != nil {
		os.Remove(tempPath)
		return kerrors.IoError(tempPath, syncErr)
	}
	return s.commit(tempPath, finalPath)
}

// commit renames tempPath into place, creating the two-level fanout
// directory on demand, and tolerates a concurrent winner having
// already claimed finalPath.
func (s *Store) commit(tempPath, finalPath string) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		os.Remove(tempPath)
		return kerrors.IoError(finalPath, err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		// Another writer may have raced us to the same content;
		// treat an existing destination as success and discard our
		// temp file.
		if _, statErr := os.Stat(finalPath); statErr == nil {
			os.Remove(tempPath)
			return nil
		}
		os.Remove(tempPath)
		return kerrors.IoError(finalPath, err)
	}
	return nil
}

// Delete removes an object. Only the garbage collector may call this,
// under the session store's exclusive lock.
func (s *Store) Delete(hash string) error {
	err := os.Remove(s.pathFor(hash))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return kerrors.IoError(s.pathFor(hash), err)
	}
	return nil
}

// List walks the fanout tree and returns every stored object's hash.
// Used by garbage collection to compute the set of objects on disk.
func (s *Store) List() ([]string, error) {
	var hashes []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "tmp" || strings.HasPrefix(rel, "tmp"+string(filepath.Separator)) {
			return nil
		}
		hashes = append(hashes, d.Name())
		return nil
	})
	if err != nil {
		return nil, kerrors.IoError(s.root, err)
	}
	return hashes, nil
}
