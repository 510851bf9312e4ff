package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kmsync/kmsync/pkg/checkpoint"
	"github.com/kmsync/kmsync/pkg/deltacodec"
	"github.com/kmsync/kmsync/pkg/kerrors"
)

// findCheckpoint scans every session's manifests for one whose ID
// matches checkpointID. Session directories are small in practice (one
// manifest per install step), so a linear scan needs no separate
// index; ListSessions/ListCheckpoints already pay this cost.
func (m *Manager) findCheckpoint(checkpointID string) (*checkpoint.Checkpoint, error) {
	sessionIDs, err := listSessionIDs(m.layout)
	if err != nil {
		return nil, err
	}
	for _, sessionID := range sessionIDs {
		seqs, err := listManifestSequences(m.layout, sessionID)
		if err != nil {
			return nil, err
		}
		for _, seq := range seqs {
			c, err := readManifest(m.layout, sessionID, seq)
			if err != nil {
				continue
			}
			if c.ID == checkpointID {
				return c, nil
			}
		}
	}
	return nil, kerrors.CheckpointNotFound(checkpointID)
}

// RestoreCheckpoint reconstructs every file recorded by checkpointID
// onto disk and removes every path on disk that the target checkpoint's
// Files does not name. It never mutates session state.
func (m *Manager) RestoreCheckpoint(checkpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, err := m.findCheckpoint(checkpointID)
	if err != nil {
		return err
	}

	existing, _, err := scanExisting(m.layout.managedRoot)
	if err != nil {
		return err
	}

	for path, fr := range target.Files {
		data, err := m.reconstructBytes(target.SessionID, target, path, fr)
		if err != nil {
			return err
		}
		abs := filepath.Join(m.layout.managedRoot, filepath.FromSlash(path))
		if err := writeFileAtomic(abs, data); err != nil {
			return err
		}
	}

	for path := range existing {
		if _, keep := target.Files[path]; keep {
			continue
		}
		abs := filepath.Join(m.layout.managedRoot, filepath.FromSlash(path))
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return kerrors.IoError(abs, err)
		}
	}

	var mismatched []string
	for path, fr := range target.Files {
		abs := filepath.Join(m.layout.managedRoot, filepath.FromSlash(path))
		data, err := os.ReadFile(abs)
		if err != nil {
			mismatched = append(mismatched, path)
			continue
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != fr.Hash {
			mismatched = append(mismatched, path)
		}
	}
	if len(mismatched) > 0 {
		m.log.Error("restore verification failed", zap.Strings("paths", mismatched))
		return kerrors.RestoreVerifyFailed(mismatched)
	}

	m.log.Info("restore completed", zap.String("checkpoint_id", checkpointID), zap.Int("file_count", len(target.Files)))
	return nil
}

// reconstructBytes resolves fr's bytes: directly from CAS when present,
// else by resolving the forward delta's base (from CAS, or recursively
// from an earlier checkpoint of the session that recorded that base
// for path) and applying the forward delta to it. Reverse deltas are
// not used.
func (m *Manager) reconstructBytes(sessionID string, owner *checkpoint.Checkpoint, path string, fr *checkpoint.FileRecord) ([]byte, error) {
	if m.objects.Exists(fr.CASHash) {
		return m.objects.GetBytes(fr.CASHash)
	}
	if fr.ForwardDelta == nil {
		return nil, kerrors.MissingCASObject(fr.CASHash)
	}

	baseBytes, err := m.resolveBase(sessionID, owner, path, fr.ForwardDelta.BaseCASHash)
	if err != nil {
		return nil, err
	}
	deltaBytes, err := m.deltas.GetBytes(fr.ForwardDelta.DeltaCASHash)
	if err != nil {
		return nil, err
	}
	return deltacodec.Decode(baseBytes, deltaBytes)
}

// resolveBase finds the checkpoint preceding owner in sessionID that
// recorded baseCASHash for path, and reconstructs its bytes.
func (m *Manager) resolveBase(sessionID string, owner *checkpoint.Checkpoint, path, baseCASHash string) ([]byte, error) {
	if m.objects.Exists(baseCASHash) {
		return m.objects.GetBytes(baseCASHash)
	}
	seqs, err := listManifestSequences(m.layout, sessionID)
	if err != nil {
		return nil, err
	}
	for i := len(seqs) - 1; i >= 0; i-- {
		if seqs[i] >= owner.Sequence {
			continue
		}
		c, err := readManifest(m.layout, sessionID, seqs[i])
		if err != nil {
			continue
		}
		fr, ok := c.Files[path]
		if !ok || fr.CASHash != baseCASHash {
			continue
		}
		return m.reconstructBytes(sessionID, c, path, fr)
	}
	return nil, kerrors.MissingCASObject(baseCASHash)
}

// scanExisting lists every regular file currently on disk under root,
// excluding the .kmsync subtree, keyed by the same path convention
// FileRecord.Path uses.
func scanExisting(root string) (map[string]struct{}, []string, error) {
	var warnings []string
	files := map[string]struct{}{}
	metaPrefix := filepath.Join(root, metadataDirName)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == metaPrefix {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		files[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, nil, kerrors.IoError(root, err)
	}
	return files, warnings, nil
}

// writeFileAtomic writes data to abs via a temp file beside it,
// fsyncs, and renames into place.
func writeFileAtomic(abs string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return kerrors.IoError(filepath.Dir(abs), err)
	}
	tmp := fmt.Sprintf("%s.kmsync-tmp", abs)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return kerrors.IoError(tmp, err)
	}
	f, err := os.OpenFile(tmp, os.O_WRONLY, 0o644)
	if err != nil {
		return kerrors.IoError(tmp, err)
	}
	syncErr := f.Sync()
	f.Close()
	if syncErr != nil {
		os.Remove(tmp)
		return kerrors.IoError(tmp, syncErr)
	}
	if err := os.Rename(tmp, abs); err != nil {
		return kerrors.IoError(abs, err)
	}
	return nil
}
