package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/kmsync/kmsync/pkg/checkpoint"
	"github.com/kmsync/kmsync/pkg/kerrors"
)

// ValidateCheckpoint checks that every FileRecord's referenced CAS and
// delta objects exist, and recomputes bytes to confirm they hash to
// what the manifest recorded.
func (m *Manager) ValidateCheckpoint(checkpointID string) (bool, []error) {
	target, err := m.findCheckpoint(checkpointID)
	if err != nil {
		return false, []error{err}
	}
	return m.validateCheckpointObject(target)
}

func (m *Manager) validateCheckpointObject(c *checkpoint.Checkpoint) (bool, []error) {
	var errs []error
	for path, fr := range c.Files {
		if !m.objects.Exists(fr.CASHash) {
			if fr.ForwardDelta == nil {
				errs = append(errs, kerrors.MissingCASObject(fr.CASHash))
				continue
			}
			if !m.deltas.Exists(fr.ForwardDelta.DeltaCASHash) {
				errs = append(errs, kerrors.MissingDeltaObject(fr.ForwardDelta.DeltaCASHash))
				continue
			}
		}
		if fr.ReverseDelta != nil && !m.deltas.Exists(fr.ReverseDelta.DeltaCASHash) {
			errs = append(errs, kerrors.MissingDeltaObject(fr.ReverseDelta.DeltaCASHash))
		}

		data, recErr := m.reconstructBytes(c.SessionID, c, path, fr)
		if recErr != nil {
			errs = append(errs, fmt.Errorf("reconstructing %q: %w", path, recErr))
			continue
		}
		if int64(len(data)) != fr.SizeBytes {
			errs = append(errs, kerrors.InvalidArgument("reconstructed %q is %d bytes, expected %d", path, len(data), fr.SizeBytes))
			continue
		}
		sum := sha256.Sum256(data)
		if actual := hex.EncodeToString(sum[:]); actual != fr.Hash {
			errs = append(errs, kerrors.HashMismatch(path, fr.Hash, actual))
		}
	}
	return len(errs) == 0, errs
}

// ValidateSession validates every checkpoint sealed for sessionID.
func (m *Manager) ValidateSession(sessionID string) (bool, map[string][]error) {
	seqs, err := listManifestSequences(m.layout, sessionID)
	if err != nil {
		return false, map[string][]error{sessionID: {err}}
	}
	results := make(map[string][]error, len(seqs))
	ok := true
	for _, seq := range seqs {
		c, err := readManifest(m.layout, sessionID, seq)
		if err != nil {
			results[fmt.Sprintf("%s/%d", sessionID, seq)] = []error{err}
			ok = false
			continue
		}
		checkpointOK, errs := m.validateCheckpointObject(c)
		if !checkpointOK {
			ok = false
		}
		if len(errs) > 0 {
			results[c.ID] = errs
		}
	}
	if !ok {
		meta, err := readSessionMeta(m.layout, sessionID)
		if err == nil {
			meta.State = checkpoint.SessionCorrupt
			_ = writeSessionMeta(m.layout, meta)
		}
	}
	return ok, results
}
