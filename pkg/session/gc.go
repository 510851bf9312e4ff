package session

import (
	"go.uber.org/zap"

	"github.com/kmsync/kmsync/pkg/checkpoint"
)

// GarbageCollect computes the reachable set of CAS/delta object
// hashes across every live checkpoint of every non-discarded session,
// and deletes everything else. The caller must hold the
// process-exclusive lock (Manager.Lock).
func (m *Manager) GarbageCollect() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.Clock.Now()
	sessionIDs, err := listSessionIDs(m.layout)
	if err != nil {
		return 0, err
	}

	reachableObjects := map[string]struct{}{}
	reachableDeltas := map[string]struct{}{}
	for _, sessionID := range sessionIDs {
		meta, err := readSessionMeta(m.layout, sessionID)
		if err != nil {
			continue
		}
		if meta.State == checkpoint.SessionCompletedDiscarded {
			continue
		}
		seqs, err := listManifestSequences(m.layout, sessionID)
		if err != nil {
			return 0, err
		}
		for _, seq := range seqs {
			c, err := readManifest(m.layout, sessionID, seq)
			if err != nil {
				continue
			}
			for _, fr := range c.Files {
				if fr.CASHash != "" {
					reachableObjects[fr.CASHash] = struct{}{}
				}
				if fr.ForwardDelta != nil {
					reachableDeltas[fr.ForwardDelta.DeltaCASHash] = struct{}{}
					reachableObjects[fr.ForwardDelta.BaseCASHash] = struct{}{}
				}
				if fr.ReverseDelta != nil {
					reachableDeltas[fr.ReverseDelta.DeltaCASHash] = struct{}{}
				}
			}
		}
	}

	removed := 0
	allObjects, err := m.objects.List()
	if err != nil {
		return 0, err
	}
	for _, hash := range allObjects {
		if _, keep := reachableObjects[hash]; keep {
			continue
		}
		if err := m.objects.Delete(hash); err != nil {
			m.log.Warn("failed to delete unreachable object", zap.String("hash", hash), zap.Error(err))
			continue
		}
		removed++
	}

	allDeltas, err := m.deltas.List()
	if err != nil {
		return removed, err
	}
	for _, hash := range allDeltas {
		if _, keep := reachableDeltas[hash]; keep {
			continue
		}
		if err := m.deltas.Delete(hash); err != nil {
			m.log.Warn("failed to delete unreachable delta", zap.String("hash", hash), zap.Error(err))
			continue
		}
		removed++
	}

	m.metrics.GCObjectsReclaimed.Add(float64(removed))
	m.metrics.GCRunDuration.Observe(m.Clock.Now().Sub(start).Seconds())
	m.log.Info("garbage collection completed", zap.Int("removed", removed))
	return removed, nil
}
