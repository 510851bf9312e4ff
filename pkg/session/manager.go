package session

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/oklog/ulid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kmsync/kmsync/pkg/checkpoint"
	"github.com/kmsync/kmsync/pkg/config"
	"github.com/kmsync/kmsync/pkg/deltacodec"
	"github.com/kmsync/kmsync/pkg/flock"
	"github.com/kmsync/kmsync/pkg/kerrors"
	"github.com/kmsync/kmsync/pkg/kmetrics"
	"github.com/kmsync/kmsync/pkg/objectstore"
	"github.com/kmsync/kmsync/pkg/scan"
)

// Manager is the Session Manager, bound to one ManagedRoot. A process
// normally holds exactly one Manager per root for the lifetime of its
// process-exclusive lock.
type Manager struct {
	layout  layout
	cfg     config.Config
	log     *zap.Logger
	metrics *kmetrics.Registry

	objects *objectstore.Store
	deltas  *objectstore.Store

	// Clock supplies every timestamp this Manager records. It defaults
	// to the real wall clock; tests substitute clock.NewMock() so
	// anchor spacing and session timing assertions don't race real time.
	Clock clock.Clock

	// mu serializes every mutation of a single session's tip: it MUST
	// serialize mutations of any single session. One Manager instance
	// guards one ManagedRoot, so a
	// single mutex is sufficient.
	mu sync.Mutex
}

// Open wires a Manager for managedRoot, creating .kmsync/'s
// subdirectories if absent. It does not take the process-exclusive
// lock; call Lock first if the caller needs cross-process exclusion.
func Open(managedRoot string, cfg config.Config, metrics *kmetrics.Registry, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = kmetrics.NewUnregisteredRegistry()
	}
	l := newLayout(managedRoot)
	if err := os.MkdirAll(l.sessionsRoot(), 0o755); err != nil {
		return nil, kerrors.IoError(l.sessionsRoot(), err)
	}
	objects, err := objectstore.New(l.objectsDir())
	if err != nil {
		return nil, err
	}
	deltas, err := objectstore.New(l.deltasDir())
	if err != nil {
		return nil, err
	}
	return &Manager{
		layout:  l,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		objects: objects,
		deltas:  deltas,
		Clock:   clock.New(),
	}, nil
}

// Lock takes the process-exclusive lockfile over .kmsync/lock.
// Callers that only read (list/validate) may skip it.
func (m *Manager) Lock() (*flock.Lock, error) {
	return flock.Acquire(m.layout.lockPath())
}

func (m *Manager) scanOptions(previous map[string]*checkpoint.FileRecord) scan.Options {
	return scan.Options{
		CaseSensitivePaths: m.cfg.CaseSensitivePaths,
		PieceSizeMinBytes:  m.cfg.PieceSizeMinBytes,
		PieceSizeMaxBytes:  m.cfg.PieceSizeMaxBytes,
		TrustMtime:         m.cfg.TrustMtime,
		Previous:           previous,
	}
}

// activeSessionID returns the id of the session currently Active for
// this ManagedRoot, or "" if none is.
func (m *Manager) activeSessionID() (string, error) {
	ids, err := listSessionIDs(m.layout)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		meta, err := readSessionMeta(m.layout, id)
		if err != nil {
			continue
		}
		if meta.State == checkpoint.SessionActive {
			return id, nil
		}
	}
	return "", nil
}

// StartSession creates a new Session, seals the baseline checkpoint
// (sequence 0, component_name "Baseline") and stores every scanned
// file as a CAS object.
func (m *Manager) StartSession() (*checkpoint.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, err := m.activeSessionID(); err != nil {
		return nil, err
	} else if existing != "" {
		return nil, kerrors.SessionAlreadyActive(m.layout.managedRoot)
	}

	records, warnings, err := scan.Scan(m.layout.managedRoot, m.scanOptions(nil))
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		m.log.Warn("scan warning", zap.String("path", w.Path), zap.String("reason", w.Reason))
	}

	sessionID := newSessionID()
	started := m.Clock.Now().UTC()
	if err := writeSessionMeta(m.layout, sessionMeta{
		ID:          sessionID,
		ManagedRoot: m.layout.managedRoot,
		StartedUTC:  started,
		State:       checkpoint.SessionActive,
	}); err != nil {
		return nil, err
	}

	paths := scan.SortedPaths(records)
	recs := make([]*checkpoint.FileRecord, len(paths))
	for i, path := range paths {
		recs[i] = records[path]
	}
	frs, sizes, deduped, err := m.materializeManyFull(recs)
	if err != nil {
		return nil, err
	}

	var totalSize int64
	files := make(map[string]*checkpoint.FileRecord, len(records))
	for i, fr := range frs {
		files[fr.Path] = fr
		totalSize += fr.SizeBytes
		m.recordMaterializedBytes(sizes[i], deduped[i])
	}

	c := &checkpoint.Checkpoint{
		ID:             m.newCheckpointID(),
		SessionID:      sessionID,
		Sequence:       0,
		ComponentName:  "Baseline",
		CreatedUTC:     started,
		Files:          files,
		Added:          []checkpoint.DiffEntry{},
		Modified:       []checkpoint.DiffEntry{},
		Deleted:        []checkpoint.DiffEntry{},
		IsAnchor:       true,
		TotalSizeBytes: totalSize,
	}
	if err := writeManifest(m.layout, c); err != nil {
		return nil, err
	}
	m.log.Info("session started",
		zap.String("session_id", sessionID),
		zap.Int("file_count", len(files)),
	)
	return (sessionMeta{ID: sessionID, ManagedRoot: m.layout.managedRoot, StartedUTC: started, State: checkpoint.SessionActive}).toSession(), nil
}

// CreateCheckpoint scans and diffs root against the session's current
// tip, materializes CAS/delta objects for new content, and seals a new
// manifest.
func (m *Manager) CreateCheckpoint(sessionID, componentName, componentID string) (*checkpoint.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.Clock.Now()
	meta, err := readSessionMeta(m.layout, sessionID)
	if err != nil {
		return nil, err
	}
	if meta.State != checkpoint.SessionActive {
		return nil, kerrors.NoActiveSession(m.layout.managedRoot)
	}

	tipSeq, err := tipSequence(m.layout, sessionID)
	if err != nil {
		return nil, err
	}
	tip, err := readManifest(m.layout, sessionID, tipSeq)
	if err != nil {
		return nil, err
	}

	records, warnings, err := scan.Scan(m.layout.managedRoot, m.scanOptions(tip.Files))
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		m.log.Warn("scan warning", zap.String("path", w.Path), zap.String("reason", w.Reason))
	}

	diff := scan.Diff(tip.Files, records)
	sequence := tip.Sequence + 1
	isAnchor := checkpoint.IsAnchorSequence(sequence, m.cfg.AnchorInterval)

	files := make(map[string]*checkpoint.FileRecord, len(records))
	for path, prevRecord := range tip.Files {
		if _, stillPresent := records[path]; !stillPresent {
			continue
		}
		files[path] = prevRecord
	}

	var addedEntries, modifiedEntries, deletedEntries []checkpoint.DiffEntry
	var totalSize, deltaSize int64

	addedFrs, addedSizes, addedDeduped, err := m.materializeManyFull(diff.Added)
	if err != nil {
		return nil, err
	}
	for i, fr := range addedFrs {
		files[fr.Path] = fr
		addedEntries = append(addedEntries, checkpoint.DiffEntry{Path: fr.Path})
		m.recordMaterializedBytes(addedSizes[i], addedDeduped[i])
	}

	modifiedFrs, modifiedSizes, modifiedDeduped, err := m.materializeManyFull(diff.Modified)
	if err != nil {
		return nil, err
	}
	for i, fr := range modifiedFrs {
		rec := diff.Modified[i]
		m.recordMaterializedBytes(modifiedSizes[i], modifiedDeduped[i])

		prev := tip.Files[rec.Path]
		entry := checkpoint.DiffEntry{Path: fr.Path, TargetSizeBytes: fr.SizeBytes}
		if !isAnchor && prev != nil && m.objects.Exists(prev.CASHash) {
			fwdSize, revErr := m.attachDeltas(fr, prev)
			if revErr != nil {
				return nil, revErr
			}
			entry.ForwardDeltaSizeBytes = fwdSize
			deltaSize += fwdSize
		}
		files[fr.Path] = fr
		modifiedEntries = append(modifiedEntries, entry)
	}

	for _, rec := range diff.Deleted {
		deletedEntries = append(deletedEntries, checkpoint.DiffEntry{Path: rec.Path})
	}

	for _, fr := range files {
		totalSize += fr.SizeBytes
	}

	if addedEntries == nil {
		addedEntries = []checkpoint.DiffEntry{}
	}
	if modifiedEntries == nil {
		modifiedEntries = []checkpoint.DiffEntry{}
	}
	if deletedEntries == nil {
		deletedEntries = []checkpoint.DiffEntry{}
	}

	c := &checkpoint.Checkpoint{
		ID:             m.newCheckpointID(),
		SessionID:      sessionID,
		Sequence:       sequence,
		ComponentName:  componentName,
		ComponentID:    componentID,
		CreatedUTC:     m.Clock.Now().UTC(),
		Files:          files,
		Added:          addedEntries,
		Modified:       modifiedEntries,
		Deleted:        deletedEntries,
		IsAnchor:       isAnchor,
		TotalSizeBytes: totalSize,
		DeltaSizeBytes: deltaSize,
	}
	if err := writeManifest(m.layout, c); err != nil {
		return nil, err
	}

	m.metrics.CheckpointCreateDuration.Observe(m.Clock.Now().Sub(start).Seconds())
	m.log.Info("checkpoint sealed",
		zap.String("session_id", sessionID),
		zap.Int("sequence", sequence),
		zap.Bool("is_anchor", isAnchor),
		zap.Int("added", len(diff.Added)),
		zap.Int("modified", len(diff.Modified)),
		zap.Int("deleted", len(diff.Deleted)),
	)
	return c, nil
}

// materializeFull stores a scanned file's full content as a CAS
// object and returns the resulting FileRecord (with CASHash set), the
// number of bytes read from disk, and whether the CAS object already
// existed (the bytes were deduplicated rather than newly written).
func (m *Manager) materializeFull(rec *checkpoint.FileRecord) (*checkpoint.FileRecord, int64, bool, error) {
	abs := filepath.Join(m.layout.managedRoot, filepath.FromSlash(rec.Path))
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, 0, false, kerrors.IoError(abs, err)
	}
	casHash := objectstore.HashBytes(data)
	deduped := m.objects.Exists(casHash)
	if _, err := m.objects.Put(data); err != nil {
		return nil, 0, false, err
	}
	fr := *rec
	fr.CASHash = casHash
	return &fr, int64(len(data)), deduped, nil
}

// materializeManyFull runs materializeFull over recs concurrently,
// bounded to GOMAXPROCS workers so a large scan doesn't open every
// file in the tree at once. Results are returned in the same order as
// recs regardless of completion order; the underlying object store's
// Put is safe for concurrent callers.
func (m *Manager) materializeManyFull(recs []*checkpoint.FileRecord) ([]*checkpoint.FileRecord, []int64, []bool, error) {
	frs := make([]*checkpoint.FileRecord, len(recs))
	sizes := make([]int64, len(recs))
	deduped := make([]bool, len(recs))

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() error {
			fr, size, wasDeduped, err := m.materializeFull(rec)
			if err != nil {
				return err
			}
			frs[i] = fr
			sizes[i] = size
			deduped[i] = wasDeduped
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return frs, sizes, deduped, nil
}

// recordMaterializedBytes attributes size bytes to either the
// bytes-deduped or bytes-put counter depending on whether the CAS
// object already existed before this materialization.
func (m *Manager) recordMaterializedBytes(size int64, deduped bool) {
	if deduped {
		m.metrics.CheckpointBytesDeduped.Add(float64(size))
		return
	}
	m.metrics.CheckpointBytesPut.Add(float64(size))
}

// attachDeltas computes and stores the forward delta (prev -> fr) and
// reverse delta (fr -> prev) for a modified file, attaching both
// references to fr. It returns the forward delta's size for reporting.
func (m *Manager) attachDeltas(fr, prev *checkpoint.FileRecord) (int64, error) {
	baseBytes, err := m.objects.GetBytes(prev.CASHash)
	if err != nil {
		return 0, err
	}
	targetBytes, err := m.objects.GetBytes(fr.CASHash)
	if err != nil {
		return 0, err
	}

	forward := deltacodec.Encode(baseBytes, targetBytes)
	forwardHash, err := m.deltas.Put(forward)
	if err != nil {
		return 0, err
	}
	reverse := deltacodec.Encode(targetBytes, baseBytes)
	reverseHash, err := m.deltas.Put(reverse)
	if err != nil {
		return 0, err
	}

	fr.ForwardDelta = &checkpoint.DeltaRef{
		BaseCASHash:  prev.CASHash,
		DeltaCASHash: forwardHash,
		SizeBytes:    int64(len(forward)),
	}
	fr.ReverseDelta = &checkpoint.DeltaRef{
		BaseCASHash:  fr.CASHash,
		DeltaCASHash: reverseHash,
		SizeBytes:    int64(len(reverse)),
	}
	return int64(len(forward)), nil
}

// ListSessions returns a summary of every session known to this
// ManagedRoot.
func (m *Manager) ListSessions() ([]checkpoint.SessionSummary, error) {
	ids, err := listSessionIDs(m.layout)
	if err != nil {
		return nil, err
	}
	summaries := make([]checkpoint.SessionSummary, 0, len(ids))
	for _, id := range ids {
		meta, err := readSessionMeta(m.layout, id)
		if err != nil {
			continue
		}
		seqs, err := listManifestSequences(m.layout, id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, checkpoint.SessionSummary{
			ID:              meta.ID,
			ManagedRoot:     meta.ManagedRoot,
			StartedUTC:      meta.StartedUTC,
			CompletedUTC:    meta.CompletedUTC,
			State:           meta.State,
			CheckpointCount: len(seqs),
		})
	}
	return summaries, nil
}

// ListCheckpoints returns a summary of every sealed checkpoint of
// sessionID, ordered by sequence.
func (m *Manager) ListCheckpoints(sessionID string) ([]checkpoint.CheckpointSummary, error) {
	if _, err := readSessionMeta(m.layout, sessionID); err != nil {
		return nil, err
	}
	seqs, err := listManifestSequences(m.layout, sessionID)
	if err != nil {
		return nil, err
	}
	summaries := make([]checkpoint.CheckpointSummary, 0, len(seqs))
	for _, seq := range seqs {
		c, err := readManifest(m.layout, sessionID, seq)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, c.Summary())
	}
	return summaries, nil
}

// CompleteSession transitions an Active session to CompletedKept or
// CompletedDiscarded. Discarded sessions delete their manifests;
// garbage collection reclaims the now-unreachable objects later.
func (m *Manager) CompleteSession(sessionID string, keep bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := readSessionMeta(m.layout, sessionID)
	if err != nil {
		return err
	}
	if meta.State != checkpoint.SessionActive {
		return kerrors.NoActiveSession(m.layout.managedRoot)
	}

	now := m.Clock.Now().UTC()
	meta.CompletedUTC = &now
	if keep {
		meta.State = checkpoint.SessionCompletedKept
	} else {
		meta.State = checkpoint.SessionCompletedDiscarded
	}
	if err := writeSessionMeta(m.layout, meta); err != nil {
		return err
	}
	if !keep {
		seqs, err := listManifestSequences(m.layout, sessionID)
		if err != nil {
			return err
		}
		for _, seq := range seqs {
			if err := os.Remove(m.layout.manifestPath(sessionID, seq)); err != nil && !os.IsNotExist(err) {
				return kerrors.IoError(m.layout.manifestPath(sessionID, seq), err)
			}
		}
	}
	m.log.Info("session completed", zap.String("session_id", sessionID), zap.Bool("kept", keep))
	return nil
}

// DeleteSession removes every manifest and the metadata file for
// sessionID. It does not reclaim CAS/delta objects; GarbageCollect
// handles that.
func (m *Manager) DeleteSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := readSessionMeta(m.layout, sessionID); err != nil {
		return err
	}
	if err := os.RemoveAll(m.layout.sessionDir(sessionID)); err != nil {
		return kerrors.IoError(m.layout.sessionDir(sessionID), err)
	}
	return nil
}

// newCheckpointID mints a ULID, a lexically-sortable-by-creation-time
// id for checkpoints.
func (m *Manager) newCheckpointID() string {
	now := m.Clock.Now()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		// crypto/rand is not expected to fail; degrade to a zero
		// entropy ULID rather than panic so callers always get a
		// well-formed id.
		return ulid.MustNew(ulid.Timestamp(now), nil).String()
	}
	return id.String()
}
