// Package checkpoint defines the immutable data model — FileRecord,
// DeltaRef, Checkpoint and Session — and the manifest encoding that
// persists a Checkpoint to sessions/<session_id>/<sequence>.manifest.
// Hashes and ids are stored here as opaque strings; they are computed
// and minted by the scan and session packages.
package checkpoint

import "time"

// AnchorInterval is the default spacing between anchor checkpoints,
// overridable via config.Config.AnchorInterval.
const AnchorInterval = 10

// DeltaRef describes how to reconstruct one FileRecord's bytes from
// another checkpoint's FileRecord of the same path via a stored delta
// object.
type DeltaRef struct {
	BaseCASHash  string `json:"base_cas_hash"`
	DeltaCASHash string `json:"delta_cas_hash"`
	SizeBytes    int64  `json:"size"`
}

// FileRecord is the per-file state tracked by a checkpoint.
type FileRecord struct {
	Path        string `json:"path"`
	SizeBytes   int64  `json:"size"`
	Hash        string `json:"hash"`
	CASHash     string `json:"cas_hash"`
	PieceLength int64  `json:"piece_length"`
	PieceHashes string `json:"piece_hashes"`

	// ModTime is the source file's mtime at scan time, truncated to
	// whatever resolution the filesystem reports. Scan's trust-mtime
	// fast path requires both size and ModTime to match prev before
	// skipping a rehash.
	ModTime time.Time `json:"mod_time"`

	ForwardDelta *DeltaRef `json:"forward_delta,omitempty"`
	ReverseDelta *DeltaRef `json:"reverse_delta,omitempty"`
}

// DiffEntry records one path's participation in a checkpoint's
// added/modified/deleted sets. ForwardDeltaSizeBytes and
// TargetSizeBytes are populated only for Modified entries, for
// reporting.
type DiffEntry struct {
	Path                  string `json:"path"`
	ForwardDeltaSizeBytes int64  `json:"forward_delta_size,omitempty"`
	TargetSizeBytes       int64  `json:"target_size,omitempty"`
}

// Checkpoint is an immutable, append-only record of a ManagedRoot's
// full state at one point in a Session.
type Checkpoint struct {
	ID             string
	SessionID      string
	Sequence       int
	ComponentName  string
	ComponentID    string
	CreatedUTC     time.Time
	Files          map[string]*FileRecord
	Added          []DiffEntry
	Modified       []DiffEntry
	Deleted        []DiffEntry
	IsAnchor       bool
	TotalSizeBytes int64
	DeltaSizeBytes int64
}

// IsAnchorSequence reports whether sequence is an anchor point given
// anchorInterval: true iff sequence == 0 or sequence % anchorInterval
// == 0.
func IsAnchorSequence(sequence, anchorInterval int) bool {
	if anchorInterval <= 0 {
		anchorInterval = AnchorInterval
	}
	return sequence == 0 || sequence%anchorInterval == 0
}

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	SessionActive            SessionState = "Active"
	SessionCompletedKept     SessionState = "CompletedKept"
	SessionCompletedDiscarded SessionState = "CompletedDiscarded"
	SessionCorrupt           SessionState = "Corrupt"
)

// Session is an ordered sequence of Checkpoints sharing one
// ManagedRoot.
type Session struct {
	ID          string
	ManagedRoot string
	StartedUTC  time.Time
	CompletedUTC *time.Time
	State       SessionState
}

// SessionSummary and CheckpointSummary are the read-only projections
// returned by ListSessions/ListCheckpoints, kept deliberately free of
// UI-facing change-notification plumbing that belongs at the process
// boundary, not in the core engine.
type SessionSummary struct {
	ID             string
	ManagedRoot    string
	StartedUTC     time.Time
	CompletedUTC   *time.Time
	State          SessionState
	CheckpointCount int
}

type CheckpointSummary struct {
	ID            string
	SessionID     string
	Sequence      int
	ComponentName string
	ComponentID   string
	CreatedUTC    time.Time
	IsAnchor      bool
	AddedCount    int
	ModifiedCount int
	DeletedCount  int
	TotalSizeBytes int64
	DeltaSizeBytes int64
}

// Summary projects a Checkpoint to its CheckpointSummary.
func (c *Checkpoint) Summary() CheckpointSummary {
	return CheckpointSummary{
		ID:             c.ID,
		SessionID:      c.SessionID,
		Sequence:       c.Sequence,
		ComponentName:  c.ComponentName,
		ComponentID:    c.ComponentID,
		CreatedUTC:     c.CreatedUTC,
		IsAnchor:       c.IsAnchor,
		AddedCount:     len(c.Added),
		ModifiedCount:  len(c.Modified),
		DeletedCount:   len(c.Deleted),
		TotalSizeBytes: c.TotalSizeBytes,
		DeltaSizeBytes: c.DeltaSizeBytes,
	}
}
