// Package session implements the Session Manager: the component that
// owns a ManagedRoot's .kmsync/ directory, seals checkpoints, and
// restores them. It is a struct wrapping its storage dependencies,
// built once at wiring time and exposing one method per engine
// operation, logging via go.uber.org/zap.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kmsync/kmsync/pkg/checkpoint"
	"github.com/kmsync/kmsync/pkg/kerrors"
)

const (
	metadataDirName  = ".kmsync"
	lockFileName     = "lock"
	checkpointsDir   = "checkpoints"
	objectsDirName   = "objects"
	deltasDirName    = "deltas"
	sessionsDirName  = "sessions"
	sessionMetaFile  = "session.meta"
	manifestSuffix   = ".manifest"
)

// layout resolves every path of the on-disk .kmsync/ layout, rooted
// at one ManagedRoot.
type layout struct {
	managedRoot string
}

func newLayout(managedRoot string) layout { return layout{managedRoot: managedRoot} }

func (l layout) metaDir() string       { return filepath.Join(l.managedRoot, metadataDirName) }
func (l layout) lockPath() string      { return filepath.Join(l.metaDir(), lockFileName) }
func (l layout) objectsDir() string    { return filepath.Join(l.metaDir(), checkpointsDir, objectsDirName) }
func (l layout) deltasDir() string     { return filepath.Join(l.metaDir(), checkpointsDir, deltasDirName) }
func (l layout) sessionsRoot() string  { return filepath.Join(l.metaDir(), checkpointsDir, sessionsDirName) }
func (l layout) sessionDir(id string) string {
	return filepath.Join(l.sessionsRoot(), id)
}
func (l layout) sessionMetaPath(id string) string {
	return filepath.Join(l.sessionDir(id), sessionMetaFile)
}
func (l layout) manifestPath(sessionID string, sequence int) string {
	return filepath.Join(l.sessionDir(sessionID), strconv.Itoa(sequence)+manifestSuffix)
}

// sessionMeta is the JSON-encoded payload of session.meta. Unlike
// checkpoint manifests, session metadata is mutated in place
// (StartedUTC never changes, but State and CompletedUTC do), so it
// carries no CRC footer of its own; a partially written session.meta
// from a crash is simply the next StartSession/validate call's
// problem, surfaced as a read error rather than silent corruption.
type sessionMeta struct {
	ID           string               `json:"id"`
	ManagedRoot  string               `json:"managed_root"`
	StartedUTC   time.Time            `json:"started_utc"`
	CompletedUTC *time.Time           `json:"completed_utc,omitempty"`
	State        checkpoint.SessionState `json:"state"`
}

func newSessionID() string {
	return uuid.NewString()
}

func writeSessionMeta(l layout, m sessionMeta) error {
	if err := os.MkdirAll(l.sessionDir(m.ID), 0o755); err != nil {
		return kerrors.IoError(l.sessionDir(m.ID), err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return kerrors.Wrapf(kerrors.InvalidArgument("%v", err), "encoding session metadata")
	}
	tmp := l.sessionMetaPath(m.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return kerrors.IoError(tmp, err)
	}
	if err := os.Rename(tmp, l.sessionMetaPath(m.ID)); err != nil {
		return kerrors.IoError(l.sessionMetaPath(m.ID), err)
	}
	return nil
}

func readSessionMeta(l layout, sessionID string) (sessionMeta, error) {
	data, err := os.ReadFile(l.sessionMetaPath(sessionID))
	if os.IsNotExist(err) {
		return sessionMeta{}, kerrors.SessionNotFound(sessionID)
	}
	if err != nil {
		return sessionMeta{}, kerrors.IoError(l.sessionMetaPath(sessionID), err)
	}
	var m sessionMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return sessionMeta{}, kerrors.Wrapf(kerrors.CorruptManifest(sessionID, err), "decoding session metadata")
	}
	return m, nil
}

func (m sessionMeta) toSession() *checkpoint.Session {
	return &checkpoint.Session{
		ID:           m.ID,
		ManagedRoot:  m.ManagedRoot,
		StartedUTC:   m.StartedUTC,
		CompletedUTC: m.CompletedUTC,
		State:        m.State,
	}
}

// listSessionIDs returns every session directory present under
// sessions/, in no particular order.
func listSessionIDs(l layout) ([]string, error) {
	entries, err := os.ReadDir(l.sessionsRoot())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, kerrors.IoError(l.sessionsRoot(), err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// listManifestSequences returns every sealed sequence number present
// for sessionID, ascending.
func listManifestSequences(l layout, sessionID string) ([]int, error) {
	entries, err := os.ReadDir(l.sessionDir(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, kerrors.IoError(l.sessionDir(sessionID), err)
	}
	var seqs []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, manifestSuffix) {
			continue
		}
		n, convErr := strconv.Atoi(strings.TrimSuffix(name, manifestSuffix))
		if convErr != nil {
			continue
		}
		seqs = append(seqs, n)
	}
	sort.Ints(seqs)
	return seqs, nil
}

func readManifest(l layout, sessionID string, sequence int) (*checkpoint.Checkpoint, error) {
	data, err := os.ReadFile(l.manifestPath(sessionID, sequence))
	if err != nil {
		return nil, kerrors.IoError(l.manifestPath(sessionID, sequence), err)
	}
	c, decodeErr := checkpoint.DecodeManifest(data)
	if decodeErr != nil {
		return nil, decodeErr
	}
	return c, nil
}

func writeManifest(l layout, c *checkpoint.Checkpoint) error {
	data := checkpoint.EncodeManifest(c)
	final := l.manifestPath(c.SessionID, c.Sequence)
	tmp := final + ".tmp"
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return kerrors.IoError(filepath.Dir(final), err)
	}
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
	if err := os.Rename(tmp, final); err != nil {
		return kerrors.IoError(final, err)
	}
	return nil
}

// tipSequence returns the highest sealed sequence number for
// sessionID, or -1 if none has been sealed yet.
func tipSequence(l layout, sessionID string) (int, error) {
	seqs, err := listManifestSequences(l, sessionID)
	if err != nil {
		return -1, err
	}
	if len(seqs) == 0 {
		return -1, nil
	}
	return seqs[len(seqs)-1], nil
}
