// Package kerrors defines the semantic error vocabulary shared by the
// checkpoint engine, the download integrity core and the install
// planner. Errors are represented as gRPC status values, the same
// convention the digest and objectstore packages use throughout this
// module, even though no gRPC server is ever started: status.Status
// gives every error a comparable code plus a human message without
// inventing a second error taxonomy.
package kerrors

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SessionAlreadyActive is returned by StartSession when the managed
// root already has an Active session.
func SessionAlreadyActive(root string) error {
	return status.Errorf(codes.AlreadyExists, "a session is already active for %q", root)
}

// NoActiveSession is returned by any operation that requires an
// Active session when none exists.
func NoActiveSession(root string) error {
	return status.Errorf(codes.FailedPrecondition, "no active session for %q", root)
}

// CheckpointNotFound is returned when a checkpoint id cannot be
// resolved within its session.
func CheckpointNotFound(checkpointID string) error {
	return status.Errorf(codes.NotFound, "checkpoint %q not found", checkpointID)
}

// SessionNotFound is returned when a session id is unknown.
func SessionNotFound(sessionID string) error {
	return status.Errorf(codes.NotFound, "session %q not found", sessionID)
}

// MissingCASObject is returned when a FileRecord references a CAS
// object that does not exist on disk.
func MissingCASObject(hash string) error {
	return status.Errorf(codes.NotFound, "Missing CAS object %s", hash)
}

// MissingDeltaObject is returned when a delta reference does not
// resolve to an extant delta object.
func MissingDeltaObject(hash string) error {
	return status.Errorf(codes.NotFound, "missing delta object %s", hash)
}

// HashMismatch is returned when reconstructed bytes do not hash to
// the value recorded in a FileRecord.
func HashMismatch(path, expected, actual string) error {
	return status.Errorf(codes.DataLoss, "hash mismatch for %q: expected %s, got %s", path, expected, actual)
}

// RestoreVerifyFailed aggregates the paths that failed post-restore
// verification.
func RestoreVerifyFailed(paths []string) error {
	return status.Errorf(codes.DataLoss, "restore verification failed for %d path(s): %v", len(paths), paths)
}

// CorruptManifest is returned when a sealed manifest fails its CRC32
// footer check or cannot be decoded.
func CorruptManifest(checkpointID string, cause error) error {
	return status.Errorf(codes.DataLoss, "manifest for checkpoint %q is corrupt: %v", checkpointID, cause)
}

// MissingProvider is returned by content ID computation when the
// metadata bag lacks a "provider" key, or is empty.
func MissingProvider() error {
	return status.Error(codes.InvalidArgument, "MissingProvider")
}

// InvalidArgument wraps a formatted invalid-argument error, used for
// null URLs and other unencodable content-ID inputs.
func InvalidArgument(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// Cancelled is returned by long-running operations whose cancellation
// token fired before completion.
func Cancelled(op string) error {
	return status.Errorf(codes.Cancelled, "%s was cancelled", op)
}

// IoError wraps an underlying filesystem error with the path that
// triggered it.
func IoError(path string, cause error) error {
	return status.Errorf(codes.Unavailable, "I/O error at %q: %v", path, cause)
}

// WildcardPatternNotFound is forwarded as-is from external instruction
// execution; the engine never produces it itself, but needs a stable
// representation for round-tripping it through validate/restore paths.
func WildcardPatternNotFound(pattern string) error {
	return status.Errorf(codes.NotFound, "WildcardPatternNotFound: %s", pattern)
}

// Is reports whether err carries the given gRPC code, by comparing
// status.Code(err) with code. The constructors in this package build
// their errors directly via status.Errorf/status.Error; session
// validation additionally wraps reconstruction errors with
// fmt.Errorf's %w.
func Is(err error, code codes.Code) bool {
	return status.Code(err) == code
}

// Wrapf attaches additional context to an error while preserving its
// code.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	prefix := fmt.Sprintf(format, args...)
	return status.Errorf(status.Code(err), "%s: %s", prefix, status.Convert(err).Message())
}
