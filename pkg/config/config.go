// Package config loads checkpoint and download engine tuning options
// from a .jsonnet document, evaluated with github.com/google/go-jsonnet,
// overlaying only the fields the document actually sets onto a set of
// built-in defaults.
package config

import (
	"encoding/json"
	"os"
	"runtime"

	"github.com/google/go-jsonnet"

	"github.com/kmsync/kmsync/pkg/checkpoint"
	"github.com/kmsync/kmsync/pkg/digest"
	"github.com/kmsync/kmsync/pkg/kerrors"
)

// defaultCaseSensitivePaths mirrors the native filesystem convention
// of the build target: case-sensitive on Linux, case-insensitive on
// Windows and macOS's default HFS+/APFS configuration.
func defaultCaseSensitivePaths() bool {
	return runtime.GOOS == "linux"
}

// Config holds every engine tuning option. Zero values for any field
// absent from a loaded document are replaced by Default()'s values
// during Load.
type Config struct {
	AnchorInterval     int   `json:"anchor_interval"`
	PieceSizeMinBytes  int64 `json:"piece_size_min"`
	PieceSizeMaxBytes  int64 `json:"piece_size_max"`
	TrustMtime         bool  `json:"trust_mtime"`
	CaseSensitivePaths bool  `json:"case_sensitive_paths"`
	GCSafetyWindow     int   `json:"gc_safety_window"`
}

// Default returns the built-in default configuration. Case
// sensitivity defaults to the host's native filesystem convention.
func Default() Config {
	return Config{
		AnchorInterval:     checkpoint.AnchorInterval,
		PieceSizeMinBytes:  digest.MinPieceSizeBytes,
		PieceSizeMaxBytes:  digest.MaxPieceSizeBytes,
		TrustMtime:         false,
		CaseSensitivePaths: defaultCaseSensitivePaths(),
		GCSafetyWindow:     0,
	}
}

// Load evaluates the .jsonnet document at path and overlays it on top
// of Default(), so a document may specify only the options it wants
// to override.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	vm := jsonnet.MakeVM()
	jsonStr, err := vm.EvaluateFile(path)
	if err != nil {
		return Config{}, kerrors.InvalidArgument("failed to evaluate config %q: %v", path, err)
	}

	var overlay Config
	if err := json.Unmarshal([]byte(jsonStr), &overlay); err != nil {
		return Config{}, kerrors.InvalidArgument("failed to decode config %q: %v", path, err)
	}

	applyOverlay(&cfg, overlay, jsonStr)
	return cfg, nil
}

// applyOverlay copies onto cfg every overlay field that is present in
// the raw decoded JSON, including fields explicitly set to their zero
// value, since Go's zero value and "not present" are otherwise
// indistinguishable. Piece sizes may only narrow the digest package's
// bounds: a piece_size_min below digest.MinPieceSizeBytes or a
// piece_size_max above digest.MaxPieceSizeBytes is ignored.
func applyOverlay(cfg *Config, overlay Config, rawJSON string) {
	var raw map[string]interface{}
	_ = json.Unmarshal([]byte(rawJSON), &raw)

	if _, ok := raw["anchor_interval"]; ok {
		cfg.AnchorInterval = overlay.AnchorInterval
	}
	if _, ok := raw["piece_size_min"]; ok && overlay.PieceSizeMinBytes >= digest.MinPieceSizeBytes {
		cfg.PieceSizeMinBytes = overlay.PieceSizeMinBytes
	}
	if _, ok := raw["piece_size_max"]; ok && overlay.PieceSizeMaxBytes <= digest.MaxPieceSizeBytes {
		cfg.PieceSizeMaxBytes = overlay.PieceSizeMaxBytes
	}
	if _, ok := raw["trust_mtime"]; ok {
		cfg.TrustMtime = overlay.TrustMtime
	}
	if _, ok := raw["case_sensitive_paths"]; ok {
		cfg.CaseSensitivePaths = overlay.CaseSensitivePaths
	}
	if _, ok := raw["gc_safety_window"]; ok {
		cfg.GCSafetyWindow = overlay.GCSafetyWindow
	}
}
