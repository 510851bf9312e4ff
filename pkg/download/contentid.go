package download

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/kmsync/kmsync/pkg/kerrors"
)

// NormalizeURL lowercases scheme and host, strips the fragment and
// every query parameter, and collapses trailing slashes.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", kerrors.InvalidArgument("invalid url %q: %v", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawQuery = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

// ComputeContentID derives the pre-download stable identifier from a
// provider-specific metadata bag and a raw (not yet normalized) URL.
func ComputeContentID(metadata map[string]Value, rawURL string) (string, error) {
	if len(metadata) == 0 {
		return "", kerrors.MissingProvider()
	}
	if _, ok := metadata["provider"]; !ok {
		return "", kerrors.MissingProvider()
	}

	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}

	full := make(map[string]Value, len(metadata)+1)
	for k, v := range metadata {
		full[k] = v
	}
	full["_url"] = Str(normalized)

	canonical, err := Encode(full)
	if err != nil {
		return "", kerrors.InvalidArgument("cannot encode content-id metadata: %v", err)
	}

	sum := sha1.Sum(canonical)
	return hex.EncodeToString(sum[:]), nil
}
