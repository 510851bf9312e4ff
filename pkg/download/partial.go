package download

import "path/filepath"

// PartialDirName is the cache_dir-relative subtree every in-progress
// download is staged under.
const PartialDirName = ".partial"

// PartialPath returns the unique absolute path a download of
// contentID should stage its bytes at under cacheDir/.partial/.
// Distinct content IDs always yield distinct paths, since the file
// name is the content ID itself — the one value guaranteed to be
// stable and unique per downloadable object.
func PartialPath(contentID, cacheDir string) string {
	return filepath.Join(cacheDir, PartialDirName, contentID+".part")
}
