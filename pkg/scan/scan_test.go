package scan_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kmsync/kmsync/pkg/scan"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanSkipsMetadataSubtree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "chitin.key", "chitin-bytes")
	writeFile(t, root, ".kmsync/checkpoints/sessions/x/0.manifest", "should not be scanned")

	records, warnings, err := scan.Scan(root, scan.Options{CaseSensitivePaths: true})
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Len(t, records, 1)
	require.Contains(t, records, "chitin.key")
}

func TestScanProducesDeterministicHashes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Override/appearance.2da", "some-bytes")

	r1, _, err := scan.Scan(root, scan.Options{CaseSensitivePaths: true})
	require.NoError(t, err)
	r2, _, err := scan.Scan(root, scan.Options{CaseSensitivePaths: true})
	require.NoError(t, err)

	require.Equal(t, r1["Override/appearance.2da"].Hash, r2["Override/appearance.2da"].Hash)
}

func TestDiffAddedModifiedDeleted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "chitin.key", "v1")
	writeFile(t, root, "Override/appearance.2da", "v1")
	baseline, _, err := scan.Scan(root, scan.Options{CaseSensitivePaths: true})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "chitin.key")))
	writeFile(t, root, "Override/appearance.2da", "v2")
	writeFile(t, root, "Override/texture_1.tga", "new")
	next, _, err := scan.Scan(root, scan.Options{CaseSensitivePaths: true})
	require.NoError(t, err)

	result := scan.Diff(baseline, next)
	require.Len(t, result.Added, 1)
	require.Equal(t, "Override/texture_1.tga", result.Added[0].Path)
	require.Len(t, result.Modified, 1)
	require.Equal(t, "Override/appearance.2da", result.Modified[0].Path)
	require.Len(t, result.Deleted, 1)
	require.Equal(t, "chitin.key", result.Deleted[0].Path)
}

func TestDiffUnchangedFilesAreIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "same")
	first, _, err := scan.Scan(root, scan.Options{CaseSensitivePaths: true})
	require.NoError(t, err)
	second, _, err := scan.Scan(root, scan.Options{CaseSensitivePaths: true})
	require.NoError(t, err)

	result := scan.Diff(first, second)
	require.Empty(t, result.Added)
	require.Empty(t, result.Modified)
	require.Empty(t, result.Deleted)
	require.Len(t, result.Unchanged, 1)
}

func TestKeyCaseFolding(t *testing.T) {
	require.Equal(t, scan.Key("Override/Foo.2DA", false), scan.Key("override/foo.2da", false))
	require.NotEqual(t, scan.Key("Override/Foo.2DA", true), scan.Key("override/foo.2da", true))
}
