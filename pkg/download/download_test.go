package download_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/kmsync/kmsync/pkg/digest"
	"github.com/kmsync/kmsync/pkg/download"
	"github.com/kmsync/kmsync/pkg/kmetrics"
)

func TestComputeContentIDRequiresProvider(t *testing.T) {
	_, err := download.ComputeContentID(map[string]download.Value{}, "https://example.com/a")
	require.Error(t, err)

	_, err = download.ComputeContentID(map[string]download.Value{"other": download.Str("x")}, "https://example.com/a")
	require.Error(t, err)
}

func TestComputeContentIDRejectsNullMetadataValue(t *testing.T) {
	meta := map[string]download.Value{
		"provider": download.Str("nexus"),
		"mod_id":   download.Null(),
	}
	_, err := download.ComputeContentID(meta, "https://example.com/a")
	require.Error(t, err)
}

func TestComputeContentIDInsertionOrderDoesNotAffectOutput(t *testing.T) {
	meta1 := map[string]download.Value{"provider": download.Str("nexus"), "mod_id": download.Int(42)}
	meta2 := map[string]download.Value{"mod_id": download.Int(42), "provider": download.Str("nexus")}

	id1, err := download.ComputeContentID(meta1, "https://example.com/a")
	require.NoError(t, err)
	id2, err := download.ComputeContentID(meta2, "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestComputeContentIDTypePreserving(t *testing.T) {
	metaStr := map[string]download.Value{"provider": download.Str("nexus"), "mod_id": download.Str("123")}
	metaInt := map[string]download.Value{"provider": download.Str("nexus"), "mod_id": download.Int(123)}

	idStr, err := download.ComputeContentID(metaStr, "https://example.com/a")
	require.NoError(t, err)
	idInt, err := download.ComputeContentID(metaInt, "https://example.com/a")
	require.NoError(t, err)
	require.NotEqual(t, idStr, idInt)
}

func TestComputeContentIDCaseSensitive(t *testing.T) {
	id1, err := download.ComputeContentID(map[string]download.Value{"provider": download.Str("Nexus")}, "https://example.com/a")
	require.NoError(t, err)
	id2, err := download.ComputeContentID(map[string]download.Value{"provider": download.Str("nexus")}, "https://example.com/a")
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestComputeContentIDIdempotent(t *testing.T) {
	meta := map[string]download.Value{"provider": download.Str("nexus"), "mod_id": download.Int(7)}
	id1, err := download.ComputeContentID(meta, "https://example.com/a?x=1")
	require.NoError(t, err)
	id2, err := download.ComputeContentID(meta, "https://example.com/a?x=1")
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestComputeContentIDNormalizesQueryStrings(t *testing.T) {
	meta := map[string]download.Value{"provider": download.Str("nexus")}
	id1, err := download.ComputeContentID(meta, "https://EXAMPLE.com/a?x=1")
	require.NoError(t, err)
	id2, err := download.ComputeContentID(meta, "https://example.com/a?y=2#frag")
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestKeyLockTableSerializesSameKey(t *testing.T) {
	table := download.NewKeyLockTable()
	h1 := table.Acquire("k")
	done := make(chan struct{})
	go func() {
		h2 := table.Acquire("k")
		h2.Release()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second acquire of the same key should not complete before release")
	default:
	}
	h1.Release()
	<-done
}

func TestBlockListIsBlockedAfterBlock(t *testing.T) {
	bl := download.NewBlockList()
	blocked, _ := bl.IsBlocked("id1")
	require.False(t, blocked)
	bl.Block("id1", "DMCA takedown")
	blocked, reason := bl.IsBlocked("id1")
	require.True(t, blocked)
	require.Equal(t, "DMCA takedown", reason)
}

func TestPartialPathDistinctPerContentID(t *testing.T) {
	p1 := download.PartialPath("abc", "/cache")
	p2 := download.PartialPath("def", "/cache")
	require.NotEqual(t, p1, p2)
	require.Equal(t, filepath.Join("/cache", download.PartialDirName), filepath.Dir(p1))
}

func TestVerifyFileDetectsSingleByteModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	content := []byte("reference-content-for-verification-testing")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	pieceLen := digest.PieceSize(int64(len(content)), 0, 0)
	pieceHashes, err := digest.PieceHashes(bytes.NewReader(content), pieceLen)
	require.NoError(t, err)
	contentHash, err := digest.ContentHash(bytes.NewReader(content))
	require.NoError(t, err)

	record := download.Record{
		SizeBytes:   int64(len(content)),
		ContentHash: contentHash,
		PieceLength: pieceLen,
		PieceHashes: pieceHashes,
	}

	ok, err := download.VerifyFile(path, record, download.FullVerify, nil)
	require.NoError(t, err)
	require.True(t, ok)

	mutated := append([]byte{}, content...)
	mutated[0] ^= 0xff
	require.NoError(t, os.WriteFile(path, mutated, 0o644))

	ok, err = download.VerifyFile(path, record, download.FullVerify, nil)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = download.VerifyFile(path, record, download.FastVerify, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyFileRecordsMetrics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	content := []byte("metrics-wiring-reference-content")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	contentHash, err := digest.ContentHash(bytes.NewReader(content))
	require.NoError(t, err)
	record := download.Record{SizeBytes: int64(len(content)), ContentHash: contentHash}

	reg := kmetrics.NewUnregisteredRegistry()
	ok, err := download.VerifyFile(path, record, download.FullVerify, reg)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, float64(len(content)), testutil.ToFloat64(reg.DownloadBytesFetched))

	mutated := append([]byte{}, content...)
	mutated[0] ^= 0xff
	require.NoError(t, os.WriteFile(path, mutated, 0o644))

	ok, err = download.VerifyFile(path, record, download.FullVerify, reg)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, float64(1), testutil.ToFloat64(reg.DownloadPieceVerifyFail))
}
