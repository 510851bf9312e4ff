package checkpoint_test

import (
	"testing"
	"time"

	"github.com/kmsync/kmsync/pkg/checkpoint"
	"github.com/stretchr/testify/require"
)

func sampleCheckpoint() *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		ID:            "01HZX",
		SessionID:     "session-1",
		Sequence:      3,
		ComponentName: "mod1",
		ComponentID:   "mod-1-id",
		CreatedUTC:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		IsAnchor:      false,
		Added: []checkpoint.DiffEntry{
			{Path: "Override/texture_1.tga"},
		},
		Modified: []checkpoint.DiffEntry{
			{Path: "Override/appearance.2da", ForwardDeltaSizeBytes: 128, TargetSizeBytes: 10240},
		},
		Deleted: []checkpoint.DiffEntry{},
		Files: map[string]*checkpoint.FileRecord{
			"chitin.key": {
				Path: "chitin.key", SizeBytes: 1024, Hash: "aa", CASHash: "aa",
				PieceLength: 65536, PieceHashes: "bb",
				ModTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			},
			"Override/appearance.2da": {
				Path: "Override/appearance.2da", SizeBytes: 10240, Hash: "cc", CASHash: "cc",
				PieceLength: 65536, PieceHashes: "dd",
				ForwardDelta: &checkpoint.DeltaRef{BaseCASHash: "ee", DeltaCASHash: "ff", SizeBytes: 128},
				ReverseDelta: &checkpoint.DeltaRef{BaseCASHash: "ff", DeltaCASHash: "gg", SizeBytes: 130},
			},
		},
		TotalSizeBytes: 11264,
		DeltaSizeBytes: 128,
	}
}

func TestManifestRoundTrip(t *testing.T) {
	c := sampleCheckpoint()
	data := checkpoint.EncodeManifest(c)
	decoded, err := checkpoint.DecodeManifest(data)
	require.NoError(t, err)

	require.Equal(t, c.ID, decoded.ID)
	require.Equal(t, c.SessionID, decoded.SessionID)
	require.Equal(t, c.Sequence, decoded.Sequence)
	require.Equal(t, c.ComponentName, decoded.ComponentName)
	require.True(t, c.CreatedUTC.Equal(decoded.CreatedUTC))
	require.Equal(t, c.IsAnchor, decoded.IsAnchor)
	require.Equal(t, c.Added, decoded.Added)
	require.Equal(t, c.Modified, decoded.Modified)
	require.Len(t, decoded.Files, 2)
	require.Equal(t, c.Files["Override/appearance.2da"].ForwardDelta, decoded.Files["Override/appearance.2da"].ForwardDelta)
	require.True(t, c.Files["chitin.key"].ModTime.Equal(decoded.Files["chitin.key"].ModTime))
}

func TestManifestDetectsCorruption(t *testing.T) {
	c := sampleCheckpoint()
	data := checkpoint.EncodeManifest(c)
	data[10] ^= 0xff

	_, err := checkpoint.DecodeManifest(data)
	require.Error(t, err)
}

func TestIsAnchorSequence(t *testing.T) {
	require.True(t, checkpoint.IsAnchorSequence(0, 10))
	require.True(t, checkpoint.IsAnchorSequence(10, 10))
	require.True(t, checkpoint.IsAnchorSequence(20, 10))
	require.False(t, checkpoint.IsAnchorSequence(5, 10))
	require.False(t, checkpoint.IsAnchorSequence(11, 10))
}
