package deltacodec_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/kmsync/kmsync/pkg/deltacodec"
	"github.com/stretchr/testify/require"
)

func TestRoundTripSmall(t *testing.T) {
	base := []byte("the quick brown fox jumps over the lazy dog")
	target := []byte("the quick brown fox leaps over the lazy dog")

	delta := deltacodec.EncodeWithBlockSize(base, target, 8)
	got, err := deltacodec.Decode(base, delta)
	require.NoError(t, err)
	require.Equal(t, target, got)
}

func TestRoundTripIdentical(t *testing.T) {
	base := bytes.Repeat([]byte("abc"), 1000)
	delta := deltacodec.Encode(base, base)
	got, err := deltacodec.Decode(base, delta)
	require.NoError(t, err)
	require.Equal(t, base, got)
}

func TestRoundTripEmptyTarget(t *testing.T) {
	base := []byte("some base content")
	delta := deltacodec.Encode(base, nil)
	got, err := deltacodec.Decode(base, delta)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestLargeFileLocalizedMutationProducesSmallDelta(t *testing.T) {
	const size = 50 * 1024 * 1024
	rng := rand.New(rand.NewSource(1))
	base := make([]byte, size)
	rng.Read(base)

	target := append([]byte{}, base...)
	mutationStart := 1024 * 1024
	for i := mutationStart; i < mutationStart+30; i++ {
		target[i] ^= 0xff
	}

	delta := deltacodec.Encode(base, target)
	got, err := deltacodec.Decode(base, delta)
	require.NoError(t, err)
	require.Equal(t, target, got)

	require.Less(t, len(delta), len(target)/10, "delta must be at most 10%% of target size for a localized mutation")
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := deltacodec.Decode([]byte("base"), []byte("not a delta"))
	require.Error(t, err)
}
