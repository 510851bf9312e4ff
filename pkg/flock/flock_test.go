package flock_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kmsync/kmsync/pkg/flock"
)

func TestAcquireRejectsSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	l1, err := flock.Acquire(path)
	require.NoError(t, err)

	_, err = flock.Acquire(path)
	require.Error(t, err)

	require.NoError(t, l1.Unlock())

	l2, err := flock.Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Unlock())
}
