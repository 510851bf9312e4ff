package objectstore_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kmsync/kmsync/pkg/kerrors"
	"github.com/kmsync/kmsync/pkg/objectstore"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestPutGetRoundTrip(t *testing.T) {
	root := t.TempDir()
	s, err := objectstore.New(root)
	require.NoError(t, err)

	hash, err := s.Put([]byte("hello world"))
	require.NoError(t, err)
	require.True(t, s.Exists(hash))

	data, err := s.GetBytes(hash)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	// Fanout layout: objects/<aa>/<bb>/<hash>.
	require.FileExists(t, filepath.Join(root, hash[0:2], hash[2:4], hash))
}

func TestGetMissingObject(t *testing.T) {
	root := t.TempDir()
	s, err := objectstore.New(root)
	require.NoError(t, err)

	_, err = s.Get("0000000000000000000000000000000000000000000000000000000000000000")
	require.True(t, kerrors.Is(err, codes.NotFound))
}

func TestConcurrentPutsOfIdenticalBytesConverge(t *testing.T) {
	root := t.TempDir()
	s, err := objectstore.New(root)
	require.NoError(t, err)

	const n = 20
	hashes := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, putErr := s.Put([]byte("shared content"))
			require.NoError(t, putErr)
			hashes[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range hashes {
		require.Equal(t, hashes[0], h)
	}
	entries, err := os.ReadDir(filepath.Join(root, hashes[0][0:2], hashes[0][2:4]))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestDeleteIsIdempotent(t *testing.T) {
	root := t.TempDir()
	s, err := objectstore.New(root)
	require.NoError(t, err)

	hash, err := s.Put([]byte("to be deleted"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(hash))
	require.False(t, s.Exists(hash))
	// Deleting again must not error.
	require.NoError(t, s.Delete(hash))
}

func TestList(t *testing.T) {
	root := t.TempDir()
	s, err := objectstore.New(root)
	require.NoError(t, err)

	h1, _ := s.Put([]byte("one"))
	h2, _ := s.Put([]byte("two"))

	hashes, err := s.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{h1, h2}, hashes)
}
