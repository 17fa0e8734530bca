package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cafepass/storage"
)

func newTestBoltDB(t *testing.T) *storage.BoltDB {
	t.Helper()
	db, err := storage.NewBoltDB(filepath.Join(t.TempDir(), "documents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBoltDBRoundTrip(t *testing.T) {
	db := newTestBoltDB(t)

	_, found, err := db.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, db.Put([]byte("key"), []byte("value")))
	got, found, err := db.Get([]byte("key"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("value"), got)

	require.NoError(t, db.Delete([]byte("key")))
	_, found, err = db.Get([]byte("key"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestBoltDBCompareAndSwap(t *testing.T) {
	db := newTestBoltDB(t)

	key := []byte("doc")

	applied, err := db.CompareAndSwap(key, nil, []byte("v1"))
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = db.CompareAndSwap(key, nil, []byte("other"))
	require.NoError(t, err)
	require.False(t, applied)

	applied, err = db.CompareAndSwap(key, []byte("stale"), []byte("v2"))
	require.NoError(t, err)
	require.False(t, applied)

	applied, err = db.CompareAndSwap(key, []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	require.True(t, applied)

	got, found, err := db.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v2"), got)
}
