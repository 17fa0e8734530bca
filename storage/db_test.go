package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cafepass/storage"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

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

	// Deleting a missing key is not an error.
	require.NoError(t, db.Delete([]byte("key")))
}

func TestMemDBCompareAndSwap(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	key := []byte("doc")

	// nil expected means insert-if-absent; only one insert wins.
	applied, err := db.CompareAndSwap(key, nil, []byte("v1"))
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = db.CompareAndSwap(key, nil, []byte("v1-again"))
	require.NoError(t, err)
	require.False(t, applied)

	// Stale expected loses.
	applied, err = db.CompareAndSwap(key, []byte("stale"), []byte("v2"))
	require.NoError(t, err)
	require.False(t, applied)

	// Matching expected wins.
	applied, err = db.CompareAndSwap(key, []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	require.True(t, applied)

	got, found, err := db.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v2"), got)
}

func TestMemDBClosed(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, db.Close())

	_, _, err := db.Get([]byte("key"))
	require.ErrorIs(t, err, storage.ErrClosed)
	require.ErrorIs(t, db.Put([]byte("key"), []byte("value")), storage.ErrClosed)
	require.ErrorIs(t, db.Delete([]byte("key")), storage.ErrClosed)
	_, err = db.CompareAndSwap([]byte("key"), nil, []byte("value"))
	require.ErrorIs(t, err, storage.ErrClosed)
}

func TestLevelDBRoundTrip(t *testing.T) {
	dir := t.TempDir()

	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	require.NoError(t, db.Put([]byte("key"), []byte("value")))
	got, found, err := db.Get([]byte("key"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("value"), got)

	require.NoError(t, db.Close())

	// Values survive a reopen.
	db2, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, found, err = db2.Get([]byte("key"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("value"), got)
}

func TestLevelDBCompareAndSwap(t *testing.T) {
	db, err := storage.NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

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
