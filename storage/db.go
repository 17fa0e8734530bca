package storage

import (
	"bytes"
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
)

// ErrClosed is returned when an operation is attempted on a closed database.
var ErrClosed = errors.New("storage: database closed")

// Database is a generic interface for a key-value document store. Values are
// opaque byte slices. CompareAndSwap is the only conditional primitive; it is
// what serializes conflicting writers across point-of-sale sessions, so every
// backend must implement it atomically.
type Database interface {
	// Get returns the stored value and whether the key exists.
	Get(key []byte) ([]byte, bool, error)
	// Put inserts or overwrites the value unconditionally.
	Put(key []byte, value []byte) error
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(key []byte) error
	// CompareAndSwap writes value only if the currently stored bytes equal
	// expected. A nil expected means the key must be absent (insert-if-absent).
	// It reports whether the swap was applied.
	CompareAndSwap(key, expected, value []byte) (bool, error)
	// Close releases the backing resources.
	Close() error
}

// --- In-Memory DB (for testing) ---

// MemDB is an in-process Database used by tests and ephemeral deployments.
type MemDB struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemDB creates an empty in-memory database.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (db *MemDB) Get(key []byte) ([]byte, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, false, ErrClosed
	}
	value, ok := db.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Put inserts or updates a key-value pair.
func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

// Delete removes a key-value pair.
func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	delete(db.data, string(key))
	return nil
}

// CompareAndSwap applies the swap under the write lock.
func (db *MemDB) CompareAndSwap(key, expected, value []byte) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return false, ErrClosed
	}
	current, ok := db.data[string(key)]
	if expected == nil {
		if ok {
			return false, nil
		}
	} else if !ok || !bytes.Equal(current, expected) {
		return false, nil
	}
	db.data[string(key)] = append([]byte(nil), value...)
	return true, nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

// --- Persistent DB (LevelDB) ---

// LevelDB is a persistent key-value store using goleveldb. LevelDB offers no
// native conditional write, so CompareAndSwap serializes the read/compare/write
// pair through casMu. The database directory must not be shared between
// processes; goleveldb enforces this with a file lock.
type LevelDB struct {
	db    *leveldb.DB
	casMu sync.Mutex
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, bool, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, ldberrors.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Delete removes a key-value pair.
func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// CompareAndSwap performs the read/compare/write sequence under casMu.
func (ldb *LevelDB) CompareAndSwap(key, expected, value []byte) (bool, error) {
	ldb.casMu.Lock()
	defer ldb.casMu.Unlock()
	current, found, err := ldb.Get(key)
	if err != nil {
		return false, err
	}
	if expected == nil {
		if found {
			return false, nil
		}
	} else if !found || !bytes.Equal(current, expected) {
		return false, nil
	}
	if err := ldb.db.Put(key, value, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the database connection.
func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}
