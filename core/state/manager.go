// Package state layers JSON document semantics over a storage.Database. The
// native modules never touch raw byte values; they go through a Manager, which
// keeps encoding, conditional writes, and list-valued index keys in one place.
package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"cafepass/storage"
)

// ErrNilDatabase is returned when a Manager is constructed without a backend.
var ErrNilDatabase = errors.New("state: nil database")

// ErrConflict is returned when a conditional write keeps losing the race past
// the retry budget.
var ErrConflict = errors.New("state: write conflict")

// appendRetryLimit bounds KVAppend retries before the write surfaces as a
// transient conflict.
const appendRetryLimit = 16

// Manager provides typed KV access over a document store.
type Manager struct {
	db storage.Database
}

// NewManager wraps the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) database() (storage.Database, error) {
	if m == nil || m.db == nil {
		return nil, ErrNilDatabase
	}
	return m.db, nil
}

// KVGet decodes the stored document into out and reports whether it exists.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	raw, found, err := m.KVGetRaw(key)
	if err != nil || !found {
		return found, err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, fmt.Errorf("state: decode %q: %w", key, err)
		}
	}
	return true, nil
}

// KVGetRaw returns the stored document bytes. The raw bytes double as the
// expected value for a subsequent KVCompareAndSwap.
func (m *Manager) KVGetRaw(key []byte) ([]byte, bool, error) {
	db, err := m.database()
	if err != nil {
		return nil, false, err
	}
	return db.Get(key)
}

// KVPut encodes value and writes it unconditionally.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	db, err := m.database()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return db.Put(key, encoded)
}

// KVPutIfAbsent writes value only when the key does not exist yet. It reports
// whether the insert won.
func (m *Manager) KVPutIfAbsent(key []byte, value interface{}) (bool, error) {
	return m.KVCompareAndSwap(key, nil, value)
}

// KVCompareAndSwap writes value only if the stored bytes still equal expected
// (nil expected = key absent). The raw bytes from KVGetRaw are the expected
// value; re-encoding the decoded document would not be byte-stable.
func (m *Manager) KVCompareAndSwap(key []byte, expected []byte, value interface{}) (bool, error) {
	db, err := m.database()
	if err != nil {
		return false, err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("state: encode %q: %w", key, err)
	}
	return db.CompareAndSwap(key, expected, encoded)
}

// KVDelete removes the document.
func (m *Manager) KVDelete(key []byte) error {
	db, err := m.database()
	if err != nil {
		return err
	}
	return db.Delete(key)
}

// KVAppend appends value to the list stored under key, creating the list when
// missing. Lists back secondary indexes; duplicates are tolerated and
// deduplicated on read. Every write is guarded by the bytes it was read
// against, so a concurrent append is never overwritten; a lost race re-reads
// and retries up to appendRetryLimit before returning ErrConflict.
func (m *Manager) KVAppend(key []byte, value string) error {
	for attempt := 0; attempt < appendRetryLimit; attempt++ {
		raw, found, err := m.KVGetRaw(key)
		if err != nil {
			return err
		}
		var list []string
		if found {
			if err := json.Unmarshal(raw, &list); err != nil {
				return fmt.Errorf("state: decode list %q: %w", key, err)
			}
		}
		list = append(list, value)
		var expected []byte
		if found {
			expected = raw
		}
		applied, err := m.KVCompareAndSwap(key, expected, list)
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
	}
	return ErrConflict
}

// KVGetList decodes the list stored under key, deduplicated and in insertion
// order. A missing key yields an empty list.
func (m *Manager) KVGetList(key []byte) ([]string, error) {
	raw, found, err := m.KVGetRaw(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("state: decode list %q: %w", key, err)
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}
