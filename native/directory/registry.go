package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cafepass/core/events"
)

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value string) error
	KVGetList(key []byte) ([]string, error)
}

// Cafe captures one directory entry. Directory writes are last-write-wins;
// the record carries no invariants beyond that.
type Cafe struct {
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Tags      []string  `json:"tags,omitempty"`
	Closed    bool      `json:"closed"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var (
	// ErrInvalidSlug is returned when the café slug is empty.
	ErrInvalidSlug = errors.New("directory: slug required")
	// ErrInvalidName is returned when the café name is empty.
	ErrInvalidName = errors.New("directory: name required")
	// ErrCafeNotFound is returned when no record matches the slug.
	ErrCafeNotFound = errors.New("directory: cafe not found")
)

// Registry persists café records for the browsing and admin surfaces.
type Registry struct {
	st      registryState
	emitter events.Emitter
	now     func() time.Time
}

// NewRegistry constructs a registry backed by the provided state manager.
func NewRegistry(st registryState) *Registry {
	return &Registry{
		st:      st,
		emitter: events.NoopEmitter{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetEmitter configures the event emitter used to broadcast directory updates.
// Passing nil resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetClock overrides the wall clock. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func normalizeSlug(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return strings.ToLower(trimmed)
}

func cafeKey(slug string) []byte {
	return []byte(fmt.Sprintf("directory/cafe/%s", slug))
}

func indexKey() []byte {
	return []byte("directory/index")
}

// Upsert creates or replaces the record for cafe.Slug. CreatedAt is preserved
// across updates; everything else is last-write-wins.
func (r *Registry) Upsert(ctx context.Context, cafe Cafe) (*Cafe, error) {
	if r == nil || r.st == nil {
		return nil, errors.New("directory: registry not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slug := normalizeSlug(cafe.Slug)
	if slug == "" {
		return nil, ErrInvalidSlug
	}
	if strings.TrimSpace(cafe.Name) == "" {
		return nil, ErrInvalidName
	}
	now := r.now()
	record := Cafe{
		Slug:      slug,
		Name:      strings.TrimSpace(cafe.Name),
		Address:   strings.TrimSpace(cafe.Address),
		Tags:      append([]string(nil), cafe.Tags...),
		Closed:    cafe.Closed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var existing Cafe
	found, err := r.st.KVGet(cafeKey(slug), &existing)
	if err != nil {
		return nil, err
	}
	if found {
		record.CreatedAt = existing.CreatedAt
	}
	if err := r.st.KVPut(cafeKey(slug), record); err != nil {
		return nil, err
	}
	if !found {
		if err := r.st.KVAppend(indexKey(), slug); err != nil {
			return nil, err
		}
	}
	r.emit(events.DirectoryUpdated{Slug: slug, Closed: record.Closed, UpdatedAt: now})
	return &record, nil
}

// Get fetches the record for the provided slug.
func (r *Registry) Get(ctx context.Context, slug string) (*Cafe, error) {
	if r == nil || r.st == nil {
		return nil, errors.New("directory: registry not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized := normalizeSlug(slug)
	if normalized == "" {
		return nil, ErrInvalidSlug
	}
	var record Cafe
	found, err := r.st.KVGet(cafeKey(normalized), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrCafeNotFound
	}
	return &record, nil
}

// List returns all café records in slug order.
func (r *Registry) List(ctx context.Context) ([]Cafe, error) {
	if r == nil || r.st == nil {
		return nil, errors.New("directory: registry not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slugs, err := r.st.KVGetList(indexKey())
	if err != nil {
		return nil, err
	}
	sort.Strings(slugs)
	out := make([]Cafe, 0, len(slugs))
	for _, slug := range slugs {
		var record Cafe
		found, err := r.st.KVGet(cafeKey(slug), &record)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

// SetClosed flips the closed flag for the supplied slug. The record is
// required to exist; closing is an edit, not an onboarding path.
func (r *Registry) SetClosed(ctx context.Context, slug string, closed bool) (*Cafe, error) {
	record, err := r.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if record.Closed == closed {
		return record, nil
	}
	record.Closed = closed
	record.UpdatedAt = r.now()
	if err := r.st.KVPut(cafeKey(record.Slug), record); err != nil {
		return nil, err
	}
	r.emit(events.DirectoryUpdated{Slug: record.Slug, Closed: closed, UpdatedAt: record.UpdatedAt})
	return record, nil
}

func (r *Registry) emit(event events.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(event)
}
