package codes

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"cafepass/core/events"
)

// exhaustionCheckEvery controls how many collisions are tolerated before the
// registry consults the active-record counter for a provably-full space.
const exhaustionCheckEvery = 8

// casRetryLimit bounds conditional-write retries on a single document before
// the operation is surfaced as a transient conflict.
const casRetryLimit = 16

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVGetRaw(key []byte) ([]byte, bool, error)
	KVPut(key []byte, value interface{}) error
	KVPutIfAbsent(key []byte, value interface{}) (bool, error)
	KVCompareAndSwap(key []byte, expected []byte, value interface{}) (bool, error)
	KVDelete(key []byte) error
}

// Registry owns the identity↔code mapping. One active code per identity, one
// active identity per code value; both enforced through the store's
// conditional writes rather than in-process locks, because point-of-sale
// callers may be spread across processes.
type Registry struct {
	st       registryState
	emitter  events.Emitter
	now      func() time.Time
	randCode func() (string, error)
}

// NewRegistry constructs a registry backed by the provided state manager.
func NewRegistry(st registryState) *Registry {
	return &Registry{
		st:       st,
		emitter:  events.NoopEmitter{},
		now:      func() time.Time { return time.Now().UTC() },
		randCode: randomCode,
	}
}

// SetEmitter configures the event emitter used to broadcast registry updates.
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

// SetCodeSource overrides the candidate generator. Intended for tests.
func (r *Registry) SetCodeSource(fn func() (string, error)) {
	if fn != nil {
		r.randCode = fn
	}
}

func codeKey(code string) []byte {
	return []byte(fmt.Sprintf("codes/code/%s", code))
}

func identityKey(identity string) []byte {
	return []byte(fmt.Sprintf("codes/identity/%s", identity))
}

func activeCounterKey() []byte {
	return []byte("codes/meta/active")
}

func normalizeIdentity(value string) string {
	return strings.TrimSpace(value)
}

// ValidateCode reports whether value is a well-formed 8-digit code.
func ValidateCode(value string) error {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) != CodeLength {
		return ErrInvalidCode
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < CodeMin || n > CodeMax {
		return ErrInvalidCode
	}
	return nil
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(CodeSpaceSize))
	if err != nil {
		return "", fmt.Errorf("codes: read random: %w", err)
	}
	return strconv.FormatInt(CodeMin+n.Int64(), 10), nil
}

// IssueCode returns the active code for identity, allocating one on first
// call. Repeated calls for the same identity return the same code. Collisions
// on the candidate value retry with a fresh candidate; the loop is bounded
// only by context cancellation and the defensive exhaustion check.
func (r *Registry) IssueCode(ctx context.Context, identity string) (string, error) {
	if r == nil || r.st == nil {
		return "", errors.New("codes: registry not initialised")
	}
	normalized := normalizeIdentity(identity)
	if normalized == "" {
		return "", ErrInvalidIdentity
	}

	var existing string
	found, err := r.st.KVGet(identityKey(normalized), &existing)
	if err != nil {
		return "", err
	}
	if found {
		return existing, nil
	}

	collisions := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate, err := r.randCode()
		if err != nil {
			return "", err
		}
		if err := ValidateCode(candidate); err != nil {
			return "", fmt.Errorf("codes: bad candidate %q: %w", candidate, err)
		}
		record := Record{
			Identity:  normalized,
			Code:      candidate,
			Active:    true,
			CreatedAt: r.now(),
		}
		won, err := r.claimCode(candidate, record)
		if err != nil {
			return "", err
		}
		if !won {
			collisions++
			if collisions%exhaustionCheckEvery == 0 {
				full, err := r.spaceFull()
				if err != nil {
					return "", err
				}
				if full {
					return "", ErrRegistryExhausted
				}
			}
			continue
		}

		bound, err := r.st.KVPutIfAbsent(identityKey(normalized), candidate)
		if err != nil {
			// Unbind the speculative record so the candidate value is not
			// leaked as a dangling active code.
			_ = r.st.KVDelete(codeKey(candidate))
			return "", err
		}
		if !bound {
			// Lost the identity race: another session issued first. Drop the
			// speculative record (it was never bound, so there is no history
			// to preserve) and return the winner's code.
			_ = r.st.KVDelete(codeKey(candidate))
			var winner string
			ok, err := r.st.KVGet(identityKey(normalized), &winner)
			if err != nil {
				return "", err
			}
			if ok {
				return winner, nil
			}
			// Winner retired immediately; start over.
			continue
		}

		if err := r.bumpActive(1); err != nil {
			return "", err
		}
		r.emit(events.CodeIssued{Identity: normalized, Code: candidate, IssuedAt: record.CreatedAt, Collisions: collisions})
		return candidate, nil
	}
}

// claimCode inserts the record under the candidate's code key. A code value
// occupied by a retired record may be reclaimed; uniqueness only constrains
// active records.
func (r *Registry) claimCode(candidate string, record Record) (bool, error) {
	won, err := r.st.KVPutIfAbsent(codeKey(candidate), record)
	if err != nil || won {
		return won, err
	}
	raw, found, err := r.st.KVGetRaw(codeKey(candidate))
	if err != nil {
		return false, err
	}
	if !found {
		// Occupant vanished between the insert attempt and the read; let the
		// caller retry with the same or a fresh candidate.
		return false, nil
	}
	var occupant Record
	if err := json.Unmarshal(raw, &occupant); err != nil {
		return false, fmt.Errorf("codes: decode record %s: %w", candidate, err)
	}
	if occupant.Active {
		return false, nil
	}
	return r.st.KVCompareAndSwap(codeKey(candidate), raw, record)
}

// LookupCode returns the active code for identity.
func (r *Registry) LookupCode(ctx context.Context, identity string) (string, error) {
	if r == nil || r.st == nil {
		return "", errors.New("codes: registry not initialised")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	normalized := normalizeIdentity(identity)
	if normalized == "" {
		return "", ErrInvalidIdentity
	}
	var code string
	found, err := r.st.KVGet(identityKey(normalized), &code)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrCodeNotFound
	}
	return code, nil
}

// ResolveIdentity maps a scanned code back to its identity. Only active
// records resolve; a retired code behaves exactly like an unknown one.
func (r *Registry) ResolveIdentity(ctx context.Context, code string) (string, error) {
	if r == nil || r.st == nil {
		return "", errors.New("codes: registry not initialised")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	trimmed := strings.TrimSpace(code)
	if err := ValidateCode(trimmed); err != nil {
		return "", err
	}
	var record Record
	found, err := r.st.KVGet(codeKey(trimmed), &record)
	if err != nil {
		return "", err
	}
	if !found || !record.Active {
		return "", ErrCodeNotFound
	}
	return record.Identity, nil
}

// RetireCode soft-retires the active code for identity. The record survives
// with Active=false; a subsequent IssueCode allocates a fresh record.
func (r *Registry) RetireCode(ctx context.Context, identity string) error {
	if r == nil || r.st == nil {
		return errors.New("codes: registry not initialised")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized := normalizeIdentity(identity)
	if normalized == "" {
		return ErrInvalidIdentity
	}
	var code string
	found, err := r.st.KVGet(identityKey(normalized), &code)
	if err != nil {
		return err
	}
	if !found {
		return ErrCodeNotFound
	}

	for attempt := 0; attempt < casRetryLimit; attempt++ {
		raw, found, err := r.st.KVGetRaw(codeKey(code))
		if err != nil {
			return err
		}
		if !found {
			return ErrCodeNotFound
		}
		var record Record
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("codes: decode record %s: %w", code, err)
		}
		if record.Identity != normalized {
			// The binding read above went stale: a concurrent retire completed
			// and the value was reclaimed for another identity. That record is
			// not ours to touch; just clear the leftover pointer, if any.
			return r.clearIdentityPointer(normalized, code)
		}
		if !record.Active {
			// Already retired by a concurrent caller. The pointer may since
			// have been rebound by a fresh issue, so only a pointer still
			// naming this code is dropped.
			return r.clearIdentityPointer(normalized, code)
		}
		record.Active = false
		applied, err := r.st.KVCompareAndSwap(codeKey(code), raw, record)
		if err != nil {
			return err
		}
		if !applied {
			continue
		}
		if err := r.st.KVDelete(identityKey(normalized)); err != nil {
			return err
		}
		if err := r.bumpActive(-1); err != nil {
			return err
		}
		r.emit(events.CodeRetired{Identity: normalized, Code: code, RetiredAt: r.now()})
		return nil
	}
	return ErrConflict
}

// clearIdentityPointer removes the identity pointer only while it still names
// code. A pointer rebound to a newer code by a concurrent issue is left alone.
func (r *Registry) clearIdentityPointer(identity, code string) error {
	var current string
	found, err := r.st.KVGet(identityKey(identity), &current)
	if err != nil {
		return err
	}
	if !found || current != code {
		return nil
	}
	return r.st.KVDelete(identityKey(identity))
}

// ActiveCount reports the number of currently active records.
func (r *Registry) ActiveCount() (int64, error) {
	var count int64
	if _, err := r.st.KVGet(activeCounterKey(), &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *Registry) spaceFull() (bool, error) {
	count, err := r.ActiveCount()
	if err != nil {
		return false, err
	}
	return count >= CodeSpaceSize, nil
}

func (r *Registry) bumpActive(delta int64) error {
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		raw, found, err := r.st.KVGetRaw(activeCounterKey())
		if err != nil {
			return err
		}
		var count int64
		var expected []byte
		if found {
			if err := json.Unmarshal(raw, &count); err != nil {
				return fmt.Errorf("codes: decode counter: %w", err)
			}
			expected = raw
		}
		next := count + delta
		if next < 0 {
			next = 0
		}
		applied, err := r.st.KVCompareAndSwap(activeCounterKey(), expected, next)
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
	}
	return ErrConflict
}

func (r *Registry) emit(event events.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(event)
}
