package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cafepass/core/events"
)

// casRetryLimit bounds the read/compute/conditional-write loop on a single
// account before the update is surfaced as a transient conflict. It exists to
// bound latency under pathological contention, not as a correctness device.
const casRetryLimit = 16

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVGetRaw(key []byte) ([]byte, bool, error)
	KVPutIfAbsent(key []byte, value interface{}) (bool, error)
	KVCompareAndSwap(key []byte, expected []byte, value interface{}) (bool, error)
}

// Ledger maintains non-negative point balances per (identity, merchant) pair.
// All mutations go through the store's conditional writes; two concurrent
// deltas on the same account are serialized by the store, never by an
// in-process lock.
type Ledger struct {
	st      ledgerState
	emitter events.Emitter
	now     func() time.Time
}

// NewLedger constructs a ledger backed by the provided state manager.
func NewLedger(st ledgerState) *Ledger {
	return &Ledger{
		st:      st,
		emitter: events.NoopEmitter{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetEmitter configures the event emitter used to broadcast ledger updates.
// Passing nil resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetClock overrides the wall clock. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

func accountKey(identity, merchant string) []byte {
	return []byte(fmt.Sprintf("loyalty/account/%s/%s", identity, merchant))
}

func normalizePair(identity, merchant string) (string, string, error) {
	id := strings.TrimSpace(identity)
	if id == "" {
		return "", "", ErrInvalidIdentity
	}
	m := strings.ToLower(strings.TrimSpace(merchant))
	if m == "" {
		return "", "", ErrInvalidMerchant
	}
	return id, m, nil
}

// Enroll creates the account with a zero balance on first call. Enrolling an
// already-enrolled pair is a no-op; the existing balance is untouched.
func (l *Ledger) Enroll(ctx context.Context, identity, merchant string) error {
	if l == nil || l.st == nil {
		return errors.New("loyalty: ledger not initialised")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	id, m, err := normalizePair(identity, merchant)
	if err != nil {
		return err
	}
	now := l.now()
	account := Account{Identity: id, Merchant: m, Points: 0, LastUpdated: now}
	created, err := l.st.KVPutIfAbsent(accountKey(id, m), account)
	if err != nil {
		return err
	}
	if created {
		l.emit(events.LoyaltyEnrolled{Identity: id, Merchant: m, EnrolledAt: now})
	}
	return nil
}

// ApplyDelta adjusts the balance by delta and returns the resulting balance.
// The new balance is max(0, current+delta); a debit past zero clamps rather
// than failing. The read-modify-write retries on conditional-write conflicts
// up to casRetryLimit, then surfaces ErrConflict.
func (l *Ledger) ApplyDelta(ctx context.Context, identity, merchant string, delta int64) (int64, error) {
	if l == nil || l.st == nil {
		return 0, errors.New("loyalty: ledger not initialised")
	}
	id, m, err := normalizePair(identity, merchant)
	if err != nil {
		return 0, err
	}
	key := accountKey(id, m)
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		raw, found, err := l.st.KVGetRaw(key)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, ErrAccountNotFound
		}
		var account Account
		if err := json.Unmarshal(raw, &account); err != nil {
			return 0, fmt.Errorf("loyalty: decode account %s/%s: %w", id, m, err)
		}
		next := account.Points + delta
		if next < 0 {
			next = 0
		}
		account.Points = next
		account.LastUpdated = l.now()
		applied, err := l.st.KVCompareAndSwap(key, raw, account)
		if err != nil {
			return 0, err
		}
		if applied {
			l.emit(events.LoyaltyAdjusted{
				Identity:   id,
				Merchant:   m,
				Delta:      delta,
				Balance:    next,
				AdjustedAt: account.LastUpdated,
			})
			return next, nil
		}
	}
	return 0, ErrConflict
}

// GetBalance returns the current balance, or zero when the pair never
// enrolled. A balance query is informational and never fails on a missing
// account; that distinction belongs to ApplyDelta.
func (l *Ledger) GetBalance(ctx context.Context, identity, merchant string) (int64, error) {
	if l == nil || l.st == nil {
		return 0, errors.New("loyalty: ledger not initialised")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, m, err := normalizePair(identity, merchant)
	if err != nil {
		return 0, err
	}
	var account Account
	found, err := l.st.KVGet(accountKey(id, m), &account)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return account.Points, nil
}

func (l *Ledger) emit(event events.Event) {
	if l.emitter == nil {
		return
	}
	l.emitter.Emit(event)
}
