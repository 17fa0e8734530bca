package events_test

import (
	"testing"
	"time"

	"cafepass/core/events"
)

type countingEmitter struct {
	count int
}

func (c *countingEmitter) Emit(events.Event) { c.count++ }

func TestMultiFansOut(t *testing.T) {
	first := &countingEmitter{}
	second := &countingEmitter{}
	emitter := events.Multi(first, nil, second)

	emitter.Emit(events.CodeIssued{Identity: "alice@example.com", Code: "10000001", IssuedAt: time.Now()})
	emitter.Emit(events.LoyaltyEnrolled{Identity: "alice@example.com", Merchant: "beanhouse"})

	if first.count != 2 || second.count != 2 {
		t.Fatalf("expected both emitters to see 2 events, got %d and %d", first.count, second.count)
	}
}

func TestMultiEmptyIsNoop(t *testing.T) {
	emitter := events.Multi(nil)
	// Must not panic.
	emitter.Emit(events.CodeRetired{Identity: "alice@example.com", Code: "10000001"})
	if _, ok := emitter.(events.NoopEmitter); !ok {
		t.Fatalf("expected NoopEmitter for empty set, got %T", emitter)
	}
}
