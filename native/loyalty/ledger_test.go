package loyalty_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cafepass/core/events"
	"cafepass/core/state"
	loyalty "cafepass/native/loyalty"
	"cafepass/storage"
)

type capturingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capturingEmitter) snapshot() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

func newTestLedger(t *testing.T) *loyalty.Ledger {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { _ = db.Close() })
	return loyalty.NewLedger(state.NewManager(db))
}

func TestEnrollIdempotent(t *testing.T) {
	ledger := newTestLedger(t)
	emitter := &capturingEmitter{}
	ledger.SetEmitter(emitter)
	ctx := context.Background()

	if err := ledger.Enroll(ctx, "alice@example.com", "beanhouse"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := ledger.Enroll(ctx, "alice@example.com", "beanhouse"); err != nil {
		t.Fatalf("re-enroll: %v", err)
	}

	enrolled := 0
	for _, event := range emitter.snapshot() {
		if _, ok := event.(events.LoyaltyEnrolled); ok {
			enrolled++
		}
	}
	if enrolled != 1 {
		t.Fatalf("expected one enrollment event, got %d", enrolled)
	}

	balance, err := ledger.GetBalance(ctx, "alice@example.com", "beanhouse")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected zero balance, got %d", balance)
	}
}

func TestEnrollDoesNotResetBalance(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if err := ledger.Enroll(ctx, "alice@example.com", "beanhouse"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := ledger.ApplyDelta(ctx, "alice@example.com", "beanhouse", 5); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Enroll(ctx, "alice@example.com", "beanhouse"); err != nil {
		t.Fatalf("re-enroll: %v", err)
	}
	balance, err := ledger.GetBalance(ctx, "alice@example.com", "beanhouse")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 5 {
		t.Fatalf("expected balance 5 after re-enroll, got %d", balance)
	}
}

func TestAdjustRequiresEnrollment(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.ApplyDelta(ctx, "alice@example.com", "beanhouse", 10); !errors.Is(err, loyalty.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	// A balance query on the same missing account is informational and
	// reports zero instead of failing.
	balance, err := ledger.GetBalance(ctx, "alice@example.com", "beanhouse")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected zero balance, got %d", balance)
	}
}

func TestApplyDeltaClampsAtZero(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if err := ledger.Enroll(ctx, "alice@example.com", "beanhouse"); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	steps := []struct {
		delta int64
		want  int64
	}{
		{delta: 10, want: 10},
		{delta: -15, want: 0},
		{delta: 3, want: 3},
		{delta: -3, want: 0},
		{delta: 0, want: 0},
	}
	for _, step := range steps {
		got, err := ledger.ApplyDelta(ctx, "alice@example.com", "beanhouse", step.delta)
		if err != nil {
			t.Fatalf("delta %d: %v", step.delta, err)
		}
		if got != step.want {
			t.Fatalf("delta %d: got balance %d, want %d", step.delta, got, step.want)
		}
	}
}

func TestAccountsAreScopedPerMerchant(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if err := ledger.Enroll(ctx, "alice@example.com", "beanhouse"); err != nil {
		t.Fatalf("enroll beanhouse: %v", err)
	}
	if err := ledger.Enroll(ctx, "alice@example.com", "roastery"); err != nil {
		t.Fatalf("enroll roastery: %v", err)
	}
	if _, err := ledger.ApplyDelta(ctx, "alice@example.com", "beanhouse", 7); err != nil {
		t.Fatalf("credit: %v", err)
	}

	other, err := ledger.GetBalance(ctx, "alice@example.com", "roastery")
	if err != nil {
		t.Fatalf("balance roastery: %v", err)
	}
	if other != 0 {
		t.Fatalf("expected roastery balance untouched, got %d", other)
	}
}

func TestMerchantNormalization(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if err := ledger.Enroll(ctx, "alice@example.com", "  BeanHouse  "); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	balance, err := ledger.ApplyDelta(ctx, "alice@example.com", "beanhouse", 4)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if balance != 4 {
		t.Fatalf("expected balance 4, got %d", balance)
	}
}

func TestInvalidArguments(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if err := ledger.Enroll(ctx, "", "beanhouse"); !errors.Is(err, loyalty.ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
	if err := ledger.Enroll(ctx, "alice@example.com", "  "); !errors.Is(err, loyalty.ErrInvalidMerchant) {
		t.Fatalf("expected ErrInvalidMerchant, got %v", err)
	}
	if _, err := ledger.ApplyDelta(ctx, " ", "beanhouse", 1); !errors.Is(err, loyalty.ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
	if _, err := ledger.GetBalance(ctx, "alice@example.com", ""); !errors.Is(err, loyalty.ErrInvalidMerchant) {
		t.Fatalf("expected ErrInvalidMerchant, got %v", err)
	}
}

func TestConcurrentAdjustments(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if err := ledger.Enroll(ctx, "alice@example.com", "beanhouse"); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	// Stays under the conditional-write retry budget even if one writer
	// loses every race to the others.
	const writers = 12
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.ApplyDelta(ctx, "alice@example.com", "beanhouse", 1)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}
	balance, err := ledger.GetBalance(ctx, "alice@example.com", "beanhouse")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != writers {
		t.Fatalf("lost update: balance %d, want %d", balance, writers)
	}
}

func TestAdjustedEventCarriesResultingBalance(t *testing.T) {
	ledger := newTestLedger(t)
	emitter := &capturingEmitter{}
	ledger.SetEmitter(emitter)
	ctx := context.Background()

	if err := ledger.Enroll(ctx, "alice@example.com", "beanhouse"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := ledger.ApplyDelta(ctx, "alice@example.com", "beanhouse", -9); err != nil {
		t.Fatalf("debit: %v", err)
	}

	var adjusted *events.LoyaltyAdjusted
	for _, event := range emitter.snapshot() {
		if e, ok := event.(events.LoyaltyAdjusted); ok {
			adjusted = &e
		}
	}
	if adjusted == nil {
		t.Fatalf("expected an adjustment event")
	}
	if adjusted.Delta != -9 || adjusted.Balance != 0 {
		t.Fatalf("unexpected event: %+v", adjusted)
	}
}
