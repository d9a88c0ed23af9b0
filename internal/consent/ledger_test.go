package consent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var ctx = context.Background()

func newTestLedger(now *time.Time) *InMemory {
	return NewInMemory(WithClock(func() time.Time { return *now }))
}

func TestRequestCreatesPendingWithTTL(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	l := newTestLedger(&now)

	req, err := l.Request(ctx, "acme", "create_custom_field", "add field Score", map[string]any{"field": "Score"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("unexpected status: %s", req.Status)
	}
	if req.ID == "" {
		t.Fatal("expected a consent id")
	}
	if got := req.ExpiresAt.Sub(req.CreatedAt); got != DefaultTTL {
		t.Fatalf("unexpected TTL: %s", got)
	}

	if _, err := l.Request(ctx, "", "x", "", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConsentIDsAreUnique(t *testing.T) {
	now := time.Now()
	l := newTestLedger(&now)
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		req, err := l.Request(ctx, "acme", "bulk_delete_tags", "", nil)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if _, dup := seen[req.ID]; dup {
			t.Fatalf("duplicate consent id: %s", req.ID)
		}
		seen[req.ID] = struct{}{}
	}
}

func TestApproveTransitions(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	l := newTestLedger(&now)

	req, _ := l.Request(ctx, "acme", "create_custom_field", "", nil)

	got, err := l.Approve(ctx, "acme", req.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != StatusApproved {
		t.Fatalf("unexpected status: %s", got.Status)
	}

	// Approving twice is ALREADY_TERMINAL territory: approved is not pending.
	if _, err := l.Approve(ctx, "acme", req.ID); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}

	if _, err := l.Approve(ctx, "acme", "cns_unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectTransitions(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	l := newTestLedger(&now)

	req, _ := l.Request(ctx, "acme", "bulk_delete_tags", "", nil)
	got, err := l.Reject(ctx, "acme", req.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != StatusRejected {
		t.Fatalf("unexpected status: %s", got.Status)
	}

	if _, _, err := l.Execute(ctx, "acme", req.ID, func(context.Context) (json.RawMessage, error) {
		t.Fatal("runner must not run for a rejected request")
		return nil, nil
	}); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
}

func TestExecuteIdempotent(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	l := newTestLedger(&now)

	req, _ := l.Request(ctx, "acme", "create_custom_field", "", nil)
	if _, err := l.Approve(ctx, "acme", req.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	var calls int32
	run := func(context.Context) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		return json.RawMessage(`{"field_id":"f_123"}`), nil
	}

	first, replayed, err := l.Execute(ctx, "acme", req.ID, run)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if replayed {
		t.Fatal("first execution must not be a replay")
	}

	second, replayed, err := l.Execute(ctx, "acme", req.ID, run)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if !replayed {
		t.Fatal("second execution must be a replay")
	}
	if string(first) != string(second) {
		t.Fatalf("replay payload differs: %s vs %s", first, second)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("runner invoked %d times, want 1", got)
	}
}

func TestExecutePendingWithoutApproval(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	l := newTestLedger(&now)

	req, _ := l.Request(ctx, "acme", "create_custom_field", "", nil)
	_, replayed, err := l.Execute(ctx, "acme", req.ID, func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	if err != nil || replayed {
		t.Fatalf("pending request should be executable: err=%v replayed=%v", err, replayed)
	}

	got, _ := l.Get(ctx, "acme", req.ID)
	if got.Status != StatusExecuted {
		t.Fatalf("unexpected status: %s", got.Status)
	}
}

func TestExecuteConcurrentRunsRunnerOnce(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	l := newTestLedger(&now)

	req, _ := l.Request(ctx, "acme", "bulk_delete_tags", "", nil)

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	run := func(context.Context) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return json.RawMessage(`{"deleted":42}`), nil
	}
	replayRun := func(context.Context) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		return json.RawMessage(`{"deleted":0}`), nil
	}

	var wg sync.WaitGroup
	results := make([]json.RawMessage, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		payload, _, err := l.Execute(ctx, "acme", req.ID, run)
		if err != nil {
			t.Errorf("execute 1: %v", err)
		}
		results[0] = payload
	}()
	go func() {
		defer wg.Done()
		<-started // ensure the first runner is in flight
		payload, replayed, err := l.Execute(ctx, "acme", req.ID, replayRun)
		if err != nil {
			t.Errorf("execute 2: %v", err)
		}
		if !replayed {
			t.Error("second concurrent execute must observe the replay")
		}
		results[1] = payload
	}()

	go func() {
		<-started
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("runner invoked %d times, want 1", got)
	}
	if string(results[0]) != string(results[1]) {
		t.Fatalf("concurrent executes returned different payloads: %s vs %s", results[0], results[1])
	}
}

func TestExpiryFlipsStatus(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	l := newTestLedger(&now)

	req, _ := l.Request(ctx, "acme", "create_custom_field", "", nil)

	now = now.Add(20 * time.Minute) // past the 15 minute TTL

	if _, _, err := l.Execute(ctx, "acme", req.ID, func(context.Context) (json.RawMessage, error) {
		t.Fatal("runner must not run for an expired request")
		return nil, nil
	}); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	got, err := l.Get(ctx, "acme", req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("failed attempt must flip status to expired, got %s", got.Status)
	}

	// Approving after expiry also fails and leaves the terminal state alone.
	if _, err := l.Approve(ctx, "acme", req.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestExecuteFailureLeavesRequestActionable(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	l := newTestLedger(&now)

	req, _ := l.Request(ctx, "acme", "create_custom_field", "", nil)
	bang := errors.New("crm unavailable")

	if _, _, err := l.Execute(ctx, "acme", req.ID, func(context.Context) (json.RawMessage, error) {
		return nil, bang
	}); !errors.Is(err, bang) {
		t.Fatalf("expected runner error, got %v", err)
	}

	got, _ := l.Get(ctx, "acme", req.ID)
	if got.Status != StatusPending {
		t.Fatalf("failed execution must not consume the consent, got %s", got.Status)
	}

	payload, _, err := l.Execute(ctx, "acme", req.ID, func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if string(payload) != `{"ok":true}` {
		t.Fatalf("unexpected payload: %s", payload)
	}
}

func TestTenantScoping(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	l := newTestLedger(&now)

	req, _ := l.Request(ctx, "acme", "create_custom_field", "", nil)

	if _, err := l.Get(ctx, "globex", req.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign tenant must see ErrNotFound, got %v", err)
	}
	if _, err := l.Approve(ctx, "globex", req.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign tenant must not approve, got %v", err)
	}
}

func TestStatusTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusExecuted, true},
		{StatusPending, StatusExpired, true},
		{StatusPending, StatusRejected, true},
		{StatusApproved, StatusExecuted, true},
		{StatusApproved, StatusExpired, true},
		{StatusApproved, StatusRejected, false},
		{StatusExecuted, StatusPending, false},
		{StatusExpired, StatusApproved, false},
		{StatusRejected, StatusExecuted, false},
		{StatusExecuted, StatusExpired, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}
