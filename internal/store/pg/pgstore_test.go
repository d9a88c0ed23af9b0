package pg

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Malilyqueen/max-crm-sub003/internal/consent"
)

var ctx = context.Background()

var frozen = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, WithClock(func() time.Time { return frozen })), mock
}

func consentColumns() []string {
	return []string{"id", "tenant", "action_type", "description", "details", "status", "created_at", "expires_at", "result"}
}

func pendingRow(id string, expiresAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(consentColumns()).
		AddRow(id, "acme", "bulk_delete_tags", "remove tag vip", []byte(`{"tag":"vip"}`), "pending", frozen.Add(-time.Minute), expiresAt, nil)
}

func TestRequestInserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into consent_requests").
		WithArgs(sqlmock.AnyArg(), "acme", "create_custom_field", "add Score", sqlmock.AnyArg(), "pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, err := s.Request(ctx, "acme", "create_custom_field", "add Score", map[string]any{"name": "Score"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != consent.StatusPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}
	if got := req.ExpiresAt.Sub(req.CreatedAt); got != consent.DefaultTTL {
		t.Fatalf("ttl = %s, want %s", got, consent.DefaultTTL)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select id, tenant, action_type").
		WithArgs("cns_missing", "acme").
		WillReturnRows(sqlmock.NewRows(consentColumns()))

	if _, err := s.Get(ctx, "acme", "cns_missing"); !errors.Is(err, consent.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetFlipsExpiry(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select id, tenant, action_type").
		WithArgs("cns_1", "acme").
		WillReturnRows(pendingRow("cns_1", frozen.Add(-time.Minute)))
	mock.ExpectExec("update consent_requests set status").
		WithArgs("expired", "cns_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, err := s.Get(ctx, "acme", "cns_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.Status != consent.StatusExpired {
		t.Fatalf("status = %s, want expired", req.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestApprove(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select id, tenant, action_type").
		WithArgs("cns_1", "acme").
		WillReturnRows(pendingRow("cns_1", frozen.Add(10*time.Minute)))
	mock.ExpectExec("update consent_requests set status").
		WithArgs("approved", "cns_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req, err := s.Approve(ctx, "acme", "cns_1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if req.Status != consent.StatusApproved {
		t.Fatalf("status = %s, want approved", req.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestApproveTerminal(t *testing.T) {
	s, mock := newMockStore(t)

	row := sqlmock.NewRows(consentColumns()).
		AddRow("cns_1", "acme", "bulk_delete_tags", "", []byte(`{}`), "rejected", frozen.Add(-time.Minute), frozen.Add(10*time.Minute), nil)

	mock.ExpectBegin()
	mock.ExpectQuery("select id, tenant, action_type").
		WithArgs("cns_1", "acme").
		WillReturnRows(row)
	mock.ExpectRollback()

	if _, err := s.Approve(ctx, "acme", "cns_1"); !errors.Is(err, consent.ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
}

func TestExecuteRunsAndStores(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select id, tenant, action_type").
		WithArgs("cns_1", "acme").
		WillReturnRows(pendingRow("cns_1", frozen.Add(10*time.Minute)))
	mock.ExpectExec("update consent_requests set status").
		WithArgs("executed", sqlmock.AnyArg(), "cns_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	payload, replayed, err := s.Execute(ctx, "acme", "cns_1", func(context.Context) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"deleted":3}`), nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if replayed || calls != 1 || string(payload) != `{"deleted":3}` {
		t.Fatalf("unexpected outcome: replayed=%v calls=%d payload=%s", replayed, calls, payload)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteReplaysStoredResult(t *testing.T) {
	s, mock := newMockStore(t)

	row := sqlmock.NewRows(consentColumns()).
		AddRow("cns_1", "acme", "bulk_delete_tags", "", []byte(`{}`), "executed", frozen.Add(-time.Minute), frozen.Add(10*time.Minute), []byte(`{"deleted":3}`))

	mock.ExpectBegin()
	mock.ExpectQuery("select id, tenant, action_type").
		WithArgs("cns_1", "acme").
		WillReturnRows(row)
	mock.ExpectCommit()

	payload, replayed, err := s.Execute(ctx, "acme", "cns_1", func(context.Context) (json.RawMessage, error) {
		t.Fatal("runner must not run on replay")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !replayed || string(payload) != `{"deleted":3}` {
		t.Fatalf("unexpected replay: replayed=%v payload=%s", replayed, payload)
	}
}

func TestExecuteRunnerFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select id, tenant, action_type").
		WithArgs("cns_1", "acme").
		WillReturnRows(pendingRow("cns_1", frozen.Add(10*time.Minute)))
	mock.ExpectRollback()

	bang := errors.New("crm unavailable")
	if _, _, err := s.Execute(ctx, "acme", "cns_1", func(context.Context) (json.RawMessage, error) {
		return nil, bang
	}); !errors.Is(err, bang) {
		t.Fatalf("expected runner error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteExpiredFlipsAndFails(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select id, tenant, action_type").
		WithArgs("cns_1", "acme").
		WillReturnRows(pendingRow("cns_1", frozen.Add(-time.Minute)))
	mock.ExpectExec("update consent_requests set status").
		WithArgs("expired", "cns_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, _, err := s.Execute(ctx, "acme", "cns_1", func(context.Context) (json.RawMessage, error) {
		t.Fatal("runner must not run for an expired request")
		return nil, nil
	}); !errors.Is(err, consent.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}
