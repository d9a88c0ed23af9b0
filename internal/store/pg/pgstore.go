package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Malilyqueen/max-crm-sub003/internal/consent"
	"github.com/Malilyqueen/max-crm-sub003/internal/ids"
)

// Store backs the consent ledger and the execution log with Postgres. The
// in-memory implementations cover tests and dev; this one survives restarts,
// which matters because losing a pending consent mid-approval is a
// correctness bug.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

var _ consent.Ledger = (*Store)(nil)

// Option configures the store.
type Option func(*Store)

// WithTTL overrides the default consent TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// Open connects to Postgres at dsn.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db, opts...), nil
}

// NewStore wraps an existing handle (tests inject sqlmock through here).
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, ttl: consent.DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Request(ctx context.Context, tenant, actionType, description string, details map[string]any) (consent.Request, error) {
	if tenant == "" || actionType == "" {
		return consent.Request{}, consent.ErrInvalidInput
	}

	now := s.now().UTC()
	req := consent.Request{
		ID:          ids.NewConsentID(),
		Tenant:      tenant,
		ActionType:  actionType,
		Description: description,
		Details:     details,
		Status:      consent.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return consent.Request{}, err
	}

	if _, err := s.db.ExecContext(ctx, `
		insert into consent_requests(id, tenant, action_type, description, details, status, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, req.ID, req.Tenant, req.ActionType, req.Description, detailsJSON, req.Status, req.CreatedAt, req.ExpiresAt); err != nil {
		return consent.Request{}, err
	}
	return req, nil
}

func (s *Store) Get(ctx context.Context, tenant, id string) (consent.Request, error) {
	req, err := s.load(ctx, s.db, tenant, id)
	if err != nil {
		return consent.Request{}, err
	}
	if s.due(req) {
		// Expiry is a side effect of the read; the CAS keeps a concurrent
		// approve/execute from racing the flip.
		if _, err := s.db.ExecContext(ctx, `
			update consent_requests set status=$1 where id=$2 and status in ('pending','approved')
		`, consent.StatusExpired, id); err != nil {
			return consent.Request{}, err
		}
		req.Status = consent.StatusExpired
	}
	return req, nil
}

func (s *Store) Approve(ctx context.Context, tenant, id string) (consent.Request, error) {
	return s.settle(ctx, tenant, id, consent.StatusApproved)
}

func (s *Store) Reject(ctx context.Context, tenant, id string) (consent.Request, error) {
	return s.settle(ctx, tenant, id, consent.StatusRejected)
}

// settle moves a pending request to approved or rejected under a row lock.
func (s *Store) settle(ctx context.Context, tenant, id string, target consent.Status) (consent.Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return consent.Request{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := s.loadForUpdate(ctx, tx, tenant, id)
	if err != nil {
		return consent.Request{}, err
	}
	if s.due(req) {
		if _, err := tx.ExecContext(ctx, `update consent_requests set status=$1 where id=$2`, consent.StatusExpired, id); err != nil {
			return consent.Request{}, err
		}
		if err := tx.Commit(); err != nil {
			return consent.Request{}, err
		}
		req.Status = consent.StatusExpired
		return req, consent.ErrExpired
	}
	if req.Status != consent.StatusPending {
		return req, consent.ErrTerminal
	}

	if _, err := tx.ExecContext(ctx, `update consent_requests set status=$1 where id=$2`, target, id); err != nil {
		return consent.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return consent.Request{}, err
	}
	req.Status = target
	return req, nil
}

func (s *Store) Execute(ctx context.Context, tenant, id string, run consent.Runner) (json.RawMessage, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	// The row lock serializes concurrent executes across processes; whoever
	// holds it either sees a non-terminal row and runs the mutation, or sees
	// the stored result and replays it.
	req, err := s.loadForUpdate(ctx, tx, tenant, id)
	if err != nil {
		return nil, false, err
	}

	switch req.Status {
	case consent.StatusExecuted:
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return req.Result, true, nil
	case consent.StatusRejected, consent.StatusExpired:
		return nil, false, consent.ErrTerminal
	}

	if s.due(req) {
		if _, err := tx.ExecContext(ctx, `update consent_requests set status=$1 where id=$2`, consent.StatusExpired, id); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return nil, false, consent.ErrExpired
	}

	payload, runErr := run(ctx)
	if runErr != nil {
		// Roll back: the request stays actionable for a retry inside the TTL.
		return nil, false, runErr
	}

	if _, err := tx.ExecContext(ctx, `
		update consent_requests set status=$1, result=$2 where id=$3
	`, consent.StatusExecuted, []byte(payload), id); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return payload, false, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) load(ctx context.Context, q querier, tenant, id string) (consent.Request, error) {
	return scanConsent(q.QueryRowContext(ctx, `
		select id, tenant, action_type, description, details, status, created_at, expires_at, result
		from consent_requests where id=$1 and tenant=$2
	`, id, tenant))
}

func (s *Store) loadForUpdate(ctx context.Context, tx *sql.Tx, tenant, id string) (consent.Request, error) {
	return scanConsent(tx.QueryRowContext(ctx, `
		select id, tenant, action_type, description, details, status, created_at, expires_at, result
		from consent_requests where id=$1 and tenant=$2 for update
	`, id, tenant))
}

func scanConsent(row *sql.Row) (consent.Request, error) {
	var (
		req     consent.Request
		details []byte
		result  []byte
	)
	err := row.Scan(&req.ID, &req.Tenant, &req.ActionType, &req.Description, &details, &req.Status, &req.CreatedAt, &req.ExpiresAt, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return consent.Request{}, consent.ErrNotFound
	}
	if err != nil {
		return consent.Request{}, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &req.Details); err != nil {
			return consent.Request{}, err
		}
	}
	if len(result) > 0 {
		req.Result = json.RawMessage(result)
	}
	return req, nil
}

func (s *Store) due(req consent.Request) bool {
	return !req.Status.Terminal() && s.now().After(req.ExpiresAt)
}
