package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/Malilyqueen/max-crm-sub003/internal/execlog"
	"github.com/Malilyqueen/max-crm-sub003/internal/ids"
)

var _ execlog.Log = (*Store)(nil)

func (s *Store) Start(ctx context.Context, tenant, task, typ string, params map[string]any) (string, error) {
	if tenant == "" || task == "" {
		return "", execlog.ErrInvalidInput
	}

	id := ids.New()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into execution_log(id, tenant, task, type, params, started_at)
		values ($1,$2,$3,$4,$5,$6)
	`, id, tenant, task, typ, paramsJSON, s.now().UTC()); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Finish(ctx context.Context, id string, res execlog.Result) (execlog.Entry, error) {
	if !res.Status.Valid() {
		return execlog.Entry{}, execlog.ErrInvalidStatus
	}

	samples := execlog.CapSamples(res.SampleIDs)
	samplesJSON, err := json.Marshal(samples)
	if err != nil {
		return execlog.Entry{}, err
	}
	finishedAt := s.now().UTC()

	// The finished_at guard makes double-finalize fail instead of silently
	// overwriting the first outcome.
	out, err := s.db.ExecContext(ctx, `
		update execution_log
		set status=$1, updated=$2, errors=$3, sample_ids=$4, finished_at=$5
		where id=$6 and finished_at is null
	`, res.Status, res.Updated, res.Errors, samplesJSON, finishedAt, id)
	if err != nil {
		return execlog.Entry{}, err
	}
	affected, err := out.RowsAffected()
	if err != nil {
		return execlog.Entry{}, err
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `select exists(select 1 from execution_log where id=$1)`, id).Scan(&exists); err != nil {
			return execlog.Entry{}, err
		}
		if exists {
			return execlog.Entry{}, execlog.ErrAlreadyFinished
		}
		return execlog.Entry{}, execlog.ErrNotFound
	}

	return execlog.Entry{
		ID:         id,
		Status:     res.Status,
		Updated:    res.Updated,
		Errors:     res.Errors,
		SampleIDs:  samples,
		FinishedAt: &finishedAt,
	}, nil
}

func (s *Store) List(ctx context.Context, opts execlog.ListOptions) ([]execlog.Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = execlog.DefaultListLimit
	}
	since := opts.Since
	if since.IsZero() {
		since = time.Time{}
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, tenant, task, type, coalesce(status,''), updated, errors, params, sample_ids, started_at, finished_at
		from execution_log
		where tenant=$1 and started_at >= $2
		order by started_at desc
		limit $3
	`, opts.Tenant, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []execlog.Entry
	for rows.Next() {
		var (
			e          execlog.Entry
			status     string
			params     []byte
			samples    []byte
			finishedAt sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.Tenant, &e.Task, &e.Type, &status, &e.Updated, &e.Errors, &params, &samples, &e.StartedAt, &finishedAt); err != nil {
			return nil, err
		}
		e.Status = execlog.Status(status)
		if len(params) > 0 {
			if err := json.Unmarshal(params, &e.Params); err != nil {
				return nil, err
			}
		}
		if len(samples) > 0 {
			if err := json.Unmarshal(samples, &e.SampleIDs); err != nil {
				return nil, err
			}
		}
		if finishedAt.Valid {
			at := finishedAt.Time
			e.FinishedAt = &at
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
