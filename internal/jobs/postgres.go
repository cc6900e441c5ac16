package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

// jobRow is the jobs table.
type jobRow struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID               string          `bun:"id,pk"`
	Queue            string          `bun:"queue,notnull"`
	Type             string          `bun:"type,notnull"`
	Payload          json.RawMessage `bun:"payload,type:jsonb,notnull"`
	MaxAttempts      int             `bun:"max_attempts,notnull"`
	Backoff          string          `bun:"backoff,notnull"`
	BaseDelayMs      int64           `bun:"base_delay_ms,notnull"`
	MaxDelayMs       int64           `bun:"max_delay_ms,notnull"`
	Priority         int             `bun:"priority,notnull"`
	TimeoutMs        int64           `bun:"timeout_ms,notnull"`
	Cron             string          `bun:"cron,nullzero"`
	RemoveOnComplete bool            `bun:"remove_on_complete,notnull"`
	RemoveOnFail     bool            `bun:"remove_on_fail,notnull"`
	State            string          `bun:"state,notnull"`
	Attempts         int             `bun:"attempts,notnull"`
	WorkerID         string          `bun:"worker_id,nullzero"`
	Progress         int             `bun:"progress,notnull"`
	LastError        string          `bun:"last_error,nullzero"`
	Result           json.RawMessage `bun:"result,type:jsonb,nullzero"`
	RepeatKey        string          `bun:"repeat_key,nullzero"`
	EnqueuedAt       time.Time       `bun:"enqueued_at,notnull"`
	EligibleAt       time.Time       `bun:"eligible_at,notnull"`
	LeasedAt         *time.Time      `bun:"leased_at"`
	LeaseExpiresAt   *time.Time      `bun:"lease_expires_at"`
	FinishedAt       *time.Time      `bun:"finished_at"`
}

func rowFromJob(j *Job) *jobRow {
	return &jobRow{
		ID:               j.ID,
		Queue:            string(j.Queue),
		Type:             j.Type,
		Payload:          j.Payload,
		MaxAttempts:      j.Retry.MaxAttempts,
		Backoff:          string(j.Retry.Backoff),
		BaseDelayMs:      j.Retry.BaseDelay.Milliseconds(),
		MaxDelayMs:       j.Retry.MaxDelay.Milliseconds(),
		Priority:         int(j.Priority),
		TimeoutMs:        j.Timeout.Milliseconds(),
		Cron:             j.Cron,
		RemoveOnComplete: j.Disposition.RemoveOnComplete,
		RemoveOnFail:     j.Disposition.RemoveOnFail,
		State:            string(j.State),
		Attempts:         j.Attempts,
		WorkerID:         j.WorkerID,
		Progress:         j.Progress,
		LastError:        j.LastError,
		Result:           j.Result,
		RepeatKey:        j.RepeatKey,
		EnqueuedAt:       j.EnqueuedAt,
		EligibleAt:       j.EligibleAt,
		LeasedAt:         j.LeasedAt,
		LeaseExpiresAt:   j.LeaseExpiresAt,
		FinishedAt:       j.FinishedAt,
	}
}

func (r *jobRow) job() *Job {
	return &Job{
		ID:      r.ID,
		Queue:   QueueName(r.Queue),
		Type:    r.Type,
		Payload: r.Payload,
		Retry: RetryPolicy{
			MaxAttempts: r.MaxAttempts,
			Backoff:     BackoffKind(r.Backoff),
			BaseDelay:   time.Duration(r.BaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(r.MaxDelayMs) * time.Millisecond,
		},
		Priority: Priority(r.Priority),
		Cron:     r.Cron,
		Timeout:  time.Duration(r.TimeoutMs) * time.Millisecond,
		Disposition: Disposition{
			RemoveOnComplete: r.RemoveOnComplete,
			RemoveOnFail:     r.RemoveOnFail,
		},
		State:          State(r.State),
		Attempts:       r.Attempts,
		WorkerID:       r.WorkerID,
		Progress:       r.Progress,
		LastError:      r.LastError,
		Result:         r.Result,
		RepeatKey:      r.RepeatKey,
		EnqueuedAt:     r.EnqueuedAt,
		EligibleAt:     r.EligibleAt,
		LeasedAt:       r.LeasedAt,
		LeaseExpiresAt: r.LeaseExpiresAt,
		FinishedAt:     r.FinishedAt,
	}
}

// repeatRow is the job_repeats table.
type repeatRow struct {
	bun.BaseModel `bun:"table:job_repeats,alias:r"`

	Key       string    `bun:"key,pk"`
	Queue     string    `bun:"queue,notnull"`
	Type      string    `bun:"type,notnull"`
	Cron      string    `bun:"cron,notnull"`
	Template  *Job      `bun:"template,type:jsonb,notnull"`
	NextRunAt time.Time `bun:"next_run_at,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func (r *repeatRow) spec() *RepeatSpec {
	return &RepeatSpec{
		Key:       r.Key,
		Queue:     QueueName(r.Queue),
		Type:      r.Type,
		Cron:      r.Cron,
		Template:  r.Template,
		NextRunAt: r.NextRunAt,
		CreatedAt: r.CreatedAt,
	}
}

// queueRow is the job_queues table; it only carries the pause flag.
type queueRow struct {
	bun.BaseModel `bun:"table:job_queues,alias:q"`

	Name   string `bun:"name,pk"`
	Paused bool   `bun:"paused,notnull"`
}

// PostgresStore is a Store on PostgreSQL. Leases use FOR UPDATE SKIP LOCKED so
// any number of workers in any number of processes can poll the same queue.
type PostgresStore struct {
	db   bun.IDB
	opts options
	log  *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on the jobs, job_repeats and job_queues tables.
func NewPostgresStore(db bun.IDB, log *slog.Logger, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, opts: newOptions(opts), log: log}
}

func (s *PostgresStore) Enqueue(ctx context.Context, job *Job) (string, error) {
	if job == nil {
		return "", fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	stored := job.clone()
	if err := prepare(stored, s.opts.now()); err != nil {
		return "", err
	}
	if _, err := s.db.NewInsert().Model(rowFromJob(stored)).Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue failed: %w", err)
	}
	return stored.ID, nil
}

func (s *PostgresStore) EnqueueBulk(ctx context.Context, jobs []*Job) ([]BulkResult, error) {
	now := s.opts.now()
	results := make([]BulkResult, len(jobs))
	rows := make([]*jobRow, 0, len(jobs))
	index := make([]int, 0, len(jobs))

	for i, job := range jobs {
		if job == nil {
			results[i].Err = fmt.Errorf("%w: nil job", ErrInvalidJob)
			continue
		}
		stored := job.clone()
		if err := prepare(stored, now); err != nil {
			results[i].Err = err
			continue
		}
		rows = append(rows, rowFromJob(stored))
		index = append(index, i)
	}
	if len(rows) == 0 {
		return results, nil
	}

	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		err = fmt.Errorf("bulk enqueue failed: %w", err)
		for _, i := range index {
			results[i].Err = err
		}
		return results, nil
	}
	for n, i := range index {
		results[i].ID = rows[n].ID
	}
	return results, nil
}

func (s *PostgresStore) EnqueueDelayed(ctx context.Context, job *Job, delay time.Duration) (string, error) {
	if job == nil {
		return "", fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	delayed := job.clone()
	delayed.Delay = delay
	return s.Enqueue(ctx, delayed)
}

func (s *PostgresStore) EnqueueRepeating(ctx context.Context, job *Job, cronExpr string) (string, error) {
	if job == nil {
		return "", fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	spec, err := newRepeatSpec(job, cronExpr, s.opts.now())
	if err != nil {
		return "", err
	}
	row := &repeatRow{
		Key:       spec.Key,
		Queue:     string(spec.Queue),
		Type:      spec.Type,
		Cron:      spec.Cron,
		Template:  spec.Template,
		NextRunAt: spec.NextRunAt,
		CreatedAt: spec.CreatedAt,
	}
	_, err = s.db.NewInsert().Model(row).On("CONFLICT (key) DO NOTHING").Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("register repeat failed: %w", err)
	}
	return spec.Key, nil
}

func (s *PostgresStore) RemoveRepeating(ctx context.Context, queue QueueName, key string) error {
	res, err := s.db.NewDelete().Model((*repeatRow)(nil)).
		Where("queue = ?", string(queue)).
		Where("key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("remove repeat failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRepeatNotFound
	}
	return nil
}

func (s *PostgresStore) Repeating(ctx context.Context, queue QueueName) ([]RepeatSpec, error) {
	var rows []repeatRow
	err := s.db.NewSelect().Model(&rows).
		Where("queue = ?", string(queue)).
		Order("key ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list repeats failed: %w", err)
	}
	specs := make([]RepeatSpec, 0, len(rows))
	for i := range rows {
		specs = append(specs, *rows[i].spec())
	}
	return specs, nil
}

// Lease materialises due repeat instances and then claims one job.
//
// SQL Pattern:
//
//	WITH cte AS (
//	  SELECT id FROM jobs
//	  WHERE queue=$1 AND state IN ('waiting','delayed') AND eligible_at <= $now
//	  ORDER BY priority, eligible_at, id
//	  FOR UPDATE SKIP LOCKED
//	  LIMIT 1
//	)
//	UPDATE jobs SET state='active', ... FROM cte WHERE jobs.id = cte.id
//	RETURNING jobs.*
func (s *PostgresStore) Lease(ctx context.Context, queue QueueName, workerID string) (*Job, error) {
	if !queue.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	now := s.opts.now()
	if err := s.materialise(ctx, queue, now); err != nil {
		return nil, err
	}

	query := `
		WITH cte AS (
			SELECT id FROM jobs
			WHERE queue = ? AND state IN ('waiting', 'delayed') AND eligible_at <= ?
				AND NOT EXISTS (SELECT 1 FROM job_queues q WHERE q.name = ? AND q.paused)
			ORDER BY priority ASC, eligible_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs j
		SET state = 'active', worker_id = ?, leased_at = ?,
			lease_expires_at = CAST(? AS timestamptz)
				+ (CASE WHEN j.timeout_ms > 0 THEN j.timeout_ms ELSE ? END) * interval '1 millisecond'
		FROM cte WHERE j.id = cte.id
		RETURNING j.*`

	var rows []jobRow
	err := s.db.NewRaw(query,
		string(queue), now, string(queue),
		workerID, now, now, s.opts.leaseTTL.Milliseconds(),
	).Scan(ctx, &rows)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lease failed: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].job(), nil
}

// materialise inserts one job per due repeat tick. Instance ids are
// deterministic, so a concurrent materialiser inserting the same tick is a no-op.
func (s *PostgresStore) materialise(ctx context.Context, queue QueueName, now time.Time) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var rows []repeatRow
		err := tx.NewSelect().Model(&rows).
			Where("queue = ?", string(queue)).
			Where("next_run_at <= ?", now).
			For("UPDATE SKIP LOCKED").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("select due repeats failed: %w", err)
		}

		for i := range rows {
			spec := rows[i].spec()
			job, err := spec.materialise(now)
			if err != nil {
				s.log.Warn("skipping unparsable repeat schedule",
					slog.String("key", spec.Key),
					slog.String("cron", spec.Cron),
					slog.Any("error", err))
				continue
			}
			if _, err := tx.NewInsert().Model(rowFromJob(job)).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
				return fmt.Errorf("insert repeat instance failed: %w", err)
			}
			if _, err := tx.NewUpdate().Model((*repeatRow)(nil)).
				Set("next_run_at = ?", spec.NextRunAt).
				Where("key = ?", spec.Key).
				Exec(ctx); err != nil {
				return fmt.Errorf("advance repeat failed: %w", err)
			}
		}
		return nil
	})
}

// transition locks a job row, applies fn and persists the result, deleting
// the row when fn reports it should be removed.
func (s *PostgresStore) transition(ctx context.Context, id string, fn func(job *Job, now time.Time) (remove bool, err error)) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := new(jobRow)
		err := tx.NewSelect().Model(row).Where("id = ?", id).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("load job failed: %w", err)
		}

		job := row.job()
		remove, err := fn(job, s.opts.now())
		if err != nil {
			return err
		}
		if remove {
			_, err = tx.NewDelete().Model((*jobRow)(nil)).Where("id = ?", id).Exec(ctx)
			return err
		}
		_, err = tx.NewUpdate().Model(rowFromJob(job)).
			Column("state", "attempts", "worker_id", "progress", "last_error", "result",
				"eligible_at", "leased_at", "lease_expires_at", "finished_at").
			WherePK().
			Exec(ctx)
		return err
	})
}

func (s *PostgresStore) Ack(ctx context.Context, id, workerID string, result json.RawMessage) error {
	return s.transition(ctx, id, func(job *Job, now time.Time) (bool, error) {
		if err := complete(job, workerID, result, now); err != nil {
			return false, err
		}
		return job.Disposition.RemoveOnComplete, nil
	})
}

func (s *PostgresStore) Nack(ctx context.Context, id, workerID string, cause error) (NackOutcome, error) {
	var out NackOutcome
	err := s.transition(ctx, id, func(job *Job, now time.Time) (bool, error) {
		var err error
		out, err = fail(job, workerID, cause, now)
		if err != nil {
			return false, err
		}
		return !out.Retrying && job.Disposition.RemoveOnFail, nil
	})
	return out, err
}

func (s *PostgresStore) Progress(ctx context.Context, id, workerID string, pct int) error {
	res, err := s.db.NewUpdate().Model((*jobRow)(nil)).
		Set("progress = ?", clampProgress(pct)).
		Where("id = ?", id).
		Where("state = ?", string(StateActive)).
		Where("worker_id = ?", workerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update progress failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, id)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := new(jobRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	return row.job(), nil
}

func (s *PostgresStore) Counts(ctx context.Context, queue QueueName) (Counts, error) {
	now := s.opts.now()
	query := `
		SELECT
			COUNT(*) FILTER (WHERE state IN ('waiting', 'delayed') AND eligible_at <= ?) AS waiting,
			COUNT(*) FILTER (WHERE state IN ('waiting', 'delayed') AND eligible_at > ?) AS delayed,
			COUNT(*) FILTER (WHERE state = 'active') AS active,
			COUNT(*) FILTER (WHERE state = 'completed') AS completed,
			COUNT(*) FILTER (WHERE state = 'failed') AS failed,
			COALESCE((SELECT paused FROM job_queues WHERE name = ?), false) AS paused
		FROM jobs
		WHERE queue = ?`

	var c Counts
	err := s.db.NewRaw(query, now, now, string(queue), string(queue)).
		Scan(ctx, &c.Waiting, &c.Delayed, &c.Active, &c.Completed, &c.Failed, &c.Paused)
	if err != nil {
		return Counts{}, fmt.Errorf("get counts failed: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Pause(ctx context.Context, queue QueueName) error {
	return s.setPaused(ctx, queue, true)
}

func (s *PostgresStore) Resume(ctx context.Context, queue QueueName) error {
	return s.setPaused(ctx, queue, false)
}

func (s *PostgresStore) setPaused(ctx context.Context, queue QueueName, paused bool) error {
	if !queue.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	_, err := s.db.NewInsert().Model(&queueRow{Name: string(queue), Paused: paused}).
		On("CONFLICT (name) DO UPDATE").
		Set("paused = EXCLUDED.paused").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set paused failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Drain(ctx context.Context, queue QueueName) error {
	if !queue.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	_, err := s.db.NewDelete().Model((*jobRow)(nil)).
		Where("queue = ?", string(queue)).
		Where("state = ANY(?)", pq.Array([]string{string(StateWaiting), string(StateDelayed)})).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("drain failed: %w", err)
	}
	return nil
}

// RecoverExpired nacks jobs whose worker stopped renewing them, which covers
// both crashed processes and executions that overran their timeout.
func (s *PostgresStore) RecoverExpired(ctx context.Context, queue QueueName) (int, error) {
	var ids []string
	err := s.db.NewSelect().Model((*jobRow)(nil)).
		Column("id").
		Where("queue = ?", string(queue)).
		Where("state = ?", string(StateActive)).
		Where("lease_expires_at < ?", s.opts.now()).
		Scan(ctx, &ids)
	if err != nil {
		return 0, fmt.Errorf("select expired leases failed: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		err := s.transition(ctx, id, func(job *Job, now time.Time) (bool, error) {
			if job.State != StateActive || job.LeaseExpiresAt == nil || job.LeaseExpiresAt.After(now) {
				return false, ErrLeaseLost
			}
			out, err := fail(job, job.WorkerID, ErrLeaseExpired, now)
			if err != nil {
				return false, err
			}
			return !out.Retrying && job.Disposition.RemoveOnFail, nil
		})
		if errors.Is(err, ErrLeaseLost) || errors.Is(err, ErrJobNotFound) {
			// finished or re-leased between the select and the lock
			continue
		}
		if err != nil {
			return recovered, err
		}
		recovered++
	}

	if recovered > 0 {
		s.log.Warn("recovered expired leases",
			slog.String("queue", string(queue)),
			slog.Int("count", recovered))
	}
	return recovered, nil
}

func (s *PostgresStore) Clean(ctx context.Context, queue QueueName, state State, olderThan time.Duration) (int, error) {
	if state != StateCompleted && state != StateFailed {
		return 0, fmt.Errorf("%w: can only clean finished jobs, got %s", ErrInvalidJob, state)
	}
	res, err := s.db.NewDelete().Model((*jobRow)(nil)).
		Where("queue = ?", string(queue)).
		Where("state = ?", string(state)).
		Where("finished_at < ?", s.opts.now().Add(-olderThan)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("clean failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
