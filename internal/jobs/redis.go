package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout, per queue q and prefix p:
//
//	p:job:<id>          HASH   description (data) plus runtime fields
//	p:q:waiting         ZSET   score = priority*1e13 + eligibleMs
//	p:q:delayed         ZSET   score = eligibleMs
//	p:q:active          ZSET   score = lease deadline ms
//	p:q:completed       ZSET   score = finishedMs
//	p:q:failed          ZSET   score = finishedMs
//	p:q:paused          STRING present while paused
//	p:q:repeat          HASH   repeat key -> RepeatSpec JSON
//	p:q:repeat:next     ZSET   repeat key -> next run ms
const priorityScoreFactor = 1e13

// promoteLua moves due delayed jobs into the waiting set.
const promoteLua = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(due) do
	local key = ARGV[2] .. id
	local score = redis.call('HGET', key, 'score')
	redis.call('ZREM', KEYS[1], id)
	if score then
		redis.call('ZADD', KEYS[2], score, id)
		redis.call('HSET', key, 'state', 'waiting')
	end
end
`

var promoteScript = redis.NewScript(promoteLua + "return #due")

// leaseScript promotes due jobs, then pops the lowest-score waiting job and
// marks it active in one atomic step.
//
// KEYS: delayed, waiting, active, paused
// ARGV: now ms, job key prefix, worker id, default lease ttl ms
var leaseScript = redis.NewScript(promoteLua + `
if redis.call('EXISTS', KEYS[4]) == 1 then
	return false
end
local popped = redis.call('ZPOPMIN', KEYS[2])
if #popped == 0 then
	return false
end
local id = popped[1]
local key = ARGV[2] .. id
local ttl = tonumber(redis.call('HGET', key, 'timeout_ms') or '0')
if ttl <= 0 then
	ttl = tonumber(ARGV[4])
end
local deadline = tonumber(ARGV[1]) + ttl
redis.call('ZADD', KEYS[3], deadline, id)
redis.call('HSET', key, 'state', 'active', 'worker', ARGV[3], 'leased_at', ARGV[1], 'lease_expires_at', deadline)
return id
`)

// drainScript deletes every waiting and delayed job together with both sets,
// so no job can be leased or enqueued halfway through a drain.
//
// KEYS: waiting, delayed
// ARGV: job key prefix
var drainScript = redis.NewScript(`
local removed = 0
for _, set in ipairs(KEYS) do
	local ids = redis.call('ZRANGE', set, 0, -1)
	for _, id in ipairs(ids) do
		redis.call('DEL', ARGV[1] .. id)
		removed = removed + 1
	end
	redis.call('DEL', set)
end
return removed
`)

// RedisStore is a Store on Redis sorted sets.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	opts   options
	log    *slog.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store whose keys all start with prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string, log *slog.Logger, opts ...Option) *RedisStore {
	if prefix == "" {
		prefix = "lavra"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, opts: newOptions(opts), log: log}
}

func (s *RedisStore) jobKey(id string) string { return s.prefix + ":job:" + id }
func (s *RedisStore) jobPrefix() string       { return s.prefix + ":job:" }

func (s *RedisStore) key(q QueueName, name string) string {
	return s.prefix + ":" + string(q) + ":" + name
}

func (s *RedisStore) stateKey(q QueueName, st State) string {
	return s.key(q, string(st))
}

func waitingScore(j *Job) float64 {
	return float64(j.Priority)*priorityScoreFactor + float64(j.EligibleAt.UnixMilli())
}

func msString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMs(s string) *time.Time {
	if s == "" {
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// runtimeFields are the mutable hash fields written after every transition.
func runtimeFields(j *Job) map[string]any {
	eligible := j.EligibleAt
	return map[string]any{
		"state":            string(j.State),
		"attempts":         j.Attempts,
		"worker":           j.WorkerID,
		"progress":         j.Progress,
		"last_error":       j.LastError,
		"result":           string(j.Result),
		"priority":         int(j.Priority),
		"timeout_ms":       j.Timeout.Milliseconds(),
		"score":            strconv.FormatFloat(waitingScore(j), 'f', 0, 64),
		"eligible_at":      msString(&eligible),
		"leased_at":        msString(j.LeasedAt),
		"lease_expires_at": msString(j.LeaseExpiresAt),
		"finished_at":      msString(j.FinishedAt),
	}
}

func jobFromHash(h map[string]string) (*Job, error) {
	data, ok := h["data"]
	if !ok {
		return nil, ErrJobNotFound
	}
	job := new(Job)
	if err := json.Unmarshal([]byte(data), job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	job.State = State(h["state"])
	job.Attempts, _ = strconv.Atoi(h["attempts"])
	job.WorkerID = h["worker"]
	job.Progress, _ = strconv.Atoi(h["progress"])
	job.LastError = h["last_error"]
	if r := h["result"]; r != "" {
		job.Result = json.RawMessage(r)
	} else {
		job.Result = nil
	}
	if t := parseMs(h["eligible_at"]); t != nil {
		job.EligibleAt = *t
	}
	job.LeasedAt = parseMs(h["leased_at"])
	job.LeaseExpiresAt = parseMs(h["lease_expires_at"])
	job.FinishedAt = parseMs(h["finished_at"])
	return job, nil
}

// place adds the queue-set membership matching the job's state.
func (s *RedisStore) place(ctx context.Context, pipe redis.Pipeliner, j *Job) {
	switch j.State {
	case StateWaiting:
		pipe.ZAdd(ctx, s.stateKey(j.Queue, StateWaiting), redis.Z{Score: waitingScore(j), Member: j.ID})
	case StateDelayed:
		pipe.ZAdd(ctx, s.stateKey(j.Queue, StateDelayed), redis.Z{Score: float64(j.EligibleAt.UnixMilli()), Member: j.ID})
	case StateActive:
		pipe.ZAdd(ctx, s.stateKey(j.Queue, StateActive), redis.Z{Score: float64(j.LeaseExpiresAt.UnixMilli()), Member: j.ID})
	case StateCompleted, StateFailed:
		pipe.ZAdd(ctx, s.stateKey(j.Queue, j.State), redis.Z{Score: float64(j.FinishedAt.UnixMilli()), Member: j.ID})
	}
}

func (s *RedisStore) insert(ctx context.Context, pipe redis.Pipeliner, j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	fields := runtimeFields(j)
	fields["data"] = string(data)
	pipe.HSet(ctx, s.jobKey(j.ID), fields)
	s.place(ctx, pipe, j)
	return nil
}

func (s *RedisStore) Enqueue(ctx context.Context, job *Job) (string, error) {
	if job == nil {
		return "", fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	stored := job.clone()
	if err := prepare(stored, s.opts.now()); err != nil {
		return "", err
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.insert(ctx, pipe, stored)
	})
	if err != nil {
		return "", fmt.Errorf("enqueue failed: %w", err)
	}
	return stored.ID, nil
}

func (s *RedisStore) EnqueueBulk(ctx context.Context, jobs []*Job) ([]BulkResult, error) {
	now := s.opts.now()
	results := make([]BulkResult, len(jobs))
	prepared := make([]*Job, 0, len(jobs))
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
		prepared = append(prepared, stored)
		index = append(index, i)
	}
	if len(prepared) == 0 {
		return results, nil
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, j := range prepared {
			if err := s.insert(ctx, pipe, j); err != nil {
				return err
			}
		}
		return nil
	})
	for n, i := range index {
		if err != nil {
			results[i].Err = fmt.Errorf("bulk enqueue failed: %w", err)
			continue
		}
		results[i].ID = prepared[n].ID
	}
	return results, nil
}

func (s *RedisStore) EnqueueDelayed(ctx context.Context, job *Job, delay time.Duration) (string, error) {
	if job == nil {
		return "", fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	delayed := job.clone()
	delayed.Delay = delay
	return s.Enqueue(ctx, delayed)
}

func (s *RedisStore) EnqueueRepeating(ctx context.Context, job *Job, cronExpr string) (string, error) {
	if job == nil {
		return "", fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	spec, err := newRepeatSpec(job, cronExpr, s.opts.now())
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("encode repeat: %w", err)
	}

	created, err := s.rdb.HSetNX(ctx, s.key(spec.Queue, "repeat"), spec.Key, data).Result()
	if err != nil {
		return "", fmt.Errorf("register repeat failed: %w", err)
	}
	if created {
		err = s.rdb.ZAdd(ctx, s.key(spec.Queue, "repeat:next"), redis.Z{
			Score:  float64(spec.NextRunAt.UnixMilli()),
			Member: spec.Key,
		}).Err()
		if err != nil {
			return "", fmt.Errorf("schedule repeat failed: %w", err)
		}
	}
	return spec.Key, nil
}

func (s *RedisStore) RemoveRepeating(ctx context.Context, queue QueueName, key string) error {
	n, err := s.rdb.HDel(ctx, s.key(queue, "repeat"), key).Result()
	if err != nil {
		return fmt.Errorf("remove repeat failed: %w", err)
	}
	if n == 0 {
		return ErrRepeatNotFound
	}
	return s.rdb.ZRem(ctx, s.key(queue, "repeat:next"), key).Err()
}

func (s *RedisStore) Repeating(ctx context.Context, queue QueueName) ([]RepeatSpec, error) {
	all, err := s.rdb.HGetAll(ctx, s.key(queue, "repeat")).Result()
	if err != nil {
		return nil, fmt.Errorf("list repeats failed: %w", err)
	}
	next, err := s.rdb.ZRangeWithScores(ctx, s.key(queue, "repeat:next"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list repeats failed: %w", err)
	}
	nextRun := make(map[string]time.Time, len(next))
	for _, z := range next {
		nextRun[z.Member.(string)] = time.UnixMilli(int64(z.Score)).UTC()
	}

	specs := make([]RepeatSpec, 0, len(all))
	for key, data := range all {
		var spec RepeatSpec
		if err := json.Unmarshal([]byte(data), &spec); err != nil {
			return nil, fmt.Errorf("decode repeat %s: %w", key, err)
		}
		if t, ok := nextRun[key]; ok {
			spec.NextRunAt = t
		}
		specs = append(specs, spec)
	}
	sortRepeats(specs)
	return specs, nil
}

// materialise creates one job per due repeat tick. The instance id is
// deterministic and the insert is guarded by WATCH, so racing materialisers
// produce a single instance.
func (s *RedisStore) materialise(ctx context.Context, queue QueueName, now time.Time) error {
	nextKey := s.key(queue, "repeat:next")
	due, err := s.rdb.ZRangeByScore(ctx, nextKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("select due repeats failed: %w", err)
	}

	for _, key := range due {
		data, err := s.rdb.HGet(ctx, s.key(queue, "repeat"), key).Result()
		if errors.Is(err, redis.Nil) {
			s.rdb.ZRem(ctx, nextKey, key)
			continue
		}
		if err != nil {
			return fmt.Errorf("load repeat failed: %w", err)
		}
		var spec RepeatSpec
		if err := json.Unmarshal([]byte(data), &spec); err != nil {
			return fmt.Errorf("decode repeat %s: %w", key, err)
		}
		score, err := s.rdb.ZScore(ctx, nextKey, key).Result()
		if err != nil {
			continue
		}
		spec.NextRunAt = time.UnixMilli(int64(score)).UTC()
		if spec.NextRunAt.After(now) {
			continue
		}

		job, err := spec.materialise(now)
		if err != nil {
			s.log.Warn("skipping unparsable repeat schedule",
				slog.String("key", key),
				slog.String("cron", spec.Cron),
				slog.Any("error", err))
			continue
		}

		jobKey := s.jobKey(job.ID)
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, jobKey).Result()
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if exists == 0 {
					if err := s.insert(ctx, pipe, job); err != nil {
						return err
					}
				}
				pipe.ZAdd(ctx, nextKey, redis.Z{Score: float64(spec.NextRunAt.UnixMilli()), Member: key})
				return nil
			})
			return err
		}, jobKey)
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("materialise repeat failed: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) Lease(ctx context.Context, queue QueueName, workerID string) (*Job, error) {
	if !queue.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	now := s.opts.now()
	if err := s.materialise(ctx, queue, now); err != nil {
		return nil, err
	}

	keys := []string{
		s.stateKey(queue, StateDelayed),
		s.stateKey(queue, StateWaiting),
		s.stateKey(queue, StateActive),
		s.key(queue, "paused"),
	}
	id, err := leaseScript.Run(ctx, s.rdb, keys,
		now.UnixMilli(), s.jobPrefix(), workerID, s.opts.leaseTTL.Milliseconds(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease failed: %w", err)
	}
	return s.Get(ctx, id)
}

// transition applies fn to a job under WATCH and writes it back atomically.
func (s *RedisStore) transition(ctx context.Context, id string, fn func(job *Job, now time.Time) (remove bool, err error)) error {
	key := s.jobKey(id)
	txf := func(tx *redis.Tx) error {
		h, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(h) == 0 {
			return ErrJobNotFound
		}
		job, err := jobFromHash(h)
		if err != nil {
			return err
		}
		from := job.State

		remove, err := fn(job, s.opts.now())
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, s.stateKey(job.Queue, from), id)
			if remove {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.HSet(ctx, key, runtimeFields(job))
			s.place(ctx, pipe, job)
			return nil
		})
		return err
	}

	for i := 0; i < 10; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("transition %s: too much contention", id)
}

func (s *RedisStore) Ack(ctx context.Context, id, workerID string, result json.RawMessage) error {
	return s.transition(ctx, id, func(job *Job, now time.Time) (bool, error) {
		if err := complete(job, workerID, result, now); err != nil {
			return false, err
		}
		return job.Disposition.RemoveOnComplete, nil
	})
}

func (s *RedisStore) Nack(ctx context.Context, id, workerID string, cause error) (NackOutcome, error) {
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

func (s *RedisStore) Progress(ctx context.Context, id, workerID string, pct int) error {
	return s.transition(ctx, id, func(job *Job, _ time.Time) (bool, error) {
		if err := owned(job, workerID); err != nil {
			return false, err
		}
		job.Progress = clampProgress(pct)
		return false, nil
	})
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	h, err := s.rdb.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	if len(h) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromHash(h)
}

func (s *RedisStore) Counts(ctx context.Context, queue QueueName) (Counts, error) {
	err := promoteScript.Run(ctx, s.rdb,
		[]string{s.stateKey(queue, StateDelayed), s.stateKey(queue, StateWaiting)},
		s.opts.now().UnixMilli(), s.jobPrefix(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Counts{}, fmt.Errorf("promote delayed failed: %w", err)
	}

	pipe := s.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, s.stateKey(queue, StateWaiting))
	delayed := pipe.ZCard(ctx, s.stateKey(queue, StateDelayed))
	active := pipe.ZCard(ctx, s.stateKey(queue, StateActive))
	completed := pipe.ZCard(ctx, s.stateKey(queue, StateCompleted))
	failed := pipe.ZCard(ctx, s.stateKey(queue, StateFailed))
	paused := pipe.Exists(ctx, s.key(queue, "paused"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("get counts failed: %w", err)
	}

	return Counts{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Paused:    paused.Val() == 1,
	}, nil
}

func (s *RedisStore) Pause(ctx context.Context, queue QueueName) error {
	if !queue.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	return s.rdb.Set(ctx, s.key(queue, "paused"), "1", 0).Err()
}

func (s *RedisStore) Resume(ctx context.Context, queue QueueName) error {
	if !queue.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	return s.rdb.Del(ctx, s.key(queue, "paused")).Err()
}

func (s *RedisStore) Drain(ctx context.Context, queue QueueName) error {
	if !queue.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	keys := []string{s.stateKey(queue, StateWaiting), s.stateKey(queue, StateDelayed)}
	n, err := drainScript.Run(ctx, s.rdb, keys, s.jobPrefix()).Int()
	if err != nil {
		return fmt.Errorf("drain failed: %w", err)
	}
	if n > 0 {
		s.log.Info("drained queue",
			slog.String("queue", string(queue)),
			slog.Int("count", n))
	}
	return nil
}

func (s *RedisStore) RecoverExpired(ctx context.Context, queue QueueName) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.stateKey(queue, StateActive), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(s.opts.now().UnixMilli(), 10),
	}).Result()
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
		if errors.Is(err, ErrLeaseLost) {
			continue
		}
		if errors.Is(err, ErrJobNotFound) {
			s.rdb.ZRem(ctx, s.stateKey(queue, StateActive), id)
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

func (s *RedisStore) Clean(ctx context.Context, queue QueueName, state State, olderThan time.Duration) (int, error) {
	if state != StateCompleted && state != StateFailed {
		return 0, fmt.Errorf("%w: can only clean finished jobs, got %s", ErrInvalidJob, state)
	}
	setKey := s.stateKey(queue, state)
	cutoff := s.opts.now().Add(-olderThan).UnixMilli()
	ids, err := s.rdb.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("clean failed: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.jobKey(id))
			pipe.ZRem(ctx, setKey, id)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("clean failed: %w", err)
	}
	return len(ids), nil
}
