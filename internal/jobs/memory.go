package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps every queue in process memory. It is used for local
// development (QUEUE_BACKEND=memory) and as the reference backend in tests.
type MemoryStore struct {
	mu      sync.Mutex
	opts    options
	jobs    map[string]*Job
	repeats map[QueueName]map[string]*RepeatSpec
	paused  map[QueueName]bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:    newOptions(opts),
		jobs:    make(map[string]*Job),
		repeats: make(map[QueueName]map[string]*RepeatSpec),
		paused:  make(map[QueueName]bool),
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, job *Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(job)
}

func (s *MemoryStore) insertLocked(job *Job) (string, error) {
	if job == nil {
		return "", fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	stored := job.clone()
	if err := prepare(stored, s.opts.now()); err != nil {
		return "", err
	}
	if _, exists := s.jobs[stored.ID]; exists {
		return "", fmt.Errorf("%w: duplicate id %s", ErrInvalidJob, stored.ID)
	}
	s.jobs[stored.ID] = stored
	return stored.ID, nil
}

func (s *MemoryStore) EnqueueBulk(_ context.Context, jobs []*Job) ([]BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]BulkResult, len(jobs))
	for i, job := range jobs {
		id, err := s.insertLocked(job)
		results[i] = BulkResult{ID: id, Err: err}
	}
	return results, nil
}

func (s *MemoryStore) EnqueueDelayed(ctx context.Context, job *Job, delay time.Duration) (string, error) {
	if job == nil {
		return "", fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	delayed := job.clone()
	delayed.Delay = delay
	return s.Enqueue(ctx, delayed)
}

func (s *MemoryStore) EnqueueRepeating(_ context.Context, job *Job, cronExpr string) (string, error) {
	if job == nil {
		return "", fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, err := newRepeatSpec(job, cronExpr, s.opts.now())
	if err != nil {
		return "", err
	}
	byKey := s.repeats[spec.Queue]
	if byKey == nil {
		byKey = make(map[string]*RepeatSpec)
		s.repeats[spec.Queue] = byKey
	}
	if _, exists := byKey[spec.Key]; !exists {
		byKey[spec.Key] = spec
	}
	return spec.Key, nil
}

func (s *MemoryStore) RemoveRepeating(_ context.Context, queue QueueName, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repeats[queue][key]; !ok {
		return ErrRepeatNotFound
	}
	delete(s.repeats[queue], key)
	return nil
}

func (s *MemoryStore) Repeating(_ context.Context, queue QueueName) ([]RepeatSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	specs := make([]RepeatSpec, 0, len(s.repeats[queue]))
	for _, spec := range s.repeats[queue] {
		c := *spec
		c.Template = spec.Template.clone()
		specs = append(specs, c)
	}
	sortRepeats(specs)
	return specs, nil
}

func (s *MemoryStore) Lease(_ context.Context, queue QueueName, workerID string) (*Job, error) {
	if !queue.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	if err := s.materialiseLocked(queue, now); err != nil {
		return nil, err
	}
	if s.paused[queue] {
		return nil, nil
	}

	var next *Job
	for _, job := range s.jobs {
		if job.Queue != queue || !eligible(job, now) {
			continue
		}
		if next == nil || before(job, next) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}
	lease(next, workerID, now, s.opts.leaseTTL)
	return next.clone(), nil
}

func eligible(job *Job, now time.Time) bool {
	return (job.State == StateWaiting || job.State == StateDelayed) && !job.EligibleAt.After(now)
}

// before orders by priority, then eligibility time, then id (FIFO for v7 ids).
func before(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.EligibleAt.Equal(b.EligibleAt) {
		return a.EligibleAt.Before(b.EligibleAt)
	}
	return a.ID < b.ID
}

func (s *MemoryStore) materialiseLocked(queue QueueName, now time.Time) error {
	for _, spec := range s.repeats[queue] {
		for !spec.NextRunAt.After(now) {
			job, err := spec.materialise(now)
			if err != nil {
				return err
			}
			if _, exists := s.jobs[job.ID]; !exists {
				s.jobs[job.ID] = job
			}
		}
	}
	return nil
}

func (s *MemoryStore) Ack(_ context.Context, id, workerID string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if err := complete(job, workerID, result, s.opts.now()); err != nil {
		return err
	}
	if job.Disposition.RemoveOnComplete {
		delete(s.jobs, id)
	}
	return nil
}

func (s *MemoryStore) Nack(_ context.Context, id, workerID string, cause error) (NackOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return NackOutcome{}, ErrJobNotFound
	}
	out, err := fail(job, workerID, cause, s.opts.now())
	if err != nil {
		return out, err
	}
	if !out.Retrying && job.Disposition.RemoveOnFail {
		delete(s.jobs, id)
	}
	return out, nil
}

func (s *MemoryStore) Progress(_ context.Context, id, workerID string, pct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if err := owned(job, workerID); err != nil {
		return err
	}
	job.Progress = clampProgress(pct)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.clone(), nil
}

func (s *MemoryStore) Counts(_ context.Context, queue QueueName) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	c := Counts{Paused: s.paused[queue]}
	for _, job := range s.jobs {
		if job.Queue != queue {
			continue
		}
		switch job.State {
		case StateWaiting, StateDelayed:
			if job.EligibleAt.After(now) {
				c.Delayed++
			} else {
				c.Waiting++
			}
		case StateActive:
			c.Active++
		case StateCompleted:
			c.Completed++
		case StateFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (s *MemoryStore) Pause(_ context.Context, queue QueueName) error {
	return s.setPaused(queue, true)
}

func (s *MemoryStore) Resume(_ context.Context, queue QueueName) error {
	return s.setPaused(queue, false)
}

func (s *MemoryStore) setPaused(queue QueueName, paused bool) error {
	if !queue.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	s.mu.Lock()
	s.paused[queue] = paused
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Drain(_ context.Context, queue QueueName) error {
	if !queue.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.jobs {
		if job.Queue == queue && (job.State == StateWaiting || job.State == StateDelayed) {
			delete(s.jobs, id)
		}
	}
	return nil
}

func (s *MemoryStore) RecoverExpired(_ context.Context, queue QueueName) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	recovered := 0
	for id, job := range s.jobs {
		if job.Queue != queue || job.State != StateActive || job.LeaseExpiresAt == nil || job.LeaseExpiresAt.After(now) {
			continue
		}
		out, err := fail(job, job.WorkerID, ErrLeaseExpired, now)
		if err != nil {
			return recovered, err
		}
		if !out.Retrying && job.Disposition.RemoveOnFail {
			delete(s.jobs, id)
		}
		recovered++
	}
	return recovered, nil
}

func (s *MemoryStore) Clean(_ context.Context, queue QueueName, state State, olderThan time.Duration) (int, error) {
	if state != StateCompleted && state != StateFailed {
		return 0, fmt.Errorf("%w: can only clean finished jobs, got %s", ErrInvalidJob, state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.opts.now().Add(-olderThan)
	removed := 0
	for id, job := range s.jobs {
		if job.Queue == queue && job.State == state && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}
