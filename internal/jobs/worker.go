package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/tracing"
)

// ProgressFunc reports 0-100 progress of the job being processed.
type ProgressFunc func(ctx context.Context, pct int) error

// Processor executes jobs of one queue. A nil error acknowledges the job;
// any error fails the attempt, and errors wrapped with Permanent fail the job.
type Processor interface {
	Process(ctx context.Context, job *Job, progress ProgressFunc) (Result, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *Job, progress ProgressFunc) (Result, error)

func (f ProcessorFunc) Process(ctx context.Context, job *Job, progress ProgressFunc) (Result, error) {
	return f(ctx, job, progress)
}

// ConcurrencyLimiter lowers the number of active slots at runtime.
// syshealth.ConcurrencyScaler satisfies it.
type ConcurrencyLimiter interface {
	GetConcurrency(staticValue int) int
}

// PoolConfig contains configuration for a worker pool
type PoolConfig struct {
	// Queue is the queue the pool leases from
	Queue QueueName
	// Concurrency is the number of slots, each executing at most one job (default: 1)
	Concurrency int
	// PollInterval is how long an idle slot waits before leasing again (default: 1s)
	PollInterval time.Duration
}

// PoolStats is a snapshot of what a pool has done since it was created.
type PoolStats struct {
	Processed int64 `json:"processed"`
	Completed int64 `json:"completed"`
	Skipped   int64 `json:"skipped"`
	Retried   int64 `json:"retried"`
	Failed    int64 `json:"failed"`
}

// PoolOption configures optional pool collaborators.
type PoolOption func(*Pool)

// WithLimiter installs a limiter consulted before every lease.
func WithLimiter(l ConcurrencyLimiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// Pool runs Concurrency slots that lease jobs from one queue and hand them
// to a Processor. Each job gets its own context bounded by the job timeout;
// an execution that overruns it is failed and its late result discarded.
type Pool struct {
	store   Store
	proc    Processor
	config  PoolConfig
	log     *slog.Logger
	limiter ConcurrencyLimiter
	host    string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	processed atomic.Int64
	completed atomic.Int64
	skipped   atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a worker pool for config.Queue.
func NewPool(store Store, proc Processor, config PoolConfig, log *slog.Logger, opts ...PoolOption) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}

	p := &Pool{
		store:  store,
		proc:   proc,
		config: config,
		log:    log.With(logger.Scope("jobs.pool"), slog.String("queue", string(config.Queue))),
		host:   fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Queue returns the queue this pool serves.
func (p *Pool) Queue() QueueName { return p.config.Queue }

// Start launches the slots. The context only bounds startup; slots run until Stop.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.stopCh = make(chan struct{})
	p.cancel = cancel

	p.log.Info("worker pool starting",
		slog.Int("concurrency", p.config.Concurrency),
		slog.Duration("poll_interval", p.config.PollInterval))

	for slot := 0; slot < p.config.Concurrency; slot++ {
		p.wg.Add(1)
		go p.run(runCtx, slot)
	}
	return nil
}

// Stop stops leasing and waits for in-flight jobs. When ctx expires first the
// in-flight jobs are cancelled, which fails their current attempt.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	cancel := p.cancel
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		p.log.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		p.log.Warn("worker pool stop timed out, in-flight jobs cancelled")
		return ctx.Err()
	}
}

// IsRunning returns whether the pool is currently running
func (p *Pool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Processed: p.processed.Load(),
		Completed: p.completed.Load(),
		Skipped:   p.skipped.Load(),
		Retried:   p.retried.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) run(ctx context.Context, slot int) {
	defer p.wg.Done()
	workerID := fmt.Sprintf("%s-%s-%d", p.host, p.config.Queue, slot)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if slot >= p.allowedSlots() {
			if !p.wait() {
				return
			}
			continue
		}

		processed, err := p.RunOnce(ctx, workerID)
		if err != nil {
			p.log.Warn("worker slot error", slog.Int("slot", slot), logger.Error(err))
		}
		if !processed && !p.wait() {
			return
		}
	}
}

func (p *Pool) allowedSlots() int {
	n := p.config.Concurrency
	if p.limiter != nil {
		n = p.limiter.GetConcurrency(n)
		if n > p.config.Concurrency {
			n = p.config.Concurrency
		}
	}
	PoolConcurrency.WithLabelValues(string(p.config.Queue)).Set(float64(n))
	return n
}

// wait sleeps one poll interval; false means the pool is stopping.
func (p *Pool) wait() bool {
	t := time.NewTimer(p.config.PollInterval)
	defer t.Stop()
	select {
	case <-p.stopCh:
		return false
	case <-t.C:
		return true
	}
}

// RunOnce leases one job and executes it. It reports whether a job was leased.
func (p *Pool) RunOnce(ctx context.Context, workerID string) (bool, error) {
	job, err := p.store.Lease(ctx, p.config.Queue, workerID)
	if err != nil {
		return false, fmt.Errorf("lease: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, p.execute(ctx, job)
}

type execution struct {
	result Result
	err    error
}

func (p *Pool) execute(ctx context.Context, job *Job) error {
	ctx, span := tracing.Start(ctx, "jobs."+string(job.Queue)+"."+job.Type,
		attribute.String("lavra.job.id", job.ID),
		attribute.String("lavra.job.queue", string(job.Queue)),
		attribute.Int("lavra.job.attempt", job.Attempts+1),
	)
	defer span.End()

	log := p.log.With(
		slog.String("job_id", job.ID),
		slog.String("type", job.Type),
		slog.Int("attempt", job.Attempts+1),
		slog.Int("max_attempts", job.Retry.MaxAttempts))

	start := time.Now()
	res, err := p.invoke(ctx, job)
	elapsed := time.Since(start)
	p.processed.Add(1)
	JobDuration.WithLabelValues(string(job.Queue)).Observe(elapsed.Seconds())

	// the job context may be cancelled or expired; settle on a fresh one
	settleCtx := context.WithoutCancel(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		out, nerr := p.store.Nack(settleCtx, job.ID, job.WorkerID, err)
		if nerr != nil {
			return fmt.Errorf("nack %s: %w", job.ID, nerr)
		}
		if out.Retrying {
			p.retried.Add(1)
			JobsProcessed.WithLabelValues(string(job.Queue), "retried").Inc()
			log.Warn("job failed, will retry",
				slog.Duration("retry_in", out.Delay),
				slog.Duration("duration", elapsed),
				logger.Error(err))
			return nil
		}
		p.failed.Add(1)
		JobsProcessed.WithLabelValues(string(job.Queue), "failed").Inc()
		log.Error("job failed permanently",
			slog.Int("attempts", out.Attempts),
			slog.String("payload", string(job.Payload)),
			logger.Error(err))
		return nil
	}

	data, merr := encodeResult(res)
	if merr != nil {
		log.Warn("job result not encodable, storing without it", logger.Error(merr))
	}
	if aerr := p.store.Ack(settleCtx, job.ID, job.WorkerID, data); aerr != nil {
		return fmt.Errorf("ack %s: %w", job.ID, aerr)
	}

	if res.Skipped {
		p.skipped.Add(1)
		JobsProcessed.WithLabelValues(string(job.Queue), "skipped").Inc()
		log.Info("job skipped", slog.String("reason", res.Reason))
		return nil
	}
	p.completed.Add(1)
	JobsProcessed.WithLabelValues(string(job.Queue), "completed").Inc()
	log.Debug("job completed", slog.Duration("duration", elapsed))
	return nil
}

// invoke runs the processor under the job timeout, converting panics into
// errors. A processor that ignores cancellation is abandoned at the deadline.
func (p *Pool) invoke(ctx context.Context, job *Job) (Result, error) {
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	progress := func(ctx context.Context, pct int) error {
		return p.store.Progress(ctx, job.ID, job.WorkerID, pct)
	}

	done := make(chan execution, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execution{err: fmt.Errorf("processor panic: %v", r)}
			}
		}()
		res, err := p.proc.Process(ctx, job, progress)
		done <- execution{result: res, err: err}
	}()

	select {
	case ex := <-done:
		if ex.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w after %s: %w", ErrJobTimeout, job.Timeout, ex.err)
		}
		return ex.result, ex.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w after %s", ErrJobTimeout, job.Timeout)
		}
		return Result{}, fmt.Errorf("job interrupted: %w", ctx.Err())
	}
}

func encodeResult(res Result) (json.RawMessage, error) {
	if res.Skipped {
		return json.Marshal(map[string]any{"skipped": true, "reason": res.Reason})
	}
	if res.Data == nil {
		return nil, nil
	}
	return json.Marshal(res.Data)
}
