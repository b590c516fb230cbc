package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"broadcast-dispatch/internal/common/config"
	"broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/common/logger"
	"broadcast-dispatch/internal/common/metrics"
	"broadcast-dispatch/internal/common/observability"
	"broadcast-dispatch/internal/queue"
)

const (
	defaultConcurrency     = 5
	defaultPollInterval    = 500 * time.Millisecond
	defaultStalledInterval = 30 * time.Second
)

// Executor runs one job attempt and records terminal failures. *Handler satisfies it.
type Executor interface {
	Execute(ctx context.Context, j *queue.Job) (Outcome, error)
	Fail(ctx context.Context, j *queue.Job, cause error)
	// IsPaused is re-checked under the queue lock before a job is parked.
	IsPaused(ctx context.Context, broadcastID string) (bool, error)
}

// Pool pulls jobs off the queue with a fixed number of workers.
type Pool struct {
	consumer        queue.Consumer
	executor        Executor
	errHandler      *errors.ErrorHandler
	obs             *observability.Observability
	tracer          trace.Tracer
	logger          logger.Logger
	concurrency     int
	pollInterval    time.Duration
	stalledInterval time.Duration
	timeout         time.Duration
	now             func() time.Time
}

type PoolOption func(*Pool)

func WithObservability(o *observability.Observability) PoolOption {
	return func(p *Pool) {
		p.obs = o
		p.tracer = o.Tracer()
	}
}

func WithStalledInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.stalledInterval = d }
}

func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool sizes the pool from the worker config: MaxJobsActive workers,
// Timeout ms per attempt, PollIntervalMs between empty polls.
func NewPool(cfg config.WorkerConfig, consumer queue.Consumer, executor Executor, log logger.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		consumer:        consumer,
		executor:        executor,
		errHandler:      errors.NewErrorHandler(log),
		logger:          log.WithFields(map[string]interface{}{"taskType": TaskType}),
		concurrency:     cfg.MaxJobsActive,
		pollInterval:    time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		stalledInterval: defaultStalledInterval,
		timeout:         time.Duration(cfg.Timeout) * time.Millisecond,
		now:             time.Now,
	}
	if p.concurrency <= 0 {
		p.concurrency = defaultConcurrency
	}
	if p.pollInterval <= 0 {
		p.pollInterval = defaultPollInterval
	}
	if p.timeout <= 0 {
		p.timeout = 30 * time.Second
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx is canceled and all in-flight jobs have settled.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("dispatch pool started", map[string]interface{}{
		"concurrency":    p.concurrency,
		"pollIntervalMs": p.pollInterval.Milliseconds(),
	})

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.maintain(ctx)
	}()
	wg.Wait()

	p.logger.Info("dispatch pool stopped", nil)
}

func (p *Pool) work(ctx context.Context) {
	for ctx.Err() == nil {
		processed, err := p.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Warn("dequeue failed", map[string]interface{}{"error": err.Error()})
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(p.pollInterval):
		}
	}
}

func (p *Pool) maintain(ctx context.Context) {
	ticker := time.NewTicker(p.stalledInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Maintain(ctx)
		}
	}
}

// Maintain recovers stalled jobs and samples the queue size.
func (p *Pool) Maintain(ctx context.Context) {
	if _, err := p.consumer.RecoverStalled(ctx); err != nil {
		p.logger.Warn("stalled job recovery failed", map[string]interface{}{"error": err.Error()})
	}

	// Counts refreshes the queue gauges as a side effect.
	c, err := p.consumer.Counts(ctx)
	if err != nil {
		return
	}
	p.logger.Debug("queue counts", map[string]interface{}{
		"waiting": c.Waiting,
		"delayed": c.Delayed,
		"active":  c.Active,
		"failed":  c.Failed,
	})
}

// Poll dequeues and settles at most one job. It reports whether a job was taken.
func (p *Pool) Poll(ctx context.Context) (bool, error) {
	j, err := p.consumer.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, nil
	}
	p.process(ctx, j)
	return true, nil
}

func (p *Pool) process(ctx context.Context, j *queue.Job) {
	start := p.now()
	metrics.DispatchJobsActive.Inc()
	defer metrics.DispatchJobsActive.Dec()

	ctx, span := observability.StartSpan(ctx, p.tracer, "dispatch.job",
		attribute.String("job.id", j.ID),
		attribute.String("broadcast.id", j.Payload.BroadcastID),
		attribute.String("contact.id", j.Payload.ContactID),
		attribute.Int("job.attempt", j.Attempts),
	)
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	outcome, runErr := p.run(runCtx, j)
	cancel()

	settleCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		span.RecordError(runErr)
		outcome = p.settleFailure(settleCtx, j, runErr)
	} else {
		p.settle(settleCtx, j, outcome)
	}

	if outcome == OutcomeFailed {
		span.SetStatus(codes.Error, errString(runErr))
	}
	span.SetAttributes(attribute.String("job.outcome", string(outcome)))

	elapsed := p.now().Sub(start)
	metrics.DispatchJobsProcessed.WithLabelValues(string(outcome)).Inc()
	metrics.DispatchJobDuration.Observe(elapsed.Seconds())
	p.obs.RecordJobProcessed(settleCtx, string(outcome))
	p.obs.RecordJobDuration(settleCtx, elapsed, string(outcome))
}

// run converts a handler panic into an internal error so the job is still settled.
func (p *Pool) run(ctx context.Context, j *queue.Job) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatch handler panicked", map[string]interface{}{
				"jobId": j.ID,
				"panic": r,
			})
			outcome, err = "", errors.NewInternalError(fmt.Errorf("panic: %v", r))
		}
	}()
	return p.executor.Execute(ctx, j)
}

func (p *Pool) settle(ctx context.Context, j *queue.Job, outcome Outcome) {
	var err error
	switch outcome {
	case OutcomeParked:
		var parked bool
		parked, err = p.consumer.Park(ctx, j, p.executor.IsPaused)
		if err == nil && !parked {
			p.logger.Info("broadcast no longer paused, job requeued", map[string]interface{}{
				"jobId":       j.ID,
				"broadcastId": j.Payload.BroadcastID,
			})
		}
	case OutcomeDiscarded:
		err = p.consumer.Remove(ctx, j)
	default:
		err = p.consumer.Complete(ctx, j)
	}
	if err != nil {
		p.logger.Error("failed to settle job", map[string]interface{}{
			"jobId":   j.ID,
			"outcome": string(outcome),
			"error":   err.Error(),
		})
	}
}

func (p *Pool) settleFailure(ctx context.Context, j *queue.Job, cause error) Outcome {
	decision := p.errHandler.HandleJobError(j.ID, j.Attempts, j.MaxAttempts, cause, j.Backoff.Strategy().Delay)
	metrics.DispatchJobsFailed.WithLabelValues(string(decision.Err.Code)).Inc()

	if decision.Retry {
		if err := p.consumer.Retry(ctx, j, decision.Delay, decision.Err); err != nil {
			p.logger.Error("failed to schedule retry", map[string]interface{}{
				"jobId": j.ID,
				"error": err.Error(),
			})
		}
		return OutcomeRetried
	}

	p.executor.Fail(ctx, j, decision.Err)
	if err := p.consumer.Fail(ctx, j, decision.Err); err != nil {
		p.logger.Error("failed to mark job failed", map[string]interface{}{
			"jobId": j.ID,
			"error": err.Error(),
		})
	}
	return OutcomeFailed
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
