// internal/queue/redis.go
package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"broadcast-dispatch/internal/common/config"
	"broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/common/logger"
	"broadcast-dispatch/internal/common/metrics"
	"broadcast-dispatch/internal/common/observability"
	"broadcast-dispatch/internal/common/validation"
)

// priorityWeight separates priority levels in the waiting score. Scores stay
// integral (exact in float64) for priorities below 900.
const priorityWeight = int64(1e13)

const (
	promoteLimit = 100
	lockRetry    = 50 * time.Millisecond
)

var errJobGone = stderrors.New("job no longer exists")

type Config struct {
	Name            string
	KeyPrefix       string
	DefaultAttempts int
	DefaultBackoff  BackoffPolicy
	ParkDelay       time.Duration
	ResumePriority  int
	ResumeAttempts  int
	ResumeBackoff   BackoffPolicy
	LockTTL         time.Duration
	StalledAfter    time.Duration
}

// ConfigFrom maps the queue section of the application config.
func ConfigFrom(c config.QueueConfig) Config {
	return Config{
		Name:            c.Name,
		KeyPrefix:       c.KeyPrefix,
		DefaultAttempts: c.DefaultAttempts,
		DefaultBackoff:  ExponentialBackoff(config.GetDuration(c.DefaultBackoffMs)),
		ParkDelay:       time.Duration(c.ParkDelayHours) * time.Hour,
		ResumePriority:  c.ResumePriority,
		ResumeAttempts:  c.ResumeAttempts,
		ResumeBackoff:   ExponentialBackoff(config.GetDuration(c.ResumeBackoffMs)),
		LockTTL:         config.GetDuration(c.LockTTLMs),
		StalledAfter:    config.GetDuration(c.StalledAfterMs),
	}
}

// RedisQueue is a durable job queue on Redis hashes and sorted sets. Many
// broadcasts share it; every job is indexed by its owning broadcast.
type RedisQueue struct {
	client    *redis.Client
	cfg       Config
	keys      keys
	validator *validation.Validator
	logger    logger.Logger
	tracer    trace.Tracer
	now       func() time.Time

	// mu serializes pause, resume and remove passes in this process; the
	// Redis lock does the same across processes.
	mu sync.Mutex
}

type Option func(*RedisQueue)

func WithLogger(l logger.Logger) Option {
	return func(q *RedisQueue) { q.logger = l }
}

// WithValidator checks every payload against the task's JSON schema before enqueue.
func WithValidator(v *validation.Validator) Option {
	return func(q *RedisQueue) { q.validator = v }
}

func WithTracer(t trace.Tracer) Option {
	return func(q *RedisQueue) { q.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(q *RedisQueue) { q.now = now }
}

func NewRedisQueue(client *redis.Client, cfg Config, opts ...Option) *RedisQueue {
	if cfg.DefaultAttempts <= 0 {
		cfg.DefaultAttempts = 3
	}
	if cfg.ParkDelay <= 0 {
		cfg.ParkDelay = 365 * 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.ResumeAttempts <= 0 {
		cfg.ResumeAttempts = 5
	}

	q := &RedisQueue{
		client: client,
		cfg:    cfg,
		keys:   newKeys(cfg.KeyPrefix, cfg.Name),
		logger: logger.NewNoOpLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.WithFields(map[string]interface{}{"component": "queue", "queue": cfg.Name})
	return q
}

// ==========================
// Producer
// ==========================

func (q *RedisQueue) Enqueue(ctx context.Context, payload Payload, opts Options) (string, error) {
	if err := q.validate(payload); err != nil {
		return "", err
	}

	now := q.now()
	j := Job{
		ID:          opts.JobID,
		Name:        q.cfg.Name,
		Payload:     payload,
		State:       Active{},
		Phase:       PhaseWaiting,
		Priority:    opts.Priority,
		MaxAttempts: opts.Attempts,
		Backoff:     q.cfg.DefaultBackoff,
		RunAt:       now.Add(opts.Delay),
		CreatedAt:   now,
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = q.cfg.DefaultAttempts
	}
	if opts.Backoff != nil {
		j.Backoff = *opts.Backoff
	}
	if opts.Delay > 0 {
		j.Phase = PhaseDelayed
	}

	// An existing id makes enqueue a no-op, so producers can retry safely.
	exists, err := q.client.Exists(ctx, q.keys.job(j.ID)).Result()
	if err != nil {
		return "", errors.NewQueueOperationFailedError("enqueue", err)
	}
	if exists > 0 {
		return j.ID, nil
	}

	pipe := q.client.TxPipeline()
	q.add(ctx, pipe, &j)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", errors.NewQueueOperationFailedError("enqueue", err)
	}
	return j.ID, nil
}

func (q *RedisQueue) validate(p Payload) error {
	if p.BroadcastID == "" {
		return errors.NewInvalidPayloadError("broadcastId is required")
	}
	if q.validator == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return errors.NewInvalidPayloadError(err.Error())
	}
	res, err := q.validator.Validate(raw)
	if err != nil {
		return errors.NewInternalError(err)
	}
	if !res.Valid {
		return errors.NewInvalidPayloadError(fmt.Sprintf("%v", res.Messages()))
	}
	return nil
}

// add queues the writes that store j and index it in its phase set.
func (q *RedisQueue) add(ctx context.Context, pipe redis.Pipeliner, j *Job) {
	pipe.HSet(ctx, q.keys.job(j.ID), jobToMap(j))
	pipe.SAdd(ctx, q.keys.broadcast(j.Payload.BroadcastID), j.ID)
	switch j.Phase {
	case PhaseDelayed:
		pipe.ZAdd(ctx, q.keys.delayed(), redis.Z{Score: float64(j.RunAt.UnixMilli()), Member: j.ID})
	default:
		pipe.ZAdd(ctx, q.keys.waiting(), redis.Z{Score: jobScore(j.Priority, j.CreatedAt), Member: j.ID})
	}
}

// drop queues the writes that delete j from every index.
func (q *RedisQueue) drop(ctx context.Context, pipe redis.Pipeliner, id, broadcastID string) {
	pipe.ZRem(ctx, q.keys.waiting(), id)
	pipe.ZRem(ctx, q.keys.delayed(), id)
	pipe.ZRem(ctx, q.keys.active(), id)
	pipe.ZRem(ctx, q.keys.failed(), id)
	pipe.Del(ctx, q.keys.job(id))
	pipe.SRem(ctx, q.keys.broadcast(broadcastID), id)
}

func (q *RedisQueue) Pause(ctx context.Context, broadcastID string) (int, error) {
	ctx, span := observability.StartSpan(ctx, q.tracer, "queue.pause", attribute.String("broadcast.id", broadcastID))
	defer span.End()

	unlock, err := q.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	// Quiesce the shared queue for the duration of the pass. The TTL bounds
	// the stall if this process dies mid-pass.
	if err := q.client.Set(ctx, q.keys.paused(), "1", q.cfg.LockTTL).Err(); err != nil {
		return 0, errors.NewQueueOperationFailedError("pause", err)
	}
	defer func() {
		if err := q.client.Del(context.WithoutCancel(ctx), q.keys.paused()).Err(); err != nil {
			q.logger.Error("failed to resume shared queue after pause pass", map[string]interface{}{"error": err})
		}
	}()

	jobs, err := q.Jobs(ctx, broadcastID)
	if err != nil {
		return 0, err
	}

	now := q.now()
	paused := 0
	for _, j := range jobs {
		if _, ok := j.IsParked(); ok {
			continue
		}

		var opErr error
		switch j.Phase {
		case PhaseWaiting:
			opErr = q.parkWaiting(ctx, j, now)
		case PhaseDelayed, PhaseActive:
			parked := Park(*j, j.Phase, now)
			opErr = q.setField(ctx, j.ID, "pause", encodeState(parked.State))
		default:
			continue
		}
		if opErr != nil {
			q.logger.Error("failed to pause job", map[string]interface{}{
				"jobId":       j.ID,
				"broadcastId": broadcastID,
				"phase":       j.Phase,
				"error":       opErr,
			})
			continue
		}
		paused++
	}

	metrics.QueuePauseOperations.WithLabelValues("pause").Add(float64(paused))
	q.logger.Info("broadcast jobs paused", map[string]interface{}{"broadcastId": broadcastID, "count": paused})
	return paused, nil
}

// parkWaiting re-enqueues a waiting job under a new id with the park delay.
// A waiting job cannot have its delay changed in place.
func (q *RedisQueue) parkWaiting(ctx context.Context, j *Job, now time.Time) error {
	removed, err := q.client.ZRem(ctx, q.keys.waiting(), j.ID).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		// Dequeued after the scan but before the paused flag held; mark it as in flight.
		parked := Park(*j, PhaseActive, now)
		return q.setField(ctx, j.ID, "pause", encodeState(parked.State))
	}

	parked := Park(*j, PhaseWaiting, now)
	parked.ID = fmt.Sprintf("paused_%s_%d", j.ID, now.UnixMilli())
	parked.Phase = PhaseDelayed
	parked.RunAt = now.Add(q.cfg.ParkDelay)

	pipe := q.client.TxPipeline()
	pipe.Del(ctx, q.keys.job(j.ID))
	pipe.SRem(ctx, q.keys.broadcast(j.Payload.BroadcastID), j.ID)
	q.add(ctx, pipe, &parked)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Resume(ctx context.Context, broadcastID string) (int, error) {
	ctx, span := observability.StartSpan(ctx, q.tracer, "queue.resume", attribute.String("broadcast.id", broadcastID))
	defer span.End()

	unlock, err := q.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	jobs, err := q.Jobs(ctx, broadcastID)
	if err != nil {
		return 0, err
	}

	now := q.now()
	resumed := 0
	for _, j := range jobs {
		if _, ok := j.IsParked(); !ok {
			continue
		}

		var opErr error
		switch j.Phase {
		case PhaseDelayed:
			fresh := Unpark(*j)
			fresh.ID = uuid.NewString()
			fresh.Phase = PhaseWaiting
			fresh.Priority = q.cfg.ResumePriority
			fresh.Attempts = 0
			fresh.MaxAttempts = q.cfg.ResumeAttempts
			fresh.Backoff = q.cfg.ResumeBackoff
			fresh.RunAt = now
			fresh.CreatedAt = now
			fresh.StartedAt = nil
			fresh.LastError = ""

			pipe := q.client.TxPipeline()
			q.drop(ctx, pipe, j.ID, broadcastID)
			q.add(ctx, pipe, &fresh)
			_, opErr = pipe.Exec(ctx)
		case PhaseActive:
			// Still running: the marker would otherwise park it again on retry.
			opErr = q.setField(ctx, j.ID, "pause", "")
		default:
			continue
		}
		if opErr != nil {
			q.logger.Error("failed to resume job", map[string]interface{}{
				"jobId":       j.ID,
				"broadcastId": broadcastID,
				"error":       opErr,
			})
			continue
		}
		resumed++
	}

	metrics.QueuePauseOperations.WithLabelValues("resume").Add(float64(resumed))
	q.logger.Info("broadcast jobs resumed", map[string]interface{}{"broadcastId": broadcastID, "count": resumed})
	return resumed, nil
}

func (q *RedisQueue) RemoveAll(ctx context.Context, broadcastID string) (int, error) {
	ctx, span := observability.StartSpan(ctx, q.tracer, "queue.remove_all", attribute.String("broadcast.id", broadcastID))
	defer span.End()

	unlock, err := q.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	ids, err := q.client.SMembers(ctx, q.keys.broadcast(broadcastID)).Result()
	if err != nil {
		return 0, errors.NewQueueOperationFailedError("remove", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		q.drop(ctx, pipe, id, broadcastID)
	}
	pipe.Del(ctx, q.keys.broadcast(broadcastID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.NewQueueOperationFailedError("remove", err)
	}

	metrics.QueuePauseOperations.WithLabelValues("remove").Add(float64(len(ids)))
	q.logger.Info("broadcast jobs removed", map[string]interface{}{"broadcastId": broadcastID, "count": len(ids)})
	return len(ids), nil
}

// Jobs returns every job currently indexed for the broadcast.
func (q *RedisQueue) Jobs(ctx context.Context, broadcastID string) ([]*Job, error) {
	ids, err := q.client.SMembers(ctx, q.keys.broadcast(broadcastID)).Result()
	if err != nil {
		return nil, errors.NewQueueOperationFailedError("list", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := q.load(ctx, id)
		if stderrors.Is(err, errJobGone) {
			q.client.SRem(ctx, q.keys.broadcast(broadcastID), id)
			continue
		}
		if err != nil {
			return nil, errors.NewQueueOperationFailedError("list", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// lock takes the in-process mutex and the cross-process Redis lock.
func (q *RedisQueue) lock(ctx context.Context) (func(), error) {
	q.mu.Lock()

	token := uuid.NewString()
	for {
		ok, err := q.client.SetNX(ctx, q.keys.lock(), token, q.cfg.LockTTL).Result()
		if err != nil {
			q.mu.Unlock()
			return nil, errors.NewQueueOperationFailedError("lock", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			q.mu.Unlock()
			return nil, errors.NewQueueOperationFailedError("lock", ctx.Err())
		case <-time.After(lockRetry):
		}
	}

	return func() {
		if err := releaseLockScript.Run(context.Background(), q.client, []string{q.keys.lock()}, token).Err(); err != nil {
			q.logger.Warn("failed to release queue lock", map[string]interface{}{"error": err})
		}
		q.mu.Unlock()
	}, nil
}

// ==========================
// Consumer
// ==========================

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	now := q.now().UnixMilli()
	id, err := dequeueScript.Run(ctx, q.client,
		[]string{q.keys.waiting(), q.keys.delayed(), q.keys.active(), q.keys.paused()},
		now, q.keys.jobPrefix(), q.cfg.ParkDelay.Milliseconds(), promoteLimit, priorityWeight,
	).Text()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueueOperationFailedError("dequeue", err)
	}

	j, err := q.load(ctx, id)
	if stderrors.Is(err, errJobGone) {
		q.client.ZRem(ctx, q.keys.active(), id)
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueueOperationFailedError("dequeue", err)
	}
	return j, nil
}

func (q *RedisQueue) Complete(ctx context.Context, j *Job) error {
	pipe := q.client.TxPipeline()
	q.drop(ctx, pipe, j.ID, j.Payload.BroadcastID)
	pipe.Incr(ctx, q.keys.completed())
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewQueueOperationFailedError("complete", err)
	}
	return nil
}

func (q *RedisQueue) Remove(ctx context.Context, j *Job) error {
	pipe := q.client.TxPipeline()
	q.drop(ctx, pipe, j.ID, j.Payload.BroadcastID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewQueueOperationFailedError("remove", err)
	}
	return nil
}

// Retry schedules another attempt after delay. A job marked parked while it
// ran is parked instead.
func (q *RedisQueue) Retry(ctx context.Context, j *Job, delay time.Duration, cause error) error {
	current, err := q.load(ctx, j.ID)
	if stderrors.Is(err, errJobGone) {
		return nil
	}
	if err != nil {
		return errors.NewQueueOperationFailedError("retry", err)
	}

	if _, parked := current.IsParked(); parked {
		// Markers only change under the lock; re-read there so a Resume that
		// cleared this one is not missed.
		unlock, err := q.lock(ctx)
		if err != nil {
			return err
		}
		defer unlock()
		current, err = q.load(ctx, j.ID)
		if stderrors.Is(err, errJobGone) {
			return nil
		}
		if err != nil {
			return errors.NewQueueOperationFailedError("retry", err)
		}
		if _, parked := current.IsParked(); parked {
			delay = q.cfg.ParkDelay
		}
	}
	runAt := q.now().Add(delay)

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.keys.active(), j.ID)
	pipe.HSet(ctx, q.keys.job(j.ID),
		"phase", string(PhaseDelayed),
		"run_at", strconv.FormatInt(runAt.UnixMilli(), 10),
		"last_error", errString(cause),
	)
	pipe.ZAdd(ctx, q.keys.delayed(), redis.Z{Score: float64(runAt.UnixMilli()), Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewQueueOperationFailedError("retry", err)
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, j *Job, cause error) error {
	exists, err := q.client.Exists(ctx, q.keys.job(j.ID)).Result()
	if err != nil {
		return errors.NewQueueOperationFailedError("fail", err)
	}
	if exists == 0 {
		return nil
	}

	now := q.now().UnixMilli()
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.keys.active(), j.ID)
	pipe.HSet(ctx, q.keys.job(j.ID),
		"phase", string(PhaseFailed),
		"last_error", errString(cause),
	)
	pipe.ZAdd(ctx, q.keys.failed(), redis.Z{Score: float64(now), Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewQueueOperationFailedError("fail", err)
	}
	return nil
}

// Park holds an active job back until its broadcast is resumed. It runs under
// the queue lock and asks stillPaused first, so it cannot interleave with
// Resume: either Resume finds the parked job, or the guard sees the broadcast
// running and the job goes straight back to waiting. A nil guard always parks.
func (q *RedisQueue) Park(ctx context.Context, j *Job, stillPaused ParkGuard) (bool, error) {
	unlock, err := q.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	current, err := q.load(ctx, j.ID)
	if stderrors.Is(err, errJobGone) {
		return false, nil
	}
	if err != nil {
		return false, errors.NewQueueOperationFailedError("park", err)
	}

	if stillPaused != nil {
		paused, err := stillPaused(ctx, current.Payload.BroadcastID)
		if err != nil {
			return false, errors.NewQueueOperationFailedError("park", err)
		}
		if !paused {
			return false, q.requeue(ctx, current)
		}
	}

	now := q.now()
	parked := Park(*current, current.Phase, now)
	runAt := now.Add(q.cfg.ParkDelay)

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.keys.active(), j.ID)
	pipe.HSet(ctx, q.keys.job(j.ID),
		"pause", encodeState(parked.State),
		"phase", string(PhaseDelayed),
		"run_at", strconv.FormatInt(runAt.UnixMilli(), 10),
	)
	pipe.ZAdd(ctx, q.keys.delayed(), redis.Z{Score: float64(runAt.UnixMilli()), Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.NewQueueOperationFailedError("park", err)
	}
	return true, nil
}

// requeue returns an active job to waiting without a marker. The attempt it
// was dequeued for is not counted.
func (q *RedisQueue) requeue(ctx context.Context, j *Job) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.keys.active(), j.ID)
	pipe.HSet(ctx, q.keys.job(j.ID), "pause", "", "phase", string(PhaseWaiting))
	if j.Attempts > 0 {
		pipe.HIncrBy(ctx, q.keys.job(j.ID), "attempts", -1)
	}
	pipe.ZAdd(ctx, q.keys.waiting(), redis.Z{Score: jobScore(j.Priority, j.CreatedAt), Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewQueueOperationFailedError("requeue", err)
	}
	return nil
}

// RecoverStalled returns active jobs that outlived StalledAfter to waiting.
// Parked ones go back to the park delay.
func (q *RedisQueue) RecoverStalled(ctx context.Context) (int, error) {
	if q.cfg.StalledAfter <= 0 {
		return 0, nil
	}
	now := q.now()
	cutoff := now.Add(-q.cfg.StalledAfter).UnixMilli()

	ids, err := q.client.ZRangeByScore(ctx, q.keys.active(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, errors.NewQueueOperationFailedError("recover", err)
	}

	recovered := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.keys.active(), id).Result()
		if err != nil || removed == 0 {
			continue
		}
		j, err := q.load(ctx, id)
		if err != nil {
			continue
		}

		pipe := q.client.TxPipeline()
		if _, parked := j.IsParked(); parked {
			runAt := now.Add(q.cfg.ParkDelay)
			pipe.HSet(ctx, q.keys.job(id), "phase", string(PhaseDelayed), "run_at", strconv.FormatInt(runAt.UnixMilli(), 10))
			pipe.ZAdd(ctx, q.keys.delayed(), redis.Z{Score: float64(runAt.UnixMilli()), Member: id})
		} else {
			pipe.HSet(ctx, q.keys.job(id), "phase", string(PhaseWaiting))
			pipe.ZAdd(ctx, q.keys.waiting(), redis.Z{Score: jobScore(j.Priority, j.CreatedAt), Member: id})
		}
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Error("failed to recover stalled job", map[string]interface{}{"jobId": id, "error": err})
			continue
		}
		recovered++
	}

	if recovered > 0 {
		q.logger.Warn("recovered stalled jobs", map[string]interface{}{"count": recovered})
	}
	return recovered, nil
}

func (q *RedisQueue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.ZCard(ctx, q.keys.waiting())
	delayed := pipe.ZCard(ctx, q.keys.delayed())
	active := pipe.ZCard(ctx, q.keys.active())
	failed := pipe.ZCard(ctx, q.keys.failed())
	completed := pipe.Get(ctx, q.keys.completed())
	if _, err := pipe.Exec(ctx); err != nil && !stderrors.Is(err, redis.Nil) {
		return Counts{}, errors.NewQueueOperationFailedError("counts", err)
	}

	c := Counts{
		Waiting: waiting.Val(),
		Delayed: delayed.Val(),
		Active:  active.Val(),
		Failed:  failed.Val(),
	}
	c.Completed, _ = completed.Int64()

	metrics.QueueJobs.WithLabelValues(string(PhaseWaiting)).Set(float64(c.Waiting))
	metrics.QueueJobs.WithLabelValues(string(PhaseDelayed)).Set(float64(c.Delayed))
	metrics.QueueJobs.WithLabelValues(string(PhaseActive)).Set(float64(c.Active))
	metrics.QueueJobs.WithLabelValues(string(PhaseFailed)).Set(float64(c.Failed))
	return c, nil
}

// Job loads a single job by id.
func (q *RedisQueue) Job(ctx context.Context, id string) (*Job, error) {
	return q.load(ctx, id)
}

// ==========================
// Encoding
// ==========================

// jobScore orders the waiting set: higher priority first, then FIFO.
func jobScore(priority int, enqueuedAt time.Time) float64 {
	return float64(enqueuedAt.UnixMilli() - int64(priority)*priorityWeight)
}

func (q *RedisQueue) setField(ctx context.Context, id, field, value string) error {
	return setFieldScript.Run(ctx, q.client, []string{q.keys.job(id)}, field, value).Err()
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Job, error) {
	vals, err := q.client.HGetAll(ctx, q.keys.job(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, errJobGone
	}
	if vals["payload"] == "" {
		// a settle raced a removal and left a partial hash behind
		q.client.Del(ctx, q.keys.job(id))
		return nil, errJobGone
	}
	return mapToJob(vals)
}

func jobToMap(j *Job) map[string]interface{} {
	payload, _ := json.Marshal(j.Payload)
	m := map[string]interface{}{
		"id":           j.ID,
		"name":         j.Name,
		"broadcast_id": j.Payload.BroadcastID,
		"payload":      string(payload),
		"pause":        encodeState(j.State),
		"phase":        string(j.Phase),
		"priority":     strconv.Itoa(j.Priority),
		"attempts":     strconv.Itoa(j.Attempts),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"backoff_type": j.Backoff.Type,
		"backoff_ms":   strconv.FormatInt(j.Backoff.Delay.Milliseconds(), 10),
		"run_at":       strconv.FormatInt(j.RunAt.UnixMilli(), 10),
		"created_at":   strconv.FormatInt(j.CreatedAt.UnixMilli(), 10),
		"last_error":   j.LastError,
	}
	if j.StartedAt != nil {
		m["started_at"] = strconv.FormatInt(j.StartedAt.UnixMilli(), 10)
	}
	return m
}

func mapToJob(m map[string]string) (*Job, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(m["payload"]), &payload); err != nil {
		return nil, fmt.Errorf("decode payload of job %s: %w", m["id"], err)
	}
	state, err := decodeState(m["pause"])
	if err != nil {
		return nil, err
	}

	priority, _ := strconv.Atoi(m["priority"])
	attempts, _ := strconv.Atoi(m["attempts"])
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])
	backoffMs, _ := strconv.ParseInt(m["backoff_ms"], 10, 64)

	j := &Job{
		ID:          m["id"],
		Name:        m["name"],
		Payload:     payload,
		State:       state,
		Phase:       Phase(m["phase"]),
		Priority:    priority,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Backoff:     BackoffPolicy{Type: m["backoff_type"], Delay: time.Duration(backoffMs) * time.Millisecond},
		RunAt:       msToTime(m["run_at"]),
		CreatedAt:   msToTime(m["created_at"]),
		LastError:   m["last_error"],
	}
	if v := m["started_at"]; v != "" {
		t := msToTime(v)
		j.StartedAt = &t
	}
	return j, nil
}

func msToTime(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
