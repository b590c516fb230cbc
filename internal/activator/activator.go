// Package activator starts scheduled broadcasts whose start date has arrived.
package activator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"broadcast-dispatch/internal/broadcast"
	"broadcast-dispatch/internal/common/config"
	"broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/common/logger"
	"broadcast-dispatch/internal/common/metrics"
	"broadcast-dispatch/internal/common/observability"
	"broadcast-dispatch/internal/models"
)

// Source is the slice of the store the activator reads and repairs.
type Source interface {
	ListDueBroadcasts(ctx context.Context, now time.Time) ([]*models.Broadcast, error)
	GetBroadcast(ctx context.Context, id string) (*models.Broadcast, error)
	TransitionBroadcast(ctx context.Context, id string, from, to models.BroadcastStatus) (bool, error)
}

// Starter is satisfied by broadcast.Service.
type Starter interface {
	Start(ctx context.Context, broadcastID string, opts ...broadcast.StartOption) (*broadcast.Result, error)
}

// Summary counts what one cycle did.
type Summary struct {
	CycleID  string `json:"cycleId"`
	Skipped  bool   `json:"skipped"`
	Due      int    `json:"due"`
	Started  int    `json:"started"`
	Rejected int    `json:"rejected"`
	Failed   int    `json:"failed"`
}

type Activator struct {
	source  Source
	starter Starter
	redis   *redis.Client
	logger  logger.Logger
	tracer  trace.Tracer
	now     func() time.Time

	spec      string
	loc       *time.Location
	window    time.Duration
	keyPrefix string
	timeout   time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

type Option func(*Activator)

// WithCycleLock dedupes cycles across processes through a per-cycle Redis key.
func WithCycleLock(client *redis.Client, keyPrefix string) Option {
	return func(a *Activator) {
		a.redis = client
		a.keyPrefix = keyPrefix
	}
}

func WithLogger(l logger.Logger) Option {
	return func(a *Activator) { a.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(a *Activator) { a.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(a *Activator) { a.now = now }
}

// WithCycleTimeout bounds a single cycle. Non-positive values keep the default.
func WithCycleTimeout(d time.Duration) Option {
	return func(a *Activator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// New validates the schedule spec and timezone.
func New(cfg config.SchedulerConfig, source Source, starter Starter, opts ...Option) (*Activator, error) {
	spec := cfg.Spec
	if spec == "" {
		spec = "@every 1m"
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler spec %q: %w", spec, err)
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, errors.NewInvalidTimezoneError(cfg.Timezone, err)
		}
	}

	a := &Activator{
		source:    source,
		starter:   starter,
		logger:    logger.NewNoOpLogger(),
		now:       time.Now,
		spec:      spec,
		loc:       loc,
		window:    cycleWindow(sched),
		keyPrefix: "dispatch",
		timeout:   5 * time.Minute,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithFields(map[string]interface{}{"component": "activator", "taskType": config.WorkerScheduledCheck})
	return a, nil
}

// cycleWindow is the period a cycle ID covers: the delay of an @every spec, a minute otherwise.
func cycleWindow(s cron.Schedule) time.Duration {
	if cd, ok := s.(cron.ConstantDelaySchedule); ok && cd.Delay > 0 {
		return cd.Delay
	}
	return time.Minute
}

// CycleID is the deterministic identifier of the cycle containing t.
func (a *Activator) CycleID(t time.Time) string {
	return config.WorkerScheduledCheck + ":" + strconv.FormatInt(t.UTC().Truncate(a.window).Unix(), 10)
}

// Start runs cycles on the cron schedule until ctx is done or Stop is called.
// Overlapping cycles are skipped.
func (a *Activator) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cron != nil {
		return
	}

	c := cron.New(
		cron.WithLocation(a.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	// spec was validated in New
	_, _ = c.AddFunc(a.spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		if _, err := a.RunOnce(runCtx); err != nil {
			a.logger.Error("scheduled activation cycle failed", map[string]interface{}{"error": err.Error()})
		}
	})
	c.Start()
	a.cron = c
	a.logger.Info("scheduled activator started", map[string]interface{}{
		"spec":     a.spec,
		"timezone": a.loc.String(),
	})

	go func() {
		<-ctx.Done()
		a.Stop()
	}()
}

// Stop waits for a running cycle to return.
func (a *Activator) Stop() {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		a.logger.Info("scheduled activator stopped", nil)
	}
}

// RunOnce activates every due broadcast. A failing broadcast never aborts the rest.
func (a *Activator) RunOnce(ctx context.Context) (*Summary, error) {
	now := a.now().UTC()
	sum := &Summary{CycleID: a.CycleID(now)}

	ctx, span := observability.StartSpan(ctx, a.tracer, "activator.cycle", attribute.String("cycle.id", sum.CycleID))
	defer span.End()

	acquired, err := a.claimCycle(ctx, sum.CycleID)
	if err != nil {
		metrics.SchedulerActivations.WithLabelValues("lock_error").Inc()
		return sum, err
	}
	if !acquired {
		sum.Skipped = true
		metrics.SchedulerActivations.WithLabelValues("skipped").Inc()
		a.logger.Debug("cycle already claimed", map[string]interface{}{"cycleId": sum.CycleID})
		return sum, nil
	}

	due, err := a.source.ListDueBroadcasts(ctx, now)
	if err != nil {
		return sum, err
	}
	sum.Due = len(due)
	if sum.Due == 0 {
		a.logger.Debug("no scheduled broadcasts due", map[string]interface{}{"cycleId": sum.CycleID})
		return sum, nil
	}

	a.logger.Info("activating scheduled broadcasts", map[string]interface{}{
		"cycleId": sum.CycleID,
		"due":     sum.Due,
	})
	for _, b := range due {
		if ctx.Err() != nil {
			break
		}
		switch a.activate(ctx, b) {
		case "started":
			sum.Started++
		case "rejected":
			sum.Rejected++
		default:
			sum.Failed++
		}
	}

	span.SetAttributes(attribute.Int("cycle.started", sum.Started), attribute.Int("cycle.failed", sum.Failed))
	return sum, nil
}

func (a *Activator) activate(ctx context.Context, b *models.Broadcast) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic while activating broadcast", map[string]interface{}{
				"broadcastId": b.ID,
				"panic":       fmt.Sprint(r),
			})
			a.markFailed(ctx, b.ID)
			outcome = "failed"
		}
		metrics.SchedulerActivations.WithLabelValues(outcome).Inc()
	}()

	fields := map[string]interface{}{
		"broadcastId": b.ID,
		"name":        b.Name,
		"startDate":   b.StartDate,
	}

	res, err := a.starter.Start(ctx, b.ID, broadcast.WithRollbackStatus(models.BroadcastFailed))
	if err != nil {
		fields["error"] = err.Error()
		if errors.IsValidation(err) || errors.IsNotFound(err) {
			a.logger.Warn("scheduled broadcast could not be started", fields)
			return "failed"
		}
		a.logger.Error("unexpected error starting scheduled broadcast", fields)
		a.markFailed(ctx, b.ID)
		return "failed"
	}
	if !res.Success {
		// Nothing changes a rejected broadcast on its own; without this it
		// would be polled again every cycle.
		fields["reason"] = res.Message
		a.logger.Warn("scheduled broadcast start rejected", fields)
		a.markFailed(ctx, b.ID)
		return "rejected"
	}

	fields["queued"] = res.Affected
	a.logger.Info("scheduled broadcast started", fields)
	return "started"
}

// markFailed moves the broadcast to FAILED only if it is still SCHEDULED.
func (a *Activator) markFailed(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	cur, err := a.source.GetBroadcast(ctx, id)
	if err != nil {
		a.logger.Error("failed to re-read broadcast", map[string]interface{}{"broadcastId": id, "error": err.Error()})
		return
	}
	if cur.Status != models.BroadcastScheduled {
		return
	}
	ok, err := a.source.TransitionBroadcast(ctx, id, models.BroadcastScheduled, models.BroadcastFailed)
	if err != nil {
		a.logger.Error("failed to mark broadcast as failed", map[string]interface{}{"broadcastId": id, "error": err.Error()})
		return
	}
	if ok {
		metrics.BroadcastTransitions.WithLabelValues(string(models.BroadcastScheduled), string(models.BroadcastFailed)).Inc()
		a.logger.Warn("scheduled broadcast marked as failed", map[string]interface{}{"broadcastId": id})
	}
}

// claimCycle takes the cycle key with SETNX. Without Redis every cycle runs.
func (a *Activator) claimCycle(ctx context.Context, cycleID string) (bool, error) {
	if a.redis == nil {
		return true, nil
	}
	key := a.keyPrefix + ":activator:" + cycleID
	ok, err := a.redis.SetNX(ctx, key, strconv.FormatInt(a.now().UnixMilli(), 10), a.window).Result()
	if err != nil {
		return false, errors.NewQueueOperationFailedError("claim activation cycle", err)
	}
	return ok, nil
}
