package activator

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcast-dispatch/internal/broadcast"
	"broadcast-dispatch/internal/common/config"
	stderrors "broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/common/logger"
	"broadcast-dispatch/internal/models"
	"broadcast-dispatch/internal/queue"
	"broadcast-dispatch/internal/store"
)

var cycleTime = time.Date(2026, 5, 4, 10, 0, 30, 0, time.UTC)

// MockStarter returns per-broadcast results and records calls.
type MockStarter struct {
	mu    sync.Mutex
	calls []string

	StartFunc func(ctx context.Context, id string) (*broadcast.Result, error)
}

func (m *MockStarter) Start(ctx context.Context, id string, _ ...broadcast.StartOption) (*broadcast.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, id)
	m.mu.Unlock()
	return m.StartFunc(ctx, id)
}

func seedScheduled(t *testing.T, st *store.MemoryStore, name string, startAt time.Time) string {
	t.Helper()
	b := &models.Broadcast{Name: name, Status: models.BroadcastScheduled, StartDate: &startAt}
	require.NoError(t, st.CreateBroadcast(context.Background(), b))
	return b.ID
}

func newTestActivator(t *testing.T, st Source, starter Starter, opts ...Option) *Activator {
	t.Helper()
	opts = append([]Option{
		WithLogger(logger.NewTestLogger(t)),
		WithClock(func() time.Time { return cycleTime }),
	}, opts...)
	a, err := New(config.SchedulerConfig{Spec: "@every 1m", Timezone: "UTC"}, st, starter, opts...)
	require.NoError(t, err)
	return a
}

// ==========================
// Construction
// ==========================

func TestNew_Validation(t *testing.T) {
	st := store.NewMemoryStore()

	_, err := New(config.SchedulerConfig{Spec: "every minute"}, st, &MockStarter{})
	assert.Error(t, err)

	_, err = New(config.SchedulerConfig{Spec: "@every 1m", Timezone: "Nowhere/City"}, st, &MockStarter{})
	assert.True(t, stderrors.HasCode(err, stderrors.ErrCodeInvalidTimezone))

	a, err := New(config.SchedulerConfig{Spec: "*/5 * * * *"}, st, &MockStarter{})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, a.window)
}

func TestActivator_CycleID(t *testing.T) {
	a := newTestActivator(t, store.NewMemoryStore(), &MockStarter{})

	first := a.CycleID(time.Date(2026, 5, 4, 10, 0, 1, 0, time.UTC))
	same := a.CycleID(time.Date(2026, 5, 4, 10, 0, 59, 0, time.UTC))
	next := a.CycleID(time.Date(2026, 5, 4, 10, 1, 0, 0, time.UTC))

	assert.Equal(t, first, same)
	assert.NotEqual(t, first, next)
	assert.Contains(t, first, config.WorkerScheduledCheck)
}

// ==========================
// RunOnce
// ==========================

func TestActivator_RunOnceStartsDueBroadcasts(t *testing.T) {
	st := store.NewMemoryStore()
	due := seedScheduled(t, st, "due", cycleTime.Add(-time.Minute))
	exact := seedScheduled(t, st, "exact", cycleTime)
	seedScheduled(t, st, "future", cycleTime.Add(time.Hour))

	starter := &MockStarter{StartFunc: func(context.Context, string) (*broadcast.Result, error) {
		return &broadcast.Result{Success: true, Affected: 3}, nil
	}}
	a := newTestActivator(t, st, starter)

	sum, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Due)
	assert.Equal(t, 2, sum.Started)
	assert.ElementsMatch(t, []string{due, exact}, starter.calls)
}

func TestActivator_FailureIsIsolated(t *testing.T) {
	st := store.NewMemoryStore()
	broken := seedScheduled(t, st, "broken", cycleTime.Add(-2*time.Minute))
	healthy := seedScheduled(t, st, "healthy", cycleTime.Add(-time.Minute))

	starter := &MockStarter{StartFunc: func(_ context.Context, id string) (*broadcast.Result, error) {
		if id == broken {
			return nil, errors.New("connection reset")
		}
		return &broadcast.Result{Success: true}, nil
	}}
	a := newTestActivator(t, st, starter)

	sum, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Started)
	assert.Equal(t, 1, sum.Failed)
	assert.Contains(t, starter.calls, healthy)

	b, err := st.GetBroadcast(context.Background(), broken)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastFailed, b.Status)
}

func TestActivator_PanicIsIsolated(t *testing.T) {
	st := store.NewMemoryStore()
	id := seedScheduled(t, st, "panics", cycleTime.Add(-time.Minute))

	starter := &MockStarter{StartFunc: func(context.Context, string) (*broadcast.Result, error) {
		panic("nil template")
	}}
	a := newTestActivator(t, st, starter)

	sum, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	b, err := st.GetBroadcast(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastFailed, b.Status)
}

func TestActivator_ValidationErrorLeavesStatus(t *testing.T) {
	st := store.NewMemoryStore()
	id := seedScheduled(t, st, "invalid", cycleTime.Add(-time.Minute))

	starter := &MockStarter{StartFunc: func(context.Context, string) (*broadcast.Result, error) {
		return nil, stderrors.NewValidationError("bad payload")
	}}
	a := newTestActivator(t, st, starter)

	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	b, err := st.GetBroadcast(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastScheduled, b.Status)
}

func TestActivator_RejectedStartIsNotRepolled(t *testing.T) {
	st := store.NewMemoryStore()
	id := seedScheduled(t, st, "no template", cycleTime.Add(-time.Minute))

	starter := &MockStarter{StartFunc: func(context.Context, string) (*broadcast.Result, error) {
		return &broadcast.Result{Success: false, Message: "broadcast has no template to send"}, nil
	}}
	a := newTestActivator(t, st, starter)

	sum, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Rejected)

	b, err := st.GetBroadcast(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastFailed, b.Status)
}

func TestActivator_AlreadyStartedIsNotFailed(t *testing.T) {
	st := store.NewMemoryStore()
	id := seedScheduled(t, st, "raced", cycleTime.Add(-time.Minute))

	starter := &MockStarter{StartFunc: func(ctx context.Context, id string) (*broadcast.Result, error) {
		// a manual start won the race
		_, err := st.TransitionBroadcast(ctx, id, models.BroadcastScheduled, models.BroadcastInProgress)
		require.NoError(t, err)
		return &broadcast.Result{Success: false, Message: "broadcast status changed concurrently"}, nil
	}}
	a := newTestActivator(t, st, starter)

	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	b, err := st.GetBroadcast(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastInProgress, b.Status)
}

// ==========================
// Cycle lock
// ==========================

func TestActivator_CycleLockDedupesDoubleFire(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	st := store.NewMemoryStore()
	seedScheduled(t, st, "due", cycleTime.Add(-time.Minute))

	starter := &MockStarter{StartFunc: func(context.Context, string) (*broadcast.Result, error) {
		return &broadcast.Result{Success: true}, nil
	}}
	first := newTestActivator(t, st, starter, WithCycleLock(client, "test"))
	second := newTestActivator(t, st, starter, WithCycleLock(client, "test"))

	sum1, err := first.RunOnce(context.Background())
	require.NoError(t, err)
	sum2, err := second.RunOnce(context.Background())
	require.NoError(t, err)

	assert.False(t, sum1.Skipped)
	assert.True(t, sum2.Skipped)
	assert.Len(t, starter.calls, 1)
	assert.True(t, mr.Exists("test:activator:"+sum1.CycleID))

	mr.FastForward(time.Minute)
	assert.False(t, mr.Exists("test:activator:"+sum1.CycleID))
}

func TestActivator_CycleLockError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	st := store.NewMemoryStore()
	seedScheduled(t, st, "due", cycleTime.Add(-time.Minute))

	starter := &MockStarter{StartFunc: func(context.Context, string) (*broadcast.Result, error) {
		t.Fatal("must not start without the cycle lock")
		return nil, nil
	}}
	a := newTestActivator(t, st, starter, WithCycleLock(client, "test"))

	key := "test:activator:" + a.CycleID(cycleTime)
	mock.ExpectSetNX(key, strconv.FormatInt(cycleTime.UnixMilli(), 10), time.Minute).SetErr(errors.New("READONLY"))

	_, err := a.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, stderrors.HasCode(err, stderrors.ErrCodeQueueOperationFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// End to end with the broadcast service
// ==========================

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, queue.Payload, queue.Options) (string, error) { return "j", nil }
func (nopQueue) Pause(context.Context, string) (int, error)                            { return 0, nil }
func (nopQueue) Resume(context.Context, string) (int, error)                           { return 0, nil }
func (nopQueue) RemoveAll(context.Context, string) (int, error)                        { return 0, nil }

func TestActivator_StartsThroughService(t *testing.T) {
	st := store.NewMemoryStore()
	svc := broadcast.NewService(st, nopQueue{},
		broadcast.WithLogger(logger.NewTestLogger(t)),
		broadcast.WithClock(func() time.Time { return cycleTime.Add(-time.Hour) }),
	)
	res, err := svc.Create(context.Background(), broadcast.CreateInput{
		Name:      "Promo A",
		StartDate: cycleTime.Add(-time.Minute).Format(time.RFC3339),
		Contacts:  []models.NewContactInput{{Name: "Ana", Phone: "+5511900000001"}},
		Template:  &models.NewTemplateInput{Name: "promo", Content: "Hi {{name}}"},
	})
	require.NoError(t, err)
	require.Equal(t, models.BroadcastScheduled, res.Broadcast.Status)

	a := newTestActivator(t, st, svc)
	sum, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Started)

	b, err := st.GetBroadcast(context.Background(), res.Broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastInProgress, b.Status)
}
