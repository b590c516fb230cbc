// Package broadcast implements the commands that drive a campaign through its lifecycle.
package broadcast

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"broadcast-dispatch/internal/common/logger"
	"broadcast-dispatch/internal/common/metrics"
	"broadcast-dispatch/internal/hooks"
	"broadcast-dispatch/internal/models"
	"broadcast-dispatch/internal/queue"
	"broadcast-dispatch/internal/store"
)

const (
	defaultTemplateName = "default_template"
	defaultLanguageCode = "pt_BR"
)

// CompletionChecker is satisfied by completion.Detector.
type CompletionChecker interface {
	Check(ctx context.Context, broadcastID string) (bool, error)
}

type noopChecker struct{}

func (noopChecker) Check(context.Context, string) (bool, error) { return false, nil }

// Result is the outcome of a lifecycle command. A rejected command has
// Success false and a nil error.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Affected is the number of jobs queued, parked, resumed or removed.
	Affected int `json:"affected"`
}

func rejected(msg string) *Result {
	return &Result{Success: false, Message: msg}
}

type Service struct {
	store    store.Store
	queue    queue.Service
	notifier hooks.Notifier
	checker  CompletionChecker
	logger   logger.Logger
	tracer   trace.Tracer
	now      func() time.Time

	defaultTimezone string
	languageCode    string
}

type Option func(*Service)

func WithNotifier(n hooks.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithCompletionChecker(c CompletionChecker) Option {
	return func(s *Service) { s.checker = c }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaultTimezone sets the zone used for start dates given without one.
func WithDefaultTimezone(tz string) Option {
	return func(s *Service) { s.defaultTimezone = tz }
}

// WithLanguageCode sets the language code stamped on template messages.
func WithLanguageCode(code string) Option {
	return func(s *Service) { s.languageCode = code }
}

func NewService(st store.Store, q queue.Service, opts ...Option) *Service {
	s := &Service{
		store:           st,
		queue:           q,
		notifier:        hooks.NopNotifier{},
		checker:         noopChecker{},
		logger:          logger.NewNoOpLogger(),
		now:             time.Now,
		defaultTimezone: "UTC",
		languageCode:    defaultLanguageCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(map[string]interface{}{"component": "broadcast"})
	return s
}

// transition applies from -> to if the state machine and the stored row both allow it.
func (s *Service) transition(ctx context.Context, id string, from, to models.BroadcastStatus) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, nil
	}
	ok, err := s.store.TransitionBroadcast(ctx, id, from, to)
	if err != nil || !ok {
		return false, err
	}
	s.recordTransition(id, from, to)
	return true, nil
}

func (s *Service) recordTransition(id string, from, to models.BroadcastStatus) {
	metrics.BroadcastTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Info("broadcast status changed", map[string]interface{}{
		"broadcastId": id,
		"from":        string(from),
		"to":          string(to),
	})
}

func (s *Service) checkCompletion(ctx context.Context, broadcastID string) {
	if _, err := s.checker.Check(ctx, broadcastID); err != nil {
		s.logger.Warn("completion check failed", map[string]interface{}{
			"broadcastId": broadcastID,
			"error":       err.Error(),
		})
	}
}
