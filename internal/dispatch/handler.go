// Package dispatch consumes dispatch jobs: render, send, record the outcome.
package dispatch

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"broadcast-dispatch/internal/common/config"
	"broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/common/logger"
	"broadcast-dispatch/internal/hooks"
	"broadcast-dispatch/internal/models"
	"broadcast-dispatch/internal/queue"
	"broadcast-dispatch/internal/template"
	"broadcast-dispatch/internal/transport"
)

const TaskType = config.WorkerMessageDispatch

// Outcome is how a job attempt was settled.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeParked    Outcome = "parked"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeRetried   Outcome = "retried"
	OutcomeFailed    Outcome = "failed"
)

// Store is the slice of the store the handler needs.
type Store interface {
	GetBroadcast(ctx context.Context, id string) (*models.Broadcast, error)
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	UpdateContactStatus(ctx context.Context, broadcastID, contactID string, to models.ContactStatus, messageID, errMsg string) (bool, error)
}

// CompletionChecker is satisfied by completion.Detector.
type CompletionChecker interface {
	Check(ctx context.Context, broadcastID string) (bool, error)
}

type Config struct {
	// Timeout bounds one attempt, gateway call included.
	Timeout time.Duration
}

type Handler struct {
	config    *Config
	store     Store
	transport transport.Transport
	engine    *template.Engine
	checker   CompletionChecker
	notifier  hooks.Notifier
	limiter   *rate.Limiter
	logger    logger.Logger
}

type HandlerOption func(*Handler)

func WithCompletionChecker(c CompletionChecker) HandlerOption {
	return func(h *Handler) { h.checker = c }
}

func WithNotifier(n hooks.Notifier) HandlerOption {
	return func(h *Handler) { h.notifier = n }
}

// WithRateLimiter caps gateway sends.
func WithRateLimiter(l *rate.Limiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

func WithEngine(e *template.Engine) HandlerOption {
	return func(h *Handler) { h.engine = e }
}

func NewHandler(cfg *Config, st Store, tr transport.Transport, log logger.Logger, opts ...HandlerOption) *Handler {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	h := &Handler{
		config:    cfg,
		store:     st,
		transport: tr,
		engine:    template.New(),
		notifier:  hooks.NopNotifier{},
		logger:    log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Execute runs one attempt. A nil error comes with sent, parked or discarded;
// an error is left to the pool's retry decision.
func (h *Handler) Execute(ctx context.Context, j *queue.Job) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	p := j.Payload
	fields := map[string]interface{}{
		"jobId":       j.ID,
		"broadcastId": p.BroadcastID,
		"contactId":   p.ContactID,
		"attempt":     j.Attempts,
	}

	if _, parked := j.IsParked(); parked {
		h.logger.Debug("job carries a pause marker", fields)
		return OutcomeParked, nil
	}

	b, err := h.store.GetBroadcast(ctx, p.BroadcastID)
	if errors.IsNotFound(err) {
		h.logger.Warn("broadcast no longer exists, discarding job", fields)
		return OutcomeDiscarded, nil
	}
	if err != nil {
		return "", err
	}
	switch {
	case b.Status == models.BroadcastPaused:
		h.logger.Debug("broadcast is paused", fields)
		return OutcomeParked, nil
	case b.Status != models.BroadcastInProgress || b.IsDeleted():
		fields["status"] = string(b.Status)
		h.logger.Info("broadcast is not running, discarding job", fields)
		return OutcomeDiscarded, nil
	}

	body, err := h.render(ctx, p, fields)
	if err != nil {
		return "", err
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return "", errors.NewTransportFailedError(err)
		}
	}

	receipt, err := h.transport.Send(ctx, transport.Message{
		BroadcastID: p.BroadcastID,
		ContactID:   p.ContactID,
		Recipient:   p.Recipient,
		Body:        body,
		Metadata:    p.Metadata,
	})
	if err != nil {
		return "", err
	}

	settleCtx := context.WithoutCancel(ctx)
	changed, err := h.store.UpdateContactStatus(settleCtx, p.BroadcastID, p.ContactID, models.ContactSent, receipt.MessageID, "")
	if err != nil {
		// the message is out; retrying would send it twice
		fields["error"] = err.Error()
		h.logger.Error("message sent but status update failed", fields)
		return OutcomeSent, nil
	}
	if !changed {
		h.logger.Debug("delivery record already past sent", fields)
	}

	if receipt.Delivered {
		if _, err := h.store.UpdateContactStatus(settleCtx, p.BroadcastID, p.ContactID, models.ContactDelivered, "", ""); err != nil {
			fields["error"] = err.Error()
			h.logger.Warn("failed to record delivery", fields)
		}
		h.checkCompletion(settleCtx, p.BroadcastID)
	}

	fields["messageId"] = receipt.MessageID
	h.logger.Info("message sent", fields)
	return OutcomeSent, nil
}

// render resolves the message body. Missing variables are logged and their
// placeholders left in place; the message is still sent.
func (h *Handler) render(ctx context.Context, p queue.Payload, fields map[string]interface{}) (string, error) {
	tpl := &models.Template{ID: p.TemplateID, Content: p.Content}
	if p.TemplateID != "" {
		stored, err := h.store.GetTemplate(ctx, p.TemplateID)
		switch {
		case err == nil:
			tpl.Variables = stored.Variables
			if tpl.Content == "" {
				tpl.Content = stored.Content
			}
		case errors.IsNotFound(err):
			if tpl.Content == "" {
				return "", err
			}
		default:
			return "", err
		}
	}

	vars := template.WithDefaults(tpl, p.Variables)
	if _, ok := vars["name"]; !ok && p.RecipientName != "" {
		vars["name"] = p.RecipientName
	}

	res := h.engine.Process(tpl, vars)
	if !res.FullyProcessed {
		warn := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			warn[k] = v
		}
		warn["missingVariables"] = res.MissingVariables
		h.logger.Warn("sending partially rendered message", warn)
	}
	return res.Content, nil
}

// Fail records a terminal failure for the job's contact.
func (h *Handler) Fail(ctx context.Context, j *queue.Job, cause error) {
	p := j.Payload
	ctx = context.WithoutCancel(ctx)

	msg := ""
	if cause != nil {
		stdErr := errors.Normalize(cause)
		msg = stdErr.Message
		if stdErr.Details != "" {
			msg += ": " + stdErr.Details
		}
	}
	if _, err := h.store.UpdateContactStatus(ctx, p.BroadcastID, p.ContactID, models.ContactFailed, "", msg); err != nil {
		h.logger.Error("failed to record contact failure", map[string]interface{}{
			"jobId":       j.ID,
			"broadcastId": p.BroadcastID,
			"contactId":   p.ContactID,
			"error":       err.Error(),
		})
		return
	}
	h.notifier.JobFailed(ctx, p.BroadcastID, p.ContactID, cause)
	h.checkCompletion(ctx, p.BroadcastID)
}

func (h *Handler) checkCompletion(ctx context.Context, broadcastID string) {
	if h.checker == nil {
		return
	}
	if _, err := h.checker.Check(ctx, broadcastID); err != nil {
		h.logger.Warn("completion check failed", map[string]interface{}{
			"broadcastId": broadcastID,
			"error":       err.Error(),
		})
	}
}

// IsPaused reports whether the broadcast is currently PAUSED. A missing
// broadcast is not paused; the next attempt discards its job.
func (h *Handler) IsPaused(ctx context.Context, broadcastID string) (bool, error) {
	b, err := h.store.GetBroadcast(ctx, broadcastID)
	if errors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return b.Status == models.BroadcastPaused && !b.IsDeleted(), nil
}
