// internal/broadcast/lifecycle.go
package broadcast

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/common/observability"
	"broadcast-dispatch/internal/models"
	"broadcast-dispatch/internal/queue"
)

type startConfig struct {
	rollback models.BroadcastStatus
}

type StartOption func(*startConfig)

// WithRollbackStatus sets the status a failed start falls back to. Defaults to DRAFT.
func WithRollbackStatus(s models.BroadcastStatus) StartOption {
	return func(c *startConfig) { c.rollback = s }
}

// Start moves the broadcast to IN_PROGRESS and enqueues one job per contact
// using the most recent template.
func (s *Service) Start(ctx context.Context, broadcastID string, opts ...StartOption) (*Result, error) {
	cfg := startConfig{rollback: models.BroadcastDraft}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := observability.StartSpan(ctx, s.tracer, "broadcast.start", attribute.String("broadcast.id", broadcastID))
	defer span.End()

	b, err := s.store.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b.IsDeleted() {
		return rejected("broadcast was canceled and cannot be started"), nil
	}
	switch {
	case b.Status == models.BroadcastInProgress:
		return rejected("broadcast is already in progress"), nil
	case b.Status == models.BroadcastCompleted:
		return rejected("broadcast is already completed"), nil
	case b.Status == models.BroadcastCanceled:
		return rejected("broadcast was canceled and cannot be started"), nil
	case b.Status == models.BroadcastPaused:
		return rejected("broadcast is paused, resume it instead"), nil
	case !b.Status.CanStart():
		return rejected(fmt.Sprintf("broadcast cannot be started from %s", b.Status)), nil
	}

	tpl, err := s.store.LatestTemplate(ctx, broadcastID)
	if errors.HasCode(err, errors.ErrCodeTemplateNotFound) {
		return rejected("broadcast has no template to send"), nil
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.transition(ctx, broadcastID, b.Status, models.BroadcastInProgress)
	if err != nil {
		return nil, err
	}
	if !ok {
		return rejected("broadcast status changed concurrently"), nil
	}

	queued, err := s.enqueueAll(ctx, b, tpl)
	if err != nil {
		s.rollbackStart(ctx, broadcastID, cfg.rollback, err)
		span.RecordError(err)
		return nil, err
	}

	s.notifier.StatusChanged(ctx, broadcastID, models.BroadcastInProgress, map[string]interface{}{
		"templateId":     tpl.ID,
		"messagesQueued": queued,
	})
	if queued == 0 {
		s.checkCompletion(ctx, broadcastID)
	}

	span.SetAttributes(attribute.Int("broadcast.queued", queued))
	return &Result{
		Success:  true,
		Message:  fmt.Sprintf("broadcast started, %d messages queued", queued),
		Affected: queued,
	}, nil
}

func (s *Service) enqueueAll(ctx context.Context, b *models.Broadcast, tpl *models.Template) (int, error) {
	if _, err := s.store.ResetBroadcastContacts(ctx, b.ID); err != nil {
		return 0, err
	}
	contacts, err := s.store.ListBroadcastContacts(ctx, b.ID)
	if err != nil {
		return 0, err
	}

	name := tpl.Name
	if name == "" {
		name = defaultTemplateName
	}
	meta := queue.NewMetadata(queue.TemplateMessage{Name: name, LanguageCode: s.languageCode})

	queued := 0
	for _, bc := range contacts {
		if bc.Contact == nil {
			s.logger.Warn("delivery record without contact, skipping", map[string]interface{}{
				"broadcastId": b.ID,
				"contactId":   bc.ContactID,
			})
			continue
		}
		recipientName := bc.RecipientName()
		payload := queue.Payload{
			BroadcastID:   b.ID,
			ContactID:     bc.ContactID,
			Recipient:     bc.Contact.Phone,
			RecipientName: recipientName,
			TemplateID:    tpl.ID,
			Variables:     map[string]interface{}{"name": recipientName},
			Content:       tpl.Content,
			Metadata:      meta,
		}
		if _, err := s.queue.Enqueue(ctx, payload, queue.Options{}); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// rollbackStart drops jobs already queued by the failed start and moves the
// broadcast to the rollback status.
func (s *Service) rollbackStart(ctx context.Context, broadcastID string, to models.BroadcastStatus, cause error) {
	fields := map[string]interface{}{
		"broadcastId": broadcastID,
		"rollbackTo":  string(to),
		"error":       cause.Error(),
	}
	s.logger.Error("broadcast start failed, rolling back", fields)
	ctx = context.WithoutCancel(ctx)

	if n, err := s.queue.RemoveAll(ctx, broadcastID); err != nil {
		s.logger.Warn("failed to remove partially queued jobs", map[string]interface{}{
			"broadcastId": broadcastID,
			"error":       err.Error(),
		})
	} else if n > 0 {
		s.logger.Info("removed partially queued jobs", map[string]interface{}{"broadcastId": broadcastID, "removed": n})
	}

	ok, err := s.transition(ctx, broadcastID, models.BroadcastInProgress, to)
	if err != nil || !ok {
		s.logger.Error("failed to roll back broadcast status", map[string]interface{}{
			"broadcastId": broadcastID,
			"rollbackTo":  string(to),
			"error":       errString(err),
		})
		return
	}
	s.notifier.StatusChanged(ctx, broadcastID, to, map[string]interface{}{"error": cause.Error()})
}

// Pause stops dispatch of the broadcast's pending jobs. Jobs already being
// sent finish; everything else is parked until Resume.
func (s *Service) Pause(ctx context.Context, broadcastID string) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, s.tracer, "broadcast.pause", attribute.String("broadcast.id", broadcastID))
	defer span.End()

	b, err := s.store.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BroadcastInProgress {
		return rejected("broadcast is not in progress"), nil
	}

	ok, err := s.transition(ctx, broadcastID, models.BroadcastInProgress, models.BroadcastPaused)
	if err != nil {
		return nil, err
	}
	if !ok {
		return rejected("broadcast status changed concurrently"), nil
	}

	// Workers park jobs of a PAUSED broadcast on their own, so a failed queue
	// pass leaves the status in place.
	parked, err := s.queue.Pause(ctx, broadcastID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.notifier.StatusChanged(ctx, broadcastID, models.BroadcastPaused, map[string]interface{}{"jobsParked": parked})
	return &Result{
		Success:  true,
		Message:  fmt.Sprintf("broadcast paused, %d jobs parked", parked),
		Affected: parked,
	}, nil
}

// Resume re-enqueues the parked jobs of a paused broadcast.
func (s *Service) Resume(ctx context.Context, broadcastID string) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, s.tracer, "broadcast.resume", attribute.String("broadcast.id", broadcastID))
	defer span.End()

	b, err := s.store.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BroadcastPaused {
		return rejected("broadcast is not paused"), nil
	}

	ok, err := s.transition(ctx, broadcastID, models.BroadcastPaused, models.BroadcastInProgress)
	if err != nil {
		return nil, err
	}
	if !ok {
		return rejected("broadcast status changed concurrently"), nil
	}

	resumed, err := s.queue.Resume(ctx, broadcastID)
	if err != nil {
		span.RecordError(err)
		if _, rbErr := s.transition(ctx, broadcastID, models.BroadcastInProgress, models.BroadcastPaused); rbErr != nil {
			s.logger.Error("failed to restore paused status", map[string]interface{}{
				"broadcastId": broadcastID,
				"error":       rbErr.Error(),
			})
		}
		return nil, err
	}

	s.notifier.StatusChanged(ctx, broadcastID, models.BroadcastInProgress, map[string]interface{}{"jobsResumed": resumed})
	// receipts that arrived while paused may have settled the last contact
	s.checkCompletion(ctx, broadcastID)

	return &Result{
		Success:  true,
		Message:  fmt.Sprintf("broadcast resumed, %d jobs re-queued", resumed),
		Affected: resumed,
	}, nil
}

// Cancel soft-deletes the broadcast: status CANCELED, history kept, queued jobs removed.
func (s *Service) Cancel(ctx context.Context, broadcastID string) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, s.tracer, "broadcast.cancel", attribute.String("broadcast.id", broadcastID))
	defer span.End()

	b, err := s.store.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b.IsDeleted() || b.Status.IsTerminal() {
		return rejected(fmt.Sprintf("broadcast is %s and cannot be canceled", b.Status)), nil
	}
	if !models.CanTransition(b.Status, models.BroadcastCanceled) {
		return rejected(fmt.Sprintf("broadcast cannot be canceled from %s", b.Status)), nil
	}

	ok, err := s.store.CancelBroadcast(ctx, broadcastID, b.Status, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return rejected("broadcast status changed concurrently"), nil
	}
	s.recordTransition(broadcastID, b.Status, models.BroadcastCanceled)

	// Workers discard jobs of a canceled broadcast, so leftovers are harmless.
	removed, err := s.queue.RemoveAll(ctx, broadcastID)
	if err != nil {
		s.logger.Warn("failed to remove jobs of canceled broadcast", map[string]interface{}{
			"broadcastId": broadcastID,
			"error":       err.Error(),
		})
	}

	s.notifier.StatusChanged(ctx, broadcastID, models.BroadcastCanceled, map[string]interface{}{"jobsRemoved": removed})
	return &Result{
		Success:  true,
		Message:  fmt.Sprintf("broadcast canceled, %d jobs removed", removed),
		Affected: removed,
	}, nil
}

// Delete purges the broadcast, its delivery records and templates, regardless of status.
func (s *Service) Delete(ctx context.Context, broadcastID string) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, s.tracer, "broadcast.delete", attribute.String("broadcast.id", broadcastID))
	defer span.End()

	if _, err := s.store.GetBroadcast(ctx, broadcastID); err != nil {
		return nil, err
	}

	removed, err := s.queue.RemoveAll(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteBroadcast(ctx, broadcastID); err != nil {
		return nil, err
	}

	s.logger.Info("broadcast deleted", map[string]interface{}{
		"broadcastId": broadcastID,
		"jobsRemoved": removed,
	})
	return &Result{
		Success:  true,
		Message:  fmt.Sprintf("broadcast deleted, %d jobs removed", removed),
		Affected: removed,
	}, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
