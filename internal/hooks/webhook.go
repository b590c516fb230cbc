// internal/hooks/webhook.go
package hooks

import (
	"context"
	"strings"
	"time"

	"broadcast-dispatch/internal/common/http"
	"broadcast-dispatch/internal/common/logger"
	"broadcast-dispatch/internal/models"
)

// Event is the webhook body.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// StatusData is the payload of status events.
type StatusData struct {
	BroadcastID string                 `json:"broadcastId"`
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// JobFailedData is the payload of a per-contact failure event.
type JobFailedData struct {
	BroadcastID string    `json:"broadcastId"`
	ContactID   string    `json:"contactId"`
	Error       string    `json:"error"`
	Timestamp   time.Time `json:"timestamp"`
}

// WebhookNotifier posts events to a single configured URL.
type WebhookNotifier struct {
	client  *http.Client
	url     string
	timeout time.Duration
	logger  logger.Logger
	now     func() time.Time
}

func NewWebhookNotifier(url string, timeout time.Duration, log logger.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		client:  http.NewClient(timeout),
		url:     url,
		timeout: timeout,
		logger:  log.WithFields(map[string]interface{}{"component": "webhook"}),
		now:     time.Now,
	}
}

// StatusChanged sends statusUpdate, plus started/completed/failed for those statuses.
func (w *WebhookNotifier) StatusChanged(ctx context.Context, broadcastID string, status models.BroadcastStatus, details map[string]interface{}) {
	data := StatusData{
		BroadcastID: broadcastID,
		Status:      strings.ToUpper(string(status)),
		Timestamp:   w.now().UTC(),
		Details:     details,
	}
	w.send(ctx, EventStatusUpdate, data)

	switch status {
	case models.BroadcastInProgress:
		w.send(ctx, EventStarted, data)
	case models.BroadcastCompleted:
		w.send(ctx, EventCompleted, data)
	case models.BroadcastFailed:
		w.send(ctx, EventFailed, data)
	}
}

func (w *WebhookNotifier) JobFailed(ctx context.Context, broadcastID, contactID string, cause error) {
	data := JobFailedData{
		BroadcastID: broadcastID,
		ContactID:   contactID,
		Timestamp:   w.now().UTC(),
	}
	if cause != nil {
		data.Error = cause.Error()
	}
	w.send(ctx, EventFailed, data)
}

func (w *WebhookNotifier) send(ctx context.Context, event string, data interface{}) {
	if w.url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	if err := w.client.PostJSON(ctx, w.url, Event{Event: event, Data: data}); err != nil {
		w.logger.Warn("webhook delivery failed", map[string]interface{}{
			"event": event,
			"error": err.Error(),
		})
		return
	}
	w.logger.Debug("webhook delivered", map[string]interface{}{"event": event})
}

var _ Notifier = (*WebhookNotifier)(nil)
