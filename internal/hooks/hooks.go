// Package hooks holds the best-effort side channels fired on broadcast lifecycle events.
package hooks

import (
	"context"

	"broadcast-dispatch/internal/models"
)

// Webhook event names.
const (
	EventStatusUpdate = "broadcast:statusUpdate"
	EventStarted      = "broadcast:started"
	EventCompleted    = "broadcast:completed"
	EventFailed       = "broadcast:failed"
)

// Notifier announces broadcast status changes. Implementations swallow their own failures.
type Notifier interface {
	StatusChanged(ctx context.Context, broadcastID string, status models.BroadcastStatus, details map[string]interface{})
	JobFailed(ctx context.Context, broadcastID, contactID string, cause error)
}

// ReportHook runs once when a broadcast completes.
type ReportHook interface {
	CampaignCompleted(ctx context.Context, broadcastID string) error
}

type NopNotifier struct{}

func (NopNotifier) StatusChanged(context.Context, string, models.BroadcastStatus, map[string]interface{}) {
}

func (NopNotifier) JobFailed(context.Context, string, string, error) {}

type NopReportHook struct{}

func (NopReportHook) CampaignCompleted(context.Context, string) error { return nil }
