// Package completion decides when a broadcast has no outstanding deliveries left.
package completion

import (
	"context"
	"sync"
	"time"

	"broadcast-dispatch/internal/common/logger"
	"broadcast-dispatch/internal/common/metrics"
	"broadcast-dispatch/internal/hooks"
	"broadcast-dispatch/internal/models"
)

// Source is the slice of the store the detector needs.
type Source interface {
	GetBroadcast(ctx context.Context, id string) (*models.Broadcast, error)
	CountOutstanding(ctx context.Context, broadcastID string) (int, error)
	TransitionBroadcast(ctx context.Context, id string, from, to models.BroadcastStatus) (bool, error)
}

// Detector moves IN_PROGRESS broadcasts to COMPLETED once nothing is pending or sent.
// Safe for concurrent use: the transition is a conditional update, so only one caller wins.
type Detector struct {
	source   Source
	report   hooks.ReportHook
	notifier hooks.Notifier
	logger   logger.Logger

	reportTimeout time.Duration
	wg            sync.WaitGroup
}

type Option func(*Detector)

func WithReportHook(h hooks.ReportHook) Option {
	return func(d *Detector) { d.report = h }
}

func WithNotifier(n hooks.Notifier) Option {
	return func(d *Detector) { d.notifier = n }
}

func WithReportTimeout(t time.Duration) Option {
	return func(d *Detector) { d.reportTimeout = t }
}

func NewDetector(source Source, log logger.Logger, opts ...Option) *Detector {
	d := &Detector{
		source:        source,
		report:        hooks.NopReportHook{},
		notifier:      hooks.NopNotifier{},
		logger:        log.WithFields(map[string]interface{}{"component": "completion"}),
		reportTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check reports whether this call completed the broadcast.
func (d *Detector) Check(ctx context.Context, broadcastID string) (bool, error) {
	b, err := d.source.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return false, err
	}
	if b.Status != models.BroadcastInProgress {
		return false, nil
	}

	outstanding, err := d.source.CountOutstanding(ctx, broadcastID)
	if err != nil {
		return false, err
	}
	if outstanding > 0 {
		d.logger.Debug("broadcast still has outstanding deliveries", map[string]interface{}{
			"broadcastId": broadcastID,
			"outstanding": outstanding,
		})
		return false, nil
	}

	won, err := d.source.TransitionBroadcast(ctx, broadcastID, models.BroadcastInProgress, models.BroadcastCompleted)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	metrics.BroadcastTransitions.WithLabelValues(string(models.BroadcastInProgress), string(models.BroadcastCompleted)).Inc()
	d.logger.Info("broadcast completed", map[string]interface{}{"broadcastId": broadcastID})
	d.notifier.StatusChanged(ctx, broadcastID, models.BroadcastCompleted, nil)

	d.wg.Add(1)
	go d.runReport(broadcastID)
	return true, nil
}

func (d *Detector) runReport(broadcastID string) {
	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), d.reportTimeout)
	defer cancel()

	if err := d.report.CampaignCompleted(ctx, broadcastID); err != nil {
		d.logger.Error("campaign report failed", map[string]interface{}{
			"broadcastId": broadcastID,
			"error":       err.Error(),
		})
	}
}

// Wait blocks until every report started so far has returned.
func (d *Detector) Wait() {
	d.wg.Wait()
}
