// internal/hooks/report.go
package hooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"broadcast-dispatch/internal/common/logger"
	"broadcast-dispatch/internal/models"
)

// ReportSource is the slice of the store the report reads.
type ReportSource interface {
	GetBroadcast(ctx context.Context, id string) (*models.Broadcast, error)
	CountByStatus(ctx context.Context, broadcastID string) (models.StatusCounts, error)
}

// DocumentIndexer is satisfied by database.ElasticsearchClient.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, doc interface{}) error
}

// EmailSender is satisfied by aws.SESClient.
type EmailSender interface {
	SendText(ctx context.Context, to []string, subject, body string) (string, error)
}

// Report is the completion summary of one broadcast.
type Report struct {
	BroadcastID string         `json:"broadcastId"`
	Name        string         `json:"name"`
	Channel     string         `json:"channel,omitempty"`
	Counts      map[string]int `json:"counts"`
	Total       int            `json:"total"`
	CompletedAt time.Time      `json:"completedAt"`
}

// ReportGenerator indexes a completion summary and optionally emails it.
// Indexer and mailer are optional.
type ReportGenerator struct {
	source     ReportSource
	indexer    DocumentIndexer
	index      string
	mailer     EmailSender
	recipients []string
	logger     logger.Logger
	now        func() time.Time
}

type ReportOption func(*ReportGenerator)

func WithIndexer(idx DocumentIndexer, index string) ReportOption {
	return func(r *ReportGenerator) {
		r.indexer = idx
		r.index = index
	}
}

func WithMailer(m EmailSender, recipients []string) ReportOption {
	return func(r *ReportGenerator) {
		r.mailer = m
		r.recipients = recipients
	}
}

func NewReportGenerator(source ReportSource, log logger.Logger, opts ...ReportOption) *ReportGenerator {
	r := &ReportGenerator{
		source: source,
		index:  "broadcast-reports",
		logger: log.WithFields(map[string]interface{}{"component": "report"}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Build computes the report without publishing it.
func (r *ReportGenerator) Build(ctx context.Context, broadcastID string) (*Report, error) {
	b, err := r.source.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	counts, err := r.source.CountByStatus(ctx, broadcastID)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		BroadcastID: b.ID,
		Name:        b.Name,
		Channel:     b.Channel,
		Counts:      make(map[string]int, len(counts)),
		Total:       counts.Total(),
		CompletedAt: r.now().UTC(),
	}
	for status, n := range counts {
		rep.Counts[string(status)] = n
	}
	return rep, nil
}

// CampaignCompleted publishes the report. Index and email failures are logged,
// only a failure to build the report is returned.
func (r *ReportGenerator) CampaignCompleted(ctx context.Context, broadcastID string) error {
	rep, err := r.Build(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("build report for %s: %w", broadcastID, err)
	}

	if r.indexer != nil {
		if err := r.indexer.IndexDocument(ctx, r.index, broadcastID, rep); err != nil {
			r.logger.Warn("failed to index campaign report", map[string]interface{}{
				"broadcastId": broadcastID,
				"error":       err.Error(),
			})
		}
	}

	if r.mailer != nil && len(r.recipients) > 0 {
		subject := fmt.Sprintf("Broadcast %q completed", rep.Name)
		if _, err := r.mailer.SendText(ctx, r.recipients, subject, formatReport(rep)); err != nil {
			r.logger.Warn("failed to email campaign report", map[string]interface{}{
				"broadcastId": broadcastID,
				"error":       err.Error(),
			})
		}
	}

	r.logger.Info("campaign report published", map[string]interface{}{
		"broadcastId": broadcastID,
		"total":       rep.Total,
	})
	return nil
}

func formatReport(rep *Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Broadcast: %s (%s)\n", rep.Name, rep.BroadcastID)
	fmt.Fprintf(&sb, "Completed at: %s\n\n", rep.CompletedAt.Format(time.RFC3339))
	for _, s := range models.AllContactStatuses {
		fmt.Fprintf(&sb, "%-10s %d\n", strings.ToUpper(string(s)), rep.Counts[string(s)])
	}
	fmt.Fprintf(&sb, "%-10s %d\n", "TOTAL", rep.Total)
	return sb.String()
}

var _ ReportHook = (*ReportGenerator)(nil)
