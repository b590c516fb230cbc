// internal/broadcast/query.go
package broadcast

import (
	"context"
	"fmt"

	"broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/models"
)

// Stats is a per-status breakdown of a broadcast's deliveries.
type Stats struct {
	Broadcast *models.Broadcast   `json:"broadcast"`
	Counts    models.StatusCounts `json:"counts"`
	Total     int                 `json:"total"`
}

func (s *Service) Get(ctx context.Context, broadcastID string) (*models.Broadcast, error) {
	return s.store.GetBroadcast(ctx, broadcastID)
}

func (s *Service) Stats(ctx context.Context, broadcastID string) (*Stats, error) {
	b, err := s.store.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountByStatus(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	return &Stats{Broadcast: b, Counts: counts, Total: counts.Total()}, nil
}

// ContactsByStatus lists delivery records in the given status. Accepts either case.
func (s *Service) ContactsByStatus(ctx context.Context, broadcastID, status string) ([]*models.BroadcastContact, error) {
	cs, ok := models.ParseContactStatus(status)
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown contact status %q", status))
	}
	if _, err := s.store.GetBroadcast(ctx, broadcastID); err != nil {
		return nil, err
	}
	return s.store.ListBroadcastContacts(ctx, broadcastID, cs)
}

// MarkDelivered records a delivery receipt.
func (s *Service) MarkDelivered(ctx context.Context, broadcastID, contactID, messageID string) (bool, error) {
	return s.markReceipt(ctx, broadcastID, contactID, messageID, models.ContactDelivered)
}

// MarkRead records a read receipt.
func (s *Service) MarkRead(ctx context.Context, broadcastID, contactID, messageID string) (bool, error) {
	return s.markReceipt(ctx, broadcastID, contactID, messageID, models.ContactRead)
}

// markReceipt reports false when the record is already past to. Late or
// duplicate receipts are therefore harmless.
func (s *Service) markReceipt(ctx context.Context, broadcastID, contactID, messageID string, to models.ContactStatus) (bool, error) {
	changed, err := s.store.UpdateContactStatus(ctx, broadcastID, contactID, to, messageID, "")
	if err != nil {
		return false, err
	}
	if !changed {
		if _, err := s.store.GetBroadcastContact(ctx, broadcastID, contactID); err != nil {
			return false, err
		}
		s.logger.Debug("receipt ignored", map[string]interface{}{
			"broadcastId": broadcastID,
			"contactId":   contactID,
			"status":      string(to),
		})
		return false, nil
	}

	s.checkCompletion(ctx, broadcastID)
	return true, nil
}
