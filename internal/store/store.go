// Package store persists broadcasts, contacts, delivery records and templates.
package store

import (
	"context"
	"time"

	"broadcast-dispatch/internal/models"
)

// Broadcasts is the broadcast half of the persistence collaborator.
type Broadcasts interface {
	CreateBroadcast(ctx context.Context, b *models.Broadcast) error
	// GetBroadcast returns a BROADCAST_NOT_FOUND error for unknown ids.
	GetBroadcast(ctx context.Context, id string) (*models.Broadcast, error)
	// TransitionBroadcast moves id from -> to only if it is still in from.
	// It reports whether a row changed.
	TransitionBroadcast(ctx context.Context, id string, from, to models.BroadcastStatus) (bool, error)
	// CancelBroadcast soft-deletes id if it is still in from.
	CancelBroadcast(ctx context.Context, id string, from models.BroadcastStatus, at time.Time) (bool, error)
	// DeleteBroadcast purges the broadcast with its delivery records and templates.
	DeleteBroadcast(ctx context.Context, id string) error
	// ListDueBroadcasts returns scheduled, non-deleted broadcasts whose start date is not after now.
	ListDueBroadcasts(ctx context.Context, now time.Time) ([]*models.Broadcast, error)
}

// Contacts covers contacts and their per-broadcast delivery records.
type Contacts interface {
	// UpsertContact stores c, or loads the existing contact with the same phone into c.
	UpsertContact(ctx context.Context, c *models.Contact) error
	// AddBroadcastContact reports false when the pair already exists.
	AddBroadcastContact(ctx context.Context, bc *models.BroadcastContact) (bool, error)
	// GetBroadcastContact returns a CONTACT_NOT_FOUND error for unknown pairs.
	GetBroadcastContact(ctx context.Context, broadcastID, contactID string) (*models.BroadcastContact, error)
	// ListBroadcastContacts returns records with Contact loaded, optionally filtered by status.
	ListBroadcastContacts(ctx context.Context, broadcastID string, statuses ...models.ContactStatus) ([]*models.BroadcastContact, error)
	// ResetBroadcastContacts puts every record of the broadcast back to pending.
	ResetBroadcastContacts(ctx context.Context, broadcastID string) (int, error)
	// UpdateContactStatus advances one record to to when the contact state machine allows it.
	// An empty messageID keeps the stored one.
	UpdateContactStatus(ctx context.Context, broadcastID, contactID string, to models.ContactStatus, messageID, errMsg string) (bool, error)
	CountByStatus(ctx context.Context, broadcastID string) (models.StatusCounts, error)
	// CountOutstanding counts records still pending or sent.
	CountOutstanding(ctx context.Context, broadcastID string) (int, error)
}

type Templates interface {
	CreateTemplate(ctx context.Context, t *models.Template) error
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	// LatestTemplate returns the most recently created template of the broadcast.
	LatestTemplate(ctx context.Context, broadcastID string) (*models.Template, error)
}

// Store is the full persistence collaborator.
type Store interface {
	Broadcasts
	Contacts
	Templates

	// WithTx runs fn against a transactional view; fn's error rolls everything back.
	WithTx(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error
}

func contactStatusStrings(statuses []models.ContactStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
