// internal/models/broadcast.go
package models

import (
	"strings"
	"time"
)

// BroadcastStatus is the lifecycle state of a campaign.
type BroadcastStatus string

const (
	BroadcastDraft      BroadcastStatus = "draft"
	BroadcastScheduled  BroadcastStatus = "scheduled"
	BroadcastInProgress BroadcastStatus = "in_progress"
	BroadcastPaused     BroadcastStatus = "paused"
	BroadcastCompleted  BroadcastStatus = "completed"
	BroadcastCanceled   BroadcastStatus = "canceled"
	BroadcastFailed     BroadcastStatus = "failed"
)

// AllBroadcastStatuses lists every status in lifecycle order.
var AllBroadcastStatuses = []BroadcastStatus{
	BroadcastDraft,
	BroadcastScheduled,
	BroadcastInProgress,
	BroadcastPaused,
	BroadcastCompleted,
	BroadcastCanceled,
	BroadcastFailed,
}

// broadcastTransitions is the single source of truth for legal status changes.
// COMPLETED and CANCELED have no outgoing edges.
var broadcastTransitions = map[BroadcastStatus][]BroadcastStatus{
	BroadcastDraft:      {BroadcastScheduled, BroadcastInProgress, BroadcastCanceled},
	BroadcastScheduled:  {BroadcastInProgress, BroadcastCanceled, BroadcastFailed},
	BroadcastInProgress: {BroadcastPaused, BroadcastCompleted, BroadcastFailed, BroadcastCanceled, BroadcastDraft},
	BroadcastPaused:     {BroadcastInProgress, BroadcastCanceled},
	BroadcastFailed:     {BroadcastInProgress, BroadcastCanceled},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to BroadcastStatus) bool {
	for _, allowed := range broadcastTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s BroadcastStatus) IsTerminal() bool {
	return len(broadcastTransitions[s]) == 0
}

// CanStart reports whether "start" may activate a broadcast in status s.
func (s BroadcastStatus) CanStart() bool {
	return s == BroadcastDraft || s == BroadcastScheduled || s == BroadcastFailed
}

func (s BroadcastStatus) Valid() bool {
	for _, v := range AllBroadcastStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s BroadcastStatus) String() string {
	return string(s)
}

// ParseBroadcastStatus accepts both the stored lowercase form and the upper-case form.
func ParseBroadcastStatus(raw string) (BroadcastStatus, bool) {
	s := BroadcastStatus(strings.ToLower(raw))
	return s, s.Valid()
}

type Broadcast struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description,omitempty" db:"description"`
	Status      BroadcastStatus `json:"status" db:"status"`
	Channel     string          `json:"channel,omitempty" db:"channel"`
	StartDate   *time.Time      `json:"startDate,omitempty" db:"start_date"`
	Timezone    string          `json:"timezone,omitempty" db:"timezone"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
	DeletedAt   *time.Time      `json:"deletedAt,omitempty" db:"deleted_at"`
}

// IsDeleted reports whether the broadcast carries a soft-delete marker.
func (b *Broadcast) IsDeleted() bool {
	return b.DeletedAt != nil
}

// IsDue reports whether a scheduled broadcast should be activated at now.
func (b *Broadcast) IsDue(now time.Time) bool {
	return b.Status == BroadcastScheduled && !b.IsDeleted() && b.StartDate != nil && !b.StartDate.After(now)
}
