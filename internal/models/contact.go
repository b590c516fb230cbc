// internal/models/contact.go
package models

import (
	"strings"
	"time"
)

// ContactStatus is the delivery state of one recipient within a broadcast.
type ContactStatus string

const (
	ContactPending   ContactStatus = "pending"
	ContactSent      ContactStatus = "sent"
	ContactDelivered ContactStatus = "delivered"
	ContactRead      ContactStatus = "read"
	ContactFailed    ContactStatus = "failed"
)

var AllContactStatuses = []ContactStatus{
	ContactPending,
	ContactSent,
	ContactDelivered,
	ContactRead,
	ContactFailed,
}

// OutstandingContactStatuses are the statuses the completion check counts as unfinished.
var OutstandingContactStatuses = []ContactStatus{ContactPending, ContactSent}

var contactTransitions = map[ContactStatus][]ContactStatus{
	ContactPending:   {ContactSent, ContactFailed},
	ContactSent:      {ContactDelivered, ContactRead, ContactFailed},
	ContactDelivered: {ContactRead},
}

// CanAdvance reports whether a delivery record may move from -> to.
// Re-applying the current status is allowed so receipts stay idempotent.
func CanAdvance(from, to ContactStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range contactTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AdvanceableFrom lists the statuses that may move to s, s included.
func (s ContactStatus) AdvanceableFrom() []ContactStatus {
	var out []ContactStatus
	for _, from := range AllContactStatuses {
		if CanAdvance(from, s) {
			out = append(out, from)
		}
	}
	return out
}

// IsTerminal reports whether s finalizes a delivery attempt.
func (s ContactStatus) IsTerminal() bool {
	return s == ContactDelivered || s == ContactRead || s == ContactFailed
}

func (s ContactStatus) Valid() bool {
	for _, v := range AllContactStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func ParseContactStatus(raw string) (ContactStatus, bool) {
	s := ContactStatus(strings.ToLower(raw))
	return s, s.Valid()
}

// Contact is a recipient, deduplicated globally by phone.
type Contact struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Phone     string    `json:"phone" db:"phone"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// BroadcastContact is the per-recipient delivery record of a broadcast.
type BroadcastContact struct {
	ID          string        `json:"id" db:"id"`
	BroadcastID string        `json:"broadcastId" db:"broadcast_id"`
	ContactID   string        `json:"contactId" db:"contact_id"`
	DisplayName string        `json:"displayName,omitempty" db:"display_name"`
	Status      ContactStatus `json:"status" db:"status"`
	MessageID   string        `json:"messageId,omitempty" db:"message_id"`
	Error       string        `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time     `json:"updatedAt" db:"updated_at"`

	Contact *Contact `json:"contact,omitempty" db:"-"`
}

// RecipientName prefers the per-broadcast display name over the contact name.
func (bc *BroadcastContact) RecipientName() string {
	if bc.DisplayName != "" {
		return bc.DisplayName
	}
	if bc.Contact != nil {
		return bc.Contact.Name
	}
	return ""
}

// NewContactInput is one entry of an add-contacts request.
type NewContactInput struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	DisplayName string `json:"displayName,omitempty"`
}

// StatusCounts maps every ContactStatus to its count for one broadcast.
type StatusCounts map[ContactStatus]int

// NewStatusCounts returns counts with every status key present.
func NewStatusCounts() StatusCounts {
	c := make(StatusCounts, len(AllContactStatuses))
	for _, s := range AllContactStatuses {
		c[s] = 0
	}
	return c
}

func (c StatusCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Outstanding is the number of records not yet in a terminal status.
func (c StatusCounts) Outstanding() int {
	n := 0
	for _, s := range OutstandingContactStatuses {
		n += c[s]
	}
	return n
}
