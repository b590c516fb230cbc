// Package transport delivers rendered messages to the messaging gateway.
package transport

import (
	"context"

	"broadcast-dispatch/internal/queue"
)

// Message is one rendered message ready for the gateway.
type Message struct {
	BroadcastID string
	ContactID   string
	Recipient   string
	Body        string
	Metadata    *queue.Metadata
}

// Receipt is the gateway's acknowledgement of a sent message.
type Receipt struct {
	MessageID string
	// Delivered is set by gateways that report no later receipts; the
	// message counts as delivered once accepted.
	Delivered bool
}

// Transport sends one message. Errors are *errors.StandardError with
// TRANSPORT_FAILED (retryable) or TRANSPORT_REJECTED (terminal).
type Transport interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
}

// ReceiptSink takes delivery and read receipts. broadcast.Service satisfies it.
type ReceiptSink interface {
	MarkDelivered(ctx context.Context, broadcastID, contactID, messageID string) (bool, error)
	MarkRead(ctx context.Context, broadcastID, contactID, messageID string) (bool, error)
}
