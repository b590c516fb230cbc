// internal/transport/simulated.go
package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/common/logger"
)

// receiptAttempts bounds how often an early receipt is re-delivered while the
// dispatcher has not yet recorded the send.
const receiptAttempts = 3

// SimulatedTransport accepts every well-formed message without a real gateway.
// With a sink it also plays back delivery and read receipts after a delay.
type SimulatedTransport struct {
	logger logger.Logger
	sink   ReceiptSink
	delay  time.Duration

	// RejectRecipient makes Send reject recipients it returns true for.
	RejectRecipient func(recipient string) bool

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	stop   chan struct{}
}

type SimulatedOption func(*SimulatedTransport)

// WithReceipts plays back delivered and read receipts into sink, delay apart.
func WithReceipts(sink ReceiptSink, delay time.Duration) SimulatedOption {
	return func(t *SimulatedTransport) {
		t.sink = sink
		t.delay = delay
	}
}

func NewSimulatedTransport(log logger.Logger, opts ...SimulatedOption) *SimulatedTransport {
	t := &SimulatedTransport{
		logger: log.WithFields(map[string]interface{}{"component": "transport", "driver": "simulated"}),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *SimulatedTransport) Send(ctx context.Context, msg Message) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewTransportFailedError(err)
	}
	if strings.TrimSpace(msg.Recipient) == "" {
		return nil, errors.NewTransportRejectedError("recipient is empty")
	}
	if t.RejectRecipient != nil && t.RejectRecipient(msg.Recipient) {
		return nil, errors.NewTransportRejectedError("recipient rejected: " + msg.Recipient)
	}

	id := "sim-" + uuid.NewString()
	t.logger.Debug("simulated send", map[string]interface{}{
		"broadcastId": msg.BroadcastID,
		"contactId":   msg.ContactID,
		"messageId":   id,
		"text":        FormatText(msg.Body, msg.Metadata),
	})

	if t.sink == nil {
		return &Receipt{MessageID: id, Delivered: true}, nil
	}
	t.mu.Lock()
	if !t.closed {
		t.wg.Add(1)
		go t.playReceipts(msg.BroadcastID, msg.ContactID, id)
	}
	t.mu.Unlock()
	return &Receipt{MessageID: id}, nil
}

func (t *SimulatedTransport) playReceipts(broadcastID, contactID, messageID string) {
	defer t.wg.Done()
	ctx := context.Background()

	steps := []struct {
		name string
		mark func(ctx context.Context, broadcastID, contactID, messageID string) (bool, error)
	}{
		{"delivered", t.sink.MarkDelivered},
		{"read", t.sink.MarkRead},
	}
	for _, step := range steps {
		applied := false
		for attempt := 0; attempt < receiptAttempts && !applied; attempt++ {
			if !t.sleep() {
				return
			}
			ok, err := step.mark(ctx, broadcastID, contactID, messageID)
			if err != nil {
				t.logger.Warn("simulated receipt failed", map[string]interface{}{
					"receipt":     step.name,
					"broadcastId": broadcastID,
					"contactId":   contactID,
					"error":       err.Error(),
				})
				return
			}
			applied = ok
		}
		if !applied {
			return
		}
	}
}

func (t *SimulatedTransport) sleep() bool {
	timer := time.NewTimer(t.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.stop:
		return false
	}
}

// Close stops pending receipts and waits for them to exit.
func (t *SimulatedTransport) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.stop)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// Wait blocks until every receipt playback started so far has finished.
func (t *SimulatedTransport) Wait() {
	t.wg.Wait()
}

var _ Transport = (*SimulatedTransport)(nil)
