package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	entries []map[string]interface{}
}

func (r *recordingLogger) Error(_ string, fields map[string]interface{}) {
	r.entries = append(r.entries, fields)
}

// ==========================
// StandardError
// ==========================

func TestStandardError_Format(t *testing.T) {
	err := NewBroadcastNotFoundError("b-1")
	assert.Equal(t, "StandardError[BROADCAST_NOT_FOUND]: Broadcast not found", err.Error())
	assert.Equal(t, "broadcastId: b-1", err.Details)
	assert.False(t, err.Retryable)
	assert.False(t, err.Timestamp.IsZero())
}

func TestStandardError_UnwrapAndAs(t *testing.T) {
	cause := stderrors.New("connection reset")
	wrapped := fmt.Errorf("send: %w", NewTransportFailedError(cause))

	assert.True(t, stderrors.Is(wrapped, cause))
	assert.True(t, HasCode(wrapped, ErrCodeTransportFailed))
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsValidation(wrapped))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		notFound   bool
		category   string
	}{
		{"validation", NewValidationError("name required"), true, false, CategoryValidation},
		{"schedule", NewInvalidScheduleError("in the past"), true, false, CategoryValidation},
		{"timezone", NewInvalidTimezoneError("Mars/Base", nil), true, false, CategoryValidation},
		{"payload", NewInvalidPayloadError("recipient missing"), true, false, CategoryValidation},
		{"broadcast not found", NewBroadcastNotFoundError("b"), false, true, CategoryNotFound},
		{"template not found", NewTemplateNotFoundError("t"), false, true, CategoryNotFound},
		{"contact not found", NewContactNotFoundError("b", "c"), false, true, CategoryNotFound},
		{"transition", NewInvalidTransitionError("completed", "paused"), false, false, CategoryState},
		{"transport", NewTransportRejectedError("bad number"), false, false, CategoryTransport},
		{"queue", NewQueueOperationFailedError("pause", stderrors.New("boom")), false, false, CategoryQueue},
		{"database", NewQueryExecutionFailedError("count", stderrors.New("boom")), false, false, CategoryDatabase},
		{"plain", stderrors.New("boom"), false, false, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.validation, IsValidation(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.category, GetErrorCategory(Normalize(tt.err).Code))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Nil(t, Normalize(nil))

	std := NewValidationError("x")
	assert.Same(t, std, Normalize(fmt.Errorf("wrapped: %w", std)))

	plain := Normalize(stderrors.New("boom"))
	require.NotNil(t, plain)
	assert.Equal(t, ErrCodeInternal, plain.Code)
	assert.Equal(t, "boom", plain.Details)
}

func TestGetRetryCount(t *testing.T) {
	assert.Equal(t, 5, GetRetryCount(ErrCodeTransportFailed))
	assert.Equal(t, 3, GetRetryCount(ErrCodeQueryExecutionFailed))
	assert.Equal(t, 0, GetRetryCount(ErrCodeTransportRejected))
	assert.True(t, IsRetryableErrorCode(ErrCodeQueueOperationFailed))
	assert.False(t, IsRetryableErrorCode(ErrCodeValidationFailed))
}

// ==========================
// ErrorHandler
// ==========================

func TestErrorHandler_HandleJobError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		attempt     int
		maxAttempts int
		wantRetry   bool
		wantDelay   time.Duration
	}{
		{"transient first attempt", NewTransportFailedError(stderrors.New("timeout")), 1, 3, true, time.Second},
		{"transient second attempt", NewTransportFailedError(stderrors.New("timeout")), 2, 3, true, 2 * time.Second},
		{"transient last attempt", NewTransportFailedError(stderrors.New("timeout")), 3, 3, false, 0},
		{"transient beyond code limit", NewTransportFailedError(stderrors.New("timeout")), 6, 10, false, 0},
		{"terminal rejection", NewTransportRejectedError("invalid number"), 1, 5, false, 0},
		{"unknown error", stderrors.New("nil map"), 1, 5, false, 0},
	}
	backoff := func(attempt int) time.Duration { return time.Duration(attempt) * time.Second }

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &recordingLogger{}
			h := NewErrorHandler(log)

			d := h.HandleJobError("job-1", tt.attempt, tt.maxAttempts, tt.err, backoff)

			assert.Equal(t, tt.wantRetry, d.Retry)
			assert.Equal(t, tt.wantDelay, d.Delay)
			require.NotNil(t, d.Err)
			require.Len(t, log.entries, 1)
			assert.Equal(t, "job-1", log.entries[0]["jobId"])
			assert.Equal(t, tt.wantRetry, log.entries[0]["retry"])
		})
	}
}

func TestErrorHandler_NilBackoff(t *testing.T) {
	h := NewErrorHandler(&recordingLogger{})
	d := h.HandleJobError("job-1", 1, 3, NewQueueOperationFailedError("dequeue", stderrors.New("eof")), nil)
	assert.True(t, d.Retry)
	assert.Zero(t, d.Delay)
}
