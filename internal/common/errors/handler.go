// internal/common/errors/handler.go
package errors

import "time"

// ErrorHandler decides how a failed queue job is settled and logs the outcome.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

// Decision is the settlement of a failed job attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
	Err   *StandardError
}

// BackoffFunc returns the delay before the attempt after the given one.
type BackoffFunc func(attempt int) time.Duration

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleJobError normalizes err and decides whether the job gets another attempt.
// attempt is 1-based: the attempt that just failed. backoff may be nil.
func (h *ErrorHandler) HandleJobError(jobID string, attempt, maxAttempts int, err error, backoff BackoffFunc) Decision {
	stdErr := Normalize(err)

	retry := stdErr.Retryable && attempt < maxAttempts
	if limit := GetRetryCount(stdErr.Code); stdErr.Retryable && limit > 0 && attempt > limit {
		retry = false
	}

	var delay time.Duration
	if retry && backoff != nil {
		delay = backoff(attempt)
	}

	h.logger.Error("job attempt failed", map[string]interface{}{
		"jobId":       jobID,
		"attempt":     attempt,
		"maxAttempts": maxAttempts,
		"errorCode":   stdErr.Code,
		"category":    GetErrorCategory(stdErr.Code),
		"message":     stdErr.Message,
		"details":     stdErr.Details,
		"retry":       retry,
		"delayMs":     delay.Milliseconds(),
	})

	return Decision{Retry: retry, Delay: delay, Err: stdErr}
}
