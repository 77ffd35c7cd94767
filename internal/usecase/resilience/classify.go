package resilience

import (
	"context"
	"errors"

	"realmforge/internal/domain"
)

// Retryable reports whether err may succeed on a later attempt. Errors are
// retryable unless marked Permanent, caused by cancellation, or tied to a
// failure that repeats deterministically.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *permanentError
	switch {
	case errors.As(err, &pe):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, domain.ErrAuthInvalid),
		errors.Is(err, domain.ErrReasoningTerminal),
		errors.Is(err, domain.ErrToolNotFound),
		errors.Is(err, domain.ErrInvalidInput):
		return false
	}
	return true
}
