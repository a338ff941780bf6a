package openai

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
	"github.com/kirillkom/literature-assistant/internal/infrastructure/resilience"
)

// recordsFailure decides which failures count against the circuit breaker.
// Client-side rejections and caller cancellations do not.
func recordsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var modelErr *domain.ModelError
	if errors.As(err, &modelErr) && modelErr.IsServiceRejection() {
		return isServerSideStatus(modelErr.StatusCode)
	}
	return true
}

func isServerSideStatus(statusCode int) bool {
	switch {
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500:
		return true
	default:
		return false
	}
}

// asModelError guarantees that every failure leaving the client is a
// *domain.ModelError.
func asModelError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var modelErr *domain.ModelError
	if errors.As(err, &modelErr) {
		return err
	}
	if domain.IsKind(err, domain.ErrInvalidInput) {
		return err
	}
	if resilience.IsCircuitOpen(err) {
		return &domain.ModelError{Operation: operation, Kind: domain.ErrTransport, Err: domain.WrapError(domain.ErrTemporary, "llm "+operation, err)}
	}
	return &domain.ModelError{Operation: operation, Kind: domain.ErrTransport, Err: err}
}
