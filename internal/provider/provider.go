package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DispatchInput describes one settlement handed to the external
// provider.
type DispatchInput struct {
	RequestID   uuid.UUID
	Kind        string
	AmountCents int64
	Target      string
}

// Provider is the external settlement provider. Dispatch returns the
// provider's correlation id; the outcome arrives later on the callback
// endpoints.
type Provider interface {
	Dispatch(ctx context.Context, input DispatchInput) (string, error)
}

// Error distinguishes transient provider failures (retry if attempts
// remain) from permanent rejections (fail without consuming a retry).
type Error struct {
	Code      string
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
}

// IsTransient reports whether err is a retryable provider failure.
// Unknown errors count as transient so network-level faults get the
// retry path.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}
