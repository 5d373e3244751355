package provider

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// MockProvider simulates the external provider for development. It
// introduces a short random delay and fails a configurable fraction of
// dispatches, split between transient and permanent errors.
type MockProvider struct {
	// FailureRate is the probability of failure (0.0 to 1.0).
	FailureRate float64
	// PermanentShare is the fraction of failures that are permanent.
	PermanentShare float64
	// MaxDelay caps the simulated network latency.
	MaxDelay time.Duration
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		FailureRate:    0.1,
		PermanentShare: 0.3,
		MaxDelay:       2 * time.Second,
	}
}

func (p *MockProvider) Dispatch(ctx context.Context, input DispatchInput) (string, error) {
	delay := time.Duration(rand.Int63n(int64(p.MaxDelay) + 1))
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return "", fmt.Errorf("provider dispatch canceled: %w", ctx.Err())
	}

	if rand.Float64() < p.FailureRate {
		if rand.Float64() < p.PermanentShare {
			return "", &Error{Code: "REJECTED", Message: "recipient cannot receive funds", Transient: false}
		}
		return "", &Error{Code: "UNAVAILABLE", Message: "provider temporarily unavailable", Transient: true}
	}

	ref := fmt.Sprintf("AG_%s_%05d", time.Now().Format("20060102150405"), rand.Intn(100000))
	return ref, nil
}
