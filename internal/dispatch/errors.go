package dispatch

import (
	"errors"
	"fmt"

	"github.com/modo-studio/modo-dispatch/internal/genlog"
)

// ErrNoProviderConfigured means the resolved chain was empty for the
// requested tier and modality and no usable default model existed.
var ErrNoProviderConfigured = errors.New("dispatch: no provider configured")

// ErrCancelled means the caller's context ended before a terminal outcome.
var ErrCancelled = errors.New("dispatch: request cancelled")

// InsufficientCreditsError means every affordable path was exhausted; the
// cheapest candidate the account could not cover sets Required.
type InsufficientCreditsError struct {
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("dispatch: insufficient credits, need %d", e.Required)
}

// FatalProviderError means a provider rejected the request in a way no other
// candidate can fix, so the chain walk stopped immediately.
type FatalProviderError struct {
	Model  string
	Reason string
}

func (e *FatalProviderError) Error() string {
	return fmt.Sprintf("dispatch: fatal provider error from %s: %s", e.Model, e.Reason)
}

// ExhaustedError means every candidate in the chain was tried or skipped
// without producing a result.
type ExhaustedError struct {
	Attempts []genlog.Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("dispatch: all providers failed after %d attempts", len(e.Attempts))
}
