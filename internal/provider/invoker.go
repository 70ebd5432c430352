package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modo-studio/modo-dispatch/internal/models"
)

// Credential carries a resolved upstream API key. Key selection and rotation
// happen in the credential store; invokers only consume what they are handed.
type Credential struct {
	APIKey  string
	BaseURL string
	Headers map[string]string
}

// Invoker translates a catalog model plus request payload into a call against
// one external provider and normalizes the response into an Outcome.
// Transport-level errors are folded into the outcome, never returned raw.
type Invoker interface {
	Invoke(ctx context.Context, model models.Model, payload json.RawMessage, cred Credential) Outcome
}

// Registry maps provider slugs to their invoker implementations.
type Registry struct {
	mu     sync.RWMutex
	bySlug map[string]Invoker
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bySlug: make(map[string]Invoker)}
}

// Register binds an invoker to a provider slug.
func (r *Registry) Register(slug string, invoker Invoker) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if r == nil || slug == "" || invoker == nil {
		return
	}
	r.mu.Lock()
	r.bySlug[slug] = invoker
	r.mu.Unlock()
}

// Lookup returns the invoker registered for a provider slug.
func (r *Registry) Lookup(slug string) (Invoker, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if r == nil || slug == "" {
		return nil, fmt.Errorf("provider: no invoker for %q", slug)
	}
	r.mu.RLock()
	invoker, ok := r.bySlug[slug]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider: no invoker for %q", slug)
	}
	return invoker, nil
}

// classifyStatus maps an HTTP status code to an outcome kind.
// Rate limits, timeouts, and server errors are transient; any other 4xx
// indicates a malformed request that no sibling candidate can fix.
func classifyStatus(status int) OutcomeKind {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return OutcomeRetryableFailure
	case status >= 500:
		return OutcomeRetryableFailure
	case status >= 400:
		return OutcomeFatalFailure
	default:
		return OutcomeSuccess
	}
}

// transportOutcome classifies an HTTP transport error. Timeouts and
// cancellations count as transient so the chain can advance.
func transportOutcome(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable("provider timeout")
	}
	return Retryable(fmt.Sprintf("transport error: %v", err))
}

// newHTTPClient builds the shared client used by the bundled invokers.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// applyCredential sets auth and extra headers on an outbound request.
func applyCredential(req *http.Request, cred Credential) {
	if strings.TrimSpace(cred.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(cred.APIKey))
	}
	for k, v := range cred.Headers {
		if strings.TrimSpace(k) == "" {
			continue
		}
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
}
