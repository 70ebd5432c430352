package provider

import "encoding/json"

// OutcomeKind classifies one provider invocation attempt.
type OutcomeKind int

// OutcomeKind constants define the normalized invocation outcomes.
const (
	// OutcomeSuccess carries an immediate generation result.
	OutcomeSuccess OutcomeKind = iota + 1
	// OutcomePending means the provider accepted the job asynchronously.
	OutcomePending
	// OutcomeRetryableFailure is a transient error; the next candidate may be tried.
	OutcomeRetryableFailure
	// OutcomeFatalFailure means the request itself is invalid; no candidate will do better.
	OutcomeFatalFailure
)

// Outcome is the normalized result of one provider call attempt.
type Outcome struct {
	Kind OutcomeKind

	Payload json.RawMessage // Generation result for OutcomeSuccess.
	Meta    map[string]any  // Provider-reported metadata for OutcomeSuccess.

	JobID      string // Provider job identifier for OutcomePending.
	ETASeconds int    // Provider-estimated completion time for OutcomePending.

	Reason string // Failure description for failure outcomes.
}

// Success builds a success outcome.
func Success(payload json.RawMessage, meta map[string]any) Outcome {
	return Outcome{Kind: OutcomeSuccess, Payload: payload, Meta: meta}
}

// Pending builds a pending outcome.
func Pending(jobID string, etaSeconds int) Outcome {
	return Outcome{Kind: OutcomePending, JobID: jobID, ETASeconds: etaSeconds}
}

// Retryable builds a retryable failure outcome.
func Retryable(reason string) Outcome {
	return Outcome{Kind: OutcomeRetryableFailure, Reason: reason}
}

// Fatal builds a fatal failure outcome.
func Fatal(reason string) Outcome {
	return Outcome{Kind: OutcomeFatalFailure, Reason: reason}
}
