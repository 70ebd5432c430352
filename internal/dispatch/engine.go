// Package dispatch walks a fallback chain of models until one produces a
// generation result, charging credits for the attempt that lands.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modo-studio/modo-dispatch/internal/genlog"
	"github.com/modo-studio/modo-dispatch/internal/ledger"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"github.com/modo-studio/modo-dispatch/internal/provider"
	log "github.com/sirupsen/logrus"
)

// ChainResolver yields the ordered candidate models for a tier and modality.
type ChainResolver interface {
	Resolve(ctx context.Context, tier models.Tier, modality models.Modality) ([]models.Model, error)
}

// CredentialSource yields the upstream credential for a provider.
type CredentialSource interface {
	ActiveCredential(ctx context.Context, providerID uint64) (provider.Credential, error)
}

// InvokerSource resolves the invoker registered for a provider slug.
type InvokerSource interface {
	Lookup(slug string) (provider.Invoker, error)
}

// Recorder persists the terminal state of a dispatched request.
type Recorder interface {
	Record(ctx context.Context, rec genlog.Record)
}

// Request is one generation request entering the engine.
type Request struct {
	RequestID string // Assigned when empty.
	AccountID uint64
	Tier      models.Tier
	Modality  models.Modality
	Payload   json.RawMessage
}

// ResultStatus distinguishes immediate results from accepted async jobs.
type ResultStatus int

// ResultStatus values.
const (
	StatusSucceeded ResultStatus = 1
	StatusPending   ResultStatus = 2
)

// Result is a successful or pending dispatch.
type Result struct {
	RequestID      string
	Status         ResultStatus
	Model          models.Model
	Payload        json.RawMessage
	Meta           map[string]any
	JobID          string
	ETASeconds     int
	CreditsCharged int64
	Attempts       []genlog.Attempt
}

// Engine coordinates chain resolution, credit checks, provider invocation,
// and failover. Candidates are tried strictly in chain order, one at a time.
type Engine struct {
	chains   ChainResolver
	credits  ledger.Ledger
	invokers InvokerSource
	creds    CredentialSource
	recorder Recorder

	timeouts       map[models.Modality]time.Duration
	defaultTimeout time.Duration
}

// NewEngine constructs an Engine. recorder may be nil; timeouts maps each
// modality to its per-attempt provider call budget.
func NewEngine(chains ChainResolver, credits ledger.Ledger, invokers InvokerSource, creds CredentialSource, recorder Recorder, timeouts map[models.Modality]time.Duration, defaultTimeout time.Duration) *Engine {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &Engine{
		chains:         chains,
		credits:        credits,
		invokers:       invokers,
		creds:          creds,
		recorder:       recorder,
		timeouts:       timeouts,
		defaultTimeout: defaultTimeout,
	}
}

func (e *Engine) timeoutFor(modality models.Modality) time.Duration {
	if d, ok := e.timeouts[modality]; ok && d > 0 {
		return d
	}
	return e.defaultTimeout
}

// Generate serves one request by walking the resolved chain. A candidate the
// account cannot afford is skipped without being invoked; a retryable failure
// advances to the next candidate; a fatal failure or a landed result stops
// the walk. Exactly one deduction happens per request, for the candidate that
// returned a success or pending outcome.
func (e *Engine) Generate(ctx context.Context, req Request) (*Result, error) {
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	startedAt := time.Now()

	candidates, errResolve := e.chains.Resolve(ctx, req.Tier, req.Modality)
	if errResolve != nil {
		return nil, fmt.Errorf("dispatch: resolve chain: %w", errResolve)
	}
	if len(candidates) == 0 {
		e.record(ctx, req, requestID, startedAt, nil, nil, models.GenerationStatusFailed, "no provider configured", "", 0)
		return nil, ErrNoProviderConfigured
	}

	var attempts []genlog.Attempt
	invokedAny := false
	cheapestSkipped := int64(0)

	for i := range candidates {
		candidate := candidates[i]

		if errCtx := ctx.Err(); errCtx != nil {
			e.record(ctx, req, requestID, startedAt, nil, attempts, models.GenerationStatusFailed, "cancelled", "", 0)
			return nil, fmt.Errorf("%w: %v", ErrCancelled, errCtx)
		}

		if candidate.CreditCost > 0 {
			errCheck := e.credits.CheckReserve(ctx, req.AccountID, candidate.CreditCost)
			switch {
			case errCheck == nil:
			case errors.Is(errCheck, ledger.ErrInsufficientCredits):
				// Cheaper candidates further down may still be affordable.
				if cheapestSkipped == 0 || candidate.CreditCost < cheapestSkipped {
					cheapestSkipped = candidate.CreditCost
				}
				attempts = append(attempts, skipAttempt(candidate, "insufficient credits"))
				continue
			case errors.Is(errCheck, ledger.ErrAccountNotFound):
				return nil, errCheck
			default:
				return nil, fmt.Errorf("dispatch: credit check: %w", errCheck)
			}
		}

		invoker, errLookup := e.invokers.Lookup(candidate.Provider.Slug)
		if errLookup != nil {
			log.WithField("provider", candidate.Provider.Slug).Warn("dispatch: no invoker registered")
			attempts = append(attempts, skipAttempt(candidate, "no invoker registered"))
			continue
		}
		cred, errCred := e.creds.ActiveCredential(ctx, candidate.ProviderID)
		if errCred != nil {
			attempts = append(attempts, skipAttempt(candidate, "no credential available"))
			continue
		}

		invokedAny = true
		attemptStart := time.Now()
		invokeCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(req.Modality))
		outcome := invoker.Invoke(invokeCtx, candidate, req.Payload, cred)
		cancel()
		latency := time.Since(attemptStart).Milliseconds()

		switch outcome.Kind {
		case provider.OutcomeSuccess, provider.OutcomePending:
			charged, errCharge := e.settle(ctx, req.AccountID, candidate, requestID, req.Modality)
			if errCharge != nil {
				e.record(ctx, req, requestID, startedAt, &candidate.ID, attempts, models.GenerationStatusFailed, errCharge.Error(), "", 0)
				return nil, errCharge
			}
			result := &Result{
				RequestID:      requestID,
				Model:          candidate,
				Payload:        outcome.Payload,
				Meta:           outcome.Meta,
				JobID:          outcome.JobID,
				ETASeconds:     outcome.ETASeconds,
				CreditsCharged: charged,
				Attempts:       attempts,
			}
			status := models.GenerationStatusSucceeded
			result.Status = StatusSucceeded
			if outcome.Kind == provider.OutcomePending {
				status = models.GenerationStatusPending
				result.Status = StatusPending
			}
			e.record(ctx, req, requestID, startedAt, &candidate.ID, attempts, status, "", outcome.JobID, charged)
			return result, nil
		case provider.OutcomeRetryableFailure:
			if errCtx := ctx.Err(); errCtx != nil {
				attempts = append(attempts, failAttempt(candidate, "cancelled", latency))
				e.record(ctx, req, requestID, startedAt, nil, attempts, models.GenerationStatusFailed, "cancelled", "", 0)
				return nil, fmt.Errorf("%w: %v", ErrCancelled, errCtx)
			}
			log.WithFields(log.Fields{
				"request_id": requestID,
				"model":      candidate.ModelID,
				"provider":   candidate.Provider.Slug,
			}).Warn("dispatch: candidate failed, advancing")
			attempts = append(attempts, failAttempt(candidate, outcome.Reason, latency))
		case provider.OutcomeFatalFailure:
			attempts = append(attempts, failAttempt(candidate, outcome.Reason, latency))
			e.record(ctx, req, requestID, startedAt, &candidate.ID, attempts, models.GenerationStatusFailed, outcome.Reason, "", 0)
			return nil, &FatalProviderError{Model: candidate.ModelID, Reason: outcome.Reason}
		default:
			attempts = append(attempts, failAttempt(candidate, "unknown outcome", latency))
		}
	}

	if !invokedAny && cheapestSkipped > 0 {
		e.record(ctx, req, requestID, startedAt, nil, attempts, models.GenerationStatusFailed, "insufficient credits", "", 0)
		return nil, &InsufficientCreditsError{Required: cheapestSkipped}
	}
	e.record(ctx, req, requestID, startedAt, nil, attempts, models.GenerationStatusFailed, "all providers failed", "", 0)
	return nil, &ExhaustedError{Attempts: attempts}
}

// settle charges exactly once for the candidate that landed. Free models
// skip the ledger entirely. A deduction race lost at this point means the
// upstream work already happened; the request still fails so the account
// cannot go below zero.
func (e *Engine) settle(ctx context.Context, accountID uint64, candidate models.Model, requestID string, modality models.Modality) (int64, error) {
	if candidate.CreditCost <= 0 {
		return 0, nil
	}
	reason := fmt.Sprintf("%s generation via %s", modality, candidate.ModelID)
	errDeduct := e.credits.Deduct(ctx, accountID, candidate.CreditCost, reason, requestID)
	if errDeduct == nil {
		return candidate.CreditCost, nil
	}
	if errors.Is(errDeduct, ledger.ErrInsufficientCredits) {
		log.WithFields(log.Fields{
			"request_id": requestID,
			"account_id": accountID,
		}).Warn("dispatch: balance drained between check and deduct")
		return 0, &InsufficientCreditsError{Required: candidate.CreditCost}
	}
	return 0, fmt.Errorf("dispatch: deduct credits: %w", errDeduct)
}

func (e *Engine) record(ctx context.Context, req Request, requestID string, startedAt time.Time, modelID *uint64, attempts []genlog.Attempt, status models.GenerationStatus, failureReason, jobID string, charged int64) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(context.WithoutCancel(ctx), genlog.Record{
		RequestID:      requestID,
		AccountID:      req.AccountID,
		Tier:           req.Tier,
		Modality:       req.Modality,
		ModelID:        modelID,
		Status:         status,
		FailureReason:  failureReason,
		Attempts:       attempts,
		JobID:          jobID,
		CreditsCharged: charged,
		LatencyMillis:  time.Since(startedAt).Milliseconds(),
		RequestedAt:    startedAt,
	})
}

func skipAttempt(candidate models.Model, reason string) genlog.Attempt {
	return genlog.Attempt{
		ModelID:  candidate.ID,
		Model:    candidate.ModelID,
		Provider: candidate.Provider.Slug,
		Outcome:  "skipped",
		Reason:   reason,
	}
}

func failAttempt(candidate models.Model, reason string, latency int64) genlog.Attempt {
	return genlog.Attempt{
		ModelID:       candidate.ID,
		Model:         candidate.ModelID,
		Provider:      candidate.Provider.Slug,
		Outcome:       "failed",
		Reason:        reason,
		LatencyMillis: latency,
	}
}
