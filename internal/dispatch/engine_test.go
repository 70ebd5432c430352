package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/modo-studio/modo-dispatch/internal/genlog"
	"github.com/modo-studio/modo-dispatch/internal/ledger"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"github.com/modo-studio/modo-dispatch/internal/provider"
)

type fakeChains struct {
	candidates []models.Model
	err        error
}

func (f *fakeChains) Resolve(context.Context, models.Tier, models.Modality) ([]models.Model, error) {
	return f.candidates, f.err
}

type fakeLedger struct {
	balance    int64
	deductions []string
	deductErr  error
}

func (f *fakeLedger) CheckReserve(_ context.Context, _ uint64, cost int64) error {
	if cost <= 0 {
		return nil
	}
	if f.balance < cost {
		return ledger.ErrInsufficientCredits
	}
	return nil
}

func (f *fakeLedger) Deduct(_ context.Context, _ uint64, cost int64, _, referenceID string) error {
	if f.deductErr != nil {
		return f.deductErr
	}
	if f.balance < cost {
		return ledger.ErrInsufficientCredits
	}
	f.balance -= cost
	f.deductions = append(f.deductions, referenceID)
	return nil
}

func (f *fakeLedger) Credit(context.Context, uint64, int64, string, string) error { return nil }

func (f *fakeLedger) Account(context.Context, uint64) (models.CreditAccount, error) {
	return models.CreditAccount{Balance: f.balance}, nil
}

type invokerFunc func(ctx context.Context, model models.Model, payload json.RawMessage, cred provider.Credential) provider.Outcome

func (fn invokerFunc) Invoke(ctx context.Context, model models.Model, payload json.RawMessage, cred provider.Credential) provider.Outcome {
	return fn(ctx, model, payload, cred)
}

type fakeInvokers struct {
	bySlug map[string]provider.Invoker
}

func (f *fakeInvokers) Lookup(slug string) (provider.Invoker, error) {
	invoker, ok := f.bySlug[slug]
	if !ok {
		return nil, fmt.Errorf("provider: no invoker for %q", slug)
	}
	return invoker, nil
}

type fakeCreds struct {
	err error
}

func (f *fakeCreds) ActiveCredential(context.Context, uint64) (provider.Credential, error) {
	return provider.Credential{APIKey: "test-key"}, f.err
}

type memRecorder struct {
	records []genlog.Record
}

func (m *memRecorder) Record(_ context.Context, rec genlog.Record) {
	m.records = append(m.records, rec)
}

func candidate(id uint64, modelID, slug string, cost int64) models.Model {
	return models.Model{
		ID:         id,
		ProviderID: id,
		ModelID:    modelID,
		Modality:   models.ModalityText,
		CreditCost: cost,
		IsActive:   true,
		Provider:   models.Provider{ID: id, Slug: slug, IsEnabled: true},
	}
}

func staticOutcome(outcome provider.Outcome) provider.Invoker {
	return invokerFunc(func(context.Context, models.Model, json.RawMessage, provider.Credential) provider.Outcome {
		return outcome
	})
}

func newTestEngine(chains ChainResolver, credits ledger.Ledger, invokers InvokerSource, recorder Recorder) *Engine {
	return NewEngine(chains, credits, invokers, &fakeCreds{}, recorder, nil, time.Second)
}

func TestGenerate_FirstCandidateSucceeds(t *testing.T) {
	credits := &fakeLedger{balance: 100}
	recorder := &memRecorder{}
	engine := newTestEngine(
		&fakeChains{candidates: []models.Model{candidate(1, "gpt-5", "openai", 10)}},
		credits,
		&fakeInvokers{bySlug: map[string]provider.Invoker{
			"openai": staticOutcome(provider.Success(json.RawMessage(`{"ok":true}`), nil)),
		}},
		recorder,
	)

	result, err := engine.Generate(context.Background(), Request{AccountID: 1, Tier: models.TierCreator, Modality: models.ModalityText})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Status != StatusSucceeded {
		t.Fatalf("expected succeeded status, got %d", result.Status)
	}
	if result.CreditsCharged != 10 || credits.balance != 90 {
		t.Fatalf("expected one charge of 10, charged=%d balance=%d", result.CreditsCharged, credits.balance)
	}
	if result.RequestID == "" {
		t.Fatalf("expected request id to be assigned")
	}
	if len(recorder.records) != 1 || recorder.records[0].Status != models.GenerationStatusSucceeded {
		t.Fatalf("expected one succeeded record, got %+v", recorder.records)
	}
}

func TestGenerate_FallsBackOnRetryableFailure(t *testing.T) {
	credits := &fakeLedger{balance: 100}
	engine := newTestEngine(
		&fakeChains{candidates: []models.Model{
			candidate(1, "gpt-5", "openai", 10),
			candidate(2, "sdxl", "stability", 5),
		}},
		credits,
		&fakeInvokers{bySlug: map[string]provider.Invoker{
			"openai":    staticOutcome(provider.Retryable("upstream status 503")),
			"stability": staticOutcome(provider.Success(json.RawMessage(`{}`), nil)),
		}},
		&memRecorder{},
	)

	result, err := engine.Generate(context.Background(), Request{RequestID: "req-fb", AccountID: 1, Tier: models.TierCreator, Modality: models.ModalityText})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Model.ModelID != "sdxl" {
		t.Fatalf("expected fallback to sdxl, got %q", result.Model.ModelID)
	}
	if credits.balance != 95 {
		t.Fatalf("expected only the landing candidate charged, balance=%d", credits.balance)
	}
	if len(credits.deductions) != 1 || credits.deductions[0] != "req-fb" {
		t.Fatalf("expected single deduction keyed by request id, got %v", credits.deductions)
	}
	if len(result.Attempts) != 1 || result.Attempts[0].Outcome != "failed" {
		t.Fatalf("expected one failed attempt in history, got %+v", result.Attempts)
	}
}

func TestGenerate_FatalFailureStopsChain(t *testing.T) {
	credits := &fakeLedger{balance: 100}
	invoked := 0
	engine := newTestEngine(
		&fakeChains{candidates: []models.Model{
			candidate(1, "gpt-5", "openai", 10),
			candidate(2, "sdxl", "stability", 5),
		}},
		credits,
		&fakeInvokers{bySlug: map[string]provider.Invoker{
			"openai": staticOutcome(provider.Fatal("upstream status 400: bad prompt")),
			"stability": invokerFunc(func(context.Context, models.Model, json.RawMessage, provider.Credential) provider.Outcome {
				invoked++
				return provider.Success(nil, nil)
			}),
		}},
		&memRecorder{},
	)

	_, err := engine.Generate(context.Background(), Request{AccountID: 1, Tier: models.TierCreator, Modality: models.ModalityText})
	var fatal *FatalProviderError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalProviderError, got %v", err)
	}
	if fatal.Model != "gpt-5" {
		t.Fatalf("expected fatal model gpt-5, got %q", fatal.Model)
	}
	if invoked != 0 {
		t.Fatalf("expected no further candidates invoked after fatal failure")
	}
	if credits.balance != 100 {
		t.Fatalf("expected no charge on fatal failure, balance=%d", credits.balance)
	}
}

func TestGenerate_SkipsUnaffordableCandidate(t *testing.T) {
	credits := &fakeLedger{balance: 4}
	engine := newTestEngine(
		&fakeChains{candidates: []models.Model{
			candidate(1, "gpt-5", "openai", 10),
			candidate(2, "gpt-4o-mini", "openai", 2),
		}},
		credits,
		&fakeInvokers{bySlug: map[string]provider.Invoker{
			"openai": staticOutcome(provider.Success(json.RawMessage(`{}`), nil)),
		}},
		&memRecorder{},
	)

	result, err := engine.Generate(context.Background(), Request{AccountID: 1, Tier: models.TierCreator, Modality: models.ModalityText})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Model.ModelID != "gpt-4o-mini" {
		t.Fatalf("expected the affordable candidate, got %q", result.Model.ModelID)
	}
	if credits.balance != 2 {
		t.Fatalf("expected charge of 2, balance=%d", credits.balance)
	}
	if len(result.Attempts) != 1 || result.Attempts[0].Outcome != "skipped" {
		t.Fatalf("expected a skipped attempt for the expensive candidate, got %+v", result.Attempts)
	}
}

func TestGenerate_AllCandidatesUnaffordable(t *testing.T) {
	credits := &fakeLedger{balance: 1}
	engine := newTestEngine(
		&fakeChains{candidates: []models.Model{
			candidate(1, "gpt-5", "openai", 10),
			candidate(2, "gpt-4o-mini", "openai", 2),
		}},
		credits,
		&fakeInvokers{bySlug: map[string]provider.Invoker{
			"openai": staticOutcome(provider.Success(nil, nil)),
		}},
		&memRecorder{},
	)

	_, err := engine.Generate(context.Background(), Request{AccountID: 1, Tier: models.TierCreator, Modality: models.ModalityText})
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Required != 2 {
		t.Fatalf("expected cheapest skipped cost 2, got %d", insufficient.Required)
	}
}

func TestGenerate_EmptyChain(t *testing.T) {
	recorder := &memRecorder{}
	engine := newTestEngine(&fakeChains{}, &fakeLedger{balance: 100}, &fakeInvokers{}, recorder)

	_, err := engine.Generate(context.Background(), Request{AccountID: 1, Tier: models.TierCreator, Modality: models.ModalityVideo})
	if !errors.Is(err, ErrNoProviderConfigured) {
		t.Fatalf("expected ErrNoProviderConfigured, got %v", err)
	}
	if len(recorder.records) != 1 || recorder.records[0].Status != models.GenerationStatusFailed {
		t.Fatalf("expected failed record, got %+v", recorder.records)
	}
}

func TestGenerate_ExhaustedChain(t *testing.T) {
	engine := newTestEngine(
		&fakeChains{candidates: []models.Model{
			candidate(1, "gpt-5", "openai", 0),
			candidate(2, "sdxl", "stability", 0),
		}},
		&fakeLedger{balance: 100},
		&fakeInvokers{bySlug: map[string]provider.Invoker{
			"openai":    staticOutcome(provider.Retryable("upstream status 503")),
			"stability": staticOutcome(provider.Retryable("provider timeout")),
		}},
		&memRecorder{},
	)

	_, err := engine.Generate(context.Background(), Request{AccountID: 1, Tier: models.TierCreator, Modality: models.ModalityText})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if len(exhausted.Attempts) != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", len(exhausted.Attempts))
	}
}

func TestGenerate_PendingOutcome(t *testing.T) {
	credits := &fakeLedger{balance: 100}
	engine := newTestEngine(
		&fakeChains{candidates: []models.Model{candidate(1, "wan-2.5", "replicate", 20)}},
		credits,
		&fakeInvokers{bySlug: map[string]provider.Invoker{
			"replicate": staticOutcome(provider.Pending("pred-123", 45)),
		}},
		&memRecorder{},
	)

	result, err := engine.Generate(context.Background(), Request{AccountID: 1, Tier: models.TierStudio, Modality: models.ModalityText})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Status != StatusPending {
		t.Fatalf("expected pending status, got %d", result.Status)
	}
	if result.JobID != "pred-123" || result.ETASeconds != 45 {
		t.Fatalf("expected job id and eta carried through, got %q %d", result.JobID, result.ETASeconds)
	}
	if credits.balance != 80 {
		t.Fatalf("expected pending jobs charged immediately, balance=%d", credits.balance)
	}
}

func TestGenerate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newTestEngine(
		&fakeChains{candidates: []models.Model{candidate(1, "gpt-5", "openai", 0)}},
		&fakeLedger{balance: 100},
		&fakeInvokers{bySlug: map[string]provider.Invoker{
			"openai": staticOutcome(provider.Success(nil, nil)),
		}},
		&memRecorder{},
	)

	_, err := engine.Generate(ctx, Request{AccountID: 1, Tier: models.TierCreator, Modality: models.ModalityText})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestGenerate_DeductRaceFailsRequest(t *testing.T) {
	credits := &fakeLedger{balance: 100, deductErr: ledger.ErrInsufficientCredits}
	engine := newTestEngine(
		&fakeChains{candidates: []models.Model{candidate(1, "gpt-5", "openai", 10)}},
		credits,
		&fakeInvokers{bySlug: map[string]provider.Invoker{
			"openai": staticOutcome(provider.Success(nil, nil)),
		}},
		&memRecorder{},
	)

	_, err := engine.Generate(context.Background(), Request{AccountID: 1, Tier: models.TierCreator, Modality: models.ModalityText})
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError on deduct race, got %v", err)
	}
}

func TestGenerate_SkipsCandidateWithoutCredential(t *testing.T) {
	credits := &fakeLedger{balance: 100}
	engine := NewEngine(
		&fakeChains{candidates: []models.Model{candidate(1, "gpt-5", "openai", 10)}},
		credits,
		&fakeInvokers{bySlug: map[string]provider.Invoker{
			"openai": staticOutcome(provider.Success(nil, nil)),
		}},
		&fakeCreds{err: errors.New("credentials: no enabled key for provider")},
		&memRecorder{},
		nil,
		time.Second,
	)

	_, err := engine.Generate(context.Background(), Request{AccountID: 1, Tier: models.TierCreator, Modality: models.ModalityText})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if len(exhausted.Attempts) != 1 || exhausted.Attempts[0].Reason != "no credential available" {
		t.Fatalf("expected credential skip attempt, got %+v", exhausted.Attempts)
	}
	if credits.balance != 100 {
		t.Fatalf("expected no charge, balance=%d", credits.balance)
	}
}

func TestGenerate_FreeModelBypassesCredits(t *testing.T) {
	credits := &fakeLedger{balance: 0}
	recorder := &memRecorder{}
	engine := newTestEngine(
		&fakeChains{candidates: []models.Model{candidate(1, "community-sd", "stability", 0)}},
		credits,
		&fakeInvokers{bySlug: map[string]provider.Invoker{
			"stability": staticOutcome(provider.Success(json.RawMessage(`{"artifacts":1}`), nil)),
		}},
		recorder,
	)

	result, err := engine.Generate(context.Background(), Request{AccountID: 1, Tier: models.TierTrial, Modality: models.ModalityText})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Status != StatusSucceeded {
		t.Fatalf("expected succeeded status, got %d", result.Status)
	}
	if result.CreditsCharged != 0 {
		t.Fatalf("expected no charge for a free model, got %d", result.CreditsCharged)
	}
	if credits.balance != 0 {
		t.Fatalf("expected balance untouched at 0, got %d", credits.balance)
	}
	if len(credits.deductions) != 0 {
		t.Fatalf("expected no ledger deductions, got %v", credits.deductions)
	}
	if len(recorder.records) != 1 || recorder.records[0].CreditsCharged != 0 {
		t.Fatalf("expected one zero-cost record, got %+v", recorder.records)
	}
}
