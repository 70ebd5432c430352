package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modo-studio/modo-dispatch/internal/models"
)

func TestRegistry_LookupNormalizesSlug(t *testing.T) {
	registry := NewRegistry()
	registry.Register("  OpenAI  ", NewOpenAIInvoker(""))

	if _, err := registry.Lookup("openai"); err != nil {
		t.Fatalf("expected lowercase lookup to hit, got %v", err)
	}
	if _, err := registry.Lookup("OPENAI"); err != nil {
		t.Fatalf("expected case-insensitive lookup to hit, got %v", err)
	}
	if _, err := registry.Lookup("missing"); err == nil {
		t.Fatalf("expected error for unregistered slug")
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   OutcomeKind
	}{
		{http.StatusOK, OutcomeSuccess},
		{http.StatusTooManyRequests, OutcomeRetryableFailure},
		{http.StatusRequestTimeout, OutcomeRetryableFailure},
		{http.StatusInternalServerError, OutcomeRetryableFailure},
		{http.StatusBadGateway, OutcomeRetryableFailure},
		{http.StatusBadRequest, OutcomeFatalFailure},
		{http.StatusUnauthorized, OutcomeFatalFailure},
		{http.StatusNotFound, OutcomeFatalFailure},
	}
	for _, tc := range cases {
		if got := classifyStatus(tc.status); got != tc.want {
			t.Fatalf("status %d: expected kind %d, got %d", tc.status, tc.want, got)
		}
	}
}

func TestOpenAIInvoker_Success(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"id":"cmpl-1","model":"gpt-5","choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"hi"}}],"usage":{"total_tokens":12}}`))
	}))
	defer server.Close()

	invoker := NewOpenAIInvoker(server.URL)
	outcome := invoker.Invoke(context.Background(),
		models.Model{ModelID: "gpt-5"},
		json.RawMessage(`{"model":"user-override","messages":[]}`),
		Credential{APIKey: "sk-test"},
	)

	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got kind=%d reason=%q", outcome.Kind, outcome.Reason)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody["model"] != "gpt-5" {
		t.Fatalf("expected catalog model id to win, got %v", gotBody["model"])
	}
	if outcome.Meta["total_tokens"] != 12 {
		t.Fatalf("expected token usage in meta, got %v", outcome.Meta["total_tokens"])
	}
}

func TestOpenAIInvoker_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer server.Close()

	outcome := NewOpenAIInvoker(server.URL).Invoke(context.Background(), models.Model{ModelID: "gpt-5"}, nil, Credential{})
	if outcome.Kind != OutcomeRetryableFailure {
		t.Fatalf("expected retryable, got %d", outcome.Kind)
	}
	if outcome.Reason != "upstream status 429: slow down" {
		t.Fatalf("unexpected reason %q", outcome.Reason)
	}
}

func TestOpenAIInvoker_BadRequestIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid prompt"}}`))
	}))
	defer server.Close()

	outcome := NewOpenAIInvoker(server.URL).Invoke(context.Background(), models.Model{ModelID: "gpt-5"}, nil, Credential{})
	if outcome.Kind != OutcomeFatalFailure {
		t.Fatalf("expected fatal, got %d", outcome.Kind)
	}
}

func TestOpenAIInvoker_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and cancels
		// r.Context() when the timed-out client disconnects; otherwise this
		// handler blocks forever and the deferred Close() deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	outcome := NewOpenAIInvoker(server.URL).Invoke(ctx, models.Model{ModelID: "gpt-5"}, nil, Credential{})
	if outcome.Kind != OutcomeRetryableFailure {
		t.Fatalf("expected retryable timeout, got %d", outcome.Kind)
	}
	if outcome.Reason != "provider timeout" {
		t.Fatalf("unexpected reason %q", outcome.Reason)
	}
}

func TestOpenAIInvoker_CredentialBaseURLWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"cmpl-2","choices":[]}`))
	}))
	defer server.Close()

	invoker := NewOpenAIInvoker("http://unreachable.invalid")
	outcome := invoker.Invoke(context.Background(), models.Model{ModelID: "gpt-5"}, nil, Credential{BaseURL: server.URL})
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected credential base url to be used, got kind=%d reason=%q", outcome.Kind, outcome.Reason)
	}
}

func TestReplicateInvoker_PendingAndSucceeded(t *testing.T) {
	status := "starting"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&req)
		if string(req["version"]) != `"wan-2.5"` {
			t.Errorf("expected version from catalog, got %s", req["version"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pred-1", "status": status})
	}))
	defer server.Close()

	invoker := NewReplicateInvoker(server.URL)
	outcome := invoker.Invoke(context.Background(), models.Model{ModelID: "wan-2.5"}, json.RawMessage(`{"prompt":"a cat"}`), Credential{})
	if outcome.Kind != OutcomePending {
		t.Fatalf("expected pending, got %d", outcome.Kind)
	}
	if outcome.JobID != "pred-1" {
		t.Fatalf("expected job id pred-1, got %q", outcome.JobID)
	}

	status = "succeeded"
	outcome = invoker.Invoke(context.Background(), models.Model{ModelID: "wan-2.5"}, nil, Credential{})
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %d", outcome.Kind)
	}
}

func TestReplicateInvoker_FailedPrediction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pred-2", "status": "failed", "error": "NSFW content"})
	}))
	defer server.Close()

	outcome := NewReplicateInvoker(server.URL).Invoke(context.Background(), models.Model{ModelID: "wan-2.5"}, nil, Credential{})
	if outcome.Kind != OutcomeRetryableFailure {
		t.Fatalf("expected retryable, got %d", outcome.Kind)
	}
	if outcome.Reason != "prediction failed: NSFW content" {
		t.Fatalf("unexpected reason %q", outcome.Reason)
	}
}

func TestStabilityInvoker_Artifacts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generation/sdxl/text-to-image" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"artifacts":[{"base64":"aGk=","seed":7,"finishReason":"SUCCESS"}]}`))
	}))
	defer server.Close()

	outcome := NewStabilityInvoker(server.URL).Invoke(context.Background(), models.Model{ModelID: "sdxl"}, json.RawMessage(`{"text_prompts":[]}`), Credential{})
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got kind=%d reason=%q", outcome.Kind, outcome.Reason)
	}
	if outcome.Meta["artifact_count"] != 1 {
		t.Fatalf("expected artifact count 1, got %v", outcome.Meta["artifact_count"])
	}
}

func TestStabilityInvoker_EmptyArtifactsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"artifacts":[]}`))
	}))
	defer server.Close()

	outcome := NewStabilityInvoker(server.URL).Invoke(context.Background(), models.Model{ModelID: "sdxl"}, nil, Credential{})
	if outcome.Kind != OutcomeRetryableFailure {
		t.Fatalf("expected retryable on empty artifacts, got %d", outcome.Kind)
	}
}
