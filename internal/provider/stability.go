package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/modo-studio/modo-dispatch/internal/models"
)

const defaultStabilityBaseURL = "https://api.stability.ai"

// StabilityInvoker calls a Stability-style synchronous image generation
// endpoint that returns base64 artifacts in the response body.
type StabilityInvoker struct {
	baseURL string
	client  *http.Client
}

// NewStabilityInvoker constructs a StabilityInvoker. baseURL may be empty.
func NewStabilityInvoker(baseURL string) *StabilityInvoker {
	return &StabilityInvoker{baseURL: strings.TrimSpace(baseURL), client: newHTTPClient()}
}

type stabilityResponse struct {
	Artifacts []struct {
		Base64       string `json:"base64"`
		Seed         uint64 `json:"seed"`
		FinishReason string `json:"finishReason"`
	} `json:"artifacts"`
	Message string `json:"message"`
}

// Invoke posts the payload to the model's generation endpoint and returns the
// artifact list as the success payload.
func (p *StabilityInvoker) Invoke(ctx context.Context, model models.Model, payload json.RawMessage, cred Credential) Outcome {
	base := p.baseURL
	if strings.TrimSpace(cred.BaseURL) != "" {
		base = strings.TrimSpace(cred.BaseURL)
	}
	if base == "" {
		base = defaultStabilityBaseURL
	}
	endpoint := fmt.Sprintf("%s/v1/generation/%s/text-to-image", strings.TrimRight(base, "/"), model.ModelID)

	body := payload
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Fatal(fmt.Sprintf("build request: %v", err))
	}
	applyCredential(req, cred)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return transportOutcome(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return transportOutcome(err)
	}
	if kind := classifyStatus(resp.StatusCode); kind != OutcomeSuccess {
		reason := fmt.Sprintf("upstream status %d", resp.StatusCode)
		var parsed stabilityResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Message != "" {
			reason = fmt.Sprintf("upstream status %d: %s", resp.StatusCode, parsed.Message)
		}
		if kind == OutcomeFatalFailure {
			return Fatal(reason)
		}
		return Retryable(reason)
	}

	var parsed stabilityResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Retryable(fmt.Sprintf("decode response: %v", err))
	}
	if len(parsed.Artifacts) == 0 {
		return Retryable("upstream returned no artifacts")
	}
	meta := map[string]any{
		"artifact_count": len(parsed.Artifacts),
		"finish_reason":  parsed.Artifacts[0].FinishReason,
	}
	return Success(raw, meta)
}
