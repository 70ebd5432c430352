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

const defaultOpenAIBaseURL = "https://api.openai.com"

// OpenAIInvoker calls an OpenAI-compatible chat completions endpoint.
// It serves any provider exposing that wire surface, not only openai.com;
// the effective base URL comes from the credential when set.
type OpenAIInvoker struct {
	baseURL string
	client  *http.Client
}

// NewOpenAIInvoker constructs an OpenAIInvoker. baseURL may be empty.
func NewOpenAIInvoker(baseURL string) *OpenAIInvoker {
	return &OpenAIInvoker{baseURL: strings.TrimSpace(baseURL), client: newHTTPClient()}
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		FinishReason string          `json:"finish_reason"`
		Message      json.RawMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Invoke posts the payload to /v1/chat/completions with the upstream model
// identifier injected, and normalizes the response.
func (p *OpenAIInvoker) Invoke(ctx context.Context, model models.Model, payload json.RawMessage, cred Credential) Outcome {
	body, err := injectModelID(payload, model.ModelID)
	if err != nil {
		return Fatal(fmt.Sprintf("invalid payload: %v", err))
	}

	base := p.baseURL
	if strings.TrimSpace(cred.BaseURL) != "" {
		base = strings.TrimSpace(cred.BaseURL)
	}
	if base == "" {
		base = defaultOpenAIBaseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Fatal(fmt.Sprintf("build request: %v", err))
	}
	applyCredential(req, cred)

	resp, err := p.client.Do(req)
	if err != nil {
		return transportOutcome(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return transportOutcome(err)
	}
	if kind := classifyStatus(resp.StatusCode); kind != OutcomeSuccess {
		reason := fmt.Sprintf("upstream status %d", resp.StatusCode)
		var parsed openAIChatResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			reason = fmt.Sprintf("upstream status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		if kind == OutcomeFatalFailure {
			return Fatal(reason)
		}
		return Retryable(reason)
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Retryable(fmt.Sprintf("decode response: %v", err))
	}
	meta := map[string]any{
		"provider_response_id": parsed.ID,
		"upstream_model":       parsed.Model,
		"total_tokens":         parsed.Usage.TotalTokens,
	}
	return Success(raw, meta)
}

// injectModelID sets the "model" field on a JSON object payload so the
// catalog's upstream identifier always wins over whatever the caller sent.
func injectModelID(payload json.RawMessage, modelID string) ([]byte, error) {
	obj := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &obj); err != nil {
			return nil, err
		}
	}
	encoded, err := json.Marshal(modelID)
	if err != nil {
		return nil, err
	}
	obj["model"] = encoded
	return json.Marshal(obj)
}
