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

const defaultReplicateBaseURL = "https://api.replicate.com"

// ReplicateInvoker targets a Replicate-style asynchronous prediction API.
// A queued or running prediction maps to a pending outcome carrying the
// provider job identifier; a synchronously completed one maps to success.
type ReplicateInvoker struct {
	baseURL string
	client  *http.Client
}

// NewReplicateInvoker constructs a ReplicateInvoker. baseURL may be empty.
func NewReplicateInvoker(baseURL string) *ReplicateInvoker {
	return &ReplicateInvoker{baseURL: strings.TrimSpace(baseURL), client: newHTTPClient()}
}

type replicatePrediction struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output"`
	Error   string          `json:"error"`
	Metrics struct {
		PredictTime float64 `json:"predict_time"`
	} `json:"metrics"`
	Detail string `json:"detail"`
}

// Invoke submits a prediction and maps the lifecycle status to an outcome.
func (p *ReplicateInvoker) Invoke(ctx context.Context, model models.Model, payload json.RawMessage, cred Credential) Outcome {
	base := p.baseURL
	if strings.TrimSpace(cred.BaseURL) != "" {
		base = strings.TrimSpace(cred.BaseURL)
	}
	if base == "" {
		base = defaultReplicateBaseURL
	}

	input := payload
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(map[string]json.RawMessage{
		"version": mustJSONString(model.ModelID),
		"input":   input,
	})
	if err != nil {
		return Fatal(fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/v1/predictions", bytes.NewReader(body))
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
		var parsed replicatePrediction
		if json.Unmarshal(raw, &parsed) == nil && parsed.Detail != "" {
			reason = fmt.Sprintf("upstream status %d: %s", resp.StatusCode, parsed.Detail)
		}
		if kind == OutcomeFatalFailure {
			return Fatal(reason)
		}
		return Retryable(reason)
	}

	var parsed replicatePrediction
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Retryable(fmt.Sprintf("decode response: %v", err))
	}
	switch parsed.Status {
	case "succeeded":
		meta := map[string]any{
			"prediction_id": parsed.ID,
			"predict_time":  parsed.Metrics.PredictTime,
		}
		return Success(raw, meta)
	case "starting", "processing", "queued":
		// Replicate does not report an ETA; callers poll with the job id.
		return Pending(parsed.ID, 0)
	case "canceled":
		return Retryable("prediction canceled upstream")
	default:
		reason := "prediction failed"
		if parsed.Error != "" {
			reason = fmt.Sprintf("prediction failed: %s", parsed.Error)
		}
		return Retryable(reason)
	}
}

func mustJSONString(s string) json.RawMessage {
	encoded, _ := json.Marshal(s)
	return encoded
}
