package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// OllamaAPIClient is a direct HTTP client for the Ollama chat API.
type OllamaAPIClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaAPIClient creates a new Ollama API client.
// baseURL should be like "http://localhost:11434"
func NewOllamaAPIClient(baseURL, model string, timeout time.Duration) *OllamaAPIClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &OllamaAPIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete sends a non-streaming chat request to Ollama.
func (o *OllamaAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = o.model
	}
	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	body := map[string]any{
		"model":    model,
		"messages": withSystem(req),
		"stream":   false,
		"options":  options,
	}
	if req.JSONMode {
		body["format"] = "json"
	}

	respBody, err := postJSON(ctx, o.client, o.Name(), o.baseURL+"/api/chat", nil, body)
	if err != nil {
		return nil, err
	}

	var result ollamaChatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &ProviderError{Provider: o.Name(), Message: "failed to decode response: " + err.Error()}
	}

	return &CompletionResponse{
		Content:    result.Message.Content,
		StopReason: result.DoneReason,
		Model:      result.Model,
		Usage:      Usage{InputTokens: result.PromptEvalCount, OutputTokens: result.EvalCount},
		Duration:   time.Since(start),
	}, nil
}

// Name returns the provider name.
func (o *OllamaAPIClient) Name() string {
	return "ollama"
}
