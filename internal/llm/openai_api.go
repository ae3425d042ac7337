package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIAPIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIAPIClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewOpenAIAPIClient creates a new OpenAI client. An empty endpoint uses the public API.
func NewOpenAIAPIClient(apiKey, model, endpoint string, timeout time.Duration) *OpenAIAPIClient {
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &OpenAIAPIClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

type openAIRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	Temperature    *float64       `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat *openAIRespFmt `json:"response_format,omitempty"`
}

type openAIRespFmt struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends a chat completion request.
func (o *OpenAIAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = o.model
	}
	body := openAIRequest{
		Model:       model,
		Messages:    withSystem(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &openAIRespFmt{Type: "json_object"}
	}

	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	respBody, err := postJSON(ctx, o.client, o.Name(), o.endpoint+"/chat/completions", headers, body)
	if err != nil {
		return nil, err
	}

	var result openAIResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &ProviderError{Provider: o.Name(), Message: "failed to decode response: " + err.Error()}
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return nil, &ProviderError{Provider: o.Name(), Message: "no content in response"}
	}

	return &CompletionResponse{
		Content:    result.Choices[0].Message.Content,
		StopReason: result.Choices[0].FinishReason,
		Model:      result.Model,
		Usage: Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		},
		Duration: time.Since(start),
	}, nil
}

// Name returns the provider name.
func (o *OpenAIAPIClient) Name() string {
	return "openai"
}
