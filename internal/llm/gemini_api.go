package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"
)

// GeminiClient wraps the official genai SDK.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

// NewGeminiClient creates a Gemini client. endpoint overrides the API base URL when set.
func NewGeminiClient(ctx context.Context, apiKey, model, endpoint string, timeout time.Duration) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if endpoint != "" {
		cfg.HTTPOptions.BaseURL = endpoint
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}

	cli, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

// Complete sends a generateContent request.
func (g *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = g.model
	}
	system, contents := geminiContents(req)

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := g.cli.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, &ProviderError{Provider: g.Name(), Message: err.Error()}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &ProviderError{Provider: g.Name(), Message: "no candidates in response"}
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			text.WriteString(p.Text)
		}
	}

	out := &CompletionResponse{
		Content:    text.String(),
		StopReason: string(resp.Candidates[0].FinishReason),
		Model:      model,
		Duration:   time.Since(start),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{InputTokens: int(u.PromptTokenCount), OutputTokens: int(u.CandidatesTokenCount)}
	}
	return out, nil
}

// Name returns the provider name.
func (g *GeminiClient) Name() string {
	return "gemini"
}

// geminiContents splits a request into a system instruction and chat contents.
// Leading system messages join the instruction. Later system messages (such as
// injected evidence) stay in place as user content so ordering is preserved.
func geminiContents(req CompletionRequest) (string, []*genai.Content) {
	var system []string
	if req.System != "" {
		system = append(system, req.System)
	}

	var contents []*genai.Content
	for _, m := range req.Messages {
		switch {
		case m.Role == RoleSystem && len(contents) == 0:
			system = append(system, m.Content)
		case m.Role == RoleSystem:
			contents = append(contents, genai.NewContentFromText("System: "+m.Content, genai.RoleUser))
		case m.Role == RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}
