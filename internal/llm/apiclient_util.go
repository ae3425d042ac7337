package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

// maxErrorBody caps how much of a failed response body ends up in an error.
const maxErrorBody = 512

// postJSON marshals body, POSTs it and returns the raw response body.
// Non-2xx responses become a *ProviderError carrying the status code.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: provider, Message: "request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: provider, Message: "failed to read response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(respBody)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody] + "..."
		}
		return nil, &ProviderError{Provider: provider, Message: msg, Code: resp.StatusCode}
	}
	return respBody, nil
}

// withSystem prepends req.System to the transcript as a system message.
func withSystem(req CompletionRequest) []Message {
	if req.System == "" {
		return req.Messages
	}
	msgs := make([]Message, 0, len(req.Messages)+1)
	msgs = append(msgs, Message{Role: RoleSystem, Content: req.System})
	return append(msgs, req.Messages...)
}
