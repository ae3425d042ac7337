package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/daogate/internal/domain"
	"github.com/soyeahso/daogate/internal/llm"
)

// SuggestRequest describes a DAO in free text.
type SuggestRequest struct {
	Prompt      string `json:"prompt"`
	DAOName     string `json:"daoName"`
	TokenSymbol string `json:"tokenSymbol"`
}

const criteriaInstructions = `You turn a free-text description of who may join the DAO %q (%s) into a short list of eligibility criteria.

Rules:
1. Use only requirements the description states explicitly
2. Never add requirements or split one requirement into several similar ones
3. Produce exactly as many criteria as there are distinct requirements
4. Phrase each criterion abstractly and professionally, without quoting the description
5. Pick the closest icon for each criterion:
   - github: code and technical contributions
   - twitter: social and community engagement (only if mentioned)
   - wallet: financial or on-chain activity (only if mentioned)
   - generic: values, principles and anything else

Respond with a JSON object:
{"criteria": [{"title": "...", "description": "...", "icon": "github" | "twitter" | "wallet" | "generic"}]}`

// SuggestCriteria asks the evaluator to derive criteria from a DAO description.
// Replies that break the expected shape wrap ErrMalformedDecision.
func SuggestCriteria(ctx context.Context, client llm.Client, cfg EngineConfig, req SuggestRequest) ([]domain.Criterion, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}

	resp, err := client.Complete(ctx, llm.CompletionRequest{
		Model: cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: fmt.Sprintf(criteriaInstructions, req.DAOName, req.TokenSymbol)},
			{Role: llm.RoleUser, Content: "DAO Description: " + req.Prompt +
				"\n\nGenerate abstract, professional criteria from the core requirements in the description."},
		},
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}

	var parsed struct {
		Criteria []domain.Criterion `json:"criteria"`
	}
	if err := json.Unmarshal([]byte(stripFence(resp.Content)), &parsed); err != nil {
		return nil, malformed("criteria reply is not valid JSON: %v", err)
	}
	if parsed.Criteria == nil {
		return nil, malformed("criteria reply has no criteria array")
	}

	out := make([]domain.Criterion, 0, len(parsed.Criteria))
	for _, c := range parsed.Criteria {
		if strings.TrimSpace(c.Title) == "" {
			return nil, malformed("criterion without a title")
		}
		out = append(out, domain.Criterion{
			Title:       strings.TrimSpace(c.Title),
			Description: strings.TrimSpace(c.Description),
			Icon:        domain.NormalizeIcon(c.Icon),
		})
	}
	return out, nil
}
