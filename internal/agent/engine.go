package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/daogate/internal/config"
	"github.com/soyeahso/daogate/internal/domain"
	"github.com/soyeahso/daogate/internal/evidence"
	"github.com/soyeahso/daogate/internal/hooks"
	"github.com/soyeahso/daogate/internal/llm"
	"github.com/soyeahso/daogate/internal/logging"
)

// EngineConfig configures evaluator requests.
type EngineConfig struct {
	Model             string
	MaxTokens         int
	Temperature       *float64
	AcceptanceMessage string
}

// Turn is one inbound event: applicant text, an account connection, or both.
type Turn struct {
	Text       string
	Connection *Connection
}

// Connection is an account-connection event.
type Connection struct {
	Kind       domain.AccountKind
	Connected  bool
	Credential string // username or wallet address; may be empty
}

// Outcome is the result of one successful turn.
type Outcome struct {
	Message   string            `json:"message"`
	SessionID string            `json:"chatId"`
	Status    domain.Status     `json:"status"`
	ToolCalls []domain.ToolCall `json:"toolCalls"`
	Model     string            `json:"-"`
	Usage     llm.Usage         `json:"-"`
	Duration  time.Duration     `json:"-"`
}

// Engine advances evaluation sessions one turn at a time.
type Engine struct {
	cfg      EngineConfig
	oracle   llm.Client
	evidence *evidence.Set
	hooks    *hooks.Manager
	log      *logging.Logger
	now      func() time.Time
}

// NewEngine creates an engine. fetchers and hm may be nil.
func NewEngine(cfg EngineConfig, oracle llm.Client, fetchers *evidence.Set, hm *hooks.Manager, log *logging.Logger) *Engine {
	if cfg.AcceptanceMessage == "" {
		cfg.AcceptanceMessage = config.DefaultAcceptanceMessage
	}
	return &Engine{
		cfg:      cfg,
		oracle:   oracle,
		evidence: fetchers,
		hooks:    hm,
		log:      log.Sub("engine"),
		now:      time.Now,
	}
}

// NewSession returns a fresh in-progress session seeded with the evaluation
// instructions and the DAO briefing.
func (e *Engine) NewSession(id, daoName, tokenSymbol string, criteria []domain.Criterion) *domain.Session {
	now := e.now()
	crit := make([]domain.Criterion, len(criteria))
	for i, c := range criteria {
		crit[i] = domain.Criterion{
			Title:       c.Title,
			Description: c.Description,
			Icon:        domain.NormalizeIcon(c.Icon),
		}
	}

	sess := &domain.Session{
		ID:                id,
		Status:            domain.StatusInProgress,
		ConnectedAccounts: make(map[domain.AccountKind]bool),
		Criteria:          crit,
		DAOName:           daoName,
		TokenSymbol:       tokenSymbol,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	sess.Append(domain.Message{Role: domain.RoleSystem, Content: evaluationInstructions, Timestamp: now})
	sess.Append(domain.Message{Role: domain.RoleSystem, Content: BuildBriefing(daoName, tokenSymbol, crit), Timestamp: now})
	return sess
}

// Advance applies turn to a copy of sess, asks the evaluator for the next
// reply and interprets it. On error the returned session is nil and sess is
// untouched.
func (e *Engine) Advance(ctx context.Context, sess *domain.Session, turn Turn) (*domain.Session, *Outcome, error) {
	if sess.Status.Terminal() {
		return nil, nil, ErrSessionClosed
	}
	if turn.Connection == nil && strings.TrimSpace(turn.Text) == "" {
		return nil, nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}

	start := e.now()
	next := sess.Clone()

	if c := turn.Connection; c != nil {
		next.ConnectedAccounts[c.Kind] = c.Connected
		if c.Credential != "" {
			e.attachEvidence(ctx, next, c)
		}
		text := turn.Text
		if strings.TrimSpace(text) == "" {
			text = connectionNotice(c.Kind, c.Credential)
		}
		next.Append(domain.Message{Role: domain.RoleUser, Content: text, Timestamp: e.now()})
	} else {
		next.Append(domain.Message{Role: domain.RoleUser, Content: turn.Text, Timestamp: e.now()})
	}

	log := e.log.With("sessionId", next.ID)
	log.Debug().Int("historyLen", len(next.Messages)).Msg("calling evaluator")

	resp, err := e.oracle.Complete(ctx, llm.CompletionRequest{
		Model:       e.cfg.Model,
		System:      responseFormatInstruction,
		Messages:    transcript(next),
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		log.Error().Err(err).Str("provider", e.oracle.Name()).Msg("evaluator call failed")
		return nil, nil, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}

	decision, err := ParseDecision(resp.Content)
	if err != nil {
		log.Error().Err(err).Str("content", truncate(resp.Content, 512)).Msg("evaluator reply rejected")
		return nil, nil, err
	}
	if decision.Dropped > 0 {
		log.Debug().Int("dropped", decision.Dropped).Msg("filtered non-actionable tool calls")
	}

	message := decision.Message
	next.Status = decision.Status(next.Status)
	if next.Status == domain.StatusAccepted {
		message = e.cfg.AcceptanceMessage
	}
	markVerified(next.Criteria, decision.Verified)

	now := e.now()
	next.Append(domain.Message{
		Role:      domain.RoleAssistant,
		Content:   message,
		Timestamp: now,
		ToolCalls: decision.ToolCalls,
	})
	next.UpdatedAt = now

	out := &Outcome{
		Message:   message,
		SessionID: next.ID,
		Status:    next.Status,
		ToolCalls: decision.ToolCalls,
		Model:     resp.Model,
		Usage:     resp.Usage,
		Duration:  now.Sub(start),
	}

	log.Info().
		Str("status", string(out.Status)).
		Str("model", out.Model).
		Int("toolCalls", len(out.ToolCalls)).
		Int("inputTokens", out.Usage.InputTokens).
		Int("outputTokens", out.Usage.OutputTokens).
		Dur("duration", out.Duration).
		Msg("turn evaluated")

	return next, out, nil
}

// attachEvidence fetches evidence for c and appends it as a system entry.
// Failures are logged and otherwise ignored.
func (e *Engine) attachEvidence(ctx context.Context, sess *domain.Session, c *Connection) {
	payload, err := e.evidence.Fetch(ctx, c.Kind, c.Credential)
	if err == nil {
		var buf bytes.Buffer
		if err = json.Indent(&buf, payload, "", "  "); err == nil {
			sess.Append(domain.Message{
				Role:      domain.RoleSystem,
				Content:   fmt.Sprintf("%s:\n %s", evidence.Label(c.Kind), buf.String()),
				Timestamp: e.now(),
			})
			e.hooks.Emit(ctx, hooks.Payload{
				Event:     hooks.EventEvidenceFetched,
				SessionID: sess.ID,
				Status:    sess.Status,
				Data:      map[string]any{"kind": string(c.Kind)},
			})
			return
		}
	}

	e.log.Warn().
		Err(err).
		Str("sessionId", sess.ID).
		Str("kind", string(c.Kind)).
		Msg("evidence unavailable, continuing without it")
	e.hooks.Emit(ctx, hooks.Payload{
		Event:     hooks.EventEvidenceFailed,
		SessionID: sess.ID,
		Status:    sess.Status,
		Data:      map[string]any{"kind": string(c.Kind), "error": err.Error()},
	})
}

// transcript strips timestamps and tool calls for the evaluator.
func transcript(sess *domain.Session) []llm.Message {
	msgs := make([]llm.Message, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}

// markVerified sets Verified on criteria whose title appears in titles.
// Matching ignores case and surrounding space. Flags are never cleared.
func markVerified(criteria []domain.Criterion, titles []string) {
	if len(titles) == 0 {
		return
	}
	want := make(map[string]bool, len(titles))
	for _, t := range titles {
		want[strings.ToLower(strings.TrimSpace(t))] = true
	}
	for i := range criteria {
		if want[strings.ToLower(strings.TrimSpace(criteria[i].Title))] {
			criteria[i].Verified = true
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
