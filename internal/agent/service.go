package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/soyeahso/daogate/internal/domain"
	"github.com/soyeahso/daogate/internal/hooks"
	"github.com/soyeahso/daogate/internal/logging"
)

// Unknown chat id policies.
const (
	UnknownChatCreate = "create"
	UnknownChatReject = "reject"
)

// ServiceConfig configures request handling.
type ServiceConfig struct {
	UnknownChat string // UnknownChatCreate (default) or UnknownChatReject
}

// EvaluateRequest is one inbound evaluation turn.
type EvaluateRequest struct {
	Message     string
	ChatID      string
	DAOName     string
	TokenSymbol string
	Criteria    []domain.Criterion
	Connection  *Connection
}

// Service loads or creates sessions, runs the engine and persists results.
type Service struct {
	cfg    ServiceConfig
	engine *Engine
	store  SessionStore
	locker Locker
	hooks  *hooks.Manager
	log    *logging.Logger
	newID  func() string
}

// NewService wires a Service. A nil locker means an in-process KeyedMutex.
func NewService(cfg ServiceConfig, engine *Engine, store SessionStore, locker Locker, hm *hooks.Manager, log *logging.Logger) *Service {
	if cfg.UnknownChat == "" {
		cfg.UnknownChat = UnknownChatCreate
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Service{
		cfg:    cfg,
		engine: engine,
		store:  store,
		locker: locker,
		hooks:  hm,
		log:    log.Sub("service"),
		newID:  func() string { return uuid.New().String() },
	}
}

// Evaluate runs one turn. The session is saved only if the whole turn succeeds.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (*Outcome, error) {
	if err := validateTurn(req); err != nil {
		return nil, err
	}

	if req.ChatID == "" {
		return s.start(ctx, req)
	}

	unlock, err := s.locker.Lock(ctx, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("locking session %s: %w", req.ChatID, err)
	}
	defer unlock()

	sess, err := s.store.Load(ctx, req.ChatID)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		if s.cfg.UnknownChat == UnknownChatReject {
			return nil, fmt.Errorf("chat %s: %w", req.ChatID, domain.ErrSessionNotFound)
		}
		s.log.Info().Str("chatId", req.ChatID).Msg("unknown chat id, starting a new session")
		return s.start(ctx, req)
	case err != nil:
		return nil, fmt.Errorf("loading session %s: %w", req.ChatID, err)
	}

	if sess.Status.Terminal() {
		return nil, ErrSessionClosed
	}
	return s.advance(ctx, sess, Turn{Text: req.Message, Connection: req.Connection}, false)
}

// start creates a session and runs its first turn. A connection event on a
// brand-new session is ignored.
func (s *Service) start(ctx context.Context, req EvaluateRequest) (*Outcome, error) {
	if err := validateNewSession(req); err != nil {
		return nil, err
	}
	sess := s.engine.NewSession(s.newID(), strings.TrimSpace(req.DAOName), strings.TrimSpace(req.TokenSymbol), req.Criteria)
	return s.advance(ctx, sess, Turn{Text: req.Message}, true)
}

func (s *Service) advance(ctx context.Context, sess *domain.Session, turn Turn, created bool) (*Outcome, error) {
	prev := sess.Status

	next, out, err := s.engine.Advance(ctx, sess, turn)
	if err != nil {
		return nil, err
	}
	if !out.Status.Valid() {
		return nil, fmt.Errorf("engine produced unknown status %q", out.Status)
	}

	if err := s.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("saving session %s: %w", next.ID, err)
	}

	if created {
		s.hooks.Emit(ctx, hooks.Payload{Event: hooks.EventSessionCreated, SessionID: next.ID, Status: next.Status})
	}
	s.hooks.Emit(ctx, hooks.Payload{
		Event:     hooks.EventTurnCompleted,
		SessionID: next.ID,
		Status:    next.Status,
		Data:      map[string]any{"model": out.Model, "toolCalls": len(out.ToolCalls)},
	})
	if event := hooks.TerminalEvent(next.Status); event != "" && !prev.Terminal() {
		s.log.Info().Str("sessionId", next.ID).Str("status", string(next.Status)).Msg("evaluation finished")
		s.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.Payload{
			Event:     event,
			SessionID: next.ID,
			Status:    next.Status,
			Session:   next.Clone(),
			Data:      map[string]any{"message": out.Message},
		})
	}
	return out, nil
}

// Get returns a stored session.
func (s *Service) Get(ctx context.Context, id string) (*domain.Session, error) {
	return s.store.Load(ctx, id)
}

// List returns stored session ids.
func (s *Service) List(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

func validateTurn(req EvaluateRequest) error {
	if c := req.Connection; c != nil {
		if !c.Kind.Valid() {
			return fmt.Errorf("%w: unknown account type %q", ErrInvalidRequest, c.Kind)
		}
		return nil
	}
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	return nil
}

func validateNewSession(req EvaluateRequest) error {
	var missing []string
	if strings.TrimSpace(req.Message) == "" {
		missing = append(missing, "message")
	}
	if strings.TrimSpace(req.DAOName) == "" {
		missing = append(missing, "daoName")
	}
	if strings.TrimSpace(req.TokenSymbol) == "" {
		missing = append(missing, "tokenSymbol")
	}
	if len(req.Criteria) == 0 {
		missing = append(missing, "criteria")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	for i, c := range req.Criteria {
		if strings.TrimSpace(c.Title) == "" {
			return fmt.Errorf("%w: criteria[%d] has no title", ErrInvalidRequest, i)
		}
	}
	return nil
}
