package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/soyeahso/daogate/internal/agent"
	"github.com/soyeahso/daogate/internal/domain"
)

// maxBodyBytes caps request bodies on the REST surface.
const maxBodyBytes = 1 << 20

// ChatRequest is the body of POST /api/chat and the params of chat.send.
type ChatRequest struct {
	Message           string             `json:"message"`
	ChatID            string             `json:"chatId,omitempty"`
	DAOName           string             `json:"daoName"`
	TokenSymbol       string             `json:"tokenSymbol"`
	Criteria          []domain.Criterion `json:"criteria"`
	AccountConnection *AccountConnection `json:"accountConnection,omitempty"`
}

// AccountConnection reports that the applicant linked an account. Data holds
// the credential under the account type's key, e.g. {"github": "alice"}.
type AccountConnection struct {
	Type      string            `json:"type"`
	Connected bool              `json:"connected"`
	Data      map[string]string `json:"data,omitempty"`
}

// ChatResponse is the success body of POST /api/chat.
type ChatResponse struct {
	Message   string            `json:"message"`
	ChatID    string            `json:"chatId"`
	Status    domain.Status     `json:"status"`
	ToolCalls []domain.ToolCall `json:"toolCalls"`
}

// HealthResponse is returned by /health and the health RPC. The public
// endpoint fills Status only.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// toEvaluateRequest converts the wire shape. An unknown connection type is
// left for the service to reject.
func (req ChatRequest) toEvaluateRequest() agent.EvaluateRequest {
	out := agent.EvaluateRequest{
		Message:     req.Message,
		ChatID:      strings.TrimSpace(req.ChatID),
		DAOName:     req.DAOName,
		TokenSymbol: req.TokenSymbol,
		Criteria:    req.Criteria,
	}
	if ac := req.AccountConnection; ac != nil {
		kind := domain.AccountKind(strings.ToLower(strings.TrimSpace(ac.Type)))
		out.Connection = &agent.Connection{
			Kind:       kind,
			Connected:  ac.Connected,
			Credential: strings.TrimSpace(ac.Data[string(kind)]),
		}
	}
	return out
}

func newChatResponse(out *agent.Outcome) ChatResponse {
	calls := out.ToolCalls
	if calls == nil {
		calls = []domain.ToolCall{}
	}
	return ChatResponse{Message: out.Message, ChatID: out.SessionID, Status: out.Status, ToolCalls: calls}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, "evaluation service not configured")
		return
	}
	var req ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to process request: "+err.Error())
		return
	}

	out, err := s.service.Evaluate(r.Context(), req.toEvaluateRequest())
	if err != nil {
		s.writeEvaluateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newChatResponse(out))
}

func (s *Server) handleSuggestCriteria(w http.ResponseWriter, r *http.Request) {
	if s.suggest == nil {
		writeError(w, http.StatusServiceUnavailable, "criteria suggestion not configured")
		return
	}
	var req agent.SuggestRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to process request: "+err.Error())
		return
	}

	criteria, err := s.suggest(r.Context(), req)
	if err != nil {
		s.writeEvaluateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"criteria": criteria})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, "evaluation service not configured")
		return
	}
	sess, err := s.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEvaluateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "path": r.URL.Path})
}

// classifyError maps a service error to an HTTP status, an RPC code and the
// client-facing text. Internal details never reach the client.
func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, agent.ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidParams, "Failed to process request: " + validationDetail(err)
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, CodeNotFound, "session not found"
	case errors.Is(err, agent.ErrSessionClosed):
		return http.StatusConflict, CodeConflict, "session is closed"
	case errors.Is(err, agent.ErrOracleUnavailable):
		return http.StatusBadGateway, CodeUpstream, "Failed to get AI response"
	case errors.Is(err, agent.ErrMalformedDecision):
		return http.StatusBadGateway, CodeUpstream, "failed to parse response"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}

// validationDetail strips the sentinel prefix from a wrapped ErrInvalidRequest.
func validationDetail(err error) string {
	return strings.TrimPrefix(err.Error(), agent.ErrInvalidRequest.Error()+": ")
}

// writeEvaluateError is the single place service errors become HTTP responses.
func (s *Server) writeEvaluateError(w http.ResponseWriter, err error) {
	status, _, msg := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		s.log.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	writeError(w, status, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty body")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
