package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router builds the HTTP handler with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors(s.cfg.AllowedOrigins))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/criteria/suggest", s.handleSuggestCriteria)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/sessions/{id}", s.handleGetSession)
		})
	})

	r.NotFound(handleNotFound)
	return r
}

// RequestHandler processes one RPC request.
type RequestHandler func(rc *RequestContext)

// RequestContext carries a request frame and its connection.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends a failed response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{Code: code, Message: message})
}

// RespondServiceError maps err the same way the REST surface does.
func (rc *RequestContext) RespondServiceError(err error) {
	status, code, msg := classifyError(err)
	if status >= http.StatusInternalServerError {
		rc.Server.log.Error().Err(err).Str("method", rc.Frame.Method).Msg("rpc failed")
	}
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{Code: code, Message: msg, Status: status})
}

// Params decodes the request params into target. Absent params leave target unchanged.
func (rc *RequestContext) Params(target any) error {
	if len(rc.Frame.Params) == 0 {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}

func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("session.get", s.rpcSessionGet)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
	}
	if !s.startedAt.IsZero() {
		resp.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	rc.Respond(resp)
}

func (s *Server) rpcChatSend(rc *RequestContext) {
	if s.service == nil {
		rc.RespondError(CodeUnavailable, "evaluation service not configured")
		return
	}
	var p ChatRequest
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, "Failed to process request: "+err.Error())
		return
	}

	// watch before the turn so a decision on this turn is delivered too;
	// a new chat's first reply already carries its status
	rc.Client.Watch(p.ChatID)
	out, err := s.service.Evaluate(rc.Ctx, p.toEvaluateRequest())
	if err != nil {
		rc.RespondServiceError(err)
		return
	}
	rc.Client.Watch(out.SessionID)
	rc.Respond(newChatResponse(out))
}

type sessionGetParams struct {
	ChatID string `json:"chatId"`
}

func (s *Server) rpcSessionGet(rc *RequestContext) {
	if s.service == nil {
		rc.RespondError(CodeUnavailable, "evaluation service not configured")
		return
	}
	var p sessionGetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.ChatID == "" {
		rc.RespondError(CodeInvalidParams, "chatId is required")
		return
	}

	sess, err := s.service.Get(rc.Ctx, p.ChatID)
	if err != nil {
		rc.RespondServiceError(err)
		return
	}
	rc.Client.Watch(sess.ID)
	rc.Respond(sess)
}
