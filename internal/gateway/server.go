// Package gateway serves the evaluation API over HTTP and a WebSocket RPC.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/daogate/internal/agent"
	"github.com/soyeahso/daogate/internal/config"
	"github.com/soyeahso/daogate/internal/domain"
	"github.com/soyeahso/daogate/internal/hooks"
	"github.com/soyeahso/daogate/internal/logging"
	"github.com/soyeahso/daogate/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

// maxFrameBytes caps inbound WebSocket frames.
const maxFrameBytes = 4 * 1024 * 1024

// Evaluator is the part of agent.Service the gateway needs.
type Evaluator interface {
	Evaluate(ctx context.Context, req agent.EvaluateRequest) (*agent.Outcome, error)
	Get(ctx context.Context, id string) (*domain.Session, error)
}

// SuggestFunc derives criteria from a DAO description.
type SuggestFunc func(ctx context.Context, req agent.SuggestRequest) ([]domain.Criterion, error)

// Server is the daogate HTTP + WebSocket server.
type Server struct {
	cfg      config.GatewayConfig
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	service Evaluator
	suggest SuggestFunc
	hooks   *hooks.Manager

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithService sets the evaluation service behind /api/chat and chat.send.
func WithService(svc Evaluator) ServerOption {
	return func(s *Server) { s.service = svc }
}

// WithSuggester enables POST /api/criteria/suggest.
func WithSuggester(fn SuggestFunc) ServerOption {
	return func(s *Server) { s.suggest = fn }
}

// WithHooks sets the hook manager for lifecycle events. Decisions are also
// pushed to connected WebSocket clients.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// New creates a gateway server.
func New(cfg config.GatewayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	if s.hooks != nil {
		s.hooks.On(hooks.EventSessionAccepted, "gateway.decisions", s.publishDecision)
		s.hooks.On(hooks.EventSessionRejected, "gateway.decisions", s.publishDecision)
	}
	return s
}

// checkWebSocketOrigin allows requests without an Origin header and those
// whose Origin is listed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isOriginAllowed(origin, allowed)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	return methods
}

func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// evaluation turns wait on the oracle
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Bind != "loopback" && s.auth.Mode != AuthModeNone {
		s.log.Warn().Msg("TLS is not enabled, credentials travel in cleartext")
	}

	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")
	s.hooks.Emit(ctx, hooks.Payload{Event: hooks.EventGatewayStart, Data: map[string]any{"addr": ln.Addr().String()}})

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
		s.hooks.Emit(shutdownCtx, hooks.Payload{Event: hooks.EventGatewayStop})
		s.hooks.Wait()
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the configured listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// publishDecision pushes session.decided to the clients watching the chat.
func (s *Server) publishDecision(_ context.Context, p hooks.Payload) error {
	s.clients.Publish(p.SessionID, "session.decided", map[string]any{
		"chatId": p.SessionID,
		"status": p.Status,
	}, s.eventSeq.Add(1))
	return nil
}

// handleWebSocket upgrades the connection and runs its read loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(r.Context(), client)
}

// handshake sends a challenge, then expects a connect request with valid
// credentials and answers it with HelloOK.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	challenge, err := NewEvent("connect.challenge", map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, CodeProtocol, "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			sendErrorAndClose(conn, frame.ID, CodeInvalidParams, "invalid connect params")
			return nil, fmt.Errorf("parsing connect params: %w", err)
		}
	}

	res := Authorize(s.auth, params.Auth)
	if !res.OK {
		sendErrorAndClose(conn, frame.ID, CodeUnauthorized, res.Reason)
		return nil, fmt.Errorf("auth failed: %s", res.Reason)
	}

	conn.SetReadDeadline(time.Time{})
	client := NewClient(conn, params, res)

	resp, err := NewResponse(frame.ID, HelloOK{
		Protocol: ProtocolVersion,
		Server:   ServerInfo{Version: s.version, Commit: version.Commit, ConnID: client.ConnID},
		Methods:  s.Methods(),
		Events:   []string{"connect.challenge", "session.decided"},
		Policy:   Policy{MaxPayload: maxFrameBytes},
	})
	if err != nil {
		return nil, fmt.Errorf("creating hello response: %w", err)
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("authMethod", res.Method).
		Msg("client authenticated")
	return client, nil
}

func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		s.dispatch(ctx, client, frame)
	}
}

// dispatch runs the handler for frame inline, so one client's requests are
// answered in order.
func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{Code: CodeMethodNotFound, Message: "unknown method: " + frame.Method})
		return
	}
	handler(&RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s})
}

func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}

// authRateLimiter tracks failed auth attempts per IP.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{failures: make(map[string][]time.Time), now: time.Now}
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

// recent drops expired failures for host and returns the rest. Callers hold mu.
func (l *authRateLimiter) recent(host string) []time.Time {
	cutoff := l.now().Add(-authRateWindow)
	times := l.failures[host]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, host)
		return nil
	}
	l.failures[host] = kept
	return kept
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recent(hostOf(remoteAddr))) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, tracked := l.failures[host]; !tracked && len(l.failures) >= authRateMaxIPs {
		var oldestIP string
		var oldest time.Time
		for ip, times := range l.failures {
			if len(times) > 0 && (oldestIP == "" || times[0].Before(oldest)) {
				oldestIP, oldest = ip, times[0]
			}
		}
		delete(l.failures, oldestIP)
	}
	l.failures[host] = append(l.failures[host], l.now())
}
