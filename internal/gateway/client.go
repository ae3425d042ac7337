package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/daogate/internal/logging"
)

// Client is one authenticated WebSocket connection. It follows the chats it
// has driven or inspected, and receives decision events for those chats.
// A client that connected with watchAll follows every chat.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Auth        AuthResult
	ConnectedAt time.Time

	socket   *websocket.Conn
	watchAll bool

	mu     sync.Mutex // guards writes, closed and chats
	closed bool
	chats  map[string]struct{}
}

// NewClient wraps a connection that passed the handshake.
func NewClient(conn *websocket.Conn, params ConnectParams, auth AuthResult) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		Info:        params.Client,
		Auth:        auth,
		ConnectedAt: time.Now(),
		socket:      conn,
		watchAll:    params.WatchAll,
		chats:       make(map[string]struct{}),
	}
}

// Watch subscribes the client to decision events for chatID.
func (c *Client) Watch(chatID string) {
	if chatID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chats == nil {
		c.chats = make(map[string]struct{})
	}
	c.chats[chatID] = struct{}{}
}

// Watches reports whether decision events for chatID go to this client.
func (c *Client) Watches(chatID string) bool {
	if c.watchAll {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.chats[chatID]
	return ok
}

// Send writes one frame. Writes from the read loop and from hook goroutines
// are serialised here.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.socket.WriteJSON(frame)
}

// SendEvent sends a named event.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond answers request reqID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError fails request reqID.
func (c *Client) RespondError(reqID string, shape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, shape))
}

// ReadFrame blocks for the next frame. Only the read loop calls it.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.socket.Close()
}

// ClientRegistry holds the live connections keyed by connection id.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Bool("watchAll", c.watchAll).Msg("client connected")
}

func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Publish sends an event about chatID to the clients watching it and returns
// how many were addressed. Send failures are logged, not returned.
func (r *ClientRegistry) Publish(chatID, event string, payload any, seq int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.clients {
		if !c.Watches(chatID) {
			continue
		}
		n++
		if err := c.SendEvent(event, payload, seq); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("chatId", chatID).Str("event", event).Msg("event delivery failed")
		}
	}
	return n
}

// CloseAll closes and drops every connection.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
