package gateway

import (
	"testing"

	"github.com/soyeahso/daogate/internal/config"
	"github.com/soyeahso/daogate/internal/logging"
	"github.com/stretchr/testify/assert"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestClientRegistry(t *testing.T) {
	reg := NewClientRegistry(testLog())
	assert.Equal(t, 0, reg.Count())

	a := &Client{ConnID: "a", Info: ClientInfo{ID: "cli"}}
	b := &Client{ConnID: "b"}
	reg.Add(a)
	reg.Add(b)
	assert.Equal(t, 2, reg.Count())

	reg.Remove("a")
	reg.Remove("missing")
	assert.Equal(t, 1, reg.Count())
}

func TestClientWatch(t *testing.T) {
	c := &Client{ConnID: "a"}
	assert.False(t, c.Watches("chat-1"))

	c.Watch("chat-1")
	c.Watch("")
	assert.True(t, c.Watches("chat-1"))
	assert.False(t, c.Watches("chat-2"))
	assert.False(t, c.Watches(""))

	all := NewClient(nil, ConnectParams{Client: ClientInfo{ID: "dashboard"}, WatchAll: true}, AuthResult{OK: true})
	assert.True(t, all.Watches("anything"))
	assert.Equal(t, "dashboard", all.Info.ID)
	assert.NotEmpty(t, all.ConnID)
}

func TestClientRegistryPublish(t *testing.T) {
	reg := NewClientRegistry(testLog())

	// closed clients fail delivery without touching a socket
	owner := &Client{ConnID: "owner", closed: true}
	owner.Watch("chat-1")
	other := &Client{ConnID: "other", closed: true}
	other.Watch("chat-2")
	monitor := &Client{ConnID: "monitor", closed: true, watchAll: true}
	reg.Add(owner)
	reg.Add(other)
	reg.Add(monitor)

	assert.Equal(t, 2, reg.Publish("chat-1", "session.decided", map[string]any{"chatId": "chat-1"}, 1))
	assert.Equal(t, 1, reg.Publish("chat-9", "session.decided", nil, 2))
}

func TestClientSendAfterClose(t *testing.T) {
	c := &Client{ConnID: "x", closed: true}
	assert.ErrorIs(t, c.Send(Frame{Type: FrameTypeEvent}), ErrClientClosed)
	assert.NoError(t, c.Close())
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		cfg  config.GatewayConfig
		want string
	}{
		{config.GatewayConfig{Port: 18790, Bind: "loopback"}, "127.0.0.1:18790"},
		{config.GatewayConfig{Port: 18790}, "127.0.0.1:18790"},
		{config.GatewayConfig{Port: 80, Bind: "lan"}, "0.0.0.0:80"},
		{config.GatewayConfig{Port: 80, Bind: "auto"}, "0.0.0.0:80"},
		{config.GatewayConfig{Port: 9000, Bind: "custom", CustomBindHost: "10.1.2.3"}, "10.1.2.3:9000"},
		{config.GatewayConfig{Port: 9000, Bind: "custom", CustomBindHost: "::1"}, "[::1]:9000"},
		{config.GatewayConfig{Port: 9000, Bind: "custom"}, "0.0.0.0:9000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveBindAddr(tt.cfg))
	}
}
