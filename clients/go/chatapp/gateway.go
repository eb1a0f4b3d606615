package chatapp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Gateway op codes.
const (
	OpReady        = "READY"
	OpNewDMMessage = "NEW_DM_MESSAGE"
	OpTypingStart  = "TYPING_START"
)

// channelTypeDM is the only channel type the gateway accepts.
const channelTypeDM = 1

// TypingEvent notifies that a user started typing in a channel.
type TypingEvent struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// GatewayHandlers holds the callbacks for gateway events. Callbacks
// run on the read loop goroutine, so events for one connection are
// delivered in order; a slow callback delays subsequent events.
type GatewayHandlers struct {
	OnReady      func(user User)
	OnNewMessage func(msg Message)
	OnTyping     func(ev TypingEvent)

	// OnClose receives the websocket close code when the server tears
	// the connection down, or -1 for transport errors.
	OnClose func(code int, reason string)
}

// GatewayConn is a live gateway connection.
type GatewayConn struct {
	ws       *websocket.Conn
	handlers GatewayHandlers

	mu     sync.Mutex // guards writes
	closed bool

	ready chan User
	done  chan struct{}
}

// ConnectGateway dials the realtime gateway, authenticating with the
// client's session token. The returned connection is already running
// its read loop; events arrive via the handlers.
func (c *Client) ConnectGateway(handlers GatewayHandlers) (*GatewayConn, error) {
	if c.Session == "" {
		return nil, fmt.Errorf("not logged in")
	}

	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1)
	wsURL += "/api/gateway?token=" + url.QueryEscape(c.Session)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}

	g := &GatewayConn{
		ws:       ws,
		handlers: handlers,
		ready:    make(chan User, 1),
		done:     make(chan struct{}),
	}
	go g.readLoop()
	return g, nil
}

// WaitReady blocks until the server's READY event arrives or the
// connection closes.
func (g *GatewayConn) WaitReady() (User, error) {
	select {
	case user := <-g.ready:
		return user, nil
	case <-g.done:
		return User{}, fmt.Errorf("gateway connection closed before READY")
	}
}

// SendTyping notifies the other channel member that this user is
// typing.
func (g *GatewayConn) SendTyping(channelID string) error {
	frame := map[string]interface{}{
		"op": OpTypingStart,
		"data": map[string]interface{}{
			"channel_type": channelTypeDM,
			"channel_id":   channelID,
		},
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("gateway connection closed")
	}
	return g.ws.WriteJSON(frame)
}

// Close tears the connection down.
func (g *GatewayConn) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.ws.Close()
}

// readLoop decodes frames in arrival order and dispatches them to the
// handlers until the connection drops.
func (g *GatewayConn) readLoop() {
	defer close(g.done)

	for {
		_, data, err := g.ws.ReadMessage()
		if err != nil {
			code := -1
			reason := err.Error()
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
				reason = ce.Text
			}
			if g.handlers.OnClose != nil {
				g.handlers.OnClose(code, reason)
			}
			return
		}

		var envelope struct {
			Op   string          `json:"op"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		switch envelope.Op {
		case OpReady:
			var payload struct {
				User User `json:"user"`
			}
			if err := json.Unmarshal(envelope.Data, &payload); err != nil {
				continue
			}
			select {
			case g.ready <- payload.User:
			default:
			}
			if g.handlers.OnReady != nil {
				g.handlers.OnReady(payload.User)
			}

		case OpNewDMMessage:
			var msg Message
			if err := json.Unmarshal(envelope.Data, &msg); err != nil {
				continue
			}
			if g.handlers.OnNewMessage != nil {
				g.handlers.OnNewMessage(msg)
			}

		case OpTypingStart:
			var ev TypingEvent
			if err := json.Unmarshal(envelope.Data, &ev); err != nil {
				continue
			}
			if g.handlers.OnTyping != nil {
				g.handlers.OnTyping(ev)
			}
		}
	}
}
