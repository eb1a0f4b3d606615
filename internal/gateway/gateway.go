// Package gateway implements the real-time side of the chat service:
// the websocket handshake, the per-user connection registry and the
// event dispatcher with its nonce-readback contract.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/SpeedyCraftah/go-chat-app/internal/metrics"
	"github.com/SpeedyCraftah/go-chat-app/internal/models"
)

const writeTimeout = 10 * time.Second

// TokenResolver resolves a bearer token to a user, or (nil, nil) when
// the token is invalid.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*models.User, error)
}

// Gateway upgrades HTTP requests to websocket connections and runs the
// per-connection receive loop.
type Gateway struct {
	registry   *Registry
	dispatcher *Dispatcher
	resolver   TokenResolver
	logger     zerolog.Logger

	upgrader websocket.Upgrader
}

// New creates a gateway over the given registry and dispatcher.
func New(registry *Registry, dispatcher *Dispatcher, resolver TokenResolver, logger zerolog.Logger) *Gateway {
	return &Gateway{
		registry:   registry,
		dispatcher: dispatcher,
		resolver:   resolver,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from a different origin in
			// development; session tokens gate access, not origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS is the handshake endpoint. The bearer token arrives as a
// query parameter; an invalid or missing token closes the connection
// with a policy-violation code rather than a normal close.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	user, err := g.resolver.ResolveToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		g.logger.Error().Err(err).Msg("gateway token resolution failed")
		g.closeWith(ws, websocket.CloseInternalServerErr)
		return
	}
	if user == nil {
		g.closeWith(ws, websocket.ClosePolicyViolation)
		return
	}

	conn := newConn(user.ID, ws)
	connID := g.registry.Register(user.ID, conn)
	metrics.GatewayConnections.Inc()

	g.logger.Info().
		Str("user_id", user.ID.String()).
		Str("conn_id", connID.String()).
		Msg("gateway connection established")

	go conn.writeLoop()

	// Let the socket know the connection is ready, along with the
	// identity it authenticated as.
	conn.Send(Event{Op: OpReady, Data: ReadyData{User: user.Safe()}})

	g.readLoop(ws, conn, user)

	g.registry.Unregister(user.ID, connID)
	conn.Close()
	metrics.GatewayConnections.Dec()

	g.logger.Info().
		Str("user_id", user.ID.String()).
		Str("conn_id", connID.String()).
		Msg("gateway connection closed")
}

// readLoop processes client frames in arrival order until the
// connection drops or a protocol violation occurs.
func (g *Gateway) readLoop(ws *websocket.Conn, conn *Conn, user *models.User) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var ev incomingEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Op == "" {
			g.closeWith(ws, websocket.CloseUnsupportedData)
			return
		}
		if ev.Data.ChannelType != models.ChannelTypeDM {
			g.closeWith(ws, websocket.CloseUnsupportedData)
			return
		}

		switch ev.Op {
		case OpTypingStart:
			channelID, err := uuid.Parse(ev.Data.ChannelID)
			if err != nil {
				// Same silent treatment as an unknown channel.
				continue
			}
			g.dispatcher.TypingStart(context.Background(), channelID, user)

		default:
			g.closeWith(ws, websocket.CloseUnsupportedData)
			return
		}
	}
}

// closeWith sends a close frame with the given code and tears the
// socket down.
func (g *Gateway) closeWith(ws *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	ws.Close()
}
