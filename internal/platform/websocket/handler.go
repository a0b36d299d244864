package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic-live/internal/platform/auth"
	"github.com/ehr/clinic-live/pkg/wire"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before the connection is
	// considered dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
	sendBufSize    = 256
)

// WebSocketHandler upgrades /ws/:concern requests and runs the client pumps.
type WebSocketHandler struct {
	hub        *Hub
	auth       auth.Authenticator
	processors map[wire.Concern]Processor
	logger     zerolog.Logger
	upgrader   gorillawebsocket.Upgrader
}

// NewWebSocketHandler creates a handler. allowedOrigins empty allows every
// origin.
func NewWebSocketHandler(hub *Hub, authn auth.Authenticator, logger zerolog.Logger, allowedOrigins ...string) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:        hub,
		auth:       authn,
		processors: make(map[wire.Concern]Processor),
		logger:     logger.With().Str("component", "ws-handler").Logger(),
	}
	h.upgrader = gorillawebsocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Handle binds a processor to a concern. Concerns without a processor
// answer 404.
func (wsh *WebSocketHandler) Handle(concern wire.Concern, p Processor) {
	wsh.processors[concern] = p
}

// RegisterRoutes registers the upgrade endpoint on g, normally the /ws group.
func (wsh *WebSocketHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/:concern", wsh.HandleConnect)
}

// HandleConnect authenticates the request, upgrades it and starts the pumps.
func (wsh *WebSocketHandler) HandleConnect(c echo.Context) error {
	concern, err := wire.ParseConcern(c.Param("concern"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	proc, ok := wsh.processors[concern]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "concern not served")
	}

	id, err := wsh.auth.Authenticate(c.Request())
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		wsh.logger.Debug().Err(err).Msg("upgrade failed")
		return nil
	}

	client := &Client{
		ID:      uuid.New().String(),
		UserID:  id.UserID,
		Name:    id.Name,
		Concern: concern,
		Send:    make(chan []byte, sendBufSize),
		conn:    ws,
	}
	topics, err := proc.Join(client)
	if err != nil {
		wsh.logger.Warn().Err(err).Str("user", id.UserID).Str("concern", string(concern)).Msg("join refused")
		_ = ws.WriteControl(gorillawebsocket.CloseMessage,
			gorillawebsocket.FormatCloseMessage(gorillawebsocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeTimeout))
		return ws.Close()
	}
	client.Topics = topics
	wsh.hub.Register(client)

	wsh.logger.Info().
		Str("client", client.ID).
		Str("user", client.UserID).
		Str("concern", string(concern)).
		Strs("topics", topics).
		Msg("client connected")

	go wsh.writePump(client)
	go wsh.readPump(client, proc)
	return nil
}

// readPump decodes client frames and hands them to the processor. It owns
// the client's teardown.
func (wsh *WebSocketHandler) readPump(client *Client, proc Processor) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		proc.Leave(client)
		wsh.hub.Unregister(client)
		client.conn.Close()
		wsh.logger.Info().Str("client", client.ID).Str("user", client.UserID).Msg("client disconnected")
	}()

	ws := client.conn
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseNormalClosure, gorillawebsocket.CloseGoingAway) {
				wsh.logger.Debug().Err(err).Str("client", client.ID).Msg("read failed")
			}
			return
		}

		msg, err := wire.Parse(data)
		if err != nil {
			wsh.reject(client, "", err)
			continue
		}
		if err := proc.Process(ctx, client, msg); err != nil {
			wsh.reject(client, msg.Type, err)
		}
	}
}

// writePump drains Send and pings the client. It exits when Send is closed
// or a write fails.
func (wsh *WebSocketHandler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	ws := client.conn
	for {
		select {
		case data, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage,
					gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (wsh *WebSocketHandler) reject(client *Client, request wire.Type, err error) {
	wsh.logger.Debug().Err(err).Str("client", client.ID).Str("request", string(request)).Msg("request rejected")
	_ = wsh.hub.Reply(client, wire.TypeError, wire.ErrorPayload{Request: request, Message: err.Error()})
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
