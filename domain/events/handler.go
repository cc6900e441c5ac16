package events

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/apperror"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/auth"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/sse"
)

const (
	defaultHeartbeat = 30 * time.Second
	writeWait        = 10 * time.Second
	maxClientMessage = 4096
	sseRetryMs       = 3000
)

// Handler serves the WebSocket and SSE transports of the Hub.
type Handler struct {
	hub       *Hub
	heartbeat time.Duration
	upgrader  websocket.Upgrader
	log       *slog.Logger
}

// NewHandler creates the realtime transport handler.
func NewHandler(hub *Hub, cfg *config.Config, log *slog.Logger) *Handler {
	heartbeat := cfg.Realtime.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	allowed := make(map[string]bool, len(cfg.Realtime.AllowedOrigins))
	for _, o := range cfg.Realtime.AllowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub:       hub,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return len(allowed) == 0 || allowed[r.Header.Get("Origin")]
			},
		},
		log: log.With(logger.Scope("events.handler")),
	}
}

func (h *Handler) connect(c echo.Context) (*Client, error) {
	client, err := h.hub.Connect(c.Request().Context(), auth.ExtractToken(c.Request()))
	if err != nil {
		return nil, auth.ToAppError(err)
	}
	return client, nil
}

func (h *Handler) connectedEvent(client *Client) sse.ConnectedEvent {
	return sse.ConnectedEvent{
		ConnectionID: client.ID(),
		UserID:       client.UserID(),
		Rooms:        h.hub.Rooms(client.ID()),
	}
}

// HandleWS handles GET /api/realtime/ws. The token is read from the
// Authorization header or the token query parameter before the upgrade.
func (h *Handler) HandleWS(c echo.Context) error {
	client, err := h.connect(c)
	if err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already replied
		h.hub.Disconnect(client.ID())
		h.log.Debug("websocket upgrade failed", logger.Error(err))
		return nil
	}

	h.log.Info("websocket connection established",
		slog.String("connection_id", client.ID()),
		slog.String("user_id", client.UserID()))

	_ = h.hub.enqueue(client.ID(), string(sse.EventConnected), h.connectedEvent(client))

	go h.writePump(conn, client)
	h.readPump(conn, client)
	return nil
}

// readPump applies client subscription requests until the socket fails.
func (h *Handler) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		h.hub.Disconnect(client.ID())
		_ = conn.Close()
		h.log.Info("websocket connection closed", slog.String("connection_id", client.ID()))
	}()

	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.heartbeat))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.heartbeat))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read failed", logger.Error(err))
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = h.hub.enqueue(client.ID(), string(sse.EventError), sse.NewErrorEvent("bad_message", "message must be a JSON object"))
			continue
		}
		h.apply(client, msg)
	}
}

func (h *Handler) apply(client *Client, msg ClientMessage) {
	var (
		room  string
		err   error
		event sse.ControlEvent
	)
	switch msg.Action {
	case ActionSubscribe:
		room, err = h.hub.Subscribe(client.ID(), msg.Topic)
		event = sse.EventSubscribed
	case ActionUnsubscribe:
		room, err = h.hub.Unsubscribe(client.ID(), msg.Topic)
		event = sse.EventUnsubscribed
	default:
		_ = h.hub.enqueue(client.ID(), string(sse.EventError), sse.NewErrorEvent("unknown_action", "action must be subscribe or unsubscribe"))
		return
	}
	if err != nil {
		_ = h.hub.enqueue(client.ID(), string(sse.EventError), sse.NewErrorEvent("invalid_topic", err.Error()))
		return
	}
	_ = h.hub.enqueue(client.ID(), string(event), sse.SubscriptionEvent{Topic: msg.Topic, Room: room})
}

// writePump is the only writer of conn.
func (h *Handler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(h.heartbeat)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame := <-client.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				h.hub.Disconnect(client.ID())
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.Disconnect(client.ID())
				return
			}
		case <-client.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// HandleStream handles GET /api/realtime/stream, the SSE transport. Initial
// topics may be passed as ?topics=commodity:SOJA,commodity:MILHO; later
// changes go through the subscriptions endpoints.
func (h *Handler) HandleStream(c echo.Context) error {
	client, err := h.connect(c)
	if err != nil {
		return err
	}
	defer h.hub.Disconnect(client.ID())

	for _, topic := range splitTopics(c.QueryParam("topics")) {
		if _, err := h.hub.Subscribe(client.ID(), topic); err != nil {
			return apperror.NewBadRequest(err.Error())
		}
	}

	w := sse.NewWriter(c.Response())
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Close()

	h.log.Info("SSE connection established",
		slog.String("connection_id", client.ID()),
		slog.String("user_id", client.UserID()))

	_ = w.WriteRetry(sseRetryMs)
	if err := w.WriteEvent(string(sse.EventConnected), h.connectedEvent(client)); err != nil {
		return nil
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	var seq uint64
	ctx := c.Request().Context()
	for {
		select {
		case frame := <-client.Frames():
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			seq++
			if err := w.WriteFrame(strconv.FormatUint(seq, 10), frame.Event, data); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := w.WriteComment("heartbeat"); err != nil {
				return nil
			}
		case <-client.Done():
			h.log.Info("SSE connection closed (server closed)", slog.String("connection_id", client.ID()))
			return nil
		case <-ctx.Done():
			h.log.Info("SSE connection closed (client disconnected)", slog.String("connection_id", client.ID()))
			return nil
		}
	}
}

func splitTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

type subscriptionRequest struct {
	Topic string `json:"topic"`
}

// ownedConnection returns the connection id from the path when it belongs to
// the authenticated user.
func (h *Handler) ownedConnection(c echo.Context) (string, error) {
	user := auth.GetUser(c)
	if user == nil {
		return "", apperror.ErrUnauthorized
	}
	id := c.Param("id")
	owner, ok := h.hub.Owner(id)
	if !ok || owner != user.UserID {
		return "", apperror.NewNotFound("connection", id)
	}
	return id, nil
}

// HandleSubscribe handles POST /api/realtime/connections/:id/subscriptions
func (h *Handler) HandleSubscribe(c echo.Context) error {
	id, err := h.ownedConnection(c)
	if err != nil {
		return err
	}
	var req subscriptionRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	room, err := h.hub.Subscribe(id, req.Topic)
	if err != nil {
		return topicError(err)
	}
	ev := sse.SubscriptionEvent{Topic: req.Topic, Room: room}
	_ = h.hub.enqueue(id, string(sse.EventSubscribed), ev)
	return c.JSON(http.StatusOK, ev)
}

// HandleUnsubscribe handles DELETE /api/realtime/connections/:id/subscriptions?topic=
func (h *Handler) HandleUnsubscribe(c echo.Context) error {
	id, err := h.ownedConnection(c)
	if err != nil {
		return err
	}
	topic := c.QueryParam("topic")
	room, err := h.hub.Unsubscribe(id, topic)
	if err != nil {
		return topicError(err)
	}
	ev := sse.SubscriptionEvent{Topic: topic, Room: room}
	_ = h.hub.enqueue(id, string(sse.EventUnsubscribed), ev)
	return c.JSON(http.StatusOK, ev)
}

func topicError(err error) error {
	if errors.Is(err, ErrUnknownConnection) {
		return apperror.ErrNotFound.WithInternal(err)
	}
	return apperror.NewBadRequest(err.Error())
}

// HandleConnectionsCount handles GET /api/realtime/connections/count
func (h *Handler) HandleConnectionsCount(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{
		"count": h.hub.ConnectionCount(),
	})
}
