package realtime

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/soclab/notification-service/internal/auth"
	"github.com/soclab/notification-service/internal/repositories"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn wraps a gorilla connection so the registry fan-out and the read-loop
// replies never write the socket concurrently.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// clientMessage is the shape of frames the client may send.
type clientMessage struct {
	Type           string `json:"type"`
	NotificationID uint   `json:"notification_id"`
}

// WSHandler serves the client-facing notification socket.
type WSHandler struct {
	registry  *Registry
	store     repositories.NotificationRepository
	jwtSecret string
}

func NewWSHandler(registry *Registry, store repositories.NotificationRepository, jwtSecret string) *WSHandler {
	return &WSHandler{
		registry:  registry,
		store:     store,
		jwtSecret: jwtSecret,
	}
}

// RegisterWSRoutes registers the websocket endpoint. Authentication uses a
// token query parameter because browsers cannot set headers on websockets.
func (h *WSHandler) RegisterWSRoutes(e *echo.Echo) {
	e.GET("/ws/notifications", h.HandleConnection)
}

// HandleConnection upgrades the request, authenticates it, and runs the read
// loop until the client goes away. A connection with a bad token is closed
// with a policy-violation code before it ever enters the registry.
func (h *WSHandler) HandleConnection(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to upgrade connection to WebSocket")
	}

	userID, err := auth.VerifyToken(c.QueryParam("token"), h.jwtSecret)
	if err != nil {
		log.Printf("WebSocket auth failed: %v", err)
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"))
		ws.Close()
		return nil
	}

	conn := &wsConn{ws: ws}
	h.registry.Register(userID, conn)
	defer h.registry.Unregister(userID, conn)
	defer conn.Close()

	conn.WriteJSON(map[string]any{
		"type":      "connected",
		"message":   "connected to notification service",
		"user_id":   userID,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			// Normal disconnect path; the deferred unregister cleans up.
			return nil
		}
		h.handleClientMessage(conn, userID, raw)
	}
}

// handleClientMessage processes one frame from the client. Malformed payloads
// are ignored and the connection stays open.
func (h *WSHandler) handleClientMessage(conn *wsConn, userID uint, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("Ignoring malformed frame from user %d: %v", userID, err)
		return
	}

	if msg.Type != "mark_read" || msg.NotificationID == 0 {
		return
	}

	err := h.store.SetRead(msg.NotificationID, userID, true)
	if err != nil {
		// Unknown or foreign notification IDs are silently ignored; real
		// store failures are surfaced to the client that caused them.
		if errors.Is(err, repositories.ErrNotFound) {
			return
		}
		conn.WriteJSON(map[string]any{
			"type":      "error",
			"message":   "failed to update notification",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
		return
	}

	conn.WriteJSON(map[string]any{
		"type":            "notification_updated",
		"notification_id": msg.NotificationID,
		"is_read":         true,
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
	})
}
