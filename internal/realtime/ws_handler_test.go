package realtime

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/soclab/notification-service/internal/models"
	"github.com/soclab/notification-service/internal/repositories"
)

const wsTestSecret = "ws-test-secret"

// readStore stubs the notification store for socket tests; only SetRead is
// reachable from the read loop.
type readStore struct {
	setRead func(notificationID, recipientID uint, isRead bool) error
}

func (s *readStore) CreateNotification(n *models.Notification) error { return nil }
func (s *readStore) GetByID(notificationID, recipientID uint) (*models.Notification, error) {
	return nil, repositories.ErrNotFound
}
func (s *readStore) GetByRecipientID(recipientID uint, page, limit int, typeFilter models.NotificationType, isRead *bool) ([]models.Notification, int64, error) {
	return nil, 0, nil
}
func (s *readStore) GetUnreadCount(recipientID uint) (int64, error) { return 0, nil }
func (s *readStore) GetTotalCount(recipientID uint) (int64, error)  { return 0, nil }
func (s *readStore) SetRead(notificationID, recipientID uint, isRead bool) error {
	if s.setRead != nil {
		return s.setRead(notificationID, recipientID, isRead)
	}
	return nil
}
func (s *readStore) MarkAllAsRead(recipientID uint) (int64, error) { return 0, nil }
func (s *readStore) BatchSetRead(ids []uint, recipientID uint, isRead bool) (int64, error) {
	return 0, nil
}
func (s *readStore) DeleteNotification(notificationID, recipientID uint) error { return nil }
func (s *readStore) DeleteAllByRecipient(recipientID uint) error               { return nil }

func startWSServer(t *testing.T, registry *Registry, store repositories.NotificationRepository) string {
	t.Helper()
	e := echo.New()
	NewWSHandler(registry, store, wsTestSecret).RegisterWSRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/notifications"
}

func wsToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(wsTestSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return token
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return frame
}

func TestWSRejectsInvalidToken(t *testing.T) {
	registry := NewRegistry()
	url := startWSServer(t, registry, &readStore{})

	conn := dialWS(t, url+"?token=garbage")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("want a close frame, got %v", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("close code: want %d, got %d", websocket.ClosePolicyViolation, closeErr.Code)
	}
	if registry.UserCount() != 0 {
		t.Fatal("an unauthenticated connection must never enter the registry")
	}
}

func TestWSConnectAndReceive(t *testing.T) {
	registry := NewRegistry()
	url := startWSServer(t, registry, &readStore{})

	conn := dialWS(t, url+"?token="+wsToken(t, "42"))

	ack := readFrame(t, conn)
	if ack["type"] != "connected" {
		t.Fatalf("first frame should be the connected ack, got %v", ack)
	}
	if ack["user_id"].(float64) != 42 {
		t.Fatalf("ack user_id: want 42, got %v", ack["user_id"])
	}

	// The server sees the registration once the ack is out.
	if registry.ConnectionCount(42) != 1 {
		t.Fatalf("want 1 registered connection, got %d", registry.ConnectionCount(42))
	}

	if !registry.SendToUser(42, Message{Type: "notification", Data: map[string]any{"title": "hi"}}) {
		t.Fatal("SendToUser should find the live connection")
	}
	frame := readFrame(t, conn)
	if frame["type"] != "notification" {
		t.Fatalf("frame type: got %v", frame["type"])
	}
	if frame["data"].(map[string]any)["title"] != "hi" {
		t.Fatalf("frame data: got %v", frame["data"])
	}
}

func TestWSDisconnectCleansRegistry(t *testing.T) {
	registry := NewRegistry()
	url := startWSServer(t, registry, &readStore{})

	conn := dialWS(t, url+"?token="+wsToken(t, "42"))
	readFrame(t, conn) // connected ack
	conn.Close()

	deadline := time.After(2 * time.Second)
	for registry.UserCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("registry still holds %d users after disconnect", registry.UserCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWSMarkRead(t *testing.T) {
	registry := NewRegistry()
	type call struct {
		id, user uint
		isRead   bool
	}
	calls := make(chan call, 1)
	store := &readStore{setRead: func(notificationID, recipientID uint, isRead bool) error {
		calls <- call{notificationID, recipientID, isRead}
		return nil
	}}
	url := startWSServer(t, registry, store)

	conn := dialWS(t, url+"?token="+wsToken(t, "42"))
	readFrame(t, conn) // connected ack

	payload, _ := json.Marshal(map[string]any{"type": "mark_read", "notification_id": 7})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}

	frame := readFrame(t, conn)
	if frame["type"] != "notification_updated" {
		t.Fatalf("reply type: got %v", frame["type"])
	}
	if frame["notification_id"].(float64) != 7 || frame["is_read"] != true {
		t.Fatalf("reply payload: got %v", frame)
	}

	select {
	case got := <-calls:
		if got.id != 7 || got.user != 42 || !got.isRead {
			t.Fatalf("store call: got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("store was never called")
	}
}

func TestWSMarkReadUnknownIDIgnored(t *testing.T) {
	registry := NewRegistry()
	store := &readStore{setRead: func(notificationID, recipientID uint, isRead bool) error {
		return repositories.ErrNotFound
	}}
	url := startWSServer(t, registry, store)

	conn := dialWS(t, url+"?token="+wsToken(t, "42"))
	readFrame(t, conn) // connected ack

	// Unknown id: no reply, connection stays usable.
	unknown, _ := json.Marshal(map[string]any{"type": "mark_read", "notification_id": 999})
	if err := conn.WriteMessage(websocket.TextMessage, unknown); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
	// Malformed frame: also ignored.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}

	// The connection is still live: a server push gets through.
	deadline := time.After(2 * time.Second)
	for registry.ConnectionCount(42) != 1 {
		select {
		case <-deadline:
			t.Fatal("connection fell out of the registry")
		case <-time.After(10 * time.Millisecond):
		}
	}
	registry.SendToUser(42, Message{Type: "notification"})
	frame := readFrame(t, conn)
	if frame["type"] != "notification" {
		t.Fatalf("want the pushed notification, got %v", frame)
	}
}
