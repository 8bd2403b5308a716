package events

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/soclab/notification-service/internal/models"
	"github.com/soclab/notification-service/pkg/httpclient"
)

// memoryStore is an in-memory NotificationRepository for handler tests.
type memoryStore struct {
	mu            sync.Mutex
	nextID        uint
	notifications []*models.Notification
	failCreate    bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{nextID: 1}
}

func (s *memoryStore) CreateNotification(n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return fmt.Errorf("insert failed")
	}
	n.ID = s.nextID
	s.nextID++
	stored := *n
	s.notifications = append(s.notifications, &stored)
	return nil
}

func (s *memoryStore) GetByID(notificationID, recipientID uint) (*models.Notification, error) {
	return nil, nil
}

func (s *memoryStore) GetByRecipientID(recipientID uint, page, limit int, typeFilter models.NotificationType, isRead *bool) ([]models.Notification, int64, error) {
	return nil, 0, nil
}

func (s *memoryStore) GetUnreadCount(recipientID uint) (int64, error) { return 0, nil }
func (s *memoryStore) GetTotalCount(recipientID uint) (int64, error)  { return 0, nil }
func (s *memoryStore) SetRead(notificationID, recipientID uint, isRead bool) error {
	return nil
}
func (s *memoryStore) MarkAllAsRead(recipientID uint) (int64, error) { return 0, nil }
func (s *memoryStore) BatchSetRead(ids []uint, recipientID uint, isRead bool) (int64, error) {
	return 0, nil
}
func (s *memoryStore) DeleteNotification(notificationID, recipientID uint) error { return nil }
func (s *memoryStore) DeleteAllByRecipient(recipientID uint) error               { return nil }

func (s *memoryStore) created() []*models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Notification(nil), s.notifications...)
}

// recordingDeliverer captures notifications handed off for delivery.
type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []*models.Notification
}

func (d *recordingDeliverer) Deliver(ctx context.Context, n *models.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, n)
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

// contentService fakes the content-service lookup endpoints.
func contentService(t *testing.T, routes map[string]string) *httpclient.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return httpclient.New(srv.URL, 5*time.Second)
}

func newTestHandlers(t *testing.T, routes map[string]string) (*Handlers, *memoryStore, *recordingDeliverer) {
	t.Helper()
	store := newMemoryStore()
	deliverer := &recordingDeliverer{}
	return NewHandlers(store, deliverer, contentService(t, routes)), store, deliverer
}

func TestHandleNotificationFollowExpansion(t *testing.T) {
	h, store, deliverer := newTestHandlers(t, nil)

	payload := `{"type":"follow","follower_id":7,"followee_id":42}`
	if err := h.HandleNotification(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created := store.created()
	if len(created) != 1 {
		t.Fatalf("want 1 notification, got %d", len(created))
	}
	n := created[0]
	if n.RecipientID != 42 {
		t.Fatalf("recipient: want 42, got %d", n.RecipientID)
	}
	if n.Type != models.NotificationFollow {
		t.Fatalf("type: want FOLLOW, got %s", n.Type)
	}
	if n.SenderID == nil || *n.SenderID != 7 {
		t.Fatalf("sender: want 7, got %v", n.SenderID)
	}
	if n.Title != "You have a new follower" {
		t.Fatalf("title: got %q", n.Title)
	}
	if !strings.Contains(n.Body, "User 7") {
		t.Fatalf("body should name the follower, got %q", n.Body)
	}
	if deliverer.count() != 1 {
		t.Fatal("the persisted notification should be delivered")
	}
}

func TestHandleNotificationUnknownTypeDropped(t *testing.T) {
	h, store, _ := newTestHandlers(t, nil)

	payload := `{"user_id":5,"type":"telepathy","title":"x","body":"y"}`
	if err := h.HandleNotification(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("unknown type should be dropped, not errored: %v", err)
	}
	if len(store.created()) != 0 {
		t.Fatal("unknown type must not be persisted")
	}
}

func TestHandleNotificationMalformedPayload(t *testing.T) {
	h, store, _ := newTestHandlers(t, nil)

	if err := h.HandleNotification(context.Background(), []byte(`{not json`)); err != nil {
		t.Fatalf("malformed payload should be dropped, not errored: %v", err)
	}
	if len(store.created()) != 0 {
		t.Fatal("malformed payload must not be persisted")
	}
}

func TestHandlePostEventMentionDedup(t *testing.T) {
	h, store, deliverer := newTestHandlers(t, nil)

	payload := `{"event_type":"created","post":{"id":10,"user_id":1,
		"content":"hey @5:alice look at this, @5:alice and @8:bob too",
		"user":{"username":"poster"}}}`
	if err := h.HandlePostEvent(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created := store.created()
	if len(created) != 2 {
		t.Fatalf("duplicate mention should collapse: want 2 notifications, got %d", len(created))
	}
	if created[0].RecipientID != 5 || created[1].RecipientID != 8 {
		t.Fatalf("recipients in first-occurrence order: got %d, %d",
			created[0].RecipientID, created[1].RecipientID)
	}
	for _, n := range created {
		if n.Type != models.NotificationMention {
			t.Fatalf("type: want MENTION, got %s", n.Type)
		}
	}
	if deliverer.count() != 2 {
		t.Fatalf("want 2 deliveries, got %d", deliverer.count())
	}
}

func TestHandlePostEventSelfMentionSkipped(t *testing.T) {
	h, store, _ := newTestHandlers(t, nil)

	payload := `{"event_type":"created","post":{"id":10,"user_id":5,
		"content":"note to self @5:me","user":{"username":"me"}}}`
	if err := h.HandlePostEvent(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.created()) != 0 {
		t.Fatal("author mentioning themselves must not be notified")
	}
}

func TestHandleCommentEventReplyToPostAuthor(t *testing.T) {
	// Commenter 3 replies to a comment by user 9 under user 9's own post.
	// User 9 must get exactly one notification, not a reply plus a comment.
	h, store, _ := newTestHandlers(t, map[string]string{
		"/posts/20":    `{"user_id":9}`,
		"/comments/30": `{"user_id":9,"post_id":20}`,
	})

	payload := `{"event_type":"created","comment":{"id":31,"user_id":3,"post_id":20,
		"parent_id":30,"content":"I disagree","user":{"username":"carol"}}}`
	if err := h.HandleCommentEvent(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created := store.created()
	if len(created) != 1 {
		t.Fatalf("want exactly 1 notification, got %d", len(created))
	}
	n := created[0]
	if n.RecipientID != 9 || n.Type != models.NotificationPostComment {
		t.Fatalf("want POST_COMMENT to user 9, got %s to user %d", n.Type, n.RecipientID)
	}
}

func TestHandleCommentEventReplyAndComment(t *testing.T) {
	// Parent author differs from both the commenter and the post author, so
	// the reply and the post-comment notifications both fire.
	h, store, _ := newTestHandlers(t, map[string]string{
		"/posts/20":    `{"user_id":9}`,
		"/comments/30": `{"user_id":5,"post_id":20}`,
	})

	payload := `{"event_type":"created","comment":{"id":31,"user_id":3,"post_id":20,
		"parent_id":30,"content":"good point","user":{"username":"carol"}}}`
	if err := h.HandleCommentEvent(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created := store.created()
	if len(created) != 2 {
		t.Fatalf("want 2 notifications, got %d", len(created))
	}
	byType := map[models.NotificationType]uint{}
	for _, n := range created {
		byType[n.Type] = n.RecipientID
	}
	if byType[models.NotificationCommentReply] != 5 {
		t.Fatalf("COMMENT_REPLY should go to user 5, got %d", byType[models.NotificationCommentReply])
	}
	if byType[models.NotificationPostComment] != 9 {
		t.Fatalf("POST_COMMENT should go to user 9, got %d", byType[models.NotificationPostComment])
	}
}

func TestHandleCommentEventSelfComment(t *testing.T) {
	h, store, _ := newTestHandlers(t, map[string]string{
		"/posts/20": `{"user_id":3}`,
	})

	payload := `{"event_type":"created","comment":{"id":31,"user_id":3,"post_id":20,
		"content":"my own post","user":{"username":"carol"}}}`
	if err := h.HandleCommentEvent(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.created()) != 0 {
		t.Fatal("commenting on one's own post must not notify")
	}
}

func TestHandleCommentEventPostLookupFailure(t *testing.T) {
	// No /posts route wired, so the lookup 404s and the event is abandoned.
	h, store, _ := newTestHandlers(t, nil)

	payload := `{"event_type":"created","comment":{"id":31,"user_id":3,"post_id":20,
		"content":"hello @8:bob","user":{"username":"carol"}}}`
	if err := h.HandleCommentEvent(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("lookup failure should abandon the event, not error: %v", err)
	}
	if len(store.created()) != 0 {
		t.Fatal("nothing should be persisted when the post author is unknown")
	}
}

func TestHandleCommentEventMentionExclusions(t *testing.T) {
	// Mentions of the commenter, the post author, and the parent author are
	// suppressed; only the bystander gets a MENTION.
	h, store, _ := newTestHandlers(t, map[string]string{
		"/posts/20":    `{"user_id":9}`,
		"/comments/30": `{"user_id":5,"post_id":20}`,
	})

	payload := `{"event_type":"created","comment":{"id":31,"user_id":3,"post_id":20,
		"parent_id":30,"content":"cc @3:me @9:author @5:parent @8:bob",
		"user":{"username":"carol"}}}`
	if err := h.HandleCommentEvent(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var mentions []uint
	for _, n := range store.created() {
		if n.Type == models.NotificationMention {
			mentions = append(mentions, n.RecipientID)
		}
	}
	if len(mentions) != 1 || mentions[0] != 8 {
		t.Fatalf("want a single MENTION to user 8, got %v", mentions)
	}
}

func TestHandleCommentEventTruncatesQuotedContent(t *testing.T) {
	h, store, _ := newTestHandlers(t, map[string]string{
		"/posts/20": `{"user_id":9}`,
	})

	long := strings.Repeat("a", 150)
	payload := fmt.Sprintf(`{"event_type":"created","comment":{"id":31,"user_id":3,
		"post_id":20,"content":%q,"user":{"username":"carol"}}}`, long)
	if err := h.HandleCommentEvent(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created := store.created()
	if len(created) != 1 {
		t.Fatalf("want 1 notification, got %d", len(created))
	}
	if want := strings.Repeat("a", 100) + "..."; created[0].Body != want {
		t.Fatalf("quoted body should be truncated to 100 chars plus ellipsis, got %d chars",
			len(created[0].Body))
	}
}

func TestHandleReactionEventPostLike(t *testing.T) {
	h, store, deliverer := newTestHandlers(t, map[string]string{
		"/posts/20": `{"user_id":9}`,
	})

	payload := `{"event_type":"created","reaction":{"user_id":3,"post_id":20,
		"type":"love","user":{"username":"carol"}}}`
	if err := h.HandleReactionEvent(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created := store.created()
	if len(created) != 1 {
		t.Fatalf("want 1 notification, got %d", len(created))
	}
	n := created[0]
	if n.RecipientID != 9 || n.Type != models.NotificationPostLike {
		t.Fatalf("want POST_LIKE to user 9, got %s to user %d", n.Type, n.RecipientID)
	}
	if n.Body != "carol loved your post" {
		t.Fatalf("body: got %q", n.Body)
	}
	if deliverer.count() != 1 {
		t.Fatal("the reaction notification should be delivered")
	}
}

func TestHandleReactionEventSelfReaction(t *testing.T) {
	h, store, _ := newTestHandlers(t, map[string]string{
		"/posts/20": `{"user_id":3}`,
	})

	payload := `{"event_type":"created","reaction":{"user_id":3,"post_id":20,
		"type":"like","user":{"username":"carol"}}}`
	if err := h.HandleReactionEvent(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.created()) != 0 {
		t.Fatal("reacting to one's own content must not notify")
	}
}

func TestHandleReactionEventCommentLike(t *testing.T) {
	h, store, _ := newTestHandlers(t, map[string]string{
		"/comments/30": `{"user_id":5,"post_id":20}`,
	})

	payload := `{"event_type":"created","reaction":{"user_id":3,"comment_id":30,
		"type":"haha","user":{"username":"carol"}}}`
	if err := h.HandleReactionEvent(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created := store.created()
	if len(created) != 1 {
		t.Fatalf("want 1 notification, got %d", len(created))
	}
	n := created[0]
	if n.RecipientID != 5 || n.Type != models.NotificationCommentLike {
		t.Fatalf("want COMMENT_LIKE to user 5, got %s to user %d", n.Type, n.RecipientID)
	}
	if n.Body != "carol laughed at your comment" {
		t.Fatalf("body: got %q", n.Body)
	}
	if n.Metadata["post_id"] != uint(20) {
		t.Fatalf("metadata should carry the enclosing post id, got %v", n.Metadata["post_id"])
	}
}

func TestCreateFailureDoesNotDeliver(t *testing.T) {
	store := newMemoryStore()
	store.failCreate = true
	deliverer := &recordingDeliverer{}
	h := NewHandlers(store, deliverer, contentService(t, map[string]string{
		"/posts/20": `{"user_id":9}`,
	}))

	payload := `{"event_type":"created","reaction":{"user_id":3,"post_id":20,
		"type":"like","user":{"username":"carol"}}}`
	if err := h.HandleReactionEvent(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("persistence failure is contained: %v", err)
	}
	if deliverer.count() != 0 {
		t.Fatal("an unpersisted notification must never be delivered")
	}
}

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		text string
		want []uint
	}{
		{"no mentions here", nil},
		{"hi @5:alice", []uint{5}},
		{"@5:alice and @8:bob", []uint{5, 8}},
		{"@5:alice twice @5:alice", []uint{5}},
		{"bare @alice and @:x are not mentions", nil},
		{"@0:zero is ignored", nil},
		{"email a@5:b counts, punctuation @7:carl! too", []uint{5, 7}},
	}
	for _, tt := range tests {
		got := ExtractMentions(tt.text)
		if len(got) != len(tt.want) {
			t.Errorf("ExtractMentions(%q) = %v, want %v", tt.text, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ExtractMentions(%q) = %v, want %v", tt.text, got, tt.want)
				break
			}
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 100); got != "short" {
		t.Fatalf("short text should pass through, got %q", got)
	}
	exact := strings.Repeat("x", 100)
	if got := Truncate(exact, 100); got != exact {
		t.Fatalf("text at the limit should pass through, got %d chars", len(got))
	}
	if got := Truncate(strings.Repeat("x", 101), 100); got != exact+"..." {
		t.Fatalf("over-limit text should be cut with an ellipsis, got %d chars", len(got))
	}
	// Rune-aware: multibyte characters are not split.
	emoji := strings.Repeat("é", 101)
	if got := Truncate(emoji, 100); got != strings.Repeat("é", 100)+"..." {
		t.Fatal("truncation should count runes, not bytes")
	}
}

func TestReactionPhrase(t *testing.T) {
	tests := map[string]string{
		"like":     "liked",
		"love":     "loved",
		"haha":     "laughed at",
		"wow":      "was wowed by",
		"sad":      "felt sad about",
		"angry":    "felt angry about",
		"confetti": "liked",
		"":         "liked",
	}
	for reaction, want := range tests {
		if got := ReactionPhrase(reaction); got != want {
			t.Errorf("ReactionPhrase(%q) = %q, want %q", reaction, got, want)
		}
	}
}
