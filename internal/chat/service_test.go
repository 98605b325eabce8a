package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"appforge/internal/ai"
	"appforge/internal/cache"
	"appforge/internal/db"
)

type echoRouter struct{}

func (echoRouter) Generate(ctx context.Context, req *ai.AIRequest) (*ai.AIResponse, error) {
	return &ai.AIResponse{
		Provider: ai.ProviderGemini,
		Content:  "echo: " + req.Prompt,
	}, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatal(err)
	}
	c := cache.New(nil)
	t.Cleanup(c.Close)
	return NewService(database.DB, c, echoRouter{})
}

func TestCreateAndListConversations(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.CreateConversation(ctx, 1, "First"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateConversation(ctx, 1, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateConversation(ctx, 2, "Other user"); err != nil {
		t.Fatal(err)
	}

	convs, err := s.ListConversations(ctx, 1, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	for _, c := range convs {
		if c.UserID != 1 {
			t.Errorf("listing leaked conversation of user %d", c.UserID)
		}
	}
}

func TestListConversationsCursor(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	var ids []uint
	for i := 0; i < 3; i++ {
		conv, err := s.CreateConversation(ctx, 1, fmt.Sprintf("Thread %d", i))
		if err != nil {
			t.Fatal(err)
		}
		ts := base.Add(time.Duration(i) * time.Minute)
		if err := s.db.Model(conv).Update("updated_at", ts).Error; err != nil {
			t.Fatal(err)
		}
		ids = append(ids, conv.ID)
	}

	first, err := s.ListConversations(ctx, 1, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || first[0].ID != ids[2] || first[1].ID != ids[1] {
		t.Fatalf("first page = %+v, want threads 2 and 1", first)
	}

	cursor := first[len(first)-1].UpdatedAt
	second, err := s.ListConversations(ctx, 1, 2, &cursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 || second[0].ID != ids[0] {
		t.Fatalf("second page = %+v, want only thread 0", second)
	}

	// Cursored pages must not replace the cached first page.
	again, err := s.ListConversations(ctx, 1, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 2 || again[0].ID != ids[2] {
		t.Fatalf("cached first page corrupted: %+v", again)
	}
}

func TestSendMessageStoresBothSides(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, 1, "Chat")
	if err != nil {
		t.Fatal(err)
	}

	reply, err := s.SendMessage(ctx, 1, conv.ID, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Role != "assistant" || reply.Content != "echo: hello" {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Provider != string(ai.ProviderGemini) {
		t.Errorf("provider = %q", reply.Provider)
	}

	msgs, err := s.GetMessages(ctx, 1, conv.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}

	convs, _ := s.ListConversations(ctx, 1, 0, nil)
	if convs[0].MessageCount != 2 {
		t.Errorf("message count = %d, want 2", convs[0].MessageCount)
	}
}

func TestConversationOwnership(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, 1, "Mine")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetMessages(ctx, 2, conv.ID, 0, 0); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteConversation(ctx, 2, conv.ID); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.RenameConversation(ctx, 2, conv.ID, "Stolen"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRenameConversation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	conv, _ := s.CreateConversation(ctx, 1, "Old")
	if err := s.RenameConversation(ctx, 1, conv.ID, "New"); err != nil {
		t.Fatal(err)
	}

	convs, _ := s.ListConversations(ctx, 1, 0, nil)
	if convs[0].Title != "New" {
		t.Errorf("title = %q", convs[0].Title)
	}
}

func TestDeleteConversation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	conv, _ := s.CreateConversation(ctx, 1, "Doomed")
	s.SendMessage(ctx, 1, conv.ID, "hi")

	if err := s.DeleteConversation(ctx, 1, conv.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetMessages(ctx, 1, conv.ID, 0, 0); err != ErrNotFound {
		t.Errorf("deleted conversation still readable: %v", err)
	}

	convs, _ := s.ListConversations(ctx, 1, 0, nil)
	if len(convs) != 0 {
		t.Errorf("got %d conversations after delete", len(convs))
	}
}

func TestListCacheInvalidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	s.CreateConversation(ctx, 1, "A")
	if _, err := s.ListConversations(ctx, 1, 0, nil); err != nil {
		t.Fatal(err)
	}

	// A second create must bust the cached listing.
	s.CreateConversation(ctx, 1, "B")
	convs, err := s.ListConversations(ctx, 1, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Errorf("stale cache: got %d conversations, want 2", len(convs))
	}
}
