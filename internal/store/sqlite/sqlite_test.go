package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rentme/chatrelay/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUsers(t *testing.T, s *SQLiteStore, names ...string) []*store.User {
	t.Helper()

	ctx := context.Background()
	users := make([]*store.User, 0, len(names))
	for i, name := range names {
		role := store.RoleTenant
		if i%2 == 1 {
			role = store.RoleOwner
		}
		u, err := s.CreateUser(ctx, name, name, role, "hash")
		if err != nil {
			t.Fatalf("failed to create user %s: %v", name, err)
		}
		users = append(users, u)
	}
	return users
}

func sendMessage(t *testing.T, s *SQLiteStore, roomKey string, from, to int64, body string) *store.Message {
	t.Helper()

	msg := &store.Message{
		RoomKey:    roomKey,
		SenderID:   from,
		ReceiverID: to,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("failed to create message: %v", err)
	}
	return msg
}

func TestCreateUserAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "alice", "Alice", store.RoleTenant, "hash")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if created.ID == 0 || created.Username != "alice" || created.DisplayName != "Alice" || created.Role != store.RoleTenant {
		t.Fatalf("unexpected user: %+v", created)
	}

	byName, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("lookup by username failed: %v", err)
	}
	if byName.ID != created.ID {
		t.Fatalf("expected id %d, got %d", created.ID, byName.ID)
	}

	if _, err := s.CreateUser(ctx, "alice", "Alice Again", store.RoleOwner, "hash"); err == nil {
		t.Fatal("expected duplicate username to fail")
	}

	if _, err := s.GetUserByID(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessageLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	room := "dm:1:2"

	msg := sendMessage(t, s, room, users[0].ID, users[1].ID, "helo")
	if msg.ID == 0 {
		t.Fatal("expected assigned id")
	}

	if err := s.UpdateMessageBody(ctx, msg.ID, "hello"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Body != "hello" || !got.Edited {
		t.Fatalf("unexpected message after edit: %+v", got)
	}

	if err := s.TombstoneMessage(ctx, msg.ID); err != nil {
		t.Fatalf("tombstone failed: %v", err)
	}

	// The row survives as a tombstone so the id is never reused.
	got, err = s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get after tombstone failed: %v", err)
	}
	if !got.Deleted {
		t.Fatal("expected deleted flag set")
	}

	// Deleted is terminal for writes.
	if err := s.UpdateMessageBody(ctx, msg.ID, "resurrect"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on edit of tombstone, got %v", err)
	}
	if err := s.TombstoneMessage(ctx, msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second tombstone, got %v", err)
	}

	// And reads skip it.
	msgs, err := s.ListMessages(ctx, room, 10, nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history, got %+v", msgs)
	}
}

func TestListMessagesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	room := "dm:1:2"

	ids := make([]int64, 0, 5)
	for _, body := range []string{"a", "b", "c", "d", "e"} {
		msg := sendMessage(t, s, room, users[0].ID, users[1].ID, body)
		ids = append(ids, msg.ID)
	}

	// Newest page, ascending order inside the page.
	page, err := s.ListMessages(ctx, room, 2, nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page) != 2 || page[0].Body != "d" || page[1].Body != "e" {
		t.Fatalf("unexpected newest page: %+v", page)
	}

	// Older page via before_id cursor.
	page, err = s.ListMessages(ctx, room, 2, &ids[3])
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page) != 2 || page[0].Body != "b" || page[1].Body != "c" {
		t.Fatalf("unexpected older page: %+v", page)
	}
}

func TestListConversationsAndUnread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob", "carol")
	alice, bob, carol := users[0], users[1], users[2]
	bobRoom := "dm:1:2"
	carolRoom := "dm:1:3"

	sendMessage(t, s, bobRoom, alice.ID, bob.ID, "hi bob")
	sendMessage(t, s, bobRoom, alice.ID, bob.ID, "you there?")
	sendMessage(t, s, carolRoom, carol.ID, alice.ID, "hi alice")

	entries, err := s.ListConversations(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list conversations failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(entries))
	}
	// Newest room first.
	if entries[0].RoomKey != carolRoom || entries[0].Counterpart.Username != "carol" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[0].Unread != 1 || entries[0].LastMessage.Body != "hi alice" {
		t.Fatalf("unexpected carol entry: %+v", entries[0])
	}
	if entries[1].RoomKey != bobRoom || entries[1].Unread != 0 {
		t.Fatalf("unexpected bob entry: %+v", entries[1])
	}

	// Bob sees both of alice's messages as unread until he reads them.
	entries, err = s.ListConversations(ctx, bob.ID)
	if err != nil {
		t.Fatalf("list conversations failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Unread != 2 {
		t.Fatalf("unexpected bob view: %+v", entries)
	}

	if err := s.MarkRead(ctx, bob.ID, bobRoom); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	entries, _ = s.ListConversations(ctx, bob.ID)
	if entries[0].Unread != 0 {
		t.Fatalf("expected unread 0 after mark read, got %d", entries[0].Unread)
	}

	// Only messages newer than the marker count.
	sendMessage(t, s, bobRoom, alice.ID, bob.ID, "one more")
	entries, _ = s.ListConversations(ctx, bob.ID)
	if entries[0].Unread != 1 {
		t.Fatalf("expected unread 1 after new message, got %d", entries[0].Unread)
	}

	// Deleting the unread message drops it from the count and the preview.
	if err := s.TombstoneMessage(ctx, entries[0].LastMessage.ID); err != nil {
		t.Fatalf("tombstone failed: %v", err)
	}
	entries, _ = s.ListConversations(ctx, bob.ID)
	if entries[0].Unread != 0 || entries[0].LastMessage.Body != "you there?" {
		t.Fatalf("unexpected bob view after delete: %+v", entries[0])
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	room := "dm:1:2"

	sendMessage(t, s, room, users[0].ID, users[1].ID, "hi")

	if err := s.MarkRead(ctx, users[1].ID, room); err != nil {
		t.Fatalf("first mark read failed: %v", err)
	}
	if err := s.MarkRead(ctx, users[1].ID, room); err != nil {
		t.Fatalf("second mark read failed: %v", err)
	}

	entries, err := s.ListConversations(ctx, users[1].ID)
	if err != nil {
		t.Fatalf("list conversations failed: %v", err)
	}
	if entries[0].Unread != 0 {
		t.Fatalf("expected unread 0, got %d", entries[0].Unread)
	}
}
