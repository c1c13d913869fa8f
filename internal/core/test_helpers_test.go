package core

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rentme/chatrelay/internal/store"
	"github.com/rentme/chatrelay/internal/store/sqlite"
)

// newSeededStore creates an in-memory store with two users: alice
// (id 1, tenant) and bob (id 2, owner).
func newSeededStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if _, err := st.CreateUser(ctx, "alice", "Alice", store.RoleTenant, "hash"); err != nil {
		t.Fatalf("failed to create alice: %v", err)
	}
	if _, err := st.CreateUser(ctx, "bob", "Bob", store.RoleOwner, "hash"); err != nil {
		t.Fatalf("failed to create bob: %v", err)
	}

	return st
}

// startHub builds and runs a hub over the given store.
func startHub(t *testing.T, st store.Store, opts HubOptions) *Hub {
	t.Helper()

	logger := zerolog.Nop()
	hub := NewHub(st, &logger, opts)

	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(runCtx)

	return hub
}

// newTestHub spins up a hub over a freshly seeded in-memory store.
func newTestHub(t *testing.T) (*Hub, store.Store) {
	t.Helper()

	st := newSeededStore(t)
	return startHub(t, st, HubOptions{}), st
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustNoEvent drains the channel for the given window and fails if an
// event of the given kind shows up.
func mustNoEvent(t *testing.T, ch <-chan *Event, kind EventKind, window time.Duration) {
	t.Helper()

	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// joinAndHydrate subscribes the client to the conversation with the
// counterpart and waits for the history event so later assertions start
// from a known point.
func joinAndHydrate(t *testing.T, c *Client, counterpartID int64) *Event {
	t.Helper()

	c.Commands <- &Command{Kind: CommandJoinRoom, CounterpartID: counterpartID}
	return mustEvent(t, c.Events, EventHistory)
}
