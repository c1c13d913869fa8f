package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rentme/chatrelay/internal/store"
	"github.com/rentme/chatrelay/internal/store/sqlite"
)

func benchmarkRoomBroadcast(b *testing.B, tabs int) {
	st, err := sqlite.New(":memory:")
	if err != nil {
		b.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if _, err := st.CreateUser(ctx, "alice", "Alice", store.RoleTenant, "hash"); err != nil {
		b.Fatalf("failed to create alice: %v", err)
	}
	if _, err := st.CreateUser(ctx, "bob", "Bob", store.RoleOwner, "hash"); err != nil {
		b.Fatalf("failed to create bob: %v", err)
	}

	logger := zerolog.Nop()
	hub := NewHub(st, &logger, HubOptions{})
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(runCtx)

	sender := NewClient("sender", 1, "alice", "Alice", store.RoleTenant)
	hub.RegisterClient(sender)
	sender.Commands <- &Command{Kind: CommandJoinRoom, CounterpartID: 2}

	clients := make([]*Client, 0, tabs)
	for i := 0; i < tabs; i++ {
		c := NewClient(fmt.Sprintf("tab-%d", i), 2, "bob", "Bob", store.RoleOwner)
		hub.RegisterClient(c)
		c.Commands <- &Command{Kind: CommandJoinRoom, CounterpartID: 1}
		clients = append(clients, c)
	}

	// Drain events for all but the first tab to avoid channel backpressure.
	target := clients[0]
	for _, c := range clients[1:] {
		go func(cl *Client) {
			for range cl.Events {
			}
		}(c)
	}
	go func() {
		for range sender.Events {
		}
	}()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		sender.Commands <- &Command{
			Kind:          CommandSendMessage,
			CounterpartID: 2,
			Body:          "payload",
		}
		for ev := range target.Events {
			if ev.Kind == EventMessageCreated {
				break
			}
		}
	}
}

func BenchmarkRoomBroadcast_10(b *testing.B)  { benchmarkRoomBroadcast(b, 10) }
func BenchmarkRoomBroadcast_100(b *testing.B) { benchmarkRoomBroadcast(b, 100) }
