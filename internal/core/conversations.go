package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rentme/chatrelay/internal/store"
)

// ConversationSummary is the per-user projection of one conversation for
// list display. It is derived state: the store plus the presence snapshot
// can rebuild it at any time.
type ConversationSummary struct {
	RoomKey         string
	CounterpartID   int64
	CounterpartName string
	CounterpartRole store.Role
	LastMessageID   int64
	LastBody        string
	LastAt          time.Time
	LastFromSelf    bool
	Unread          int
	Online          bool
}

type summaryState struct {
	counterpart store.User
	lastID      int64
	lastBody    string
	lastAt      time.Time
	lastSender  int64
	unread      int
}

// ConversationLists maintains the summary projection per user. Room
// workers apply message-driven updates; REST handlers read through List.
// Users are loaded lazily from the store and dropped again whenever an
// incremental update cannot be applied without a store round trip.
type ConversationLists struct {
	mu       sync.Mutex
	store    store.Store
	presence *Presence
	loaded   map[int64]map[string]*summaryState
	// gen is bumped on every mutation touching a viewer. A load runs
	// outside the lock so store latency never stalls the room workers;
	// its result is only cached if the viewer's generation did not move
	// while it was in flight.
	gen map[int64]uint64
}

// NewConversationLists creates an empty aggregator over the given store
// and presence snapshot.
func NewConversationLists(st store.Store, presence *Presence) *ConversationLists {
	return &ConversationLists{
		store:    st,
		presence: presence,
		loaded:   make(map[int64]map[string]*summaryState),
		gen:      make(map[int64]uint64),
	}
}

// List returns the user's conversation summaries ordered by last-message
// timestamp descending. The projection is loaded from the store on first
// use or after an invalidation; the store read happens without holding
// the aggregator lock.
func (l *ConversationLists) List(ctx context.Context, userID int64) ([]ConversationSummary, error) {
	l.mu.Lock()
	if rooms, ok := l.loaded[userID]; ok {
		defer l.mu.Unlock()
		return l.snapshot(userID, rooms), nil
	}
	startGen := l.gen[userID]
	l.mu.Unlock()

	rooms, err := l.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.loaded[userID]; ok {
		// A concurrent List installed a projection first; use it.
		return l.snapshot(userID, cached), nil
	}
	if l.gen[userID] == startGen {
		l.loaded[userID] = rooms
	}
	// A moved generation means a mutation raced the load; serve the
	// snapshot once without caching so the next List reloads.
	return l.snapshot(userID, rooms), nil
}

// snapshot builds the ordered summary slice. Callers hold l.mu.
func (l *ConversationLists) snapshot(userID int64, rooms map[string]*summaryState) []ConversationSummary {
	summaries := make([]ConversationSummary, 0, len(rooms))
	for key, st := range rooms {
		summaries = append(summaries, ConversationSummary{
			RoomKey:         key,
			CounterpartID:   st.counterpart.ID,
			CounterpartName: st.counterpart.DisplayName,
			CounterpartRole: st.counterpart.Role,
			LastMessageID:   st.lastID,
			LastBody:        st.lastBody,
			LastAt:          st.lastAt,
			LastFromSelf:    st.lastSender == userID,
			Unread:          st.unread,
			Online:          l.presence.IsOnline(st.counterpart.ID),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].LastAt.Equal(summaries[j].LastAt) {
			return summaries[i].LastMessageID > summaries[j].LastMessageID
		}
		return summaries[i].LastAt.After(summaries[j].LastAt)
	})

	return summaries
}

func (l *ConversationLists) load(ctx context.Context, userID int64) (map[string]*summaryState, error) {
	entries, err := l.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	rooms := make(map[string]*summaryState, len(entries))
	for _, entry := range entries {
		rooms[entry.RoomKey] = &summaryState{
			counterpart: *entry.Counterpart,
			lastID:      entry.LastMessage.ID,
			lastBody:    entry.LastMessage.Body,
			lastAt:      entry.LastMessage.CreatedAt,
			lastSender:  entry.LastMessage.SenderID,
			unread:      entry.Unread,
		}
	}
	return rooms, nil
}

// ApplyCreated folds a new message into both participants' projections.
// Unread increments only for the receiver.
func (l *ConversationLists) ApplyCreated(msg *store.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, viewer := range []int64{msg.SenderID, msg.ReceiverID} {
		l.gen[viewer]++
		rooms, ok := l.loaded[viewer]
		if !ok {
			continue
		}
		st, ok := rooms[msg.RoomKey]
		if !ok {
			// First message with a new counterpart: the projection needs
			// the counterpart's identity, which requires a store read.
			// Drop the loaded state so the next List rebuilds it.
			delete(l.loaded, viewer)
			continue
		}
		if msg.ID <= st.lastID {
			// Already folded in by a rebuild that raced this event.
			continue
		}
		st.lastID = msg.ID
		st.lastBody = msg.Body
		st.lastAt = msg.CreatedAt
		st.lastSender = msg.SenderID
		if viewer == msg.ReceiverID {
			st.unread++
		}
	}
}

// ApplyUpdated rewrites the preview body when the edited message is the
// one currently shown in a list. Edits never reorder and never touch
// unread counts.
func (l *ConversationLists) ApplyUpdated(msg *store.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, viewer := range []int64{msg.SenderID, msg.ReceiverID} {
		l.gen[viewer]++
		rooms, ok := l.loaded[viewer]
		if !ok {
			continue
		}
		if st, ok := rooms[msg.RoomKey]; ok && st.lastID == msg.ID {
			st.lastBody = msg.Body
		}
	}
}

// ApplyDeleted invalidates both participants' projections. The deleted
// message may have been the preview, and unread counts must be recounted
// against active messages only; the store rebuild is authoritative.
func (l *ConversationLists) ApplyDeleted(msg *store.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, viewer := range []int64{msg.SenderID, msg.ReceiverID} {
		l.gen[viewer]++
		if rooms, ok := l.loaded[viewer]; ok {
			if _, ok := rooms[msg.RoomKey]; ok {
				delete(l.loaded, viewer)
			}
		}
	}
}

// MarkRead zeroes the unread counter for one conversation. Nothing else
// ever decrements it.
func (l *ConversationLists) MarkRead(userID int64, roomKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.gen[userID]++
	if rooms, ok := l.loaded[userID]; ok {
		if st, ok := rooms[roomKey]; ok {
			st.unread = 0
		}
	}
}

// Invalidate drops a user's loaded projection so the next List rebuilds
// it from the store.
func (l *ConversationLists) Invalidate(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen[userID]++
	delete(l.loaded, userID)
}
