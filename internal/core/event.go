package core

import "github.com/rentme/chatrelay/internal/store"

// EventKind is a notification the core emits to live connections.
type EventKind int

const (
	// EventMessageCreated notifies room members about a new message.
	EventMessageCreated EventKind = iota
	// EventMessageUpdated notifies room members about an edited body.
	EventMessageUpdated
	// EventMessageDeleted notifies room members that a message was removed.
	EventMessageDeleted
	// EventHistory delivers message history to a client upon joining a room.
	EventHistory
	// EventUserOnline notifies conversation partners that a user came online.
	EventUserOnline
	// EventUserOffline notifies conversation partners that a user went offline.
	EventUserOffline
	// EventConversationListUpdate nudges a client to refetch its summary list.
	EventConversationListUpdate
	// EventError notifies a client about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	RoomKey  string
	UserID   int64 // presence events
	Message  *store.Message
	Messages []*store.Message // for EventHistory
	Error    *CoreError
}
