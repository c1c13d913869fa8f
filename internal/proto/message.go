package proto

import "encoding/json"

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeJoinRoom = "join_room"
	InboundTypeSend     = "send"
	InboundTypeEdit     = "edit"
	InboundTypeDelete   = "delete"
	InboundTypeMarkRead = "mark_read"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventMessageCreated         = "message_created"
	EventMessageUpdated         = "message_updated"
	EventMessageDeleted         = "message_deleted"
	EventHistory                = "history"
	EventUserOnline             = "user_online"
	EventUserOffline            = "user_offline"
	EventConversationListUpdate = "conversation_list_update"
)

// JoinRoomData subscribes the connection to the conversation with a
// counterpart.
type JoinRoomData struct {
	UserID int64 `json:"user_id"`
}

// SendData is a new chat message from the client.
type SendData struct {
	ReceiverID int64  `json:"receiver_id"`
	Body       string `json:"body"`
}

// EditData replaces the body of an existing message.
type EditData struct {
	MessageID int64  `json:"message_id"`
	Body      string `json:"body"`
}

// DeleteData removes an existing message.
type DeleteData struct {
	MessageID int64 `json:"message_id"`
}

// MarkReadData acknowledges the conversation with a counterpart.
type MarkReadData struct {
	UserID int64 `json:"user_id"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// MessagePayload carries one message in created events and history.
type MessagePayload struct {
	ID         int64  `json:"id"`
	Room       string `json:"room"`
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Body       string `json:"body"`
	TS         int64  `json:"ts"`
	Edited     bool   `json:"edited,omitempty"`
}

// MessageUpdatedPayload notifies about an edited body.
type MessageUpdatedPayload struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

// MessageDeletedPayload notifies about a removed message.
type MessageDeletedPayload struct {
	ID int64 `json:"id"`
}

// HistoryPayload hydrates a client joining a room.
type HistoryPayload struct {
	Room     string           `json:"room"`
	Messages []MessagePayload `json:"messages"`
}

// PresencePayload notifies about a user's online state change.
type PresencePayload struct {
	UserID int64 `json:"user_id"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
