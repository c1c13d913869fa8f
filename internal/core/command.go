package core

// CommandKind describes what a live connection wants to do.
type CommandKind int

const (
	// CommandJoinRoom subscribes the connection to the conversation with
	// a counterpart and hydrates it with history.
	CommandJoinRoom CommandKind = iota
	// CommandSendMessage delivers a message to the counterpart.
	CommandSendMessage
	// CommandEditMessage replaces the body of a previously sent message.
	CommandEditMessage
	// CommandDeleteMessage tombstones a previously sent message.
	CommandDeleteMessage
	// CommandMarkRead acknowledges the conversation with a counterpart.
	CommandMarkRead
)

// Command represents an action requested by a live connection.
type Command struct {
	Kind          CommandKind
	CounterpartID int64
	MessageID     int64
	Body          string
}
