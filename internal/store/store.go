package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Role distinguishes the two sides of a rental conversation.
type Role string

const (
	RoleTenant Role = "tenant"
	RoleOwner  Role = "owner"
)

// User represents a marketplace user as the chat relay sees it.
// Identity is issued elsewhere; the relay only needs the stable id,
// the role tag and a display name.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
}

// Message represents a persisted chat message. Once assigned, ID and
// RoomKey never change. Deleted messages stay in the table as tombstones
// and are excluded from reads.
type Message struct {
	ID         int64
	RoomKey    string
	SenderID   int64
	ReceiverID int64
	Body       string
	CreatedAt  time.Time
	Edited     bool
	Deleted    bool
}

// ConversationEntry is one roster row for a user: the counterpart they
// have talked to, the last active message in that room, and how many
// active messages addressed to them they have not read yet.
type ConversationEntry struct {
	RoomKey     string
	Counterpart *User
	LastMessage *Message
	Unread      int
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, displayName string, role Role, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a message and assigns its ID.
	CreateMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID, tombstones included.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// UpdateMessageBody replaces the body of a message and marks it edited.
	UpdateMessageBody(ctx context.Context, id int64, body string) error

	// TombstoneMessage marks a message deleted. The row is kept so the
	// id is never reused; reads skip it.
	TombstoneMessage(ctx context.Context, id int64) error

	// ListMessages retrieves active messages from a room in ascending
	// creation order. If beforeID is provided, only messages older than
	// that ID are returned. Limit caps the page size.
	ListMessages(ctx context.Context, roomKey string, limit int, beforeID *int64) ([]*Message, error)
}

// ConversationStore handles the per-user conversation roster and read markers.
type ConversationStore interface {
	// ListConversations returns one entry per counterpart the user has
	// exchanged at least one active message with, newest room first.
	ListConversations(ctx context.Context, userID int64) ([]*ConversationEntry, error)

	// MarkRead advances the user's read marker in a room to the newest
	// message currently stored there.
	MarkRead(ctx context.Context, userID int64, roomKey string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore
	ConversationStore

	// Close closes the underlying database connection.
	Close() error
}
