package core

import (
	"github.com/rentme/chatrelay/internal/metrics"
	"github.com/rentme/chatrelay/internal/store"
)

// Client is one live transport connection bound to a user. A user may own
// several clients at once (multiple tabs or devices).
type Client struct {
	ConnID      string
	UserID      int64
	Username    string
	DisplayName string
	Role        store.Role
	Commands    chan *Command
	Events      chan *Event
	rooms       map[string]struct{}
	quit        chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(connID string, userID int64, username, displayName string, role store.Role) *Client {
	if displayName == "" {
		displayName = username
	}
	return &Client{
		ConnID:      connID,
		UserID:      userID,
		Username:    username,
		DisplayName: displayName,
		Role:        role,
		Commands:    make(chan *Command, 8),
		Events:      make(chan *Event, 16),
		rooms:       make(map[string]struct{}),
		quit:        make(chan struct{}),
	}
}

// trySend delivers an event without blocking. A slow consumer loses the
// event and catches up through history on its next room join.
func (c *Client) trySend(event *Event) {
	select {
	case c.Events <- event:
	default:
		metrics.EventsDropped.Inc()
	}
}
