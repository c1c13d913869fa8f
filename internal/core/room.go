package core

import "fmt"

// RoomKey derives the canonical room identifier for an unordered pair of
// user ids. It is commutative: RoomKey(a, b) == RoomKey(b, a). A user
// cannot room with themselves.
func RoomKey(a, b int64) (string, error) {
	if a <= 0 || b <= 0 {
		return "", ErrInvalidRoom
	}
	if a == b {
		return "", ErrInvalidRoom
	}
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%d:%d", a, b), nil
}

// Room groups live connections subscribed to the same pairwise
// conversation. Rooms are created lazily on first join and never deleted;
// an empty room is just an empty fan-out list.
type Room struct {
	Key     string
	clients map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(key string) *Room {
	return &Room{
		Key:     key,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// BroadcastExcept sends an event to all clients in the room except skip.
// The originating connection gets its result synchronously instead, so it
// never sees the same message twice.
func (r *Room) BroadcastExcept(event *Event, skip *Client) {
	for client := range r.clients {
		if client == skip {
			continue
		}
		client.trySend(event)
	}
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}
