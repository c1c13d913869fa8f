package core

import "sync"

// Presence derives online/offline state from the number of active
// connections per user. It is transient and rebuilt as connections
// re-register; only the hub mutates it.
type Presence struct {
	mu     sync.RWMutex
	counts map[int64]int
}

// NewPresence creates an empty presence tracker.
func NewPresence() *Presence {
	return &Presence{counts: make(map[int64]int)}
}

// IsOnline reports whether the user has at least one active connection.
func (p *Presence) IsOnline(userID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.counts[userID] > 0
}

// add increments the user's connection count and reports whether this was
// the 0 -> 1 transition.
func (p *Presence) add(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]++
	return p.counts[userID] == 1
}

// remove decrements the user's connection count and reports whether this
// was the 1 -> 0 transition.
func (p *Presence) remove(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts[userID] == 0 {
		return false
	}
	p.counts[userID]--
	if p.counts[userID] == 0 {
		delete(p.counts, userID)
		return true
	}
	return false
}
