package server

import "sync"

// feedRegistry tracks one Broadcaster per live session. Feeds are created
// when the session begins and closed when it is reset, evicted, or the
// server shuts down.
type feedRegistry struct {
	mu    sync.RWMutex
	feeds map[string]*Broadcaster
}

func newFeedRegistry() *feedRegistry {
	return &feedRegistry{feeds: make(map[string]*Broadcaster)}
}

func (r *feedRegistry) create(sessionID string) *Broadcaster {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.feeds[sessionID]; ok {
		return b
	}
	b := NewBroadcaster()
	r.feeds[sessionID] = b
	return b
}

func (r *feedRegistry) get(sessionID string) (*Broadcaster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.feeds[sessionID]
	return b, ok
}

// drop closes and removes the session's feed. Unknown ids are a no-op.
func (r *feedRegistry) drop(sessionID string) {
	r.mu.Lock()
	b, ok := r.feeds[sessionID]
	delete(r.feeds, sessionID)
	r.mu.Unlock()
	if ok {
		b.Close()
	}
}

// closeAll closes every feed. Used at shutdown so SSE clients see "done"
// instead of a dropped connection.
func (r *feedRegistry) closeAll() {
	r.mu.Lock()
	feeds := make([]*Broadcaster, 0, len(r.feeds))
	for id, b := range r.feeds {
		feeds = append(feeds, b)
		delete(r.feeds, id)
	}
	r.mu.Unlock()
	for _, b := range feeds {
		b.Close()
	}
}
