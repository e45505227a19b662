package service

import (
	"sync"
	"time"
)

type typingKey struct {
	chatID string
	userID string
}

// PresenceCoordinator keeps process-local, ephemeral presence and typing state.
// It is constructed once and injected; it is never a source of truth for
// anything durable, and none of its operations can fail.
type PresenceCoordinator struct {
	mu     sync.RWMutex
	online map[string]map[string]map[string]struct{} // chat -> user -> connection handles
	typing map[typingKey]time.Time                   // absolute expiry per (chat, user)
	window time.Duration
	now    func() time.Time
}

// NewPresenceCoordinator creates a coordinator with the given typing window.
func NewPresenceCoordinator(window time.Duration) *PresenceCoordinator {
	if window <= 0 {
		window = 3 * time.Second
	}
	return &PresenceCoordinator{
		online: make(map[string]map[string]map[string]struct{}),
		typing: make(map[typingKey]time.Time),
		window: window,
		now:    time.Now,
	}
}

// MarkOnline registers a connection handle for the user within a chat room scope.
func (p *PresenceCoordinator) MarkOnline(chatID, userID, connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	users, ok := p.online[chatID]
	if !ok {
		users = make(map[string]map[string]struct{})
		p.online[chatID] = users
	}
	conns, ok := users[userID]
	if !ok {
		conns = make(map[string]struct{})
		users[userID] = conns
	}
	conns[connID] = struct{}{}
}

// MarkOffline removes a connection handle. It reports true when this was the
// user's last live connection in that chat scope.
func (p *PresenceCoordinator) MarkOffline(chatID, userID, connID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	users, ok := p.online[chatID]
	if !ok {
		return true
	}
	conns, ok := users[userID]
	if !ok {
		return true
	}

	delete(conns, connID)
	if len(conns) > 0 {
		return false
	}

	delete(users, userID)
	delete(p.typing, typingKey{chatID: chatID, userID: userID})
	if len(users) == 0 {
		delete(p.online, chatID)
	}
	return true
}

// IsOnline reports whether at least one live connection exists for the user
// within the chat scope.
func (p *PresenceCoordinator) IsOnline(chatID, userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	users, ok := p.online[chatID]
	if !ok {
		return false
	}
	return len(users[userID]) > 0
}

// OnlineUsers lists user ids with at least one live connection in the chat scope.
func (p *PresenceCoordinator) OnlineUsers(chatID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	users := p.online[chatID]
	out := make([]string, 0, len(users))
	for userID, conns := range users {
		if len(conns) > 0 {
			out = append(out, userID)
		}
	}
	return out
}

// SetTyping records a typing entry, overwriting any prior entry for the pair.
func (p *PresenceCoordinator) SetTyping(chatID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing[typingKey{chatID: chatID, userID: userID}] = p.now().Add(p.window)
}

// ClearTyping removes the typing entry, e.g. on send or explicit stop.
func (p *PresenceCoordinator) ClearTyping(chatID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.typing, typingKey{chatID: chatID, userID: userID})
}

// GetTypingUsers returns user ids whose typing entry has not expired. Expiry is
// lazy: stale entries are treated as absent and pruned on the way out.
func (p *PresenceCoordinator) GetTypingUsers(chatID string) []string {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for key, expiry := range p.typing {
		if key.chatID != chatID {
			continue
		}
		if now.After(expiry) {
			delete(p.typing, key)
			continue
		}
		out = append(out, key.userID)
	}
	return out
}
