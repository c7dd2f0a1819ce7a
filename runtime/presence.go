package runtime

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"sync"
)

// PresenceTracker keeps two independent membership sets, online and away.
//
// The sets are not mutually exclusive: going away does not leave the online set,
// and coming online only leaves the away set. Only offline clears both. Queries
// give online precedence over away, so a user who went away while online still
// reads as online. Clients rely on this behaviour and it is kept as is.
type PresenceTracker struct {
	mu     sync.RWMutex
	online Set
	away   Set
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		online: make(Set),
		away:   make(Set),
	}
}

// Apply performs the membership update of one presence transition.
func (p *PresenceTracker) Apply(userID string, state domain.PresenceState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch state {
	case domain.PresenceOnline:
		p.online[userID] = struct{}{}
		delete(p.away, userID)
	case domain.PresenceAway:
		p.away[userID] = struct{}{}
	case domain.PresenceOffline:
		delete(p.online, userID)
		delete(p.away, userID)
	default:
		return errors.ErrInvalidPresenceState
	}
	return nil
}

// Query reports the state of targetID.
// Asking about anyone marks the caller online and not away, before the target is read.
func (p *PresenceTracker) Query(callerID, targetID string) domain.PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.online[callerID] = struct{}{}
	delete(p.away, callerID)
	return p.stateLocked(targetID)
}

// State reports the state of userID without side effects.
func (p *PresenceTracker) State(userID string) domain.PresenceState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stateLocked(userID)
}

func (p *PresenceTracker) OnlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online)
}

func (p *PresenceTracker) stateLocked(userID string) domain.PresenceState {
	if _, ok := p.online[userID]; ok {
		return domain.PresenceOnline
	}
	if _, ok := p.away[userID]; ok {
		return domain.PresenceAway
	}
	return domain.PresenceOffline
}
