package domain

import "chat-relay/errors"

type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceAway    PresenceState = "away"
	PresenceOffline PresenceState = "offline"
)

func ParsePresenceState(s string) (PresenceState, error) {
	switch PresenceState(s) {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return PresenceState(s), nil
	default:
		return "", errors.ErrInvalidPresenceState
	}
}
