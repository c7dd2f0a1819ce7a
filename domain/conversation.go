package domain

import (
	"time"

	"github.com/samber/lo"
)

// Conversation groups the participants of a chat.
// A non-group conversation always has exactly two distinct participants.
type Conversation struct {
	ID           ID        `bson:"_id" json:"_id"`
	Participants []ID      `bson:"participants" json:"participants"`
	IsGroup      bool      `bson:"isGroup" json:"isGroup"`
	Name         string    `bson:"name,omitempty" json:"name,omitempty"`
	LastMessage  *ID       `bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	CreatedBy    ID        `bson:"createdBy" json:"createdBy"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

func NewDirectConversation(createdBy, other ID, at time.Time) Conversation {
	return Conversation{
		ID:           NewID(),
		Participants: []ID{createdBy, other},
		CreatedBy:    createdBy,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func (c Conversation) HasParticipant(userID ID) bool {
	return lo.Contains(c.Participants, userID)
}

// OtherParticipant resolves the first participant that is not userID.
func (c Conversation) OtherParticipant(userID ID) (ID, bool) {
	return lo.Find(c.Participants, func(p ID) bool { return p != userID })
}

// OtherParticipants lists every participant except userID.
func (c Conversation) OtherParticipants(userID ID) []ID {
	return lo.Filter(c.Participants, func(p ID, _ int) bool { return p != userID })
}
