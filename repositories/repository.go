//go:generate go run go.uber.org/mock/mockgen -source=repository.go -destination=../mocks/mock_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"context"
	"time"

	"github.com/samber/lo"
)

// IMessageRepository is the data-access contract over Message records.
type IMessageRepository interface {
	Create(ctx context.Context, message domain.Message) (domain.Message, error)
	FindByID(ctx context.Context, id domain.ID) (domain.Message, error)
	Find(ctx context.Context, filter MessageFilter) ([]domain.Message, error)
	// UpdateMany applies update to every matching message and returns how many changed.
	UpdateMany(ctx context.Context, filter MessageFilter, update MessageUpdate) (int, error)
	FindByIDAndUpdate(ctx context.Context, id domain.ID, update MessageUpdate) (domain.Message, error)
}

// IConversationRepository is the data-access contract over Conversation records.
type IConversationRepository interface {
	Create(ctx context.Context, conversation domain.Conversation) (domain.Conversation, error)
	FindByID(ctx context.Context, id domain.ID) (domain.Conversation, error)
	Find(ctx context.Context, filter ConversationFilter) ([]domain.Conversation, error)
	FindByIDAndUpdate(ctx context.Context, id domain.ID, update ConversationUpdate) (domain.Conversation, error)
	// FindOrCreateDirect returns the single non-group conversation between a and b,
	// creating it when absent. The boolean reports a creation.
	FindOrCreateDirect(ctx context.Context, a, b domain.ID, at time.Time) (domain.Conversation, bool, error)
}

// MessageFilter selects messages. Nil fields are ignored; a non-nil empty IDs matches nothing.
type MessageFilter struct {
	IDs            []domain.ID
	ConversationID *domain.ID
	RecipientID    *domain.ID
	Status         *domain.MessageStatus
	StatusNot      *domain.MessageStatus
}

func (f MessageFilter) Match(m domain.Message) bool {
	if f.IDs != nil && !lo.Contains(f.IDs, m.ID) {
		return false
	}
	if f.ConversationID != nil && *f.ConversationID != m.ConversationID {
		return false
	}
	if f.RecipientID != nil && *f.RecipientID != m.RecipientID {
		return false
	}
	if f.Status != nil && *f.Status != m.Status {
		return false
	}
	if f.StatusNot != nil && *f.StatusNot == m.Status {
		return false
	}
	return true
}

// MessageUpdate advances the status and stamps the matching timestamp
// (deliveredAt or readAt). Updates never regress a status.
type MessageUpdate struct {
	Status domain.MessageStatus
	At     time.Time
}

type ConversationFilter struct {
	Participant *domain.ID
}

func (f ConversationFilter) Match(c domain.Conversation) bool {
	if f.Participant != nil && !c.HasParticipant(*f.Participant) {
		return false
	}
	return true
}

type ConversationUpdate struct {
	LastMessage *domain.ID
	UpdatedAt   time.Time
}

func (u ConversationUpdate) Apply(c *domain.Conversation) {
	if u.LastMessage != nil {
		c.LastMessage = u.LastMessage
	}
	if !u.UpdatedAt.IsZero() {
		c.UpdatedAt = u.UpdatedAt
	}
}
