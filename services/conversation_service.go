//go:generate go run go.uber.org/mock/mockgen -source=conversation_service.go -destination=../mocks/mock_conversation_service.go -package=mocks
package services

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	stderrors "errors"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"
)

type IConversationService interface {
	OpenDirect(ctx context.Context, userID, participantID string) (domain.Conversation, bool, error)
	List(ctx context.Context, userID string) ([]ConversationSummary, error)
	Get(ctx context.Context, userID, conversationID string) (domain.Conversation, error)
	History(ctx context.Context, userID, conversationID string) ([]domain.Message, error)
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ConversationID domain.ID       `json:"conversationId"`
	UserID         domain.ID       `json:"userId"`
	LastMessage    *MessagePreview `json:"lastMessage"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type MessagePreview struct {
	ID        domain.ID            `json:"_id"`
	Text      string               `json:"text"`
	Status    domain.MessageStatus `json:"status"`
	SenderID  domain.ID            `json:"senderId"`
	CreatedAt time.Time            `json:"createdAt"`
}

type ConversationService struct {
	log           *slog.Logger
	conversations repositories.IConversationRepository
	messages      repositories.IMessageRepository
}

func NewConversationService(log *slog.Logger, conversations repositories.IConversationRepository,
	messages repositories.IMessageRepository) *ConversationService {
	return &ConversationService{log: log, conversations: conversations, messages: messages}
}

// OpenDirect finds or creates the direct conversation between userID and participantID.
func (s *ConversationService) OpenDirect(ctx context.Context, userID, participantID string) (domain.Conversation, bool, error) {
	user, err := domain.ParseUserID(userID)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	participant, err := domain.ParseUserID(participantID)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	if user == participant {
		return domain.Conversation{}, false, errors.ErrNoRecipient
	}
	return s.conversations.FindOrCreateDirect(ctx, user, participant, time.Now().UTC())
}

// List returns the conversations of userID, most recently updated first.
func (s *ConversationService) List(ctx context.Context, userID string) ([]ConversationSummary, error) {
	user, err := domain.ParseUserID(userID)
	if err != nil {
		return nil, err
	}
	conversations, err := s.conversations.Find(ctx, repositories.ConversationFilter{Participant: &user})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(conversations, func(a, b domain.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})

	summaries := make([]ConversationSummary, 0, len(conversations))
	for _, c := range conversations {
		other, ok := c.OtherParticipant(user)
		if !ok {
			continue
		}
		summary := ConversationSummary{ConversationID: c.ID, UserID: other, UpdatedAt: c.UpdatedAt}
		if c.LastMessage != nil {
			preview, err := s.preview(ctx, *c.LastMessage)
			if err != nil {
				return nil, err
			}
			summary.LastMessage = preview
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *ConversationService) preview(ctx context.Context, id domain.ID) (*MessagePreview, error) {
	m, err := s.messages.FindByID(ctx, id)
	if stderrors.Is(err, errors.ErrMessageNotFound) {
		s.log.Warn("Last message pointer is dangling", "message_id", id.Hex())
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lo.ToPtr(MessagePreview{
		ID:        m.ID,
		Text:      m.Text,
		Status:    m.Status,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
	}), nil
}

// Get returns one conversation userID takes part in.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (domain.Conversation, error) {
	if !domain.IsValidID(conversationID) {
		return domain.Conversation{}, errors.ErrInvalidConversationID
	}
	user, err := domain.ParseUserID(userID)
	if err != nil {
		return domain.Conversation{}, err
	}
	convID, _ := domain.ParseID(conversationID)
	conversation, err := s.conversations.FindByID(ctx, convID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !conversation.HasParticipant(user) {
		return domain.Conversation{}, errors.ErrNotParticipant
	}
	return conversation, nil
}

// History returns the messages of a conversation, oldest first.
func (s *ConversationService) History(ctx context.Context, userID, conversationID string) ([]domain.Message, error) {
	conversation, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	messages, err := s.messages.Find(ctx, repositories.MessageFilter{ConversationID: &conversation.ID})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(messages, func(a, b domain.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return messages, nil
}
