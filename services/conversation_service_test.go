package services_test

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/repositories"
	"chat-relay/services"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestConversationService_OpenDirect(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	conversations := mocks.NewMockIConversationRepository(ctrl)
	messages := mocks.NewMockIMessageRepository(ctrl)
	svc := services.NewConversationService(slog.Default(), conversations, messages)
	ctx := context.Background()
	alice, bob := domain.NewID(), domain.NewID()

	t.Run("should find or create the direct conversation", func(t *testing.T) {
		req := require.New(t)
		expected := domain.NewDirectConversation(alice, bob, time.Now())

		conversations.EXPECT().
			FindOrCreateDirect(gomock.Any(), alice, bob, gomock.Any()).
			Return(expected, true, nil).
			Times(1)

		conversation, created, err := svc.OpenDirect(ctx, alice.Hex(), bob.Hex())

		req.NoError(err)
		req.True(created)
		req.Equal(expected.ID, conversation.ID)
	})

	t.Run("should reject a malformed participant", func(t *testing.T) {
		req := require.New(t)
		conversations.EXPECT().FindOrCreateDirect(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, _, err := svc.OpenDirect(ctx, alice.Hex(), "not-an-id")

		req.ErrorIs(err, errors.ErrInvalidUserID)
	})

	t.Run("should refuse a conversation with oneself", func(t *testing.T) {
		req := require.New(t)
		conversations.EXPECT().FindOrCreateDirect(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, _, err := svc.OpenDirect(ctx, alice.Hex(), alice.Hex())

		req.ErrorIs(err, errors.ErrNoRecipient)
	})
}

func TestConversationService_List(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	conversations := mocks.NewMockIConversationRepository(ctrl)
	messages := mocks.NewMockIMessageRepository(ctrl)
	svc := services.NewConversationService(slog.Default(), conversations, messages)
	ctx := context.Background()
	alice, bob, carol := domain.NewID(), domain.NewID(), domain.NewID()
	now := time.Now().UTC()

	// Given two conversations, the older one without any message
	older := domain.NewDirectConversation(alice, bob, now.Add(-time.Hour))
	newer := domain.NewDirectConversation(carol, alice, now)
	last := domain.Message{
		ID:        domain.NewID(),
		SenderID:  carol,
		Text:      "hello",
		Status:    domain.StatusDelivered,
		CreatedAt: now,
	}
	newer.LastMessage = lo.ToPtr(last.ID)

	conversations.EXPECT().
		Find(gomock.Any(), repositories.ConversationFilter{Participant: &alice}).
		Return([]domain.Conversation{older, newer}, nil)
	messages.EXPECT().
		FindByID(gomock.Any(), last.ID).
		Return(last, nil)

	// When
	summaries, err := svc.List(ctx, alice.Hex())

	// Then the most recent comes first with its preview
	req.NoError(err)
	req.Len(summaries, 2)
	req.Equal(newer.ID, summaries[0].ConversationID)
	req.Equal(carol, summaries[0].UserID)
	req.NotNil(summaries[0].LastMessage)
	req.Equal("hello", summaries[0].LastMessage.Text)
	req.Equal(domain.StatusDelivered, summaries[0].LastMessage.Status)
	req.Equal(bob, summaries[1].UserID)
	req.Nil(summaries[1].LastMessage)
}

func TestConversationService_List_Dangling_Last_Message(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	conversations := mocks.NewMockIConversationRepository(ctrl)
	messages := mocks.NewMockIMessageRepository(ctrl)
	svc := services.NewConversationService(slog.Default(), conversations, messages)
	alice, bob := domain.NewID(), domain.NewID()

	conversation := domain.NewDirectConversation(alice, bob, time.Now())
	conversation.LastMessage = lo.ToPtr(domain.NewID())

	conversations.EXPECT().Find(gomock.Any(), gomock.Any()).Return([]domain.Conversation{conversation}, nil)
	messages.EXPECT().FindByID(gomock.Any(), *conversation.LastMessage).Return(domain.Message{}, errors.ErrMessageNotFound)

	summaries, err := svc.List(context.Background(), alice.Hex())

	req.NoError(err)
	req.Len(summaries, 1)
	req.Nil(summaries[0].LastMessage)
}

func TestConversationService_History(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	conversations := mocks.NewMockIConversationRepository(ctrl)
	messages := mocks.NewMockIMessageRepository(ctrl)
	svc := services.NewConversationService(slog.Default(), conversations, messages)
	ctx := context.Background()
	alice, bob, mallory := domain.NewID(), domain.NewID(), domain.NewID()
	conversation := domain.NewDirectConversation(alice, bob, time.Now())

	t.Run("should return messages oldest first", func(t *testing.T) {
		req := require.New(t)
		now := time.Now().UTC()
		first := domain.Message{ID: domain.NewID(), Text: "first", CreatedAt: now.Add(-time.Minute)}
		second := domain.Message{ID: domain.NewID(), Text: "second", CreatedAt: now}

		conversations.EXPECT().FindByID(gomock.Any(), conversation.ID).Return(conversation, nil)
		messages.EXPECT().
			Find(gomock.Any(), repositories.MessageFilter{ConversationID: &conversation.ID}).
			Return([]domain.Message{second, first}, nil)

		history, err := svc.History(ctx, bob.Hex(), conversation.ID.Hex())

		req.NoError(err)
		req.Equal([]string{"first", "second"},
			lo.Map(history, func(m domain.Message, _ int) string { return m.Text }))
	})

	t.Run("should reject a malformed conversation id", func(t *testing.T) {
		req := require.New(t)

		_, err := svc.History(ctx, bob.Hex(), "42")

		req.ErrorIs(err, errors.ErrInvalidConversationID)
	})

	t.Run("should refuse a non participant", func(t *testing.T) {
		req := require.New(t)
		conversations.EXPECT().FindByID(gomock.Any(), conversation.ID).Return(conversation, nil)
		messages.EXPECT().Find(gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.History(ctx, mallory.Hex(), conversation.ID.Hex())

		req.ErrorIs(err, errors.ErrNotParticipant)
	})

	t.Run("should surface an unknown conversation", func(t *testing.T) {
		req := require.New(t)
		unknown := domain.NewID()
		conversations.EXPECT().FindByID(gomock.Any(), unknown).Return(domain.Conversation{}, errors.ErrConversationNotFound)

		_, err := svc.History(ctx, bob.Hex(), unknown.Hex())

		req.ErrorIs(err, errors.ErrConversationNotFound)
	})
}

func TestConversationService_Get(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	conversations := mocks.NewMockIConversationRepository(ctrl)
	messages := mocks.NewMockIMessageRepository(ctrl)
	svc := services.NewConversationService(slog.Default(), conversations, messages)
	ctx := context.Background()
	alice, bob, mallory := domain.NewID(), domain.NewID(), domain.NewID()
	conversation := domain.NewDirectConversation(alice, bob, time.Now())

	t.Run("should return the conversation to a participant", func(t *testing.T) {
		req := require.New(t)
		conversations.EXPECT().FindByID(gomock.Any(), conversation.ID).Return(conversation, nil)

		got, err := svc.Get(ctx, alice.Hex(), conversation.ID.Hex())

		req.NoError(err)
		req.Equal(conversation.ID, got.ID)
	})

	t.Run("should reject a malformed conversation id", func(t *testing.T) {
		req := require.New(t)
		conversations.EXPECT().FindByID(gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.Get(ctx, alice.Hex(), "42")

		req.ErrorIs(err, errors.ErrInvalidConversationID)
	})

	t.Run("should refuse a non participant", func(t *testing.T) {
		req := require.New(t)
		conversations.EXPECT().FindByID(gomock.Any(), conversation.ID).Return(conversation, nil)

		_, err := svc.Get(ctx, mallory.Hex(), conversation.ID.Hex())

		req.ErrorIs(err, errors.ErrNotParticipant)
	})

	t.Run("should surface an unknown conversation", func(t *testing.T) {
		req := require.New(t)
		unknown := domain.NewID()
		conversations.EXPECT().FindByID(gomock.Any(), unknown).Return(domain.Conversation{}, errors.ErrConversationNotFound)

		_, err := svc.Get(ctx, bob.Hex(), unknown.Hex())

		req.ErrorIs(err, errors.ErrConversationNotFound)
	})
}
