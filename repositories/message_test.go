package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newMessage(conversationID, sender, recipient domain.ID, at time.Time) domain.Message {
	return domain.Message{
		ConversationID: conversationID,
		SenderID:       sender,
		RecipientID:    recipient,
		Text:           "this message will self destruct in 5 seconds",
		Type:           domain.TypeText,
		Status:         domain.StatusSent,
		CreatedAt:      at,
	}
}

func Test_Record_Multiple_Message(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMessageRepository(openDB(t), slog.Default())
	conversationID, alice, bob := domain.NewID(), domain.NewID(), domain.NewID()
	at := time.Now().UTC().Truncate(time.Millisecond)

	var created []domain.Message
	for i := 0; i < 3; i++ {
		m, err := repository.Create(ctx, newMessage(conversationID, alice, bob, at.Add(time.Duration(i)*time.Minute)))
		req.NoError(err)
		req.False(m.ID.IsZero())
		req.Equal(m.CreatedAt, m.UpdatedAt)
		created = append(created, m)
	}

	fetched, err := repository.Find(ctx, MessageFilter{ConversationID: &conversationID})
	req.NoError(err)
	req.Len(fetched, 3)
	// ObjectIds are time-ordered, so the index scan keeps creation order
	for i := range created {
		req.Equal(created[i].ID, fetched[i].ID)
		req.True(created[i].CreatedAt.Equal(fetched[i].CreatedAt))
	}

	byID, err := repository.FindByID(ctx, created[1].ID)
	req.NoError(err)
	req.Equal(created[1].Text, byID.Text)
}

func TestMessageRepository_Find_Filters(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMessageRepository(openDB(t), slog.Default())
	conversationID, otherConversation := domain.NewID(), domain.NewID()
	alice, bob := domain.NewID(), domain.NewID()
	now := time.Now().UTC()

	toBob, err := repository.Create(ctx, newMessage(conversationID, alice, bob, now))
	req.NoError(err)
	toAlice, err := repository.Create(ctx, newMessage(conversationID, bob, alice, now))
	req.NoError(err)
	elsewhere, err := repository.Create(ctx, newMessage(otherConversation, alice, bob, now))
	req.NoError(err)

	t.Run("should select by recipient and status", func(t *testing.T) {
		sent := domain.StatusSent
		messages, err := repository.Find(ctx, MessageFilter{RecipientID: &bob, Status: &sent})
		require.NoError(t, err)
		require.ElementsMatch(t, []domain.ID{toBob.ID, elsewhere.ID}, ids(messages))
	})

	t.Run("should combine conversation and recipient", func(t *testing.T) {
		messages, err := repository.Find(ctx, MessageFilter{ConversationID: &conversationID, RecipientID: &alice})
		require.NoError(t, err)
		require.Equal(t, []domain.ID{toAlice.ID}, ids(messages))
	})

	t.Run("should match nothing with an empty id list", func(t *testing.T) {
		messages, err := repository.Find(ctx, MessageFilter{IDs: []domain.ID{}})
		require.NoError(t, err)
		require.Empty(t, messages)
	})

	t.Run("should scan everything without criteria", func(t *testing.T) {
		messages, err := repository.Find(ctx, MessageFilter{})
		require.NoError(t, err)
		require.Len(t, messages, 3)
	})
}

func TestMessageRepository_FindByID_NotFound(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default())

	_, err := repository.FindByID(context.Background(), domain.NewID())
	req.ErrorIs(err, errors.ErrMessageNotFound)

	_, err = repository.FindByIDAndUpdate(context.Background(), domain.NewID(),
		MessageUpdate{Status: domain.StatusDelivered, At: time.Now()})
	req.ErrorIs(err, errors.ErrMessageNotFound)
}

func TestMessageRepository_UpdateMany_Is_Monotonic(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMessageRepository(openDB(t), slog.Default())
	conversationID, alice, bob := domain.NewID(), domain.NewID(), domain.NewID()
	now := time.Now().UTC()

	m1, err := repository.Create(ctx, newMessage(conversationID, alice, bob, now))
	req.NoError(err)
	m2, err := repository.Create(ctx, newMessage(conversationID, alice, bob, now))
	req.NoError(err)

	// Given one message already read
	read, err := repository.FindByIDAndUpdate(ctx, m1.ID, MessageUpdate{Status: domain.StatusRead, At: now})
	req.NoError(err)
	req.Equal(domain.StatusRead, read.Status)
	req.NotNil(read.ReadAt)

	// When both are marked delivered
	modified, err := repository.UpdateMany(ctx, MessageFilter{IDs: []domain.ID{m1.ID, m2.ID}},
		MessageUpdate{Status: domain.StatusDelivered, At: now.Add(time.Second)})

	// Then only the sent one moves
	req.NoError(err)
	req.Equal(1, modified)
	stored, err := repository.FindByID(ctx, m1.ID)
	req.NoError(err)
	req.Equal(domain.StatusRead, stored.Status)
	stored, err = repository.FindByID(ctx, m2.ID)
	req.NoError(err)
	req.Equal(domain.StatusDelivered, stored.Status)
	req.NotNil(stored.DeliveredAt)

	// And re-applying the same status writes nothing
	modified, err = repository.UpdateMany(ctx, MessageFilter{IDs: []domain.ID{m2.ID}},
		MessageUpdate{Status: domain.StatusDelivered, At: now.Add(2 * time.Second)})
	req.NoError(err)
	req.Zero(modified)

	// And a regressing single update returns the record untouched
	unchanged, err := repository.FindByIDAndUpdate(ctx, m1.ID, MessageUpdate{Status: domain.StatusDelivered, At: now})
	req.NoError(err)
	req.Equal(domain.StatusRead, unchanged.Status)
}

func ids(messages []domain.Message) []domain.ID {
	res := make([]domain.ID, 0, len(messages))
	for _, m := range messages {
		res = append(res, m.ID)
	}
	return res
}
