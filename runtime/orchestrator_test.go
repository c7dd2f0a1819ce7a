package runtime

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

// RecordingConnection keeps every event it is handed.
type RecordingConnection struct {
	handle string
	mu     sync.Mutex
	events []event.DomainEvent
}

func newRecordingConnection() *RecordingConnection {
	return &RecordingConnection{handle: uuid.NewString()}
}

func (c *RecordingConnection) Consume(_ context.Context, e event.DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *RecordingConnection) Handle() string { return c.handle }

func (c *RecordingConnection) Events() []event.DomainEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.DomainEvent(nil), c.events...)
}

func eventsOf[T event.DomainEvent](c *RecordingConnection) []T {
	return lo.FilterMap(c.Events(), func(e event.DomainEvent, _ int) (T, bool) {
		typed, ok := e.(T)
		return typed, ok
	})
}

// countingMessages records the modified count of every UpdateMany call.
type countingMessages struct {
	repositories.IMessageRepository
	mu       sync.Mutex
	modified []int
}

func (c *countingMessages) UpdateMany(ctx context.Context, filter repositories.MessageFilter,
	update repositories.MessageUpdate) (int, error) {
	n, err := c.IMessageRepository.UpdateMany(ctx, filter, update)
	c.mu.Lock()
	c.modified = append(c.modified, n)
	c.mu.Unlock()
	return n, err
}

type fixture struct {
	orchestrator  *Orchestrator
	registry      *Registry
	presence      *PresenceTracker
	messages      *countingMessages
	conversations *repositories.ConversationRepository
	alice, bob    domain.ID
	conversation  domain.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	registry := NewRegistry()
	presence := NewPresenceTracker()
	messages := &countingMessages{IMessageRepository: repositories.NewMessageRepository(db, log)}
	conversations := repositories.NewConversationRepository(db, log)
	notifier := NewNotifier(log, registry, nil, time.Second)

	alice, bob := domain.NewID(), domain.NewID()
	conversation, created, err := conversations.FindOrCreateDirect(context.Background(), alice, bob, time.Now().UTC())
	req.NoError(err)
	req.True(created)

	return &fixture{
		orchestrator:  NewOrchestrator(log, registry, presence, notifier, conversations, messages, nil),
		registry:      registry,
		presence:      presence,
		messages:      messages,
		conversations: conversations,
		alice:         alice,
		bob:           bob,
		conversation:  conversation,
	}
}

func (f *fixture) send(t *testing.T, origin *RecordingConnection, clientMessageID, text string) {
	t.Helper()
	err := f.orchestrator.Send(context.Background(), origin, f.alice.Hex(), domain.SendCommand{
		ConversationID:  f.conversation.ID.Hex(),
		ClientMessageID: clientMessageID,
		Text:            text,
	})
	require.NoError(t, err)
}

func (f *fixture) persisted(t *testing.T) []domain.Message {
	t.Helper()
	messages, err := f.messages.Find(context.Background(), repositories.MessageFilter{ConversationID: &f.conversation.ID})
	require.NoError(t, err)
	return messages
}

func TestOrchestrator_Send_Offline_Recipient(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	aliceConn := newRecordingConnection()

	// Given bob has no connection registered
	// When alice sends a message
	f.send(t, aliceConn, "c1", "hi")

	// Then one message is persisted as sent
	messages := f.persisted(t)
	req.Len(messages, 1)
	req.Equal(domain.StatusSent, messages[0].Status)
	req.Equal(f.bob, messages[0].RecipientID)
	req.Equal(domain.TypeText, messages[0].Type)

	// And alice gets a receipt without status
	receipts := eventsOf[event.SendReceipt](aliceConn)
	req.Len(receipts, 1)
	req.Equal("c1", receipts[0].ClientMessageID)
	req.Equal(messages[0].ID, receipts[0].SavedMessageID)
	req.Equal(f.conversation.ID.Hex(), receipts[0].ConversationID)
	payload, err := json.Marshal(receipts[0])
	req.NoError(err)
	req.NotContains(string(payload), `"status"`)

	// And the conversation points at the new message
	conversation, err := f.conversations.FindByID(context.Background(), f.conversation.ID)
	req.NoError(err)
	req.NotNil(conversation.LastMessage)
	req.Equal(messages[0].ID, *conversation.LastMessage)
}

func TestOrchestrator_Connect_Reconciles_Pending_Messages(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	aliceConn, bobConn := newRecordingConnection(), newRecordingConnection()

	// Given alice is connected and sent two messages while bob was away
	req.NoError(f.orchestrator.Connect(ctx, aliceConn, f.alice.Hex()))
	f.send(t, aliceConn, "c1", "hi")
	f.send(t, aliceConn, "c2", "still there?")

	// When bob connects
	req.NoError(f.orchestrator.Connect(ctx, bobConn, f.bob.Hex()))

	// Then both messages are delivered
	messages := f.persisted(t)
	req.Len(messages, 2)
	for _, m := range messages {
		req.Equal(domain.StatusDelivered, m.Status)
		req.NotNil(m.DeliveredAt)
	}

	// And alice receives a single aggregated receipt
	receipts := eventsOf[event.DeliveryReceipt](aliceConn)
	req.Len(receipts, 1)
	req.Equal(domain.StatusDelivered, receipts[0].Status)
	req.ElementsMatch(lo.Map(messages, func(m domain.Message, _ int) domain.ID { return m.ID }), receipts[0].MessageIDs)

	// And alice learned that bob came online
	statuses := eventsOf[event.UserStatus](aliceConn)
	req.Contains(statuses, event.UserStatus{UserID: f.bob.Hex(), State: domain.PresenceOnline})
	req.Equal(domain.PresenceOnline, f.presence.State(f.bob.Hex()))
}

func TestOrchestrator_Connect_Without_Reachable_Sender(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	aliceConn, bobConn := newRecordingConnection(), newRecordingConnection()

	// Given alice sent a message and went away before bob connected
	f.send(t, aliceConn, "c1", "hi")

	// When bob connects
	req.NoError(f.orchestrator.Connect(ctx, bobConn, f.bob.Hex()))

	// Then the message is delivered but nobody is told
	req.Equal(domain.StatusDelivered, f.persisted(t)[0].Status)
	req.Empty(eventsOf[event.DeliveryReceipt](aliceConn))
}

func TestOrchestrator_Send_Online_Recipient(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	aliceConn, bobConn := newRecordingConnection(), newRecordingConnection()
	f.registry.Register(f.alice.Hex(), aliceConn)
	f.registry.Register(f.bob.Hex(), bobConn)

	f.send(t, aliceConn, "c2", "yo")

	// Bob gets the record as it was before the delivery update
	private := eventsOf[event.PrivateMessage](bobConn)
	req.Len(private, 1)
	req.Equal(domain.StatusSent, private[0].Status)
	req.Equal("yo", private[0].Text)

	// While the stored record is delivered
	messages := f.persisted(t)
	req.Len(messages, 1)
	req.Equal(domain.StatusDelivered, messages[0].Status)

	receipts := eventsOf[event.SendReceipt](aliceConn)
	req.Len(receipts, 1)
	req.Equal(event.SendReceipt{
		ClientMessageID: "c2",
		SavedMessageID:  messages[0].ID,
		Status:          domain.StatusDelivered,
		ConversationID:  f.conversation.ID.Hex(),
	}, receipts[0])
}

func TestOrchestrator_Send_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("should answer a malformed conversation id with an error event", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		aliceConn := newRecordingConnection()

		err := f.orchestrator.Send(ctx, aliceConn, f.alice.Hex(), domain.SendCommand{ConversationID: "nope", Text: "hi"})

		req.ErrorIs(err, errors.ErrInvalidConversationID)
		req.Equal([]event.DomainEvent{event.Error{Message: event.ErrorInvalidConversationID}}, aliceConn.Events())
		req.Empty(f.persisted(t))
	})

	t.Run("should drop a message to a missing conversation silently", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		aliceConn := newRecordingConnection()

		err := f.orchestrator.Send(ctx, aliceConn, f.alice.Hex(), domain.SendCommand{ConversationID: domain.NewID().Hex(), Text: "hi"})

		req.NoError(err)
		req.Empty(aliceConn.Events())
	})

	t.Run("should reject empty text with the generic error", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		aliceConn := newRecordingConnection()

		err := f.orchestrator.Send(ctx, aliceConn, f.alice.Hex(), domain.SendCommand{ConversationID: f.conversation.ID.Hex()})

		req.ErrorIs(err, errors.ErrEmptyText)
		req.Equal([]event.DomainEvent{event.Error{Message: event.ErrorSendFailed}}, aliceConn.Events())
		req.Empty(f.persisted(t))
	})

	t.Run("should reject an unknown message type", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		aliceConn := newRecordingConnection()

		err := f.orchestrator.Send(ctx, aliceConn, f.alice.Hex(), domain.SendCommand{
			ConversationID: f.conversation.ID.Hex(), Text: "hi", Type: "sticker",
		})

		req.ErrorIs(err, errors.ErrInvalidMessageType)
		req.Empty(f.persisted(t))
	})
}

func TestOrchestrator_MarkRead_Fanout(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	aliceConn := newRecordingConnection()

	// Given alice sent three messages to bob
	f.send(t, aliceConn, "c1", "one")
	f.send(t, aliceConn, "c2", "two")
	f.send(t, aliceConn, "c3", "three")
	f.registry.Register(f.alice.Hex(), aliceConn)

	// When bob reads the conversation
	req.NoError(f.orchestrator.MarkRead(ctx, f.bob.Hex(), f.conversation.ID.Hex()))

	// Then every message is read
	for _, m := range f.persisted(t) {
		req.Equal(domain.StatusRead, m.Status)
		req.NotNil(m.ReadAt)
	}
	// And alice is told exactly once
	req.Equal([]event.ReadReceipt{{ConversationID: f.conversation.ID.Hex(), Status: domain.StatusRead}},
		eventsOf[event.ReadReceipt](aliceConn))
}

func TestOrchestrator_MarkRead_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, newRecordingConnection(), "c1", "hi")
	f.send(t, newRecordingConnection(), "c2", "hi again")

	req.NoError(f.orchestrator.MarkRead(ctx, f.bob.Hex(), f.conversation.ID.Hex()))
	req.NoError(f.orchestrator.MarkRead(ctx, f.bob.Hex(), f.conversation.ID.Hex()))

	req.Equal([]int{2, 0}, f.messages.modified)
}

func TestOrchestrator_MarkRead_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("should refuse a malformed conversation id", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		err := f.orchestrator.MarkRead(ctx, f.bob.Hex(), "nope")
		req.ErrorIs(err, errors.ErrInvalidConversationID)
	})

	t.Run("should refuse a caller outside the conversation", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		aliceConn := newRecordingConnection()
		f.registry.Register(f.alice.Hex(), aliceConn)

		err := f.orchestrator.MarkRead(ctx, domain.NewID().Hex(), f.conversation.ID.Hex())

		req.ErrorIs(err, errors.ErrNotParticipant)
		req.Empty(aliceConn.Events())
	})
}

func TestOrchestrator_Status_Never_Regresses(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		f.send(t, newRecordingConnection(), uuid.NewString(), "hi")
	}

	// When reconciliation, single delivery updates and mark-read race
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = f.orchestrator.Reconcile(ctx, f.bob.Hex())
		}()
		go func() {
			defer wg.Done()
			_ = f.orchestrator.MarkRead(ctx, f.bob.Hex(), f.conversation.ID.Hex())
		}()
		go func() {
			defer wg.Done()
			messages, _ := f.messages.Find(ctx, repositories.MessageFilter{ConversationID: &f.conversation.ID})
			for _, m := range messages {
				_, _ = f.messages.FindByIDAndUpdate(ctx, m.ID, repositories.MessageUpdate{
					Status: domain.StatusDelivered, At: time.Now().UTC(),
				})
			}
		}()
	}
	wg.Wait()

	// Then the last mark-read already found everything read
	for _, m := range f.persisted(t) {
		req.Equal(domain.StatusRead, m.Status)
	}

	// And later delivery passes change nothing
	req.NoError(f.orchestrator.Reconcile(ctx, f.bob.Hex()))
	for _, m := range f.persisted(t) {
		req.Equal(domain.StatusRead, m.Status)
	}
}

func TestOrchestrator_QueryStatus(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	aliceConn := newRecordingConnection()
	req.NoError(f.presence.Apply(f.bob.Hex(), domain.PresenceAway))

	f.orchestrator.QueryStatus(context.Background(), aliceConn, f.alice.Hex(), f.bob.Hex())

	req.Equal([]event.DomainEvent{event.UserStatus{UserID: f.bob.Hex(), State: domain.PresenceAway}}, aliceConn.Events())
	req.Equal(domain.PresenceOnline, f.presence.State(f.alice.Hex()))
}

func TestOrchestrator_UpdateStatus_Broadcasts_To_Partners(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	bobConn, carolConn := newRecordingConnection(), newRecordingConnection()
	carol := domain.NewID()
	_, _, err := f.conversations.FindOrCreateDirect(ctx, f.alice, carol, time.Now().UTC())
	req.NoError(err)
	// A second conversation with bob must not duplicate the notification
	_, err = f.conversations.Create(ctx, domain.Conversation{
		ID: domain.NewID(), Participants: []domain.ID{f.alice, f.bob}, IsGroup: true,
	})
	req.NoError(err)
	f.registry.Register(f.bob.Hex(), bobConn)
	f.registry.Register(carol.Hex(), carolConn)

	req.NoError(f.orchestrator.UpdateStatus(ctx, f.alice.Hex(), domain.PresenceAway))

	expected := []event.DomainEvent{event.UserStatus{UserID: f.alice.Hex(), State: domain.PresenceAway}}
	req.Equal(expected, bobConn.Events())
	req.Equal(expected, carolConn.Events())

	// Empty identities are ignored
	req.NoError(f.orchestrator.UpdateStatus(ctx, "", domain.PresenceOnline))
}

func TestOrchestrator_Disconnect_Keeps_Newer_Connection(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	stale, fresh := newRecordingConnection(), newRecordingConnection()

	req.NoError(f.orchestrator.Connect(ctx, stale, f.bob.Hex()))
	req.NoError(f.orchestrator.Connect(ctx, fresh, f.bob.Hex()))

	// When the stale socket finally closes
	f.orchestrator.Disconnect(ctx, stale, f.bob.Hex())

	// Then the newer connection stays registered
	conn, ok := f.registry.Lookup(f.bob.Hex())
	req.True(ok)
	req.Equal(fresh, conn)
	// While the offline transition still ran for the user
	req.Equal(domain.PresenceOffline, f.presence.State(f.bob.Hex()))
}

// failingMessages fails every store call the send, reconcile and mark-read paths make.
type failingMessages struct {
	repositories.IMessageRepository
}

var errStoreDown = stderrors.New("store down")

func (failingMessages) Create(context.Context, domain.Message) (domain.Message, error) {
	return domain.Message{}, errStoreDown
}

func (failingMessages) Find(context.Context, repositories.MessageFilter) ([]domain.Message, error) {
	return nil, errStoreDown
}

func (failingMessages) UpdateMany(context.Context, repositories.MessageFilter, repositories.MessageUpdate) (int, error) {
	return 0, errStoreDown
}

func TestOrchestrator_Persistence_Failures(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	log := slog.Default()
	orchestrator := NewOrchestrator(log, f.registry, f.presence, NewNotifier(log, f.registry, nil, time.Second),
		f.conversations, failingMessages{}, nil)

	alice, bob := newRecordingConnection(), newRecordingConnection()
	f.registry.Register(f.alice.Hex(), alice)

	// When the store fails on send
	err := orchestrator.Send(ctx, alice, f.alice.Hex(), domain.SendCommand{
		ConversationID:  f.conversation.ID.Hex(),
		ClientMessageID: "c-1",
		Text:            "lost",
	})

	// Then the sender only gets the generic error
	req.ErrorIs(err, errStoreDown)
	req.Equal([]event.DomainEvent{event.Error{Message: event.ErrorSendFailed}}, alice.Events())

	// When reconciliation fails on connect
	err = orchestrator.Connect(ctx, bob, f.bob.Hex())

	// Then the failure stays in the logs, only the presence broadcast goes out
	req.ErrorIs(err, errStoreDown)
	req.Empty(bob.Events())
	req.Equal([]event.DomainEvent{
		event.Error{Message: event.ErrorSendFailed},
		event.UserStatus{UserID: f.bob.Hex(), State: domain.PresenceOnline},
	}, alice.Events())

	// When mark-read fails
	err = orchestrator.MarkRead(ctx, f.bob.Hex(), f.conversation.ID.Hex())

	// Then nobody hears about it
	req.ErrorIs(err, errStoreDown)
	req.Empty(bob.Events())
	req.Len(alice.Events(), 2)
}
