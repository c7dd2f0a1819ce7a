// Package runtime tracks who is reachable and drives messages through their
// delivery lifecycle. It owns the process-wide connection registry and presence
// sets; persistence goes through the repositories contract.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/repositories"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
)

// Orchestrator is the delivery orchestrator.
//
// Handlers may run concurrently, for the same or different connections, and
// interleave at every store call. The only shared in-memory state is the
// registry and the presence tracker, which serialize their own access.
type Orchestrator struct {
	log           *slog.Logger
	registry      contract.IRegistry
	presence      contract.IPresence
	notifier      contract.INotifier
	conversations repositories.IConversationRepository
	messages      repositories.IMessageRepository
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewOrchestrator(log *slog.Logger, registry contract.IRegistry, presence contract.IPresence,
	notifier contract.INotifier, conversations repositories.IConversationRepository,
	messages repositories.IMessageRepository, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		log:           log,
		registry:      registry,
		presence:      presence,
		notifier:      notifier,
		conversations: conversations,
		messages:      messages,
		metrics:       metrics,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Connect registers conn as the user's connection, flips the user online and
// reconciles the messages that were waiting for them.
func (o *Orchestrator) Connect(ctx context.Context, conn contract.Connection, userID string) error {
	o.registry.Register(userID, conn)
	o.metrics.SetConnections(o.registry.Count())
	o.log.Info("User connected", "user_id", userID, "handle", conn.Handle())

	_ = o.UpdateStatus(ctx, userID, domain.PresenceOnline)
	return o.Reconcile(ctx, userID)
}

// Reconcile moves every "sent" message addressed to userID to "delivered" and sends
// one aggregated receipt per reachable sender. Unreachable senders get nothing:
// they learn about the delivery only by fetching the history again.
func (o *Orchestrator) Reconcile(ctx context.Context, userID string) error {
	recipient, err := domain.ParseUserID(userID)
	if err != nil {
		o.log.Error("Error marking messages as delivered", "user_id", userID, "error", err)
		return err
	}

	sent := domain.StatusSent
	pending, err := o.messages.Find(ctx, repositories.MessageFilter{RecipientID: &recipient, Status: &sent})
	if err != nil {
		o.log.Error("Error marking messages as delivered", "user_id", userID, "error", err)
		return fmt.Errorf("find pending messages: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	ids := lo.Map(pending, func(m domain.Message, _ int) domain.ID { return m.ID })
	modified, err := o.messages.UpdateMany(ctx,
		repositories.MessageFilter{IDs: ids},
		repositories.MessageUpdate{Status: domain.StatusDelivered, At: o.now()})
	if err != nil {
		o.log.Error("Error marking messages as delivered", "user_id", userID, "error", err)
		return fmt.Errorf("mark delivered: %w", err)
	}
	o.metrics.StatusTransitions(string(domain.StatusDelivered), modified)

	bySender := lo.GroupBy(pending, func(m domain.Message) string { return m.SenderID.Hex() })
	for senderID, messages := range bySender {
		o.notifier.DeliverTo(ctx, senderID, event.DeliveryReceipt{
			MessageIDs: lo.Map(messages, func(m domain.Message, _ int) domain.ID { return m.ID }),
			Status:     domain.StatusDelivered,
		})
	}
	o.log.Debug("Delivery receipts sent", "user_id", userID, "messages", len(pending), "senders", len(bySender))
	return nil
}

// Send persists a private message and routes it to the recipient when reachable.
//
// A malformed conversation id is answered with an error event, while a well-formed
// id of a missing conversation is dropped without any answer. Any other failure is
// reported to the sending connection as a generic error.
func (o *Orchestrator) Send(ctx context.Context, origin contract.Connection, senderID string, cmd domain.SendCommand) error {
	if !domain.IsValidID(cmd.ConversationID) {
		o.notifier.Emit(ctx, origin, event.Error{Message: event.ErrorInvalidConversationID})
		return errors.ErrInvalidConversationID
	}

	err := o.send(ctx, origin, senderID, cmd)
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, errors.ErrConversationNotFound):
		o.log.Info("Conversation not found, message dropped",
			"user_id", senderID, "conversation_id", cmd.ConversationID)
		return nil
	default:
		o.log.Error("Failed to send message",
			"user_id", senderID, "conversation_id", cmd.ConversationID, "error", err)
		o.notifier.Emit(ctx, origin, event.Error{Message: event.ErrorSendFailed})
		return err
	}
}

func (o *Orchestrator) send(ctx context.Context, origin contract.Connection, senderID string, cmd domain.SendCommand) error {
	conversationID, err := domain.ParseID(cmd.ConversationID)
	if err != nil {
		return errors.ErrInvalidConversationID
	}
	sender, err := domain.ParseUserID(senderID)
	if err != nil {
		return err
	}

	conversation, err := o.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return err
	}
	recipient, ok := conversation.OtherParticipant(sender)
	if !ok {
		return errors.ErrNoRecipient
	}
	// Reachability is decided before persisting, like the emit target below.
	recipientConn, reachable := o.registry.Lookup(recipient.Hex())

	if cmd.Text == "" {
		return errors.ErrEmptyText
	}
	messageType, err := domain.ParseMessageType(cmd.Type)
	if err != nil {
		return err
	}

	now := o.now()
	saved, err := o.messages.Create(ctx, domain.Message{
		ConversationID: conversationID,
		SenderID:       sender,
		RecipientID:    recipient,
		Text:           cmd.Text,
		Type:           messageType,
		Status:         domain.StatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	o.metrics.MessagePersisted()

	if _, err = o.conversations.FindByIDAndUpdate(ctx, conversationID, repositories.ConversationUpdate{
		LastMessage: &saved.ID,
		UpdatedAt:   now,
	}); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	if !reachable {
		// No status field: the recipient has not been reached yet.
		o.notifier.Emit(ctx, origin, event.SendReceipt{
			ClientMessageID: cmd.ClientMessageID,
			SavedMessageID:  saved.ID,
			ConversationID:  cmd.ConversationID,
		})
		return nil
	}

	// The recipient gets the record as persisted, still "sent".
	o.notifier.Emit(ctx, recipientConn, event.PrivateMessage{Message: saved})

	if _, err = o.messages.FindByIDAndUpdate(ctx, saved.ID, repositories.MessageUpdate{
		Status: domain.StatusDelivered,
		At:     o.now(),
	}); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	o.metrics.StatusTransitions(string(domain.StatusDelivered), 1)

	o.notifier.Emit(ctx, origin, event.SendReceipt{
		ClientMessageID: cmd.ClientMessageID,
		SavedMessageID:  saved.ID,
		Status:          domain.StatusDelivered,
		ConversationID:  cmd.ConversationID,
	})
	return nil
}

// MarkRead moves every unread message addressed to userID in the conversation to
// "read", then tells the other reachable participants once, whatever the count.
// Failures are logged, never reported to a client.
func (o *Orchestrator) MarkRead(ctx context.Context, userID, conversationID string) error {
	err := o.markRead(ctx, userID, conversationID)
	if err != nil {
		o.log.Error("Read receipt error", "user_id", userID, "conversation_id", conversationID, "error", err)
	}
	return err
}

func (o *Orchestrator) markRead(ctx context.Context, userID, conversationID string) error {
	convID, err := domain.ParseID(conversationID)
	if err != nil {
		return errors.ErrInvalidConversationID
	}
	reader, err := domain.ParseUserID(userID)
	if err != nil {
		return err
	}

	read := domain.StatusRead
	modified, err := o.messages.UpdateMany(ctx,
		repositories.MessageFilter{ConversationID: &convID, RecipientID: &reader, StatusNot: &read},
		repositories.MessageUpdate{Status: domain.StatusRead, At: o.now()})
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	o.metrics.StatusTransitions(string(domain.StatusRead), modified)
	o.log.Debug("Messages marked as read", "user_id", userID, "conversation_id", conversationID, "modified", modified)

	conversation, err := o.conversations.FindByID(ctx, convID)
	if err != nil {
		return err
	}
	if !conversation.HasParticipant(reader) {
		return errors.ErrNotParticipant
	}
	for _, participant := range conversation.OtherParticipants(reader) {
		o.notifier.DeliverTo(ctx, participant.Hex(), event.ReadReceipt{
			ConversationID: conversationID,
			Status:         domain.StatusRead,
		})
	}
	return nil
}

// QueryStatus answers a presence query on the asking connection.
// The query itself marks the caller online (and not away), without a broadcast.
func (o *Orchestrator) QueryStatus(ctx context.Context, origin contract.Connection, callerID, targetID string) {
	state := o.presence.Query(callerID, targetID)
	o.metrics.SetOnline(o.presence.OnlineCount())
	o.notifier.Emit(ctx, origin, event.UserStatus{UserID: targetID, State: state})
}

// UpdateStatus applies a presence transition for userID and broadcasts it.
func (o *Orchestrator) UpdateStatus(ctx context.Context, userID string, state domain.PresenceState) error {
	if userID == "" {
		return nil
	}
	if err := o.presence.Apply(userID, state); err != nil {
		o.log.Warn("Presence transition rejected", "user_id", userID, "state", state, "error", err)
		return err
	}
	o.metrics.SetOnline(o.presence.OnlineCount())
	return o.BroadcastPresence(ctx, userID, state)
}

// BroadcastPresence sends {userId, state} to every reachable partner of userID,
// a partner being any other participant of a conversation userID belongs to.
func (o *Orchestrator) BroadcastPresence(ctx context.Context, userID string, state domain.PresenceState) error {
	user, err := domain.ParseUserID(userID)
	if err != nil {
		o.log.Error("Error handling status update", "user_id", userID, "error", err)
		return err
	}
	conversations, err := o.conversations.Find(ctx, repositories.ConversationFilter{Participant: &user})
	if err != nil {
		o.log.Error("Error handling status update", "user_id", userID, "error", err)
		return fmt.Errorf("find conversations: %w", err)
	}
	if len(conversations) == 0 {
		return nil
	}

	partners := lo.Uniq(lo.FlatMap(conversations, func(c domain.Conversation, _ int) []domain.ID {
		return c.OtherParticipants(user)
	}))
	for _, partner := range partners {
		o.notifier.DeliverTo(ctx, partner.Hex(), event.UserStatus{UserID: userID, State: state})
	}
	o.log.Debug(fmt.Sprintf("Status update sent: %s -> %s", userID, state), "partners", len(partners))
	return nil
}

// Disconnect forgets the registry entry of this exact connection, then runs the
// offline transition for the user the connection was authenticated as.
func (o *Orchestrator) Disconnect(ctx context.Context, conn contract.Connection, userID string) {
	removed := o.registry.Unregister(conn.Handle())
	o.metrics.SetConnections(o.registry.Count())
	o.log.Info("User disconnected", "user_id", userID, "handle", conn.Handle(), "unregistered", len(removed))

	_ = o.UpdateStatus(ctx, userID, domain.PresenceOffline)
}
