package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	MessagePrefix           = "msg:"
	recipientIndexPrefix    = "idx:msg:rcpt:"
	conversationIndexPrefix = "idx:msg:conv:"
)

// MessageRepository stores messages in BadgerDB.
// Records live under "msg:{id}"; secondary keys "idx:msg:rcpt:{recipient}:{id}" and
// "idx:msg:conv:{conversation}:{id}" serve the reconciliation and mark-read scans.
// ObjectIds are time-prefixed, so index scans return messages in creation order.
type MessageRepository struct {
	// Serializes read-modify-write transactions so concurrent status updates
	// never commit a regression.
	mu  sync.Mutex
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log}
}

func (r *MessageRepository) Create(_ context.Context, message domain.Message) (domain.Message, error) {
	if message.ID.IsZero() {
		message.ID = domain.NewID()
	}
	if message.UpdatedAt.IsZero() {
		message.UpdatedAt = message.CreatedAt
	}
	bytes, err := bson.Marshal(message)
	if err != nil {
		return domain.Message{}, fmt.Errorf("marshal message: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(message.ID), bytes); err != nil {
			return err
		}
		if err := txn.Set(indexKey(recipientIndexPrefix, message.RecipientID, message.ID), nil); err != nil {
			return err
		}
		return txn.Set(indexKey(conversationIndexPrefix, message.ConversationID, message.ID), nil)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

func (r *MessageRepository) FindByID(_ context.Context, id domain.ID) (domain.Message, error) {
	var message domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		message, err = getMessage(txn, id)
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	return message, err
}

func (r *MessageRepository) Find(_ context.Context, filter MessageFilter) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		messages, err = findMessages(txn, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *MessageRepository) UpdateMany(_ context.Context, filter MessageFilter, update MessageUpdate) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	modified := 0
	err := r.db.Update(func(txn *badger.Txn) error {
		modified = 0
		messages, err := findMessages(txn, filter)
		if err != nil {
			return err
		}
		for _, m := range messages {
			if !m.Advance(update.Status, update.At) {
				continue
			}
			if err := putMessage(txn, m); err != nil {
				return err
			}
			modified++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.log.Debug("Messages updated", "status", update.Status, "modified", modified)
	return modified, nil
}

func (r *MessageRepository) FindByIDAndUpdate(_ context.Context, id domain.ID, update MessageUpdate) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var message domain.Message
	err := r.db.Update(func(txn *badger.Txn) error {
		var err error
		message, err = getMessage(txn, id)
		if err != nil {
			return err
		}
		if !message.Advance(update.Status, update.At) {
			return nil
		}
		return putMessage(txn, message)
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

// findMessages resolves candidate ids through the narrowest index the filter allows,
// then applies the full filter on the decoded records.
func findMessages(txn *badger.Txn, filter MessageFilter) ([]domain.Message, error) {
	var ids []domain.ID
	var err error
	switch {
	case filter.IDs != nil:
		ids = filter.IDs
	case filter.ConversationID != nil:
		ids, err = scanIndex(txn, indexPrefix(conversationIndexPrefix, *filter.ConversationID))
	case filter.RecipientID != nil:
		ids, err = scanIndex(txn, indexPrefix(recipientIndexPrefix, *filter.RecipientID))
	default:
		ids, err = scanIndex(txn, []byte(MessagePrefix))
	}
	if err != nil {
		return nil, err
	}

	var messages []domain.Message
	for _, id := range ids {
		m, err := getMessage(txn, id)
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Match(m) {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

func getMessage(txn *badger.Txn, id domain.ID) (domain.Message, error) {
	var message domain.Message
	item, err := txn.Get(messageKey(id))
	if err != nil {
		return domain.Message{}, err
	}
	err = item.Value(func(val []byte) error {
		return bson.Unmarshal(val, &message)
	})
	return message, err
}

func putMessage(txn *badger.Txn, message domain.Message) error {
	bytes, err := bson.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return txn.Set(messageKey(message.ID), bytes)
}

func messageKey(id domain.ID) []byte {
	return []byte(MessagePrefix + id.Hex())
}
