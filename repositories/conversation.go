package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	ConversationPrefix     = "conv:"
	participantIndexPrefix = "idx:conv:user:"
	pairIndexPrefix        = "idx:conv:pair:"
)

// ConversationRepository stores conversations in BadgerDB under "conv:{id}".
// Every participant gets an "idx:conv:user:{user}:{id}" key, and every direct
// conversation a unique "idx:conv:pair:{low}:{high}" key pointing at its id.
type ConversationRepository struct {
	mu  sync.Mutex
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) *ConversationRepository {
	return &ConversationRepository{db: db, log: log}
}

func (r *ConversationRepository) Create(_ context.Context, conversation domain.Conversation) (domain.Conversation, error) {
	if conversation.ID.IsZero() {
		conversation.ID = domain.NewID()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.db.Update(func(txn *badger.Txn) error {
		return insertConversation(txn, conversation)
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return conversation, nil
}

func (r *ConversationRepository) FindByID(_ context.Context, id domain.ID) (domain.Conversation, error) {
	var conversation domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		conversation, err = getConversation(txn, id)
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	return conversation, err
}

func (r *ConversationRepository) Find(_ context.Context, filter ConversationFilter) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		var ids []domain.ID
		var err error
		if filter.Participant != nil {
			ids, err = scanIndex(txn, indexPrefix(participantIndexPrefix, *filter.Participant))
		} else {
			ids, err = scanIndex(txn, []byte(ConversationPrefix))
		}
		if err != nil {
			return err
		}
		for _, id := range ids {
			c, err := getConversation(txn, id)
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if filter.Match(c) {
				conversations = append(conversations, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

func (r *ConversationRepository) FindByIDAndUpdate(_ context.Context, id domain.ID, update ConversationUpdate) (domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var conversation domain.Conversation
	err := r.db.Update(func(txn *badger.Txn) error {
		var err error
		conversation, err = getConversation(txn, id)
		if err != nil {
			return err
		}
		update.Apply(&conversation)
		return putConversation(txn, conversation)
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	return conversation, nil
}

// FindOrCreateDirect runs the existence check and the creation in one serialized
// transaction, so concurrent callers for the same pair share one conversation.
func (r *ConversationRepository) FindOrCreateDirect(_ context.Context, a, b domain.ID, at time.Time) (domain.Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var conversation domain.Conversation
	created := false
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey(a, b))
		switch {
		case err == nil:
			var existing domain.ID
			if err := item.Value(func(val []byte) error {
				existing, err = domain.ParseID(string(val))
				return err
			}); err != nil {
				return err
			}
			conversation, err = getConversation(txn, existing)
			return err
		case stderrors.Is(err, badger.ErrKeyNotFound):
			conversation = domain.NewDirectConversation(a, b, at)
			created = true
			return insertConversation(txn, conversation)
		default:
			return err
		}
	})
	if err != nil {
		return domain.Conversation{}, false, err
	}
	if created {
		r.log.Debug("Direct conversation created", "conversation_id", conversation.ID.Hex())
	}
	return conversation, created, nil
}

func insertConversation(txn *badger.Txn, conversation domain.Conversation) error {
	if err := putConversation(txn, conversation); err != nil {
		return err
	}
	for _, p := range conversation.Participants {
		if err := txn.Set(indexKey(participantIndexPrefix, p, conversation.ID), nil); err != nil {
			return err
		}
	}
	if !conversation.IsGroup && len(conversation.Participants) == 2 {
		key := pairKey(conversation.Participants[0], conversation.Participants[1])
		if _, err := txn.Get(key); stderrors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(key, []byte(conversation.ID.Hex()))
		}
	}
	return nil
}

func getConversation(txn *badger.Txn, id domain.ID) (domain.Conversation, error) {
	var conversation domain.Conversation
	item, err := txn.Get(conversationKey(id))
	if err != nil {
		return domain.Conversation{}, err
	}
	err = item.Value(func(val []byte) error {
		return bson.Unmarshal(val, &conversation)
	})
	return conversation, err
}

func putConversation(txn *badger.Txn, conversation domain.Conversation) error {
	bytes, err := bson.Marshal(conversation)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	return txn.Set(conversationKey(conversation.ID), bytes)
}

func conversationKey(id domain.ID) []byte {
	return []byte(ConversationPrefix + id.Hex())
}

// pairKey is independent of argument order.
func pairKey(a, b domain.ID) []byte {
	low, high := a.Hex(), b.Hex()
	if high < low {
		low, high = high, low
	}
	return []byte(pairIndexPrefix + low + ":" + high)
}
