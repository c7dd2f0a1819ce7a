package mongostore

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const conversationsCollection = "conversations"

type ConversationRepository struct {
	// Guards the find-or-create sequence inside this process.
	mu   sync.Mutex
	coll *mongo.Collection
	log  *slog.Logger
}

func NewConversationRepository(db *mongo.Database, log *slog.Logger) *ConversationRepository {
	return &ConversationRepository{coll: db.Collection(conversationsCollection), log: log}
}

func (r *ConversationRepository) Create(ctx context.Context, conversation domain.Conversation) (domain.Conversation, error) {
	if conversation.ID.IsZero() {
		conversation.ID = domain.NewID()
	}
	if _, err := r.coll.InsertOne(ctx, conversation); err != nil {
		return domain.Conversation{}, err
	}
	return conversation, nil
}

func (r *ConversationRepository) FindByID(ctx context.Context, id domain.ID) (domain.Conversation, error) {
	var conversation domain.Conversation
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&conversation)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	return conversation, err
}

func (r *ConversationRepository) Find(ctx context.Context, filter repositories.ConversationFilter) ([]domain.Conversation, error) {
	query := bson.M{}
	if filter.Participant != nil {
		query["participants"] = *filter.Participant
	}
	cursor, err := r.coll.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	var conversations []domain.Conversation
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

func (r *ConversationRepository) FindByIDAndUpdate(ctx context.Context, id domain.ID, update repositories.ConversationUpdate) (domain.Conversation, error) {
	set := bson.M{}
	if update.LastMessage != nil {
		set["lastMessage"] = *update.LastMessage
	}
	if !update.UpdatedAt.IsZero() {
		set["updatedAt"] = update.UpdatedAt
	}
	var conversation domain.Conversation
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&conversation)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	return conversation, err
}

func (r *ConversationRepository) FindOrCreateDirect(ctx context.Context, a, b domain.ID, at time.Time) (domain.Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing domain.Conversation
	err := r.coll.FindOne(ctx, DirectQuery(a, b)).Decode(&existing)
	if err == nil {
		return existing, false, nil
	}
	if !stderrors.Is(err, mongo.ErrNoDocuments) {
		return domain.Conversation{}, false, err
	}
	conversation, err := r.Create(ctx, domain.NewDirectConversation(a, b, at))
	if err != nil {
		return domain.Conversation{}, false, err
	}
	return conversation, true, nil
}

// DirectQuery matches the non-group conversation made of exactly a and b.
func DirectQuery(a, b domain.ID) bson.M {
	return bson.M{
		"isGroup":      false,
		"participants": bson.M{"$all": bson.A{a, b}, "$size": 2},
	}
}
