// Package mongostore implements the repositories contract over the MongoDB
// "messages" and "conversations" collections.
package mongostore

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	stderrors "errors"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messagesCollection = "messages"

type MessageRepository struct {
	coll *mongo.Collection
	log  *slog.Logger
}

func NewMessageRepository(db *mongo.Database, log *slog.Logger) *MessageRepository {
	return &MessageRepository{coll: db.Collection(messagesCollection), log: log}
}

func (r *MessageRepository) Create(ctx context.Context, message domain.Message) (domain.Message, error) {
	if message.ID.IsZero() {
		message.ID = domain.NewID()
	}
	if message.UpdatedAt.IsZero() {
		message.UpdatedAt = message.CreatedAt
	}
	if _, err := r.coll.InsertOne(ctx, message); err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

func (r *MessageRepository) FindByID(ctx context.Context, id domain.ID) (domain.Message, error) {
	var message domain.Message
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&message)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	return message, err
}

func (r *MessageRepository) Find(ctx context.Context, filter repositories.MessageFilter) ([]domain.Message, error) {
	if filter.IDs != nil && len(filter.IDs) == 0 {
		return nil, nil
	}
	cursor, err := r.coll.Find(ctx, MessageQuery(filter),
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var messages []domain.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *MessageRepository) UpdateMany(ctx context.Context, filter repositories.MessageFilter, update repositories.MessageUpdate) (int, error) {
	if filter.IDs != nil && len(filter.IDs) == 0 {
		return 0, nil
	}
	query := bson.M{"$and": bson.A{MessageQuery(filter), regressionGuard(update.Status)}}
	res, err := r.coll.UpdateMany(ctx, query, MessageSet(update))
	if err != nil {
		return 0, err
	}
	r.log.Debug("Messages updated", "status", update.Status, "modified", res.ModifiedCount)
	return int(res.ModifiedCount), nil
}

// FindByIDAndUpdate returns the current record untouched when the update would not
// advance its status.
func (r *MessageRepository) FindByIDAndUpdate(ctx context.Context, id domain.ID, update repositories.MessageUpdate) (domain.Message, error) {
	var message domain.Message
	query := bson.M{"$and": bson.A{bson.M{"_id": id}, regressionGuard(update.Status)}}
	err := r.coll.FindOneAndUpdate(ctx, query, MessageSet(update),
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&message)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return r.FindByID(ctx, id)
	}
	return message, err
}

// MessageQuery translates a filter into a MongoDB query document.
func MessageQuery(filter repositories.MessageFilter) bson.M {
	query := bson.M{}
	if filter.IDs != nil {
		query["_id"] = bson.M{"$in": filter.IDs}
	}
	if filter.ConversationID != nil {
		query["conversationId"] = *filter.ConversationID
	}
	if filter.RecipientID != nil {
		query["recipientId"] = *filter.RecipientID
	}
	switch {
	case filter.Status != nil && filter.StatusNot != nil:
		query["status"] = bson.M{"$eq": *filter.Status, "$ne": *filter.StatusNot}
	case filter.Status != nil:
		query["status"] = *filter.Status
	case filter.StatusNot != nil:
		query["status"] = bson.M{"$ne": *filter.StatusNot}
	}
	return query
}

// MessageSet builds the $set document of a status update.
func MessageSet(update repositories.MessageUpdate) bson.M {
	set := bson.M{"status": update.Status, "updatedAt": update.At}
	switch update.Status {
	case domain.StatusDelivered:
		set["deliveredAt"] = update.At
	case domain.StatusRead:
		set["readAt"] = update.At
	}
	return bson.M{"$set": set}
}

func regressionGuard(next domain.MessageStatus) bson.M {
	return bson.M{"status": bson.M{"$in": next.Below()}}
}
