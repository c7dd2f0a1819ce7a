package internal

import (
	"chat-relay/errors"
	"chat-relay/repositories"
	"chat-relay/repositories/mongostore"
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// Store bundles the repositories of the configured driver.
type Store struct {
	Messages      repositories.IMessageRepository
	Conversations repositories.IConversationRepository
	close         func(ctx context.Context) error
}

func OpenStore(ctx context.Context, config Config, log *slog.Logger) (*Store, error) {
	switch config.StoreDriver {
	case StoreBadger:
		db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
			WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, fmt.Errorf("database opening failed: %w", err)
		}
		log.Info("Opened BadgerDB", "path", config.BadgerFilepath)
		return &Store{
			Messages:      repositories.NewMessageRepository(db, log),
			Conversations: repositories.NewConversationRepository(db, log),
			close: func(context.Context) error {
				log.Info("Closing BadgerDB...")
				return db.Close()
			},
		}, nil
	case StoreMongo:
		client, db, err := mongostore.Open(ctx, config.MongoURI, config.MongoDatabase, log)
		if err != nil {
			return nil, err
		}
		return &Store{
			Messages:      mongostore.NewMessageRepository(db, log),
			Conversations: mongostore.NewConversationRepository(db, log),
			close: func(ctx context.Context) error {
				log.Info("Disconnecting from MongoDB...")
				return client.Disconnect(ctx)
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownStoreDriver, config.StoreDriver)
	}
}

func (s *Store) Close(ctx context.Context) error {
	return s.close(ctx)
}
