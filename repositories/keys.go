package repositories

import (
	"chat-relay/domain"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

func indexPrefix(prefix string, owner domain.ID) []byte {
	return []byte(prefix + owner.Hex() + ":")
}

func indexKey(prefix string, owner, id domain.ID) []byte {
	return []byte(prefix + owner.Hex() + ":" + id.Hex())
}

// scanIndex lists the ids found as the last 24 characters of every key under prefix.
// Only keys are read, values are never fetched.
func scanIndex(txn *badger.Txn, prefix []byte) ([]domain.ID, error) {
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	options.Prefix = prefix
	it := txn.NewIterator(options)
	defer it.Close()

	var ids []domain.ID
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := string(it.Item().Key())
		if len(key) < 24 {
			continue
		}
		id, err := domain.ParseID(key[len(key)-24:])
		if err != nil {
			return nil, fmt.Errorf("corrupted key %q: %w", key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
