package main

import (
	"chat-relay/domain"
	"chat-relay/repositories"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
	"go.mongodb.org/mongo-driver/bson"
)

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	// Index keys are skipped, so scanning "" lists every record.
	prefix := flag.String("prefix", repositories.MessagePrefix, "Prefix to scan (msg: or conv:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Updated", "Status", "Participants", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if strings.HasPrefix(key, "idx:") {
				continue
			}
			err := item.Value(func(v []byte) error {
				row, err := toRow(key, v)
				if err != nil {
					fmt.Printf("Error unmarshaling key %s: %v\n", key, err)
					return nil
				}
				table.Append(row)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

func toRow(key string, v []byte) ([]string, error) {
	switch {
	case strings.HasPrefix(key, repositories.MessagePrefix):
		var m domain.Message
		if err := bson.Unmarshal(v, &m); err != nil {
			return nil, err
		}
		return []string{
			key,
			"MESSAGE",
			m.UpdatedAt.Format("2006-01-02 15:04:05"),
			string(m.Status),
			short(m.SenderID) + " -> " + short(m.RecipientID),
			truncate(m.Text, 40),
		}, nil
	case strings.HasPrefix(key, repositories.ConversationPrefix):
		var c domain.Conversation
		if err := bson.Unmarshal(v, &c); err != nil {
			return nil, err
		}
		participants := make([]string, 0, len(c.Participants))
		for _, p := range c.Participants {
			participants = append(participants, short(p))
		}
		detail := "no message"
		if c.LastMessage != nil {
			detail = "last " + short(*c.LastMessage)
		}
		return []string{
			key,
			"CONVERSATION",
			c.UpdatedAt.Format("2006-01-02 15:04:05"),
			"-",
			strings.Join(participants, ","),
			detail,
		}, nil
	}
	return []string{key, "RAW", "-", "-", "-", fmt.Sprintf("Size: %d bytes", len(v))}, nil
}

// short keeps the trailing counter bytes of an ObjectId, which differ between ids minted in the same second.
func short(id domain.ID) string {
	hex := id.Hex()
	return hex[len(hex)-8:]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
