package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
)

var docKey = []byte("config")

// Badger keeps the document under a single key in an embedded badger
// store. An empty path opens the store in memory, which the tests use.
type Badger struct {
	db *badger.DB
}

func NewBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

func (b *Badger) GetAll(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc := Document{}
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			dec := json.NewDecoder(bytes.NewReader(val))
			dec.UseNumber()
			return dec.Decode(&doc)
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *Badger) Replace(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(docKey, raw)
	})
}

func (b *Badger) Close() error { return b.db.Close() }
