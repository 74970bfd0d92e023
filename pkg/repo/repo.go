// Package repo provides the node configuration repository behind bootstrap
// reset. A repository holds one JSON document; Replace swaps the whole
// document (last-writer-wins, no optimistic concurrency).
package repo

import (
	"context"
	"fmt"
)

// Document is the full persisted node configuration. Fields the gateway
// does not know about round-trip untouched.
type Document = map[string]any

// Repository is the storage contract. Implementations: file, badger.
type Repository interface {
	GetAll(ctx context.Context) (Document, error)
	Replace(ctx context.Context, doc Document) error
	Close() error
}

const (
	DriverFile   = "file"
	DriverBadger = "badger"
)

// Open builds a repository for the named driver. An empty driver name
// selects the file driver.
func Open(driver, path string) (Repository, error) {
	switch driver {
	case DriverFile, "":
		return NewFile(path), nil
	case DriverBadger:
		return NewBadger(path)
	default:
		return nil, fmt.Errorf("unknown repo driver %q", driver)
	}
}
