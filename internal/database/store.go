// Package database provides storage backends for tracked items and their price history.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/bryan-buckman/pricewatch/internal/model"
)

var (
	// ErrNotFound is returned when an item does not exist.
	ErrNotFound = errors.New("item not found")
	// ErrDuplicateURL is returned when registering a URL that is already tracked.
	ErrDuplicateURL = errors.New("url already tracked")
)

// Batch is the set of writes produced by one worker cycle.
// It is committed as a single transaction.
type Batch struct {
	Items   []model.Item
	History []model.PriceHistoryEntry
}

// Empty reports whether the batch carries no writes.
func (b Batch) Empty() bool {
	return len(b.Items) == 0 && len(b.History) == 0
}

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can serve
	// many concurrent readers while the worker processes a batch.
	SupportsHighConcurrency() bool

	// Item operations
	CreateItem(ctx context.Context, item *model.Item) (int64, error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	GetItemByURL(ctx context.Context, url string) (*model.Item, error)
	// DueItems returns items whose next check is unset or not after now,
	// excluding sticky statuses, never-scheduled items first.
	DueItems(ctx context.Context, now time.Time, limit int) ([]model.Item, error)
	ResetItem(ctx context.Context, id int64, now time.Time) error

	// Price history operations
	LatestPrice(ctx context.Context, itemID int64) (*float64, error)
	ListHistory(ctx context.Context, itemID int64, limit int) ([]model.PriceHistoryEntry, error)

	// CommitBatch applies item updates and history inserts atomically.
	CommitBatch(ctx context.Context, b Batch) error
}
