// Package tracker decides which items to check, runs each check and
// reschedules items.
package tracker

import (
	"context"
	"time"

	"github.com/bryan-buckman/pricewatch/internal/database"
	"github.com/bryan-buckman/pricewatch/internal/model"
)

// DefaultBatchSize is the number of items selected per cycle.
const DefaultBatchSize = 25

// Scheduler selects due items from the store.
type Scheduler struct {
	store     database.Store
	batchSize int
}

// NewScheduler creates a scheduler that selects at most batchSize items per cycle.
func NewScheduler(store database.Store, batchSize int) *Scheduler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Scheduler{store: store, batchSize: batchSize}
}

// SelectDue returns the items due at now, never-scheduled ones first.
// Items in a sticky status are never returned.
func (s *Scheduler) SelectDue(ctx context.Context, now time.Time) ([]model.Item, error) {
	return s.store.DueItems(ctx, now, s.batchSize)
}

// ScheduleNext pushes the item's next check one interval past now and
// touches its update time. It runs once per item per cycle, whatever the outcome.
func ScheduleNext(item *model.Item, now time.Time) {
	next := now.Add(item.CheckInterval())
	item.NextCheckAt = &next
	item.UpdatedAt = now
}
