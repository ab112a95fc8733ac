package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/bryan-buckman/pricewatch/internal/database"
	"github.com/bryan-buckman/pricewatch/internal/extract"
	"github.com/bryan-buckman/pricewatch/internal/model"
)

// MaxConcurrencySQLite caps parallel item checks on SQLite. Only reads hit
// the store while a batch is in flight.
const MaxConcurrencySQLite = 4

// Renderer turns a URL into fully loaded markup.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Notifier delivers price drop alerts.
type Notifier interface {
	Notify(ctx context.Context, a model.Alert) error
}

// Config holds the worker's recognized options.
type Config struct {
	BatchSize            int           // items per cycle
	IdleEmpty            time.Duration // pause after a cycle that found nothing due
	IdleBusy             time.Duration // pause after a cycle that processed items
	RenderTimeout        time.Duration // per-item fetch deadline
	Concurrency          int           // parallel item checks within a batch
	PerSiteConcurrency   int           // parallel renders against one site
	SiteDelay            time.Duration // minimum gap between renders of one site
	DropThresholdPercent float64
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.IdleEmpty <= 0 {
		c.IdleEmpty = 10 * time.Second
	}
	if c.IdleBusy <= 0 {
		c.IdleBusy = time.Second
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 45 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PerSiteConcurrency <= 0 {
		c.PerSiteConcurrency = DefaultPerSiteConcurrency
	}
	if c.DropThresholdPercent <= 0 {
		c.DropThresholdPercent = DefaultDropThresholdPercent
	}
	return c
}

// ErrorKind classifies how a per-item check failed.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindFetch
	KindNoData
	KindNotify
	KindStore
	KindPanic
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFetch:
		return "fetch"
	case KindNoData:
		return "no-data"
	case KindNotify:
		return "notify"
	case KindStore:
		return "store"
	case KindPanic:
		return "panic"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Result is the outcome of checking one item. Item carries the updated row
// to persist; History is nil unless the check succeeded.
type Result struct {
	Item       model.Item
	History    *model.PriceHistoryEntry
	Transition Transition
	Kind       ErrorKind
	Err        error
	Notified   bool
}

// ErrCycleRunning is returned by TryRunOnce while another cycle is in flight.
var ErrCycleRunning = errors.New("check cycle already running")

// Worker runs check cycles against the store. At most one cycle runs at a
// time per worker.
type Worker struct {
	mu          sync.Mutex // held for a whole cycle
	store       database.Store
	renderer    Renderer
	notifier    Notifier
	scheduler   *Scheduler
	detector    Detector
	limiter     *siteLimiter
	cfg         Config
	concurrency int
	now         func() time.Time
}

// NewWorker creates a worker with concurrency capped by the store backend.
func NewWorker(store database.Store, renderer Renderer, notifier Notifier, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	concurrency := cfg.Concurrency
	if !store.SupportsHighConcurrency() && concurrency > MaxConcurrencySQLite {
		concurrency = MaxConcurrencySQLite
	}
	return &Worker{
		store:       store,
		renderer:    renderer,
		notifier:    notifier,
		scheduler:   NewScheduler(store, cfg.BatchSize),
		detector:    Detector{ThresholdPercent: cfg.DropThresholdPercent},
		limiter:     newSiteLimiter(cfg.PerSiteConcurrency, cfg.SiteDelay),
		cfg:         cfg,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce processes one batch of due items and commits it, waiting for any
// cycle already in flight to finish first. Returns the number of items processed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runCycle(ctx)
}

// TryRunOnce is RunOnce, except that it returns ErrCycleRunning instead of
// waiting when a cycle is already in flight.
func (w *Worker) TryRunOnce(ctx context.Context) (int, error) {
	if !w.mu.TryLock() {
		return 0, ErrCycleRunning
	}
	defer w.mu.Unlock()
	return w.runCycle(ctx)
}

func (w *Worker) runCycle(ctx context.Context) (int, error) {
	cycle := uuid.NewString()[:8]
	items, err := w.scheduler.SelectDue(ctx, w.now())
	if err != nil {
		return 0, fmt.Errorf("select due items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}
	log.Printf("Worker[%s]: checking %d due items (concurrency=%d)", cycle, len(items), w.concurrency)

	results := w.processBatch(ctx, items)

	// Abandon the batch on shutdown; it is picked up again next cycle.
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var batch database.Batch
	for _, r := range results {
		logResult(cycle, r)
		batch.Items = append(batch.Items, r.Item)
		if r.History != nil {
			batch.History = append(batch.History, *r.History)
		}
	}
	if err := w.store.CommitBatch(ctx, batch); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return len(items), nil
}

// processBatch checks items in scheduler order, sequentially or with a
// bounded pool. Results keep the input order.
func (w *Worker) processBatch(ctx context.Context, items []model.Item) []Result {
	results := make([]Result, len(items))
	if w.concurrency <= 1 {
		for i, it := range items {
			if ctx.Err() != nil {
				break
			}
			results[i] = w.Process(ctx, it)
		}
		return results
	}

	var wg sync.WaitGroup
	next := make(chan int)
	for n := 0; n < w.concurrency; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				results[i] = w.Process(ctx, items[i])
			}
		}()
	}
feed:
	for i := range items {
		select {
		case next <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(next)
	wg.Wait()
	return results
}

// Process checks a single item. It never returns an error: every failure is
// folded into the Result, and the item is always rescheduled.
func (w *Worker) Process(ctx context.Context, item model.Item) (res Result) {
	original := item
	defer func() {
		if r := recover(); r != nil {
			res = w.fail(original, KindPanic, fmt.Errorf("panic: %v", r))
		}
	}()

	html, err := w.render(ctx, item)
	if err != nil {
		return w.fail(original, KindFetch, err)
	}

	rec, err := extract.Extract(html)
	if err != nil {
		return w.fail(original, KindNoData, err)
	}

	previous, err := w.store.LatestPrice(ctx, item.ID)
	if err != nil {
		return w.fail(original, KindStore, err)
	}

	tr := Apply(&item, &rec)
	res = Result{Transition: tr}

	if w.detector.ShouldNotify(item, previous, tr.Price, tr.To) {
		alert := model.Alert{
			Name:          item.Name,
			Price:         *tr.Price,
			PreviousPrice: *previous,
			Currency:      rec.Currency,
			URL:           item.URL,
		}
		if err := w.notifier.Notify(ctx, alert); err != nil {
			return w.fail(original, KindNotify, err)
		}
		res.Notified = true
	}

	now := w.now()
	res.History = &model.PriceHistoryEntry{
		ItemID:  item.ID,
		Price:   tr.Price,
		InStock: rec.Availability,
		SeenAt:  now,
	}
	ScheduleNext(&item, now)
	res.Item = item
	return res
}

func (w *Worker) render(ctx context.Context, item model.Item) (string, error) {
	site := item.Site
	if site == "" {
		site = item.URL
	}
	if err := w.limiter.acquire(ctx, site); err != nil {
		return "", fmt.Errorf("waiting for %s: %w", site, err)
	}
	defer w.limiter.release(site)

	renderCtx, cancel := context.WithTimeout(ctx, w.cfg.RenderTimeout)
	defer cancel()
	return w.renderer.Render(renderCtx, item.URL)
}

// fail marks the item as errored from its pre-check state and reschedules it.
func (w *Worker) fail(item model.Item, kind ErrorKind, err error) Result {
	tr := Apply(&item, nil)
	ScheduleNext(&item, w.now())
	return Result{Item: item, Transition: tr, Kind: kind, Err: err}
}

func logResult(cycle string, r Result) {
	it := r.Item
	next := "never"
	if it.NextCheckAt != nil {
		next = humanize.Time(*it.NextCheckAt)
	}
	if r.Kind != KindNone {
		log.Printf("Worker[%s]: item %d %s failed (%s): %v; next check %s", cycle, it.ID, it.URL, r.Kind, r.Err, next)
		return
	}
	if r.Transition.NameChanged() {
		log.Printf("Worker[%s]: item %d %q no longer matches the page; held for review", cycle, it.ID, it.Name)
	}
	if errors.Is(r.Transition.PriceErr, extract.ErrCoercion) {
		log.Printf("Worker[%s]: item %d: %v, price cleared", cycle, it.ID, r.Transition.PriceErr)
	}
	price := "n/a"
	if it.CurrentPrice != nil {
		price = humanize.CommafWithDigits(*it.CurrentPrice, 2)
	}
	log.Printf("Worker[%s]: item %d %q %s -> %s price=%s notified=%t; next check %s",
		cycle, it.ID, it.Name, r.Transition.From, r.Transition.To, price, r.Notified, next)
}
