package tracker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bryan-buckman/pricewatch/internal/database"
	"github.com/bryan-buckman/pricewatch/internal/model"
)

var t0 = time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)

type fakeRenderer struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	panic bool
	delay time.Duration
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{pages: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeRenderer) set(url, html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = html
}

func (f *fakeRenderer) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *fakeRenderer) Render(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panic {
		panic("renderer exploded")
	}
	if err := f.errs[url]; err != nil {
		return "", err
	}
	html, ok := f.pages[url]
	if !ok {
		return "", fmt.Errorf("no page for %s", url)
	}
	return html, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []model.Alert
	err    error
}

func (n *fakeNotifier) Notify(ctx context.Context, a model.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.alerts = append(n.alerts, a)
	return nil
}

type clock struct{ now time.Time }

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	db       *database.DB
	worker   *Worker
	renderer *fakeRenderer
	notifier *fakeNotifier
	clock    *clock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := &harness{db: db, renderer: newFakeRenderer(), notifier: &fakeNotifier{}, clock: &clock{now: t0}}
	h.worker = NewWorker(db, h.renderer, h.notifier, cfg)
	h.worker.now = func() time.Time { return h.clock.now }
	return h
}

func (h *harness) register(t *testing.T, url string) model.Item {
	t.Helper()
	it, err := Register(context.Background(), h.db, url, 60, h.clock.now)
	if err != nil {
		t.Fatalf("register %s: %v", url, err)
	}
	return *it
}

func (h *harness) runOnce(t *testing.T) int {
	t.Helper()
	n, err := h.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	return n
}

func (h *harness) item(t *testing.T, id int64) *model.Item {
	t.Helper()
	it, err := h.db.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get item %d: %v", id, err)
	}
	return it
}

func (h *harness) history(t *testing.T, id int64) []model.PriceHistoryEntry {
	t.Helper()
	hist, err := h.db.ListHistory(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("history %d: %v", id, err)
	}
	return hist
}

func productPage(name, price string) string {
	return fmt.Sprintf(`<html><head><script type="application/ld+json">
	{"@type":"Product","name":%q,"offers":{"price":%q,"priceCurrency":"USD","availability":"https://schema.org/InStock"}}
	</script></head><body><h1>%s</h1></body></html>`, name, price, name)
}

const challengePage = `<html><head><title>Just a moment...</title></head><body>Checking your browser</body></html>`

func assertRescheduled(t *testing.T, it *model.Item, processedAt time.Time) {
	t.Helper()
	if it.NextCheckAt == nil || !it.NextCheckAt.After(processedAt) {
		t.Errorf("item %d: expected next check after %v, got %v", it.ID, processedAt, it.NextCheckAt)
	}
}

func TestRunOnceEmpty(t *testing.T) {
	h := newHarness(t, Config{})
	if n := h.runOnce(t); n != 0 {
		t.Errorf("expected 0 processed, got %d", n)
	}
}

func TestRunOnceFirstCheckAdoptsName(t *testing.T) {
	h := newHarness(t, Config{})
	it := h.register(t, "https://www.ssense.com/p/1")
	h.renderer.set(it.URL, productPage("Third Cut Jeans", "149.00"))

	if n := h.runOnce(t); n != 1 {
		t.Fatalf("expected 1 processed, got %d", n)
	}

	got := h.item(t, it.ID)
	if got.Status != model.StatusOK {
		t.Errorf("expected status ok, got %s", got.Status)
	}
	if got.Name != "Third Cut Jeans" {
		t.Errorf("expected adopted name, got %q", got.Name)
	}
	if got.CurrentPrice == nil || *got.CurrentPrice != 149 {
		t.Errorf("expected current price 149, got %v", got.CurrentPrice)
	}
	if got.NextCheckAt == nil || !got.NextCheckAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("expected next check at %v, got %v", t0.Add(time.Hour), got.NextCheckAt)
	}

	hist := h.history(t, it.ID)
	if len(hist) != 1 || hist[0].Price == nil || *hist[0].Price != 149 || hist[0].InStock != model.InStock {
		t.Errorf("unexpected history %+v", hist)
	}
	if len(h.notifier.alerts) != 0 {
		t.Errorf("first observation must not alert")
	}

	// Not due again until the interval passes.
	if n := h.runOnce(t); n != 0 {
		t.Errorf("expected nothing due right after processing, got %d", n)
	}
}

func TestPriceDropThreshold(t *testing.T) {
	tests := []struct {
		current    string
		wantNotify bool
	}{
		{"90", true},
		{"91", false},
		{"50", true},
		{"110", false},
	}
	for _, tt := range tests {
		t.Run(tt.current, func(t *testing.T) {
			h := newHarness(t, Config{})
			it := h.register(t, "https://shop.test/jeans")
			h.renderer.set(it.URL, productPage("Jeans", "100"))
			h.runOnce(t)

			h.clock.advance(61 * time.Minute)
			h.renderer.set(it.URL, productPage("Jeans", tt.current))
			if n := h.runOnce(t); n != 1 {
				t.Fatalf("expected item due again, processed %d", n)
			}

			if got := len(h.notifier.alerts) == 1; got != tt.wantNotify {
				t.Fatalf("notify = %v, want %v (alerts %+v)", got, tt.wantNotify, h.notifier.alerts)
			}
			if tt.wantNotify {
				a := h.notifier.alerts[0]
				if a.Name != "Jeans" || a.PreviousPrice != 100 || a.URL != it.URL || a.Currency != "USD" {
					t.Errorf("unexpected alert %+v", a)
				}
			}
			if got := h.item(t, it.ID); got.Status != model.StatusOK {
				t.Errorf("expected status ok, got %s", got.Status)
			}
		})
	}
}

func TestNameChangeSuppressesNotification(t *testing.T) {
	h := newHarness(t, Config{})
	it := h.register(t, "https://shop.test/jeans")
	h.renderer.set(it.URL, productPage("Jeans", "100"))
	h.runOnce(t)

	h.clock.advance(61 * time.Minute)
	h.renderer.set(it.URL, productPage("Jeans (Slim)", "50"))
	h.runOnce(t)

	if len(h.notifier.alerts) != 0 {
		t.Errorf("expected no alert across a name change, got %+v", h.notifier.alerts)
	}
	got := h.item(t, it.ID)
	if got.Status != model.StatusChanged {
		t.Errorf("expected status changed, got %s", got.Status)
	}
	if got.Name != "Jeans" {
		t.Errorf("stored name must not be replaced, got %q", got.Name)
	}

	h.clock.advance(24 * time.Hour)
	if n := h.runOnce(t); n != 0 {
		t.Errorf("changed item must not be selected again, processed %d", n)
	}
}

func TestNoDataMarksErrorAndReschedules(t *testing.T) {
	h := newHarness(t, Config{})
	it := h.register(t, "https://shop.test/jeans")
	h.renderer.set(it.URL, challengePage)

	h.runOnce(t)

	got := h.item(t, it.ID)
	if got.Status != model.StatusError {
		t.Errorf("expected status error, got %s", got.Status)
	}
	assertRescheduled(t, got, t0)
	if hist := h.history(t, it.ID); len(hist) != 0 {
		t.Errorf("expected no history for a failed check, got %+v", hist)
	}

	h.clock.advance(48 * time.Hour)
	if n := h.runOnce(t); n != 0 {
		t.Errorf("errored item must not be selected again, processed %d", n)
	}
}

func TestFetchErrorDoesNotAbortBatch(t *testing.T) {
	h := newHarness(t, Config{})
	bad := h.register(t, "https://shop.test/bad")
	good := h.register(t, "https://shop.test/good")
	h.renderer.errs[bad.URL] = errors.New("navigation timeout")
	h.renderer.set(good.URL, productPage("Good Jeans", "80"))

	if n := h.runOnce(t); n != 2 {
		t.Fatalf("expected 2 processed, got %d", n)
	}

	gotBad := h.item(t, bad.ID)
	gotGood := h.item(t, good.ID)
	if gotBad.Status != model.StatusError {
		t.Errorf("expected bad item in error, got %s", gotBad.Status)
	}
	if gotGood.Status != model.StatusOK {
		t.Errorf("expected good item ok, got %s", gotGood.Status)
	}
	assertRescheduled(t, gotBad, t0)
	assertRescheduled(t, gotGood, t0)
}

func TestNotifyFailureMarksError(t *testing.T) {
	h := newHarness(t, Config{})
	it := h.register(t, "https://shop.test/jeans")
	h.renderer.set(it.URL, productPage("Jeans", "100"))
	h.runOnce(t)

	h.clock.advance(61 * time.Minute)
	h.notifier.err = errors.New("smtp: connection refused")
	h.renderer.set(it.URL, productPage("Jeans", "70"))
	h.runOnce(t)

	got := h.item(t, it.ID)
	if got.Status != model.StatusError {
		t.Errorf("expected status error, got %s", got.Status)
	}
	if got.CurrentPrice == nil || *got.CurrentPrice != 100 {
		t.Errorf("failed check must not update the price, got %v", got.CurrentPrice)
	}
	if hist := h.history(t, it.ID); len(hist) != 1 {
		t.Errorf("expected only the first observation, got %d", len(hist))
	}
	assertRescheduled(t, got, h.clock.now)
}

func TestNonNumericPriceIsCleared(t *testing.T) {
	h := newHarness(t, Config{})
	it := h.register(t, "https://shop.test/jeans")
	h.renderer.set(it.URL, productPage("Jeans", "100"))
	h.runOnce(t)

	h.clock.advance(61 * time.Minute)
	h.renderer.set(it.URL, productPage("Jeans", "call for price"))
	h.runOnce(t)

	got := h.item(t, it.ID)
	if got.Status != model.StatusOK {
		t.Errorf("expected status ok, got %s", got.Status)
	}
	if got.CurrentPrice != nil {
		t.Errorf("expected price cleared, got %v", *got.CurrentPrice)
	}
	hist := h.history(t, it.ID)
	if len(hist) != 2 || hist[0].Price != nil {
		t.Errorf("expected newest observation without a price, got %+v", hist)
	}
	if len(h.notifier.alerts) != 0 {
		t.Errorf("expected no alert, got %+v", h.notifier.alerts)
	}
}

func TestPanicIsContainedToItem(t *testing.T) {
	h := newHarness(t, Config{})
	it := h.register(t, "https://shop.test/jeans")
	h.renderer.panic = true

	h.runOnce(t)

	got := h.item(t, it.ID)
	if got.Status != model.StatusError {
		t.Errorf("expected status error, got %s", got.Status)
	}
	assertRescheduled(t, got, t0)
}

func TestConcurrentBatch(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 3})
	var items []model.Item
	for i := 0; i < 7; i++ {
		it := h.register(t, fmt.Sprintf("https://shop.test/p/%d", i))
		h.renderer.set(it.URL, productPage(fmt.Sprintf("Product %d", i), fmt.Sprintf("%d", 10+i)))
		items = append(items, it)
	}

	if n := h.runOnce(t); n != 7 {
		t.Fatalf("expected 7 processed, got %d", n)
	}
	for i, it := range items {
		got := h.item(t, it.ID)
		if got.Status != model.StatusOK || got.Name != fmt.Sprintf("Product %d", i) {
			t.Errorf("item %d: unexpected state %+v", it.ID, got)
		}
	}
}

func TestBatchSizeBoundsCycle(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 2})
	for i := 0; i < 3; i++ {
		it := h.register(t, fmt.Sprintf("https://shop.test/p/%d", i))
		h.renderer.set(it.URL, productPage("P", "1"))
	}
	if n := h.runOnce(t); n != 2 {
		t.Errorf("expected batch of 2, got %d", n)
	}
	if n := h.runOnce(t); n != 1 {
		t.Errorf("expected remaining 1, got %d", n)
	}
}

type failingCommitStore struct {
	database.Store
}

func (failingCommitStore) CommitBatch(ctx context.Context, b database.Batch) error {
	return errors.New("disk full")
}

func TestCommitFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, Config{})
	it := h.register(t, "https://shop.test/jeans")
	h.renderer.set(it.URL, productPage("Jeans", "100"))

	w := NewWorker(failingCommitStore{h.db}, h.renderer, h.notifier, Config{})
	w.now = func() time.Time { return h.clock.now }
	if _, err := w.RunOnce(context.Background()); err == nil {
		t.Fatal("expected commit error")
	}

	got := h.item(t, it.ID)
	if got.Status != model.StatusNew || got.Name != "" {
		t.Errorf("expected untouched item, got %+v", got)
	}

	// The same batch is processed again next cycle.
	if n := h.runOnce(t); n != 1 {
		t.Errorf("expected item to be reprocessed, got %d", n)
	}
}

func TestCancelledContextCommitsNothing(t *testing.T) {
	h := newHarness(t, Config{})
	it := h.register(t, "https://shop.test/jeans")
	h.renderer.set(it.URL, productPage("Jeans", "100"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.worker.RunOnce(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if got := h.item(t, it.ID); got.Status != model.StatusNew {
		t.Errorf("expected untouched item, got status %s", got.Status)
	}
}

func TestOverlappingCyclesCheckItemOnce(t *testing.T) {
	h := newHarness(t, Config{})
	it := h.register(t, "https://shop.test/jeans")
	h.renderer.set(it.URL, productPage("Jeans", "100"))
	h.runOnce(t)

	h.clock.advance(2 * time.Hour)
	h.renderer.set(it.URL, productPage("Jeans", "50"))
	h.renderer.setDelay(100 * time.Millisecond)

	var wg sync.WaitGroup
	counts := make([]int, 2)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := h.worker.RunOnce(context.Background())
			if err != nil {
				t.Errorf("cycle %d: %v", i, err)
			}
			counts[i] = n
		}(i)
	}
	wg.Wait()

	if counts[0]+counts[1] != 1 {
		t.Errorf("expected the item processed by exactly one cycle, got %v", counts)
	}
	if len(h.notifier.alerts) != 1 {
		t.Errorf("expected one alert for one drop, got %d", len(h.notifier.alerts))
	}
	if hist := h.history(t, it.ID); len(hist) != 2 {
		t.Errorf("expected 2 history rows, got %d", len(hist))
	}
}

func TestTryRunOnceWhileBusy(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.worker.mu.Lock()
	if _, err := h.worker.TryRunOnce(ctx); !errors.Is(err, ErrCycleRunning) {
		t.Errorf("expected ErrCycleRunning, got %v", err)
	}
	h.worker.mu.Unlock()

	if _, err := h.worker.TryRunOnce(ctx); err != nil {
		t.Errorf("expected idle worker to run, got %v", err)
	}
}
