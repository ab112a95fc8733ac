package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryan-buckman/pricewatch/internal/database"
	"github.com/bryan-buckman/pricewatch/internal/extract"
	"github.com/bryan-buckman/pricewatch/internal/model"
)

func fp(v float64) *float64 { return &v }

func TestApply(t *testing.T) {
	tests := []struct {
		name      string
		item      model.Item
		rec       *extract.Record
		wantTo    model.Status
		wantName  string
		wantPrice *float64
		adopted   bool
	}{
		{
			name:   "no data",
			item:   model.Item{Name: "Jeans", CurrentPrice: fp(100), Status: model.StatusOK},
			rec:    nil,
			wantTo: model.StatusError, wantName: "Jeans", wantPrice: fp(100),
		},
		{
			name:   "first name adopted",
			item:   model.Item{Status: model.StatusNew},
			rec:    &extract.Record{Name: "Jeans", RawPrice: "100"},
			wantTo: model.StatusOK, wantName: "Jeans", wantPrice: fp(100), adopted: true,
		},
		{
			name:   "same name",
			item:   model.Item{Name: "Jeans", CurrentPrice: fp(100), Status: model.StatusOK},
			rec:    &extract.Record{Name: "Jeans", RawPrice: "90"},
			wantTo: model.StatusOK, wantName: "Jeans", wantPrice: fp(90),
		},
		{
			name:   "different name",
			item:   model.Item{Name: "Jeans", CurrentPrice: fp(100), Status: model.StatusOK},
			rec:    &extract.Record{Name: "Shorts", RawPrice: "50"},
			wantTo: model.StatusChanged, wantName: "Jeans", wantPrice: fp(50),
		},
		{
			name:   "price only keeps name",
			item:   model.Item{Name: "Jeans", CurrentPrice: fp(100), Status: model.StatusOK},
			rec:    &extract.Record{RawPrice: "95"},
			wantTo: model.StatusOK, wantName: "Jeans", wantPrice: fp(95),
		},
		{
			name:   "name only keeps price",
			item:   model.Item{Name: "Jeans", CurrentPrice: fp(100), Status: model.StatusOK},
			rec:    &extract.Record{Name: "Jeans"},
			wantTo: model.StatusOK, wantName: "Jeans", wantPrice: fp(100),
		},
		{
			name:   "non numeric price clears",
			item:   model.Item{Name: "Jeans", CurrentPrice: fp(100), Status: model.StatusOK},
			rec:    &extract.Record{Name: "Jeans", RawPrice: "sold"},
			wantTo: model.StatusOK, wantName: "Jeans", wantPrice: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := tt.item
			tr := Apply(&item, tt.rec)
			if tr.To != tt.wantTo || item.Status != tt.wantTo {
				t.Errorf("status: transition %s, item %s, want %s", tr.To, item.Status, tt.wantTo)
			}
			if tr.From != tt.item.Status {
				t.Errorf("from: got %s, want %s", tr.From, tt.item.Status)
			}
			if item.Name != tt.wantName {
				t.Errorf("name: got %q, want %q", item.Name, tt.wantName)
			}
			if tr.AdoptedName != tt.adopted {
				t.Errorf("adopted: got %v, want %v", tr.AdoptedName, tt.adopted)
			}
			switch {
			case tt.wantPrice == nil && item.CurrentPrice != nil:
				t.Errorf("price: got %v, want nil", *item.CurrentPrice)
			case tt.wantPrice != nil && (item.CurrentPrice == nil || *item.CurrentPrice != *tt.wantPrice):
				t.Errorf("price: got %v, want %v", item.CurrentPrice, *tt.wantPrice)
			}
		})
	}
}

func TestApplyReportsCoercionError(t *testing.T) {
	item := model.Item{Name: "Jeans"}
	tr := Apply(&item, &extract.Record{Name: "Jeans", RawPrice: "N/A"})
	if !errors.Is(tr.PriceErr, extract.ErrCoercion) {
		t.Errorf("expected coercion error, got %v", tr.PriceErr)
	}
}

func TestShouldNotify(t *testing.T) {
	named := model.Item{Name: "Jeans", CurrentPrice: fp(90), URL: "https://shop.test/j"}
	tests := []struct {
		name     string
		item     model.Item
		previous *float64
		current  *float64
		to       model.Status
		want     bool
	}{
		{"exact ten percent", named, fp(100), fp(90), model.StatusOK, true},
		{"nine percent", named, fp(100), fp(91), model.StatusOK, false},
		{"ten percent odd prices", named, fp(180), fp(162), model.StatusOK, true},
		{"ten percent with float error", named, fp(0.7), fp(0.63), model.StatusOK, true},
		{"just under ten percent", named, fp(100), fp(90.0000000001), model.StatusOK, false},
		{"rise", named, fp(100), fp(120), model.StatusOK, false},
		{"no previous", named, nil, fp(50), model.StatusOK, false},
		{"zero previous", named, fp(0), fp(0), model.StatusOK, false},
		{"no current", named, fp(100), nil, model.StatusOK, false},
		{"name changed", named, fp(100), fp(50), model.StatusChanged, false},
		{"unnamed item", model.Item{CurrentPrice: fp(50), URL: "u"}, fp(100), fp(50), model.StatusOK, false},
		{"no current price on item", model.Item{Name: "J", URL: "u"}, fp(100), fp(50), model.StatusOK, false},
	}
	d := Detector{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.ShouldNotify(tt.item, tt.previous, tt.current, tt.to); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectorCustomThreshold(t *testing.T) {
	d := Detector{ThresholdPercent: 25}
	item := model.Item{Name: "Jeans", CurrentPrice: fp(80), URL: "u"}
	if d.ShouldNotify(item, fp(100), fp(80), model.StatusOK) {
		t.Error("20% drop should not pass a 25% threshold")
	}
	if !d.ShouldNotify(item, fp(100), fp(75), model.StatusOK) {
		t.Error("25% drop should pass a 25% threshold")
	}
}

func TestScheduleNext(t *testing.T) {
	item := model.Item{CheckEveryMinutes: 15}
	ScheduleNext(&item, t0)
	if item.NextCheckAt == nil || !item.NextCheckAt.Equal(t0.Add(15*time.Minute)) {
		t.Errorf("unexpected next check %v", item.NextCheckAt)
	}
	if !item.UpdatedAt.Equal(t0) {
		t.Errorf("expected updated_at touched, got %v", item.UpdatedAt)
	}

	unset := model.Item{}
	ScheduleNext(&unset, t0)
	if !unset.NextCheckAt.After(t0) {
		t.Errorf("zero interval must still move forward, got %v", unset.NextCheckAt)
	}
}

func TestRegister(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	it, err := Register(ctx, db, " https://www.ssense.com/en-us/men/product/our-legacy/jeans/1 ", 0, t0)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if it.Status != model.StatusNew || it.Site != "ssense" || it.CheckEveryMinutes != 60 {
		t.Errorf("unexpected item %+v", it)
	}
	if it.NextCheckAt == nil || !it.NextCheckAt.Equal(t0) {
		t.Errorf("expected item due immediately, got %v", it.NextCheckAt)
	}

	_, err = Register(ctx, db, "https://www.ssense.com/en-us/men/product/our-legacy/jeans/1", 0, t0)
	if !errors.Is(err, database.ErrDuplicateURL) {
		t.Errorf("expected duplicate error, got %v", err)
	}

	for _, bad := range []string{"ftp://shop.test/a", "not a url", "https:///nohost", ""} {
		if _, err := Register(ctx, db, bad, 0, t0); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("Register(%q): expected ErrInvalidURL, got %v", bad, err)
		}
	}
}

func TestSiteTag(t *testing.T) {
	tests := map[string]string{
		"www.ssense.com":    "ssense",
		"SHOP.Example.com":  "example",
		"www.asos.co.uk":    "asos",
		"localhost":         "localhost",
		"store.nike.com.au": "nike",
	}
	for host, want := range tests {
		if got := SiteTag(host); got != want {
			t.Errorf("SiteTag(%q) = %q, want %q", host, got, want)
		}
	}
}
