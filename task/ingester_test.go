package task

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/icodeforyou/elpris-go/database"
	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/types"
	"github.com/icodeforyou/elpris-go/types/maybe"
	"github.com/shopspring/decimal"
)

var discard = slog.New(slog.DiscardHandler)

func newTestDatabase(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "elpris.db"), database.Options{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeProvider struct {
	records []types.PriceRecord
	err     error
	calls   int
}

func (p *fakeProvider) FetchPrices(ctx context.Context, day time.Time) ([]types.PriceRecord, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	out := make([]types.PriceRecord, len(p.records))
	copy(out, p.records)
	return out, nil
}

type fakeObserver struct {
	mu      sync.Mutex
	batches [][]types.PriceRecord
}

func (o *fakeObserver) PricesUpdated(ctx context.Context, records []types.PriceRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, records)
}

// upcoming returns one record per hour starting at the current hour.
func upcoming(totals ...string) []types.PriceRecord {
	start := hours.FromNow()
	out := make([]types.PriceRecord, len(totals))
	for i, total := range totals {
		p := decimal.RequireFromString(total)
		out[i] = types.PriceRecord{
			When:           start.Add(i),
			SpotPrice:      p,
			TransportTaxes: decimal.Zero,
			TotalPrice:     p,
			MedianPrice:    p,
			Category:       types.CategoryOkay,
		}
	}
	return out
}

func TestIngesterRun(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	provider := &fakeProvider{records: upcoming("3", "1", "2")}
	observer := &fakeObserver{}
	ingester := NewIngester(discard, provider, db, time.Second, observer)

	if !ingester.NeedsImmediateUpdate(ctx) {
		t.Errorf("got no update needed for an empty store, wanted an update")
	}

	res, err := ingester.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Changed != 0 {
		t.Errorf("got %d changed records for new hours, wanted 0", res.Changed)
	}
	if !res.Tertiles.Median.Equal(decimal.RequireFromString("2")) {
		t.Errorf("got median %s, wanted 2", res.Tertiles.Median)
	}

	stored, err := db.PriceRange(ctx, hours.FromNow().Sub(1), maybe.None[hours.DateHour]())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []types.Category{types.CategoryAvoid, types.CategoryPrefer, types.CategoryOkay}
	if len(stored) != len(want) {
		t.Fatalf("got %d stored records, wanted %d", len(stored), len(want))
	}
	for i, r := range stored {
		if r.Category != want[i] {
			t.Errorf("record %d got category %s, wanted %s", i, r.Category, want[i])
		}
		if !r.MedianPrice.Equal(res.Tertiles.Median) {
			t.Errorf("record %d got median %s, wanted %s", i, r.MedianPrice, res.Tertiles.Median)
		}
	}

	if len(observer.batches) != 1 || len(observer.batches[0]) != 3 {
		t.Errorf("got %d observed batches, wanted one batch of 3", len(observer.batches))
	}

	res, err = ingester.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Changed != 0 {
		t.Errorf("got %d changed records on refetch, wanted 0", res.Changed)
	}

	provider.records = upcoming("3", "1.5", "2")
	res, err = ingester.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Changed != 1 {
		t.Errorf("got %d changed records after a price update, wanted 1", res.Changed)
	}
	if len(observer.batches) != 3 {
		t.Errorf("got %d observed batches, wanted 3", len(observer.batches))
	}
}

func TestIngesterFetchFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	provider := &fakeProvider{err: types.ErrFetch}
	observer := &fakeObserver{}
	ingester := NewIngester(discard, provider, db, time.Second, observer)

	if _, err := ingester.Run(ctx); !errors.Is(err, types.ErrFetch) {
		t.Errorf("got error %v, wanted %v", err, types.ErrFetch)
	}
	if len(observer.batches) != 0 {
		t.Errorf("got %d observed batches, wanted none", len(observer.batches))
	}
	if _, ok, _ := db.LastFetch(ctx); ok {
		t.Errorf("got a last fetch time, wanted an empty store")
	}
}

func TestNeedsImmediateUpdate(t *testing.T) {
	ctx := context.Background()
	totals := make([]string, freshnessHours+1)
	for i := range totals {
		totals[i] = "1"
	}

	tests := []struct {
		name    string
		records []types.PriceRecord
		want    bool
	}{
		{name: "empty store", records: nil, want: true},
		{name: "prices end too soon", records: upcoming(totals[:freshnessHours]...), want: true},
		{name: "prices far enough ahead", records: upcoming(totals...), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDatabase(t)
			if len(tt.records) > 0 {
				if _, err := db.SavePriceRecords(ctx, tt.records); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			ingester := NewIngester(discard, &fakeProvider{}, db, time.Second)
			if got := ingester.NeedsImmediateUpdate(ctx); got != tt.want {
				t.Errorf("got %v, wanted %v", got, tt.want)
			}
		})
	}
}

// hangingStore never answers a range query before its context ends.
type hangingStore struct {
	*database.Database
}

func (s hangingStore) PriceRange(ctx context.Context, from hours.DateHour, to maybe.Maybe[hours.DateHour]) ([]types.PriceRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestNeedsImmediateUpdateIsBounded(t *testing.T) {
	ingester := NewIngester(discard, &fakeProvider{}, hangingStore{newTestDatabase(t)}, 20*time.Millisecond)

	done := make(chan bool, 1)
	go func() {
		done <- ingester.NeedsImmediateUpdate(context.Background())
	}()

	select {
	case got := <-done:
		if !got {
			t.Errorf("got no update needed for a store that timed out, wanted an update")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("got no answer within 5s, wanted the store call to time out")
	}
}

func TestFetchJobCleansUpAfterFailedFetch(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	old := hours.FromNow().Sub(24 * 40)
	p := decimal.RequireFromString("1")
	if _, err := db.SavePriceRecords(ctx, []types.PriceRecord{{When: old, SpotPrice: p, TotalPrice: p, MedianPrice: p, Category: types.CategoryOkay}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ingester := NewIngester(discard, &fakeProvider{err: types.ErrFetch}, db, time.Second)
	job := NewFetchJob(discard, ingester, db, 30)

	if err := job(ctx); !errors.Is(err, types.ErrFetch) {
		t.Errorf("got error %v, wanted %v", err, types.ErrFetch)
	}
	left, err := db.PriceRange(ctx, old, maybe.Some(old))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("got %d records past retention, wanted 0", len(left))
	}
}

func TestFetchJobSkipsCleanupWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	db := newTestDatabase(t)
	provider := &fakeProvider{err: context.Canceled}
	job := NewFetchJob(discard, NewIngester(discard, provider, db, time.Second), db, 30)

	if err := job(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got error %v, wanted %v", err, context.Canceled)
	}
}
