package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// stepClock returns a clock that advances one minute per call
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

func newTestSQLiteStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "listings.db")
	store, err := NewSQLiteStore(context.Background(), path, testLogger())
	require.NoError(t, err)
	store.now = stepClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	t.Cleanup(func() { store.Close() })
	return store, path
}

func sampleListing(adID string) *models.Listing {
	return &models.Listing{
		AdID:       adID,
		URL:        "https://www.hasznaltauto.hu/szemelyauto/volkswagen/passat/volkswagen_passat-" + adID,
		Category:   "szemelyauto",
		Title:      models.Ptr("VOLKSWAGEN PASSAT 2.0 TDI"),
		PriceHUF:   models.Ptr(int64(3990000)),
		Currency:   models.Ptr("HUF"),
		Year:       models.Ptr(2016),
		YearMonth:  models.Ptr("2016/5"),
		MileageKM:  models.Ptr(int64(102000)),
		Fuel:       models.Ptr("Dízel"),
		EngineCC:   models.Ptr(1968),
		PowerKW:    models.Ptr(110),
		PowerHP:    models.Ptr(150),
		Equipment:  []string{"ABS", "Tempomat"},
		Images:     []string{"https://img.hasznaltauto.hu/1.jpg", "https://img.hasznaltauto.hu/2.jpg"},
		Attributes: map[string]string{"Okmányok jellege": "magyar okmányokkal"},
	}
}

func TestSQLiteStore_UpsertIsIdempotent(t *testing.T) {
	store, _ := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := store.Upsert(ctx, sampleListing("19874321"))
	require.NoError(t, err)
	assert.True(t, created)

	first, err := store.Get(ctx, "19874321")
	require.NoError(t, err)

	created, err = store.Upsert(ctx, sampleListing("19874321"))
	require.NoError(t, err)
	assert.False(t, created)

	second, err := store.Get(ctx, "19874321")
	require.NoError(t, err)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, first.FirstSeenAt.Equal(second.FirstSeenAt), "first_seen_at must not change")
	assert.True(t, second.LastSeenAt.After(first.LastSeenAt), "last_seen_at must advance")
}

func TestSQLiteStore_UpdateReplacesMutableFields(t *testing.T) {
	store, _ := newTestSQLiteStore(t)
	ctx := context.Background()

	original := sampleListing("19874321")
	original.RawHTML = models.Ptr("<html>v1</html>")
	_, err := store.Upsert(ctx, original)
	require.NoError(t, err)
	firstSeen := original.FirstSeenAt

	updated := sampleListing("19874321")
	updated.PriceHUF = models.Ptr(int64(3790000))
	updated.MileageKM = models.Ptr(int64(104500))
	updated.Fuel = nil
	_, err = store.Upsert(ctx, updated)
	require.NoError(t, err)
	assert.True(t, firstSeen.Equal(updated.FirstSeenAt), "Upsert reports the stored first_seen_at")

	got, err := store.Get(ctx, "19874321")
	require.NoError(t, err)
	assert.Equal(t, int64(3790000), *got.PriceHUF)
	assert.Equal(t, int64(104500), *got.MileageKM)
	assert.Nil(t, got.Fuel)
	require.NotNil(t, got.RawHTML, "raw_html is kept when the update carries none")
	assert.Equal(t, "<html>v1</html>", *got.RawHTML)
}

func TestSQLiteStore_RoundTripsAllFields(t *testing.T) {
	store, _ := newTestSQLiteStore(t)
	ctx := context.Background()

	in := sampleListing("19874321")
	in.SellerType = models.Ptr("dealer")
	in.Description = models.Ptr("Szép állapot.")
	in.ContentHash = "abc123"
	_, err := store.Upsert(ctx, in)
	require.NoError(t, err)

	got, err := store.Get(ctx, "19874321")
	require.NoError(t, err)
	assert.Equal(t, in.URL, got.URL)
	assert.Equal(t, "VOLKSWAGEN PASSAT 2.0 TDI", *got.Title)
	assert.Equal(t, 2016, *got.Year)
	assert.Equal(t, "2016/5", *got.YearMonth)
	assert.Equal(t, 1968, *got.EngineCC)
	assert.Equal(t, 110, *got.PowerKW)
	assert.Equal(t, 150, *got.PowerHP)
	assert.Equal(t, []string{"ABS", "Tempomat"}, got.Equipment)
	assert.Equal(t, in.Images, got.Images)
	assert.Equal(t, in.Attributes, got.Attributes)
	assert.Equal(t, "dealer", *got.SellerType)
	assert.Equal(t, "abc123", got.ContentHash)
	assert.Nil(t, got.RawHTML)
	assert.Nil(t, got.PriceDiscountHUF)
}

func TestSQLiteStore_NilCollectionsStoredEmpty(t *testing.T) {
	store, _ := newTestSQLiteStore(t)
	ctx := context.Background()

	l := &models.Listing{AdID: "11111111", URL: "https://www.hasznaltauto.hu/szemelyauto/x/y/z-11111111"}
	_, err := store.Upsert(ctx, l)
	require.NoError(t, err)

	got, err := store.Get(ctx, "11111111")
	require.NoError(t, err)
	assert.Empty(t, got.Equipment)
	assert.Empty(t, got.Images)
	assert.Empty(t, got.Attributes)
}

func TestSQLiteStore_HasSeen(t *testing.T) {
	store, _ := newTestSQLiteStore(t)
	ctx := context.Background()

	seen, err := store.HasSeen(ctx, "19874321")
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = store.Upsert(ctx, sampleListing("19874321"))
	require.NoError(t, err)

	seen, err = store.HasSeen(ctx, "19874321")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSQLiteStore_CommittedListingsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(ctx, path, testLogger())
	require.NoError(t, err)
	for _, id := range []string{"10000001", "10000002", "10000003"} {
		_, err := store.Upsert(ctx, sampleListing(id))
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(ctx, path, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	for _, id := range []string{"10000001", "10000002", "10000003"} {
		seen, err := reopened.HasSeen(ctx, id)
		require.NoError(t, err)
		assert.True(t, seen, id)
	}
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	store, _ := newTestSQLiteStore(t)
	_, err := store.Get(context.Background(), "404")
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.Equal(t, "Store_NotFound", utils.CategorizeError(err))
}

func TestSQLiteStore_EmptyAdIDIsConstraintError(t *testing.T) {
	store, _ := newTestSQLiteStore(t)
	_, err := store.Upsert(context.Background(), &models.Listing{URL: "https://www.hasznaltauto.hu/x"})

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StoreConstraint, se.Kind)
	assert.ErrorIs(t, err, utils.ErrStoreConstraint)
	assert.True(t, utils.IsFatal(err))
	assert.Equal(t, "Store_Constraint", utils.CategorizeError(err))
}

func TestSQLiteStore_Search(t *testing.T) {
	store, _ := newTestSQLiteStore(t)
	ctx := context.Background()

	passat := sampleListing("10000001")
	golf := sampleListing("10000002")
	golf.Title = models.Ptr("VOLKSWAGEN GOLF 1.4 TSI")
	golf.Fuel = models.Ptr("Benzin")
	golf.PriceHUF = models.Ptr(int64(2500000))
	golf.Year = models.Ptr(2012)
	van := sampleListing("10000003")
	van.Category = "teherauto"
	van.Title = models.Ptr("FORD TRANSIT")
	for _, l := range []*models.Listing{passat, golf, van} {
		_, err := store.Upsert(ctx, l)
		require.NoError(t, err)
	}

	ids := func(ls []*models.Listing) []string {
		var out []string
		for _, l := range ls {
			out = append(out, l.AdID)
		}
		return out
	}

	tests := []struct {
		name string
		q    SearchQuery
		want []string
	}{
		{"all newest first", SearchQuery{}, []string{"10000003", "10000002", "10000001"}},
		{"title substring", SearchQuery{Text: "golf"}, []string{"10000002"}},
		{"category", SearchQuery{Category: "teherauto"}, []string{"10000003"}},
		{"fuel", SearchQuery{Fuel: "Benzin"}, []string{"10000002"}},
		{"price range", SearchQuery{MinPrice: 3000000, MaxPrice: 4000000, Category: "szemelyauto"}, []string{"10000001"}},
		{"year range", SearchQuery{MaxYear: 2014}, []string{"10000002"}},
		{"limit", SearchQuery{Limit: 1}, []string{"10000003"}},
		{"no match", SearchQuery{Text: "trabant"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Search(ctx, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestSQLiteStore_Runs(t *testing.T) {
	store, _ := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	older := models.RunRecord{RunID: "run-1", StartedAt: base, FinishedAt: base.Add(time.Minute),
		RunStats: models.RunStats{Fetched: 3, Stored: 2, Failed: 1, FailureCategories: map[string]int{"HTTP_500": 1}}}
	newer := models.RunRecord{RunID: "run-2", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Minute),
		RunStats: models.RunStats{Fetched: 5, Stored: 5, Cancelled: true}}
	require.NoError(t, store.RecordRun(ctx, older))
	require.NoError(t, store.RecordRun(ctx, newer))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.True(t, runs[0].Cancelled)
	assert.Equal(t, 5, runs[0].Stored)
	assert.Equal(t, "run-1", runs[1].RunID)
	assert.Equal(t, map[string]int{"HTTP_500": 1}, runs[1].FailureCategories)
	assert.True(t, base.Equal(runs[1].StartedAt))

	err = store.RecordRun(ctx, older)
	assert.ErrorIs(t, err, utils.ErrStoreConstraint, "duplicate run_id violates the primary key")

	limited, err := store.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteStore_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "listings.db")
	store, err := NewSQLiteStore(context.Background(), path, testLogger())
	require.NoError(t, err)
	defer store.Close()
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), ":memory:", testLogger())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Upsert(context.Background(), sampleListing("19874321"))
	require.NoError(t, err)
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_CanceledContext(t *testing.T) {
	store, _ := newTestSQLiteStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Upsert(ctx, sampleListing("19874321"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, utils.IsFatal(err))
}

func TestOpen_SelectsBackend(t *testing.T) {
	assert.True(t, IsPostgresDSN("postgres://user@localhost/db"))
	assert.True(t, IsPostgresDSN("postgresql://localhost/db"))
	assert.False(t, IsPostgresDSN("/var/lib/crawler/listings.db"))

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "x.db"), testLogger())
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &SQLiteStore{}, store)
}

func TestWrapDBError(t *testing.T) {
	assert.NoError(t, wrapDBError("op", "", nil))
	assert.Equal(t, context.Canceled, wrapDBError("op", "", context.Canceled))

	err := wrapDBError("upsert", "1", errors.New("disk I/O error"))
	assert.ErrorIs(t, err, utils.ErrStoreIO)
	assert.True(t, utils.IsFatal(err))
	assert.Equal(t, "Store_IO", utils.CategorizeError(err))
	assert.Contains(t, err.Error(), "store io upsert (1)")

	assert.Same(t, err, wrapDBError("outer", "", err), "already classified errors are not rewrapped")
}
