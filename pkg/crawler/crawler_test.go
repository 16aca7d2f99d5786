package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/parse"
	"github.com/Sriram-PR/classifieds-crawler/pkg/storage"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

const baseURL = "https://www.hasznaltauto.hu"

func detailURL(id int) string {
	return fmt.Sprintf("%s/szemelyauto/volkswagen/passat/volkswagen_passat-%d", baseURL, id)
}

func candidates(n int) []models.CandidateURL {
	out := make([]models.CandidateURL, 0, n)
	for i := range n {
		id := 1000000 + i
		out = append(out, models.CandidateURL{
			URL:      detailURL(id),
			Source:   models.SourceSitemap,
			Category: "szemelyauto",
			AdID:     fmt.Sprint(id),
		})
	}
	return out
}

type sliceFrontier struct {
	cands []models.CandidateURL
	err   error // Returned once the slice is drained
}

func (f *sliceFrontier) Next(context.Context) (models.CandidateURL, bool, error) {
	if len(f.cands) == 0 {
		if f.err != nil {
			return models.CandidateURL{}, false, f.err
		}
		return models.CandidateURL{}, false, nil
	}
	c := f.cands[0]
	f.cands = f.cands[1:]
	return c, true, nil
}

type fakeRobots struct {
	deny map[string]bool
	err  error
}

func (r *fakeRobots) IsAllowed(_ context.Context, rawURL string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return !r.deny[rawURL], nil
}

type fakeFetcher struct {
	calls []string
	fail  map[string]error
	via   map[string]string // Strategy per URL, "http" when absent
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*models.RawPage, error) {
	f.calls = append(f.calls, rawURL)
	if err := f.fail[rawURL]; err != nil {
		return nil, err
	}
	via := "http"
	if v, ok := f.via[rawURL]; ok {
		via = v
	}
	return &models.RawPage{URL: rawURL, FinalURL: rawURL, StatusCode: 200, Body: []byte("<html></html>"), Via: via}, nil
}

type fakeParser struct {
	fail   map[string]error
	panics map[string]bool
}

func (p *fakeParser) Parse(page *models.RawPage, cand models.CandidateURL) (*models.Listing, error) {
	if p.panics[cand.URL] {
		panic("selector blew up")
	}
	if err := p.fail[cand.URL]; err != nil {
		return nil, err
	}
	return &models.Listing{AdID: cand.AdID, URL: page.FinalURL, Category: cand.Category}, nil
}

type memStore struct {
	listings  map[string]*models.Listing
	runs      []models.RunRecord
	upsertErr error
	seenErr   error
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{listings: make(map[string]*models.Listing)}
	for _, id := range ids {
		s.listings[id] = &models.Listing{AdID: id}
	}
	return s
}

func (s *memStore) Upsert(_ context.Context, l *models.Listing) (bool, error) {
	if s.upsertErr != nil {
		return false, s.upsertErr
	}
	_, existed := s.listings[l.AdID]
	s.listings[l.AdID] = l
	return !existed, nil
}

func (s *memStore) HasSeen(_ context.Context, adID string) (bool, error) {
	if s.seenErr != nil {
		return false, s.seenErr
	}
	_, ok := s.listings[adID]
	return ok, nil
}

func (s *memStore) RecordRun(_ context.Context, run models.RunRecord) error {
	s.runs = append(s.runs, run)
	return nil
}

type harness struct {
	frontier *sliceFrontier
	robots   *fakeRobots
	fetcher  *fakeFetcher
	parser   *fakeParser
	store    *memStore
}

func newHarness(n int, storedIDs ...string) *harness {
	return &harness{
		frontier: &sliceFrontier{cands: candidates(n)},
		robots:   &fakeRobots{deny: map[string]bool{}},
		fetcher:  &fakeFetcher{fail: map[string]error{}, via: map[string]string{}},
		parser:   &fakeParser{fail: map[string]error{}, panics: map[string]bool{}},
		store:    newMemStore(storedIDs...),
	}
}

func (h *harness) crawler(opts Options, ledger OutcomeLedger) *Crawler {
	return New(RunContext{
		RunID:    "run-1",
		Frontier: h.frontier,
		Robots:   h.robots,
		Fetcher:  h.fetcher,
		Parser:   h.parser,
		Store:    h.store,
		Ledger:   ledger,
	}, opts, testLogger())
}

func TestRun_StoresEveryCandidate(t *testing.T) {
	h := newHarness(4)
	rec, err := h.crawler(Options{}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, 4, rec.Fetched)
	assert.Equal(t, 4, rec.Stored)
	assert.False(t, rec.Cancelled)
	assert.Len(t, h.store.listings, 4)
	require.Len(t, h.store.runs, 1)
	assert.Equal(t, rec, h.store.runs[0])
	assert.False(t, rec.FinishedAt.Before(rec.StartedAt))
}

func TestRun_CapStopsAfterMaxListings(t *testing.T) {
	h := newHarness(20)
	rec, err := h.crawler(Options{MaxListings: 5}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, rec.Stored)
	assert.True(t, rec.Cancelled)
	assert.Len(t, h.fetcher.calls, 5)
	assert.Len(t, h.frontier.cands, 15, "no candidate is pulled past the cap")
	require.Len(t, h.store.runs, 1)
	assert.True(t, h.store.runs[0].Cancelled)
}

func TestRun_CapCountsStoredNotFetched(t *testing.T) {
	h := newHarness(6)
	h.parser.fail[detailURL(1000000)] = fmt.Errorf("%w: no container", utils.ErrMalformedPage)

	rec, err := h.crawler(Options{MaxListings: 3}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Stored)
	assert.Equal(t, 4, rec.Fetched)
	assert.Equal(t, 1, rec.ParseFailed)
}

func TestRun_RobotsDeniedNeverFetched(t *testing.T) {
	h := newHarness(3)
	denied := detailURL(1000001)
	h.robots.deny[denied] = true

	rec, err := h.crawler(Options{}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rec.Denied)
	assert.Equal(t, 2, rec.Stored)
	assert.NotContains(t, h.fetcher.calls, denied)
}

func TestRun_RestartSkipsStoredIDs(t *testing.T) {
	// A previous run stored the first three ids before it was interrupted
	h := newHarness(5, "1000000", "1000001", "1000002")

	rec, err := h.crawler(Options{}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, rec.Skipped)
	assert.Equal(t, 2, rec.Fetched)
	assert.Equal(t, []string{detailURL(1000003), detailURL(1000004)}, h.fetcher.calls)
}

func TestRun_ForceRefetchesStoredIDs(t *testing.T) {
	h := newHarness(3, "1000000", "1000001", "1000002")

	rec, err := h.crawler(Options{Force: true}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, rec.Skipped)
	assert.Equal(t, 3, rec.Stored)
	assert.Len(t, h.fetcher.calls, 3)
}

func TestRun_CandidateWithoutIDIsFetched(t *testing.T) {
	h := newHarness(0, "")
	h.frontier.cands = []models.CandidateURL{{URL: detailURL(42), Source: models.SourceCategory}}

	rec, err := h.crawler(Options{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rec.Skipped)
	assert.Len(t, h.fetcher.calls, 1)
}

func TestRun_PerURLFailuresAreCounted(t *testing.T) {
	h := newHarness(4)
	h.fetcher.fail[detailURL(1000000)] = fmt.Errorf("%w: 503", utils.ErrRetryFailed)
	h.fetcher.fail[detailURL(1000001)] = fmt.Errorf("%w: 503", utils.ErrRetryFailed)
	h.parser.fail[detailURL(1000002)] = fmt.Errorf("%w: no container", utils.ErrMalformedPage)

	rec, err := h.crawler(Options{}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, rec.Failed)
	assert.Equal(t, 1, rec.ParseFailed)
	assert.Equal(t, 2, rec.Fetched)
	assert.Equal(t, 1, rec.Stored)
	assert.Equal(t, map[string]int{"Fetch_RetryFailed": 2, "Content_MalformedPage": 1}, rec.FailureCategories)
}

func TestRun_FallbackStrategyIsCounted(t *testing.T) {
	h := newHarness(3)
	h.fetcher.via[detailURL(1000001)] = "browser"

	c := h.crawler(Options{}, nil)
	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"http": 2, "browser": 1}, c.ViaCounts())
}

func TestRun_FatalErrorsAbort(t *testing.T) {
	t.Run("robots unavailable", func(t *testing.T) {
		h := newHarness(3)
		h.robots.err = fmt.Errorf("%w: status 503", utils.ErrRobotsFetch)

		_, err := h.crawler(Options{}, nil).Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrRobotsFetch)
		assert.Empty(t, h.fetcher.calls)
		assert.Len(t, h.store.runs, 1, "the run row is still written")
	})

	t.Run("store write fails", func(t *testing.T) {
		h := newHarness(3)
		h.store.upsertErr = fmt.Errorf("%w: disk full", utils.ErrStoreIO)

		rec, err := h.crawler(Options{}, nil).Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrStoreIO)
		assert.Len(t, h.fetcher.calls, 1)
		assert.Zero(t, rec.Stored)
	})

	t.Run("store read fails", func(t *testing.T) {
		h := newHarness(3)
		h.store.seenErr = fmt.Errorf("%w: database is locked", utils.ErrStoreIO)

		_, err := h.crawler(Options{}, nil).Run(context.Background())
		assert.ErrorIs(t, err, utils.ErrStoreIO)
		assert.Empty(t, h.fetcher.calls)
	})

	t.Run("fatal fetch error", func(t *testing.T) {
		h := newHarness(3)
		h.fetcher.fail[detailURL(1000000)] = fmt.Errorf("%w: chrome missing", utils.ErrBrowserInit)

		_, err := h.crawler(Options{}, nil).Run(context.Background())
		assert.ErrorIs(t, err, utils.ErrBrowserInit)
		assert.Len(t, h.fetcher.calls, 1)
	})

	t.Run("frontier error", func(t *testing.T) {
		h := newHarness(1)
		h.frontier.err = fmt.Errorf("%w: visited set", utils.ErrDatabase)

		rec, err := h.crawler(Options{}, nil).Run(context.Background())
		assert.ErrorIs(t, err, utils.ErrDatabase)
		assert.Equal(t, 1, rec.Stored)
	})
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.crawler(Options{}, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.fetcher.calls)
	assert.Len(t, h.store.runs, 1)
}

func TestRun_PanicIsRecovered(t *testing.T) {
	h := newHarness(3)
	h.parser.panics[detailURL(1000001)] = true

	rec, err := h.crawler(Options{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Failed)
	assert.Equal(t, 2, rec.Stored)
	assert.Equal(t, 1, rec.FailureCategories["System_Panic"])
}

func TestRun_RecordsOutcomes(t *testing.T) {
	ledger, err := storage.NewVisitedSet(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	h := newHarness(4, "1000000")
	h.robots.deny[detailURL(1000001)] = true
	h.fetcher.fail[detailURL(1000002)] = fmt.Errorf("%w: 503", utils.ErrRetryFailed)

	_, err = h.crawler(Options{}, ledger).Run(context.Background())
	require.NoError(t, err)

	want := map[int]models.URLState{
		1000000: models.URLStateSkipped,
		1000001: models.URLStateDenied,
		1000002: models.URLStateFetchFailed,
		1000003: models.URLStateStored,
	}
	for id, state := range want {
		key, _, err := parse.ParseAndNormalize(detailURL(id))
		require.NoError(t, err)
		entry, err := ledger.Outcome(key)
		require.NoError(t, err)
		assert.Equal(t, state, entry.State, "ad %d", id)
		assert.Equal(t, models.SourceSitemap, entry.Source)
	}

	key, _, _ := parse.ParseAndNormalize(detailURL(1000002))
	entry, err := ledger.Outcome(key)
	require.NoError(t, err)
	assert.Equal(t, "Fetch_RetryFailed", entry.ErrorType)
}

func TestRenderReport(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	data := ReportData{
		Record: models.RunRecord{
			RunID:      "run-42",
			StartedAt:  started,
			FinishedAt: started.Add(90 * time.Second),
			RunStats: models.RunStats{
				Fetched:           10,
				Stored:            7,
				Failed:            2,
				ParseFailed:       1,
				FailureCategories: map[string]int{"Fetch_HTTP5xx": 2, "Content_MalformedPage": 1},
			},
		},
		BaseURL:    baseURL,
		Categories: []string{"szemelyauto"},
		Strategies: []string{"http", "browser"},
		Via:        map[string]int{"http": 8, "browser": 2},
		Sources:    map[models.Source]int{models.SourceSitemap: 12},
	}

	var buf bytes.Buffer
	require.NoError(t, RenderReport(&buf, data))
	out := buf.String()

	assert.Contains(t, out, "# Crawl Report")
	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "szemelyauto")
	assert.Contains(t, out, "Fetch_HTTP5xx")
	assert.Contains(t, out, "Content_MalformedPage")
	assert.Contains(t, out, "```mermaid")
	assert.Contains(t, out, "[!NOTE]")
	assert.Contains(t, out, "browser")
}

func TestWriteReport_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.md")
	err := WriteReport(path, ReportData{
		Record:  models.RunRecord{RunID: "run-1"},
		BaseURL: baseURL,
		RunErr:  errors.New("robots.txt unavailable"),
	})
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "[!CAUTION]")
	assert.Contains(t, string(b), "robots.txt unavailable")
}
