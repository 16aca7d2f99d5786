package frontier

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

const base = "https://www.hasznaltauto.hu"

// fakeFetcher serves canned HTML per URL and records the order of requests
type fakeFetcher struct {
	pages    map[string]string
	failures map[string]error
	requests []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}, failures: map[string]error{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*models.RawPage, error) {
	f.requests = append(f.requests, rawURL)
	if err, ok := f.failures[rawURL]; ok {
		return nil, err
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return nil, fmt.Errorf("%w: status 404 for %s", utils.ErrFetch, rawURL)
	}
	return &models.RawPage{URL: rawURL, FinalURL: rawURL, StatusCode: 200, ContentType: "text/html", Body: []byte(body)}, nil
}

// fakeRobots denies the listed URLs
type fakeRobots struct {
	denied map[string]bool
	err    error
}

func (r *fakeRobots) IsAllowed(_ context.Context, rawURL string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return !r.denied[rawURL], nil
}

func listingPage(detailIDs []int, pagination ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><div class=\"talalati-lista\">")
	for _, id := range detailIDs {
		fmt.Fprintf(&b, `<a href="/szemelyauto/volkswagen/golf/volkswagen_golf-%d">Golf</a>`, id)
	}
	for _, p := range pagination {
		fmt.Fprintf(&b, `<a href="%s">next</a>`, p)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func detailURL(id int) string {
	return fmt.Sprintf("%s/szemelyauto/volkswagen/golf/volkswagen_golf-%d", base, id)
}

func drainPager(t *testing.T, p *CategoryPager) []models.CandidateURL {
	t.Helper()
	var out []models.CandidateURL
	for {
		c, ok, err := p.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

func TestCategoryPager_FollowsPaginationUpToMaxPages(t *testing.T) {
	f := newFakeFetcher()
	f.pages[base+"/szemelyauto"] = listingPage([]int{10000001, 10000002}, "/szemelyauto/oldal-2")
	f.pages[base+"/szemelyauto/oldal-2"] = listingPage([]int{10000003}, "/szemelyauto/oldal-3")
	f.pages[base+"/szemelyauto/oldal-3"] = listingPage([]int{10000004})

	p := NewCategoryPager(PagerConfig{BaseURL: base, Categories: []string{"szemelyauto"}, MaxPages: 2}, f, &fakeRobots{}, testLogger())
	got := drainPager(t, p)

	require.Len(t, got, 3)
	assert.Equal(t, detailURL(10000001), got[0].URL)
	assert.Equal(t, "10000001", got[0].AdID)
	assert.Equal(t, "szemelyauto", got[0].Category)
	assert.Equal(t, models.SourceCategory, got[0].Source)
	assert.Equal(t, detailURL(10000003), got[2].URL)
	assert.Equal(t, []string{base + "/szemelyauto", base + "/szemelyauto/oldal-2"}, f.requests)
	assert.Equal(t, 2, p.Stats().PagesFetched)
}

func TestCategoryPager_StopsWhenPageYieldsNoNewLinks(t *testing.T) {
	f := newFakeFetcher()
	f.pages[base+"/szemelyauto"] = listingPage([]int{10000001}, "/szemelyauto/oldal-2")
	f.pages[base+"/szemelyauto/oldal-2"] = listingPage([]int{10000001}, "/szemelyauto/oldal-3")
	f.pages[base+"/szemelyauto/oldal-3"] = listingPage([]int{10000009})

	p := NewCategoryPager(PagerConfig{BaseURL: base, Categories: []string{"szemelyauto"}, MaxPages: 10}, f, &fakeRobots{}, testLogger())
	got := drainPager(t, p)

	require.Len(t, got, 1)
	assert.NotContains(t, f.requests, base+"/szemelyauto/oldal-3")
}

func TestCategoryPager_DefaultsToOnePage(t *testing.T) {
	f := newFakeFetcher()
	f.pages[base+"/szemelyauto"] = listingPage([]int{10000001}, "/szemelyauto/oldal-2")

	p := NewCategoryPager(PagerConfig{BaseURL: base, Categories: []string{"szemelyauto"}}, f, &fakeRobots{}, testLogger())
	drainPager(t, p)
	assert.Equal(t, []string{base + "/szemelyauto"}, f.requests)
}

func TestCategoryPager_RobotsDeniedPaginationNotFetched(t *testing.T) {
	f := newFakeFetcher()
	f.pages[base+"/szemelyauto"] = listingPage([]int{10000001}, "/szemelyauto/oldal-2", "/szemelyauto/page3")
	f.pages[base+"/szemelyauto/page3"] = listingPage([]int{10000003})

	robots := &fakeRobots{denied: map[string]bool{base + "/szemelyauto/oldal-2": true}}
	p := NewCategoryPager(PagerConfig{BaseURL: base, Categories: []string{"szemelyauto"}, MaxPages: 5}, f, robots, testLogger())
	got := drainPager(t, p)

	assert.Len(t, got, 2)
	assert.NotContains(t, f.requests, base+"/szemelyauto/oldal-2")
	assert.Equal(t, 1, p.Stats().PagesDenied)
}

func TestCategoryPager_RobotsDeniedStartPage(t *testing.T) {
	f := newFakeFetcher()
	robots := &fakeRobots{denied: map[string]bool{base + "/szemelyauto": true}}
	p := NewCategoryPager(PagerConfig{BaseURL: base, Categories: []string{"szemelyauto"}, MaxPages: 3}, f, robots, testLogger())

	assert.Empty(t, drainPager(t, p))
	assert.Empty(t, f.requests)
}

func TestCategoryPager_WalksCategoriesInOrder(t *testing.T) {
	f := newFakeFetcher()
	f.failures[base+"/szemelyauto"] = fmt.Errorf("%w: status 500", utils.ErrFetch)
	f.pages[base+"/teherauto"] = `<html><body><a href="/teherauto/ford/transit/ford_transit-20000001">Transit</a></body></html>`

	p := NewCategoryPager(PagerConfig{BaseURL: base + "/", Categories: []string{"szemelyauto", "teherauto"}, MaxPages: 1}, f, &fakeRobots{}, testLogger())
	got := drainPager(t, p)

	require.Len(t, got, 1)
	assert.Equal(t, "teherauto", got[0].Category)
	assert.Equal(t, "20000001", got[0].AdID)
	assert.Equal(t, 1, p.Stats().PagesFailed)
}

func TestCategoryPager_EmptyPageDumped(t *testing.T) {
	dir := t.TempDir()
	f := newFakeFetcher()
	f.pages[base+"/szemelyauto"] = "<html><body><p>Checking your browser</p></body></html>"

	p := NewCategoryPager(PagerConfig{BaseURL: base, Categories: []string{"szemelyauto"}, MaxPages: 3, DebugDir: dir}, f, &fakeRobots{}, testLogger())
	assert.Empty(t, drainPager(t, p))
	assert.Equal(t, 1, p.Stats().EmptyPages)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "listing_page_"))
}

func TestCategoryPager_FatalErrorsPropagate(t *testing.T) {
	t.Run("robots unavailable", func(t *testing.T) {
		robots := &fakeRobots{err: fmt.Errorf("%w: status 503", utils.ErrRobotsFetch)}
		p := NewCategoryPager(PagerConfig{BaseURL: base, Categories: []string{"szemelyauto"}}, newFakeFetcher(), robots, testLogger())
		_, _, err := p.Next(context.Background())
		assert.ErrorIs(t, err, utils.ErrRobotsFetch)
	})

	t.Run("browser init", func(t *testing.T) {
		f := newFakeFetcher()
		f.failures[base+"/szemelyauto"] = fmt.Errorf("%w: chrome not found", utils.ErrBrowserInit)
		p := NewCategoryPager(PagerConfig{BaseURL: base, Categories: []string{"szemelyauto"}}, f, &fakeRobots{}, testLogger())
		_, _, err := p.Next(context.Background())
		assert.ErrorIs(t, err, utils.ErrBrowserInit)
	})
}

func TestCategoryPager_WithFrontierDedup(t *testing.T) {
	f := newFakeFetcher()
	f.pages[base+"/szemelyauto"] = listingPage([]int{10000001, 10000002})

	sm := &sliceSource{name: models.SourceSitemap, urls: []string{detailURL(10000001)}}
	p := NewCategoryPager(PagerConfig{BaseURL: base, Categories: []string{"szemelyauto"}}, f, &fakeRobots{}, testLogger())

	fr := New([]Source{sm, p}, newVisited(t), testLogger())
	got := drainFrontier(t, fr)

	require.Len(t, got, 2)
	assert.Equal(t, models.SourceSitemap, got[0].Source)
	assert.Equal(t, detailURL(10000002), got[1].URL)
	assert.Equal(t, models.SourceCategory, got[1].Source)
}
