package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

const testUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Chrome/122.0.0.0 Safari/537.36"

// fakePageFetcher serves canned responses per URL and counts requests
type fakePageFetcher struct {
	mu        sync.Mutex
	responses map[string]func() (*models.RawPage, error)
	calls     map[string]int
}

func newFakePageFetcher() *fakePageFetcher {
	return &fakePageFetcher{
		responses: make(map[string]func() (*models.RawPage, error)),
		calls:     make(map[string]int),
	}
}

func (f *fakePageFetcher) body(rawURL, body string) *fakePageFetcher {
	f.responses[rawURL] = func() (*models.RawPage, error) {
		return &models.RawPage{URL: rawURL, StatusCode: 200, Body: []byte(body), Via: "http"}, nil
	}
	return f
}

func (f *fakePageFetcher) fail(rawURL string, err error) *fakePageFetcher {
	f.responses[rawURL] = func() (*models.RawPage, error) { return nil, err }
	return f
}

func (f *fakePageFetcher) Fetch(ctx context.Context, rawURL string) (*models.RawPage, error) {
	f.mu.Lock()
	f.calls[rawURL]++
	resp, ok := f.responses[rawURL]
	f.mu.Unlock()
	if !ok {
		return nil, &FetchError{Kind: KindHTTPStatus, StatusCode: 404, URL: rawURL, Via: "http"}
	}
	return resp()
}

func (f *fakePageFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

const siteRobots = `User-agent: *
Disallow: /kereso/
Disallow: /szemelyauto/*?print=1
Allow: /

Sitemap: https://www.hasznaltauto.hu/sitemap/sitemap_index.xml
`

func TestRobotsGate_AllowsAndDenies(t *testing.T) {
	pf := newFakePageFetcher().body("https://www.hasznaltauto.hu/robots.txt", siteRobots)
	gate := NewRobotsGate(pf, testUA, testLogger())
	ctx := context.Background()

	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.hasznaltauto.hu/szemelyauto/bmw/320/bmw_320d-19874321", true},
		{"https://www.hasznaltauto.hu/kereso/szemelyauto?page=2", false},
		{"https://www.hasznaltauto.hu/szemelyauto/bmw/320/x-1?print=1", false},
		{"https://www.hasznaltauto.hu/", true},
	}
	for _, tt := range tests {
		allowed, err := gate.IsAllowed(ctx, tt.url)
		require.NoError(t, err)
		assert.Equal(t, tt.want, allowed, tt.url)
	}
	assert.Equal(t, 1, pf.count("https://www.hasznaltauto.hu/robots.txt"), "robots.txt is fetched once per origin")
}

func TestRobotsGate_AgentSpecificGroup(t *testing.T) {
	robots := "User-agent: *\nAllow: /\n\nUser-agent: Mozilla\nDisallow: /szemelyauto/\n"
	pf := newFakePageFetcher().body("https://example.com/robots.txt", robots)
	gate := NewRobotsGate(pf, testUA, testLogger())

	allowed, err := gate.IsAllowed(context.Background(), "https://example.com/szemelyauto/a-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRobotsGate_MissingMeansAllowAll(t *testing.T) {
	for _, status := range []int{404, 410} {
		pf := newFakePageFetcher().fail("https://example.com/robots.txt",
			&FetchError{Kind: KindHTTPStatus, StatusCode: status, URL: "https://example.com/robots.txt"})
		gate := NewRobotsGate(pf, testUA, testLogger())

		allowed, err := gate.IsAllowed(context.Background(), "https://example.com/anything")
		require.NoError(t, err, "status %d", status)
		assert.True(t, allowed, "status %d", status)
	}
}

func TestRobotsGate_UnavailableIsFatal(t *testing.T) {
	robotsURL := "https://example.com/robots.txt"
	tests := []struct {
		name string
		err  error
	}{
		{"server error after retries", errors.Join(utils.ErrRetryFailed, &FetchError{Kind: KindHTTPStatus, StatusCode: 503, URL: robotsURL})},
		{"blocked", &FetchError{Kind: KindBlocked, StatusCode: 403, URL: robotsURL}},
		{"unauthorized", &FetchError{Kind: KindHTTPStatus, StatusCode: 401, URL: robotsURL}},
		{"network", &FetchError{Kind: KindNetwork, URL: robotsURL, Err: errors.New("no such host")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf := newFakePageFetcher().fail(robotsURL, tt.err)
			gate := NewRobotsGate(pf, testUA, testLogger())

			err := gate.Load(context.Background(), "https://example.com/")
			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrRobotsFetch)
			assert.True(t, utils.IsFatal(err))

			allowed, err := gate.IsAllowed(context.Background(), "https://example.com/a")
			assert.Error(t, err)
			assert.False(t, allowed)
		})
	}
}

func TestRobotsGate_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pf := newFakePageFetcher().fail("https://example.com/robots.txt", context.Canceled)
	gate := NewRobotsGate(pf, testUA, testLogger())

	err := gate.Load(ctx, "https://example.com/")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, utils.ErrRobotsFetch))
}

func TestRobotsGate_HTMLWrappedRobots(t *testing.T) {
	html := "<html><head></head><body><pre style=\"word-wrap: break-word;\">User-agent: *\nDisallow: /kereso/\n</pre></body></html>"
	pf := newFakePageFetcher().body("https://example.com/robots.txt", html)
	gate := NewRobotsGate(pf, testUA, testLogger())

	allowed, err := gate.IsAllowed(context.Background(), "https://example.com/kereso/x")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = gate.IsAllowed(context.Background(), "https://example.com/szemelyauto/x")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRobotsGate_Sitemaps(t *testing.T) {
	pf := newFakePageFetcher().body("https://www.hasznaltauto.hu/robots.txt", siteRobots)
	gate := NewRobotsGate(pf, testUA, testLogger())

	assert.Empty(t, gate.Sitemaps())
	require.NoError(t, gate.Load(context.Background(), "https://www.hasznaltauto.hu/szemelyauto"))
	assert.Equal(t, []string{"https://www.hasznaltauto.hu/sitemap/sitemap_index.xml"}, gate.Sitemaps())
}

func TestRobotsGate_InvalidURL(t *testing.T) {
	gate := NewRobotsGate(newFakePageFetcher(), testUA, testLogger())
	_, err := gate.IsAllowed(context.Background(), "not a url")
	assert.ErrorIs(t, err, utils.ErrParsing)
}
