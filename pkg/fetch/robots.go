package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// PageFetcher is the part of the Fetcher the RobotsGate needs
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.RawPage, error)
}

// RobotsGate fetches robots.txt once per origin per run and evaluates URLs against it.
// A robots.txt that cannot be retrieved is fatal: compliance must be provable.
type RobotsGate struct {
	fetcher   PageFetcher
	userAgent string

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData // origin -> parsed rules

	log *logrus.Entry
}

// NewRobotsGate creates a RobotsGate evaluating rules for userAgent
func NewRobotsGate(fetcher PageFetcher, userAgent string, log *logrus.Entry) *RobotsGate {
	return &RobotsGate{
		fetcher:   fetcher,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log,
	}
}

// Load fetches and caches robots.txt for the origin of rawURL.
// It is called at run start so an unreachable robots.txt aborts before any page fetch.
func (g *RobotsGate) Load(ctx context.Context, rawURL string) error {
	_, err := g.rulesFor(ctx, rawURL)
	return err
}

// IsAllowed reports whether the configured user agent may fetch rawURL.
// The error is non-nil only when robots.txt could not be retrieved (wraps utils.ErrRobotsFetch)
// or the context was cancelled.
func (g *RobotsGate) IsAllowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("%w: invalid URL %q: %w", utils.ErrParsing, rawURL, err)
	}
	data, err := g.rulesFor(ctx, rawURL)
	if err != nil {
		return false, err
	}
	return data.TestAgent(u.RequestURI(), g.userAgent), nil
}

// Sitemaps returns the Sitemap directives of every loaded robots.txt
func (g *RobotsGate) Sitemaps() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, data := range g.cache {
		out = append(out, data.Sitemaps...)
	}
	return out
}

func (g *RobotsGate) rulesFor(ctx context.Context, rawURL string) (*robotstxt.RobotsData, error) {
	origin := originOf(rawURL)
	if origin == "" {
		return nil, fmt.Errorf("%w: invalid URL %q", utils.ErrParsing, rawURL)
	}

	g.mu.Lock()
	data, found := g.cache[origin]
	g.mu.Unlock()
	if found {
		return data, nil
	}

	robotsURL := origin + "/robots.txt"
	robotsLog := g.log.WithField("robots_url", robotsURL)
	robotsLog.Info("Fetching robots.txt...")

	data, err := g.fetchRules(ctx, robotsURL)
	if err != nil {
		robotsLog.WithError(err).Error("robots.txt unavailable")
		return nil, err
	}

	g.mu.Lock()
	g.cache[origin] = data
	g.mu.Unlock()
	robotsLog.WithField("sitemaps", len(data.Sitemaps)).Info("Successfully fetched and parsed robots.txt")
	return data, nil
}

func (g *RobotsGate) fetchRules(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	page, err := g.fetcher.Fetch(ctx, robotsURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A missing robots.txt (404, 410, other 4xx except 401/403) means no restrictions
		if fe, ok := AsFetchError(err); ok && fe.Kind == KindHTTPStatus &&
			fe.StatusCode >= 400 && fe.StatusCode < 500 &&
			fe.StatusCode != http.StatusUnauthorized && fe.StatusCode != http.StatusForbidden {
			g.log.WithField("status_code", fe.StatusCode).Info("No robots.txt, all paths allowed")
			return robotstxt.FromStatusAndBytes(fe.StatusCode, nil)
		}
		return nil, fmt.Errorf("%w: %s: %w", utils.ErrRobotsFetch, robotsURL, err)
	}

	data, err := robotstxt.FromStatusAndBytes(http.StatusOK, robotsBody(page.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", utils.ErrRobotsFetch, robotsURL, err)
	}
	return data, nil
}

// robotsBody unwraps robots.txt rendered as an HTML document (browser fetch of text/plain)
func robotsBody(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if !bytes.HasPrefix(trimmed, []byte("<")) {
		return body
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
	if err != nil {
		return body
	}
	if pre := doc.Find("pre").First(); pre.Length() > 0 {
		return []byte(pre.Text())
	}
	return []byte(strings.TrimSpace(doc.Text()))
}
