package sitemap

import (
	"context"
	"errors"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/classifieds-crawler/pkg/extract"
	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/parse"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// PageSource fetches sitemap documents. preferBrowser forces the browser strategy.
type PageSource interface {
	FetchVia(ctx context.Context, rawURL string, preferBrowser bool) (*models.RawPage, error)
}

// RobotsSource is the part of the RobotsGate the walker needs
type RobotsSource interface {
	IsAllowed(ctx context.Context, rawURL string) (bool, error)
	Sitemaps() []string
}

// Config configures a Walker
type Config struct {
	IndexURL   string                 // Root sitemap index
	Matcher    *extract.DetailMatcher // Keeps only URLs under the configured categories
	ViaBrowser bool                   // Fetch sitemaps through the browser strategy
	DebugDir   string                 // Non-XML bodies are dumped here when set
}

// Stats counts what the walker did
type Stats struct {
	SitemapsFetched int `json:"sitemaps_fetched"`
	SitemapsFailed  int `json:"sitemaps_failed"`
	NonXML          int `json:"non_xml"`
	Denied          int `json:"denied"`
	URLsFound       int `json:"urls_found"`
	URLsSkipped     int `json:"urls_skipped"` // Off-site or outside the configured categories
}

// Walker lazily resolves a sitemap index into leaf sitemaps and leaf sitemaps into listing URLs.
// Sitemaps are fetched only when the buffered URLs run out, so a caller that stops early
// never downloads the rest of the tree. A failed sitemap is logged and skipped.
type Walker struct {
	cfg     Config
	fetcher PageSource
	robots  RobotsSource
	log     *logrus.Entry

	siteHost     string
	pending      []string
	seen         map[string]bool
	buffered     []models.CandidateURL
	started      bool
	fallbackUsed bool
	stats        Stats
}

// NewWalker creates a Walker rooted at cfg.IndexURL
func NewWalker(cfg Config, fetcher PageSource, robots RobotsSource, log *logrus.Entry) *Walker {
	if cfg.Matcher == nil {
		cfg.Matcher = extract.NewDetailMatcher(nil)
	}
	var host string
	if u, err := url.Parse(cfg.IndexURL); err == nil {
		host = u.Host
	}
	return &Walker{
		cfg:      cfg,
		fetcher:  fetcher,
		robots:   robots,
		log:      log.WithField("component", "sitemap_walker"),
		siteHost: host,
		seen:     make(map[string]bool),
	}
}

// Name identifies the walker as a frontier source
func (w *Walker) Name() models.Source { return models.SourceSitemap }

// Next returns the next listing URL. ok is false once the tree is exhausted.
// Only context cancellation and fatal robots errors are returned.
func (w *Walker) Next(ctx context.Context) (models.CandidateURL, bool, error) {
	if !w.started {
		w.started = true
		w.enqueue(w.cfg.IndexURL)
	}
	for len(w.buffered) == 0 {
		if len(w.pending) == 0 {
			if !w.useFallback() {
				return models.CandidateURL{}, false, nil
			}
			continue
		}
		next := w.pending[0]
		w.pending = w.pending[1:]
		if err := w.process(ctx, next); err != nil {
			return models.CandidateURL{}, false, err
		}
	}
	c := w.buffered[0]
	w.buffered = w.buffered[1:]
	return c, true, nil
}

// Stats returns the walker counters so far
func (w *Walker) Stats() Stats {
	return w.stats
}

// useFallback queues the Sitemap directives of robots.txt when the index yielded nothing
func (w *Walker) useFallback() bool {
	if w.fallbackUsed || w.stats.URLsFound > 0 || w.robots == nil {
		return false
	}
	w.fallbackUsed = true
	queued := 0
	for _, sm := range w.robots.Sitemaps() {
		if w.enqueue(sm) {
			queued++
		}
	}
	if queued > 0 {
		w.log.WithField("sitemaps", queued).Info("Sitemap index produced no URLs, falling back to robots.txt Sitemap directives")
	}
	return queued > 0
}

func (w *Walker) enqueue(sitemapURL string) bool {
	u, err := url.Parse(sitemapURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || !parse.SameSite(u.Host, w.siteHost) {
		w.log.WithField("sitemap_url", sitemapURL).Debug("Ignoring off-site or invalid sitemap URL")
		return false
	}
	if w.seen[sitemapURL] {
		return false
	}
	w.seen[sitemapURL] = true
	w.pending = append(w.pending, sitemapURL)
	return true
}

// process fetches one sitemap and either queues its children or buffers its listing URLs
func (w *Walker) process(ctx context.Context, sitemapURL string) error {
	sitemapLog := w.log.WithField("sitemap_url", sitemapURL)

	if w.robots != nil {
		allowed, err := w.robots.IsAllowed(ctx, sitemapURL)
		if err != nil {
			return err
		}
		if !allowed {
			w.stats.Denied++
			sitemapLog.Info("Sitemap disallowed by robots.txt")
			return nil
		}
	}

	page, err := w.fetcher.FetchVia(ctx, sitemapURL, w.cfg.ViaBrowser)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, utils.ErrBrowserInit) {
			return err
		}
		w.stats.SitemapsFailed++
		sitemapLog.WithField("error_type", utils.CategorizeError(err)).Warnf("Sitemap not accessible: %v", err)
		return nil
	}
	w.stats.SitemapsFetched++

	if !parse.LooksLikeSitemap(page.Body) {
		w.stats.NonXML++
		sitemapLog.WithField("content_type", page.ContentType).Warn("Sitemap did not return XML")
		w.dump("sitemap_non_xml", sitemapURL, page.Body)
		return nil
	}
	sm, err := parse.ParseSitemap(page.Body)
	if err != nil {
		w.stats.SitemapsFailed++
		sitemapLog.Warnf("Sitemap XML parse failed: %v", err)
		w.dump("sitemap_parse_error", sitemapURL, page.Body)
		return nil
	}

	if sm.Kind == parse.KindIndex {
		queued := 0
		for _, loc := range sm.Locs {
			if w.enqueue(loc) {
				queued++
			}
		}
		sitemapLog.Infof("Parsed as Sitemap Index, queued %d of %d references.", queued, len(sm.Locs))
		return nil
	}

	found := 0
	for _, loc := range sm.Locs {
		if c, ok := w.candidate(loc); ok {
			w.buffered = append(w.buffered, c)
			found++
		} else {
			w.stats.URLsSkipped++
		}
	}
	w.stats.URLsFound += found
	sitemapLog.Infof("Parsed as URL Set, kept %d of %d URLs.", found, len(sm.Locs))
	return nil
}

// candidate keeps same-site URLs under a configured category
func (w *Walker) candidate(loc string) (models.CandidateURL, bool) {
	u, err := url.Parse(loc)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || !parse.SameSite(u.Host, w.siteHost) {
		return models.CandidateURL{}, false
	}
	category, ok := w.cfg.Matcher.InCategory(u)
	if !ok {
		return models.CandidateURL{}, false
	}
	adID, _, matched := w.cfg.Matcher.Match(u)
	if !matched {
		adID = extract.AdIDFromURL(loc)
	}
	return models.CandidateURL{URL: loc, Source: models.SourceSitemap, Category: category, AdID: adID}, true
}

func (w *Walker) dump(label, rawURL string, body []byte) {
	if w.cfg.DebugDir == "" {
		return
	}
	path, err := utils.WriteDebugDump(w.cfg.DebugDir, label, rawURL, body)
	if err != nil {
		w.log.WithError(err).Warn("Failed to write debug file")
		return
	}
	w.log.WithField("path", path).Debug("Wrote debug dump")
}
