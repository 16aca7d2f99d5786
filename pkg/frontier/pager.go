package frontier

import (
	"bytes"
	"context"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/classifieds-crawler/pkg/config"
	"github.com/Sriram-PR/classifieds-crawler/pkg/extract"
	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/parse"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// PageFetcher retrieves listing pages under the main fetch policy
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.RawPage, error)
}

// RobotsChecker is the part of the RobotsGate the pager needs
type RobotsChecker interface {
	IsAllowed(ctx context.Context, rawURL string) (bool, error)
}

// PagerConfig configures a CategoryPager
type PagerConfig struct {
	BaseURL    string
	Categories []string
	MaxPages   int // Listing pages per category, at least 1
	DebugDir   string
}

// PagerStats counts listing page work
type PagerStats struct {
	PagesFetched int `json:"pages_fetched"`
	PagesFailed  int `json:"pages_failed"`
	PagesDenied  int `json:"pages_denied"`
	EmptyPages   int `json:"empty_pages"`
	LinksFound   int `json:"links_found"`
}

// CategoryPager walks the listing pages of each category in turn, following pagination
// links breadth-first up to MaxPages per category. A category ends early when a page
// yields no detail link the pager has not already produced.
type CategoryPager struct {
	cfg     PagerConfig
	fetcher PageFetcher
	robots  RobotsChecker
	matcher *extract.DetailMatcher
	log     *logrus.Entry

	catIndex  int
	pageQueue []string
	pagesSeen map[string]bool
	visited   int
	linksSeen map[string]bool
	buffered  []models.CandidateURL
	stats     PagerStats
}

// NewCategoryPager creates a pager over cfg.Categories
func NewCategoryPager(cfg PagerConfig, fetcher PageFetcher, robots RobotsChecker, log *logrus.Entry) *CategoryPager {
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	p := &CategoryPager{
		cfg:       cfg,
		fetcher:   fetcher,
		robots:    robots,
		matcher:   extract.NewDetailMatcher(cfg.Categories),
		log:       log.WithField("component", "category_pager"),
		catIndex:  -1,
		linksSeen: make(map[string]bool),
	}
	return p
}

// Name identifies the pager as a frontier source
func (p *CategoryPager) Name() models.Source { return models.SourceCategory }

// Stats returns the pager counters so far
func (p *CategoryPager) Stats() PagerStats { return p.stats }

// Next returns the next detail-page candidate
func (p *CategoryPager) Next(ctx context.Context) (models.CandidateURL, bool, error) {
	for len(p.buffered) == 0 {
		pageURL, ok := p.nextPage()
		if !ok {
			if !p.nextCategory() {
				return models.CandidateURL{}, false, nil
			}
			continue
		}
		if err := p.processPage(ctx, pageURL); err != nil {
			return models.CandidateURL{}, false, err
		}
	}
	c := p.buffered[0]
	p.buffered = p.buffered[1:]
	return c, true, nil
}

// nextCategory resets the page queue to the start page of the following category
func (p *CategoryPager) nextCategory() bool {
	p.catIndex++
	if p.catIndex >= len(p.cfg.Categories) {
		return false
	}
	start := config.CategoryURL(p.cfg.BaseURL, p.cfg.Categories[p.catIndex])
	p.pageQueue = []string{start}
	p.pagesSeen = map[string]bool{pageKey(start): true}
	p.visited = 0
	return true
}

func (p *CategoryPager) nextPage() (string, bool) {
	if p.catIndex < 0 || p.visited >= p.cfg.MaxPages || len(p.pageQueue) == 0 {
		return "", false
	}
	next := p.pageQueue[0]
	p.pageQueue = p.pageQueue[1:]
	p.visited++
	return next, true
}

// stopCategory drops the remaining pages of the current category
func (p *CategoryPager) stopCategory() {
	p.pageQueue = nil
}

func (p *CategoryPager) processPage(ctx context.Context, pageURL string) error {
	category := p.cfg.Categories[p.catIndex]
	pageLog := p.log.WithFields(logrus.Fields{"category": category, "page_url": pageURL, "page": p.visited})

	allowed, err := p.robots.IsAllowed(ctx, pageURL)
	if err != nil {
		return err
	}
	if !allowed {
		p.stats.PagesDenied++
		pageLog.Info("Listing page disallowed by robots.txt")
		return nil
	}

	page, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if utils.IsFatal(err) {
			return err
		}
		p.stats.PagesFailed++
		pageLog.WithField("error_type", utils.CategorizeError(err)).Warnf("Failed to fetch listing page: %v", err)
		return nil
	}
	p.stats.PagesFetched++

	base, err := url.Parse(page.FinalURL)
	if err != nil || page.FinalURL == "" {
		base, _ = url.Parse(pageURL)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		p.stats.PagesFailed++
		pageLog.Warnf("Listing page is not parseable HTML: %v", err)
		return nil
	}

	links := extract.ExtractDetailLinks(doc, base, p.matcher)
	fresh := 0
	for _, c := range links {
		if p.linksSeen[c.URL] {
			continue
		}
		p.linksSeen[c.URL] = true
		p.buffered = append(p.buffered, c)
		fresh++
	}
	p.stats.LinksFound += fresh
	pageLog.Infof("Listing page yielded %d new detail links (%d total on page)", fresh, len(links))

	if len(links) == 0 {
		p.stats.EmptyPages++
		p.dump(pageURL, page.Body)
	}
	if fresh == 0 {
		pageLog.Info("No new detail links, stopping category")
		p.stopCategory()
		return nil
	}

	return p.queuePagination(ctx, doc, base, pageLog)
}

// queuePagination adds unseen, robots-allowed pagination links of the current category
func (p *CategoryPager) queuePagination(ctx context.Context, doc *goquery.Document, base *url.URL, pageLog *logrus.Entry) error {
	for _, next := range extract.ExtractPaginationLinks(doc, base) {
		key := pageKey(next)
		if key == "" || p.pagesSeen[key] {
			continue
		}
		u, err := url.Parse(next)
		if err != nil {
			continue
		}
		if _, _, isDetail := p.matcher.Match(u); isDetail {
			continue
		}
		allowed, err := p.robots.IsAllowed(ctx, next)
		if err != nil {
			return err
		}
		p.pagesSeen[key] = true
		if !allowed {
			p.stats.PagesDenied++
			pageLog.WithField("next_url", next).Info("Pagination blocked by robots.txt")
			continue
		}
		p.pageQueue = append(p.pageQueue, next)
	}
	return nil
}

func (p *CategoryPager) dump(pageURL string, body []byte) {
	if p.cfg.DebugDir == "" {
		return
	}
	path, err := utils.WriteDebugDump(p.cfg.DebugDir, "listing_page", pageURL, body)
	if err != nil {
		p.log.WithError(err).Warn("Failed to write listing page debug HTML")
		return
	}
	p.log.WithField("path", path).Info("Listing page without detail links dumped")
}

// pageKey normalizes a listing page URL keeping its query, which may carry the page number
func pageKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return parse.NormalizePageURL(u)
}

var _ Source = (*CategoryPager)(nil)
