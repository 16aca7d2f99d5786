package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/parse"
)

// KnownCategories are the vehicle categories of the site, used when none are configured
var KnownCategories = []string{
	"szemelyauto", "teherauto", "motor", "lakoauto", "autobusz", "mikrobusz", "kamion", "potkocsi",
}

var trailingID = regexp.MustCompile(`-(\d+)(?:\.html)?/?$`)

// paginationMarkers are href fragments that identify links to further listing pages
var paginationMarkers = []string{"page", "oldal", "lap"}

type categoryPattern struct {
	category string
	slug     *regexp.Regexp // /<category>/...-<id>
	segment  *regexp.Regexp // /<category>/.../<id>
}

// DetailMatcher recognises detail-page URLs of the configured categories.
// Ids have at least five digits so "/szemelyauto/oldal-2" is not taken for an ad.
type DetailMatcher struct {
	patterns []categoryPattern
}

// NewDetailMatcher compiles the detail URL patterns for categories, KnownCategories when empty
func NewDetailMatcher(categories []string) *DetailMatcher {
	if len(categories) == 0 {
		categories = KnownCategories
	}
	m := &DetailMatcher{}
	for _, c := range categories {
		c = strings.Trim(c, "/")
		if c == "" {
			continue
		}
		q := regexp.QuoteMeta(c)
		m.patterns = append(m.patterns, categoryPattern{
			category: c,
			slug:     regexp.MustCompile(`/` + q + `/.+-(\d{5,})(?:/|\.html)?$`),
			segment:  regexp.MustCompile(`/` + q + `/.+/(\d{5,})/?$`),
		})
	}
	return m
}

// Match returns the ad id and category when u is a detail page
func (m *DetailMatcher) Match(u *url.URL) (adID, category string, ok bool) {
	for _, p := range m.patterns {
		if sm := p.slug.FindStringSubmatch(u.Path); sm != nil {
			return sm[1], p.category, true
		}
		if sm := p.segment.FindStringSubmatch(u.Path); sm != nil {
			return sm[1], p.category, true
		}
	}
	return "", "", false
}

// InCategory reports whether u's path lies under one of the categories (sitemap filtering)
func (m *DetailMatcher) InCategory(u *url.URL) (string, bool) {
	for _, p := range m.patterns {
		if strings.Contains(u.Path, "/"+p.category+"/") {
			return p.category, true
		}
	}
	return "", false
}

// AdIDFromURL returns the trailing "-<digits>" of rawURL's path, or ""
func AdIDFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if m := trailingID.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}

// ExtractDetailLinks returns the same-site detail links of a listing page, distinct and in page order
func ExtractDetailLinks(doc *goquery.Document, pageURL *url.URL, m *DetailMatcher) []models.CandidateURL {
	var found []models.CandidateURL
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u, ok := parse.ResolveHref(pageURL, href)
		if !ok || !parse.SameSite(u.Host, pageURL.Host) {
			return
		}
		adID, category, ok := m.Match(u)
		if !ok {
			return
		}
		u.Fragment, u.RawQuery = "", ""
		key := u.String()
		if seen[key] {
			return
		}
		seen[key] = true
		found = append(found, models.CandidateURL{
			URL:      key,
			Source:   models.SourceCategory,
			Category: category,
			AdID:     adID,
		})
	})
	return found
}

// ExtractPaginationLinks returns same-site links that lead to further listing pages, in page order
func ExtractPaginationLinks(doc *goquery.Document, pageURL *url.URL) []string {
	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isPaginationHref(href) {
			return
		}
		u, ok := parse.ResolveHref(pageURL, href)
		if !ok || !parse.SameSite(u.Host, pageURL.Host) {
			return
		}
		u.Fragment = ""
		s := u.String()
		if !seen[s] {
			seen[s] = true
			links = append(links, s)
		}
	})
	return links
}

func isPaginationHref(href string) bool {
	lower := strings.ToLower(href)
	for _, marker := range paginationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func formatID(n int64) string {
	return strconv.FormatInt(n, 10)
}
