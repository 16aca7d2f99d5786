package extract

import (
	"bytes"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/parse"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// containerSelectors are tried in order; the first one holding listing data is used
var containerSelectors = []string{".adatlap", "#adatlap", ".hirdetes-adatlap", "main", "article", "body"}

// Labels whose value sits on the following text line when no table markup is used
var lineLabels = map[string]bool{
	"evjarat":          true,
	"km. ora allas":    true,
	"uzemanyag":        true,
	"hengerurtartalom": true,
	"teljesitmeny":     true,
	"hirdeteskod":      true,
}

const minDescriptionLen = 20

// Options configures a Parser
type Options struct {
	BaseURL   string // Site root; images are kept only for this site
	StoreHTML bool   // Keep the raw page in Listing.RawHTML
	Rules     []Rule // Field table, DefaultRules when nil
}

// Parser turns detail pages into listings by evaluating an ordered rule table
// over the key/value pairs of the listing container.
type Parser struct {
	siteHost  string
	storeHTML bool
	rules     map[string]*Rule
	converter *md.Converter
	log       *logrus.Entry
}

// NewParser creates a Parser
func NewParser(opts Options, log *logrus.Entry) *Parser {
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules
	}
	var host string
	if u, err := url.Parse(opts.BaseURL); err == nil {
		host = u.Host
	}
	return &Parser{
		siteHost:  host,
		storeHTML: opts.StoreHTML,
		rules:     ruleIndex(rules),
		converter: md.NewConverter("", true, nil),
		log:       log,
	}
}

// pair is one raw label/value couple found on the page
type pair struct {
	label string
	value string
}

// Parse extracts a listing from page. cand carries what discovery already knows about the URL
// (category, ad id); both are fallbacks for what the page itself does not say.
// Missing fields never fail the record; only a missing container or id does.
func (p *Parser) Parse(page *models.RawPage, cand models.CandidateURL) (*models.Listing, error) {
	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = page.URL
	}
	parseLog := p.log.WithField("url", page.URL)

	if len(bytes.TrimSpace(page.Body)) == 0 {
		return nil, &ParseError{Reason: ReasonMalformedPage, URL: page.URL, Err: errEmptyBody}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &ParseError{Reason: ReasonInvalidHTML, URL: page.URL, Err: err}
	}
	base, _ := url.Parse(pageURL)

	container, pairs := p.findContainer(doc)
	if container == nil {
		return nil, &ParseError{Reason: ReasonMalformedPage, URL: page.URL, Err: errNoContainer}
	}

	l := &models.Listing{
		URL:        page.URL,
		Category:   cand.Category,
		Attributes: make(map[string]string),
	}
	l.Title = extractTitle(doc)

	// --- Rule table ---
	malformed := 0
	for _, kv := range pairs {
		rule, ok := p.rules[utils.NormalizeLabel(kv.label)]
		if !ok {
			l.Attributes[kv.label] = kv.value
			continue
		}
		if err := rule.Apply(l, kv.value); err != nil {
			malformed++
			l.Attributes[kv.label] = kv.value
			parseLog.WithFields(logrus.Fields{"field": rule.Field, "value": kv.value}).Debug("Field value could not be coerced")
		}
	}
	if l.SellerType == nil {
		if _, private := findPair(pairs, "maganszemely"); private {
			l.SellerType = models.Ptr("private")
		}
	}

	// --- Fields outside the key/value table ---
	extractPrice(doc, container, l)
	l.Description = p.extractDescription(doc, container)
	l.Equipment = extractEquipment(container)
	l.Images = p.extractImages(doc, base)

	// --- Ad id: page attribute, then URL, then discovery ---
	if l.AdID == "" {
		l.AdID = AdIDFromURL(pageURL)
	}
	if l.AdID == "" {
		l.AdID = AdIDFromURL(page.URL)
	}
	if l.AdID == "" {
		l.AdID = cand.AdID
	}
	if l.AdID == "" {
		return nil, &ParseError{Reason: ReasonMissingID, URL: page.URL}
	}

	l.ContentHash = utils.CalculateStringSHA256(string(page.Body))
	if p.storeHTML {
		l.RawHTML = models.Ptr(string(page.Body))
	}

	parseLog.WithFields(logrus.Fields{
		"ad_id": l.AdID, "pairs": len(pairs), "attributes": len(l.Attributes),
		"images": len(l.Images), "equipment": len(l.Equipment), "malformed": malformed,
	}).Debug("Listing parsed")
	return l, nil
}

// findContainer returns the first candidate container with listing data and its key/value pairs
func (p *Parser) findContainer(doc *goquery.Document) (*goquery.Selection, []pair) {
	for _, sel := range containerSelectors {
		c := doc.Find(sel).First()
		if c.Length() == 0 {
			continue
		}
		pairs := collectPairs(c)
		if len(pairs) > 0 || c.Find("h1").Length() > 0 {
			return c, pairs
		}
	}
	return nil, nil
}

// collectPairs reads label/value pairs from table rows, definition lists and, as a fallback,
// from known labels followed by their value on the next text line. The first value of a label wins.
func collectPairs(c *goquery.Selection) []pair {
	var pairs []pair
	seen := make(map[string]bool)
	add := func(label, value string) {
		label, value = utils.CollapseSpace(label), utils.CollapseSpace(value)
		label = strings.TrimRight(label, ": ")
		if label == "" || value == "" {
			return
		}
		key := utils.NormalizeLabel(label)
		if seen[key] {
			return
		}
		seen[key] = true
		pairs = append(pairs, pair{label: label, value: value})
	}

	c.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if cells.Length() >= 2 {
			add(cells.Eq(0).Text(), cells.Eq(1).Text())
		}
	})
	c.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dds := dl.Find("dd")
		dl.Find("dt").Each(func(i int, dt *goquery.Selection) {
			if i < dds.Length() {
				add(dt.Text(), dds.Eq(i).Text())
			}
		})
	})

	lines := textLines(c)
	for i := 0; i < len(lines)-1; i++ {
		line, next := lines[i], lines[i+1]
		if len(line) >= 64 || len(next) >= 128 || strings.Contains(line, ":") {
			continue
		}
		key := utils.NormalizeLabel(line)
		if strings.HasPrefix(key, "hirdeteskod") {
			key = "hirdeteskod"
		}
		if lineLabels[key] {
			add(line, next)
		}
	}
	return pairs
}

func findPair(pairs []pair, normalized string) (string, bool) {
	for _, kv := range pairs {
		if utils.NormalizeLabel(kv.label) == normalized {
			return kv.value, true
		}
	}
	return "", false
}

func extractTitle(doc *goquery.Document) *string {
	if t := utils.CollapseSpace(doc.Find("h1").First().Text()); t != "" {
		return models.Ptr(t)
	}
	if t := metaContent(doc, "og:title"); t != "" {
		return models.Ptr(t)
	}
	if t := utils.CollapseSpace(doc.Find("title").First().Text()); t != "" {
		return models.Ptr(t)
	}
	return nil
}

// extractPrice fills the price from structured meta first, then from text lines such as "3 990 000 Ft".
// Lines mentioning a sale ("Akció") fill the discounted price instead.
func extractPrice(doc *goquery.Document, c *goquery.Selection, l *models.Listing) {
	if l.PriceHUF == nil && l.Currency == nil {
		currency := strings.ToUpper(metaContent(doc, "product:price:currency"))
		for _, name := range []string{"product:price:amount", "og:price:amount"} {
			if n, ok := utils.ParseDigits(metaContent(doc, name)); ok {
				applyPrice(l, n, currency)
				break
			}
		}
	}

	for _, line := range textLines(c) {
		m := pricePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, ok := utils.ParseDigits(m[1])
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(utils.FoldAccents(line)), "akcio") {
			if l.PriceDiscountHUF == nil {
				l.PriceDiscountHUF = models.Ptr(n)
			}
			continue
		}
		applyPrice(l, n, currencyCodes[m[2]])
	}
}

// extractDescription converts the "Leírás" section to Markdown, falling back to og:description
func (p *Parser) extractDescription(doc *goquery.Document, c *goquery.Selection) *string {
	section := c.Find("#leiras, .leiras, .hirdetes-leiras, [itemprop=description]").First()
	if section.Length() == 0 {
		if heading := findHeading(c, "leiras"); heading.Length() > 0 {
			section = heading.Parent()
		}
	}
	if section.Length() > 0 {
		body := section.Clone()
		body.Find("h1, h2, h3, h4, h5, h6").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.Contains(foldLower(s.Text()), "leiras")
		}).Remove()
		text := strings.TrimSpace(p.converter.Convert(body))
		if len([]rune(text)) > minDescriptionLen {
			return models.Ptr(text)
		}
	}
	if d := metaContent(doc, "og:description"); d != "" {
		return models.Ptr(d)
	}
	return nil
}

// extractEquipment lists the items of the "Felszereltség" section, distinct and in page order
func extractEquipment(c *goquery.Selection) []string {
	var section *goquery.Selection
	if heading := findHeading(c, "felszereltseg"); heading.Length() > 0 {
		section = heading.Parent()
	} else {
		section = c.Find("section[id], div[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			id, _ := s.Attr("id")
			return strings.Contains(strings.ToLower(id), "felszerelt")
		})
	}

	equipment := []string{}
	seen := make(map[string]bool)
	section.Find("li").Each(func(_ int, li *goquery.Selection) {
		item := utils.CollapseSpace(li.Text())
		if item != "" && !seen[item] {
			seen[item] = true
			equipment = append(equipment, item)
		}
	})
	return equipment
}

// extractImages collects same-site image URLs in source order, without dereferencing them
func (p *Parser) extractImages(doc *goquery.Document, base *url.URL) []string {
	images := []string{}
	seen := make(map[string]bool)
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("data-src")
		if src == "" {
			src, _ = img.Attr("src")
		}
		u, ok := parse.ResolveHref(base, src)
		if !ok || (p.siteHost != "" && !parse.SameSite(u.Host, p.siteHost)) {
			return
		}
		s := u.String()
		if !seen[s] {
			seen[s] = true
			images = append(images, s)
		}
	})
	return images
}

// findHeading returns the first short heading-like element whose folded text contains label
func findHeading(c *goquery.Selection, label string) *goquery.Selection {
	return c.Find("h1, h2, h3, h4, h5, h6, strong, b, dt, .title").FilterFunction(func(_ int, s *goquery.Selection) bool {
		text := foldLower(s.Text())
		return len(text) < 64 && strings.Contains(text, label)
	}).First()
}

func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(`meta[property="` + property + `"], meta[name="` + property + `"]`).First()
	content, _ := sel.Attr("content")
	return strings.TrimSpace(content)
}

func foldLower(s string) string {
	return strings.ToLower(utils.FoldAccents(utils.CollapseSpace(s)))
}

// textLines returns the non-empty text nodes under c, whitespace collapsed, skipping scripts and styles
func textLines(c *goquery.Selection) []string {
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := utils.CollapseSpace(n.Data); t != "" {
				lines = append(lines, t)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, n := range c.Nodes {
		walk(n)
	}
	return lines
}
