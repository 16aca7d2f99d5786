package parse

import (
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// --- XML Structs for Sitemap Parsing ---

// XMLURL represents a <url> element in a sitemap
type XMLURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLURLSet represents a <urlset> element in a sitemap
type XMLURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []XMLURL `xml:"url"`
}

// XMLSitemap represents a <sitemap> element in a sitemap index file
type XMLSitemap struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLSitemapIndex represents a <sitemapindex> element
type XMLSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []XMLSitemap `xml:"sitemap"`
}

// SitemapKind tells an index apart from a leaf URL set
type SitemapKind int

const (
	KindURLSet SitemapKind = iota
	KindIndex
)

func (k SitemapKind) String() string {
	if k == KindIndex {
		return "sitemapindex"
	}
	return "urlset"
}

// Sitemap is a parsed sitemap document: child sitemap locations for an index, page locations for a URL set
type Sitemap struct {
	Kind SitemapKind
	Locs []string
}

const sniffLen = 300

var gzipMagic = []byte{0x1f, 0x8b}

// LooksLikeSitemap reports whether body starts like a sitemap document.
// HTML served in place of XML (challenge pages, soft 404s) fails this check.
func LooksLikeSitemap(body []byte) bool {
	body = maybeGunzip(body)
	head := bytes.TrimLeft(body, " \t\r\n\ufeff")
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	lower := strings.ToLower(string(head))
	return strings.Contains(lower, "<urlset") || strings.Contains(lower, "<sitemapindex")
}

// ParseSitemap decodes a sitemap index or URL set. Gzip-compressed bodies are accepted.
// Errors wrap utils.ErrParsing.
func ParseSitemap(body []byte) (*Sitemap, error) {
	body = maybeGunzip(body)

	root, err := rootElement(body)
	if err != nil {
		return nil, fmt.Errorf("%w: XML sitemap: %w", utils.ErrParsing, err)
	}

	switch root {
	case "sitemapindex":
		var index XMLSitemapIndex
		if err := xml.Unmarshal(body, &index); err != nil {
			return nil, fmt.Errorf("%w: XML sitemap index: %w", utils.ErrParsing, err)
		}
		sm := &Sitemap{Kind: KindIndex, Locs: make([]string, 0, len(index.Sitemaps))}
		for _, s := range index.Sitemaps {
			if loc := strings.TrimSpace(s.Loc); loc != "" {
				sm.Locs = append(sm.Locs, loc)
			}
		}
		return sm, nil
	case "urlset":
		var set XMLURLSet
		if err := xml.Unmarshal(body, &set); err != nil {
			return nil, fmt.Errorf("%w: XML urlset: %w", utils.ErrParsing, err)
		}
		sm := &Sitemap{Kind: KindURLSet, Locs: make([]string, 0, len(set.URLs))}
		for _, u := range set.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				sm.Locs = append(sm.Locs, loc)
			}
		}
		return sm, nil
	}
	return nil, fmt.Errorf("%w: XML sitemap: unexpected root element <%s>", utils.ErrParsing, root)
}

// rootElement returns the local name of the first element in body
func rootElement(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return "", fmt.Errorf("no root element")
			}
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return strings.ToLower(start.Name.Local), nil
		}
	}
}

// maybeGunzip returns the decompressed body when it carries the gzip magic, else body unchanged
func maybeGunzip(body []byte) []byte {
	if !bytes.HasPrefix(body, gzipMagic) {
		return body
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return body
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, 256<<20))
	if err != nil {
		return body
	}
	return out
}
