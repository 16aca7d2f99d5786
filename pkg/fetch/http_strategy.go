package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
)

const (
	// AcceptLanguage is sent by both strategies so the site serves Hungarian labels
	AcceptLanguage = "hu-HU,hu;q=0.9,en-US;q=0.8,en;q=0.7"
	acceptHeader   = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	maxBodyBytes   = 32 << 20
)

// Strategy retrieves a single URL once. Retries, throttling and fallback belong to the Fetcher.
// A non-nil error is a *FetchError unless the caller's context was cancelled.
// When a response was received but rejected (status, challenge page) the page is returned with the error.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, rawURL string) (*models.RawPage, error)
}

// HTTPStrategy fetches pages with a plain HTTP client, following redirects
type HTTPStrategy struct {
	client         *http.Client
	userAgent      string
	blockedPhrases []string
	log            *logrus.Entry
}

// NewHTTPStrategy creates an HTTPStrategy
func NewHTTPStrategy(client *http.Client, userAgent string, blockedPhrases []string, log *logrus.Entry) *HTTPStrategy {
	return &HTTPStrategy{
		client:         client,
		userAgent:      userAgent,
		blockedPhrases: blockedPhrases,
		log:            log,
	}
}

func (s *HTTPStrategy) Name() string { return "http" }

// Fetch performs one GET request
func (s *HTTPStrategy) Fetch(ctx context.Context, rawURL string) (*models.RawPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: rawURL, Via: s.Name(), Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", AcceptLanguage)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, rawURL, s.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransportError(ctx, rawURL, s.Name(), fmt.Errorf("read body: %w", err))
	}

	page := &models.RawPage{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: mediaType(resp.Header.Get("Content-Type")),
		Body:        body,
		FetchedAt:   time.Now(),
		Via:         s.Name(),
	}
	s.log.WithFields(logrus.Fields{
		"url": rawURL, "status_code": resp.StatusCode, "bytes": len(body), "content_type": page.ContentType,
	}).Debug("HTTP response received")

	if err := checkPage(page, s.blockedPhrases); err != nil {
		return page, err
	}
	return page, nil
}

// mediaType strips parameters from a Content-Type header value
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	return mt
}
