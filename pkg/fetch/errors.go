package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/net/html"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// ErrorKind classifies a failed fetch attempt
type ErrorKind int

const (
	KindTimeout    ErrorKind = iota // Request or navigation exceeded its deadline
	KindHTTPStatus                  // Non-2xx status that is not a blocking signal
	KindBlocked                     // 403, 429 or a challenge page
	KindNetwork                     // DNS, TCP, TLS or browser transport failure
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http_status"
	case KindBlocked:
		return "blocked"
	case KindNetwork:
		return "network"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// FetchError is returned by strategies and the Fetcher for a URL that could not be retrieved.
// It matches utils.ErrFetch with errors.Is.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int    // Set for KindHTTPStatus and status-based KindBlocked
	URL        string
	Via        string // Strategy name
	Err        error  // Underlying cause, may be nil
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s via %s: %s", e.URL, e.Via, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{utils.ErrFetch}
	}
	return []error{utils.ErrFetch, e.Err}
}

// Transient reports whether retrying the same strategy may succeed
func (e *FetchError) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork:
		return true
	case KindHTTPStatus:
		return e.StatusCode >= 500
	}
	return false
}

// Permanent reports whether the URL should be given up on without retry or fallback
func (e *FetchError) Permanent() bool {
	return !e.Transient() && !e.Blocked()
}

// Blocked reports whether the next strategy in the chain should be tried
func (e *FetchError) Blocked() bool {
	return e.Kind == KindBlocked
}

// Category implements the categorizer used by utils.CategorizeError
func (e *FetchError) Category() string {
	switch e.Kind {
	case KindTimeout:
		return "Network_Timeout"
	case KindBlocked:
		if e.StatusCode != 0 {
			return fmt.Sprintf("Blocked_%d", e.StatusCode)
		}
		return "Blocked_Challenge"
	case KindHTTPStatus:
		return fmt.Sprintf("HTTP_%d", e.StatusCode)
	}
	return "Network_Other"
}

// AsFetchError unwraps err into a *FetchError
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// classifyTransportError converts a client or browser error into a FetchError.
// Cancellation of the caller's context is returned as is so it propagates.
func classifyTransportError(ctx context.Context, rawURL, via string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	kind := KindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &FetchError{Kind: kind, URL: rawURL, Via: via, Err: err}
}

// checkPage classifies a received page. It returns nil for a usable page.
// phrases must be lowercase.
func checkPage(page *models.RawPage, phrases []string) error {
	code := page.StatusCode
	switch {
	case code == http.StatusForbidden || code == http.StatusTooManyRequests:
		return &FetchError{Kind: KindBlocked, StatusCode: code, URL: page.URL, Via: page.Via}
	case code >= 400 || (code != 0 && code < 200):
		return &FetchError{Kind: KindHTTPStatus, StatusCode: code, URL: page.URL, Via: page.Via}
	}
	if phrase, ok := containsChallenge(page.Body, phrases); ok {
		return &FetchError{
			Kind: KindBlocked, URL: page.URL, Via: page.Via,
			Err: fmt.Errorf("challenge page signature %q", phrase),
		}
	}
	return nil
}

// containsChallenge looks for a phrase in the visible text of body. Markup, attributes,
// scripts and styles are ignored so verification meta tags do not count.
func containsChallenge(body []byte, phrases []string) (string, bool) {
	if len(phrases) == 0 || len(body) == 0 {
		return "", false
	}
	lower := bytes.ToLower(visibleText(body))
	for _, p := range phrases {
		if p != "" && bytes.Contains(lower, []byte(p)) {
			return p, true
		}
	}
	return "", false
}

// visibleText concatenates the text nodes of an HTML document outside script and style
func visibleText(body []byte) []byte {
	var out bytes.Buffer
	z := html.NewTokenizer(bytes.NewReader(body))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out.Bytes()
		case html.StartTagToken:
			if name, _ := z.TagName(); isHiddenElement(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHiddenElement(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				out.Write(z.Text())
				out.WriteByte(' ')
			}
		}
	}
}

func isHiddenElement(name []byte) bool {
	return string(name) == "script" || string(name) == "style" || string(name) == "noscript"
}
