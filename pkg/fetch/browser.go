package fetch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	applog "github.com/Sriram-PR/classifieds-crawler/pkg/log"
	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// snapshotJS returns the document in its original form: serialized XML for XML documents,
// the text of plain-text documents (Chrome wraps them in <pre>) and outer HTML otherwise.
const snapshotJS = `(() => {
  const ct = document.contentType || "";
  let body = "";
  if (ct.includes("xml") && !ct.includes("html")) {
    body = new XMLSerializer().serializeToString(document);
  } else if (ct.startsWith("text/plain")) {
    body = document.body ? document.body.innerText : "";
  } else if (document.documentElement) {
    body = document.documentElement.outerHTML;
  }
  return {contentType: ct, body: body, url: location.href};
})()`

// BrowserOptions configures the scripted browser context
type BrowserOptions struct {
	Headful           bool
	ExecPath          string
	UserAgent         string
	Locale            string
	Timezone          string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration // Extra wait after the load event
	BlockedPhrases    []string
}

// BrowserStrategy fetches pages through one long-lived Chrome tab driven over CDP.
// Start must be called before Fetch and Close must be called on every exit path.
type BrowserStrategy struct {
	opts BrowserOptions
	log  *logrus.Entry

	mu          sync.Mutex // One navigation at a time on the shared tab
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
}

type documentSnapshot struct {
	ContentType string `json:"contentType"`
	Body        string `json:"body"`
	URL         string `json:"url"`
}

// NewBrowserStrategy creates a BrowserStrategy; no browser is launched until Start
func NewBrowserStrategy(opts BrowserOptions, log *logrus.Entry) *BrowserStrategy {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 40 * time.Second
	}
	return &BrowserStrategy{opts: opts, log: log}
}

func (b *BrowserStrategy) Name() string { return "browser" }

// Start launches the browser, applies locale, timezone and headers, and restores session if given.
// Failures wrap utils.ErrBrowserInit.
func (b *BrowserStrategy) Start(ctx context.Context, session *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tabCtx != nil {
		return nil
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !b.opts.Headful),
		chromedp.Flag("lang", b.opts.Locale),
		chromedp.WindowSize(1366, 900),
	)
	if b.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(b.opts.UserAgent))
	}
	if b.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(b.opts.ExecPath))
	}

	// The browser outlives individual requests; its lifetime ends in Close, not with ctx
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	logs := applog.NewBrowserLogAdapter(b.log)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logs.Logf),
		chromedp.WithErrorf(logs.Errorf),
		chromedp.WithDebugf(logs.Debugf),
	)

	// The first Run allocates the browser and the tab; it must not carry a timeout
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("%w: launch: %w", utils.ErrBrowserInit, err)
	}

	setupCtx, cancel := context.WithTimeout(tabCtx, b.opts.NavigationTimeout)
	defer cancel()
	err := chromedp.Run(setupCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": AcceptLanguage}),
		emulation.SetLocaleOverride().WithLocale(b.opts.Locale),
		emulation.SetTimezoneOverride(b.opts.Timezone),
	)
	if err == nil && session != nil {
		err = restoreSession(setupCtx, session)
	}
	if err != nil {
		_ = chromedp.Cancel(tabCtx)
		allocCancel()
		return fmt.Errorf("%w: configure context: %w", utils.ErrBrowserInit, err)
	}

	b.tabCtx, b.tabCancel, b.allocCancel = tabCtx, tabCancel, allocCancel
	b.log.WithFields(logrus.Fields{
		"headful": b.opts.Headful, "locale": b.opts.Locale, "timezone": b.opts.Timezone, "session": session != nil,
	}).Info("Browser context started")
	return nil
}

// Close shuts the browser down. Safe to call more than once.
func (b *BrowserStrategy) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tabCtx == nil {
		return nil
	}
	err := chromedp.Cancel(b.tabCtx)
	b.tabCancel()
	b.allocCancel()
	b.tabCtx, b.tabCancel, b.allocCancel = nil, nil, nil
	b.log.Debug("Browser context closed")
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// Fetch navigates the shared tab to rawURL and snapshots the resulting document
func (b *BrowserStrategy) Fetch(ctx context.Context, rawURL string) (*models.RawPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tabCtx == nil {
		return nil, &FetchError{Kind: KindNetwork, URL: rawURL, Via: b.Name(), Err: utils.ErrBrowserInit}
	}

	navCtx, cancel := context.WithTimeout(b.tabCtx, b.opts.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel) // Caller cancellation aborts the navigation
	defer stop()

	resp, err := chromedp.RunResponse(navCtx, chromedp.Navigate(rawURL))
	if err != nil {
		return nil, classifyTransportError(ctx, rawURL, b.Name(), err)
	}

	var snap documentSnapshot
	actions := []chromedp.Action{}
	if b.opts.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(b.opts.SettleDelay))
	}
	actions = append(actions, chromedp.Evaluate(snapshotJS, &snap))
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return nil, classifyTransportError(ctx, rawURL, b.Name(), fmt.Errorf("snapshot: %w", err))
	}

	pg := &models.RawPage{
		URL:         rawURL,
		FinalURL:    snap.URL,
		ContentType: mediaType(snap.ContentType),
		Body:        []byte(snap.Body),
		FetchedAt:   time.Now(),
		Via:         b.Name(),
	}
	if resp != nil {
		pg.StatusCode = int(resp.Status)
		if pg.ContentType == "" {
			pg.ContentType = resp.MimeType
		}
	}
	b.log.WithFields(logrus.Fields{
		"url": rawURL, "status_code": pg.StatusCode, "bytes": len(pg.Body), "content_type": pg.ContentType,
	}).Debug("Browser navigation finished")

	if err := checkPage(pg, b.opts.BlockedPhrases); err != nil {
		return pg, err
	}
	return pg, nil
}

// ManualAuth opens authURL, waits for the operator to clear the challenge and press Enter,
// then captures the resulting session. It is a one-shot step run before a crawl, never during one.
func (b *BrowserStrategy) ManualAuth(ctx context.Context, authURL string, in io.Reader, out io.Writer) (*Session, error) {
	if !b.opts.Headful {
		b.log.Warn("Manual auth in a headless browser: the challenge page will not be visible")
	}

	b.mu.Lock()
	tabCtx := b.tabCtx
	b.mu.Unlock()
	if tabCtx == nil {
		return nil, fmt.Errorf("%w: browser not started", utils.ErrBrowserInit)
	}

	navCtx, cancel := context.WithTimeout(tabCtx, b.opts.NavigationTimeout)
	err := chromedp.Run(navCtx, chromedp.Navigate(authURL))
	cancel()
	if err != nil {
		// A challenge page may never fire a clean load event; the operator can still act on it
		b.log.WithError(err).Warn("Navigation to auth URL did not complete cleanly")
	}

	fmt.Fprintf(out, "Solve the browser challenge at %s, then press Enter to continue...\n", authURL)
	if err := waitForEnter(ctx, in); err != nil {
		return nil, err
	}

	return b.CaptureSession(ctx, []string{authURL})
}

// CaptureSession snapshots the cookies applicable to urls and the localStorage of the current page
func (b *BrowserStrategy) CaptureSession(ctx context.Context, urls []string) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tabCtx == nil {
		return nil, fmt.Errorf("%w: browser not started", utils.ErrBrowserInit)
	}

	capCtx, cancel := context.WithTimeout(b.tabCtx, b.opts.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		cookies []*network.Cookie
		origin  string
		entries [][]string
	)
	err := chromedp.Run(capCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithUrls(urls).Do(ctx)
			return err
		}),
		chromedp.Evaluate(`location.origin`, &origin),
		chromedp.Evaluate(`Object.entries(window.localStorage)`, &entries),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: capture: %w", utils.ErrSession, err)
	}

	s := &Session{Cookies: make([]SessionCookie, 0, len(cookies))}
	for _, c := range cookies {
		s.Cookies = append(s.Cookies, cookieFromCDP(c))
	}
	if origin != "" && origin != "null" {
		o := OriginStorage{Origin: origin}
		for _, kv := range entries {
			if len(kv) == 2 {
				o.LocalStorage = append(o.LocalStorage, StorageItem{Name: kv[0], Value: kv[1]})
			}
		}
		s.Origins = append(s.Origins, o)
	}
	b.log.WithFields(logrus.Fields{"cookies": len(s.Cookies), "origins": len(s.Origins)}).Info("Session captured")
	return s, nil
}

// SaveSession captures the current session for urls and writes it to path
func (b *BrowserStrategy) SaveSession(ctx context.Context, path string, urls []string) (*Session, error) {
	s, err := b.CaptureSession(ctx, urls)
	if err != nil {
		return nil, err
	}
	if err := s.Save(path); err != nil {
		return nil, err
	}
	b.log.WithField("path", path).Info("Session saved")
	return s, nil
}

// restoreSession installs cookies and schedules localStorage restoration for future documents
func restoreSession(ctx context.Context, s *Session) error {
	params := make([]*network.CookieParam, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		params = append(params, cookieToCDP(c))
	}
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if len(params) > 0 {
			if err := network.SetCookies(params).Do(ctx); err != nil {
				return fmt.Errorf("set cookies: %w", err)
			}
		}
		for _, o := range s.Origins {
			if len(o.LocalStorage) == 0 {
				continue
			}
			script, err := localStorageScript(o)
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("schedule localStorage restore: %w", err)
			}
		}
		return nil
	}))
}

// localStorageScript fills missing localStorage keys when a document of the origin loads
func localStorageScript(o OriginStorage) (string, error) {
	origin, err := json.Marshal(o.Origin)
	if err != nil {
		return "", err
	}
	items, err := json.Marshal(o.LocalStorage)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
  if (location.origin !== %s) return;
  try {
    for (const it of %s) {
      if (localStorage.getItem(it.name) === null) localStorage.setItem(it.name, it.value);
    }
  } catch (e) {}
})();`, origin, items), nil
}

func cookieFromCDP(c *network.Cookie) SessionCookie {
	sc := SessionCookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: string(c.SameSite),
	}
	if c.Session {
		sc.Expires = -1
	}
	return sc
}

func cookieToCDP(c SessionCookie) *network.CookieParam {
	p := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if p.Path == "" {
		p.Path = "/"
	}
	if c.SameSite != "" {
		p.SameSite = network.CookieSameSite(c.SameSite)
	}
	if c.Expires > 0 {
		exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
		p.Expires = &exp
	}
	return p
}

// waitForEnter blocks until a line is read from in or ctx is done
func waitForEnter(ctx context.Context, in io.Reader) error {
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(in).ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil // Closed stdin counts as confirmation
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// originOf returns scheme://host of rawURL, or "" when it cannot be parsed
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
