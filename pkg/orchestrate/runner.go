package orchestrate

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/classifieds-crawler/pkg/config"
	"github.com/Sriram-PR/classifieds-crawler/pkg/crawler"
	"github.com/Sriram-PR/classifieds-crawler/pkg/extract"
	"github.com/Sriram-PR/classifieds-crawler/pkg/fetch"
	"github.com/Sriram-PR/classifieds-crawler/pkg/frontier"
	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/sitemap"
	"github.com/Sriram-PR/classifieds-crawler/pkg/storage"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// RunResult contains the outcome of one crawl run
type RunResult struct {
	Record     models.RunRecord
	ReportPath string // Empty when no report was requested or writing it failed
	LedgerPath string // Empty without a debug dir
	Error      error
	Duration   time.Duration
}

// Success reports whether the run ended without a fatal error
func (r *RunResult) Success() bool { return r.Error == nil }

// Runner builds the component graph for a run from configuration and releases it afterwards.
// The same Runner serves the crawl command, watch mode and MCP crawl jobs.
type Runner struct {
	cfg *config.AppConfig
	log *logrus.Entry

	// Terminal used by manual auth
	In  io.Reader
	Out io.Writer

	// OpenStore overrides how the listing store is opened; storage.Open by default
	OpenStore func(ctx context.Context, database string, log *logrus.Entry) (storage.ListingStore, error)
}

// NewRunner creates a Runner for a validated configuration
func NewRunner(cfg *config.AppConfig, log *logrus.Entry) *Runner {
	return &Runner{
		cfg:       cfg,
		log:       log,
		In:        os.Stdin,
		Out:       os.Stdout,
		OpenStore: storage.Open,
	}
}

// fetchStack is the fetch side of a run; close releases the browser on every path
type fetchStack struct {
	fetcher *fetch.Fetcher
	browser *fetch.BrowserStrategy // nil when no browser-based option is enabled
}

func (s *fetchStack) close(log *logrus.Entry) {
	if err := s.fetcher.Close(); err != nil {
		log.Warnf("Error closing fetch strategies: %v", err)
	}
}

// Crawl performs one complete run: open store, set up fetching (and the one-shot manual auth),
// load robots.txt, build the frontier, run the crawl loop, then write ledger and report.
func (r *Runner) Crawl(ctx context.Context) *RunResult {
	start := time.Now()
	result := &RunResult{}
	defer func() { result.Duration = time.Since(start) }()

	store, err := r.OpenStore(ctx, r.cfg.Database, r.log)
	if err != nil {
		result.Error = utils.WrapErrorf(err, "open store")
		return result
	}
	defer func() {
		if err := store.Close(); err != nil {
			r.log.Errorf("Error closing store: %v", err)
		}
	}()

	visited, err := storage.NewVisitedSet(r.log)
	if err != nil {
		result.Error = err
		return result
	}
	defer visited.Close()

	stack, err := r.buildFetchStack(ctx)
	if err != nil {
		result.Error = err
		return result
	}
	defer stack.close(r.log)

	robots := fetch.NewRobotsGate(stack.fetcher, r.cfg.Site.UserAgent, r.log.WithField("component", "robots"))
	if err := robots.Load(ctx, r.cfg.Site.BaseURL); err != nil {
		result.Error = err
		return result
	}

	fr := frontier.New(r.buildSources(stack.fetcher, robots), visited, r.log.WithField("component", "frontier"))
	parser := extract.NewParser(extract.Options{
		BaseURL:   r.cfg.Site.BaseURL,
		StoreHTML: r.cfg.StoreHTML,
	}, r.log.WithField("component", "parser"))

	c := crawler.New(crawler.RunContext{
		Frontier: fr,
		Robots:   robots,
		Fetcher:  stack.fetcher,
		Parser:   parser,
		Store:    store,
		Ledger:   visited,
	}, crawler.Options{
		MaxListings:      r.cfg.MaxListings,
		Force:            r.cfg.Force,
		ProgressInterval: r.cfg.ProgressInterval,
	}, r.log.WithField("component", "crawler"))

	result.Record, result.Error = c.Run(ctx)
	r.log.WithFields(logrus.Fields{
		"visited":  visited.VisitedCount(),
		"outcomes": visited.OutcomeCount(),
	}).Debug("Visited set at end of run")

	// Ledger and report are written even for interrupted runs
	finishCtx := context.WithoutCancel(ctx)
	if r.cfg.DebugDir != "" {
		path := filepath.Join(r.cfg.DebugDir, fmt.Sprintf("url_outcomes_%s.jsonl", c.RunID()))
		if n, err := visited.WriteLedger(finishCtx, path); err != nil {
			r.log.Warnf("Failed to write URL ledger: %v", err)
		} else {
			result.LedgerPath = path
			r.log.WithFields(logrus.Fields{"path": path, "entries": n}).Info("URL ledger written")
		}
	}
	if r.cfg.ReportPath != "" {
		data := crawler.ReportData{
			Record:     result.Record,
			BaseURL:    r.cfg.Site.BaseURL,
			Categories: r.cfg.Site.Categories,
			Database:   redactDSN(r.cfg.Database),
			Strategies: stack.fetcher.Strategies(),
			Via:        c.ViaCounts(),
			Sources:    fr.Stats().BySource,
			LedgerPath: result.LedgerPath,
			RunErr:     result.Error,
		}
		if err := crawler.WriteReport(r.cfg.ReportPath, data); err != nil {
			r.log.Warnf("Failed to write report: %v", err)
		} else {
			result.ReportPath = r.cfg.ReportPath
			r.log.WithField("path", r.cfg.ReportPath).Info("Report written")
		}
	}
	return result
}

// buildFetchStack creates the HTTP and browser strategies, restores the saved session and
// runs manual auth when requested. The returned stack owns the browser.
func (r *Runner) buildFetchStack(ctx context.Context) (*fetchStack, error) {
	fetchLog := r.log.WithField("component", "fetch")
	site := r.cfg.Site

	session := r.loadSession(fetchLog)
	jar := fetch.NewCookieJar()
	if session != nil {
		n := session.ApplyToJar(jar, time.Now())
		fetchLog.WithField("cookies", n).Info("Session cookies loaded for HTTP")
	}

	client := fetch.NewClient(r.cfg.HTTPClientSettings, jar, fetchLog)
	httpStrategy := fetch.NewHTTPStrategy(client, site.UserAgent, site.BlockedPhrases, fetchLog)

	var (
		browser         *fetch.BrowserStrategy
		browserStrategy fetch.Strategy
	)
	if r.cfg.BrowserEnabled() {
		browser = r.newBrowser(fetchLog)
		if err := browser.Start(ctx, session); err != nil {
			return nil, err
		}
		browserStrategy = browser
	}

	if r.cfg.ManualAuth {
		s, err := r.manualAuth(ctx, browser)
		if err != nil {
			_ = browser.Close()
			return nil, err
		}
		s.ApplyToJar(jar, time.Now())
	}

	chain := fetch.BuildChain(httpStrategy, browserStrategy, r.cfg.BrowserOnly, r.cfg.UseBrowserStrategy)
	throttle := fetch.NewThrottle(r.cfg.Delay, r.cfg.Jitter, fetchLog)
	fetcher := fetch.NewFetcher(chain, browserStrategy, throttle, fetch.RetryPolicy{
		MaxRetries:        r.cfg.MaxRetries,
		InitialRetryDelay: r.cfg.InitialRetryDelay,
		MaxRetryDelay:     r.cfg.MaxRetryDelay,
	}, fetchLog)
	fetchLog.WithField("chain", fetcher.Strategies()).Info("Fetch chain ready")

	return &fetchStack{fetcher: fetcher, browser: browser}, nil
}

func (r *Runner) newBrowser(log *logrus.Entry) *fetch.BrowserStrategy {
	b := r.cfg.BrowserSettings
	return fetch.NewBrowserStrategy(fetch.BrowserOptions{
		Headful:           r.cfg.Headful,
		ExecPath:          b.ExecPath,
		UserAgent:         r.cfg.Site.UserAgent,
		Locale:            b.Locale,
		Timezone:          b.Timezone,
		NavigationTimeout: b.NavigationTimeout,
		SettleDelay:       b.SettleDelay,
		BlockedPhrases:    r.cfg.Site.BlockedPhrases,
	}, log.WithField("strategy", "browser"))
}

// loadSession reads storage_state when configured. A missing or unreadable file is logged, not fatal.
func (r *Runner) loadSession(log *logrus.Entry) *fetch.Session {
	if r.cfg.StorageState == "" {
		return nil
	}
	s, err := fetch.LoadSession(r.cfg.StorageState)
	if err != nil {
		log.WithField("path", r.cfg.StorageState).Warnf("Continuing without saved session: %v", err)
		return nil
	}
	log.WithFields(logrus.Fields{"path": r.cfg.StorageState, "cookies": len(s.Cookies)}).Info("Session loaded")
	return s
}

// manualAuth runs the interactive challenge step once and persists the captured session
func (r *Runner) manualAuth(ctx context.Context, browser *fetch.BrowserStrategy) (*fetch.Session, error) {
	authURL := r.cfg.EffectiveAuthURL()
	s, err := browser.ManualAuth(ctx, authURL, r.In, r.Out)
	if err != nil {
		return nil, utils.WrapErrorf(err, "manual auth at %s", authURL)
	}
	path := r.cfg.EffectiveSaveStorageState()
	if err := s.Save(path); err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"path": path, "cookies": len(s.Cookies)}).Info("Session saved after manual auth")
	return s, nil
}

// Authenticate is the standalone one-shot auth step: it opens a browser, waits for the
// operator and saves the session without crawling.
func (r *Runner) Authenticate(ctx context.Context) (string, error) {
	fetchLog := r.log.WithField("component", "fetch")
	browser := r.newBrowser(fetchLog)
	if err := browser.Start(ctx, r.loadSession(fetchLog)); err != nil {
		return "", err
	}
	defer browser.Close()

	if _, err := r.manualAuth(ctx, browser); err != nil {
		return "", err
	}
	return r.cfg.EffectiveSaveStorageState(), nil
}

// buildSources returns the enabled frontier sources in configured priority order
func (r *Runner) buildSources(fetcher *fetch.Fetcher, robots *fetch.RobotsGate) []frontier.Source {
	site := r.cfg.Site
	matcher := extract.NewDetailMatcher(site.Categories)

	var sources []frontier.Source
	for _, name := range r.cfg.SourcePriority {
		if !r.cfg.SourceEnabled(name) {
			continue
		}
		switch name {
		case config.SourceSitemap:
			sources = append(sources, sitemap.NewWalker(sitemap.Config{
				IndexURL:   site.SitemapIndexURL(),
				Matcher:    matcher,
				ViaBrowser: r.cfg.SitemapViaBrowser,
				DebugDir:   r.cfg.DebugDir,
			}, fetcher, robots, r.log.WithField("component", "sitemap")))
		case config.SourceCategory:
			sources = append(sources, frontier.NewCategoryPager(frontier.PagerConfig{
				BaseURL:    site.BaseURL,
				Categories: site.Categories,
				MaxPages:   r.cfg.MaxPages,
				DebugDir:   r.cfg.DebugDir,
			}, fetcher, robots, r.log.WithField("component", "category")))
		}
	}
	return sources
}

// redactDSN hides the password of a postgres URL for reports and logs
func redactDSN(database string) string {
	if !storage.IsPostgresDSN(database) {
		return database
	}
	u, err := url.Parse(database)
	if err != nil {
		return "postgres"
	}
	return u.Redacted()
}
