package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/parse"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// CandidateSource yields deduplicated candidate URLs, see frontier.Frontier
type CandidateSource interface {
	Next(ctx context.Context) (models.CandidateURL, bool, error)
}

// PolicyGate decides whether a URL may be fetched
type PolicyGate interface {
	IsAllowed(ctx context.Context, rawURL string) (bool, error)
}

// PageFetcher retrieves one page through the configured strategy chain
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.RawPage, error)
}

// ListingParser turns a detail page into a listing
type ListingParser interface {
	Parse(page *models.RawPage, cand models.CandidateURL) (*models.Listing, error)
}

// ListingSink is the part of the store the run loop writes to
type ListingSink interface {
	Upsert(ctx context.Context, l *models.Listing) (bool, error)
	HasSeen(ctx context.Context, adID string) (bool, error)
	RecordRun(ctx context.Context, run models.RunRecord) error
}

// OutcomeLedger records the last outcome per URL. Optional.
type OutcomeLedger interface {
	RecordOutcome(normalizedURL string, entry models.URLOutcomeEntry) error
}

// RunContext bundles the components a single run works with.
// It is built once per run and released by whoever built it.
type RunContext struct {
	RunID    string // Generated when empty
	Frontier CandidateSource
	Robots   PolicyGate
	Fetcher  PageFetcher
	Parser   ListingParser
	Store    ListingSink
	Ledger   OutcomeLedger
}

// Options tune the run loop
type Options struct {
	MaxListings      int  // Stop after this many stored listings, 0 = unbounded
	Force            bool // Refetch ids already present in the store
	ProgressInterval time.Duration
}

// Crawler drives candidates through robots check, fetch, parse and upsert, one at a time
type Crawler struct {
	rc   RunContext
	opts Options
	log  *logrus.Entry
	now  func() time.Time

	stats    models.RunStats
	via      map[string]int
	progress *rate.Sometimes
}

// New creates a Crawler for one run
func New(rc RunContext, opts Options, log *logrus.Entry) *Crawler {
	if rc.RunID == "" {
		rc.RunID = uuid.NewString()
	}
	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Crawler{
		rc:       rc,
		opts:     opts,
		log:      log.WithField("run_id", rc.RunID),
		now:      time.Now,
		via:      make(map[string]int),
		progress: &rate.Sometimes{Interval: interval},
	}
}

// RunID identifies this run in logs, the crawl_runs table and the report
func (c *Crawler) RunID() string { return c.rc.RunID }

// ViaCounts returns how many pages each fetch strategy produced
func (c *Crawler) ViaCounts() map[string]int {
	out := make(map[string]int, len(c.via))
	for k, v := range c.via {
		out[k] = v
	}
	return out
}

// Run consumes the frontier until it is exhausted, the listing cap is reached,
// ctx is cancelled or a fatal error occurs. The run record is persisted on every path
// and returned together with the error that ended the run, if any.
func (c *Crawler) Run(ctx context.Context) (models.RunRecord, error) {
	record := models.RunRecord{RunID: c.rc.RunID, StartedAt: c.now()}
	c.log.WithFields(logrus.Fields{
		"max_listings": c.opts.MaxListings,
		"force":        c.opts.Force,
	}).Info("Crawl starting...")

	runErr := c.loop(ctx)
	if errors.Is(runErr, utils.ErrCapReached) {
		c.stats.Cancelled = true
		runErr = nil
	}

	record.FinishedAt = c.now()
	record.RunStats = c.stats
	// The run row is written even when the run was interrupted
	if err := c.rc.Store.RecordRun(context.WithoutCancel(ctx), record); err != nil {
		c.log.Errorf("Failed to record run: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	c.logSummary(record, runErr)
	return record, runErr
}

func (c *Crawler) loop(ctx context.Context) error {
	for {
		if c.opts.MaxListings > 0 && c.stats.Stored >= c.opts.MaxListings {
			c.log.Infof("Listing cap of %d reached, stopping.", c.opts.MaxListings)
			return utils.ErrCapReached
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		cand, ok, err := c.rc.Frontier.Next(ctx)
		if err != nil {
			return fmt.Errorf("frontier: %w", err)
		}
		if !ok {
			c.log.Info("Frontier exhausted.")
			return nil
		}

		if err := c.processCandidate(ctx, cand); err != nil {
			return err
		}

		c.progress.Do(func() {
			c.log.WithFields(logrus.Fields{
				"fetched":      c.stats.Fetched,
				"stored":       c.stats.Stored,
				"skipped":      c.stats.Skipped,
				"denied":       c.stats.Denied,
				"failed":       c.stats.Failed,
				"parse_failed": c.stats.ParseFailed,
			}).Info("Progress")
		})
	}
}

// processCandidate handles a single candidate. Only errors that must end the run are returned;
// per-URL failures are counted and recorded in the ledger.
func (c *Crawler) processCandidate(ctx context.Context, cand models.CandidateURL) (taskErr error) {
	taskLog := c.log.WithFields(logrus.Fields{"url": cand.URL, "source": cand.Source})
	if cand.AdID != "" {
		taskLog = taskLog.WithField("ad_id", cand.AdID)
	}

	outcome := models.URLOutcomeEntry{Source: cand.Source, AdID: cand.AdID}

	defer func() {
		if r := recover(); r != nil {
			taskLog.WithField("panic_info", r).Error("PANIC recovered while processing candidate")
			c.stats.Failed++
			c.stats.RecordFailure("System_Panic")
			outcome.State = models.URLStateFetchFailed
			outcome.ErrorType = "System_Panic"
			taskErr = nil
		}
		if outcome.State != "" {
			c.recordOutcome(taskLog, cand.URL, outcome)
		}
	}()

	if cand.AdID != "" && !c.opts.Force {
		seen, err := c.rc.Store.HasSeen(ctx, cand.AdID)
		if err != nil {
			return fmt.Errorf("checking %s: %w", cand.AdID, err)
		}
		if seen {
			taskLog.Debug("Already stored, skipping.")
			c.stats.Skipped++
			outcome.State = models.URLStateSkipped
			return nil
		}
	}

	allowed, err := c.rc.Robots.IsAllowed(ctx, cand.URL)
	if err != nil {
		return err
	}
	if !allowed {
		taskLog.Info("Disallowed by robots.txt.")
		c.stats.Denied++
		outcome.State = models.URLStateDenied
		outcome.ErrorType = utils.CategorizeError(utils.ErrRobotsDisallowed)
		return nil
	}

	page, err := c.rc.Fetcher.Fetch(ctx, cand.URL)
	if page != nil {
		outcome.Via = page.Via
	}
	if err != nil {
		if ctx.Err() != nil || utils.IsFatal(err) {
			return err
		}
		category := utils.CategorizeError(err)
		taskLog.WithField("error_type", category).Warnf("Fetch failed: %v", err)
		c.stats.Failed++
		c.stats.RecordFailure(category)
		outcome.State = models.URLStateFetchFailed
		outcome.ErrorType = category
		return nil
	}
	c.stats.Fetched++
	c.via[page.Via]++

	listing, err := c.rc.Parser.Parse(page, cand)
	if err != nil {
		category := utils.CategorizeError(err)
		taskLog.WithField("error_type", category).Warnf("Parse failed: %v", err)
		c.stats.ParseFailed++
		c.stats.RecordFailure(category)
		outcome.State = models.URLStateParseFailed
		outcome.ErrorType = category
		return nil
	}
	outcome.AdID = listing.AdID

	created, err := c.rc.Store.Upsert(ctx, listing)
	if err != nil {
		return fmt.Errorf("storing %s: %w", listing.AdID, err)
	}
	c.stats.Stored++
	outcome.State = models.URLStateStored
	taskLog.WithFields(logrus.Fields{"ad_id": listing.AdID, "created": created, "via": page.Via}).Info("Listing stored.")
	return nil
}

func (c *Crawler) recordOutcome(taskLog *logrus.Entry, rawURL string, outcome models.URLOutcomeEntry) {
	if c.rc.Ledger == nil {
		return
	}
	key := rawURL
	if normalized, _, err := parse.ParseAndNormalize(rawURL); err == nil {
		key = normalized
	}
	outcome.LastAttempt = c.now()
	if err := c.rc.Ledger.RecordOutcome(key, outcome); err != nil {
		taskLog.Warnf("Failed to record URL outcome: %v", err)
	}
}

func (c *Crawler) logSummary(record models.RunRecord, runErr error) {
	summaryLog := c.log.WithField("duration", record.FinishedAt.Sub(record.StartedAt).Round(time.Millisecond))
	summaryLog.Info("========================================================================")
	summaryLog.Info("CRAWL FINISHED")
	summaryLog.Infof("  Fetched: %d | Stored: %d | Skipped: %d", record.Fetched, record.Stored, record.Skipped)
	summaryLog.Infof("  Denied: %d | Failed: %d | Parse failed: %d", record.Denied, record.Failed, record.ParseFailed)
	if record.Cancelled {
		summaryLog.Info("  Stopped early: listing cap reached")
	}
	for category, n := range record.FailureCategories {
		summaryLog.Infof("  Failure %s: %d", category, n)
	}
	if runErr != nil {
		summaryLog.Errorf("  Run ended with error: %v", runErr)
	}
	summaryLog.Info("========================================================================")
}
