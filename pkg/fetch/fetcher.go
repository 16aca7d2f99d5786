package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// RetryPolicy bounds the retries of transient failures on a single strategy
type RetryPolicy struct {
	MaxRetries        int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
}

// Fetcher retrieves URLs through an ordered chain of strategies.
// Every attempt passes through the Throttle, and at most one fetch is in flight at a time.
type Fetcher struct {
	chain    []Strategy
	browser  Strategy // Used by FetchVia when the browser is forced, may be nil
	throttle *Throttle
	policy   RetryPolicy
	inflight *semaphore.Weighted
	log      *logrus.Entry

	randInt63n func(int64) int64
}

// BuildChain returns the strategy order for the configured policy:
// browser only, HTTP then browser on a blocking signal, or HTTP alone.
func BuildChain(httpStrategy, browserStrategy Strategy, browserOnly, fallback bool) []Strategy {
	switch {
	case browserOnly && browserStrategy != nil:
		return []Strategy{browserStrategy}
	case fallback && browserStrategy != nil:
		return []Strategy{httpStrategy, browserStrategy}
	default:
		return []Strategy{httpStrategy}
	}
}

// NewFetcher creates a Fetcher. browser may be nil when no browser-based option is enabled.
func NewFetcher(chain []Strategy, browser Strategy, throttle *Throttle, policy RetryPolicy, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		chain:      chain,
		browser:    browser,
		throttle:   throttle,
		policy:     policy,
		inflight:   semaphore.NewWeighted(1),
		log:        log,
		randInt63n: rand.Int63n,
	}
}

// Strategies lists the names of the main chain, in order
func (f *Fetcher) Strategies() []string {
	names := make([]string, len(f.chain))
	for i, s := range f.chain {
		names[i] = s.Name()
	}
	return names
}

// Fetch retrieves rawURL with the main policy.
// On failure the last rejected page (if any) is returned alongside the error for diagnostics.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*models.RawPage, error) {
	return f.fetchChain(ctx, rawURL, f.chain)
}

// FetchVia retrieves rawURL, forcing the browser strategy when preferBrowser is set
func (f *Fetcher) FetchVia(ctx context.Context, rawURL string, preferBrowser bool) (*models.RawPage, error) {
	if !preferBrowser {
		return f.fetchChain(ctx, rawURL, f.chain)
	}
	if f.browser == nil {
		return nil, &FetchError{Kind: KindNetwork, URL: rawURL, Via: "browser", Err: utils.ErrBrowserInit}
	}
	return f.fetchChain(ctx, rawURL, []Strategy{f.browser})
}

// Close releases strategies that hold resources. Safe to call more than once.
func (f *Fetcher) Close() error {
	var errs []error
	seen := make(map[Strategy]bool)
	for _, s := range append(append([]Strategy(nil), f.chain...), f.browser) {
		if s == nil || seen[s] {
			continue
		}
		seen[s] = true
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func (f *Fetcher) fetchChain(ctx context.Context, rawURL string, chain []Strategy) (*models.RawPage, error) {
	if err := f.inflight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.inflight.Release(1)

	host := hostOf(rawURL)
	var lastPage *models.RawPage
	var lastErr error
	for i, s := range chain {
		page, err := f.fetchWithRetry(ctx, s, rawURL, host)
		if err == nil {
			return page, nil
		}
		lastPage, lastErr = page, err

		fe, ok := AsFetchError(err)
		if !ok {
			return page, err // Context cancellation
		}
		if fe.Blocked() && i < len(chain)-1 {
			f.log.WithFields(logrus.Fields{
				"url": rawURL, "from": s.Name(), "to": chain[i+1].Name(), "error_type": utils.CategorizeError(err),
			}).Warn("Blocked, falling back to next fetch strategy")
			continue
		}
		break
	}
	return lastPage, lastErr
}

// fetchWithRetry runs one strategy with exponential backoff and jitter for transient failures
func (f *Fetcher) fetchWithRetry(ctx context.Context, s Strategy, rawURL, host string) (*models.RawPage, error) {
	var lastErr error
	var lastPage *models.RawPage

	reqLog := f.log.WithFields(logrus.Fields{"url": rawURL, "via": s.Name()})
	maxRetries := f.policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		// --- Context Check ---
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// --- Exponential Backoff Delay ---
		if attempt > 0 {
			finalDelay := f.backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": finalDelay}).Warn("Retrying request...")

			timer := time.NewTimer(finalDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		// --- Politeness ---
		if err := f.throttle.Wait(ctx, host); err != nil {
			return nil, err
		}
		page, err := s.Fetch(ctx, rawURL)
		f.throttle.MarkRequest(host)

		if err == nil {
			if attempt > 0 {
				reqLog.WithField("attempt", attempt).Info("Succeeded after retry")
			}
			return page, nil
		}

		fe, ok := AsFetchError(err)
		if !ok {
			return nil, err
		}
		lastErr, lastPage = err, page
		if !fe.Transient() {
			reqLog.WithFields(logrus.Fields{"error_type": fe.Category(), "attempt": attempt}).Debug("Non-retryable fetch failure")
			return page, err
		}
		reqLog.WithFields(logrus.Fields{"error_type": fe.Category(), "attempt": attempt}).Warnf("Transient fetch failure: %v", err)
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	return lastPage, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// backoff computes initial * 2^(attempt-1), capped, with +/-10% jitter
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(f.policy.InitialRetryDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (f.policy.MaxRetryDelay > 0 && delay > f.policy.MaxRetryDelay) {
		delay = f.policy.MaxRetryDelay
	}
	var jitter time.Duration
	if span := int64(delay) / 5; span > 0 {
		jitter = time.Duration(f.randInt63n(span)) - delay/10
	}
	if final := delay + jitter; final > 0 {
		return final
	}
	return 0
}

// hostOf returns the lowercase host of rawURL, used as the throttle key
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.ToLower(u.Host)
}
