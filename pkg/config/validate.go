package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// DefaultBlockedPhrases are challenge-page signatures matched against the lowercased body
var DefaultBlockedPhrases = []string{
	"ellenor",
	"nem vagy robot",
	"verification",
	"access denied",
	"too many requests",
}

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	siteWarnings, err := c.Site.Validate()
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, siteWarnings...)

	// MaxListings
	if c.MaxListings < 0 {
		warnings = append(warnings, "max_listings cannot be negative, defaulting to 500")
		c.MaxListings = 500
	}
	if c.MaxListings == 0 {
		c.MaxListings = 500
	}

	// MaxPages
	if c.MaxPages < 0 {
		warnings = append(warnings, "max_pages cannot be negative, defaulting to 1")
		c.MaxPages = 1
	}
	if c.MaxPages == 0 {
		c.MaxPages = 1
	}

	// Sources
	if len(c.SourcePriority) == 0 {
		c.SourcePriority = []string{SourceSitemap, SourceCategory}
	}
	seen := make(map[string]bool, len(c.SourcePriority))
	for i, s := range c.SourcePriority {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != SourceSitemap && s != SourceCategory {
			return nil, fmt.Errorf("%w: unknown source %q in source_priority", utils.ErrConfigValidation, s)
		}
		if seen[s] {
			return nil, fmt.Errorf("%w: source %q listed twice in source_priority", utils.ErrConfigValidation, s)
		}
		seen[s] = true
		c.SourcePriority[i] = s
	}
	for _, s := range []string{SourceSitemap, SourceCategory} {
		if !seen[s] {
			c.SourcePriority = append(c.SourcePriority, s)
		}
	}
	if c.NoSitemap && c.NoCategory {
		return nil, fmt.Errorf("%w: both sitemap and category discovery are disabled", utils.ErrConfigValidation)
	}

	// Politeness
	if c.Delay < 0 {
		warnings = append(warnings, "delay cannot be negative, defaulting to 1s")
		c.Delay = DefaultDelay
	}
	if c.Delay == 0 {
		warnings = append(warnings, "delay of 0 is not allowed, defaulting to 1s")
		c.Delay = DefaultDelay
	}
	if c.Jitter < 0 {
		warnings = append(warnings, "jitter cannot be negative, setting to 0")
		c.Jitter = 0
	}
	if c.Jitter > c.Delay {
		warnings = append(warnings, fmt.Sprintf(
			"jitter (%v) exceeds delay (%v), spacing may drop to zero", c.Jitter, c.Delay))
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// Browser flags
	if c.BrowserOnly && c.UseBrowserStrategy {
		warnings = append(warnings, "browser_only makes use_browser_strategy redundant, HTTP is skipped entirely")
	}
	if c.Headful && !c.BrowserEnabled() {
		warnings = append(warnings, "headful has no effect without a browser-based option")
	}
	if c.SaveStorageState != "" && !c.ManualAuth {
		warnings = append(warnings, "save_storage_state is only written by manual auth")
	}

	// Paths
	if c.Database == "" {
		c.Database = filepath.Join(DataDir(), "listings.sqlite")
	}
	if c.StateDir == "" {
		c.StateDir = filepath.Join(DataDir(), "state")
	}

	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 30 * time.Second
	}

	c.validateHTTPClientSettings()
	c.validateBrowserSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 20 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 10
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// validateBrowserSettings applies defaults to the browser context settings.
func (c *AppConfig) validateBrowserSettings() {
	b := &c.BrowserSettings
	if b.Locale == "" {
		b.Locale = "hu-HU"
	}
	if b.Timezone == "" {
		b.Timezone = "Europe/Budapest"
	}
	if b.NavigationTimeout <= 0 {
		// Browser navigation includes script execution, give it more room than a plain request
		b.NavigationTimeout = 2 * c.HTTPClientSettings.Timeout
	}
	if b.SettleDelay < 0 {
		b.SettleDelay = 0
	}
}

// Validate checks SiteConfig fields and applies defaults.
func (c *SiteConfig) Validate() (warnings []string, err error) {
	if c.BaseURL == "" {
		c.BaseURL = "https://www.hasznaltauto.hu"
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: base_url %q is not an absolute http(s) URL", utils.ErrConfigValidation, c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	// Categories
	cleaned := c.Categories[:0]
	for _, cat := range c.Categories {
		cat = strings.Trim(strings.TrimSpace(cat), "/")
		if cat == "" {
			warnings = append(warnings, "ignoring empty category")
			continue
		}
		cleaned = append(cleaned, cat)
	}
	c.Categories = cleaned
	if len(c.Categories) == 0 {
		c.Categories = []string{"szemelyauto"}
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.SitemapIndexPath == "" {
		c.SitemapIndexPath = "/sitemap/sitemap_index.xml"
	}
	if len(c.BlockedPhrases) == 0 {
		c.BlockedPhrases = append([]string(nil), DefaultBlockedPhrases...)
	} else {
		for i, p := range c.BlockedPhrases {
			c.BlockedPhrases[i] = strings.ToLower(strings.TrimSpace(p))
		}
	}

	return warnings, nil
}
