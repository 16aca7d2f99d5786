package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// AppName is used for the XDG data directory and the default user agent suffix
const AppName = "classifieds-crawler"

// DefaultUserAgent mimics a desktop Chrome; the target serves challenge pages to obvious bots
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// Frontier source names accepted in source_priority
const (
	SourceSitemap  = "sitemap"
	SourceCategory = "category"
)

// SiteConfig describes the crawled classifieds site
type SiteConfig struct {
	BaseURL          string   `yaml:"base_url"`
	Categories       []string `yaml:"categories"`                  // Category path segments, e.g. "szemelyauto"
	UserAgent        string   `yaml:"user_agent,omitempty"`        // Also the agent evaluated against robots.txt
	SitemapIndexPath string   `yaml:"sitemap_index_path,omitempty"` // Relative to base_url
	BlockedPhrases   []string `yaml:"blocked_phrases,omitempty"`   // Lowercase challenge-page signatures
}

// AppConfig holds the global application configuration
type AppConfig struct {
	Site SiteConfig `yaml:"site"`

	// Frontier
	MaxListings    int      `yaml:"max_listings"` // Cap on stored listings per run
	MaxPages       int      `yaml:"max_pages"`    // Listing pages per category
	NoSitemap      bool     `yaml:"no_sitemap,omitempty"`
	NoCategory     bool     `yaml:"no_category,omitempty"`
	SourcePriority []string `yaml:"source_priority,omitempty"` // Order in which sources are drained
	Force          bool     `yaml:"force,omitempty"`           // Refetch ids already in the store

	// Fetch policy
	UseBrowserStrategy bool          `yaml:"use_browser_strategy,omitempty"` // HTTP first, browser on Blocked
	BrowserOnly        bool          `yaml:"browser_only,omitempty"`
	SitemapViaBrowser  bool          `yaml:"sitemap_via_browser,omitempty"`
	Headful            bool          `yaml:"headful,omitempty"`
	Delay              time.Duration `yaml:"delay"`
	Jitter             time.Duration `yaml:"jitter"`
	MaxRetries         int           `yaml:"max_retries,omitempty"`
	InitialRetryDelay  time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay,omitempty"`

	// Session
	ManualAuth       bool   `yaml:"manual_auth,omitempty"`
	AuthURL          string `yaml:"auth_url,omitempty"`
	StorageState     string `yaml:"storage_state,omitempty"`      // Session file loaded at start
	SaveStorageState string `yaml:"save_storage_state,omitempty"` // Session file written after manual auth

	// Output
	Database         string        `yaml:"database"` // SQLite path or postgres:// URL
	StoreHTML        bool          `yaml:"store_html,omitempty"`
	ReportPath       string        `yaml:"report,omitempty"`
	DebugDir         string        `yaml:"debug_dir,omitempty"`
	StateDir         string        `yaml:"state_dir"` // Watch state
	ProgressInterval time.Duration `yaml:"progress_interval,omitempty"`

	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	BrowserSettings    BrowserConfig    `yaml:"browser_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// BrowserConfig holds settings for the scripted browser context
type BrowserConfig struct {
	ExecPath          string        `yaml:"exec_path,omitempty"` // Chrome binary, auto-detected when empty
	Locale            string        `yaml:"locale,omitempty"`
	Timezone          string        `yaml:"timezone,omitempty"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout,omitempty"`
	SettleDelay       time.Duration `yaml:"settle_delay,omitempty"` // Wait after load for client-side rendering
}

// DataDir returns the per-user data directory used for default paths
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// BrowserEnabled reports whether any configured path needs the browser strategy.
// browser_only implies the browser is enabled.
func (c *AppConfig) BrowserEnabled() bool {
	return c.UseBrowserStrategy || c.BrowserOnly || c.SitemapViaBrowser || c.ManualAuth
}

// EffectiveAuthURL is the page opened for manual authentication
func (c *AppConfig) EffectiveAuthURL() string {
	if c.AuthURL != "" {
		return c.AuthURL
	}
	return CategoryURL(c.Site.BaseURL, c.Site.Categories[0])
}

// EffectiveSaveStorageState is where manual auth writes the session.
// Falls back to storage_state, then to the data dir.
func (c *AppConfig) EffectiveSaveStorageState() string {
	if c.SaveStorageState != "" {
		return c.SaveStorageState
	}
	if c.StorageState != "" {
		return c.StorageState
	}
	return filepath.Join(DataDir(), "storage_state.json")
}

// SourceEnabled reports whether a frontier source takes part in the run
func (c *AppConfig) SourceEnabled(source string) bool {
	switch source {
	case SourceSitemap:
		return !c.NoSitemap
	case SourceCategory:
		return !c.NoCategory
	}
	return false
}

// SitemapIndexURL is the sitemap root for the site
func (c *SiteConfig) SitemapIndexURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(c.SitemapIndexPath, "/")
}

// CategoryURL joins a base URL and a category path segment
func CategoryURL(baseURL, category string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.Trim(category, "/")
}
