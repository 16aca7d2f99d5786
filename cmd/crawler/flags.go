package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/classifieds-crawler/pkg/config"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// addCrawlFlags registers the crawl options shared by crawl, auth, watch and serve.
// Defaults shown here match the ones Validate applies; only flags the user sets override
// the file and environment.
func addCrawlFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	// Target
	f.String("base-url", "https://www.hasznaltauto.hu", "Site root")
	f.StringSlice("category", []string{"szemelyauto"}, "Category path segment (repeatable)")
	f.String("user-agent", "", "User agent for requests and robots.txt matching (default desktop Chrome)")

	// Frontier
	f.Int("max-listings", 500, "Stop after this many stored listings")
	f.Int("max-pages", 1, "Listing pages per category")
	f.Bool("no-sitemap", false, "Disable sitemap discovery")
	f.Bool("no-category", false, "Disable category page discovery")
	f.StringSlice("source-priority", []string{config.SourceSitemap, config.SourceCategory}, "Order in which discovery sources are drained")
	f.Bool("force", false, "Refetch listings already in the store")

	// Fetching
	f.Bool("use-browser-strategy", false, "Fall back to a scripted browser when HTTP is blocked")
	f.Bool("browser-only", false, "Fetch every page with the browser")
	f.Bool("sitemap-via-browser", false, "Fetch sitemap documents with the browser")
	f.Bool("headful", false, "Show the browser window")
	f.String("delay", "1s", "Minimum spacing between requests to a host (e.g. 1.5 or 1500ms)")
	f.String("jitter", "0.5s", "Random extra spacing added to delay, up to this bound")
	f.String("timeout", "20s", "Per-request timeout")
	f.Int("max-retries", 3, "Retries for transient fetch errors")

	// Session
	f.Bool("manual-auth", false, "Open a browser for a one-time manual challenge before crawling")
	f.String("auth-url", "", "Page opened for manual auth (default first category page)")
	f.String("storage-state", "", "Session file loaded at start")
	f.String("save-storage-state", "", "Session file written after manual auth")

	// Output
	f.String("database", "", "SQLite path or postgres:// URL (default in the XDG data dir)")
	f.Bool("store-html", false, "Keep the raw HTML of each listing")
	f.String("report", "", "Write a Markdown run report to this path")
	f.String("debug-dir", "", "Directory for dumps of unexpected pages and the URL outcome ledger")
	f.String("state-dir", "", "Directory for watch state (default in the XDG data dir)")
}

type flagBinding struct {
	name  string
	apply func(cmd *cobra.Command, c *config.AppConfig) error
}

var flagBindings = []flagBinding{
	stringFlag("base-url", func(c *config.AppConfig) *string { return &c.Site.BaseURL }),
	sliceFlag("category", func(c *config.AppConfig) *[]string { return &c.Site.Categories }),
	stringFlag("user-agent", func(c *config.AppConfig) *string { return &c.Site.UserAgent }),
	intFlag("max-listings", func(c *config.AppConfig) *int { return &c.MaxListings }),
	intFlag("max-pages", func(c *config.AppConfig) *int { return &c.MaxPages }),
	boolFlag("no-sitemap", func(c *config.AppConfig) *bool { return &c.NoSitemap }),
	boolFlag("no-category", func(c *config.AppConfig) *bool { return &c.NoCategory }),
	sliceFlag("source-priority", func(c *config.AppConfig) *[]string { return &c.SourcePriority }),
	boolFlag("force", func(c *config.AppConfig) *bool { return &c.Force }),
	boolFlag("use-browser-strategy", func(c *config.AppConfig) *bool { return &c.UseBrowserStrategy }),
	boolFlag("browser-only", func(c *config.AppConfig) *bool { return &c.BrowserOnly }),
	boolFlag("sitemap-via-browser", func(c *config.AppConfig) *bool { return &c.SitemapViaBrowser }),
	boolFlag("headful", func(c *config.AppConfig) *bool { return &c.Headful }),
	durationFlag("delay", func(c *config.AppConfig) *time.Duration { return &c.Delay }),
	durationFlag("jitter", func(c *config.AppConfig) *time.Duration { return &c.Jitter }),
	durationFlag("timeout", func(c *config.AppConfig) *time.Duration { return &c.HTTPClientSettings.Timeout }),
	intFlag("max-retries", func(c *config.AppConfig) *int { return &c.MaxRetries }),
	boolFlag("manual-auth", func(c *config.AppConfig) *bool { return &c.ManualAuth }),
	stringFlag("auth-url", func(c *config.AppConfig) *string { return &c.AuthURL }),
	stringFlag("storage-state", func(c *config.AppConfig) *string { return &c.StorageState }),
	stringFlag("save-storage-state", func(c *config.AppConfig) *string { return &c.SaveStorageState }),
	stringFlag("database", func(c *config.AppConfig) *string { return &c.Database }),
	boolFlag("store-html", func(c *config.AppConfig) *bool { return &c.StoreHTML }),
	stringFlag("report", func(c *config.AppConfig) *string { return &c.ReportPath }),
	stringFlag("debug-dir", func(c *config.AppConfig) *string { return &c.DebugDir }),
	stringFlag("state-dir", func(c *config.AppConfig) *string { return &c.StateDir }),
}

// applyFlags copies every flag the user set on cmd into c
func applyFlags(cmd *cobra.Command, c *config.AppConfig) error {
	for _, b := range flagBindings {
		if cmd.Flags().Lookup(b.name) == nil || !cmd.Flags().Changed(b.name) {
			continue
		}
		if err := b.apply(cmd, c); err != nil {
			return fmt.Errorf("%w: --%s: %w", utils.ErrConfigValidation, b.name, err)
		}
	}
	return nil
}

func stringFlag(name string, field func(*config.AppConfig) *string) flagBinding {
	return flagBinding{name, func(cmd *cobra.Command, c *config.AppConfig) error {
		v, err := cmd.Flags().GetString(name)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}}
}

func sliceFlag(name string, field func(*config.AppConfig) *[]string) flagBinding {
	return flagBinding{name, func(cmd *cobra.Command, c *config.AppConfig) error {
		v, err := cmd.Flags().GetStringSlice(name)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}}
}

func intFlag(name string, field func(*config.AppConfig) *int) flagBinding {
	return flagBinding{name, func(cmd *cobra.Command, c *config.AppConfig) error {
		v, err := cmd.Flags().GetInt(name)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}}
}

func boolFlag(name string, field func(*config.AppConfig) *bool) flagBinding {
	return flagBinding{name, func(cmd *cobra.Command, c *config.AppConfig) error {
		v, err := cmd.Flags().GetBool(name)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}}
}

// durationFlag accepts Go durations and plain seconds ("1.5")
func durationFlag(name string, field func(*config.AppConfig) *time.Duration) flagBinding {
	return flagBinding{name, func(cmd *cobra.Command, c *config.AppConfig) error {
		v, err := cmd.Flags().GetString(name)
		if err != nil {
			return err
		}
		d, err := config.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}}
}
