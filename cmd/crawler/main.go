// Package main provides the entry point for the classifieds crawler CLI.
//
// Usage:
//
//	crawler crawl --category szemelyauto --max-listings 100
//	crawler auth --save-storage-state state.json
//	crawler watch --interval 6h
//	crawler serve --transport stdio
//
// See --help for all available options.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/classifieds-crawler/pkg/config"
	applog "github.com/Sriram-PR/classifieds-crawler/pkg/log"
)

func main() {
	Execute()
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawler",
		Short: "Polite crawler for used-car classifieds",
		Long: `crawler discovers listing pages of a classifieds site through its sitemap and
category pages, fetches each allowed page at a throttled pace, extracts a typed
listing and upserts it into SQLite or PostgreSQL keyed by ad id.

Configuration precedence: flags > CRAWLER_* environment (.env included) > config file > defaults.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Path to YAML config file (optional)")
	cmd.PersistentFlags().String("loglevel", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("env-file", ".env", "Dotenv file loaded into the environment when present")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewAuthCmd())
	cmd.AddCommand(NewWatchCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log, err := applog.NewLogger(logLevelStr, os.Stderr)
	if err != nil {
		log, _ = applog.NewLogger("info", os.Stderr)
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
		return log
	}
	log.Debugf("Setting log level to: %s", log.GetLevel().String())
	return log
}

// loggerFor builds the logger from the inherited --loglevel flag
func loggerFor(cmd *cobra.Command) *logrus.Logger {
	level, err := cmd.Flags().GetString("loglevel")
	if err != nil {
		level = "info"
	}
	return setupLogger(level)
}

// buildConfig loads .env, the config file and CRAWLER_* overrides, applies the flags the
// user set, runs overrides and validates. Validation warnings are logged.
func buildConfig(cmd *cobra.Command, log *logrus.Logger, overrides ...func(*config.AppConfig)) (*config.AppConfig, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		loaded, err := config.LoadDotEnv(envFile)
		if err != nil {
			return nil, err
		}
		if loaded {
			log.Debugf("Loaded environment from %s", envFile)
		}
	}

	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		log.Infof("Loading configuration from %s", configPath)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}

	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Warn(w)
	}
	return cfg, nil
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Site: %s, Categories: %v, Sources: %v (sitemap:%t, category:%t)",
		appCfg.Site.BaseURL, appCfg.Site.Categories, appCfg.SourcePriority,
		appCfg.SourceEnabled(config.SourceSitemap), appCfg.SourceEnabled(config.SourceCategory))
	log.Infof("Limits: MaxListings:%d, MaxPages:%d, Force:%t",
		appCfg.MaxListings, appCfg.MaxPages, appCfg.Force)
	log.Infof("Politeness: Delay:%v, Jitter:%v, Retries Max:%d InitialDelay:%v MaxDelay:%v",
		appCfg.Delay, appCfg.Jitter, appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Fetch: UseBrowserStrategy:%t, BrowserOnly:%t, SitemapViaBrowser:%t, Headful:%t, ManualAuth:%t",
		appCfg.UseBrowserStrategy, appCfg.BrowserOnly, appCfg.SitemapViaBrowser, appCfg.Headful, appCfg.ManualAuth)
	log.Infof("HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns,
		appCfg.HTTPClientSettings.MaxIdleConnsPerHost, appCfg.HTTPClientSettings.TLSHandshakeTimeout,
		appCfg.HTTPClientSettings.DialerTimeout)
	log.Infof("Output: StoreHTML:%t, Report:'%s', DebugDir:'%s', StorageState:'%s'",
		appCfg.StoreHTML, appCfg.ReportPath, appCfg.DebugDir, appCfg.StorageState)
}
