package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/classifieds-crawler/pkg/orchestrate"
)

// NewCrawlCmd creates the crawl command
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl",
		Long: `Run one crawl: load robots.txt, discover listing URLs from the sitemap and category
pages, fetch each allowed URL and upsert the parsed listing.

Ads already in the store are skipped unless --force is set. The run stops gracefully once
--max-listings listings have been stored.

Examples:
  # Crawl passenger cars, at most 100 listings
  crawler crawl --category szemelyauto --max-listings 100

  # Category pages only, three pages deep, into PostgreSQL
  crawler crawl --no-sitemap --max-pages 3 --database postgres://crawler@localhost/ads

  # Solve a challenge once in a visible browser, then crawl with browser fallback
  crawler crawl --manual-auth --use-browser-strategy --report run.md`,
		Args: cobra.NoArgs,
		RunE: runCrawlCmd,
	}
	addCrawlFlags(cmd)
	cmd.Flags().String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	return cmd
}

func runCrawlCmd(cmd *cobra.Command, _ []string) error {
	log := loggerFor(cmd)
	appCfg, err := buildConfig(cmd, log)
	if err != nil {
		return err
	}
	logAppConfig(appCfg, log)

	pprofAddr, _ := cmd.Flags().GetString("pprof")
	startPprof(pprofAddr, log)

	ctx, stop := signalContext(cmd.Context(), log)
	defer stop()

	runner := orchestrate.NewRunner(appCfg, log.WithField("component", "run"))
	runner.In = cmd.InOrStdin()
	runner.Out = cmd.OutOrStdout()

	return crawlExit(runner.Crawl(ctx), log)
}

// crawlExit maps a run result to the command error. Cancellation by signal is a clean exit.
func crawlExit(res *orchestrate.RunResult, log *logrus.Logger) error {
	entry := log.WithField("duration", res.Duration.Round(time.Millisecond))
	if res.ReportPath != "" {
		entry = entry.WithField("report", res.ReportPath)
	}
	if res.LedgerPath != "" {
		entry = entry.WithField("ledger", res.LedgerPath)
	}

	switch {
	case res.Error == nil:
		entry.Info("Crawl completed successfully.")
		return nil
	case errors.Is(res.Error, context.Canceled):
		entry.Warn("Crawl cancelled gracefully.")
		return nil
	default:
		entry.Errorf("Crawl finished with error: %v", res.Error)
		return res.Error
	}
}

// signalContext cancels on SIGINT/SIGTERM. A second signal, or a stuck shutdown, forces exit.
func signalContext(parent context.Context, log *logrus.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}
