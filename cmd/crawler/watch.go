package main

import (
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/classifieds-crawler/pkg/config"
	"github.com/Sriram-PR/classifieds-crawler/pkg/orchestrate"
	"github.com/Sriram-PR/classifieds-crawler/pkg/watch"
)

// NewWatchCmd creates the watch command
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the crawl on a schedule",
		Long: `watch runs the crawl, then runs it again every --interval until interrupted.
Runs never overlap. The outcome of the last run is kept in watch_state.json under
--state-dir so a restarted watcher waits out the remaining interval.

Manual auth is not available in watch mode; run 'crawler auth' first and pass
--storage-state.

Examples:
  crawler watch --interval 6h --max-listings 200
  crawler watch --interval 1d --use-browser-strategy --storage-state state.json`,
		Args: cobra.NoArgs,
		RunE: runWatchCmd,
	}
	addCrawlFlags(cmd)
	cmd.Flags().String("interval", "24h", "Crawl interval (e.g., 30m, 6h, 24h, 7d)")
	return cmd
}

func runWatchCmd(cmd *cobra.Command, _ []string) error {
	log := loggerFor(cmd)

	intervalStr, _ := cmd.Flags().GetString("interval")
	interval, err := watch.ParseInterval(intervalStr)
	if err != nil {
		return err
	}

	appCfg, err := buildConfig(cmd, log, func(c *config.AppConfig) {
		if c.ManualAuth {
			log.Warn("manual_auth is ignored in watch mode, run 'crawler auth' first")
			c.ManualAuth = false
		}
	})
	if err != nil {
		return err
	}
	logAppConfig(appCfg, log)
	log.Infof("Watch interval: %s", watch.FormatInterval(interval))

	ctx, stop := signalContext(cmd.Context(), log)
	defer stop()

	runner := orchestrate.NewRunner(appCfg, log.WithField("component", "run"))
	scheduler := watch.NewScheduler(runner.Crawl, appCfg.StateDir, interval, log.WithField("component", "watch"))

	if err := scheduler.Run(ctx); err != nil {
		return err
	}
	log.Info("Watch mode stopped")
	return nil
}
