package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/classifieds-crawler/pkg/config"
	"github.com/Sriram-PR/classifieds-crawler/pkg/orchestrate"
)

// NewAuthCmd creates the auth command
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Solve the site's challenge once in a visible browser and save the session",
		Long: `auth opens a visible browser on --auth-url (default: the first category page) and waits
until you press Enter in the terminal. The cookies and local storage of the browser
context are then written to --save-storage-state (or --storage-state, or the data dir).

Later runs pass --storage-state to reuse the session for HTTP and browser fetches.`,
		Args: cobra.NoArgs,
		RunE: runAuthCmd,
	}
	addCrawlFlags(cmd)
	return cmd
}

func runAuthCmd(cmd *cobra.Command, _ []string) error {
	log := loggerFor(cmd)
	appCfg, err := buildConfig(cmd, log, func(c *config.AppConfig) {
		c.ManualAuth = true
		c.Headful = true
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context(), log)
	defer stop()

	runner := orchestrate.NewRunner(appCfg, log.WithField("component", "auth"))
	runner.In = cmd.InOrStdin()
	runner.Out = cmd.OutOrStdout()

	path, err := runner.Authenticate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session saved to %s\n", path)
	return nil
}
