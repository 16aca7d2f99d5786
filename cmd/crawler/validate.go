package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/classifieds-crawler/pkg/config"
	"github.com/Sriram-PR/classifieds-crawler/pkg/storage"
)

// NewValidateCmd creates the validate command
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			envFile, _ := cmd.Flags().GetString("env-file")
			if envFile != "" {
				if _, err := config.LoadDotEnv(envFile); err != nil {
					return err
				}
			}
			if code := doValidate(configPath, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return fmt.Errorf("configuration invalid")
			}
			return nil
		},
	}
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}

	database := appCfg.Database
	if storage.IsPostgresDSN(database) {
		database = "postgres (DSN hidden)"
	}
	fmt.Fprintf(stdout, "OK: site %s, categories %v\n", appCfg.Site.BaseURL, appCfg.Site.Categories)
	fmt.Fprintf(stdout, "    sources %v (sitemap:%t, category:%t)\n", appCfg.SourcePriority,
		appCfg.SourceEnabled(config.SourceSitemap), appCfg.SourceEnabled(config.SourceCategory))
	fmt.Fprintf(stdout, "    max listings %d, max pages %d, delay %v, jitter %v\n",
		appCfg.MaxListings, appCfg.MaxPages, appCfg.Delay, appCfg.Jitter)
	fmt.Fprintf(stdout, "    database %s\n", database)
	if appCfg.StorageState != "" {
		if _, err := os.Stat(appCfg.StorageState); err != nil {
			fmt.Fprintf(stdout, "WARN: storage_state %s is not readable, runs will continue without a session\n", appCfg.StorageState)
		}
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}
