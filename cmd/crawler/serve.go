package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/classifieds-crawler/pkg/config"
	"github.com/Sriram-PR/classifieds-crawler/pkg/mcp"
	"github.com/Sriram-PR/classifieds-crawler/pkg/storage"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start an MCP server over the listing store",
		Long: `Start an MCP (Model Context Protocol) server for AI tool integration.

Available MCP Tools:
  get_listing      Get one stored listing by ad id
  search_listings  Search stored listings by text, category, fuel, price and year
  list_runs        List recent crawl runs with their counters
  start_crawl      Start a background crawl (one at a time)
  get_job_status   Get the status of a crawl job

Examples:
  # Start with stdio transport (for desktop AI clients)
  crawler serve --database listings.sqlite

  # Start with SSE transport on port 8080
  crawler serve --transport sse --port 8080`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}
	addCrawlFlags(cmd)
	cmd.Flags().String("transport", "stdio", "Transport type (stdio, sse)")
	cmd.Flags().Int("port", 8080, "HTTP port (for sse transport)")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	transport, _ := cmd.Flags().GetString("transport")
	port, _ := cmd.Flags().GetInt("port")
	configPath, _ := cmd.Flags().GetString("config")

	// MCP protocol uses stdout, logs go to stderr
	log := loggerFor(cmd)
	log.SetOutput(cmd.ErrOrStderr())

	appCfg, err := buildConfig(cmd, log)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context(), log)
	defer stop()

	return doServe(ctx, appCfg, configPath, transport, port, log)
}

// doServe opens the store, runs the MCP server until it returns and cancels jobs on shutdown
func doServe(ctx context.Context, appCfg *config.AppConfig, configPath, transport string, port int, log *logrus.Logger) error {
	store, err := storage.Open(ctx, appCfg.Database, log.WithField("component", "storage"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeQuietly(store, log)

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
		Store:      store,
	})
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	log.Infof("Starting MCP server (transport: %s)", transport)
	if err := server.Run(); err != nil {
		return fmt.Errorf("MCP server: %w", err)
	}
	return nil
}

func closeQuietly(c io.Closer, log *logrus.Logger) {
	if err := c.Close(); err != nil {
		log.Errorf("Error closing: %v", err)
	}
}
