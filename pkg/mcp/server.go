package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/classifieds-crawler/pkg/config"
	"github.com/Sriram-PR/classifieds-crawler/pkg/orchestrate"
	"github.com/Sriram-PR/classifieds-crawler/pkg/storage"
)

const (
	serverName    = "classifieds-crawler"
	serverVersion = "0.4.0"
)

// CrawlFunc runs one crawl for a job
type CrawlFunc func(ctx context.Context, opts JobOptions) *orchestrate.RunResult

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger

	// Store is shared by the query tools and crawl jobs. The caller owns it.
	Store storage.ListingStore
	// Crawl overrides how jobs run; a Runner over Store by default
	Crawl CrawlFunc
}

// Server exposes the listing store and crawl jobs as MCP tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	store      storage.ListingStore
	crawl      CrawlFunc
	jobManager *JobManager
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	s := &Server{
		mcpServer:  server.NewMCPServer(serverName, serverVersion, server.WithLogging()),
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		store:      cfg.Store,
		crawl:      cfg.Crawl,
		jobManager: NewJobManager(),
	}
	if s.crawl == nil {
		s.crawl = s.runnerCrawl
	}

	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("get_listing",
		mcp.WithDescription("Get one stored listing by its ad id"),
		mcp.WithString("ad_id", mcp.Required(), mcp.Description("Numeric ad id (Hirdetéskód)")),
	), s.handleGetListing)

	s.mcpServer.AddTool(mcp.NewTool("search_listings",
		mcp.WithDescription("Search stored listings by text and filters, most recently seen first"),
		mcp.WithString("query", mcp.Description("Case-insensitive substring of the title")),
		mcp.WithString("category", mcp.Description("Category path segment, e.g. 'szemelyauto'")),
		mcp.WithString("fuel", mcp.Description("Exact fuel value, e.g. 'Dízel'")),
		mcp.WithNumber("min_price", mcp.Description("Minimum price in HUF")),
		mcp.WithNumber("max_price", mcp.Description("Maximum price in HUF")),
		mcp.WithNumber("min_year", mcp.Description("Minimum model year")),
		mcp.WithNumber("max_year", mcp.Description("Maximum model year")),
		mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Maximum results (default %d, max %d)",
			storage.DefaultSearchLimit, storage.MaxSearchLimit))),
	), s.handleSearchListings)

	s.mcpServer.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent crawl runs with their counters, newest first"),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 10)")),
	), s.handleListRuns)

	s.mcpServer.AddTool(mcp.NewTool("start_crawl",
		mcp.WithDescription("Start a background crawl. Only one crawl runs at a time. Returns immediately with a job ID."),
		mcp.WithNumber("max_listings", mcp.Description("Stop after this many stored listings (default from config)")),
		mcp.WithBoolean("force", mcp.Description("Refetch listings already in the store")),
	), s.handleStartCrawl)

	s.mcpServer.AddTool(mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status of a crawl job, or of the active job when no id is given"),
		mcp.WithString("job_id", mcp.Description("The job ID returned by start_crawl")),
	), s.handleGetJobStatus)

	s.log.Infof("Registered %d MCP tools", 5)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		return server.NewSSEServer(s.mcpServer).Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()
	return nil
}

// sharedStore lends the server's store to a run without letting the run close it
type sharedStore struct {
	storage.ListingStore
}

func (sharedStore) Close() error { return nil }

// runnerCrawl runs a job through the regular run wiring. Manual auth needs a terminal
// and is never part of a job.
func (s *Server) runnerCrawl(ctx context.Context, opts JobOptions) *orchestrate.RunResult {
	cfg := *s.cfg.AppConfig
	cfg.ManualAuth = false
	if opts.MaxListings > 0 {
		cfg.MaxListings = opts.MaxListings
	}
	cfg.Force = cfg.Force || opts.Force

	runner := orchestrate.NewRunner(&cfg, s.log.WithField("source", "mcp_job"))
	runner.OpenStore = func(context.Context, string, *logrus.Entry) (storage.ListingStore, error) {
		return sharedStore{s.store}, nil
	}
	return runner.Crawl(ctx)
}
