package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/storage"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

const (
	snippetLen       = 160
	defaultRunsLimit = 10
	maxRunsLimit     = 100
)

// handleGetListing handles the get_listing tool
func (s *Server) handleGetListing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	adID := strings.TrimSpace(request.GetString("ad_id", ""))
	if adID == "" {
		return mcp.NewToolResultError("ad_id parameter is required"), nil
	}
	if strings.Trim(adID, "0123456789") != "" {
		return mcp.NewToolResultError(fmt.Sprintf("ad_id must be numeric, got %q", adID)), nil
	}

	l, err := s.store.Get(ctx, adID)
	if errors.Is(err, utils.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("listing '%s' not found", adID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read listing: %v", err)), nil
	}

	// Raw HTML is archival and far too large for a tool response
	out := *l
	out.RawHTML = nil
	return mcp.NewToolResultText(formatJSON(out)), nil
}

// handleSearchListings handles the search_listings tool
func (s *Server) handleSearchListings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := storage.SearchQuery{
		Text:     strings.TrimSpace(request.GetString("query", "")),
		Category: request.GetString("category", ""),
		Fuel:     request.GetString("fuel", ""),
		MinPrice: int64(request.GetInt("min_price", 0)),
		MaxPrice: int64(request.GetInt("max_price", 0)),
		MinYear:  request.GetInt("min_year", 0),
		MaxYear:  request.GetInt("max_year", 0),
		Limit:    request.GetInt("limit", storage.DefaultSearchLimit),
	}
	if q.MinPrice > 0 && q.MaxPrice > 0 && q.MinPrice > q.MaxPrice {
		return mcp.NewToolResultError("min_price must not exceed max_price"), nil
	}
	if q.MinYear > 0 && q.MaxYear > 0 && q.MinYear > q.MaxYear {
		return mcp.NewToolResultError("min_year must not exceed max_year"), nil
	}

	listings, err := s.store.Search(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	results := make([]map[string]interface{}, 0, len(listings))
	for _, l := range listings {
		results = append(results, summarize(l, q.Text))
	}

	response := map[string]interface{}{
		"results":       results,
		"total_matches": len(results),
	}
	if q.Text != "" {
		response["query"] = q.Text
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// summarize keeps the fields a search caller compares listings by
func summarize(l *models.Listing, query string) map[string]interface{} {
	entry := map[string]interface{}{
		"ad_id":        l.AdID,
		"url":          l.URL,
		"category":     l.Category,
		"last_seen_at": l.LastSeenAt.Format(time.RFC3339),
	}
	optional := map[string]interface{}{
		"title":      l.Title,
		"price_huf":  l.PriceHUF,
		"year":       l.Year,
		"mileage_km": l.MileageKM,
		"fuel":       l.Fuel,
		"location":   l.Location,
	}
	for k, v := range optional {
		switch p := v.(type) {
		case *string:
			if p != nil {
				entry[k] = *p
			}
		case *int64:
			if p != nil {
				entry[k] = *p
			}
		case *int:
			if p != nil {
				entry[k] = *p
			}
		}
	}
	if l.Description != nil && *l.Description != "" {
		entry["snippet"] = extractSnippet(*l.Description, query, snippetLen)
	}
	return entry
}

// handleListRuns handles the list_runs tool
func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", defaultRunsLimit)
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}

	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to count listings: %v", err)), nil
	}

	result := map[string]interface{}{
		"runs":           runs,
		"total_runs":     len(runs),
		"total_listings": total,
	}
	if active := s.jobManager.ActiveJob(); active != nil {
		result["active_job_id"] = active.ID
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleStartCrawl handles the start_crawl tool
func (s *Server) handleStartCrawl(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := JobOptions{
		MaxListings: request.GetInt("max_listings", 0),
		Force:       request.GetBool("force", false),
	}
	if opts.MaxListings < 0 {
		return mcp.NewToolResultError("max_listings must not be negative"), nil
	}

	job, created := s.jobManager.CreateJob(opts)
	if !created {
		result := map[string]interface{}{
			"status":  "already_running",
			"message": "A crawl is already in progress",
			"job_id":  job.ID,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	go s.runCrawlJob(job)

	result := map[string]interface{}{
		"status":  "started",
		"message": "Crawl started successfully",
		"job_id":  job.ID,
		"options": opts,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")

	var job *Job
	if jobID == "" {
		job = s.jobManager.ActiveJob()
		if job == nil {
			return mcp.NewToolResultError("no crawl is running; pass job_id to inspect a finished job"), nil
		}
	} else if job = s.jobManager.GetJob(jobID); job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":     job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt.Format(time.RFC3339),
		"options":    job.Options,
	}
	if job.RunID != "" {
		result["run_id"] = job.RunID
	}
	if job.Stats != nil {
		result["stats"] = job.Stats
	}
	if job.ReportPath != "" {
		result["report_path"] = job.ReportPath
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runCrawlJob runs a crawl job in the background
func (s *Server) runCrawlJob(job *Job) {
	s.jobManager.MarkRunning(job.ID)
	jobCtx := s.jobManager.GetContext(job.ID)
	log := s.log.WithField("job_id", job.ID)
	log.Info("Crawl job started")

	res := s.crawl(jobCtx, job.Options)

	status := JobStatusCompleted
	errMsg := ""
	switch {
	case res.Error == nil:
	case errors.Is(res.Error, context.Canceled):
		status = JobStatusCancelled
	default:
		status = JobStatusFailed
		errMsg = res.Error.Error()
	}

	var stats *models.RunStats
	if res.Record.RunID != "" {
		st := res.Record.RunStats
		stats = &st
	}
	s.jobManager.Finish(job.ID, status, res.Record.RunID, stats, res.ReportPath, errMsg)
	log.WithField("status", status).Info("Crawl job finished")
}

// extractSnippet extracts a snippet around the query match, slicing on rune
// boundaries so multi-byte UTF-8 characters are never split.
func extractSnippet(content, query string, maxLen int) string {
	runes := []rune(content)
	queryRunes := []rune(strings.ToLower(query))
	contentLowerRunes := []rune(strings.ToLower(content))

	idx := -1
	if len(queryRunes) > 0 {
		for i := 0; i <= len(contentLowerRunes)-len(queryRunes); i++ {
			if string(contentLowerRunes[i:i+len(queryRunes)]) == string(queryRunes) {
				idx = i
				break
			}
		}
	}

	if idx == -1 {
		if len(runes) > maxLen {
			return string(runes[:maxLen]) + "..."
		}
		return content
	}

	start := idx - maxLen/2
	if start < 0 {
		start = 0
	}
	end := idx + len(queryRunes) + maxLen/2
	if end > len(runes) {
		end = len(runes)
	}

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet = snippet + "..."
	}
	return snippet
}

// formatJSON formats data as an indented JSON string
func formatJSON(data interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
