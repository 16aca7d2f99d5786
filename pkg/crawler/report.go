package crawler

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// ReportData is everything the end-of-run report shows
type ReportData struct {
	Record     models.RunRecord
	BaseURL    string
	Categories []string
	Database   string
	Strategies []string              // Fetch chain, in order
	Via        map[string]int        // Pages fetched per strategy
	Sources    map[models.Source]int // Candidates emitted per frontier source
	LedgerPath string                // Per-URL outcome ledger, when written
	RunErr     error
}

// WriteReport renders the run report as Markdown to path, creating parent directories
func WriteReport(path string, data ReportData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: create report dir: %w", utils.ErrFilesystem, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create report %s: %w", utils.ErrFilesystem, path, err)
	}
	if err := RenderReport(f, data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close report %s: %w", utils.ErrFilesystem, path, err)
	}
	return nil
}

// RenderReport writes the Markdown report to w
func RenderReport(w io.Writer, data ReportData) error {
	md := markdown.NewMarkdown(w)

	writeHeader(md, data)
	writeCounters(md, data.Record.RunStats)
	writeAlert(md, data)
	writeFailures(md, data.Record.FailureCategories)
	writeBreakdown(md, "Fetch strategies", "Strategy", data.Via)

	sources := make(map[string]int, len(data.Sources))
	for s, n := range data.Sources {
		sources[string(s)] = n
	}
	writeBreakdown(md, "Frontier sources", "Source", sources)

	if err := md.Build(); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func writeHeader(md *markdown.Markdown, data ReportData) {
	r := data.Record
	md.H1("Crawl Report")
	md.PlainText("")

	rows := [][]string{
		{"Run ID", r.RunID},
		{"Site", data.BaseURL},
		{"Categories", strings.Join(data.Categories, ", ")},
		{"Started", r.StartedAt.UTC().Format(time.RFC3339)},
		{"Finished", r.FinishedAt.UTC().Format(time.RFC3339)},
		{"Duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()},
	}
	if len(data.Strategies) > 0 {
		rows = append(rows, []string{"Fetch chain", strings.Join(data.Strategies, " → ")})
	}
	if data.Database != "" {
		rows = append(rows, []string{"Store", data.Database})
	}
	if data.LedgerPath != "" {
		rows = append(rows, []string{"URL ledger", data.LedgerPath})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func writeCounters(md *markdown.Markdown, s models.RunStats) {
	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Counter", "Value"},
		Rows: [][]string{
			{"Fetched", strconv.Itoa(s.Fetched)},
			{"Stored", strconv.Itoa(s.Stored)},
			{"Skipped (already stored)", strconv.Itoa(s.Skipped)},
			{"Denied by robots.txt", strconv.Itoa(s.Denied)},
			{"Fetch failed", strconv.Itoa(s.Failed)},
			{"Parse failed", strconv.Itoa(s.ParseFailed)},
			{"Stopped by listing cap", strconv.FormatBool(s.Cancelled)},
		},
	})
	md.PlainText("")
}

func writeAlert(md *markdown.Markdown, data ReportData) {
	s := data.Record.RunStats
	switch {
	case data.RunErr != nil:
		md.Cautionf("The run ended with an error: %v", data.RunErr)
	case s.Failed+s.ParseFailed > 0 && s.Stored == 0:
		md.Warningf("No listings were stored; %d URL(s) failed.", s.Failed+s.ParseFailed)
	case s.Failed+s.ParseFailed > 0:
		md.Notef("%d URL(s) failed, see the failure categories below.", s.Failed+s.ParseFailed)
	case s.Cancelled:
		md.Note("The listing cap was reached before the frontier was exhausted.")
	default:
		md.Tip("Every fetched candidate was stored or skipped.")
	}
	md.PlainText("")
}

func writeFailures(md *markdown.Markdown, categories map[string]int) {
	if len(categories) == 0 {
		return
	}
	md.H2("Failure categories")
	md.PlainText("")

	keys := sortedByCount(categories)
	rows := make([][]string, 0, len(keys))
	chart := piechart.NewPieChart(io.Discard, piechart.WithTitle("Failures"), piechart.WithShowData(true))
	for _, k := range keys {
		rows = append(rows, []string{k, strconv.Itoa(categories[k])})
		chart.LabelAndIntValue(k, uint64(categories[k]))
	}
	md.Table(markdown.TableSet{Header: []string{"Category", "Count"}, Rows: rows})
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func writeBreakdown(md *markdown.Markdown, title, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	md.H2(title)
	md.PlainText("")
	keys := sortedByCount(counts)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, strconv.Itoa(counts[k])})
	}
	md.Table(markdown.TableSet{Header: []string{label, "Count"}, Rows: rows})
	md.PlainText("")
}

// sortedByCount orders keys by descending count, then name
func sortedByCount(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
