package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/classifieds-crawler/pkg/orchestrate"
)

// CrawlFunc performs one crawl run, usually orchestrate.Runner.Crawl
type CrawlFunc func(ctx context.Context) *orchestrate.RunResult

// Scheduler re-runs the crawl every interval. Runs never overlap: the next one is
// only considered after the previous has returned.
type Scheduler struct {
	crawl        CrawlFunc
	interval     time.Duration
	tickInterval time.Duration
	log          *logrus.Entry
	stateManager *StateManager
	now          func() time.Time
}

// NewScheduler creates a new watch scheduler persisting its state under stateDir
func NewScheduler(crawl CrawlFunc, stateDir string, interval time.Duration, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		crawl:        crawl,
		interval:     interval,
		tickInterval: calculateTickInterval(interval),
		log:          log,
		stateManager: NewStateManager(stateDir),
		now:          time.Now,
	}
}

// Run blocks until ctx is cancelled. An interrupted crawl still has its outcome saved.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.WithFields(logrus.Fields{
		"interval":   FormatInterval(s.interval),
		"state_file": s.stateManager.Path(),
	}).Info("Starting watch mode")
	s.logSchedule()

	s.runIfDue(ctx)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			return nil
		case <-ticker.C:
			s.runIfDue(ctx)
		}
	}
}

// runIfDue runs one crawl when the interval has elapsed since the last one
func (s *Scheduler) runIfDue(ctx context.Context) {
	if ctx.Err() != nil || !s.stateManager.ShouldRun(s.now(), s.interval) {
		return
	}

	s.log.Info("Watch run due, starting crawl")
	res := s.crawl(ctx)
	s.stateManager.RecordRun(s.now(), res.Record.RunID, res.Record.RunStats, res.Error)

	if err := s.stateManager.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}

	entry := s.log.WithFields(logrus.Fields{
		"run_id":   res.Record.RunID,
		"stored":   res.Record.Stored,
		"duration": res.Duration.Round(time.Millisecond),
	})
	if res.Error != nil {
		entry.WithError(res.Error).Warn("Watch run failed, will retry at the next interval")
	} else {
		entry.Info("Watch run completed")
	}
	s.logNextRun()
}

// calculateTickInterval returns how often to check whether a run is due
func calculateTickInterval(interval time.Duration) time.Duration {
	// Every 1/10th of the interval, between one second and ten minutes
	checkInterval := interval / 10
	if checkInterval < time.Second {
		checkInterval = time.Second
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

func (s *Scheduler) logSchedule() {
	st := s.stateManager.State()
	if st.LastRun == nil {
		s.log.Info("Never run, will run immediately")
		return
	}
	status := "success"
	if !st.LastRun.Success {
		status = "failed"
	}
	s.log.Infof("Last run %s at %s (%s, %d stored), next run %s",
		st.LastRun.RunID,
		st.LastRun.Time.Format(time.RFC3339),
		status,
		st.LastRun.Stats.Stored,
		s.stateManager.NextRunTime(s.now(), s.interval).Format(time.RFC3339))
}

func (s *Scheduler) logNextRun() {
	next := s.stateManager.NextRunTime(s.now(), s.interval)
	until := next.Sub(s.now())
	if until < 0 {
		until = 0
	}
	s.log.Infof("Next crawl in %v (at %s)", until.Round(time.Second), next.Format("15:04:05"))
}

// Status is a snapshot of the watch loop
type Status struct {
	LastRun     *RunState
	TotalRuns   int
	NextRunTime time.Time
	NeverRun    bool
}

// GetStatus returns the current watch status
func (s *Scheduler) GetStatus() Status {
	st := s.stateManager.State()
	return Status{
		LastRun:     st.LastRun,
		TotalRuns:   st.TotalRuns,
		NextRunTime: s.stateManager.NextRunTime(s.now(), s.interval),
		NeverRun:    st.LastRun == nil,
	}
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for days ("7d", "1d12h")
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 && days > 0 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
