package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
)

// JobStatus represents the current state of a crawl job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsActive reports whether the job still holds the crawl slot
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// JobOptions are the per-job overrides accepted by start_crawl
type JobOptions struct {
	MaxListings int  `json:"max_listings,omitempty"`
	Force       bool `json:"force,omitempty"`
}

// Job represents a background crawl job
type Job struct {
	ID           string           `json:"id"`
	Status       JobStatus        `json:"status"`
	Options      JobOptions       `json:"options"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at,omitempty"`
	RunID        string           `json:"run_id,omitempty"`
	Stats        *models.RunStats `json:"stats,omitempty"`
	ReportPath   string           `json:"report_path,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager tracks background crawl jobs. At most one job is active at a time
// because the listing store has a single writer.
type JobManager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	active string // ID of the pending or running job, empty when idle
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*Job)}
}

// CreateJob registers a pending job. When a job is already active it is returned
// with created=false and no new job is made.
func (m *JobManager) CreateJob(opts JobOptions) (job *Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.jobs[m.active]; existing != nil && existing.Status.IsActive() {
		return existing, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	job = &Job{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Options:   opts,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.jobs[job.ID] = job
	m.active = job.ID
	return job, true
}

// GetJob returns a snapshot of a job, or nil
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	snapshot := *job
	return &snapshot
}

// ActiveJob returns a snapshot of the active job, or nil when idle
func (m *JobManager) ActiveJob() *Job {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	if active == "" {
		return nil
	}
	return m.GetJob(active)
}

// MarkRunning moves a pending job to running
func (m *JobManager) MarkRunning(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok && job.Status == JobStatusPending {
		job.Status = JobStatusRunning
	}
}

// Finish records the outcome of a job and frees the crawl slot.
// A job cancelled meanwhile keeps its cancelled status but still gets its stats.
func (m *JobManager) Finish(jobID string, status JobStatus, runID string, stats *models.RunStats, reportPath, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return
	}
	if job.Status != JobStatusCancelled {
		job.Status = status
		job.CompletedAt = time.Now()
	}
	job.RunID = runID
	job.Stats = stats
	job.ReportPath = reportPath
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
	job.cancel()
	if m.active == jobID {
		m.active = ""
	}
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || !job.Status.IsActive() {
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	job.CompletedAt = time.Now()
	if m.active == jobID {
		m.active = ""
	}
	return true
}

// CancelAll cancels every active job
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.Status.IsActive() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.active = ""
}

// ListJobs returns snapshots of all jobs
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	return jobs
}

// GetContext returns the context a job's crawl runs under
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[jobID]; ok {
		return job.ctx
	}
	return context.Background()
}
