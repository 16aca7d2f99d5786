package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

const stateFileName = "watch_state.json"

// RunState is the outcome of the last watched run
type RunState struct {
	RunID        string          `json:"run_id,omitempty"`
	Time         time.Time       `json:"time"`
	Success      bool            `json:"success"`
	Stats        models.RunStats `json:"stats"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// WatchState contains the persistent state for the watch scheduler
type WatchState struct {
	LastRun           *RunState `json:"last_run,omitempty"`
	TotalRuns         int       `json:"total_runs"`
	ConsecutiveFailed int       `json:"consecutive_failed"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StateManager handles persisting and loading watch state
type StateManager struct {
	stateDir  string
	statePath string
	state     WatchState
	mu        sync.RWMutex
}

// NewStateManager creates a new state manager
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
	}
}

// Path returns the state file location
func (m *StateManager) Path() string { return m.statePath }

// Load loads the state from disk. A missing file is a fresh start.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = WatchState{}
			return nil
		}
		return fmt.Errorf("%w: read watch state: %w", utils.ErrFilesystem, err)
	}

	var st WatchState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("%w: parse watch state %s: %w", utils.ErrParsing, m.statePath, err)
	}
	m.state = st
	return nil
}

// Save writes the state to disk through a temp file and rename
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("%w: create state directory: %w", utils.ErrFilesystem, err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: write watch state: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		return fmt.Errorf("%w: replace watch state: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// State returns a copy of the current state
func (m *StateManager) State() WatchState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.state
	if st.LastRun != nil {
		last := *st.LastRun
		st.LastRun = &last
	}
	return st
}

// RecordRun stores the outcome of a finished run
func (m *StateManager) RecordRun(at time.Time, runID string, stats models.RunStats, runErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := &RunState{RunID: runID, Time: at, Success: runErr == nil, Stats: stats}
	if runErr != nil {
		rs.ErrorMessage = runErr.Error()
		m.state.ConsecutiveFailed++
	} else {
		m.state.ConsecutiveFailed = 0
	}
	m.state.LastRun = rs
	m.state.TotalRuns++
}

// ShouldRun reports whether interval has passed since the last run
func (m *StateManager) ShouldRun(now time.Time, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.LastRun == nil {
		return true
	}
	return now.Sub(m.state.LastRun.Time) >= interval
}

// NextRunTime returns when the next run is due
func (m *StateManager) NextRunTime(now time.Time, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.LastRun == nil {
		return now
	}
	return m.state.LastRun.Time.Add(interval)
}
