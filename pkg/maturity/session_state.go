package maturity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// sessionStateFileName is relative to a project's workspace root,
// sibling to historyFileName.
const sessionStateFileName = ".codeframe/session_state.json"

// LastSession summarizes the most recently completed work for a
// project, written after a successful task completion.
type LastSession struct {
	Summary        string    `json:"summary"`
	CompletedTasks []string  `json:"completed_tasks"`
	Timestamp      time.Time `json:"timestamp"`
}

// SessionState is the full shape of .codeframe/session_state.json: a
// cross-session handoff record an orchestrator reads on startup to
// resume a project where the last run left off.
type SessionState struct {
	LastSession    LastSession `json:"last_session"`
	NextActions    []string    `json:"next_actions"`
	CurrentPlan    string      `json:"current_plan"`
	ActiveBlockers []string    `json:"active_blockers"`
	ProgressPct    float64     `json:"progress_pct"`
}

func sessionStatePath(projectPath string) string {
	return filepath.Join(projectPath, sessionStateFileName)
}

// LoadSessionState reads the session-state file for a project. A
// missing or corrupt file yields (nil, nil) rather than an error,
// matching this file's "corrupt yields null on read" tolerance.
func LoadSessionState(projectPath string) (*SessionState, error) {
	data, err := os.ReadFile(sessionStatePath(projectPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, nil
	}
	return &state, nil
}

// SaveSessionState writes the session-state file for a project,
// creating its .codeframe directory if absent and restricting it to
// owner-read/write, matching quality_history.json's permissions.
func SaveSessionState(projectPath string, state SessionState) error {
	path := sessionStatePath(projectPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session state dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}

// RecordTaskCompletion folds a newly completed task into a project's
// session state: it appends to the last session's completed-tasks
// list, refreshes the summary/timestamp, and replaces the active
// blocker and next-action sets with the caller's current view. A
// missing or corrupt prior file starts a fresh state rather than
// failing.
func RecordTaskCompletion(projectPath, taskID, summary string, activeBlockers, nextActions []string, progressPct float64) error {
	state, err := LoadSessionState(projectPath)
	if err != nil {
		return err
	}
	if state == nil {
		state = &SessionState{}
	}

	state.LastSession = LastSession{
		Summary:        summary,
		CompletedTasks: append(state.LastSession.CompletedTasks, taskID),
		Timestamp:      time.Now().UTC(),
	}
	state.ActiveBlockers = activeBlockers
	state.NextActions = nextActions
	state.ProgressPct = progressPct

	return SaveSessionState(projectPath, *state)
}
