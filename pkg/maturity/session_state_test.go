package maturity_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankbria/codeframe-sub003/pkg/maturity"
)

func TestLoadSessionState_MissingFileReturnsNil(t *testing.T) {
	state, err := maturity.LoadSessionState(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestLoadSessionState_CorruptFileReturnsNilNoError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".codeframe"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".codeframe", "session_state.json"), []byte("{not valid json"), 0o600))

	state, err := maturity.LoadSessionState(dir)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSaveAndLoadSessionState_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	state := maturity.SessionState{
		NextActions:    []string{"run migrations"},
		CurrentPlan:    "finish task 3",
		ActiveBlockers: []string{"blocker-1"},
		ProgressPct:    42.5,
	}

	require.NoError(t, maturity.SaveSessionState(dir, state))

	info, err := os.Stat(filepath.Join(dir, ".codeframe", "session_state.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := maturity.LoadSessionState(dir)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, []string{"run migrations"}, loaded.NextActions)
	assert.Equal(t, "finish task 3", loaded.CurrentPlan)
	assert.Equal(t, 42.5, loaded.ProgressPct)
}

func TestRecordTaskCompletion_AppendsCompletedTasks(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, maturity.RecordTaskCompletion(dir, "task-1", "did task 1", nil, nil, 10.0))
	require.NoError(t, maturity.RecordTaskCompletion(dir, "task-2", "did task 2", []string{"blocker-2"}, []string{"next up"}, 20.0))

	state, err := maturity.LoadSessionState(dir)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, []string{"task-1", "task-2"}, state.LastSession.CompletedTasks)
	assert.Equal(t, "did task 2", state.LastSession.Summary)
	assert.Equal(t, []string{"blocker-2"}, state.ActiveBlockers)
	assert.Equal(t, []string{"next up"}, state.NextActions)
	assert.Equal(t, 20.0, state.ProgressPct)
}
