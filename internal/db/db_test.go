package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/devimpact/devimpact-cli/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Initialize())
	return database
}

func TestRunLifecycle(t *testing.T) {
	database := openTestDB(t)
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, database.StartRun("run-1", started))
	require.NoError(t, database.RecordWindow("run-1", models.SyncWindow{
		StartISO: "2025-02-01T00:00:00Z",
		EndISO:   "2025-03-01T12:00:00Z",
	}))
	require.NoError(t, database.RecordRepository("run-1", models.RepoSyncRecord{
		Repository:  "acme/api",
		PullCount:   30,
		BatchCount:  2,
		CompletedAt: started.Add(time.Minute),
	}))
	require.NoError(t, database.RecordRepository("run-1", models.RepoSyncRecord{
		Repository:  "acme/web",
		PullCount:   0,
		BatchCount:  0,
		CompletedAt: started.Add(2 * time.Minute),
	}))
	require.NoError(t, database.FinishRun("run-1", started.Add(3*time.Minute), nil))

	runs, err := database.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, RunStatusSucceeded, run.Status)
	assert.Equal(t, "2025-02-01T00:00:00Z", run.WindowStart)
	require.NotNil(t, run.FinishedAt)
	require.Len(t, run.Repos, 2)
	assert.Equal(t, "acme/api", run.Repos[0].Repository)
	assert.Equal(t, 30, run.Repos[0].PullCount)
	assert.Equal(t, 2, run.Repos[0].BatchCount)
}

func TestFailedRunAndOrdering(t *testing.T) {
	database := openTestDB(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, database.StartRun("old", base))
	require.NoError(t, database.FinishRun("old", base.Add(time.Minute), nil))
	require.NoError(t, database.StartRun("new", base.Add(time.Hour)))
	require.NoError(t, database.FinishRun("new", base.Add(time.Hour+time.Minute), errors.New("push failed")))
	require.NoError(t, database.StartRun("running", base.Add(2*time.Hour)))

	runs, err := database.RecentRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "running", runs[0].ID)
	assert.Equal(t, RunStatusRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)
	assert.Equal(t, "new", runs[1].ID)
	assert.Equal(t, RunStatusFailed, runs[1].Status)
	assert.Equal(t, "push failed", runs[1].Error)
	assert.Empty(t, runs[1].Repos)
}
