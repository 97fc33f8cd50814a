package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 100, Progress{TotalActions: 0}.Percent(true))
	assert.Equal(t, 0, Progress{TotalActions: 0}.Percent(false))
	assert.Equal(t, 50, Progress{TotalActions: 4, CompletedActions: 2}.Percent(false))
}

func TestJobLifecycle(t *testing.T) {
	j := New("job-1", "test update", 3, 0)
	assert.Equal(t, StatusPending, j.StatusNow())

	j.SetStatus(StatusRunning)
	j.SetPhase(PhaseAction)
	j.MarkActionStarted(0, "file_copy")
	j.MarkActionCompleted()
	j.MarkActionCompleted()
	j.AppendLog("action 0 ok")
	j.AddBackup("backup-1")

	snap := j.Snapshot()
	assert.Equal(t, 2, snap.Progress.CompletedActions)
	assert.Equal(t, 3, snap.Progress.TotalActions)
	assert.Equal(t, []string{"backup-1"}, snap.BackupsCreated)
	assert.Equal(t, []string{"action 0 ok"}, snap.Logs)
	assert.False(t, snap.Status.IsTerminal())

	j.SetStatus(StatusCompleted)
	require.True(t, j.StatusNow().IsTerminal())
	assert.NotNil(t, j.Snapshot().EndedAt)
}

func TestMarkActionCompletedNeverExceedsTotal(t *testing.T) {
	j := New("job-2", "", 1, 0)
	j.MarkActionCompleted()
	j.MarkActionCompleted()
	assert.Equal(t, 1, j.Snapshot().Progress.CompletedActions)
}

func TestLogRingBounded(t *testing.T) {
	j := New("job-3", "", 0, 2)
	j.AppendLog("a")
	j.AppendLog("b")
	j.AppendLog("c")
	assert.Equal(t, []string{"b", "c"}, j.Logs())
}

func TestFromViewRoundTrip(t *testing.T) {
	j := New("job-4", "desc", 1, 0)
	j.SetStatus(StatusFailed)
	j.SetError(&Error{Kind: ErrKindActionFailed, Message: "boom"})
	snap := j.Snapshot()

	rehydrated := FromView(snap, 0)
	assert.Equal(t, snap, rehydrated.Snapshot())
}
