package timesheet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hourledger/hourledger/internal/events"
	"github.com/hourledger/hourledger/internal/shared"
)

func TestCompleteTaskRequiresLoggedTime(t *testing.T) {
	f := newFixture(t)
	f.repo.putTask(activeTask("T1", "L1", "svc-1", alice.ID, 120))

	_, err := f.svc.CompleteTask(context.Background(), alice, CompleteInput{TaskID: "T1"})
	require.Equal(t, shared.CodeFailedPrecondition, shared.CodeOf(err))
	require.ErrorIs(t, err, ErrNoLoggedTime)

	task := f.repo.task("T1")
	require.Equal(t, TaskActive, task.Status)
	require.Nil(t, task.Completion)
	require.Empty(t, f.events.ofType(events.TaskCompleted))
}

func TestCompleteTaskFlagsCriticalGap(t *testing.T) {
	f := newFixture(t)
	f.repo.putLedger(hourlyLedger("L1", activePackage("pkg-1", "10")))
	f.repo.putTask(activeTask("T1", "L1", "svc-1", alice.ID, 120))
	_, err := f.svc.Post(context.Background(), alice, postInput("L1", "T1", 200))
	require.NoError(t, err)

	_, err = f.svc.CompleteTask(context.Background(), bob, CompleteInput{TaskID: "T1"})
	require.Equal(t, shared.CodePermissionDenied, shared.CodeOf(err))

	task, err := f.svc.CompleteTask(context.Background(), alice, CompleteInput{TaskID: "T1", Notes: "done", GapReason: "scope grew"})
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, task.Status)
	require.NotNil(t, task.Completion)
	require.Equal(t, 80, task.Completion.GapMinutes)
	require.Equal(t, 67, task.Completion.GapPercent)
	require.True(t, task.Completion.IsOver)
	require.True(t, task.Completion.IsCritical)
	require.Equal(t, alice.ID, task.Completion.CompletedBy)

	stored := f.repo.task("T1")
	require.Equal(t, TaskCompleted, stored.Status)
	require.Len(t, f.events.ofType(events.TaskCompleted), 1)
	require.Contains(t, f.audit.actions(), ActionTaskCompletionAlert)
	require.Contains(t, f.audit.actions(), ActionCompleteTask)

	_, err = f.svc.Post(context.Background(), alice, postInput("L1", "T1", 10))
	require.Equal(t, shared.CodeFailedPrecondition, shared.CodeOf(err))
	require.ErrorIs(t, err, ErrTaskNotActive)

	_, err = f.svc.CompleteTask(context.Background(), alice, CompleteInput{TaskID: "T1"})
	require.ErrorIs(t, err, ErrTaskNotActive)
}

func TestCompleteTaskWithinEstimate(t *testing.T) {
	f := newFixture(t)
	f.repo.putLedger(hourlyLedger("L1", activePackage("pkg-1", "10")))
	f.repo.putTask(activeTask("T1", "L1", "svc-1", alice.ID, 100))
	_, err := f.svc.Post(context.Background(), alice, postInput("L1", "T1", 90))
	require.NoError(t, err)

	task, err := f.svc.CompleteTask(context.Background(), admin, CompleteInput{TaskID: "T1"})
	require.NoError(t, err)
	require.Equal(t, 10, task.Completion.GapPercent)
	require.True(t, task.Completion.IsUnder)
	require.False(t, task.Completion.IsCritical)
	require.NotContains(t, f.audit.actions(), ActionTaskCompletionAlert)
}

func TestCompleteTaskNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CompleteTask(context.Background(), alice, CompleteInput{TaskID: "missing"})
	require.Equal(t, shared.CodeNotFound, shared.CodeOf(err))
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t)
	f.repo.putTask(activeTask("T1", "L1", "svc-1", alice.ID, 60))
	f.repo.putApproval("A1", "T1", "pending")
	f.repo.putApproval("A2", "T1", "approved")
	f.repo.putApproval("A3", "T9", "pending")

	_, err := f.svc.CancelTask(context.Background(), alice, CancelInput{TaskID: "T1", Reason: "  "})
	require.Equal(t, shared.CodeInvalidArgument, shared.CodeOf(err))

	task, err := f.svc.CancelTask(context.Background(), alice, CancelInput{TaskID: "T1", Reason: "client withdrew"})
	require.NoError(t, err)
	require.Equal(t, TaskCancelled, task.Status)
	require.Equal(t, "client withdrew", task.Cancellation.Reason)
	require.Equal(t, int64(2), task.Version)

	require.Equal(t, "task_cancelled", f.repo.approval("A1"))
	require.Equal(t, "approved", f.repo.approval("A2"))
	require.Equal(t, "pending", f.repo.approval("A3"))
	cancelled := f.events.ofType(events.TaskCancelled)
	require.Len(t, cancelled, 1)
	require.Equal(t, int64(1), cancelled[0].Payload["approvalsCancelled"])
}

func TestTaskBookkeepingOutlivesCancelledRequest(t *testing.T) {
	f := newFixture(t)
	f.repo.putLedger(hourlyLedger("L1", activePackage("pkg-1", "10")))
	f.repo.putTask(activeTask("T1", "L1", "svc-1", alice.ID, 60))
	f.repo.putTask(activeTask("T2", "L1", "svc-1", alice.ID, 60))
	res, err := f.svc.Post(context.Background(), alice, postInput("L1", "T1", 60))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f.wire(cancelOnCommit{memoryRepo: f.repo, cancel: cancel})
	_, err = f.svc.CompleteTask(ctx, alice, CompleteInput{TaskID: "T1"})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	ctx, cancel = context.WithCancel(context.Background())
	f.wire(cancelOnCommit{memoryRepo: f.repo, cancel: cancel})
	_, err = f.svc.CancelTask(ctx, alice, CancelInput{TaskID: "T2", Reason: "duplicate"})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	ctx, cancel = context.WithCancel(context.Background())
	f.wire(cancelOnCommit{memoryRepo: f.repo, cancel: cancel})
	description := "revised"
	_, err = f.svc.EditEntry(ctx, alice, EditInput{EntryID: res.EntryID, Description: &description, Reason: "typo"})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	require.Equal(t, []string{ActionCreateEntry, ActionCompleteTask, ActionCancelTask, ActionEditEntry}, f.audit.actions())
}

func TestCancelTaskWithLoggedTime(t *testing.T) {
	f := newFixture(t)
	f.repo.putLedger(hourlyLedger("L1", activePackage("pkg-1", "10")))
	f.repo.putTask(activeTask("T1", "L1", "svc-1", alice.ID, 60))
	_, err := f.svc.Post(context.Background(), alice, postInput("L1", "T1", 15))
	require.NoError(t, err)

	_, err = f.svc.CancelTask(context.Background(), alice, CancelInput{TaskID: "T1", Reason: "duplicate"})
	require.Equal(t, shared.CodeFailedPrecondition, shared.CodeOf(err))
	require.ErrorIs(t, err, ErrTimeAlreadyLogged)
	require.Equal(t, TaskActive, f.repo.task("T1").Status)
}

func TestTaskUpdateRetriesConflicts(t *testing.T) {
	f := newFixture(t)
	f.repo.putTask(activeTask("T1", "L1", "svc-1", alice.ID, 60))
	f.repo.failCommits = 1

	task, err := f.svc.CancelTask(context.Background(), alice, CancelInput{TaskID: "T1", Reason: "duplicate"})
	require.NoError(t, err)
	require.Equal(t, TaskCancelled, task.Status)

	f.repo.putTask(activeTask("T2", "L1", "svc-1", alice.ID, 60))
	f.repo.failCommits = 3
	_, err = f.svc.CancelTask(context.Background(), alice, CancelInput{TaskID: "T2", Reason: "duplicate"})
	require.Equal(t, shared.CodeAborted, shared.CodeOf(err))
	require.Equal(t, TaskActive, f.repo.task("T2").Status)
}

func TestEditEntryKeepsHistory(t *testing.T) {
	f := newFixture(t)
	f.repo.putLedger(hourlyLedger("L1", activePackage("pkg-1", "10")))
	f.repo.putTask(activeTask("T1", "L1", "svc-1", alice.ID, 60))
	res, err := f.svc.Post(context.Background(), alice, postInput("L1", "T1", 30))
	require.NoError(t, err)

	minutes := 45
	_, err = f.svc.EditEntry(context.Background(), alice, EditInput{EntryID: res.EntryID, Minutes: &minutes})
	require.Equal(t, shared.CodeFailedPrecondition, shared.CodeOf(err))
	require.ErrorIs(t, err, ErrMinutesImmutable)

	desc := "review of draft v2"
	_, err = f.svc.EditEntry(context.Background(), bob, EditInput{EntryID: res.EntryID, Description: &desc})
	require.Equal(t, shared.CodePermissionDenied, shared.CodeOf(err))

	same := 30
	newDate := testNow.Add(-24 * time.Hour)
	edited, err := f.svc.EditEntry(context.Background(), alice, EditInput{
		EntryID:     res.EntryID,
		Description: &desc,
		Date:        &newDate,
		Minutes:     &same,
		Reason:      "typo",
	})
	require.NoError(t, err)
	require.Equal(t, desc, edited.Description)
	require.Len(t, edited.Edits, 1)
	require.Equal(t, "review", edited.Edits[0].Before["description"])
	require.Equal(t, desc, edited.Edits[0].After["description"])
	require.Equal(t, "2025-03-09", edited.Edits[0].After["date"])
	require.Equal(t, 30, edited.Minutes)

	stored, ok := f.repo.entry(res.EntryID)
	require.True(t, ok)
	require.Len(t, stored.Edits, 1)
	require.Len(t, f.events.ofType(events.EntryEdited), 1)
	require.Contains(t, f.audit.actions(), ActionEditEntry)
}

func TestEditEntryRequiresChange(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.EditEntry(context.Background(), alice, EditInput{EntryID: "ts_1"})
	require.Equal(t, shared.CodeInvalidArgument, shared.CodeOf(err))

	desc := "x"
	_, err = f.svc.EditEntry(context.Background(), alice, EditInput{EntryID: "ts_missing", Description: &desc})
	require.Equal(t, shared.CodeNotFound, shared.CodeOf(err))
}
