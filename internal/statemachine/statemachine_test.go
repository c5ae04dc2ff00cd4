package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskwarden/taskwarden/internal/model"
)

func TestNew_Defaults(t *testing.T) {
	now := time.Now()
	cond := &model.Condition{Name: "c1", MaxTasksRetries: 3}
	h := New(cond, now)
	require.Equal(t, model.StatusIdle, h.Cond.State.Status)
	require.Equal(t, 3, h.Cond.State.RemainingRetries)
}

func TestTryBeginCheck_BlocksWhenBusy(t *testing.T) {
	h := New(&model.Condition{Name: "c1"}, time.Now())
	require.True(t, h.TryBeginCheck())
	require.False(t, h.TryBeginCheck())
}

func TestFinishCheck_FailureReturnsToIdle(t *testing.T) {
	h := New(&model.Condition{Name: "c1"}, time.Now())
	h.TryBeginCheck()
	runTasks := h.FinishCheck(model.Failure)
	require.False(t, runTasks)
	require.Equal(t, model.StatusIdle, h.Cond.State.Status)
	require.False(t, h.Cond.State.Busy)
}

func TestFinishCheck_SuccessEntersRunning(t *testing.T) {
	h := New(&model.Condition{Name: "c1"}, time.Now())
	h.TryBeginCheck()
	runTasks := h.FinishCheck(model.Success)
	require.True(t, runTasks)
	require.Equal(t, model.StatusRunning, h.Cond.State.Status)
	require.True(t, h.Cond.State.Busy)
}

func TestFinishCheck_RecurAfterFailedCheckSuppression(t *testing.T) {
	cond := &model.Condition{Name: "c1", Recurring: true, RecurAfterFailedCheck: true}
	h := New(cond, time.Now())
	h.Cond.State.LastSuccessStable = true
	h.TryBeginCheck()
	runTasks := h.FinishCheck(model.Success)
	require.False(t, runTasks)
	require.Equal(t, model.StatusIdle, h.Cond.State.Status)
}

func TestFinishCheck_RecurAfterFailedCheckSuppressesAfterRealSuccess(t *testing.T) {
	cond := &model.Condition{Name: "c1", Recurring: true, RecurAfterFailedCheck: true}
	h := New(cond, time.Now())

	h.TryBeginCheck()
	runTasks := h.FinishCheck(model.Success)
	require.True(t, runTasks, "first success must run tasks")
	h.FinishRun(model.Success, time.Now())
	require.True(t, h.Cond.State.LastSuccessStable)

	h.TryBeginCheck()
	runTasks = h.FinishCheck(model.Success)
	require.False(t, runTasks, "second consecutive success without an intervening failure must be suppressed")

	h.TryBeginCheck()
	runTasks = h.FinishCheck(model.Failure)
	require.False(t, runTasks)
	require.False(t, h.Cond.State.LastSuccessStable, "a failed check clears stability")

	h.TryBeginCheck()
	runTasks = h.FinishCheck(model.Success)
	require.True(t, runTasks, "success after an intervening failure must run tasks again")
}

func TestFinishRun_RecurringIgnoresRetries(t *testing.T) {
	cond := &model.Condition{Name: "c1", Recurring: true, MaxTasksRetries: 2}
	h := New(cond, time.Now())
	h.TryBeginCheck()
	h.FinishCheck(model.Success)
	h.FinishRun(model.Failure, time.Now())
	require.Equal(t, model.StatusIdle, h.Cond.State.Status)
	require.Equal(t, 2, h.Cond.State.RemainingRetries)
}

func TestFinishRun_NonRecurringSuccessTerminal(t *testing.T) {
	cond := &model.Condition{Name: "c1", MaxTasksRetries: 2}
	h := New(cond, time.Now())
	h.TryBeginCheck()
	h.FinishCheck(model.Success)
	h.FinishRun(model.Success, time.Now())
	require.Equal(t, model.StatusSucceeded, h.Cond.State.Status)
	require.True(t, h.Cond.State.Status.Terminal())
}

func TestFinishRun_NonRecurringExhausted(t *testing.T) {
	cond := &model.Condition{Name: "c1", MaxTasksRetries: 0}
	h := New(cond, time.Now())
	h.TryBeginCheck()
	h.FinishCheck(model.Success)
	h.FinishRun(model.Failure, time.Now())
	require.Equal(t, model.StatusExhausted, h.Cond.State.Status)
}

func TestFinishRun_NonRecurringDecrementsRetries(t *testing.T) {
	cond := &model.Condition{Name: "c1", MaxTasksRetries: 2}
	h := New(cond, time.Now())
	h.TryBeginCheck()
	h.FinishCheck(model.Success)
	h.FinishRun(model.Failure, time.Now())
	require.Equal(t, model.StatusIdle, h.Cond.State.Status)
	require.Equal(t, 1, h.Cond.State.RemainingRetries)
}

func TestReset(t *testing.T) {
	cond := &model.Condition{Name: "c1", MaxTasksRetries: 5}
	h := New(cond, time.Now())
	h.Cond.State.RemainingRetries = 0
	h.Cond.State.LastSuccessStable = true
	h.Reset(time.Now())
	require.Equal(t, model.StatusIdle, h.Cond.State.Status)
	require.Equal(t, 5, h.Cond.State.RemainingRetries)
	require.False(t, h.Cond.State.LastSuccessStable)
}

func TestSuspendResume(t *testing.T) {
	h := New(&model.Condition{Name: "c1", MaxTasksRetries: 1}, time.Now())
	h.Suspend()
	require.Equal(t, model.StatusSuspended, h.Cond.State.Status)
	require.False(t, h.TryBeginCheck())
	h.Resume(time.Now())
	require.Equal(t, model.StatusIdle, h.Cond.State.Status)
	require.True(t, h.TryBeginCheck())
}

func TestMarkPending_BucketOnly(t *testing.T) {
	h := New(&model.Condition{Name: "c1", Variant: model.CondBucket}, time.Now())
	h.MarkPending()
	require.Equal(t, model.StatusPending, h.Cond.State.Status)
	require.True(t, h.TryBeginCheck())
	require.Equal(t, model.StatusChecking, h.Cond.State.Status)
}
