package executor

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskwarden/taskwarden/internal/logging"
	"github.com/taskwarden/taskwarden/internal/model"
)

func testScope() logging.Scoped {
	return logging.New(logging.Options{Writer: io.Discard}).Scope("test")
}

func scriptTask(name, source string, expected map[string]any) *model.Task {
	return &model.Task{
		Name:    name,
		Variant: model.TaskScript,
		Script:  model.ScriptSpec{Source: source, Expected: expected, ExpectAll: true},
	}
}

func TestRun_Sequential_StopsOnFailure(t *testing.T) {
	tasks := map[string]*model.Task{
		"a": scriptTask("a", "var ok = true;", map[string]any{"ok": true}),
		"b": scriptTask("b", "var ok = false;", map[string]any{"ok": true}),
		"c": scriptTask("c", "var ok = true;", map[string]any{"ok": true}),
	}
	cond := &model.Condition{
		Name:            "c1",
		ExecuteSequence: true,
		BreakOnFailure:  true,
		Tasks:           []string{"a", "b", "c"},
	}
	outcome := Run(context.Background(), cond, tasks, nil, nil, testScope())
	require.Equal(t, model.Failure, outcome)
}

func TestRun_Sequential_BreakOnSuccess(t *testing.T) {
	tasks := map[string]*model.Task{
		"a": scriptTask("a", "var ok = true;", map[string]any{"ok": true}),
		"b": scriptTask("b", "var ok = false;", map[string]any{"ok": true}),
	}
	cond := &model.Condition{
		Name:            "c1",
		ExecuteSequence: true,
		BreakOnSuccess:  true,
		Tasks:           []string{"a", "b"},
	}
	outcome := Run(context.Background(), cond, tasks, nil, nil, testScope())
	require.Equal(t, model.Success, outcome)
}

func TestRun_Sequential_AllSuccess(t *testing.T) {
	tasks := map[string]*model.Task{
		"a": scriptTask("a", "var ok = true;", map[string]any{"ok": true}),
		"b": scriptTask("b", "var ok = true;", map[string]any{"ok": true}),
	}
	cond := &model.Condition{
		Name:            "c1",
		ExecuteSequence: true,
		Tasks:           []string{"a", "b"},
	}
	outcome := Run(context.Background(), cond, tasks, nil, nil, testScope())
	require.Equal(t, model.Success, outcome)
}

func TestRun_NonSequential_AlwaysUndetermined(t *testing.T) {
	tasks := map[string]*model.Task{
		"a": scriptTask("a", "var ok = false;", map[string]any{"ok": true}),
	}
	cond := &model.Condition{
		Name:            "c1",
		ExecuteSequence: false,
		Tasks:           []string{"a"},
	}
	outcome := Run(context.Background(), cond, tasks, nil, nil, testScope())
	require.Equal(t, model.Undetermined, outcome)
}

func TestOutcomeStatus(t *testing.T) {
	require.Equal(t, logging.StatusOK, outcomeStatus(model.Success))
	require.Equal(t, logging.StatusFail, outcomeStatus(model.Failure))
	require.Equal(t, logging.StatusInd, outcomeStatus(model.Undetermined))
}
