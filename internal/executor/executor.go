// Package executor runs a condition's task sequence and reduces the
// per-task outcomes to the single aggregate outcome the condition state
// machine transitions on (spec §4.3). Grounded on microbatch's
// flush-then-reduce loop (_teacher/microbatch/microbatch.go) for the
// sequential path, and on the teacher's general comfort with a plain
// sync.WaitGroup fan-out (seen throughout eventloop) for the concurrent
// path.
package executor

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/taskwarden/taskwarden/internal/logging"
	"github.com/taskwarden/taskwarden/internal/model"
	"github.com/taskwarden/taskwarden/internal/scripting"
	"github.com/taskwarden/taskwarden/internal/task"
)

// ScriptLogFactory builds the scripting.Log bound to a given task name,
// so its log lines carry the right `item` context.
type ScriptLogFactory func(taskName string) scripting.Log

// Run executes cond's task sequence against the resolved task
// definitions and returns the aggregate outcome (spec §4.3). The start
// and end records of this invocation carry the same generated run ID
// (spec §6.5's `item_id`, "e.g. a task-sequence run id"), so one
// condition's sequence can be correlated in the log stream; the run ID
// is not passed to the individual tasks or their log lines.
func Run(ctx context.Context, cond *model.Condition, tasks map[string]*model.Task, invoker task.Invoker, scriptLog ScriptLogFactory, log logging.Scoped) model.Outcome {
	runID := uuid.NewString()
	log.Record(logging.LevelInfo, "sequence", cond.Name, runID, logging.WhenStart, logging.StatusOK, "task sequence started")

	var outcome model.Outcome
	if !cond.ExecuteSequence {
		runConcurrently(ctx, cond, tasks, invoker, scriptLog)
		outcome = model.Undetermined
	} else {
		outcome = runSequential(ctx, cond, tasks, invoker, scriptLog)
	}

	log.Record(logging.LevelInfo, "sequence", cond.Name, runID, logging.WhenEnd, outcomeStatus(outcome), "task sequence finished")
	return outcome
}

func outcomeStatus(o model.Outcome) logging.Status {
	switch o {
	case model.Success:
		return logging.StatusOK
	case model.Failure:
		return logging.StatusFail
	default:
		return logging.StatusInd
	}
}

func runConcurrently(ctx context.Context, cond *model.Condition, tasks map[string]*model.Task, invoker task.Invoker, scriptLog ScriptLogFactory) {
	var wg sync.WaitGroup
	for _, name := range cond.Tasks {
		t, ok := tasks[name]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(t *model.Task) {
			defer wg.Done()
			_, _ = task.Run(ctx, t, cond.Name, invoker, logFor(scriptLog, t.Name))
		}(t)
	}
	wg.Wait()
}

func runSequential(ctx context.Context, cond *model.Condition, tasks map[string]*model.Task, invoker task.Invoker, scriptLog ScriptLogFactory) model.Outcome {
	brokeOnSuccess := false
	hasFailure := false
	hasSuccess := false

	for _, name := range cond.Tasks {
		t, ok := tasks[name]
		if !ok {
			continue
		}
		outcome, _ := task.Run(ctx, t, cond.Name, invoker, logFor(scriptLog, t.Name))

		switch outcome {
		case model.Success:
			hasSuccess = true
			if cond.BreakOnSuccess {
				brokeOnSuccess = true
			}
		case model.Failure:
			hasFailure = true
			if cond.BreakOnFailure {
				return aggregate(brokeOnSuccess, hasFailure, hasSuccess)
			}
		}
		if brokeOnSuccess {
			break
		}
	}

	return aggregate(brokeOnSuccess, hasFailure, hasSuccess)
}

func aggregate(brokeOnSuccess, hasFailure, hasSuccess bool) model.Outcome {
	switch {
	case brokeOnSuccess:
		return model.Success
	case hasFailure:
		return model.Failure
	case hasSuccess:
		return model.Success
	default:
		return model.Undetermined
	}
}

func logFor(factory ScriptLogFactory, taskName string) scripting.Log {
	if factory == nil {
		return scripting.Log{}
	}
	return factory(taskName)
}
