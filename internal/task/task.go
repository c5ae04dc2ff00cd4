// Package task runs a single task definition to an Outcome (spec §4.3
// "Per-task outcome determination"). The Command-running logic here is
// reused by internal/predicate for the Command condition variant, which
// spec §4.4 defines as "the same rules as Command-task".
package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/taskwarden/taskwarden/internal/model"
	"github.com/taskwarden/taskwarden/internal/scripting"
)

// Invoker runs an internal command line (the same grammar as control
// channel input commands). internal/control implements this; wiring
// lives in internal/loop to avoid this package depending on control.
type Invoker interface {
	Invoke(line string) error
}

// Run executes t and returns its outcome (spec §4.3). conditionName
// supplies WHENEVER_CONDITION; invoker services Internal tasks.
func Run(ctx context.Context, t *model.Task, conditionName string, invoker Invoker, scriptLog scripting.Log) (model.Outcome, error) {
	switch t.Variant {
	case model.TaskCommand:
		return RunCommand(ctx, t.Command, t.Name, conditionName)
	case model.TaskScript:
		ok, err := scripting.RunAndEvaluate(t.Script.Source, t.Script.Globals, t.Script.InitScriptPath, t.Script.Expected, t.Script.ExpectAll, conditionName, t.Name, scriptLog)
		if err != nil {
			return model.Failure, err
		}
		if ok {
			return model.Success, nil
		}
		return model.Failure, nil
	case model.TaskInternal:
		if invoker == nil {
			return model.Undetermined, errors.New("task: no control invoker configured")
		}
		if err := invoker.Invoke(t.Internal); err != nil {
			return model.Undetermined, err
		}
		return model.Undetermined, nil
	default:
		return model.Undetermined, fmt.Errorf("task: unknown variant %v", t.Variant)
	}
}

// RunCommand spawns spec and determines its outcome by the priority
// order of spec §4.3: explicit success/failure exit codes, then
// stdout/stderr success patterns, then stdout/stderr failure patterns,
// otherwise Undetermined. taskName is empty for a condition-evaluation
// command, in which case only WHENEVER_CONDITION is set (spec §6.4).
func RunCommand(ctx context.Context, spec model.CommandSpec, taskName, conditionName string) (model.Outcome, error) {
	if info, err := os.Stat(spec.StartupDir); err != nil || !info.IsDir() {
		return model.Failure, fmt.Errorf("task: startup directory %q: %w", spec.StartupDir, err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Executable, spec.Args...)
	cmd.Dir = spec.StartupDir
	cmd.Env = buildEnv(spec.Env, taskName, conditionName)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return model.Failure, fmt.Errorf("task: %s: timed out after %ds", spec.Executable, spec.TimeoutSeconds)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return model.Failure, fmt.Errorf("task: running %s: %w", spec.Executable, runErr)
		}
	}

	if spec.SuccessStatus != nil && exitCode == *spec.SuccessStatus {
		return model.Success, nil
	}
	if spec.FailureStatus != nil && exitCode == *spec.FailureStatus {
		return model.Failure, nil
	}
	out, errOut := stdout.String(), stderr.String()
	if matchPattern(spec.StdoutSuccess, out, spec.Match) || matchPattern(spec.StderrSuccess, errOut, spec.Match) {
		return model.Success, nil
	}
	if matchPattern(spec.StdoutFailure, out, spec.Match) || matchPattern(spec.StderrFailure, errOut, spec.Match) {
		return model.Failure, nil
	}
	return model.Undetermined, nil
}

func buildEnv(policy model.EnvPolicy, taskName, conditionName string) []string {
	var env []string
	if policy.Inherit {
		env = append(env, os.Environ()...)
	}
	if policy.SetWhenever {
		if taskName != "" {
			env = append(env, "WHENEVER_TASK="+taskName)
		}
		env = append(env, "WHENEVER_CONDITION="+conditionName)
	}
	for k, v := range policy.Extra {
		env = append(env, k+"="+v)
	}
	return env
}

// matchPattern applies MatchMode to test text against pattern. An empty
// pattern never matches (it means "not configured").
func matchPattern(pattern, text string, mode model.MatchMode) bool {
	if pattern == "" {
		return false
	}
	if mode.RegularExpr {
		expr := pattern
		if !mode.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	}
	if !mode.CaseSensitive {
		pattern = strings.ToLower(pattern)
		text = strings.ToLower(text)
	}
	if mode.Exact {
		return text == pattern
	}
	return strings.Contains(text, pattern)
}
