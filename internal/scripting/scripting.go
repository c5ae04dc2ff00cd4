// Package scripting runs embedded script snippets (spec §3 Script task/
// condition, §4.3, §9). Grounded on goja-eventloop/adapter.go's pattern of
// binding Go callables onto a fresh goja.Runtime before executing user
// code; unlike the teacher, each invocation here gets a throwaway runtime
// (spec §9: "each script runs in a fresh interpreter instance, discarded
// at end"), so there is no event loop or Promise machinery to wire up.
package scripting

import (
	"fmt"
	"os"

	"github.com/dop251/goja"

	"github.com/taskwarden/taskwarden/internal/logging"
)

// Log is the object exposed to scripts as the global "log" (spec §4.3).
type Log struct {
	scope logging.Scoped
	item  string
}

// NewLog builds a Log that tags every script log line with item under
// scope (spec §6.5's `item` context field).
func NewLog(scope logging.Scoped, item string) Log {
	return Log{scope: scope, item: item}
}

func (l Log) Trace(msg string) { l.scope.Trace("script", l.item, logging.WhenProc, logging.StatusMsg, msg) }
func (l Log) Debug(msg string) { l.scope.Debug("script", l.item, logging.WhenProc, logging.StatusMsg, msg) }
func (l Log) Info(msg string)  { l.scope.Info("script", l.item, logging.WhenProc, logging.StatusMsg, msg) }
func (l Log) Warn(msg string)  { l.scope.Warn("script", l.item, logging.WhenProc, logging.StatusMsg, msg) }
func (l Log) Error(msg string) { l.scope.Error("script", l.item, logging.WhenProc, logging.StatusMsg, msg) }

// evaluate checks a script's expected-results map against the runtime's
// final global bindings (spec §4.3).
func evaluate(vm *goja.Runtime, expected map[string]any, expectAll bool) bool {
	if len(expected) == 0 {
		return true
	}
	matched := 0
	for name, want := range expected {
		got := vm.Get(name)
		if got == nil {
			if !expectAll {
				continue
			}
			return false
		}
		if equalValue(got.Export(), want) {
			matched++
			if !expectAll {
				return true
			}
		} else if expectAll {
			return false
		}
	}
	if expectAll {
		return matched == len(expected)
	}
	return matched > 0
}

func equalValue(got, want any) bool {
	switch w := want.(type) {
	case int:
		if g, ok := toInt64(got); ok {
			return g == int64(w)
		}
	case int64:
		if g, ok := toInt64(got); ok {
			return g == w
		}
	case float64:
		if g, ok := toFloat64(got); ok {
			return g == w
		}
	}
	return fmt.Sprintf("%v", got) == fmt.Sprintf("%v", want)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// RunAndEvaluate executes a script in a fresh interpreter instance and
// evaluates its expected-results map, returning Success/Failure per spec
// §4.3. globals are bound before initScriptPath runs, which runs before
// source (spec §4.3: "set *before* running the user script"). Binary
// extension loading is never wired in, satisfying spec §9's "disabled for
// safety" requirement simply by never registering a native module loader.
func RunAndEvaluate(source string, globals map[string]any, initScriptPath string, expected map[string]any, expectAll bool, whenCondition, whenTask string, log Log) (success bool, err error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if err := vm.Set("log", &log); err != nil {
		return false, fmt.Errorf("scripting: binding log: %w", err)
	}
	if whenCondition != "" {
		if err := vm.Set("whenever_condition", whenCondition); err != nil {
			return false, fmt.Errorf("scripting: binding whenever_condition: %w", err)
		}
	}
	if whenTask != "" {
		if err := vm.Set("whenever_task", whenTask); err != nil {
			return false, fmt.Errorf("scripting: binding whenever_task: %w", err)
		}
	}
	for k, v := range globals {
		if err := vm.Set(k, v); err != nil {
			return false, fmt.Errorf("scripting: binding global %q: %w", k, err)
		}
	}

	if initScriptPath != "" {
		data, err := os.ReadFile(initScriptPath)
		if err != nil {
			return false, fmt.Errorf("scripting: reading init script: %w", err)
		}
		if _, err := vm.RunString(string(data)); err != nil {
			return false, fmt.Errorf("scripting: running init script: %w", err)
		}
	}

	if _, err := vm.RunString(source); err != nil {
		return false, fmt.Errorf("scripting: running script: %w", err)
	}

	return evaluate(vm, expected, expectAll), nil
}
