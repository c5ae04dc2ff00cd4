// Package predicate implements the condition variant predicates of spec
// §4.4: a function per variant returning Success/Failure/Undetermined,
// plus the check_after suppression shared by every non-time-deterministic
// variant. Grounded on catrate's debounce-window bookkeeping style
// (_teacher/catrate/limiter.go) for the check_after gate, and reusing
// internal/task's command runner for the Command variant (spec §4.4:
// "the same rules as Command-task").
package predicate

import (
	"context"
	"fmt"
	"time"

	"github.com/taskwarden/taskwarden/internal/idle"
	"github.com/taskwarden/taskwarden/internal/model"
	"github.com/taskwarden/taskwarden/internal/scripting"
	"github.com/taskwarden/taskwarden/internal/task"
)

// Deps bundles the external resources predicate evaluation needs.
type Deps struct {
	Idle    *idle.Detector
	DBus    DBusCaller
	WMI     WMIQuerier
	ScriptLog func(conditionName string) scripting.Log
}

// DBusCaller invokes a DBus method and returns the reply as a tree of
// generic values (spec §4.6). internal/listener's DBus transport
// implements this; kept as an interface here so predicate has no direct
// godbus dependency of its own beyond the variant that needs it.
type DBusCaller interface {
	Call(ctx context.Context, bus, service, object, iface, method string, params []any) ([]any, error)
}

// WMIQuerier runs a WQL query and returns its rows as flat field maps
// (spec §4.7).
type WMIQuerier interface {
	Query(ctx context.Context, query string) ([]map[string]any, error)
}

func isTimeDeterministic(v model.ConditionVariant) bool {
	return v == model.CondInterval || v == model.CondTime || v == model.CondIdle
}

// Check evaluates cond's predicate at instant now, honoring check_after
// suppression for non-time-deterministic variants (spec §4.4 final
// paragraph). On an actual (non-suppressed) evaluation it advances
// cond.State.LastCheckTime to now, which is what lets the Interval
// variant's "update lastCheckTime regardless of outcome" rule and the
// Time variant's "since lastCheckTime" window both work off one field.
func Check(ctx context.Context, cond *model.Condition, now time.Time, deps Deps) (model.Outcome, error) {
	if !isTimeDeterministic(cond.Variant) && cond.CheckAfter > 0 {
		if !cond.State.LastCheckTime.IsZero() && now.Sub(cond.State.LastCheckTime) < cond.CheckAfter {
			return model.Undetermined, nil
		}
	}

	outcome, err := evaluate(ctx, cond, now, deps)
	cond.State.LastCheckTime = now
	return outcome, err
}

func evaluate(ctx context.Context, cond *model.Condition, now time.Time, deps Deps) (model.Outcome, error) {
	switch cond.Variant {
	case model.CondInterval:
		if now.Sub(cond.State.LastCheckTime) >= cond.Interval {
			return model.Success, nil
		}
		return model.Failure, nil

	case model.CondTime:
		if timeConditionDue(cond.Times, cond.State.LastCheckTime, now) {
			return model.Success, nil
		}
		return model.Failure, nil

	case model.CondIdle:
		if deps.Idle == nil {
			return model.Undetermined, fmt.Errorf("predicate: no idle detector configured")
		}
		dur, err := deps.Idle.IdleFor(ctx)
		if err != nil {
			return model.Failure, err
		}
		if dur >= cond.IdleFor {
			return model.Success, nil
		}
		return model.Failure, nil

	case model.CondCommand:
		return task.RunCommand(ctx, cond.Command, "", cond.Name)

	case model.CondScript:
		var log scripting.Log
		if deps.ScriptLog != nil {
			log = deps.ScriptLog(cond.Name)
		}
		ok, err := scripting.RunAndEvaluate(cond.Script.Source, cond.Script.Globals, cond.Script.InitScriptPath, cond.Script.Expected, cond.Script.ExpectAll, cond.Name, "", log)
		if err != nil {
			return model.Failure, err
		}
		if ok {
			return model.Success, nil
		}
		return model.Failure, nil

	case model.CondDBus:
		if deps.DBus == nil {
			return model.Failure, fmt.Errorf("predicate: no dbus transport configured")
		}
		reply, err := deps.DBus.Call(ctx, cond.DBus.Bus, cond.DBus.Service, cond.DBus.Object, cond.DBus.Interface, cond.DBus.Method, cond.DBus.Params)
		if err != nil {
			return model.Failure, err
		}
		if EvaluateParamChecks(reply, cond.DBus.Checks, cond.DBus.CheckAll) {
			return model.Success, nil
		}
		return model.Failure, nil

	case model.CondWMI:
		if deps.WMI == nil {
			return model.Failure, fmt.Errorf("predicate: no wmi transport configured")
		}
		rows, err := deps.WMI.Query(ctx, cond.WMI.Query)
		if err != nil {
			return model.Failure, err
		}
		if EvaluateResultChecks(rows, cond.WMI.Checks, cond.WMI.CheckAll) {
			return model.Success, nil
		}
		return model.Failure, nil

	case model.CondBucket:
		// Dispatch eligibility for a Bucket condition already requires
		// State.Status == Pending (internal/loop); merely being checked
		// here means the bridge fired it.
		return model.Success, nil

	default:
		return model.Undetermined, fmt.Errorf("predicate: unknown condition variant %v", cond.Variant)
	}
}

func weekdayPtrEqual(want *time.Weekday, got time.Weekday) bool {
	return want == nil || *want == got
}

func timeFieldsMatch(pt model.PartialTime, t time.Time) bool {
	if pt.Year != nil && *pt.Year != t.Year() {
		return false
	}
	if pt.Month != nil && time.Month(*pt.Month) != t.Month() {
		return false
	}
	if pt.Day != nil && *pt.Day != t.Day() {
		return false
	}
	if !weekdayPtrEqual(pt.Weekday, t.Weekday()) {
		return false
	}
	if pt.Hour != nil && *pt.Hour != t.Hour() {
		return false
	}
	return true
}

// maxTimeConditionHours bounds the per-check search window for the Time
// variant so a long pause between ticks (e.g. the process being paused
// for days) can't turn one predicate evaluation into an unbounded loop;
// conditions whose spec instantiation would only fall further back than
// this are treated as not due, the same as if they'd never fired.
const maxTimeConditionHours = 24 * 370

// timeConditionDue reports whether any configured partial-time spec's
// instantiation falls in (from, to] (spec §4.4's Time variant). Omitted
// year/month/day/weekday/hour fields are wildcards; omitted minute and
// second default to zero, per the spec's "first minute of the hour /
// first second of the minute" wording — so each spec has at most one
// candidate instant per matching hour.
func timeConditionDue(times []model.PartialTime, from, to time.Time) bool {
	if len(times) == 0 || !to.After(from) {
		return false
	}
	cursor := from.Truncate(time.Hour)
	for i := 0; i < maxTimeConditionHours && !cursor.After(to); i++ {
		for _, pt := range times {
			if !timeFieldsMatch(pt, cursor) {
				continue
			}
			minute := 0
			if pt.Minute != nil {
				minute = *pt.Minute
			}
			second := 0
			if pt.Second != nil {
				second = *pt.Second
			}
			candidate := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), cursor.Hour(), minute, second, 0, cursor.Location())
			if candidate.After(from) && !candidate.After(to) {
				return true
			}
		}
		cursor = cursor.Add(time.Hour)
	}
	return false
}
