// Package config loads the TOML configuration file (spec §6.1) into the
// immutable shapes defined by internal/model. Grounded on the teacher's
// general preference for an explicit two-pass decode (raw wire shape, then
// a validating conversion into domain types) seen throughout
// eventloop/options.go's functional-options validation; strict
// unknown-key rejection is BurntSushi/toml's own idiom, via
// toml.MetaData.Undecoded().
package config

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/taskwarden/taskwarden/internal/model"
)

// Features toggles optional subsystems compiled into the binary (spec
// §6.1 "DBus and WMI items referenced without the respective optional
// feature compiled in are load-time errors", §6.2 "--options"). DBus is
// always compiled in; WMI is compiled in only on Windows (see
// internal/listener's wmi.go / wmi_other.go).
type Features struct {
	DBus bool
	WMI  bool
}

// AllFeatures reports every optional feature available in this build:
// DBus always, WMI only on Windows.
func AllFeatures() Features { return Features{DBus: true, WMI: runtime.GOOS == "windows"} }

var nameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Document is the fully decoded, cross-referenced, load-time-validated
// configuration (spec §3, §6.1).
type Document struct {
	Globals    model.Globals
	Tasks      map[string]*model.Task
	Conditions map[string]*model.Condition
	Events     map[string]*model.Event
}

// rawFile mirrors the TOML document's top-level shape.
type rawFile struct {
	SchedulerTickSeconds       *int64 `toml:"scheduler_tick_seconds"`
	RandomizeChecksWithinTicks *bool  `toml:"randomize_checks_within_ticks"`
	Tags                       any    `toml:"tags"`

	Task      []rawTask      `toml:"task"`
	Condition []rawCondition `toml:"condition"`
	Event     []rawEvent     `toml:"event"`
}

type rawTask struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
	Tags any    `toml:"tags"`

	rawCommandSpec
	rawScriptSpec

	Command string `toml:"command"` // internal task's command line
}

type rawCommandSpec struct {
	StartupDirectory        string         `toml:"startup_directory"`
	Executable              string         `toml:"executable"`
	Arguments               []string       `toml:"arguments"`
	SuccessStatus           *int           `toml:"success_status"`
	FailureStatus           *int           `toml:"failure_status"`
	StdoutSuccess           string         `toml:"stdout_success"`
	StdoutFailure           string         `toml:"stdout_failure"`
	StderrSuccess           string         `toml:"stderr_success"`
	StderrFailure           string         `toml:"stderr_failure"`
	MatchExact              bool           `toml:"match_exact"`
	MatchRegularExpression  bool           `toml:"match_regular_expression"`
	CaseSensitive           bool           `toml:"case_sensitive"`
	TimeoutSeconds          int            `toml:"timeout_seconds"`
	EnvInherit              bool           `toml:"env_inherit"`
	EnvSetWhenever          bool           `toml:"env_set_whenever"`
	Env                     map[string]string `toml:"env"`
}

func (r rawCommandSpec) toModel() model.CommandSpec {
	return model.CommandSpec{
		StartupDir:     r.StartupDirectory,
		Executable:     r.Executable,
		Args:           r.Arguments,
		SuccessStatus:  r.SuccessStatus,
		FailureStatus:  r.FailureStatus,
		StdoutSuccess:  r.StdoutSuccess,
		StdoutFailure:  r.StdoutFailure,
		StderrSuccess:  r.StderrSuccess,
		StderrFailure:  r.StderrFailure,
		Match: model.MatchMode{
			Exact:         r.MatchExact,
			RegularExpr:   r.MatchRegularExpression,
			CaseSensitive: r.CaseSensitive,
		},
		TimeoutSeconds: r.TimeoutSeconds,
		Env: model.EnvPolicy{
			Inherit:     r.EnvInherit,
			SetWhenever: r.EnvSetWhenever,
			Extra:       r.Env,
		},
	}
}

type rawScriptSpec struct {
	Script         string         `toml:"script"`
	Expected       map[string]any `toml:"expected"`
	ExpectAll      bool           `toml:"expect_all"`
	Globals        map[string]any `toml:"globals"`
	InitScriptPath string         `toml:"init_script_path"`
}

func (r rawScriptSpec) toModel() model.ScriptSpec {
	return model.ScriptSpec{
		Source:         r.Script,
		Expected:       r.Expected,
		ExpectAll:      r.ExpectAll,
		Globals:        r.Globals,
		InitScriptPath: r.InitScriptPath,
	}
}

type rawPartialTime struct {
	Year    *int   `toml:"year"`
	Month   *int   `toml:"month"`
	Day     *int   `toml:"day"`
	Weekday string `toml:"weekday"`
	Hour    *int   `toml:"hour"`
	Minute  *int   `toml:"minute"`
	Second  *int   `toml:"second"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func (r rawPartialTime) toModel(item string) (model.PartialTime, error) {
	pt := model.PartialTime{Year: r.Year, Month: r.Month, Day: r.Day, Hour: r.Hour, Minute: r.Minute, Second: r.Second}
	if r.Weekday != "" {
		wd, ok := weekdayNames[strings.ToLower(r.Weekday)]
		if !ok {
			return pt, &model.ValidationError{Item: item, Field: "weekday", Message: fmt.Sprintf("unknown weekday %q", r.Weekday)}
		}
		pt.Weekday = &wd
	}
	return pt, nil
}

type rawParamCheck struct {
	Index    any    `toml:"index"`
	Operator string `toml:"operator"`
	Value    any    `toml:"value"`
}

func (r rawParamCheck) toModel() model.ParamCheck {
	var idx []any
	switch v := r.Index.(type) {
	case nil:
	case []any:
		idx = v
	default:
		idx = []any{v}
	}
	return model.ParamCheck{Index: idx, Operator: r.Operator, Value: decodeDBusValue(r.Value)}
}

type rawResultCheck struct {
	Index    *int   `toml:"index"`
	Field    string `toml:"field"`
	Operator string `toml:"operator"`
	Value    any    `toml:"value"`
}

func (r rawResultCheck) toModel() model.ResultCheck {
	return model.ResultCheck{Index: r.Index, Field: r.Field, Operator: r.Operator, Value: r.Value}
}

type rawDBusSpec struct {
	Bus             string          `toml:"bus"`
	Service         string          `toml:"service"`
	Object          string          `toml:"object"`
	Interface       string          `toml:"interface"`
	Method          string          `toml:"method"`
	Params          []any           `toml:"params"`
	Checks            []rawParamCheck `toml:"checks"`
	ParameterCheckAll bool            `toml:"parameter_check_all"`
	SignalMatchRule   string          `toml:"signal_match_rule"`
}

func (r rawDBusSpec) toModel() model.DBusSpec {
	params := make([]any, len(r.Params))
	for i, p := range r.Params {
		params[i] = decodeDBusValue(p)
	}
	checks := make([]model.ParamCheck, len(r.Checks))
	for i, c := range r.Checks {
		checks[i] = c.toModel()
	}
	return model.DBusSpec{
		Bus: r.Bus, Service: r.Service, Object: r.Object, Interface: r.Interface, Method: r.Method,
		Params: params, Checks: checks, CheckAll: r.ParameterCheckAll, SignalMatchRule: r.SignalMatchRule,
	}
}

type rawWMISpec struct {
	Query          string           `toml:"query"`
	EventQuery     string           `toml:"event_query"`
	ResultChecks   []rawResultCheck `toml:"result_checks"`
	ResultCheckAll bool             `toml:"result_check_all"`
}

func (r rawWMISpec) toModel() model.WMISpec {
	checks := make([]model.ResultCheck, len(r.ResultChecks))
	for i, c := range r.ResultChecks {
		checks[i] = c.toModel()
	}
	return model.WMISpec{Query: r.Query, EventQuery: r.EventQuery, Checks: checks, CheckAll: r.ResultCheckAll}
}

type rawCondition struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
	Tags any    `toml:"tags"`

	Recurring             bool     `toml:"recurring"`
	MaxTasksRetries       *int     `toml:"max_tasks_retries"`
	ExecuteSequence       bool     `toml:"execute_sequence"`
	BreakOnSuccess        bool     `toml:"break_on_success"`
	BreakOnFailure        bool     `toml:"break_on_failure"`
	Suspended             bool     `toml:"suspended"`
	Tasks                 []string `toml:"tasks"`
	CheckAfterSeconds     int      `toml:"check_after_seconds"`
	RecurAfterFailedCheck bool     `toml:"recur_after_failed_check"`

	IntervalSeconds int              `toml:"interval_seconds"`
	Times           []rawPartialTime `toml:"times"`
	IdleSeconds     int              `toml:"idle_seconds"`

	rawCommandSpec
	rawScriptSpec
	rawDBusSpec
	rawWMISpec
}

type rawEvent struct {
	Name      string `toml:"name"`
	Type      string `toml:"type"`
	Tags      any    `toml:"tags"`
	Condition string `toml:"condition"`

	Paths       []string `toml:"paths"`
	Recursive   bool     `toml:"recursive"`
	PollSeconds int      `toml:"poll_seconds"`

	rawDBusSpec
	rawWMISpec
}

// Decode reads and validates the configuration file at path. On any
// error the returned Document is nil (spec §4.8, §7: "On any parse or
// validation error, the live configuration is not modified").
func Decode(path string, features Features) (*Document, error) {
	var raw rawFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown field(s): %s", strings.Join(keys, ", "))
	}

	var errs *multierror.Error

	globals := model.DefaultGlobals()
	if raw.SchedulerTickSeconds != nil {
		if *raw.SchedulerTickSeconds <= 0 {
			errs = multierror.Append(errs, &model.ValidationError{Item: "globals", Field: "scheduler_tick_seconds", Message: "must be positive"})
		} else {
			globals.SchedulerTickSeconds = int(*raw.SchedulerTickSeconds)
		}
	}
	if raw.RandomizeChecksWithinTicks != nil {
		globals.RandomizeChecksWithinTicks = *raw.RandomizeChecksWithinTicks
	}

	tasks := make(map[string]*model.Task, len(raw.Task))
	for _, rt := range raw.Task {
		t, err := convertTask(rt)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if _, dup := tasks[t.Name]; dup {
			errs = multierror.Append(errs, &model.ValidationError{Item: t.Name, Message: "duplicate task name"})
			continue
		}
		tasks[t.Name] = t
	}

	conditions := make(map[string]*model.Condition, len(raw.Condition))
	for _, rc := range raw.Condition {
		c, err := convertCondition(rc, features)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if _, dup := conditions[c.Name]; dup {
			errs = multierror.Append(errs, &model.ValidationError{Item: c.Name, Message: "duplicate condition name"})
			continue
		}
		conditions[c.Name] = c
	}

	events := make(map[string]*model.Event, len(raw.Event))
	for _, re := range raw.Event {
		e, err := convertEvent(re, features)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if _, dup := events[e.Name]; dup {
			errs = multierror.Append(errs, &model.ValidationError{Item: e.Name, Message: "duplicate event name"})
			continue
		}
		events[e.Name] = e
	}

	// Cross-reference validation (spec §3 "referenced before use and verified at load time").
	for _, c := range conditions {
		for _, taskName := range c.Tasks {
			if _, ok := tasks[taskName]; !ok {
				errs = multierror.Append(errs, &model.ValidationError{Item: c.Name, Field: "tasks", Message: fmt.Sprintf("unknown task %q", taskName)})
			}
		}
	}
	for _, e := range events {
		cond, ok := conditions[e.Condition]
		if !ok {
			errs = multierror.Append(errs, &model.ValidationError{Item: e.Name, Field: "condition", Message: fmt.Sprintf("unknown condition %q", e.Condition)})
			continue
		}
		if cond.Variant != model.CondBucket {
			errs = multierror.Append(errs, &model.ValidationError{Item: e.Name, Field: "condition", Message: fmt.Sprintf("condition %q is not a bucket condition", e.Condition)})
		}
	}

	if errs.ErrorOrNil() != nil {
		return nil, errs
	}

	return &Document{Globals: globals, Tasks: tasks, Conditions: conditions, Events: events}, nil
}

func validateName(kind, name string) error {
	if !nameRE.MatchString(name) {
		return &model.ValidationError{Item: name, Field: "name", Message: fmt.Sprintf("%s name must start with a letter and contain only letters, digits, underscore", kind)}
	}
	return nil
}

func convertTask(r rawTask) (*model.Task, error) {
	if err := validateName("task", r.Name); err != nil {
		return nil, err
	}
	t := &model.Task{Name: r.Name}
	switch r.Type {
	case "command":
		t.Variant = model.TaskCommand
		t.Command = r.rawCommandSpec.toModel()
	case "script":
		t.Variant = model.TaskScript
		t.Script = r.rawScriptSpec.toModel()
	case "internal":
		t.Variant = model.TaskInternal
		t.Internal = r.Command
	default:
		return nil, &model.ValidationError{Item: r.Name, Field: "type", Message: fmt.Sprintf("unknown task type %q", r.Type)}
	}
	return t, nil
}

func convertCondition(r rawCondition, features Features) (*model.Condition, error) {
	if err := validateName("condition", r.Name); err != nil {
		return nil, err
	}
	retries := -1
	if r.MaxTasksRetries != nil {
		retries = *r.MaxTasksRetries
	}
	if retries < -1 {
		return nil, &model.ValidationError{Item: r.Name, Field: "max_tasks_retries", Message: "must be >= -1"}
	}

	c := &model.Condition{
		Name:                  r.Name,
		Recurring:             r.Recurring,
		MaxTasksRetries:       retries,
		ExecuteSequence:       r.ExecuteSequence,
		BreakOnSuccess:        r.BreakOnSuccess,
		BreakOnFailure:        r.BreakOnFailure,
		Suspended:             r.Suspended,
		Tasks:                 r.Tasks,
		CheckAfter:            time.Duration(r.CheckAfterSeconds) * time.Second,
		RecurAfterFailedCheck: r.RecurAfterFailedCheck,
	}

	var errs *multierror.Error
	switch r.Type {
	case "interval":
		c.Variant = model.CondInterval
		c.Interval = time.Duration(r.IntervalSeconds) * time.Second
	case "time":
		c.Variant = model.CondTime
		for _, rt := range r.Times {
			pt, err := rt.toModel(r.Name)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			c.Times = append(c.Times, pt)
		}
	case "idle":
		c.Variant = model.CondIdle
		c.IdleFor = time.Duration(r.IdleSeconds) * time.Second
	case "command":
		c.Variant = model.CondCommand
		c.Command = r.rawCommandSpec.toModel()
	case "script":
		c.Variant = model.CondScript
		c.Script = r.rawScriptSpec.toModel()
	case "dbus":
		if !features.DBus {
			return nil, &model.ValidationError{Item: r.Name, Field: "type", Message: "dbus feature not compiled in"}
		}
		c.Variant = model.CondDBus
		c.DBus = r.rawDBusSpec.toModel()
	case "wmi":
		if !features.WMI {
			return nil, &model.ValidationError{Item: r.Name, Field: "type", Message: "wmi feature not compiled in"}
		}
		c.Variant = model.CondWMI
		c.WMI = r.rawWMISpec.toModel()
	case "bucket":
		c.Variant = model.CondBucket
	default:
		return nil, &model.ValidationError{Item: r.Name, Field: "type", Message: fmt.Sprintf("unknown condition type %q", r.Type)}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	c.State = model.State{Status: model.StatusIdle, RemainingRetries: retries}
	if c.Suspended {
		c.State.Status = model.StatusSuspended
	}
	return c, nil
}

func convertEvent(r rawEvent, features Features) (*model.Event, error) {
	if err := validateName("event", r.Name); err != nil {
		return nil, err
	}
	if r.Condition == "" {
		return nil, &model.ValidationError{Item: r.Name, Field: "condition", Message: "required"}
	}
	e := &model.Event{Name: r.Name, Condition: r.Condition}
	switch r.Type {
	case "fschange":
		e.Variant = model.EventFSChange
		e.FSChange = model.FSChangeSpec{Paths: r.Paths, Recursive: r.Recursive, PollSeconds: r.PollSeconds}
	case "dbussignal":
		if !features.DBus {
			return nil, &model.ValidationError{Item: r.Name, Field: "type", Message: "dbus feature not compiled in"}
		}
		e.Variant = model.EventDBusSignal
		e.DBus = r.rawDBusSpec.toModel()
	case "wmi":
		if !features.WMI {
			return nil, &model.ValidationError{Item: r.Name, Field: "type", Message: "wmi feature not compiled in"}
		}
		e.Variant = model.EventWMI
		e.WMI = r.rawWMISpec.toModel()
	case "command":
		e.Variant = model.EventCommand
	default:
		return nil, &model.ValidationError{Item: r.Name, Field: "type", Message: fmt.Sprintf("unknown event type %q", r.Type)}
	}
	return e, nil
}

// dbusSigEscapes maps the `\<sig>` scalar-type escape prefix (spec §6.1)
// onto a conversion function applied to the remainder of the string.
var dbusSigEscapes = map[byte]func(string) (any, bool){
	'b': func(s string) (any, bool) { return s == "true", true },
	'y': func(s string) (any, bool) { return parseTypedInt(s) },
	'n': func(s string) (any, bool) { return parseTypedInt(s) },
	'q': func(s string) (any, bool) { return parseTypedInt(s) },
	'i': func(s string) (any, bool) { return parseTypedInt(s) },
	'u': func(s string) (any, bool) { return parseTypedInt(s) },
	'x': func(s string) (any, bool) { return parseTypedInt(s) },
	't': func(s string) (any, bool) { return parseTypedInt(s) },
	'd': func(s string) (any, bool) { return parseTypedFloat(s) },
	's': func(s string) (any, bool) { return s, true },
	'o': func(s string) (any, bool) { return s, true },
	'g': func(s string) (any, bool) { return s, true },
}

func parseTypedInt(s string) (any, bool) {
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return nil, false
	}
	return n, true
}

func parseTypedFloat(s string) (any, bool) {
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return nil, false
	}
	return f, true
}

// decodeDBusValue applies the TOML→DBus type mapping (Boolean→BOOLEAN,
// Integer→I64, Float→F64, String→STRING, List→ARRAY, Table→DICTIONARY)
// and the `\<sig>` escape for outbound DBus values (spec §4.6, §6.1).
// TOML's own decoder already produces native Go bool/int64/float64/
// string/[]any/map[string]any values, so this only needs to rewrite the
// escape-prefixed strings; every other shape passes through unchanged.
func decodeDBusValue(v any) any {
	switch x := v.(type) {
	case string:
		if len(x) >= 2 && x[0] == '\\' {
			if conv, ok := dbusSigEscapes[x[1]]; ok {
				if out, ok := conv(x[2:]); ok {
					return out
				}
			}
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = decodeDBusValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = decodeDBusValue(e)
		}
		return out
	default:
		return x
	}
}
