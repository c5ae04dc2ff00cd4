// Package logging implements the log facade described in spec §6.5: a
// small severity-leveled record type with a structured context, emitted
// either as a human-friendly "[WHEN/STATUS]" line or as one JSON object
// per line.
//
// The facade is deliberately thin compared to the teacher's logiface
// package (github.com/joeycumines/logiface): this module only ever needs
// one concrete backend (github.com/rs/zerolog), so the generic
// Logger/Event/Array abstraction that logiface uses to support multiple
// backends interchangeably buys nothing here. What's kept is the idea
// central to logiface.Level and logiface-zerolog.WithZerolog: a small
// severity enum with a recommended mapping onto the backend's levels,
// wired up by an option-style constructor.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Level mirrors the CLI's --log-level set (spec §6.2), in increasing verbosity.
type Level int8

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func ParseLevel(s string) (Level, bool) {
	switch s {
	case "error":
		return LevelError, true
	case "warn":
		return LevelWarn, true
	case "info":
		return LevelInfo, true
	case "debug":
		return LevelDebug, true
	case "trace":
		return LevelTrace, true
	default:
		return 0, false
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelTrace:
		return zerolog.TraceLevel
	default:
		return zerolog.WarnLevel
	}
}

// When is the message_type.when tag (spec §6.5).
type When string

const (
	WhenInit  When = "INIT"
	WhenStart When = "START"
	WhenProc  When = "PROC"
	WhenEnd   When = "END"
	WhenHist  When = "HIST"
	WhenBusy  When = "BUSY"
	WhenPause When = "PAUSE"
)

// Status is the message_type.status tag (spec §6.5, §7).
type Status string

const (
	StatusOK    Status = "OK"
	StatusFail  Status = "FAIL"
	StatusInd   Status = "IND"
	StatusMsg   Status = "MSG"
	StatusErr   Status = "ERR"
	StatusStart Status = "START"
	StatusEnd   Status = "END"
	StatusYes   Status = "YES"
	StatusNo    Status = "NO"
)

// Format selects the on-wire rendering of log records.
type Format int

const (
	FormatPlain Format = iota
	FormatColor
	FormatJSON
)

// Facade is the application-wide logger. It is safe for concurrent use.
type Facade struct {
	z zerolog.Logger
}

// Options configures New.
type Options struct {
	Writer   io.Writer // defaults to os.Stderr
	Level    Level
	Format   Format
	Quiet    bool // suppresses everything but ERR
}

// New constructs a Facade per the given Options, in the style of
// logiface-zerolog.WithZerolog: pick/construct the zerolog.Logger up front,
// then wrap it.
func New(opts Options) *Facade {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	var out io.Writer
	switch opts.Format {
	case FormatJSON:
		out = w
	default:
		cw := zerolog.ConsoleWriter{Out: w, NoColor: opts.Format != FormatColor, TimeFormat: "2006-01-02T15:04:05Z07:00"}
		out = cw
	}

	lvl := opts.Level.zerolog()
	if opts.Quiet {
		lvl = zerolog.ErrorLevel
	}

	z := zerolog.New(out).Level(lvl).With().Timestamp().Str("application", "taskwarden").Logger()
	return &Facade{z: z}
}

// Context is the context{} record of spec §6.5.
type Context struct {
	Emitter string // component emitting the record, e.g. "scheduler", "executor"
	Action  string // what it was doing, e.g. "check", "run"
	Item    string // item name, e.g. a condition or task name
	ItemID  string // optional secondary identifier, e.g. a task-sequence run id
}

// Record emits a single structured record at the given severity.
func (f *Facade) Record(level Level, ctx Context, when When, status Status, message string) {
	if f == nil {
		return
	}
	ev := f.event(level)
	if ev == nil {
		return
	}
	if ctx.Emitter != "" {
		ev = ev.Str("emitter", ctx.Emitter)
	}
	if ctx.Action != "" {
		ev = ev.Str("action", ctx.Action)
	}
	if ctx.Item != "" {
		ev = ev.Str("item", ctx.Item)
	}
	if ctx.ItemID != "" {
		ev = ev.Str("item_id", ctx.ItemID)
	}
	ev.Str("when", string(when)).
		Str("status", string(status)).
		Msg(message)
}

func (f *Facade) event(level Level) *zerolog.Event {
	switch level {
	case LevelTrace:
		return f.z.Trace()
	case LevelDebug:
		return f.z.Debug()
	case LevelInfo:
		return f.z.Info()
	case LevelWarn:
		return f.z.Warn()
	case LevelError:
		return f.z.Error()
	default:
		return f.z.Warn()
	}
}

// Scoped returns a Facade-like helper bound to a fixed emitter, so callers
// don't repeat it on every record.
type Scoped struct {
	f       *Facade
	emitter string
}

func (f *Facade) Scope(emitter string) Scoped { return Scoped{f: f, emitter: emitter} }

func (s Scoped) Record(level Level, action, item, itemID string, when When, status Status, message string) {
	s.f.Record(level, Context{Emitter: s.emitter, Action: action, Item: item, ItemID: itemID}, when, status, message)
}

func (s Scoped) Trace(action, item string, when When, status Status, message string) {
	s.Record(LevelTrace, action, item, "", when, status, message)
}
func (s Scoped) Debug(action, item string, when When, status Status, message string) {
	s.Record(LevelDebug, action, item, "", when, status, message)
}
func (s Scoped) Info(action, item string, when When, status Status, message string) {
	s.Record(LevelInfo, action, item, "", when, status, message)
}
func (s Scoped) Warn(action, item string, when When, status Status, message string) {
	s.Record(LevelWarn, action, item, "", when, status, message)
}
func (s Scoped) Error(action, item string, when When, status Status, message string) {
	s.Record(LevelError, action, item, "", when, status, message)
}
