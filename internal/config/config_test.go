package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskwarden/taskwarden/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDecode_Minimal(t *testing.T) {
	path := writeConfig(t, `
scheduler_tick_seconds = 10

[[task]]
name = "notify"
type = "command"
executable = "/usr/bin/notify-send"
arguments = ["hi"]

[[condition]]
name = "every_minute"
type = "interval"
interval_seconds = 60
tasks = ["notify"]

[[event]]
name = "fsev"
type = "fschange"
condition = "bucket_cond"

[[condition]]
name = "bucket_cond"
type = "bucket"
tasks = ["notify"]
`)

	doc, err := Decode(path, AllFeatures())
	require.NoError(t, err)
	require.Equal(t, 10, doc.Globals.SchedulerTickSeconds)
	require.Contains(t, doc.Tasks, "notify")
	require.Equal(t, model.TaskCommand, doc.Tasks["notify"].Variant)
	require.Contains(t, doc.Conditions, "every_minute")
	require.Equal(t, model.CondInterval, doc.Conditions["every_minute"].Variant)
	require.Contains(t, doc.Events, "fsev")
	require.Equal(t, "bucket_cond", doc.Events["fsev"].Condition)
}

func TestDecode_UnknownField(t *testing.T) {
	path := writeConfig(t, `
[[task]]
name = "t1"
type = "command"
executable = "/bin/true"
bogus_field = 1
`)
	_, err := Decode(path, AllFeatures())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestDecode_DuplicateTaskName(t *testing.T) {
	path := writeConfig(t, `
[[task]]
name = "t1"
type = "command"
executable = "/bin/true"

[[task]]
name = "t1"
type = "internal"
command = "pause"
`)
	_, err := Decode(path, AllFeatures())
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate task name")
}

func TestDecode_UnknownTaskReference(t *testing.T) {
	path := writeConfig(t, `
[[condition]]
name = "c1"
type = "interval"
interval_seconds = 5
tasks = ["missing"]
`)
	_, err := Decode(path, AllFeatures())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown task")
}

func TestDecode_EventConditionMustBeBucket(t *testing.T) {
	path := writeConfig(t, `
[[condition]]
name = "c1"
type = "interval"
interval_seconds = 5

[[event]]
name = "e1"
type = "fschange"
condition = "c1"
paths = ["/tmp"]
`)
	_, err := Decode(path, AllFeatures())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a bucket condition")
}

func TestDecode_InvalidName(t *testing.T) {
	path := writeConfig(t, `
[[task]]
name = "1bad"
type = "command"
executable = "/bin/true"
`)
	_, err := Decode(path, AllFeatures())
	require.Error(t, err)
}

func TestDecode_DBusFeatureDisabled(t *testing.T) {
	path := writeConfig(t, `
[[condition]]
name = "c1"
type = "dbus"
bus = ":session"
service = "org.example"
object = "/org/example"
interface = "org.example.I"
method = "Ping"
`)
	_, err := Decode(path, Features{DBus: false, WMI: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "dbus feature not compiled in")
}

func TestDecodeDBusValue_Escapes(t *testing.T) {
	require.Equal(t, int64(42), decodeDBusValue(`\i42`))
	require.Equal(t, true, decodeDBusValue(`\btrue`))
	require.Equal(t, "plain", decodeDBusValue("plain"))
	require.Equal(t, float64(1.5), decodeDBusValue(`\d1.5`))

	nested := decodeDBusValue([]any{`\i1`, map[string]any{"k": `\s v`}})
	list, ok := nested.([]any)
	require.True(t, ok)
	require.Equal(t, int64(1), list[0])
	m, ok := list[1].(map[string]any)
	require.True(t, ok)
	require.Equal(t, " v", m["k"])
}
