// Package listener runs the per-event listeners of spec §4.5. Each
// listener owns its own goroutine and only ever posts a notification
// into the bridge; none of them evaluate predicates or run tasks
// directly. Grounded on the teacher's one-goroutine-per-resource
// pattern (_teacher/eventloop/ingress.go's per-source ingestion loop).
package listener

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taskwarden/taskwarden/internal/bridge"
	"github.com/taskwarden/taskwarden/internal/model"
)

// Poster is the bridge's write side, kept as a narrow interface so
// listeners don't need the full bridge.Bridge type for tests.
type Poster interface {
	Post(eventName string)
}

var _ Poster = (*bridge.Bridge)(nil)

// ErrFunc receives a listener's terminal error (spec §7: "listener
// errors ... logged at error; the listener stops; the system keeps
// running").
type ErrFunc func(eventName string, err error)

// Run starts ev's listener and blocks until ctx is cancelled or the
// listener hits a terminal error. The Command variant has no listener
// of its own (spec §4.5); Run returns immediately for it.
func Run(ctx context.Context, ev *model.Event, post Poster, onErr ErrFunc) {
	var err error
	switch ev.Variant {
	case model.EventFSChange:
		err = runFSChange(ctx, ev, post)
	case model.EventDBusSignal:
		err = runDBusSignal(ctx, ev, post)
	case model.EventWMI:
		err = runWMI(ctx, ev, post)
	case model.EventCommand:
		return
	}
	if err != nil && ctx.Err() == nil && onErr != nil {
		onErr(ev.Name, err)
	}
}

func runFSChange(ctx context.Context, ev *model.Event, post Poster) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pollFSChange(ctx, ev, post)
	}
	defer watcher.Close()

	for _, p := range ev.FSChange.Paths {
		if ev.FSChange.Recursive {
			_ = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() {
					_ = watcher.Add(path)
				}
				return nil
			})
		}
		if err := watcher.Add(p); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			_ = evt
			post.Post(ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// pollFSChange is the polling fallback for platforms without a native
// change-notification facility (spec §4.5, §9).
func pollFSChange(ctx context.Context, ev *model.Event, post Poster) error {
	interval := time.Duration(ev.FSChange.PollSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	snapshot := snapshotModTimes(ev.FSChange.Paths, ev.FSChange.Recursive)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			next := snapshotModTimes(ev.FSChange.Paths, ev.FSChange.Recursive)
			if !equalModTimes(snapshot, next) {
				post.Post(ev.Name)
			}
			snapshot = next
		}
	}
}

func snapshotModTimes(paths []string, recursive bool) map[string]time.Time {
	out := make(map[string]time.Time)
	for _, p := range paths {
		if recursive {
			_ = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if info, err := d.Info(); err == nil {
					out[path] = info.ModTime()
				}
				return nil
			})
		} else if info, err := os.Stat(p); err == nil {
			out[p] = info.ModTime()
		}
	}
	return out
}

func equalModTimes(a, b map[string]time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || !bv.Equal(v) {
			return false
		}
	}
	return true
}
