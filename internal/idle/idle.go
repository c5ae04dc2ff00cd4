// Package idle detects how long the host has been without user input, for
// the Idle condition (spec §3, §4.4, §9: "cross-platform idle time has two
// possible sources; the implementation must pick one at build time or at
// runtime and fall back gracefully").
package idle

import (
	"context"
	"errors"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// ErrUnsupported is returned when no idle-time source is available on the
// current platform.
var ErrUnsupported = errors.New("idle: no idle-time source available on this platform")

// Source reports the current host idle duration.
type Source func(ctx context.Context) (time.Duration, error)

// Default is the primary source: the time elapsed since the most recent
// session start among the logged-in users reported by host.Users. Where
// that information isn't available, it reports ErrUnsupported so callers
// can fall back (spec §4.4: "fall back to the seconds since session lock").
var Default Source = func(ctx context.Context) (time.Duration, error) {
	users, err := host.UsersWithContext(ctx)
	if err != nil {
		return 0, ErrUnsupported
	}
	var newest int64
	for _, u := range users {
		if int64(u.Started) > newest {
			newest = int64(u.Started)
		}
	}
	if newest == 0 {
		return 0, ErrUnsupported
	}
	started := time.Unix(newest, 0)
	if started.After(time.Now()) {
		return 0, ErrUnsupported
	}
	return time.Since(started), nil
}

// Fallback is the session-lock-seconds probe mentioned in spec §4.4,
// pluggable so platform-specific builds can supply a real implementation
// (e.g. reading the session manager's lock timestamp). Absent such a
// build, it always reports ErrUnsupported, and the Idle predicate then
// returns Failure together with that error rather than guessing.
var Fallback Source = func(ctx context.Context) (time.Duration, error) {
	return 0, ErrUnsupported
}

// Detector resolves an idle duration by trying Default then Fallback.
type Detector struct {
	Primary  Source
	Fallback Source
}

// NewDetector builds a Detector using the package defaults.
func NewDetector() *Detector {
	return &Detector{Primary: Default, Fallback: Fallback}
}

// IdleFor returns the current idle duration, trying the primary source
// first and falling back on ErrUnsupported.
func (d *Detector) IdleFor(ctx context.Context) (time.Duration, error) {
	if d.Primary != nil {
		if dur, err := d.Primary(ctx); err == nil {
			return dur, nil
		} else if !errors.Is(err, ErrUnsupported) {
			return 0, err
		}
	}
	if d.Fallback != nil {
		return d.Fallback(ctx)
	}
	return 0, ErrUnsupported
}
