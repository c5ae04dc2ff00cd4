// Package statemachine owns a single condition's mutable State and
// implements its lifecycle transitions (spec §3 "Ownership: ... the
// state machine exclusively owns the mutable state of each condition",
// §4.2). Each Handle serializes its own transitions behind a mutex,
// matching spec §5's "each condition's mutable state is guarded by a
// per-condition lock; no cross-condition locks" — grounded on the
// teacher's atomic/CAS-guarded FastState
// (_teacher/eventloop/state.go), simplified to a plain mutex. The mutex
// is held only for each transition; predicate I/O and task sequences run
// outside it, and the Busy flag keeps the condition out of Checking
// while they do.
package statemachine

import (
	"sync"
	"time"

	"github.com/taskwarden/taskwarden/internal/model"
)

// Handle wraps a condition's configuration and mutable state with the
// lock that serializes its transitions.
type Handle struct {
	mu   sync.Mutex
	Cond *model.Condition
}

// New builds a Handle for cond, initializing its runtime state from
// configuration (spec §3 Mutable state defaults). now is the process
// start (or reconfiguration) instant, used as the check_after/interval
// baseline.
func New(cond *model.Condition, now time.Time) *Handle {
	cond.State = model.State{
		Status:           model.StatusIdle,
		LastCheckTime:    now,
		RemainingRetries: cond.MaxTasksRetries,
	}
	if cond.Suspended {
		cond.State.Status = model.StatusSuspended
	}
	return &Handle{Cond: cond}
}

// TryBeginCheck attempts the Idle/Pending → Checking transition (spec
// §4.2). It reports whether the check should proceed; on false the
// caller must not evaluate the predicate or run tasks.
func (h *Handle) TryBeginCheck() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &h.Cond.State
	if s.Busy || s.Status.Terminal() || s.Status == model.StatusSuspended {
		return false
	}
	if h.Cond.Variant == model.CondBucket && s.Status != model.StatusPending {
		return false
	}
	if s.Status != model.StatusIdle && s.Status != model.StatusPending {
		return false
	}
	s.Busy = true
	s.Status = model.StatusChecking
	return true
}

// FinishCheck applies the Checking → {Idle, Running} transition given
// the predicate's outcome, and reports whether the task sequence should
// now run.
func (h *Handle) FinishCheck(outcome model.Outcome) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &h.Cond.State

	if outcome != model.Success {
		s.Status = model.StatusIdle
		s.Busy = false
		s.LastSuccessStable = false
		return false
	}

	suppressed := h.Cond.Recurring && h.Cond.RecurAfterFailedCheck && s.LastSuccessStable
	if suppressed {
		s.Status = model.StatusIdle
		s.Busy = false
		s.LastSuccessStable = true
		return false
	}

	s.Status = model.StatusRunning
	return true
}

// FinishRun applies the Running → {Idle, Succeeded, Exhausted}
// transition given the task sequence's aggregate outcome (spec §4.2). A
// genuine recurring success sets lastSuccessStable, which is what lets
// FinishCheck's recur_after_failed_check suppression actually engage on
// the next check.
func (h *Handle) FinishRun(aggregate model.Outcome, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &h.Cond.State
	s.LastTaskOutcome = aggregate
	s.Busy = false

	if h.Cond.Recurring {
		s.Status = model.StatusIdle
		if aggregate == model.Success {
			s.LastFireTime = now
			s.LastSuccessStable = true
		}
		return
	}

	if aggregate == model.Success {
		s.Status = model.StatusSucceeded
		s.LastFireTime = now
		return
	}

	switch {
	case s.RemainingRetries == 0:
		s.Status = model.StatusExhausted
	case s.RemainingRetries > 0:
		s.RemainingRetries--
		s.Status = model.StatusIdle
	default: // -1: unlimited retries
		s.Status = model.StatusIdle
	}
}

// Reset applies spec §3's reset semantics: Idle, retries restored,
// lastSuccessStable cleared, check_after/interval baseline rebased to
// now. The caller is responsible for not calling Reset while Busy is
// true (spec §5: "reset on a busy condition is recorded and applied
// after the current check/run completes").
func (h *Handle) Reset(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &h.Cond.State
	s.Status = model.StatusIdle
	s.RemainingRetries = h.Cond.MaxTasksRetries
	s.LastSuccessStable = false
	s.LastCheckTime = now
}

// Suspend moves the condition to Suspended, regardless of its prior
// status. A condition suspended mid-check or mid-run remains Busy until
// that work finishes; Busy continues to block re-entry to Checking.
func (h *Handle) Suspend() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Cond.State.Status = model.StatusSuspended
}

// Resume un-suspends and performs a full reset (spec §6.3: "resume
// implies reset").
func (h *Handle) Resume(now time.Time) {
	h.Reset(now)
}

// MarkPending applies the bridge-drain transition for a Bucket condition
// (spec §4.1 step 2): only an idle, unsuspended, non-terminal condition
// can be marked.
func (h *Handle) MarkPending() {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &h.Cond.State
	if s.Busy || s.Status.Terminal() || s.Status == model.StatusSuspended {
		return
	}
	if s.Status == model.StatusIdle {
		s.Status = model.StatusPending
	}
}

// Snapshot returns a copy of the condition's current state for reads
// (logging, control-channel introspection) without holding the lock
// across the caller's own work.
func (h *Handle) Snapshot() model.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Cond.State
}
