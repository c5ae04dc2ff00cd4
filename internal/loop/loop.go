// Package loop implements the scheduler described in spec §4.1: a tick
// loop that drains fired events into their Bucket conditions, dispatches
// eligible conditions through the predicate/statemachine/executor
// pipeline, and exposes the control-channel operations (pause, resume,
// trigger, reconfigure, ...) that drive it from the outside.
package loop

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/taskwarden/taskwarden/internal/bridge"
	"github.com/taskwarden/taskwarden/internal/config"
	"github.com/taskwarden/taskwarden/internal/control"
	"github.com/taskwarden/taskwarden/internal/executor"
	"github.com/taskwarden/taskwarden/internal/idle"
	"github.com/taskwarden/taskwarden/internal/listener"
	"github.com/taskwarden/taskwarden/internal/logging"
	"github.com/taskwarden/taskwarden/internal/model"
	"github.com/taskwarden/taskwarden/internal/predicate"
	"github.com/taskwarden/taskwarden/internal/registry"
	"github.com/taskwarden/taskwarden/internal/scripting"
	"github.com/taskwarden/taskwarden/internal/statemachine"
)

// dbusCaller adapts listener's DBus method-call helper to
// predicate.DBusCaller without internal/listener importing
// internal/predicate's interface type.
type dbusCaller struct{}

func (dbusCaller) Call(ctx context.Context, bus, service, object, iface, method string, params []any) ([]any, error) {
	return listener.Call(ctx, bus, service, object, iface, method, params)
}

type wmiQuerier struct{}

func (wmiQuerier) Query(ctx context.Context, query string) ([]map[string]any, error) {
	return listener.Query(ctx, query)
}

// Scheduler owns the live registries and per-condition state machines
// and runs the tick loop. It implements control.SchedulerOps so the
// same dispatch surface drives both the control channel and Internal
// tasks.
type Scheduler struct {
	mu sync.Mutex

	tasks      *registry.Store[*model.Task]
	conditions *registry.Store[*model.Condition]
	events     *registry.Store[*model.Event]

	handles      map[string]*statemachine.Handle
	eventCancels map[string]context.CancelFunc

	bridge  *bridge.Bridge
	globals model.Globals
	log     logging.Scoped
	idle    *idle.Detector

	paused    bool
	exiting   bool
	immediate bool

	wg         sync.WaitGroup // in-flight condition checks / task sequences
	listenerWG sync.WaitGroup // event listeners

	configPath  string
	listenerCtx context.Context

	ctrl *control.Controller
}

// New builds a Scheduler from a decoded configuration document.
func New(doc *config.Document, log logging.Scoped) *Scheduler {
	s := &Scheduler{
		tasks:        registry.NewStore[*model.Task](),
		conditions:   registry.NewStore[*model.Condition](),
		events:       registry.NewStore[*model.Event](),
		handles:      make(map[string]*statemachine.Handle),
		eventCancels: make(map[string]context.CancelFunc),
		bridge:       bridge.New(),
		globals:      doc.Globals,
		log:          log,
		idle:         idle.NewDetector(),
	}
	s.listenerCtx = context.Background()
	now := time.Now()
	for name, t := range doc.Tasks {
		s.tasks.Put(name, t)
	}
	for name, c := range doc.Conditions {
		s.conditions.Put(name, c)
		s.handles[name] = statemachine.New(c, now)
	}
	for name, e := range doc.Events {
		s.events.Put(name, e)
	}
	s.ctrl = control.New(s)
	return s
}

// Controller returns the control-command interpreter bound to this
// scheduler, for wiring to the control channel (spec §6.3) in cmd/taskwardend.
func (s *Scheduler) Controller() *control.Controller {
	return s.ctrl
}

// Run starts every event listener and runs the tick loop until ctx is
// canceled or ExitImmediate/ExitGraceful completes. It returns once all
// work has wound down.
//
// Shutdown has two independently cancellable trees, per spec §4.1 step 5:
// dispatchCtx covers in-flight condition checks and task sequences,
// listenerCtx covers event listeners. A graceful exit stops accepting
// new checks, waits for dispatchCtx's work to finish, and only then
// cancels listenerCtx; an immediate exit cancels dispatchCtx up front so
// in-flight work unwinds as fast as it can, then still waits for both
// trees to actually finish.
func (s *Scheduler) Run(ctx context.Context) {
	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()
	listenerCtx, cancelListeners := context.WithCancel(ctx)
	defer cancelListeners()

	s.mu.Lock()
	s.listenerCtx = listenerCtx
	s.mu.Unlock()

	for _, name := range s.events.Names() {
		s.startListener(listenerCtx, name)
	}

	interval := time.Duration(s.globals.SchedulerTickSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	shutdown := func(immediate bool) {
		if immediate {
			cancelDispatch()
		}
		s.wg.Wait()
		cancelListeners()
		s.listenerWG.Wait()
	}

	for {
		select {
		case <-ctx.Done():
			shutdown(true)
			return
		case <-ticker.C:
			s.mu.Lock()
			exiting := s.exiting
			immediate := s.immediate
			paused := s.paused
			s.mu.Unlock()
			if exiting {
				shutdown(immediate)
				return
			}
			if paused {
				continue
			}
			s.tick(dispatchCtx, interval)
		}
	}
}

func (s *Scheduler) startListener(ctx context.Context, name string) {
	ev, ok := s.events.Get(name)
	if !ok {
		return
	}
	evCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.eventCancels[name] = cancel
	s.mu.Unlock()

	s.listenerWG.Add(1)
	go func() {
		defer s.listenerWG.Done()
		listener.Run(evCtx, ev, s.bridge, func(eventName string, err error) {
			s.log.Warn("listener", eventName, logging.WhenProc, logging.StatusErr, err.Error())
		})
	}()
}

func (s *Scheduler) currentListenerCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenerCtx
}

func (s *Scheduler) getHandle(name string) (*statemachine.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[name]
	return h, ok
}

func (s *Scheduler) setHandle(name string, h *statemachine.Handle) {
	s.mu.Lock()
	s.handles[name] = h
	s.mu.Unlock()
}

func (s *Scheduler) deleteHandle(name string) {
	s.mu.Lock()
	delete(s.handles, name)
	s.mu.Unlock()
}

func (s *Scheduler) stopListener(name string) {
	s.mu.Lock()
	cancel, ok := s.eventCancels[name]
	delete(s.eventCancels, name)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// tick drains the bridge into Bucket conditions, then dispatches every
// condition whose state machine currently admits a check (spec §4.1,
// §4.2).
func (s *Scheduler) tick(ctx context.Context, within time.Duration) {
	for _, eventName := range s.bridge.Drain() {
		ev, ok := s.events.Get(eventName)
		if !ok {
			continue
		}
		if h, ok := s.getHandle(ev.Condition); ok {
			h.MarkPending()
		}
	}

	now := time.Now()
	for _, name := range s.conditions.Names() {
		cond, ok := s.conditions.Get(name)
		if !ok {
			continue
		}
		handle, ok := s.getHandle(name)
		if !ok || !handle.TryBeginCheck() {
			continue
		}
		s.wg.Add(1)
		go s.dispatch(ctx, name, cond, handle, now, within)
	}
}

// dispatch runs one condition's predicate check and, if it enters
// Running, its task sequence/set (spec §4.2, §4.3). Interval/Time/Idle
// are time-deterministic and run immediately; every other variant may
// be jittered within the tick window when randomize_checks_within_ticks
// is set (spec §4.1).
func (s *Scheduler) dispatch(ctx context.Context, name string, cond *model.Condition, handle *statemachine.Handle, now time.Time, within time.Duration) {
	defer s.wg.Done()

	if s.globals.RandomizeChecksWithinTicks && !isTimeDeterministic(cond.Variant) {
		if d := jitterDuration(within); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return
			}
		}
	}

	deps := predicate.Deps{
		Idle: s.idle,
		DBus: dbusCaller{},
		WMI:  wmiQuerier{},
		ScriptLog: func(conditionName string) scripting.Log {
			return scripting.NewLog(s.log, conditionName)
		},
	}

	outcome, err := predicate.Check(ctx, cond, time.Now(), deps)
	if err != nil {
		s.log.Warn("predicate", name, logging.WhenProc, logging.StatusErr, err.Error())
	}

	if !handle.FinishCheck(outcome) {
		return
	}

	aggregate := executor.Run(ctx, cond, s.tasks.Snapshot(), s.ctrl, func(taskName string) scripting.Log {
		return scripting.NewLog(s.log, taskName)
	}, s.log)
	handle.FinishRun(aggregate, time.Now())
}

func isTimeDeterministic(v model.ConditionVariant) bool {
	switch v {
	case model.CondInterval, model.CondTime, model.CondIdle:
		return true
	default:
		return false
	}
}

// jitterDuration picks a uniformly random point strictly within [0, within).
func jitterDuration(within time.Duration) time.Duration {
	if within <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(within)))
}

// --- control.SchedulerOps ---

func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.log.Info("scheduler", "", logging.WhenPause, logging.StatusOK, "paused")
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.log.Info("scheduler", "", logging.WhenPause, logging.StatusOK, "resumed")
}

func (s *Scheduler) ExitGraceful() {
	s.mu.Lock()
	s.exiting = true
	s.mu.Unlock()
}

func (s *Scheduler) ExitImmediate() {
	s.mu.Lock()
	s.exiting = true
	s.immediate = true
	s.mu.Unlock()
}

func (s *Scheduler) ResetConditions(names ...string) {
	now := time.Now()
	targets := names
	if len(targets) == 0 {
		targets = s.conditions.Names()
	}
	for _, name := range targets {
		if h, ok := s.getHandle(name); ok {
			h.Reset(now)
		}
	}
}

func (s *Scheduler) SuspendCondition(name string) error {
	h, ok := s.getHandle(name)
	if !ok {
		return fmt.Errorf("loop: unknown condition %q", name)
	}
	h.Suspend()
	return nil
}

func (s *Scheduler) ResumeCondition(name string) error {
	h, ok := s.getHandle(name)
	if !ok {
		return fmt.Errorf("loop: unknown condition %q", name)
	}
	h.Resume(time.Now())
	return nil
}

// Trigger fires a Command-type event by name (spec §6.3: "Fire a
// Command-type event only; otherwise ignored with warning"). Any other
// variant returns an error for the caller to log at warn and ignore.
func (s *Scheduler) Trigger(eventName string) error {
	ev, ok := s.events.Get(eventName)
	if !ok {
		return fmt.Errorf("loop: unknown event %q", eventName)
	}
	if ev.Variant != model.EventCommand {
		return fmt.Errorf("loop: trigger ignored: event %q is not a command event", eventName)
	}
	h, ok := s.getHandle(ev.Condition)
	if !ok {
		return fmt.Errorf("loop: event %q has no bucket condition %q", eventName, ev.Condition)
	}
	h.MarkPending()
	return nil
}

// Configure reloads the configuration file at path and applies the diff
// between the live registries and the new document (spec §4.8).
func (s *Scheduler) Configure(path string) error {
	doc, err := config.Decode(path, config.AllFeatures())
	if err != nil {
		return fmt.Errorf("loop: reconfigure: %w", err)
	}
	s.applyReconfigure(doc)
	s.configPath = path
	return nil
}

func (s *Scheduler) applyReconfigure(doc *config.Document) {
	now := time.Now()

	taskPlan := registry.Diff(s.tasks.Snapshot(), doc.Tasks, taskDefEqual)
	for _, item := range taskPlan.Items {
		switch item.Action {
		case registry.ActionAdd, registry.ActionReplace:
			s.tasks.Put(item.Name, item.New)
		case registry.ActionRemove:
			s.tasks.Delete(item.Name)
		}
	}

	condPlan := registry.Diff(s.conditions.Snapshot(), doc.Conditions, conditionDefEqual)
	for _, item := range condPlan.Items {
		switch item.Action {
		case registry.ActionAdd:
			s.conditions.Put(item.Name, item.New)
			s.setHandle(item.Name, statemachine.New(item.New, now))
		case registry.ActionReplace:
			s.conditions.Put(item.Name, item.New)
			s.setHandle(item.Name, statemachine.New(item.New, now))
		case registry.ActionRemove:
			s.conditions.Delete(item.Name)
			s.deleteHandle(item.Name)
		}
	}

	evPlan := registry.Diff(s.events.Snapshot(), doc.Events, eventDefEqual)
	for _, item := range evPlan.Items {
		switch item.Action {
		case registry.ActionAdd:
			s.events.Put(item.Name, item.New)
			s.startListener(s.currentListenerCtx(), item.Name)
		case registry.ActionReplace:
			s.stopListener(item.Name)
			s.events.Put(item.Name, item.New)
			s.startListener(s.currentListenerCtx(), item.Name)
		case registry.ActionRemove:
			s.stopListener(item.Name)
			s.events.Delete(item.Name)
		}
	}
}

func taskDefEqual(a, b *model.Task) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(*a, *b)
}

func eventDefEqual(a, b *model.Event) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(*a, *b)
}

// conditionDefEqual compares conditions by definition only, ignoring
// the mutable State the state machine owns.
func conditionDefEqual(a, b *model.Condition) bool {
	if a == nil || b == nil {
		return a == b
	}
	ac, bc := *a, *b
	ac.State = model.State{}
	bc.State = model.State{}
	return reflect.DeepEqual(ac, bc)
}
