// Package autosave schedules persistence of editor state under competing
// triggers. Each trigger type owns an independent debounce timer; fired
// timers enqueue save tasks into a priority queue with a single
// execution slot, retried with linear backoff on failure.
package autosave

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"redline/engine/internal/util"
)

// Trigger is the cause of a save request.
type Trigger string

const (
	TriggerUserInput  Trigger = "user_input"
	TriggerAIContent  Trigger = "ai_content"
	TriggerPeriodic   Trigger = "periodic"
	TriggerFileSwitch Trigger = "file_switch"
	TriggerWindowBlur Trigger = "window_blur"
	TriggerAppClose   Trigger = "app_close"
	TriggerManual     Trigger = "manual"
)

// ParseTrigger maps a wire string onto a Trigger.
func ParseTrigger(s string) (Trigger, error) {
	switch Trigger(s) {
	case TriggerUserInput, TriggerAIContent, TriggerPeriodic,
		TriggerFileSwitch, TriggerWindowBlur, TriggerAppClose, TriggerManual:
		return Trigger(s), nil
	}
	return "", fmt.Errorf("unknown trigger %q", s)
}

// State is the scheduler's externally visible save state.
type State string

const (
	StateIdle     State = "idle"
	StatePending  State = "pending"
	StateSaving   State = "saving"
	StateSuccess  State = "success"
	StateError    State = "error"
	StateRetrying State = "retrying"
)

// Config tunes the scheduler. It is live-reconfigurable via Configure.
type Config struct {
	UserInputDelay   time.Duration
	AIContentDelay   time.Duration
	PeriodicInterval time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	Enabled          bool
}

// TaskInfo identifies the save attempt handed to a SaveFunc.
type TaskInfo struct {
	ID         string
	Trigger    Trigger
	RetryCount int
}

// SaveFunc persists a captured snapshot. It may block on I/O; the
// scheduler imposes no timeout of its own and relies on the callback's
// own deadlines plus the retry budget.
type SaveFunc func(ctx context.Context, info TaskInfo, content, state []byte) error

// SnapshotSource yields the document snapshot a task will persist.
type SnapshotSource interface {
	Snapshot() (content, state []byte)
}

// Status is the observable save state published to subscribers.
type Status struct {
	State             State     `json:"state"`
	LastSavedAt       time.Time `json:"lastSavedAt"`
	HasUnsavedChanges bool      `json:"hasUnsavedChanges"`
	LastError         string    `json:"lastError,omitempty"`
}

type task struct {
	id         string
	trigger    Trigger
	content    []byte
	state      []byte
	createdAt  time.Time
	priority   int
	retryCount int
}

// Scheduler coordinates debounce timers, the save queue and retries for
// one open document.
type Scheduler struct {
	source SnapshotSource
	save   SaveFunc

	mu          sync.Mutex
	cfg         Config
	timers      map[Trigger]*time.Timer
	periodic    *time.Timer
	retryTimer  *time.Timer
	queue       []*task
	inFlight    *task
	status      Status
	lastContent []byte
	subs        map[int]func(Status)
	nextSub     int
	closed      bool
}

// New creates a scheduler persisting snapshots of source through save.
func New(source SnapshotSource, save SaveFunc, cfg Config) *Scheduler {
	s := &Scheduler{
		source: source,
		save:   save,
		cfg:    cfg,
		timers: make(map[Trigger]*time.Timer),
		status: Status{State: StateIdle},
		subs:   make(map[int]func(Status)),
	}
	s.mu.Lock()
	s.startPeriodicLocked()
	s.mu.Unlock()
	return s
}

// Configure replaces the configuration. Changing the periodic interval
// cancels and reschedules the periodic timer. Disabling cancels every
// pending timer and queued task immediately and forces Idle; it does not
// abort a save already executing.
func (s *Scheduler) Configure(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.startPeriodicLocked()
	if !cfg.Enabled {
		for trig, t := range s.timers {
			t.Stop()
			delete(s.timers, trig)
		}
		if s.retryTimer != nil {
			s.retryTimer.Stop()
			s.retryTimer = nil
			// The retried task was only waiting, not executing.
			s.inFlight = nil
		}
		if s.periodic != nil {
			s.periodic.Stop()
			s.periodic = nil
		}
		s.queue = nil
		s.status.State = StateIdle
	}
	s.mu.Unlock()
	s.notify()
}

// NotifyChange is the sole ingress for change signals. It debounces per
// trigger type; a repeat notification for the same type resets only that
// type's timer. Triggers with zero delay enqueue immediately.
func (s *Scheduler) NotifyChange(trigger Trigger) {
	s.mu.Lock()
	if s.closed || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.status.HasUnsavedChanges = true
	if s.status.State == StateIdle || s.status.State == StateSuccess || s.status.State == StateError {
		s.status.State = StatePending
	}
	delay := s.delayFor(trigger)
	if delay <= 0 {
		s.enqueueLocked(trigger)
		s.mu.Unlock()
		s.notify()
		return
	}
	if t, ok := s.timers[trigger]; ok {
		t.Reset(delay)
	} else {
		s.timers[trigger] = time.AfterFunc(delay, func() { s.timerFired(trigger) })
	}
	s.mu.Unlock()
	s.notify()
}

// ForceSave captures a fresh snapshot and persists it immediately,
// bypassing debounce timers and queue ordering. The result is returned
// directly to the caller; used on shutdown paths.
func (s *Scheduler) ForceSave(ctx context.Context, trigger Trigger) error {
	content, state := s.source.Snapshot()
	info := TaskInfo{ID: util.NewID("save"), Trigger: trigger}
	err := s.save(ctx, info, content, state)
	s.mu.Lock()
	if err == nil {
		s.lastContent = content
		s.status.LastSavedAt = time.Now()
		s.status.HasUnsavedChanges = false
		s.status.LastError = ""
		if s.inFlight == nil && len(s.queue) == 0 {
			s.status.State = StateIdle
		}
	} else {
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()
	s.notify()
	if err != nil {
		return fmt.Errorf("force save (%s): %w", trigger, err)
	}
	return nil
}

// Status returns the current observable state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe registers a push observer for save-state changes. The
// returned function unsubscribes.
func (s *Scheduler) Subscribe(fn func(Status)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Close cancels all timers and drops queued tasks. An executing save
// runs to completion.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for trig, t := range s.timers {
		t.Stop()
		delete(s.timers, trig)
	}
	if s.periodic != nil {
		s.periodic.Stop()
		s.periodic = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.queue = nil
	s.mu.Unlock()
}

func (s *Scheduler) delayFor(trigger Trigger) time.Duration {
	switch trigger {
	case TriggerUserInput:
		return s.cfg.UserInputDelay
	case TriggerAIContent:
		return s.cfg.AIContentDelay
	default:
		// Structural triggers schedule immediately.
		return 0
	}
}

func priorityFor(trigger Trigger) int {
	switch trigger {
	case TriggerAIContent:
		return 2
	case TriggerFileSwitch:
		return 1
	default:
		return 0
	}
}

func (s *Scheduler) timerFired(trigger Trigger) {
	s.mu.Lock()
	delete(s.timers, trigger)
	if s.closed || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.enqueueLocked(trigger)
	s.mu.Unlock()
	s.notify()
}

// enqueueLocked captures the snapshot at enqueue time and either starts
// the task or inserts it into the queue ordered by (priority desc,
// createdAt asc).
func (s *Scheduler) enqueueLocked(trigger Trigger) {
	content, state := s.source.Snapshot()
	t := &task{
		id:        util.NewID("save"),
		trigger:   trigger,
		content:   content,
		state:     state,
		createdAt: time.Now(),
		priority:  priorityFor(trigger),
	}
	if s.inFlight == nil {
		s.startLocked(t)
		return
	}
	idx := len(s.queue)
	for i, q := range s.queue {
		if q.priority < t.priority {
			idx = i
			break
		}
	}
	s.queue = append(s.queue, nil)
	copy(s.queue[idx+1:], s.queue[idx:])
	s.queue[idx] = t
}

func (s *Scheduler) startLocked(t *task) {
	s.inFlight = t
	s.status.State = StateSaving
	go s.execute(t)
}

func (s *Scheduler) execute(t *task) {
	info := TaskInfo{ID: t.id, Trigger: t.trigger, RetryCount: t.retryCount}
	err := s.save(context.Background(), info, t.content, t.state)
	s.onResult(t, err)
}

func (s *Scheduler) onResult(t *task, err error) {
	s.mu.Lock()
	if s.inFlight != t {
		// Task was dropped by Configure(enabled=false) while executing;
		// record nothing beyond the last-saved snapshot on success.
		if err == nil {
			s.lastContent = t.content
			s.status.LastSavedAt = time.Now()
		}
		s.mu.Unlock()
		s.notify()
		return
	}
	if err == nil {
		s.lastContent = t.content
		s.status.LastSavedAt = time.Now()
		s.status.HasUnsavedChanges = false
		s.status.LastError = ""
		s.status.State = StateSuccess
		s.inFlight = nil
		settled := s.status
		s.advanceLocked()
		s.mu.Unlock()
		// Success is observable even when the queue advances or the
		// scheduler settles to Idle right after.
		s.notifyWith(settled)
		s.notify()
		return
	}

	if s.closed || !s.cfg.Enabled {
		// Disabled while the save was executing; the forced Idle stands
		// and the failed task is dropped instead of retried.
		s.inFlight = nil
		s.status.State = StateIdle
		s.mu.Unlock()
		s.notify()
		return
	}

	if t.retryCount < s.cfg.MaxRetries {
		t.retryCount++
		s.status.State = StateRetrying
		s.status.LastError = err.Error()
		delay := s.cfg.RetryDelay * time.Duration(t.retryCount)
		s.retryTimer = time.AfterFunc(delay, func() { s.retryFired(t) })
		s.mu.Unlock()
		s.notify()
		return
	}

	log.Printf("autosave: task %s (%s) abandoned after %d retries: %v", t.id, t.trigger, t.retryCount, err)
	s.status.State = StateError
	s.status.LastError = err.Error()
	s.inFlight = nil
	settled := s.status
	s.advanceLocked()
	s.mu.Unlock()
	s.notifyWith(settled)
	if s.Status().State != settled.State {
		s.notify()
	}
}

// advanceLocked starts the next queued task, if any. A stuck task never
// blocks the queue: callers clear inFlight before advancing. With an
// empty queue a Success settles to Idle; an Error stays visible until
// the next change or successful save.
func (s *Scheduler) advanceLocked() {
	if len(s.queue) == 0 {
		if s.status.State == StateSuccess {
			s.status.State = StateIdle
		}
		return
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	s.startLocked(next)
}

func (s *Scheduler) retryFired(t *task) {
	s.mu.Lock()
	s.retryTimer = nil
	if s.closed || !s.cfg.Enabled || s.inFlight != t {
		s.mu.Unlock()
		return
	}
	// Same captured snapshot: a fast-moving document must not outrun its
	// own save.
	s.status.State = StateSaving
	go s.execute(t)
	s.mu.Unlock()
	s.notify()
}

// startPeriodicLocked (re)schedules the interval timer. The periodic
// trigger only enqueues when content differs from the last committed
// snapshot.
func (s *Scheduler) startPeriodicLocked() {
	if s.periodic != nil {
		s.periodic.Stop()
		s.periodic = nil
	}
	if s.closed || !s.cfg.Enabled || s.cfg.PeriodicInterval <= 0 {
		return
	}
	s.periodic = time.AfterFunc(s.cfg.PeriodicInterval, s.periodicFired)
}

func (s *Scheduler) periodicFired() {
	s.mu.Lock()
	if s.closed || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	content, _ := s.source.Snapshot()
	changed := !bytes.Equal(content, s.lastContent)
	if changed {
		s.enqueueLocked(TriggerPeriodic)
	}
	s.periodic = time.AfterFunc(s.cfg.PeriodicInterval, s.periodicFired)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Scheduler) notify() {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	s.notifyWith(st)
}

func (s *Scheduler) notifyWith(st Status) {
	s.mu.Lock()
	subs := make([]func(Status), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}
