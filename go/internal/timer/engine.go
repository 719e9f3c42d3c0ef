// Package timer runs the shared room countdown and reconciles it against
// timer activities from other participants.
package timer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/metrics"
	"github.com/mcdev12/focusroom/go/internal/models"
)

// ErrInvalidChange is returned by Change for a negative duration or unknown mode.
var ErrInvalidChange = errors.New("invalid timer change")

// Status is the engine's position in its state machine.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusPaused
	// StatusSyncingFromRemote is held only while Reconcile applies a remote
	// activity under the engine lock; it never survives the call.
	StatusSyncingFromRemote
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusSyncingFromRemote:
		return "syncing"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Policy tunes reconciliation and countdown behaviour.
type Policy struct {
	DriftTolerance time.Duration `yaml:"drift_tolerance"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	DefaultWork    time.Duration `yaml:"default_work"`
	DefaultBreak   time.Duration `yaml:"default_break"`
	// SkipWithinTolerance ignores start activities while the local countdown
	// is running in the same mode and within DriftTolerance.
	SkipWithinTolerance bool `yaml:"skip_within_tolerance"`
}

// DefaultPolicy returns a 2s drift tolerance, 100ms ticks and 25/5 minute durations.
func DefaultPolicy() Policy {
	return Policy{
		DriftTolerance:      2 * time.Second,
		TickInterval:        100 * time.Millisecond,
		DefaultWork:         25 * time.Minute,
		DefaultBreak:        5 * time.Minute,
		SkipWithinTolerance: true,
	}
}

// Emitter records an activity produced by a local command.
type Emitter interface {
	Emit(ctx context.Context, draft models.ActivityDraft) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, draft models.ActivityDraft) error

func (f EmitterFunc) Emit(ctx context.Context, draft models.ActivityDraft) error {
	return f(ctx, draft)
}

// State is a point-in-time view of the engine.
type State struct {
	Remaining         time.Duration
	Mode              models.TimerMode
	Status            Status
	Running           bool
	LastWorkDuration  time.Duration
	LastBreakDuration time.Duration
}

// Clock renders the remaining time as MM:SS.
func (s State) Clock() string {
	return models.FormatClock(int(s.Remaining / time.Second))
}

// Outcome classifies what Reconcile did with an activity.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeIgnored Outcome = "ignored"
)

// Decision describes the result of reconciling one activity.
type Decision struct {
	Outcome   Outcome
	Action    models.ActivityType
	NeedsSync bool
}

type countdown struct {
	startedAt  time.Time
	total      int
	mode       models.TimerMode
	originator bool
	ticker     clockwork.Ticker
	stop       chan struct{}
}

// Engine owns the local countdown for one room. All state lives behind a
// single mutex; activities are emitted after it is released.
type Engine struct {
	roomID   string
	userName string
	emitter  Emitter
	policy   Policy
	clock    clockwork.Clock
	metrics  metrics.Collector

	mu        sync.Mutex
	status    Status
	remaining int
	mode      models.TimerMode
	lastWork  int
	lastBreak int
	run       *countdown
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the real clock.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an idle engine in work mode showing the default work duration.
func NewEngine(roomID, userName string, emitter Emitter, opts ...Option) *Engine {
	e := &Engine{
		roomID:   roomID,
		userName: userName,
		emitter:  emitter,
		policy:   DefaultPolicy(),
		clock:    clockwork.NewRealClock(),
		metrics:  metrics.NoOpCollector{},
		status:   StatusIdle,
		mode:     models.TimerModeWork,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.TickInterval <= 0 {
		e.policy.TickInterval = DefaultPolicy().TickInterval
	}
	e.lastWork = int(e.policy.DefaultWork / time.Second)
	e.lastBreak = int(e.policy.DefaultBreak / time.Second)
	e.remaining = e.lastWork
	return e
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Remaining:         time.Duration(e.remaining) * time.Second,
		Mode:              e.mode,
		Status:            e.status,
		Running:           e.run != nil,
		LastWorkDuration:  time.Duration(e.lastWork) * time.Second,
		LastBreakDuration: time.Duration(e.lastBreak) * time.Second,
	}
}

// Start begins counting down from the displayed time and emits start_timer.
// With nothing left on the clock the display is reset instead.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.run != nil {
		e.mu.Unlock()
		return nil
	}
	if e.remaining <= 0 {
		e.remaining = e.lastDurationLocked(e.mode)
		e.status = StatusIdle
		e.mu.Unlock()
		return nil
	}
	draft := e.draftLocked(models.ActivityTypeStartTimer, e.remaining, e.mode)
	e.startLocked(true)
	e.mu.Unlock()

	return e.emit(ctx, draft)
}

// Pause stops a running countdown and emits pause_timer. It does nothing
// when the countdown is not running.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	if e.run == nil {
		e.mu.Unlock()
		return nil
	}
	e.stopLocked()
	e.status = StatusPaused
	draft := e.draftLocked(models.ActivityTypePauseTimer, e.remaining, e.mode)
	e.mu.Unlock()

	return e.emit(ctx, draft)
}

// Reset restores the display to the mode's last duration. Only resetting a
// running countdown emits reset_timer.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	wasRunning := e.run != nil
	draft := e.draftLocked(models.ActivityTypeResetTimer, e.remaining, e.mode)
	e.resetLocked()
	e.mu.Unlock()

	if !wasRunning {
		return nil
	}
	return e.emit(ctx, draft)
}

// Change sets a new duration for mode, stops the countdown and emits change_timer.
func (e *Engine) Change(ctx context.Context, minutes int, mode models.TimerMode) error {
	if minutes < 0 || !mode.Valid() {
		return fmt.Errorf("%w: %d minutes in mode %q", ErrInvalidChange, minutes, mode)
	}

	e.mu.Lock()
	e.changeLocked(minutes, mode)
	draft := e.draftLocked(models.ActivityTypeChangeTimer, minutes*60, mode)
	e.mu.Unlock()

	return e.emit(ctx, draft)
}

// Reconcile decides whether activity must force the local timer into
// agreement and applies it without emitting anything.
func (e *Engine) Reconcile(activity models.RoomActivity) Decision {
	if !activity.Type.IsTimer() {
		return Decision{Outcome: OutcomeIgnored}
	}

	e.mu.Lock()
	decision := e.reconcileLocked(activity)
	state := e.status
	e.mu.Unlock()

	e.metrics.RecordReconciliation(string(activity.Type), string(decision.Outcome))
	log.Debug().
		Str("room_id", e.roomID).
		Str("activity_id", activity.ID).
		Str("activity_type", string(activity.Type)).
		Str("outcome", string(decision.Outcome)).
		Bool("needs_sync", decision.NeedsSync).
		Str("status", state.String()).
		Msg("reconciled timer activity")
	return decision
}

func (e *Engine) reconcileLocked(a models.RoomActivity) Decision {
	// a missing clock compares as 00:00 but never overwrites the display
	remote, snap := 0, e.remaining
	if a.TimeRemaining != "" {
		secs, err := models.ParseClock(a.TimeRemaining)
		if err != nil {
			log.Warn().Err(err).Str("activity_id", a.ID).Msg("unparseable timeRemaining")
		} else {
			remote, snap = secs, secs
		}
	}

	running := e.run != nil
	drift := math.Abs(float64(e.remaining - remote))
	needsSync := !running ||
		drift > e.policy.DriftTolerance.Seconds() ||
		e.mode != a.TimerMode

	if a.Type == models.ActivityTypeChangeTimer {
		mode := a.TimerMode
		if !mode.Valid() {
			mode = models.TimerModeWork
		}
		e.status = StatusSyncingFromRemote
		e.changeLocked(e.changeMinutes(a.TimeRemaining), mode)
		return Decision{Outcome: OutcomeApplied, Action: a.Type, NeedsSync: needsSync}
	}

	if !needsSync && a.Type != models.ActivityTypePauseTimer && a.Type != models.ActivityTypeResetTimer &&
		e.policy.SkipWithinTolerance {
		return Decision{Outcome: OutcomeSkipped, Action: a.Type}
	}

	prev := e.status
	e.status = StatusSyncingFromRemote

	switch a.Type {
	case models.ActivityTypePauseTimer:
		e.stopLocked()
		e.remaining = snap
		if running {
			e.status = StatusPaused
		} else {
			e.status = prev
		}

	case models.ActivityTypeStartTimer:
		e.stopLocked()
		e.remaining = snap
		if a.TimerMode.Valid() {
			e.mode = a.TimerMode
		} else {
			e.mode = models.TimerModeWork
		}
		if e.remaining <= 0 {
			e.remaining = e.lastDurationLocked(e.mode)
			e.status = StatusIdle
		} else {
			e.startLocked(false)
		}

	case models.ActivityTypeResetTimer:
		e.resetLocked()

	default:
		e.status = prev
		return Decision{Outcome: OutcomeIgnored, Action: a.Type, NeedsSync: needsSync}
	}

	return Decision{Outcome: OutcomeApplied, Action: a.Type, NeedsSync: needsSync}
}

// changeMinutes reads the minutes of a change_timer clock, falling back to
// the default work duration.
func (e *Engine) changeMinutes(clock string) int {
	mins, _, _ := strings.Cut(clock, ":")
	m, err := strconv.Atoi(strings.TrimSpace(mins))
	if err != nil || m < 0 {
		return int(e.policy.DefaultWork / time.Minute)
	}
	return m
}

// Stop tears down the countdown goroutine without emitting anything.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	if e.status == StatusRunning {
		e.status = StatusPaused
	}
}

func (e *Engine) changeLocked(minutes int, mode models.TimerMode) {
	e.stopLocked()
	secs := minutes * 60
	if mode == models.TimerModeBreak {
		e.lastBreak = secs
	} else {
		e.lastWork = secs
	}
	e.mode = mode
	e.remaining = secs
	e.status = StatusIdle
}

func (e *Engine) resetLocked() {
	e.stopLocked()
	e.remaining = e.lastDurationLocked(e.mode)
	e.status = StatusIdle
}

func (e *Engine) lastDurationLocked(mode models.TimerMode) int {
	if mode == models.TimerModeBreak {
		return e.lastBreak
	}
	return e.lastWork
}

func (e *Engine) startLocked(originator bool) {
	run := &countdown{
		startedAt:  e.clock.Now(),
		total:      e.remaining,
		mode:       e.mode,
		originator: originator,
		ticker:     e.clock.NewTicker(e.policy.TickInterval),
		stop:       make(chan struct{}),
	}
	e.run = run
	e.status = StatusRunning
	go e.loop(run)
}

func (e *Engine) stopLocked() {
	if e.run == nil {
		return
	}
	e.run.ticker.Stop()
	close(e.run.stop)
	e.run = nil
}

func (e *Engine) loop(run *countdown) {
	for {
		select {
		case <-run.stop:
			return
		case <-run.ticker.Chan():
			e.tick(run)
		}
	}
}

// tick recomputes the remaining time from wall-clock elapsed time so a
// suspended process catches up in one step.
func (e *Engine) tick(run *countdown) {
	e.mu.Lock()
	if e.run != run {
		e.mu.Unlock()
		return
	}
	elapsed := int(e.clock.Since(run.startedAt) / time.Second)
	e.remaining = max(0, run.total-elapsed)
	if e.remaining > 0 {
		e.mu.Unlock()
		return
	}

	e.stopLocked()
	e.status = StatusIdle
	var draft *models.ActivityDraft
	if run.originator {
		d := e.draftLocked(models.ActivityTypeCompleteTimer, 0, run.mode)
		draft = &d
	}
	e.mu.Unlock()

	log.Info().Str("room_id", e.roomID).Str("mode", string(run.mode)).Bool("originator", run.originator).Msg("timer completed")
	if draft == nil {
		return
	}
	if err := e.emit(context.Background(), *draft); err != nil {
		log.Error().Err(err).Str("room_id", e.roomID).Msg("failed to record timer completion")
	}
}

func (e *Engine) draftLocked(t models.ActivityType, seconds int, mode models.TimerMode) models.ActivityDraft {
	return models.ActivityDraft{
		Type:          t,
		RoomID:        e.roomID,
		UserName:      e.userName,
		TimeRemaining: models.FormatClock(seconds),
		TimerMode:     mode,
	}
}

func (e *Engine) emit(ctx context.Context, draft models.ActivityDraft) error {
	if e.emitter == nil {
		return nil
	}
	if err := e.emitter.Emit(ctx, draft); err != nil {
		return fmt.Errorf("emit %s: %w", draft.Type, err)
	}
	return nil
}
