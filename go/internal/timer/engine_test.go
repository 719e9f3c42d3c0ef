package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/focusroom/go/internal/models"
)

type recordingEmitter struct {
	mu     sync.Mutex
	drafts []models.ActivityDraft
	err    error
}

func (r *recordingEmitter) Emit(_ context.Context, d models.ActivityDraft) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts = append(r.drafts, d)
	return r.err
}

func (r *recordingEmitter) all() []models.ActivityDraft {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ActivityDraft(nil), r.drafts...)
}

func (r *recordingEmitter) count(t models.ActivityType) int {
	n := 0
	for _, d := range r.all() {
		if d.Type == t {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T) (*Engine, *recordingEmitter, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	em := &recordingEmitter{}
	e := NewEngine("room-1", "ada", em, WithClock(fc))
	t.Cleanup(e.Stop)
	return e, em, fc
}

func remote(t models.ActivityType, clock string, mode models.TimerMode) models.RoomActivity {
	return models.RoomActivity{
		ID:            string(t) + "-" + clock,
		Type:          t,
		RoomID:        "room-1",
		UserName:      "grace",
		TimeStamp:     time.Now(),
		TimeRemaining: clock,
		TimerMode:     mode,
	}
}

// advanceUntil nudges the fake clock one tick at a time until cond holds.
func advanceUntil(t *testing.T, fc *clockwork.FakeClock, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		fc.Advance(DefaultPolicy().TickInterval)
		return false
	}, 2*time.Second, time.Millisecond)
}

func TestEngine_InitialState(t *testing.T) {
	e, em, _ := newTestEngine(t)

	s := e.Snapshot()
	assert.Equal(t, "25:00", s.Clock())
	assert.Equal(t, models.TimerModeWork, s.Mode)
	assert.Equal(t, StatusIdle, s.Status)
	assert.False(t, s.Running)
	assert.Equal(t, 25*time.Minute, s.LastWorkDuration)
	assert.Equal(t, 5*time.Minute, s.LastBreakDuration)
	assert.Empty(t, em.all())
}

func TestEngine_StartEmitsAndCountsDown(t *testing.T) {
	e, em, fc := newTestEngine(t)

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StatusRunning, e.Snapshot().Status)

	drafts := em.all()
	require.Len(t, drafts, 1)
	assert.Equal(t, models.ActivityDraft{
		Type:          models.ActivityTypeStartTimer,
		RoomID:        "room-1",
		UserName:      "ada",
		TimeRemaining: "25:00",
		TimerMode:     models.TimerModeWork,
	}, drafts[0])

	fc.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return e.Snapshot().Clock() == "24:50" }, time.Second, time.Millisecond)

	require.NoError(t, e.Pause(context.Background()))
	s := e.Snapshot()
	assert.Equal(t, StatusPaused, s.Status)
	assert.False(t, s.Running)
	assert.Equal(t, "24:50", em.all()[1].TimeRemaining)
	assert.Equal(t, models.ActivityTypePauseTimer, em.all()[1].Type)
}

func TestEngine_StartWhileRunningIsNoop(t *testing.T) {
	e, em, _ := newTestEngine(t)

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Start(context.Background()))
	assert.Len(t, em.all(), 1)
}

func TestEngine_PauseAndResetWhileStoppedEmitNothing(t *testing.T) {
	e, em, _ := newTestEngine(t)

	e.Reconcile(remote(models.ActivityTypePauseTimer, "12:34", models.TimerModeWork))
	require.Equal(t, "12:34", e.Snapshot().Clock())

	require.NoError(t, e.Pause(context.Background()))
	assert.Equal(t, "12:34", e.Snapshot().Clock())

	require.NoError(t, e.Reset(context.Background()))
	assert.Equal(t, "25:00", e.Snapshot().Clock(), "reset still restores the display")
	assert.Empty(t, em.all())
}

func TestEngine_ResetWhileRunningEmits(t *testing.T) {
	e, em, fc := newTestEngine(t)

	require.NoError(t, e.Start(context.Background()))
	fc.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return e.Snapshot().Clock() == "24:55" }, time.Second, time.Millisecond)

	require.NoError(t, e.Reset(context.Background()))
	s := e.Snapshot()
	assert.Equal(t, "25:00", s.Clock())
	assert.Equal(t, StatusIdle, s.Status)
	assert.Equal(t, 1, em.count(models.ActivityTypeResetTimer))
	assert.Equal(t, "24:55", em.all()[1].TimeRemaining)
}

func TestEngine_ChangeTimer(t *testing.T) {
	e, em, _ := newTestEngine(t)

	require.NoError(t, e.Change(context.Background(), 10, models.TimerModeBreak))
	s := e.Snapshot()
	assert.Equal(t, "10:00", s.Clock())
	assert.Equal(t, models.TimerModeBreak, s.Mode)
	assert.Equal(t, 10*time.Minute, s.LastBreakDuration)
	assert.Equal(t, 25*time.Minute, s.LastWorkDuration)

	drafts := em.all()
	require.Len(t, drafts, 1)
	assert.Equal(t, models.ActivityTypeChangeTimer, drafts[0].Type)
	assert.Equal(t, "10:00", drafts[0].TimeRemaining)
	assert.Equal(t, models.TimerModeBreak, drafts[0].TimerMode)

	err := e.Change(context.Background(), -1, models.TimerModeWork)
	assert.ErrorIs(t, err, ErrInvalidChange)
	err = e.Change(context.Background(), 5, models.TimerMode("nap"))
	assert.ErrorIs(t, err, ErrInvalidChange)
	assert.Len(t, em.all(), 1)
}

func TestEngine_EmitErrorIsWrapped(t *testing.T) {
	e, em, _ := newTestEngine(t)
	em.err = errors.New("store down")

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, em.err)
	assert.True(t, e.Snapshot().Running, "local state still advances")
}

func TestEngine_ReconcileChangeTimerAlwaysApplied(t *testing.T) {
	e, em, _ := newTestEngine(t)

	require.NoError(t, e.Change(context.Background(), 20, models.TimerModeWork))
	require.NoError(t, e.Start(context.Background()))
	emitted := len(em.all())

	d := e.Reconcile(remote(models.ActivityTypeChangeTimer, "15:00", models.TimerModeWork))
	assert.Equal(t, OutcomeApplied, d.Outcome)

	s := e.Snapshot()
	assert.Equal(t, "15:00", s.Clock())
	assert.False(t, s.Running)
	assert.Equal(t, 15*time.Minute, s.LastWorkDuration)
	assert.Len(t, em.all(), emitted, "sync must not re-emit")
}

func TestEngine_ReconcileChangeTimerDefaults(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.Reconcile(remote(models.ActivityTypeChangeTimer, "", ""))
	s := e.Snapshot()
	assert.Equal(t, "25:00", s.Clock())
	assert.Equal(t, models.TimerModeWork, s.Mode)
}

func TestEngine_ReconcileStartWithinToleranceSkipped(t *testing.T) {
	e, em, _ := newTestEngine(t)

	require.NoError(t, e.Change(context.Background(), 15, models.TimerModeWork))
	require.NoError(t, e.Start(context.Background()))
	emitted := len(em.all())

	d := e.Reconcile(remote(models.ActivityTypeStartTimer, "14:58", models.TimerModeWork))
	assert.Equal(t, OutcomeSkipped, d.Outcome)
	assert.False(t, d.NeedsSync)
	assert.Equal(t, "15:00", e.Snapshot().Clock())
	assert.True(t, e.Snapshot().Running)

	d = e.Reconcile(remote(models.ActivityTypeStartTimer, "14:57", models.TimerModeWork))
	assert.Equal(t, OutcomeApplied, d.Outcome)
	assert.True(t, d.NeedsSync)
	assert.Equal(t, "14:57", e.Snapshot().Clock())
	assert.True(t, e.Snapshot().Running)

	assert.Len(t, em.all(), emitted)
}

func TestEngine_ReconcileStartModeMismatchSyncs(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))

	d := e.Reconcile(remote(models.ActivityTypeStartTimer, "25:00", models.TimerModeBreak))
	assert.Equal(t, OutcomeApplied, d.Outcome)
	assert.Equal(t, models.TimerModeBreak, e.Snapshot().Mode)
}

func TestEngine_ReconcileWithoutSkipPolicy(t *testing.T) {
	fc := clockwork.NewFakeClock()
	p := DefaultPolicy()
	p.SkipWithinTolerance = false
	e := NewEngine("room-1", "ada", nil, WithClock(fc), WithPolicy(p))
	defer e.Stop()

	require.NoError(t, e.Start(context.Background()))
	d := e.Reconcile(remote(models.ActivityTypeStartTimer, "24:59", models.TimerModeWork))
	assert.Equal(t, OutcomeApplied, d.Outcome)
	assert.Equal(t, "24:59", e.Snapshot().Clock())
}

func TestEngine_ReconcileStartFromStopped(t *testing.T) {
	e, em, _ := newTestEngine(t)

	d := e.Reconcile(remote(models.ActivityTypeStartTimer, "25:00", models.TimerModeWork))
	assert.Equal(t, OutcomeApplied, d.Outcome)
	assert.True(t, d.NeedsSync)

	s := e.Snapshot()
	assert.True(t, s.Running)
	assert.Equal(t, StatusRunning, s.Status)
	assert.Equal(t, "25:00", s.Clock())
	assert.Empty(t, em.all())
}

func TestEngine_ReconcilePauseAndReset(t *testing.T) {
	e, em, _ := newTestEngine(t)
	e.Reconcile(remote(models.ActivityTypeStartTimer, "20:00", models.TimerModeWork))

	d := e.Reconcile(remote(models.ActivityTypePauseTimer, "19:30", models.TimerModeWork))
	assert.Equal(t, OutcomeApplied, d.Outcome)
	s := e.Snapshot()
	assert.Equal(t, StatusPaused, s.Status)
	assert.Equal(t, "19:30", s.Clock())

	d = e.Reconcile(remote(models.ActivityTypeResetTimer, "19:30", models.TimerModeWork))
	assert.Equal(t, OutcomeApplied, d.Outcome)
	s = e.Snapshot()
	assert.Equal(t, StatusIdle, s.Status)
	assert.Equal(t, "25:00", s.Clock())

	assert.Empty(t, em.all())
}

func TestEngine_LocalCommandsEmitAfterRemoteApply(t *testing.T) {
	e, em, _ := newTestEngine(t)
	ctx := context.Background()

	e.Reconcile(remote(models.ActivityTypeStartTimer, "20:00", models.TimerModeWork))
	assert.Equal(t, StatusRunning, e.Snapshot().Status)
	require.NoError(t, e.Pause(ctx))

	e.Reconcile(remote(models.ActivityTypeChangeTimer, "10:00", models.TimerModeBreak))
	assert.Equal(t, StatusIdle, e.Snapshot().Status)
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Reset(ctx))
	require.NoError(t, e.Change(ctx, 30, models.TimerModeWork))

	assert.Equal(t, []models.ActivityType{
		models.ActivityTypePauseTimer,
		models.ActivityTypeStartTimer,
		models.ActivityTypeResetTimer,
		models.ActivityTypeChangeTimer,
	}, activityTypes(em.all()))
	assert.NotEqual(t, StatusSyncingFromRemote, e.Snapshot().Status)
}

func activityTypes(drafts []models.ActivityDraft) []models.ActivityType {
	out := make([]models.ActivityType, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, d.Type)
	}
	return out
}

func TestEngine_ReconcileCompleteIsNoTransition(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))

	d := e.Reconcile(remote(models.ActivityTypeCompleteTimer, "00:00", models.TimerModeWork))
	assert.Equal(t, OutcomeIgnored, d.Outcome)
	assert.True(t, e.Snapshot().Running)
	assert.Equal(t, "25:00", e.Snapshot().Clock())
}

func TestEngine_ReconcileIgnoresMembership(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := e.Reconcile(remote(models.ActivityTypeJoin, "", ""))
	assert.Equal(t, OutcomeIgnored, d.Outcome)
}

func TestEngine_CountdownSurvivesSuspension(t *testing.T) {
	e, em, fc := newTestEngine(t)

	require.NoError(t, e.Change(context.Background(), 5, models.TimerModeWork))
	require.NoError(t, e.Start(context.Background()))

	fc.Advance(301 * time.Second)
	advanceUntil(t, fc, func() bool { return !e.Snapshot().Running })

	s := e.Snapshot()
	assert.Equal(t, "00:00", s.Clock())
	assert.Equal(t, StatusIdle, s.Status)
	require.Eventually(t, func() bool { return em.count(models.ActivityTypeCompleteTimer) == 1 }, time.Second, time.Millisecond)

	fc.Advance(time.Minute)
	assert.Never(t, func() bool { return em.count(models.ActivityTypeCompleteTimer) > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	var complete models.ActivityDraft
	for _, d := range em.all() {
		if d.Type == models.ActivityTypeCompleteTimer {
			complete = d
		}
	}
	assert.Equal(t, "00:00", complete.TimeRemaining)
	assert.Equal(t, models.TimerModeWork, complete.TimerMode)
}

func TestEngine_RemoteCountdownCompletesSilently(t *testing.T) {
	e, em, fc := newTestEngine(t)

	e.Reconcile(remote(models.ActivityTypeStartTimer, "00:03", models.TimerModeBreak))
	fc.Advance(4 * time.Second)
	advanceUntil(t, fc, func() bool { return !e.Snapshot().Running })

	assert.Equal(t, "00:00", e.Snapshot().Clock())
	assert.Never(t, func() bool { return len(em.all()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestEngine_StartWithZeroRemainingResetsDisplay(t *testing.T) {
	e, em, fc := newTestEngine(t)

	e.Reconcile(remote(models.ActivityTypeStartTimer, "00:02", models.TimerModeWork))
	fc.Advance(3 * time.Second)
	advanceUntil(t, fc, func() bool { return !e.Snapshot().Running })
	require.Equal(t, "00:00", e.Snapshot().Clock())

	require.NoError(t, e.Start(context.Background()))
	s := e.Snapshot()
	assert.False(t, s.Running)
	assert.Equal(t, "25:00", s.Clock())
	assert.Empty(t, em.all())
}

func TestEngine_OwnActivityEchoIsSkipped(t *testing.T) {
	e, em, _ := newTestEngine(t)

	require.NoError(t, e.Start(context.Background()))
	start := em.all()[0]

	d := e.Reconcile(start.Complete("a1", time.Now()))
	assert.Equal(t, OutcomeSkipped, d.Outcome)
	assert.True(t, e.Snapshot().Running)
	assert.Len(t, em.all(), 1)
}

func TestEngine_StopHaltsCountdown(t *testing.T) {
	e, em, fc := newTestEngine(t)

	require.NoError(t, e.Change(context.Background(), 1, models.TimerModeWork))
	require.NoError(t, e.Start(context.Background()))
	e.Stop()

	fc.Advance(2 * time.Minute)
	assert.Never(t, func() bool { return em.count(models.ActivityTypeCompleteTimer) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.False(t, e.Snapshot().Running)
	assert.Equal(t, StatusPaused, e.Snapshot().Status)
}
