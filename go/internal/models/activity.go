package models

import (
	"time"
)

// ActivityType defines the kind of event recorded in a room's history.
type ActivityType string

const (
	ActivityTypeJoin          ActivityType = "join"
	ActivityTypeLeave         ActivityType = "leave"
	ActivityTypeStartTimer    ActivityType = "start_timer"
	ActivityTypePauseTimer    ActivityType = "pause_timer"
	ActivityTypeChangeTimer   ActivityType = "change_timer"
	ActivityTypeResetTimer    ActivityType = "reset_timer"
	ActivityTypeCompleteTimer ActivityType = "complete_timer"
)

// TimerMode defines which duration a countdown is measuring.
type TimerMode string

const (
	TimerModeWork  TimerMode = "work"
	TimerModeBreak TimerMode = "break"
)

// IsTimer reports whether the activity type drives the shared countdown.
func (t ActivityType) IsTimer() bool {
	switch t {
	case ActivityTypeStartTimer, ActivityTypePauseTimer, ActivityTypeChangeTimer,
		ActivityTypeResetTimer, ActivityTypeCompleteTimer:
		return true
	}
	return false
}

// IsMembership reports whether the activity type changes who is in the room.
func (t ActivityType) IsMembership() bool {
	return t == ActivityTypeJoin || t == ActivityTypeLeave
}

// Valid reports whether t is one of the known activity types.
func (t ActivityType) Valid() bool {
	return t.IsTimer() || t.IsMembership()
}

// Valid reports whether m is a known timer mode.
func (m TimerMode) Valid() bool {
	return m == TimerModeWork || m == TimerModeBreak
}

// RoomActivity represents an immutable event in a room's history.
type RoomActivity struct {
	ID            string       `json:"id"`
	Type          ActivityType `json:"type"`
	RoomID        string       `json:"roomId"`
	UserName      string       `json:"userName"`
	TimeStamp     time.Time    `json:"timeStamp"`
	TimeRemaining string       `json:"timeRemaining,omitempty"` // MM:SS
	TimerMode     TimerMode    `json:"timerMode,omitempty"`
}

// ActivityDraft is an activity before the store assigns its identity and timestamp.
type ActivityDraft struct {
	Type          ActivityType `json:"type"`
	RoomID        string       `json:"roomId"`
	UserName      string       `json:"userName"`
	TimeRemaining string       `json:"timeRemaining,omitempty"`
	TimerMode     TimerMode    `json:"timerMode,omitempty"`
}

// Complete builds the stored form of the draft.
func (d ActivityDraft) Complete(id string, ts time.Time) RoomActivity {
	return RoomActivity{
		ID:            id,
		Type:          d.Type,
		RoomID:        d.RoomID,
		UserName:      d.UserName,
		TimeStamp:     ts,
		TimeRemaining: d.TimeRemaining,
		TimerMode:     d.TimerMode,
	}
}

// MembershipKey identifies a join/leave occurrence for change detection.
func (a RoomActivity) MembershipKey() string {
	return string(a.Type) + "-" + a.UserName + "-" + a.TimeStamp.UTC().Format(time.RFC3339Nano)
}
