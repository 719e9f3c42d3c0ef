// Package activity keeps a room's deduplicated activity history and mediates
// every write to it.
package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/metrics"
	"github.com/mcdev12/focusroom/go/internal/models"
)

// Persister is the external activity store.
type Persister interface {
	FetchActivities(ctx context.Context, roomID string) ([]models.RoomActivity, error)
	StoreActivity(ctx context.Context, activity models.RoomActivity) (models.RoomActivity, error)
}

// Broadcaster sends envelopes to the other participants of the room.
type Broadcaster interface {
	Send(env models.Envelope) error
}

// Listener is called after an activity is confirmed into the history.
type Listener func(activity models.RoomActivity)

type entryStatus int

const (
	statusTentative entryStatus = iota
	statusConfirmed
)

type entry struct {
	activity models.RoomActivity
	status   entryStatus
}

// Store holds the ordered history of one room. Entries are appended and
// never removed, except a tentative entry whose write-through failed.
type Store struct {
	roomID      string
	persister   Persister
	broadcaster Broadcaster
	clock       clockwork.Clock
	newID       func() string
	metrics     metrics.Collector

	loadOnce sync.Once

	mu        sync.Mutex
	entries   []entry
	ids       map[string]struct{}
	listeners []Listener
}

// Option customizes a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp appended activities.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithIDGenerator replaces uuid generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates an empty store for roomID.
func NewStore(roomID string, persister Persister, broadcaster Broadcaster, opts ...Option) *Store {
	s := &Store{
		roomID:      roomID,
		persister:   persister,
		broadcaster: broadcaster,
		clock:       clockwork.NewRealClock(),
		newID:       uuid.NewString,
		metrics:     metrics.NoOpCollector{},
		ids:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RoomID returns the room this store belongs to.
func (s *Store) RoomID() string { return s.roomID }

// OnChange registers l for every confirmed merge, local or remote.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// LoadHistory fetches the room's history once. A failed fetch leaves the
// history empty; the room keeps working without prior context.
func (s *Store) LoadHistory(ctx context.Context) []models.RoomActivity {
	s.loadOnce.Do(func() {
		history, err := s.persister.FetchActivities(ctx, s.roomID)
		if err != nil {
			log.Error().Err(err).Str("room_id", s.roomID).Msg("failed to fetch activities")
			return
		}
		added := s.mergeHistory(history)
		log.Info().
			Str("room_id", s.roomID).
			Int("fetched", len(history)).
			Int("added", added).
			Msg("activity history loaded")
	})
	return s.History()
}

// mergeHistory places fetched history ahead of anything that arrived in
// realtime before the fetch completed.
func (s *Store) mergeHistory(history []models.RoomActivity) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(history))
	front := make([]entry, 0, len(history)+len(s.entries))
	for _, a := range history {
		if a.ID == "" {
			continue
		}
		if _, dup := s.ids[a.ID]; dup {
			continue
		}
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		front = append(front, entry{activity: a, status: statusConfirmed})
	}
	for id := range seen {
		s.ids[id] = struct{}{}
	}
	s.entries = append(front, s.entries...)
	return len(front)
}

// Append stamps draft with a new id and timestamp, writes it through the
// persister and, only if that succeeds, confirms and broadcasts the stored
// copy. On failure the tentative entry is rolled back and nothing is sent.
func (s *Store) Append(ctx context.Context, draft models.ActivityDraft) (models.RoomActivity, error) {
	if draft.RoomID == "" {
		draft.RoomID = s.roomID
	}
	tentative := draft.Complete(s.newID(), s.clock.Now().UTC())

	s.mu.Lock()
	s.entries = append(s.entries, entry{activity: tentative, status: statusTentative})
	s.ids[tentative.ID] = struct{}{}
	s.mu.Unlock()

	stored, err := s.persister.StoreActivity(ctx, tentative)
	if err != nil {
		s.rollback(tentative.ID)
		s.metrics.RecordAppend(string(draft.Type), false)
		log.Error().
			Err(err).
			Str("room_id", s.roomID).
			Str("activity_id", tentative.ID).
			Str("activity_type", string(draft.Type)).
			Msg("failed to store activity, not broadcasting")
		return models.RoomActivity{}, fmt.Errorf("append %s: %w", draft.Type, err)
	}

	if !s.confirm(tentative.ID, stored) {
		// the stored id was already merged from the network
		s.metrics.RecordAppend(string(draft.Type), true)
		return stored, nil
	}
	s.metrics.RecordAppend(string(draft.Type), true)

	env, err := models.NewEnvelope(models.EnvelopeTypeActivity, stored)
	if err == nil {
		err = s.broadcaster.Send(env)
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("room_id", s.roomID).
			Str("activity_id", stored.ID).
			Msg("activity stored but not broadcast")
	}

	s.notify(stored)
	return stored, nil
}

func (s *Store) rollback(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.activity.ID == id && e.status == statusTentative {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			delete(s.ids, id)
			return
		}
	}
}

// confirm swaps the tentative entry for the persisted copy. It returns false
// if the persisted id is already present under another entry.
func (s *Store) confirm(tentativeID string, stored models.RoomActivity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, e := range s.entries {
		if e.activity.ID == tentativeID && e.status == statusTentative {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	if stored.ID != tentativeID {
		if _, dup := s.ids[stored.ID]; dup {
			s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
			delete(s.ids, tentativeID)
			return false
		}
		delete(s.ids, tentativeID)
		s.ids[stored.ID] = struct{}{}
	}
	s.entries[idx] = entry{activity: stored, status: statusConfirmed}
	return true
}

// OnRemoteActivity merges an activity received from another participant.
// Activities whose id is already known are dropped. It never re-broadcasts.
func (s *Store) OnRemoteActivity(a models.RoomActivity) bool {
	if a.ID == "" {
		return false
	}
	if a.RoomID != "" && a.RoomID != s.roomID {
		log.Warn().Str("room_id", s.roomID).Str("activity_room_id", a.RoomID).Msg("ignoring activity for another room")
		return false
	}

	s.mu.Lock()
	if _, dup := s.ids[a.ID]; dup {
		s.mu.Unlock()
		return false
	}
	s.ids[a.ID] = struct{}{}
	s.entries = append(s.entries, entry{activity: a, status: statusConfirmed})
	s.mu.Unlock()

	s.notify(a)
	return true
}

// HandleEnvelope merges activity and recent_activities envelopes.
func (s *Store) HandleEnvelope(env models.Envelope) {
	switch env.Type {
	case models.EnvelopeTypeActivity:
		a, err := env.DecodeActivity()
		if err != nil {
			log.Warn().Err(err).Str("room_id", s.roomID).Msg("discarding activity envelope")
			return
		}
		s.OnRemoteActivity(a)
	case models.EnvelopeTypeRecentActivities:
		list, err := env.DecodeActivities()
		if err != nil {
			log.Warn().Err(err).Str("room_id", s.roomID).Msg("discarding recent activities envelope")
			return
		}
		for _, a := range list {
			s.OnRemoteActivity(a)
		}
	}
}

func (s *Store) notify(a models.RoomActivity) {
	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l(a)
	}
}

// History returns confirmed activities in merge order.
func (s *Store) History() []models.RoomActivity {
	return s.collect(statusConfirmed)
}

// Pending returns activities whose write-through has not completed.
func (s *Store) Pending() []models.RoomActivity {
	return s.collect(statusTentative)
}

func (s *Store) collect(status entryStatus) []models.RoomActivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RoomActivity, 0, len(s.entries))
	for _, e := range s.entries {
		if e.status == status {
			out = append(out, e.activity)
		}
	}
	return out
}

// ErrNoActivity is returned when no activity matches a lookup.
var ErrNoActivity = errors.New("no matching activity")

// LatestTimerActivity returns the confirmed timer activity with the latest
// timestamp. Equal timestamps resolve to the later merge.
func (s *Store) LatestTimerActivity() (models.RoomActivity, error) {
	return s.latest(models.ActivityType.IsTimer)
}

// LatestMembershipActivity returns the latest confirmed join or leave.
func (s *Store) LatestMembershipActivity() (models.RoomActivity, error) {
	return s.latest(models.ActivityType.IsMembership)
}

func (s *Store) latest(match func(models.ActivityType) bool) (models.RoomActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	var best models.RoomActivity
	for _, e := range s.entries {
		if e.status != statusConfirmed || !match(e.activity.Type) {
			continue
		}
		if !found || !e.activity.TimeStamp.Before(best.TimeStamp) {
			best = e.activity
			found = true
		}
	}
	if !found {
		return models.RoomActivity{}, ErrNoActivity
	}
	return best, nil
}
