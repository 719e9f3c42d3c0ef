// Package relay is an in-memory room backend: the REST history and
// membership endpoints plus the per-room websocket relay.
package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/focusroom/go/internal/models"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrURLNotFound     = errors.New("room url not found")
	ErrDuplicate       = errors.New("duplicate activity")
	ErrInvalidActivity = errors.New("invalid activity")
	ErrInvalidUser     = errors.New("user name required")
)

type roomRecord struct {
	createdAt  time.Time
	lastActive time.Time
	activities []models.RoomActivity
	index      map[string]int
	users      []models.RoomUser
	url        string
}

// Store keeps every room in memory.
type Store struct {
	clock clockwork.Clock

	mu    sync.RWMutex
	rooms map[string]*roomRecord
}

// NewStore creates an empty store stamping times from clock.
func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{clock: clock, rooms: make(map[string]*roomRecord)}
}

// roomLocked returns the record for roomID, creating it if asked.
func (s *Store) roomLocked(roomID string, create bool) *roomRecord {
	r, ok := s.rooms[roomID]
	if !ok && create {
		now := s.clock.Now().UTC()
		r = &roomRecord{createdAt: now, lastActive: now, index: make(map[string]int)}
		s.rooms[roomID] = r
	}
	return r
}

func (r *roomRecord) info(roomID string) models.Room {
	return models.Room{RoomID: roomID, ActiveUsers: len(r.users), LastActive: r.lastActive}
}

// CreateRoom registers roomID, generating one when empty. Creating an
// existing room returns it unchanged.
func (s *Store) CreateRoom(roomID string) models.Room {
	if roomID == "" {
		roomID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomLocked(roomID, true).info(roomID)
}

// Room returns metadata for roomID.
func (s *Store) Room(roomID string) (models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.roomLocked(roomID, false)
	if r == nil {
		return models.Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return r.info(roomID), nil
}

// Activities returns the full history of roomID in storage order.
func (s *Store) Activities(roomID string) []models.RoomActivity {
	return s.Recent(roomID, 0)
}

// Recent returns at most n of the newest activities, or all when n <= 0.
func (s *Store) Recent(roomID string, n int) []models.RoomActivity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.roomLocked(roomID, false)
	if r == nil {
		return []models.RoomActivity{}
	}
	list := r.activities
	if n > 0 && len(list) > n {
		list = list[len(list)-n:]
	}
	return append([]models.RoomActivity{}, list...)
}

// AppendActivity stores a. The caller's id is kept, or generated when empty.
// The timestamp is assigned here and never goes backwards within a room.
// A repeated id returns the stored copy with ErrDuplicate.
func (s *Store) AppendActivity(roomID string, a models.RoomActivity) (models.RoomActivity, error) {
	if !a.Type.Valid() {
		return models.RoomActivity{}, fmt.Errorf("%w: unknown type %q", ErrInvalidActivity, a.Type)
	}
	if a.TimerMode != "" && !a.TimerMode.Valid() {
		return models.RoomActivity{}, fmt.Errorf("%w: unknown timer mode %q", ErrInvalidActivity, a.TimerMode)
	}
	if a.TimeRemaining != "" {
		if _, err := models.ParseClock(a.TimeRemaining); err != nil {
			return models.RoomActivity{}, fmt.Errorf("%w: %v", ErrInvalidActivity, err)
		}
	}
	if a.RoomID != "" && a.RoomID != roomID {
		return models.RoomActivity{}, fmt.Errorf("%w: activity for room %q posted to %q", ErrInvalidActivity, a.RoomID, roomID)
	}
	a.RoomID = roomID
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.roomLocked(roomID, true)
	if i, dup := r.index[a.ID]; dup {
		return r.activities[i], ErrDuplicate
	}

	ts := s.clock.Now().UTC()
	if n := len(r.activities); n > 0 && ts.Before(r.activities[n-1].TimeStamp) {
		ts = r.activities[n-1].TimeStamp
	}
	a.TimeStamp = ts

	r.index[a.ID] = len(r.activities)
	r.activities = append(r.activities, a)
	r.lastActive = ts
	return a, nil
}

// Users returns the members of roomID in join order.
func (s *Store) Users(roomID string) []models.RoomUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.roomLocked(roomID, false)
	if r == nil {
		return []models.RoomUser{}
	}
	return append([]models.RoomUser{}, r.users...)
}

// AddUser marks userName present. Joining twice keeps the first join time.
func (s *Store) AddUser(roomID, userName string) (models.MembershipResponse, error) {
	if userName == "" {
		return models.MembershipResponse{}, ErrInvalidUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	r := s.roomLocked(roomID, true)
	present := false
	for _, u := range r.users {
		if u.UserName == userName {
			present = true
			break
		}
	}
	if !present {
		r.users = append(r.users, models.RoomUser{UserName: userName, JoinedAt: now})
	}
	r.lastActive = now
	return models.MembershipResponse{UserCount: len(r.users), LastActive: now}, nil
}

// RemoveUser marks userName absent.
func (s *Store) RemoveUser(roomID, userName string) (models.MembershipResponse, error) {
	if userName == "" {
		return models.MembershipResponse{}, ErrInvalidUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.roomLocked(roomID, false)
	if r == nil {
		return models.MembershipResponse{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	now := s.clock.Now().UTC()
	for i, u := range r.users {
		if u.UserName == userName {
			r.users = append(r.users[:i], r.users[i+1:]...)
			break
		}
	}
	r.lastActive = now
	return models.MembershipResponse{UserCount: len(r.users), LastActive: now}, nil
}

// SetURL stores the shareable link of roomID.
func (s *Store) SetURL(roomID, link string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomLocked(roomID, true).url = link
}

// URL returns the shareable link of roomID.
func (s *Store) URL(roomID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.roomLocked(roomID, false)
	if r == nil || r.url == "" {
		return "", fmt.Errorf("%w: %s", ErrURLNotFound, roomID)
	}
	return r.url, nil
}
