// Package room ties realtime transport, activity history, the timer engine
// and membership together for one room view.
package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/models"
)

// API is the room membership and metadata backend.
type API interface {
	FetchUsers(ctx context.Context, roomID string) ([]models.RoomUser, error)
	JoinRoom(ctx context.Context, roomID, userName string) (*models.MembershipResponse, error)
	LeaveRoom(ctx context.Context, roomID, userName string) (*models.MembershipResponse, error)
	FetchRoom(ctx context.Context, roomID string) (*models.Room, error)
	CreateRoom(ctx context.Context, roomID string) (*models.Room, error)
	StoreRoomURL(ctx context.Context, roomID, link string) error
	FetchRoomURL(ctx context.Context, roomID string) (string, error)
}

// Appender records activities into the room history.
type Appender interface {
	Append(ctx context.Context, draft models.ActivityDraft) (models.RoomActivity, error)
}

// Coordinator tracks who is in a room and records join and leave activities.
type Coordinator struct {
	api      API
	appender Appender

	mu      sync.Mutex
	room    *models.Room
	users   []models.RoomUser
	lastKey string
}

// NewCoordinator creates a coordinator with an empty cache.
func NewCoordinator(api API, appender Appender) *Coordinator {
	return &Coordinator{api: api, appender: appender}
}

// Join registers userName server-side, records a join activity and updates
// the cached user count. A failed registration records nothing.
func (c *Coordinator) Join(ctx context.Context, roomID, userName string) (*models.MembershipResponse, error) {
	resp, err := c.api.JoinRoom(ctx, roomID, userName)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Str("user_name", userName).Msg("failed to join room")
		return nil, fmt.Errorf("join room %s: %w", roomID, err)
	}
	if resp == nil {
		return nil, nil
	}

	if _, err := c.appender.Append(ctx, models.ActivityDraft{
		Type:     models.ActivityTypeJoin,
		RoomID:   roomID,
		UserName: userName,
	}); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("join activity not recorded")
	}

	c.applyMembership(roomID, resp)
	log.Info().Str("room_id", roomID).Str("user_name", userName).Int("user_count", resp.UserCount).Msg("joined room")
	return resp, nil
}

// Leave is the inverse of Join.
func (c *Coordinator) Leave(ctx context.Context, roomID, userName string) (*models.MembershipResponse, error) {
	resp, err := c.api.LeaveRoom(ctx, roomID, userName)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Str("user_name", userName).Msg("failed to leave room")
		return nil, fmt.Errorf("leave room %s: %w", roomID, err)
	}
	if resp == nil {
		return nil, nil
	}

	if _, err := c.appender.Append(ctx, models.ActivityDraft{
		Type:     models.ActivityTypeLeave,
		RoomID:   roomID,
		UserName: userName,
	}); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("leave activity not recorded")
	}

	c.applyMembership(roomID, resp)
	log.Info().Str("room_id", roomID).Str("user_name", userName).Int("user_count", resp.UserCount).Msg("left room")
	return resp, nil
}

func (c *Coordinator) applyMembership(roomID string, resp *models.MembershipResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		c.room = &models.Room{RoomID: roomID}
	}
	c.room.ActiveUsers = resp.UserCount
	c.room.LastActive = resp.LastActive
}

// ObserveActivity refetches the member list when a is a join or leave that
// has not been processed yet. It reports whether a refetch happened.
func (c *Coordinator) ObserveActivity(ctx context.Context, a models.RoomActivity) bool {
	if !a.Type.IsMembership() {
		return false
	}
	key := a.MembershipKey()

	c.mu.Lock()
	if key == c.lastKey {
		c.mu.Unlock()
		return false
	}
	c.lastKey = key
	c.mu.Unlock()

	if _, err := c.RefreshUsers(ctx, a.RoomID); err != nil {
		log.Warn().Err(err).Str("room_id", a.RoomID).Msg("failed to refresh users")
	}
	return true
}

// RefreshUsers fetches the member list and caches it.
func (c *Coordinator) RefreshUsers(ctx context.Context, roomID string) ([]models.RoomUser, error) {
	users, err := c.api.FetchUsers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("fetch users for %s: %w", roomID, err)
	}

	c.mu.Lock()
	c.users = users
	c.mu.Unlock()
	return users, nil
}

// Users returns the cached member list.
func (c *Coordinator) Users() []models.RoomUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.RoomUser(nil), c.users...)
}

// Room returns the cached room metadata, or nil before anything was loaded.
func (c *Coordinator) Room() *models.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return nil
	}
	r := *c.room
	return &r
}

// FetchRoom loads room metadata into the cache.
func (c *Coordinator) FetchRoom(ctx context.Context, roomID string) (*models.Room, error) {
	r, err := c.api.FetchRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("fetch room %s: %w", roomID, err)
	}
	c.setRoom(r)
	return r, nil
}

// CreateRoom creates roomID server-side and caches the result.
func (c *Coordinator) CreateRoom(ctx context.Context, roomID string) (*models.Room, error) {
	r, err := c.api.CreateRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("create room %s: %w", roomID, err)
	}
	c.setRoom(r)
	log.Info().Str("room_id", roomID).Msg("created room")
	return r, nil
}

func (c *Coordinator) setRoom(r *models.Room) {
	if r == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *r
	c.room = &cp
}

// ShareURL stores link as the room's shareable link.
func (c *Coordinator) ShareURL(ctx context.Context, roomID, link string) (string, error) {
	if err := c.api.StoreRoomURL(ctx, roomID, link); err != nil {
		return "", fmt.Errorf("share room %s: %w", roomID, err)
	}
	return link, nil
}

// RoomURL returns the stored shareable link.
func (c *Coordinator) RoomURL(ctx context.Context, roomID string) (string, error) {
	link, err := c.api.FetchRoomURL(ctx, roomID)
	if err != nil {
		return "", fmt.Errorf("room url %s: %w", roomID, err)
	}
	return link, nil
}
