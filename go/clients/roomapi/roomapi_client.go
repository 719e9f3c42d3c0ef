// Package roomapi talks to the room history and membership endpoints.
package roomapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mcdev12/focusroom/go/clients"
	"github.com/mcdev12/focusroom/go/internal/models"
)

type Client struct {
	*clients.BaseClient
}

func NewClient(baseURL string) *Client {
	client := &Client{
		BaseClient: clients.NewBaseClient(strings.TrimRight(baseURL, "/")),
	}

	client.SetHeader(JsonHeader, JsonContentType)

	return client
}

// FetchActivities returns the ordered history of a room.
func (c *Client) FetchActivities(ctx context.Context, roomID string) ([]models.RoomActivity, error) {
	var out []models.RoomActivity
	if err := c.GetJSON(ctx, activitiesPath(roomID), &out); err != nil {
		return nil, fmt.Errorf("failed to fetch activities: %w", err)
	}
	return out, nil
}

// StoreActivity persists an activity and returns the stored copy.
func (c *Client) StoreActivity(ctx context.Context, activity models.RoomActivity) (models.RoomActivity, error) {
	var out models.RoomActivity
	if err := c.SendJSON(ctx, http.MethodPost, activitiesPath(activity.RoomID), activity, &out); err != nil {
		return models.RoomActivity{}, fmt.Errorf("failed to store activity: %w", err)
	}
	if out.ID == "" {
		return models.RoomActivity{}, fmt.Errorf("failed to store activity: %w", clients.ErrNoData)
	}
	return out, nil
}

// FetchUsers returns the current members of a room.
func (c *Client) FetchUsers(ctx context.Context, roomID string) ([]models.RoomUser, error) {
	var out []models.RoomUser
	if err := c.GetJSON(ctx, usersPath(roomID), &out); err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	return out, nil
}

// JoinRoom registers userName as present in the room.
func (c *Client) JoinRoom(ctx context.Context, roomID, userName string) (*models.MembershipResponse, error) {
	return c.membership(ctx, http.MethodPost, roomID, userName)
}

// LeaveRoom removes userName from the room.
func (c *Client) LeaveRoom(ctx context.Context, roomID, userName string) (*models.MembershipResponse, error) {
	return c.membership(ctx, http.MethodDelete, roomID, userName)
}

func (c *Client) membership(ctx context.Context, method, roomID, userName string) (*models.MembershipResponse, error) {
	var out models.MembershipResponse
	req := models.MembershipRequest{UserName: userName}
	if err := c.SendJSON(ctx, method, usersPath(roomID), req, &out); err != nil {
		return nil, fmt.Errorf("failed to update membership: %w", err)
	}
	return &out, nil
}

// FetchRoom returns room metadata.
func (c *Client) FetchRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var out models.Room
	if err := c.GetJSON(ctx, infoPath(roomID), &out); err != nil {
		return nil, fmt.Errorf("failed to fetch room: %w", err)
	}
	return &out, nil
}

// CreateRoom creates a room with the given id.
func (c *Client) CreateRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var out models.Room
	if err := c.SendJSON(ctx, http.MethodPost, createRoomPath, models.CreateRoomRequest{RoomID: roomID}, &out); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return &out, nil
}

// StoreRoomURL saves the shareable link of a room.
func (c *Client) StoreRoomURL(ctx context.Context, roomID, link string) error {
	if err := c.SendJSON(ctx, http.MethodPost, roomURLPath(roomID), models.RoomURL{URL: link}, nil); err != nil {
		return fmt.Errorf("failed to store room url: %w", err)
	}
	return nil
}

// FetchRoomURL returns the shareable link of a room.
func (c *Client) FetchRoomURL(ctx context.Context, roomID string) (string, error) {
	var out models.RoomURL
	if err := c.GetJSON(ctx, roomURLPath(roomID), &out); err != nil {
		return "", fmt.Errorf("failed to fetch room url: %w", err)
	}
	return out.URL, nil
}
