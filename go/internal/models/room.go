package models

import "time"

// Room represents the shared session metadata cached by the membership coordinator.
type Room struct {
	RoomID      string    `json:"roomId"`
	ActiveUsers int       `json:"activeUsers"`
	LastActive  time.Time `json:"lastActive"`
}

// RoomUser is a member as reported by the users endpoint.
type RoomUser struct {
	UserName string    `json:"userName"`
	JoinedAt time.Time `json:"joinedAt"`
}

// MembershipRequest is the body of join and leave calls.
type MembershipRequest struct {
	UserName string `json:"userName"`
}

// MembershipResponse is returned by join and leave calls.
type MembershipResponse struct {
	UserCount  int       `json:"userCount"`
	LastActive time.Time `json:"lastActive"`
}

// CreateRoomRequest is the body of the create room call.
type CreateRoomRequest struct {
	RoomID string `json:"roomId"`
}

// RoomURL is the shareable link stored for a room.
type RoomURL struct {
	URL string `json:"url"`
}
