package roomapi

import (
	"fmt"
	"net/url"
)

const (
	JsonHeader      = "Content-Type"
	JsonContentType = "application/json"

	createRoomPath = "/api/room/create"
)

func activitiesPath(roomID string) string {
	return fmt.Sprintf("/api/room/%s/activities", url.PathEscape(roomID))
}

func usersPath(roomID string) string {
	return fmt.Sprintf("/api/room/%s/users", url.PathEscape(roomID))
}

func infoPath(roomID string) string {
	return fmt.Sprintf("/api/room/%s/info", url.PathEscape(roomID))
}

func roomURLPath(roomID string) string {
	return fmt.Sprintf("/api/room/%s/url", url.PathEscape(roomID))
}
