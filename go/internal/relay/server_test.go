package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/focusroom/go/clients"
	"github.com/mcdev12/focusroom/go/clients/roomapi"
	"github.com/mcdev12/focusroom/go/internal/metrics"
	"github.com/mcdev12/focusroom/go/internal/models"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(DefaultConfig(), opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Close()
		ts.Close()
	})
	return srv, ts
}

func dialRoom(t *testing.T, ts *httptest.Server, roomID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/" + roomID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env models.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestServer_RESTWithRoomAPIClient(t *testing.T) {
	_, ts := newTestServer(t)
	client := roomapi.NewClient(ts.URL)
	ctx := context.Background()

	room, err := client.CreateRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", room.RoomID)

	stored, err := client.StoreActivity(ctx, models.RoomActivity{
		ID:            "a1",
		Type:          models.ActivityTypeStartTimer,
		RoomID:        "room-1",
		UserName:      "ada",
		TimeRemaining: "25:00",
		TimerMode:     models.TimerModeWork,
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", stored.ID)
	assert.False(t, stored.TimeStamp.IsZero())

	again, err := client.StoreActivity(ctx, stored)
	require.NoError(t, err, "re-posting an id is accepted")
	assert.Equal(t, stored, again)

	history, err := client.FetchActivities(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, []models.RoomActivity{stored}, history)

	joined, err := client.JoinRoom(ctx, "room-1", "ada")
	require.NoError(t, err)
	assert.Equal(t, 1, joined.UserCount)

	users, err := client.FetchUsers(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "ada", users[0].UserName)

	left, err := client.LeaveRoom(ctx, "room-1", "ada")
	require.NoError(t, err)
	assert.Equal(t, 0, left.UserCount)

	info, err := client.FetchRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, 0, info.ActiveUsers)

	require.NoError(t, client.StoreRoomURL(ctx, "room-1", "https://focus.example/room/room-1"))
	link, err := client.FetchRoomURL(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "https://focus.example/room/room-1", link)
}

func TestServer_SoftFailures(t *testing.T) {
	_, ts := newTestServer(t)
	client := roomapi.NewClient(ts.URL)
	ctx := context.Background()

	_, err := client.FetchRoom(ctx, "missing")
	assert.True(t, clients.IsNotFound(err))

	_, err = client.FetchRoomURL(ctx, "missing")
	assert.True(t, clients.IsNotFound(err))

	_, err = client.StoreActivity(ctx, models.RoomActivity{Type: "dance", RoomID: "room-1"})
	var statusErr *clients.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)

	history, err := client.FetchActivities(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestServer_CORS(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/room/room-1/activities", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_RelaysActivityToOtherPeers(t *testing.T) {
	srv, ts := newTestServer(t)

	a := dialRoom(t, ts, "room-1")
	b := dialRoom(t, ts, "room-1")
	other := dialRoom(t, ts, "room-2")
	require.Eventually(t, func() bool { return srv.Hub().Count("room-1") == 2 }, time.Second, time.Millisecond)

	status, err := models.NewEnvelope(models.EnvelopeTypeConnectionStatus, models.ConnectionStatusPayload{Status: "connected", RoomID: "room-1"})
	require.NoError(t, err)
	require.NoError(t, a.WriteJSON(status))

	env, err := models.NewEnvelope(models.EnvelopeTypeActivity, models.RoomActivity{
		ID:       "a1",
		Type:     models.ActivityTypeJoin,
		RoomID:   "room-1",
		UserName: "ada",
	})
	require.NoError(t, err)
	require.NoError(t, a.WriteJSON(env))

	got := readEnvelope(t, b)
	assert.Equal(t, models.EnvelopeTypeActivity, got.Type)
	activity, err := got.DecodeActivity()
	require.NoError(t, err)
	assert.Equal(t, "a1", activity.ID)

	// neither the sender nor another room hears it
	require.NoError(t, a.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = a.ReadMessage()
	assert.Error(t, err)
	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = other.ReadMessage()
	assert.Error(t, err)
}

func TestServer_ReplaysRecentActivities(t *testing.T) {
	srv, ts := newTestServer(t)
	for _, id := range []string{"a1", "a2"} {
		_, err := srv.Store().AppendActivity("room-1", models.RoomActivity{ID: id, Type: models.ActivityTypeJoin, UserName: "ada"})
		require.NoError(t, err)
	}

	conn := dialRoom(t, ts, "room-1")
	env := readEnvelope(t, conn)
	assert.Equal(t, models.EnvelopeTypeRecentActivities, env.Type)

	list, err := env.DecodeActivities()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a1", list[0].ID)
}

func TestServer_DropsForeignAndMalformedEnvelopes(t *testing.T) {
	srv, ts := newTestServer(t)

	a := dialRoom(t, ts, "room-1")
	b := dialRoom(t, ts, "room-1")
	require.Eventually(t, func() bool { return srv.Hub().Count("room-1") == 2 }, time.Second, time.Millisecond)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
	foreign, err := models.NewEnvelope(models.EnvelopeTypeActivity, models.RoomActivity{ID: "x", Type: models.ActivityTypeJoin, RoomID: "room-2"})
	require.NoError(t, err)
	require.NoError(t, a.WriteJSON(foreign))
	require.NoError(t, a.WriteJSON(models.Envelope{Type: models.EnvelopeTypeTest, Payload: json.RawMessage(`{}`)}))

	require.NoError(t, b.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = b.ReadMessage()
	assert.Error(t, err)
}

func TestServer_UnregistersOnClose(t *testing.T) {
	srv, ts := newTestServer(t)

	conn := dialRoom(t, ts, "room-1")
	require.Eventually(t, func() bool { return srv.Hub().Count("room-1") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return srv.Hub().Count("room-1") == 0 }, time.Second, time.Millisecond)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheusCollector(reg)
	srv, ts := newTestServer(t, WithMetrics(m, reg))

	dialRoom(t, ts, "room-1")
	require.Eventually(t, func() bool { return srv.Hub().Count("room-1") == 1 }, time.Second, time.Millisecond)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
