package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/focusroom/go/clients/roomapi"
	"github.com/mcdev12/focusroom/go/internal/models"
	"github.com/mcdev12/focusroom/go/internal/realtime"
	"github.com/mcdev12/focusroom/go/internal/relay"
	"github.com/mcdev12/focusroom/go/internal/room"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func openTestSession(t *testing.T) *room.Session {
	t.Helper()
	srv, err := relay.NewServer(relay.DefaultConfig())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Close()
		ts.Close()
	})

	s := room.NewSession(room.SessionConfig{
		RoomID:     "room-1",
		UserName:   "ada",
		Connection: realtime.DefaultConnectionConfig("ws" + strings.TrimPrefix(ts.URL, "http")),
	}, roomapi.NewClient(ts.URL))
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestConsole_Commands(t *testing.T) {
	s := openTestSession(t)
	require.Eventually(t, func() bool { return len(s.Coordinator().Users()) == 1 }, 2*time.Second, 5*time.Millisecond)
	out := &syncBuffer{}
	con := newConsole(out)

	in := strings.NewReader("change 15 break\nstatus\n\nchange soon\ndance\nusers\nhistory 1\nquit\nchange 50\n")
	require.NoError(t, con.run(context.Background(), s, in))

	text := out.String()
	assert.Contains(t, text, "15:00 break")
	assert.Contains(t, text, `error: invalid minutes "soon"`)
	assert.Contains(t, text, `unknown command "dance"`)
	assert.Contains(t, text, "1 online: ada")
	assert.Contains(t, text, "change_timer 15:00 break")

	st := s.Engine().Snapshot()
	assert.Equal(t, models.TimerModeBreak, st.Mode, "nothing after quit runs")
	assert.Equal(t, 15*time.Minute, st.Remaining)
}

func TestConsole_StopsOnEOFAndCancel(t *testing.T) {
	s := openTestSession(t)
	con := newConsole(&syncBuffer{})

	require.NoError(t, con.run(context.Background(), s, strings.NewReader("status")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, con.run(ctx, s, blockingReader{}))
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	select {}
}

func TestFormatActivity(t *testing.T) {
	a := models.RoomActivity{
		Type:          models.ActivityTypeStartTimer,
		UserName:      "ada",
		TimeStamp:     time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local),
		TimeRemaining: "25:00",
		TimerMode:     models.TimerModeWork,
	}
	assert.Equal(t, "09:30:00 ada start_timer 25:00 work", formatActivity(a))

	a.Type = models.ActivityTypeJoin
	a.TimeRemaining, a.TimerMode = "", ""
	assert.Equal(t, "09:30:00 ada join", formatActivity(a))
}
