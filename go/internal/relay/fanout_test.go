package relay

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	roomID, origin string
	data           string
}

type collector struct {
	mu   sync.Mutex
	seen []delivery
}

func (c *collector) deliver(roomID, origin string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, delivery{roomID: roomID, origin: origin, data: string(data)})
}

func (c *collector) all() []delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivery(nil), c.seen...)
}

func TestLocalFanout(t *testing.T) {
	f := NewLocalFanout()
	assert.Error(t, f.Publish("room-1", "p1", []byte("x")), "publishing without a subscriber fails")

	c := &collector{}
	require.NoError(t, f.Subscribe(c.deliver))
	require.NoError(t, f.Publish("room-1", "p1", []byte(`{"type":"activity"}`)))
	assert.Equal(t, []delivery{{roomID: "room-1", origin: "p1", data: `{"type":"activity"}`}}, c.all())

	require.NoError(t, f.Close())
	assert.Error(t, f.Publish("room-1", "p1", nil))
}

func TestActivitySubject(t *testing.T) {
	assert.Equal(t, "focusroom.rooms.abc.activity", ActivitySubject("abc"))
	assert.Equal(t, "focusroom.rooms.a_b_c.activity", ActivitySubject("a.b*c"))
	assert.Equal(t, "focusroom.rooms._.activity", ActivitySubject(""))
}

func TestNATSMessageRoundTrip(t *testing.T) {
	msg := encodeMsg("team.alpha", "peer-1", []byte(`{"type":"activity"}`))
	assert.Equal(t, "focusroom.rooms.team_alpha.activity", msg.Subject)

	roomID, origin, data, err := decodeMsg(msg)
	require.NoError(t, err)
	assert.Equal(t, "team.alpha", roomID, "the header keeps the exact room id")
	assert.Equal(t, "peer-1", origin)
	assert.JSONEq(t, `{"type":"activity"}`, string(data))

	_, _, _, err = decodeMsg(&nats.Msg{Subject: msg.Subject})
	assert.Error(t, err)
}

// Runs against a live server when FOCUSROOM_TEST_NATS_URL is set.
func TestNATSFanout(t *testing.T) {
	url := os.Getenv("FOCUSROOM_TEST_NATS_URL")
	if url == "" {
		t.Skip("FOCUSROOM_TEST_NATS_URL not set")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = url
	a, err := NewNATSFanout(cfg)
	require.NoError(t, err)
	b, err := NewNATSFanout(cfg)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	c := &collector{}
	require.NoError(t, b.Subscribe(c.deliver))
	require.NoError(t, b.nc.Flush())

	require.NoError(t, a.Publish("room-1", "peer-1", []byte("hello")))
	require.Eventually(t, func() bool { return len(c.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, delivery{roomID: "room-1", origin: "peer-1", data: "hello"}, c.all()[0])
}
