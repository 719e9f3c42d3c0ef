// Package realtime owns the room websocket and dispatches its envelopes.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/metrics"
	"github.com/mcdev12/focusroom/go/internal/models"
)

// ErrNotOpen is returned by Send when the envelope was dropped because no socket is open.
var ErrNotOpen = errors.New("connection not open")

// State is the lifecycle state of a Connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ConnectionConfig holds configuration for the room websocket
type ConnectionConfig struct {
	BaseURL          string // e.g. ws://localhost:3000
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	ReadBufferSize   int
	WriteBufferSize  int
	SendBuffer       int
	Backoff          Backoff
}

// DefaultConnectionConfig returns default websocket configuration
func DefaultConnectionConfig(baseURL string) ConnectionConfig {
	return ConnectionConfig{
		BaseURL:          baseURL,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   64 * 1024,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		SendBuffer:       64,
		Backoff:          DefaultBackoff(),
	}
}

// WithDefaults fills every zero field from DefaultConnectionConfig.
func (c ConnectionConfig) WithDefaults() ConnectionConfig {
	d := DefaultConnectionConfig(c.BaseURL)
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = d.Backoff
	}
	return c
}

// RoomURL returns the websocket endpoint of a room.
func (c ConnectionConfig) RoomURL(roomID string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/rooms/" + url.PathEscape(roomID)
}

// Connection maintains at most one live websocket, scoped to a single room.
// Inbound envelopes are handed to the dispatcher on the read goroutine, so
// delivery order matches network order.
type Connection struct {
	config     ConnectionConfig
	dialer     Dialer
	clock      clockwork.Clock
	dispatcher *Dispatcher
	metrics    metrics.Collector

	mu         sync.Mutex
	state      State
	roomID     string
	conn       Conn
	send       chan []byte
	generation uint64
	reconnect  bool
	attempts   int
	retryTimer clockwork.Timer
}

// Option customizes a Connection.
type Option func(*Connection)

// WithDialer replaces the gorilla dialer.
func WithDialer(d Dialer) Option {
	return func(c *Connection) { c.dialer = d }
}

// WithClock replaces the real clock used for reconnect scheduling and pings.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Connection) { c.clock = clock }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(c *Connection) { c.metrics = m }
}

// NewConnection creates an idle connection delivering to dispatcher.
func NewConnection(config ConnectionConfig, dispatcher *Dispatcher, opts ...Option) *Connection {
	config = config.WithDefaults()
	c := &Connection{
		config:     config,
		dispatcher: dispatcher,
		clock:      clockwork.NewRealClock(),
		metrics:    metrics.NoOpCollector{},
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWebsocketDialer(config)
	}
	return c
}

// Dispatcher returns the dispatcher fed by this connection.
func (c *Connection) Dispatcher() *Dispatcher { return c.dispatcher }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoomID returns the room the connection is scoped to, if any.
func (c *Connection) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Attempts returns the number of reconnect attempts scheduled since the last open.
func (c *Connection) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect attaches to roomID. It is a no-op while already connecting to or
// connected to the same room; a connection to another room is closed first.
// Calling Connect re-enables reconnection and resets the attempt counter.
func (c *Connection) Connect(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if (c.state == StateConnecting || c.state == StateOpen) && c.roomID == roomID {
		log.Debug().Str("room_id", roomID).Str("state", c.state.String()).Msg("already connected")
		return
	}

	if c.roomID != "" && c.roomID != roomID {
		log.Info().Str("room_id", c.roomID).Str("next_room_id", roomID).Msg("switching rooms")
	}
	c.teardownLocked()

	c.roomID = roomID
	c.reconnect = true
	c.attempts = 0
	c.dialLocked()
}

// Disconnect closes the socket, stops any pending reconnect and clears all
// dispatcher subscriptions. It is the only way to stop retries permanently.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	roomID := c.roomID
	c.reconnect = false
	c.teardownLocked()
	c.state = StateClosed
	c.roomID = ""
	c.mu.Unlock()

	c.dispatcher.Clear()
	log.Info().Str("room_id", roomID).Msg("realtime connection closed")
}

// Send transmits env if the socket is open. Otherwise the envelope is dropped
// and ErrNotOpen is returned; there is no outbound queue across reconnects.
func (c *Connection) Send(env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen || c.send == nil {
		c.metrics.RecordEnvelopeDropped(string(env.Type))
		log.Debug().Str("envelope_type", string(env.Type)).Str("state", c.state.String()).Msg("dropping envelope, connection not open")
		return ErrNotOpen
	}

	select {
	case c.send <- data:
		c.metrics.RecordEnvelopeSent(string(env.Type))
		return nil
	default:
		c.metrics.RecordEnvelopeDropped(string(env.Type))
		log.Warn().Str("room_id", c.roomID).Str("envelope_type", string(env.Type)).Msg("send buffer full, dropping envelope")
		return ErrNotOpen
	}
}

// dialLocked starts a new generation and dials in the background.
func (c *Connection) dialLocked() {
	c.generation++
	c.state = StateConnecting
	go c.dial(c.generation, c.roomID)
}

// teardownLocked invalidates the current generation and cancels a pending
// retry. The write pump drains queued envelopes, sends a close frame and
// closes the socket; the socket is force-closed after WriteTimeout.
func (c *Connection) teardownLocked() {
	c.generation++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.send != nil {
		close(c.send)
		c.send = nil
	}
	if c.conn != nil {
		conn := c.conn
		c.clock.AfterFunc(c.config.WriteTimeout, func() { _ = conn.Close() })
		c.conn = nil
	}
}

// current reports whether gen is still the live generation.
func (c *Connection) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

func (c *Connection) dial(gen uint64, roomID string) {
	target := c.config.RoomURL(roomID)
	log.Info().Str("room_id", roomID).Str("url", target).Msg("connecting")

	ctx := context.Background()
	if c.config.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.HandshakeTimeout)
		defer cancel()
	}
	conn, err := c.dialer.Dial(ctx, target)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("websocket dial failed")
		c.handleCloseLocked()
		c.mu.Unlock()
		return
	}

	send := make(chan []byte, c.config.SendBuffer)
	c.conn = conn
	c.send = send
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	log.Info().Str("room_id", roomID).Msg("connected to room")

	go c.writePump(gen, conn, send)

	status, err := models.NewEnvelope(models.EnvelopeTypeConnectionStatus, models.ConnectionStatusPayload{
		Status: models.ConnectionStatusConnected,
		RoomID: roomID,
	})
	if err == nil {
		_ = c.Send(status)
	}

	c.readPump(gen, conn)
}

// handleCloseLocked records an unexpected close and schedules a retry while
// under the attempt ceiling.
func (c *Connection) handleCloseLocked() {
	if c.send != nil {
		close(c.send)
		c.send = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed

	if !c.reconnect {
		return
	}
	if !c.config.Backoff.Allowed(c.attempts) {
		c.reconnect = false
		log.Warn().Str("room_id", c.roomID).Int("attempts", c.attempts).Msg("giving up reconnecting")
		return
	}

	c.attempts++
	delay := c.config.Backoff.Delay(c.attempts)
	gen := c.generation
	c.metrics.RecordReconnectAttempt(c.attempts, delay)
	c.retryTimer = c.clock.AfterFunc(delay, func() { c.retry(gen) })

	log.Info().
		Str("room_id", c.roomID).
		Int("attempt", c.attempts).
		Dur("delay", delay).
		Msg("scheduling reconnect")
}

func (c *Connection) retry(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || !c.reconnect {
		return
	}
	c.retryTimer = nil
	c.dialLocked()
}

// readPump handles reading messages from the websocket until it fails.
func (c *Connection) readPump(gen uint64, conn Conn) {
	conn.SetReadLimit(c.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Msg("unexpected websocket close")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		if !c.current(gen) {
			continue
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Warn().Err(err).Msg("discarding malformed envelope")
			continue
		}
		c.metrics.RecordEnvelopeReceived(string(env.Type))
		c.dispatcher.Dispatch(env)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	log.Info().Str("room_id", c.roomID).Msg("websocket disconnected")
	c.handleCloseLocked()
}

// writePump handles sending messages and keepalive pings.
func (c *Connection) writePump(gen uint64, conn Conn, send <-chan []byte) {
	ticker := c.clock.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Uint64("generation", gen).Msg("failed to write message to websocket")
				_ = conn.Close()
				return
			}

		case <-ticker.Chan():
			_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Uint64("generation", gen).Msg("failed to send ping")
				_ = conn.Close()
				return
			}
		}
	}
}
