package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/metrics"
	"github.com/mcdev12/focusroom/go/internal/models"
)

// HubConfig holds configuration for relay websocket connections
type HubConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	RecentLimit     int // activities replayed to a new connection, 0 disables
	CheckOrigin     func(r *http.Request) bool
}

// DefaultHubConfig returns default relay websocket configuration
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		RecentLimit:     50,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// RecentSource supplies history replayed to new connections.
type RecentSource interface {
	Recent(roomID string, n int) []models.RoomActivity
}

// Hub manages the websocket connections of every room
type Hub struct {
	rooms map[string]map[*Peer]struct{}
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   HubConfig
	fanout   Fanout
	recent   RecentSource
	metrics  metrics.Collector
}

// Peer is one websocket client of a room
type Peer struct {
	ID     string
	RoomID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub

	ConnectedAt time.Time
}

// NewHub creates a hub publishing inbound activities through fanout.
func NewHub(config HubConfig, fanout Fanout, recent RecentSource, m metrics.Collector) *Hub {
	if m == nil {
		m = metrics.NoOpCollector{}
	}
	return &Hub{
		rooms: make(map[string]map[*Peer]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		fanout:  fanout,
		recent:  recent,
		metrics: m,
	}
}

// Upgrade turns an HTTP request into a peer of roomID.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, roomID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to upgrade websocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	peer := &Peer{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		conn:        conn,
		send:        make(chan []byte, h.config.SendBuffer),
		hub:         h,
		ConnectedAt: time.Now(),
	}

	h.register(peer)
	h.replay(peer)

	go peer.writePump()
	go peer.readPump()

	log.Info().
		Str("peer_id", peer.ID).
		Str("room_id", roomID).
		Msg("websocket connection established")
	return nil
}

// replay queues recent history for a new peer.
func (h *Hub) replay(p *Peer) {
	if h.recent == nil || h.config.RecentLimit <= 0 {
		return
	}
	list := h.recent.Recent(p.RoomID, h.config.RecentLimit)
	if len(list) == 0 {
		return
	}
	env, err := models.NewEnvelope(models.EnvelopeTypeRecentActivities, list)
	if err != nil {
		log.Error().Err(err).Msg("failed to build recent activities")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal recent activities")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.rooms[p.RoomID][p]; !ok {
		return
	}
	select {
	case p.send <- data:
	default:
	}
}

func (h *Hub) register(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[p.RoomID] == nil {
		h.rooms[p.RoomID] = make(map[*Peer]struct{})
	}
	h.rooms[p.RoomID][p] = struct{}{}
	h.metrics.RecordRelayConnection(1)

	log.Debug().
		Str("peer_id", p.ID).
		Str("room_id", p.RoomID).
		Int("room_connections", len(h.rooms[p.RoomID])).
		Msg("peer registered")
}

func (h *Hub) unregister(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.rooms[p.RoomID]
	if !ok {
		return
	}
	if _, ok := peers[p]; !ok {
		return
	}
	delete(peers, p)
	close(p.send)
	if len(peers) == 0 {
		delete(h.rooms, p.RoomID)
	}
	h.metrics.RecordRelayConnection(-1)

	log.Info().
		Str("peer_id", p.ID).
		Str("room_id", p.RoomID).
		Msg("peer unregistered")
}

// Deliver sends data to every peer of roomID except origin. It is the
// DeliverFunc handed to the fanout.
func (h *Hub) Deliver(roomID, origin string, data []byte) {
	var slow []*Peer
	recipients := 0

	h.mu.RLock()
	for p := range h.rooms[roomID] {
		if p.ID == origin {
			continue
		}
		recipients++
		select {
		case p.send <- data:
		default:
			slow = append(slow, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range slow {
		log.Warn().
			Str("peer_id", p.ID).
			Str("room_id", roomID).
			Msg("peer send buffer full, closing connection")
		h.unregister(p)
		_ = p.conn.Close()
	}
	h.metrics.RecordRelayFanout(recipients)

	log.Debug().
		Str("room_id", roomID).
		Str("origin", origin).
		Int("recipients", recipients).
		Msg("envelope relayed")
}

// Count returns the number of peers in roomID.
func (h *Hub) Count(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Stats returns connection counts per room.
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.rooms))
	for roomID, peers := range h.rooms {
		out[roomID] = len(peers)
	}
	return out
}

// Close disconnects every peer.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Peer
	for _, peers := range h.rooms {
		for p := range peers {
			all = append(all, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range all {
		h.unregister(p)
		_ = p.conn.Close()
	}
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(p.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
		p.hub.unregister(p)
	}()

	for {
		select {
		case message, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.hub.config.WriteTimeout))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("peer_id", p.ID).Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.hub.config.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("peer_id", p.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

func (p *Peer) readPump() {
	defer func() {
		p.hub.unregister(p)
		_ = p.conn.Close()
	}()

	p.conn.SetReadLimit(p.hub.config.MaxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(p.hub.config.ReadTimeout))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(p.hub.config.ReadTimeout))
	})

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("peer_id", p.ID).Msg("unexpected websocket close error")
			}
			break
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(p.hub.config.ReadTimeout))
		p.handleMessage(message)
	}
}

// handleMessage relays activity envelopes to the rest of the room.
func (p *Peer) handleMessage(message []byte) {
	var env models.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Warn().Err(err).Str("peer_id", p.ID).Msg("discarding malformed envelope")
		return
	}

	switch env.Type {
	case models.EnvelopeTypeActivity:
		a, err := env.DecodeActivity()
		if err != nil {
			log.Warn().Err(err).Str("peer_id", p.ID).Msg("discarding invalid activity")
			return
		}
		if a.RoomID != "" && a.RoomID != p.RoomID {
			log.Warn().Str("peer_id", p.ID).Str("activity_room_id", a.RoomID).Msg("discarding activity for another room")
			return
		}
		if err := p.hub.fanout.Publish(p.RoomID, p.ID, message); err != nil {
			log.Error().Err(err).Str("room_id", p.RoomID).Msg("failed to relay activity")
		}

	case models.EnvelopeTypeConnectionStatus:
		var status models.ConnectionStatusPayload
		_ = json.Unmarshal(env.Payload, &status)
		log.Info().
			Str("peer_id", p.ID).
			Str("room_id", p.RoomID).
			Str("status", status.Status).
			Msg("client connection status")

	default:
		log.Debug().Str("peer_id", p.ID).Str("envelope_type", string(env.Type)).Msg("ignoring client envelope")
	}
}
