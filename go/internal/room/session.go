package room

import (
	"context"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/activity"
	"github.com/mcdev12/focusroom/go/internal/metrics"
	"github.com/mcdev12/focusroom/go/internal/models"
	"github.com/mcdev12/focusroom/go/internal/realtime"
	"github.com/mcdev12/focusroom/go/internal/timer"
)

// ErrSessionClosed is returned by Open after Close.
var ErrSessionClosed = errors.New("session closed")

// Backend is everything a session needs from the HTTP API.
type Backend interface {
	activity.Persister
	API
}

// SessionConfig describes one participant in one room.
type SessionConfig struct {
	RoomID     string
	UserName   string
	Connection realtime.ConnectionConfig
	Policy     timer.Policy
}

// Session is the composition root of a room view. It owns the connection,
// history, countdown and membership for its lifetime.
type Session struct {
	config SessionConfig

	dispatcher  *realtime.Dispatcher
	conn        *realtime.Connection
	store       *activity.Store
	engine      *timer.Engine
	coordinator *Coordinator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	opened      bool
	closed      bool
	lastTimerID string
}

type sessionOptions struct {
	clock   clockwork.Clock
	metrics metrics.Collector
	dialer  realtime.Dialer
}

// SessionOption customizes a Session.
type SessionOption func(*sessionOptions)

// WithSessionClock drives reconnects, timestamps and the countdown from clock.
func WithSessionClock(clock clockwork.Clock) SessionOption {
	return func(o *sessionOptions) { o.clock = clock }
}

// WithSessionMetrics sets the metrics collector for every component.
func WithSessionMetrics(m metrics.Collector) SessionOption {
	return func(o *sessionOptions) { o.metrics = m }
}

// WithSessionDialer replaces the websocket dialer.
func WithSessionDialer(d realtime.Dialer) SessionOption {
	return func(o *sessionOptions) { o.dialer = d }
}

// NewSession wires a session without touching the network.
func NewSession(config SessionConfig, backend Backend, opts ...SessionOption) *Session {
	o := sessionOptions{
		clock:   clockwork.NewRealClock(),
		metrics: metrics.NoOpCollector{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if config.Policy == (timer.Policy{}) {
		config.Policy = timer.DefaultPolicy()
	}
	config.Connection = config.Connection.WithDefaults()

	connOpts := []realtime.Option{realtime.WithClock(o.clock), realtime.WithMetrics(o.metrics)}
	if o.dialer != nil {
		connOpts = append(connOpts, realtime.WithDialer(o.dialer))
	}

	dispatcher := realtime.NewDispatcher()
	conn := realtime.NewConnection(config.Connection, dispatcher, connOpts...)
	store := activity.NewStore(config.RoomID, backend, conn,
		activity.WithClock(o.clock),
		activity.WithMetrics(o.metrics),
	)
	engine := timer.NewEngine(config.RoomID, config.UserName,
		timer.EmitterFunc(func(ctx context.Context, draft models.ActivityDraft) error {
			_, err := store.Append(ctx, draft)
			return err
		}),
		timer.WithClock(o.clock),
		timer.WithPolicy(config.Policy),
		timer.WithMetrics(o.metrics),
	)

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		config:      config,
		dispatcher:  dispatcher,
		conn:        conn,
		store:       store,
		engine:      engine,
		coordinator: NewCoordinator(backend, store),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Session) Engine() *timer.Engine { return s.engine }
func (s *Session) Store() *activity.Store { return s.store }
func (s *Session) Coordinator() *Coordinator { return s.coordinator }
func (s *Session) Connection() *realtime.Connection { return s.conn }

// Open connects to the room, loads its history, brings the timer in line
// with the latest timer activity and joins. Backend failures are logged and
// leave the session usable.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.opened = true
	s.mu.Unlock()

	roomID := s.config.RoomID
	s.dispatcher.Subscribe(models.EnvelopeTypeActivity, s.store)
	s.dispatcher.Subscribe(models.EnvelopeTypeRecentActivities, s.store)
	s.store.OnChange(s.onActivity)

	s.conn.Connect(roomID)

	if _, err := s.coordinator.FetchRoom(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("room metadata unavailable")
	}

	history := s.store.LoadHistory(ctx)
	s.syncTimer()
	if latest, err := s.store.LatestMembershipActivity(); err == nil {
		s.coordinator.ObserveActivity(ctx, latest)
	} else if _, err := s.coordinator.RefreshUsers(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("member list unavailable")
	}

	if _, err := s.coordinator.Join(ctx, roomID, s.config.UserName); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("continuing without registered presence")
	}

	log.Info().
		Str("room_id", roomID).
		Str("user_name", s.config.UserName).
		Int("history", len(history)).
		Msg("room session opened")
	return nil
}

// Close leaves the room, stops the countdown and drops the connection.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	opened := s.opened
	s.mu.Unlock()

	var leaveErr error
	if opened {
		_, leaveErr = s.coordinator.Leave(ctx, s.config.RoomID, s.config.UserName)
	}
	s.engine.Stop()
	s.cancel()
	s.conn.Disconnect()
	s.wg.Wait()

	log.Info().Str("room_id", s.config.RoomID).Msg("room session closed")
	return leaveErr
}

// onActivity runs for every confirmed history merge.
func (s *Session) onActivity(a models.RoomActivity) {
	switch {
	case a.Type.IsTimer():
		s.syncTimer()
	case a.Type.IsMembership():
		latest, err := s.store.LatestMembershipActivity()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			s.coordinator.ObserveActivity(s.ctx, latest)
		}()
	}
}

// syncTimer reconciles against the latest timer activity once per distinct activity.
func (s *Session) syncTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.store.LatestTimerActivity()
	if err != nil || latest.ID == s.lastTimerID {
		return
	}
	s.lastTimerID = latest.ID
	s.engine.Reconcile(latest)
}
