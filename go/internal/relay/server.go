package relay

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/focusroom/go/internal/metrics"
)

// Config holds relay server configuration
type Config struct {
	Port           string
	AllowedOrigins []string
	Hub            HubConfig
	ReadTimeout    time.Duration
	IdleTimeout    time.Duration
}

// DefaultConfig returns default relay server configuration
func DefaultConfig() Config {
	return Config{
		Port:           "3000",
		AllowedOrigins: []string{"*"},
		Hub:            DefaultHubConfig(),
		ReadTimeout:    10 * time.Second,
		IdleTimeout:    120 * time.Second,
	}
}

// Server wires the store, the websocket hub and the fanout behind one router.
type Server struct {
	config  Config
	store   *Store
	hub     *Hub
	fanout  Fanout
	handler http.Handler
}

type serverOptions struct {
	fanout   Fanout
	clock    clockwork.Clock
	metrics  metrics.Collector
	gatherer prometheus.Gatherer
}

// Option customizes a Server.
type Option func(*serverOptions)

// WithFanout replaces the in-process fanout.
func WithFanout(f Fanout) Option {
	return func(o *serverOptions) { o.fanout = f }
}

// WithClock sets the clock that stamps stored activities.
func WithClock(clock clockwork.Clock) Option {
	return func(o *serverOptions) { o.clock = clock }
}

// WithMetrics records relay metrics and, when g is non-nil, serves them on /metrics.
func WithMetrics(m metrics.Collector, g prometheus.Gatherer) Option {
	return func(o *serverOptions) {
		o.metrics = m
		o.gatherer = g
	}
}

// NewServer builds a relay and subscribes its hub to the fanout.
func NewServer(config Config, opts ...Option) (*Server, error) {
	o := serverOptions{
		clock:   clockwork.NewRealClock(),
		metrics: metrics.NoOpCollector{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fanout == nil {
		o.fanout = NewLocalFanout()
	}

	store := NewStore(o.clock)
	hub := NewHub(config.Hub, o.fanout, store, o.metrics)
	if err := o.fanout.Subscribe(hub.Deliver); err != nil {
		return nil, fmt.Errorf("subscribe fanout: %w", err)
	}

	s := &Server{
		config: config,
		store:  store,
		hub:    hub,
		fanout: o.fanout,
	}
	s.handler = s.routes(o.gatherer)
	return s, nil
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	h := &handlers{store: s.store, hub: s.hub}

	r := chi.NewRouter()
	r.Route("/api/room", func(r chi.Router) {
		r.Post("/create", h.createRoom)
		r.Route("/{roomId}", func(r chi.Router) {
			r.Get("/info", h.getRoom)
			r.Get("/activities", h.listActivities)
			r.Post("/activities", h.storeActivity)
			r.Get("/users", h.listUsers)
			r.Post("/users", h.joinRoom)
			r.Delete("/users", h.leaveRoom)
			r.Get("/url", h.getURL)
			r.Post("/url", h.storeURL)
		})
	})
	r.Get("/rooms/{roomId}", h.serveWS)
	r.Get("/ws/stats", h.stats)
	r.Get("/health", healthz)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Store exposes the backing store.
func (s *Server) Store() *Store { return s.store }

// Hub exposes the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// HTTPServer wraps the handler for cleartext HTTP/2 and HTTP/1.1 clients.
// Write timeouts are left unset so websocket connections are not cut off.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:        fmt.Sprintf(":%s", s.config.Port),
		Handler:     h2c.NewHandler(s.handler, &http2.Server{}),
		ReadTimeout: s.config.ReadTimeout,
		IdleTimeout: s.config.IdleTimeout,
	}
}

// Close disconnects every peer and stops the fanout.
func (s *Server) Close() error {
	s.hub.Close()
	return s.fanout.Close()
}
