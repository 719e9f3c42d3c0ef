package relay

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// DeliverFunc hands an envelope to every local connection of roomID except origin.
type DeliverFunc func(roomID, origin string, data []byte)

// Fanout carries relayed envelopes between the connections of a room,
// possibly across server instances.
type Fanout interface {
	Publish(roomID, origin string, data []byte) error
	Subscribe(deliver DeliverFunc) error
	Close() error
}

// LocalFanout delivers in-process. It serves a single relay instance.
type LocalFanout struct {
	mu      sync.RWMutex
	deliver DeliverFunc
}

func NewLocalFanout() *LocalFanout {
	return &LocalFanout{}
}

func (f *LocalFanout) Publish(roomID, origin string, data []byte) error {
	f.mu.RLock()
	deliver := f.deliver
	f.mu.RUnlock()
	if deliver == nil {
		return errors.New("local fanout has no subscriber")
	}
	deliver(roomID, origin, data)
	return nil
}

func (f *LocalFanout) Subscribe(deliver DeliverFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliver = deliver
	return nil
}

func (f *LocalFanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliver = nil
	return nil
}

const (
	// SubjectPrefix roots every relay subject.
	SubjectPrefix = "focusroom.rooms"

	RoomHeader   = "Focusroom-Room"
	OriginHeader = "Focusroom-Origin"
)

// ActivitySubject is the NATS subject carrying envelopes for roomID.
func ActivitySubject(roomID string) string {
	return SubjectPrefix + "." + subjectToken(roomID) + ".activity"
}

// subjectToken maps a room id onto a single subject token. The exact room
// id travels in RoomHeader.
func subjectToken(roomID string) string {
	if roomID == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, roomID)
}

// NATSConfig holds configuration for the NATS fanout
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS fanout configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSFanout relays envelopes through core NATS pub/sub so that every relay
// instance sees every room.
type NATSFanout struct {
	nc *nats.Conn

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSFanout connects to NATS.
func NewNATSFanout(config NATSConfig) (*NATSFanout, error) {
	opts := []nats.Option{
		nats.Name("focusroom-relay"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSFanout{nc: nc}, nil
}

func encodeMsg(roomID, origin string, data []byte) *nats.Msg {
	msg := nats.NewMsg(ActivitySubject(roomID))
	msg.Header.Set(RoomHeader, roomID)
	msg.Header.Set(OriginHeader, origin)
	msg.Data = data
	return msg
}

func decodeMsg(msg *nats.Msg) (roomID, origin string, data []byte, err error) {
	if msg.Header == nil {
		return "", "", nil, errors.New("missing relay headers")
	}
	roomID = msg.Header.Get(RoomHeader)
	if roomID == "" {
		return "", "", nil, errors.New("missing room header")
	}
	return roomID, msg.Header.Get(OriginHeader), msg.Data, nil
}

func (f *NATSFanout) Publish(roomID, origin string, data []byte) error {
	if err := f.nc.PublishMsg(encodeMsg(roomID, origin, data)); err != nil {
		return fmt.Errorf("publish to %s: %w", ActivitySubject(roomID), err)
	}
	return nil
}

func (f *NATSFanout) Subscribe(deliver DeliverFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub != nil {
		return errors.New("nats fanout already subscribed")
	}

	subject := SubjectPrefix + ".*.activity"
	sub, err := f.nc.Subscribe(subject, func(msg *nats.Msg) {
		roomID, origin, data, err := decodeMsg(msg)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("discarding relay message")
			return
		}
		deliver(roomID, origin, data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	f.sub = sub

	log.Info().Str("subject", subject).Msg("relay fanout subscribed")
	return nil
}

func (f *NATSFanout) Close() error {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe relay fanout")
		}
	}
	return f.nc.Drain()
}
