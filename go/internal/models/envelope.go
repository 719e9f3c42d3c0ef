package models

import (
	"encoding/json"
	"fmt"
)

// EnvelopeType represents the kind of message carried over the realtime channel.
type EnvelopeType string

const (
	EnvelopeTypeActivity         EnvelopeType = "activity"
	EnvelopeTypeConnectionStatus EnvelopeType = "connection_status"
	EnvelopeTypeRecentActivities EnvelopeType = "recent_activities"
	EnvelopeTypeTimerUpdate      EnvelopeType = "timer_update"
	EnvelopeTypeTest             EnvelopeType = "test"
)

// ConnectionStatusConnected is sent by a client once its socket opens.
const ConnectionStatusConnected = "connected"

// Envelope is the wire unit of the realtime channel. Payload shape depends on Type.
type Envelope struct {
	Type    EnvelopeType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ConnectionStatusPayload is the payload of a connection_status envelope.
type ConnectionStatusPayload struct {
	Status string `json:"status"`
	RoomID string `json:"roomId"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(t EnvelopeType, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: data}, nil
}

// DecodeActivity reads the payload of an activity envelope.
func (e Envelope) DecodeActivity() (RoomActivity, error) {
	var a RoomActivity
	if err := json.Unmarshal(e.Payload, &a); err != nil {
		return RoomActivity{}, fmt.Errorf("decode activity payload: %w", err)
	}
	if a.ID == "" {
		return RoomActivity{}, fmt.Errorf("decode activity payload: missing id")
	}
	return a, nil
}

// DecodeActivities reads the payload of a recent_activities envelope.
func (e Envelope) DecodeActivities() ([]RoomActivity, error) {
	var list []RoomActivity
	if err := json.Unmarshal(e.Payload, &list); err != nil {
		return nil, fmt.Errorf("decode recent activities payload: %w", err)
	}
	return list, nil
}
