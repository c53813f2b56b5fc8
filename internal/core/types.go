package core

import (
	"encoding/json"
	"time"
)

type (
	TransportID string
	ProducerID  string
	ConsumerID  string
)

// Direction of a transport relative to the peer: a send transport
// carries the peer's producers, a recv transport its consumers.
// Immutable after creation.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// Negotiation payloads are opaque to the core: they are relayed between
// the remote peer and the engine untouched.
type (
	RTPCapabilities = json.RawMessage
	RTPParameters   = json.RawMessage
	DTLSParameters  = json.RawMessage
)

// TransportOptions is the subset of a transport the remote peer needs
// to mirror it locally. The engine handle itself never leaves the core.
type TransportOptions struct {
	ID         TransportID     `json:"id"`
	Direction  Direction       `json:"direction"`
	Parameters json.RawMessage `json:"parameters"`
}

// ConsumerOptions is what the receiving peer needs to mirror a consumer.
type ConsumerOptions struct {
	ID            ConsumerID      `json:"id"`
	ProducerID    ProducerID      `json:"producerId"`
	Kind          MediaKind       `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

// StatsSnapshot is the most recent polled metrics for one resource,
// overwritten each poll cycle.
type StatsSnapshot struct {
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// VolumeSample is one entry of the audio-level observer's "volumes"
// event: volume is in dBov, 0 loudest, -127 silence.
type VolumeSample struct {
	ProducerID ProducerID `json:"producerId"`
	Volume     int        `json:"volume"`
}
