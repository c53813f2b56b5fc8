package core

import "context"

// Engine is the narrow capability surface of the external media
// forwarding engine (SFU). One worker/router pair per process.
// Every call is fallible and may block on I/O; callers must not hold
// room state locks across them.
type Engine interface {
	// RouterCapabilities returns the router's negotiable capabilities,
	// handed to every peer on join.
	RouterCapabilities() RTPCapabilities
	// CanConsume reports whether caps can consume the given producer.
	CanConsume(producerID ProducerID, caps RTPCapabilities) bool
	CreateTransport(ctx context.Context, peerID string, dir Direction) (TransportHandle, error)
	// SetHooks registers the engine-initiated event callbacks. Must be
	// called once, before any transport exists.
	SetHooks(h EngineHooks)
	Close() error
}

// EngineHooks are the engine-initiated events. Nil fields are ignored.
// TransportClosed and ProducerClosed must route into the same cleanup
// path as the explicit close procedures.
type EngineHooks struct {
	TransportClosed func(TransportID)
	ProducerClosed  func(ProducerID)
	LayersChanged   func(ConsumerID, int)
	// Volumes carries the currently speaking producers; Silence fires
	// when nobody is above the observer threshold.
	Volumes func([]VolumeSample)
	Silence func()
}

type TransportHandle interface {
	ID() TransportID
	// Options is what the remote peer mirrors; safe to call before Connect.
	Options() TransportOptions
	// Connect forwards the peer's DTLS parameters. Idempotent at the
	// protocol level; the reply blob (possibly nil) goes back verbatim.
	Connect(ctx context.Context, dtls DTLSParameters) (ConnectReply, error)
	Produce(ctx context.Context, kind MediaKind, rtp RTPParameters, paused bool) (ProducerHandle, error)
	Consume(ctx context.Context, producerID ProducerID, caps RTPCapabilities, paused bool) (ConsumerHandle, error)
	Close() error
}

type ConnectReply = []byte

type ProducerHandle interface {
	ID() ProducerID
	Kind() MediaKind
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stats(ctx context.Context) (StatsSnapshot, error)
	Close() error
}

type ConsumerHandle interface {
	ID() ConsumerID
	Options() ConsumerOptions
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SetPreferredLayers(ctx context.Context, spatial int) error
	Stats(ctx context.Context) (StatsSnapshot, error)
	Close() error
}
