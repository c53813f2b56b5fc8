package sfu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/core"
)

var (
	errDirection = errors.New("wrong transport direction")
	errClosed    = errors.New("transport closed")
)

// Transport wraps one server-side PeerConnection. The remote peer is
// always the offerer; Connect applies its description and answers.
type Transport struct {
	e      *Engine
	id     core.TransportID
	peerID string
	dir    core.Direction
	pc     *webrtc.PeerConnection

	mu      sync.Mutex
	pending []*Producer
	closed  bool
}

func newTransport(e *Engine, pc *webrtc.PeerConnection, peerID string, dir core.Direction) *Transport {
	return &Transport{
		e:      e,
		id:     core.TransportID(uuid.NewString()),
		peerID: peerID,
		dir:    dir,
		pc:     pc,
	}
}

func (t *Transport) ID() core.TransportID { return t.id }

func (t *Transport) Options() core.TransportOptions {
	params, _ := json.Marshal(map[string]any{"iceServers": t.e.cfg.ICEServers})
	return core.TransportOptions{ID: t.id, Direction: t.dir, Parameters: params}
}

// Connect applies the peer's session description. An offer gets a
// gathered answer back; an answer (renegotiation round trip) gets nil.
// A repeat of the same description is a no-op for the caller.
func (t *Transport) Connect(ctx context.Context, dtls core.DTLSParameters) (core.ConnectReply, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(dtls, &desc); err != nil {
		return nil, fmt.Errorf("bad session description: %w", err)
	}
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return nil, err
	}
	if desc.Type != webrtc.SDPTypeOffer {
		return nil, nil
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	gathered := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return json.Marshal(t.pc.LocalDescription())
}

// Produce registers an expected incoming track. The pion track itself
// arrives asynchronously via OnTrack and is bound to the oldest pending
// producer of its kind.
func (t *Transport) Produce(_ context.Context, kind core.MediaKind, _ core.RTPParameters, paused bool) (core.ProducerHandle, error) {
	if t.dir != core.DirectionSend {
		return nil, errDirection
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errClosed
	}
	p := newProducer(t, kind, paused)
	t.pending = append(t.pending, p)
	t.mu.Unlock()

	t.e.registerProducer(p)
	return p, nil
}

func (t *Transport) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := core.KindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = core.KindVideo
	}
	t.mu.Lock()
	var p *Producer
	for i, cand := range t.pending {
		if cand.kind == kind {
			p = cand
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	if p == nil {
		log.Warn().Str("module", "sfu").Str("transport", string(t.id)).
			Str("kind", string(kind)).Msg("track without pending producer, ignoring")
		return
	}
	p.bindTrack(track)
}

func (t *Transport) Consume(_ context.Context, producerID core.ProducerID, _ core.RTPCapabilities, paused bool) (core.ConsumerHandle, error) {
	if t.dir != core.DirectionRecv {
		return nil, errDirection
	}
	t.e.mu.RLock()
	p, ok := t.e.producers[producerID]
	t.e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("producer %q gone", producerID)
	}

	local, err := webrtc.NewTrackLocalStaticRTP(p.codec(), string(producerID), t.peerID)
	if err != nil {
		return nil, err
	}
	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, err
	}
	c := &Consumer{
		id:       core.ConsumerID(uuid.NewString()),
		t:        t,
		producer: p,
		sender:   sender,
		out:      NewOutTrack(local),
	}
	if paused {
		c.out.MarkMuted()
	}
	p.addOut(c.id, c.out)
	return c, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.e.dropTransport(t.id)
	return t.pc.Close()
}

func (t *Transport) stats(_ context.Context) (core.StatsSnapshot, error) {
	report := t.pc.GetStats()
	data, err := json.Marshal(report)
	if err != nil {
		return core.StatsSnapshot{}, err
	}
	return core.StatsSnapshot{At: time.Now(), Data: data}, nil
}

// Producer is a peer's published track as held by the engine. The relay
// starts once the remote track actually arrives.
type Producer struct {
	id     core.ProducerID
	t      *Transport
	kind   core.MediaKind
	paused atomic.Bool

	mu     sync.Mutex
	relay  *Relay
	stash  map[core.ConsumerID]*OutTrack
	cancel context.CancelFunc
	closed bool
}

func newProducer(t *Transport, kind core.MediaKind, paused bool) *Producer {
	p := &Producer{
		id:    core.ProducerID(uuid.NewString()),
		t:     t,
		kind:  kind,
		stash: make(map[core.ConsumerID]*OutTrack),
	}
	p.paused.Store(paused)
	return p
}

func (p *Producer) ID() core.ProducerID  { return p.id }
func (p *Producer) Kind() core.MediaKind { return p.kind }

func (p *Producer) codec() webrtc.RTPCodecCapability {
	p.mu.Lock()
	relay := p.relay
	p.mu.Unlock()
	if relay != nil {
		return relay.src.Codec().RTPCodecCapability
	}
	if p.kind == core.KindAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func (p *Producer) mimeType() string { return p.codec().MimeType }

func (p *Producer) bindTrack(track *webrtc.TrackRemote) {
	relayCtx, cancel := context.WithCancel(context.Background())
	relay := NewRelay(track, &p.paused)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		return
	}
	p.relay = relay
	p.cancel = cancel
	for cid, ot := range p.stash {
		relay.AddOutTrack(cid, ot)
	}
	p.stash = make(map[core.ConsumerID]*OutTrack)
	p.mu.Unlock()

	logger := log.With().Str("module", "sfu.relay").Str("producer", string(p.id)).Logger()
	go func() {
		relay.loop(relayCtx, &logger)
		// Loop exit without an explicit close means the source track
		// ended: report it like any engine-side producer close.
		p.mu.Lock()
		wasClosed := p.closed
		p.mu.Unlock()
		if !wasClosed {
			p.t.e.dropProducer(p.id)
			if h := p.t.e.getHooks().ProducerClosed; h != nil {
				h(p.id)
			}
		}
	}()
}

func (p *Producer) addOut(id core.ConsumerID, ot *OutTrack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.relay != nil {
		p.relay.AddOutTrack(id, ot)
		return
	}
	p.stash[id] = ot
}

func (p *Producer) lastLevel() (uint8, time.Time) {
	p.mu.Lock()
	relay := p.relay
	p.mu.Unlock()
	if relay == nil {
		return 127, time.Time{}
	}
	return relay.lastLevel()
}

func (p *Producer) Pause(context.Context) error {
	p.paused.Store(true)
	return nil
}

func (p *Producer) Resume(context.Context) error {
	p.paused.Store(false)
	return nil
}

func (p *Producer) Stats(ctx context.Context) (core.StatsSnapshot, error) {
	return p.t.stats(ctx)
}

func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	relay := p.relay
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if relay != nil {
		relay.markAllDelete()
	}
	p.t.e.dropProducer(p.id)
	return nil
}

// Consumer is a receiving peer's handle onto a producer: one OutTrack
// attached to the producer's relay plus the pion sender on the recv
// transport.
type Consumer struct {
	id       core.ConsumerID
	t        *Transport
	producer *Producer
	sender   *webrtc.RTPSender
	out      *OutTrack

	preferred atomic.Int32
}

func (c *Consumer) ID() core.ConsumerID { return c.id }

func (c *Consumer) Options() core.ConsumerOptions {
	params, _ := json.Marshal(map[string]any{"mimeType": c.producer.mimeType()})
	return core.ConsumerOptions{
		ID:            c.id,
		ProducerID:    c.producer.id,
		Kind:          c.producer.kind,
		RTPParameters: params,
	}
}

func (c *Consumer) Pause(context.Context) error {
	c.out.MarkMuted()
	return nil
}

func (c *Consumer) Resume(context.Context) error {
	c.out.MarkOk()
	return nil
}

// SetPreferredLayers records the preference and mirrors the applied
// layer back through the layers hook. Single-encoding relays have one
// layer, so preferred is always what gets applied.
func (c *Consumer) SetPreferredLayers(_ context.Context, spatial int) error {
	c.preferred.Store(int32(spatial))
	if h := c.t.e.getHooks().LayersChanged; h != nil {
		go h(c.id, spatial)
	}
	return nil
}

func (c *Consumer) Stats(ctx context.Context) (core.StatsSnapshot, error) {
	return c.t.stats(ctx)
}

func (c *Consumer) Close() error {
	c.out.MarkDelete()
	return c.t.pc.RemoveTrack(c.sender)
}
