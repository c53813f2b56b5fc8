// Package sfu is the pion-backed media engine adapter. It owns one
// router worth of transports and exposes the narrow capability surface
// the orchestrator consumes; nothing above this package touches pion.
package sfu

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/core"
)

const audioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

type Config struct {
	ICEServers []string
	// Audio level observer: poll interval and the loudness floor in
	// dBov below which a producer counts as silent (0 loudest, 127
	// silence).
	LevelInterval  time.Duration
	LevelThreshold int
}

func DefaultConfig() Config {
	return Config{
		ICEServers:     []string{"stun:stun.l.google.com:19302"},
		LevelInterval:  300 * time.Millisecond,
		LevelThreshold: 65,
	}
}

type Engine struct {
	api  *webrtc.API
	cfg  Config
	caps core.RTPCapabilities

	mu         sync.RWMutex
	hooks      core.EngineHooks
	transports map[core.TransportID]*Transport
	producers  map[core.ProducerID]*Producer

	cancel context.CancelFunc
}

// routerCaps is the negotiable capability document handed to peers on
// join. Shape mirrors what clients mirror back as rtpCapabilities.
type routerCaps struct {
	Codecs []struct {
		MimeType  string `json:"mimeType"`
		ClockRate uint32 `json:"clockRate"`
		Channels  uint16 `json:"channels,omitempty"`
	} `json:"codecs"`
	HeaderExtensions []string `json:"headerExtensions"`
}

func NewEngine(cfg Config) (*Engine, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	if err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: audioLevelURI}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	var rc routerCaps
	for _, c := range []struct {
		mime     string
		rate     uint32
		channels uint16
	}{
		{webrtc.MimeTypeOpus, 48000, 2},
		{webrtc.MimeTypeVP8, 90000, 0},
		{webrtc.MimeTypeH264, 90000, 0},
	} {
		rc.Codecs = append(rc.Codecs, struct {
			MimeType  string `json:"mimeType"`
			ClockRate uint32 `json:"clockRate"`
			Channels  uint16 `json:"channels,omitempty"`
		}{c.mime, c.rate, c.channels})
	}
	rc.HeaderExtensions = []string{audioLevelURI}
	capsJSON, err := json.Marshal(rc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(me)),
		cfg:        cfg,
		caps:       capsJSON,
		transports: make(map[core.TransportID]*Transport),
		producers:  make(map[core.ProducerID]*Producer),
		cancel:     cancel,
	}
	go e.observeLevels(ctx)
	return e, nil
}

func (e *Engine) SetHooks(h core.EngineHooks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = h
}

func (e *Engine) getHooks() core.EngineHooks {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hooks
}

func (e *Engine) RouterCapabilities() core.RTPCapabilities {
	return e.caps
}

// CanConsume checks the consumer's capability document against the
// producer's negotiated codec.
func (e *Engine) CanConsume(producerID core.ProducerID, caps core.RTPCapabilities) bool {
	e.mu.RLock()
	p, ok := e.producers[producerID]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	var rc routerCaps
	if err := json.Unmarshal(caps, &rc); err != nil {
		return false
	}
	mime := p.mimeType()
	for _, c := range rc.Codecs {
		if strings.EqualFold(c.MimeType, mime) {
			return true
		}
	}
	return false
}

func (e *Engine) CreateTransport(ctx context.Context, peerID string, dir core.Direction) (core.TransportHandle, error) {
	var servers []webrtc.ICEServer
	if len(e.cfg.ICEServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: e.cfg.ICEServers})
	}
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, err
	}
	t := newTransport(e, pc, peerID, dir)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			log.Info().Str("module", "sfu").Str("transport", string(t.id)).
				Str("state", state.String()).Msg("transport gone")
			e.dropTransport(t.id)
			if h := e.getHooks().TransportClosed; h != nil {
				go h(t.id)
			}
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.onTrack(track, receiver)
	})

	e.mu.Lock()
	e.transports[t.id] = t
	e.mu.Unlock()
	return t, nil
}

func (e *Engine) registerProducer(p *Producer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.producers[p.id] = p
}

func (e *Engine) dropProducer(id core.ProducerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.producers, id)
}

func (e *Engine) dropTransport(id core.TransportID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.transports, id)
}

func (e *Engine) Close() error {
	e.cancel()
	e.mu.Lock()
	transports := make([]*Transport, 0, len(e.transports))
	for _, t := range e.transports {
		transports = append(transports, t)
	}
	e.transports = make(map[core.TransportID]*Transport)
	e.producers = make(map[core.ProducerID]*Producer)
	e.mu.Unlock()
	for _, t := range transports {
		_ = t.Close()
	}
	return nil
}

// observeLevels is the audio level observer: it polls every audio
// relay's most recent level and emits volumes or silence through the
// hooks, the producer-side push the room turns into its active speaker.
func (e *Engine) observeLevels(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.LevelInterval)
	defer ticker.Stop()
	speaking := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		freshBefore := time.Now().Add(-2 * e.cfg.LevelInterval)
		var samples []core.VolumeSample
		e.mu.RLock()
		for id, p := range e.producers {
			if p.kind != core.KindAudio || p.paused.Load() {
				continue
			}
			level, at := p.lastLevel()
			if at.Before(freshBefore) || int(level) > e.cfg.LevelThreshold {
				continue
			}
			samples = append(samples, core.VolumeSample{ProducerID: id, Volume: -int(level)})
		}
		e.mu.RUnlock()

		h := e.getHooks()
		if len(samples) > 0 {
			speaking = true
			if h.Volumes != nil {
				h.Volumes(samples)
			}
		} else if speaking {
			speaking = false
			if h.Silence != nil {
				h.Silence()
			}
		}
	}
}
