package sfu

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/stagehand-live/stagehand/internal/core"
)

// Relay pumps RTP from one remote track to every subscribed OutTrack.
type Relay struct {
	src    *webrtc.TrackRemote
	paused *atomic.Bool

	mu        sync.RWMutex
	outTracks map[core.ConsumerID]*OutTrack

	// Most recent audio level in dBov, for the level observer.
	level   atomic.Int32
	levelAt atomic.Int64
}

func NewRelay(src *webrtc.TrackRemote, paused *atomic.Bool) *Relay {
	r := &Relay{
		src:       src,
		paused:    paused,
		outTracks: make(map[core.ConsumerID]*OutTrack),
	}
	r.level.Store(127)
	return r
}

// loop reads RTP packets from the source track and forwards them.
// Returns when the context is canceled or the track ends.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay read RTP ended")
			r.markAllDelete()
			return
		}
		if r.src.Kind() == webrtc.RTPCodecTypeAudio {
			r.captureLevel(pkt)
		}
		if r.paused.Load() {
			continue
		}
		r.forward(pkt, logger)
	}
}

// captureLevel pulls the ssrc-audio-level one-byte extension out of the
// packet, whichever id it was negotiated under.
func (r *Relay) captureLevel(pkt *rtp.Packet) {
	for _, id := range pkt.GetExtensionIDs() {
		var ext rtp.AudioLevelExtension
		if err := ext.Unmarshal(pkt.GetExtension(id)); err != nil {
			continue
		}
		r.level.Store(int32(ext.Level))
		r.levelAt.Store(time.Now().UnixNano())
		return
	}
}

func (r *Relay) lastLevel() (uint8, time.Time) {
	return uint8(r.level.Load()), time.Unix(0, r.levelAt.Load())
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[core.ConsumerID]*OutTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]core.ConsumerID, 0, len(snapshot))
	for cid, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, cid)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("consumer", string(cid)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, cid)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []core.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cid := range dirty {
		delete(r.outTracks, cid)
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(cid core.ConsumerID, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[cid] = ot
}
