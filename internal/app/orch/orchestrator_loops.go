package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/core"
	"github.com/stagehand-live/stagehand/internal/metrics"
)

// StartLoops launches the stale reaper and the stats poller. They run
// until ctx is done and never propagate errors to any caller.
func (o *Orchestrator) StartLoops(ctx context.Context) {
	go o.reapLoop(ctx)
	go o.statsLoop(ctx)
}

func (o *Orchestrator) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(o.Timings.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.ReapStale()
		}
	}
}

// ReapStale removes every session past the staleness threshold with the
// same cascade as an explicit leave.
func (o *Orchestrator) ReapStale() {
	for _, peerID := range o.State.StalePeers(o.now(), o.Timings.StaleAfter) {
		log.Info().Str("module", "orch").Str("peer", string(peerID)).Msg("reaping stale session")
		o.removePeer(peerID, "stale")
		metrics.ReapedSessions.Inc()
	}
}

func (o *Orchestrator) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(o.Timings.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.PollStats(ctx)
		}
	}
}

// PollStats pulls stats for every video producer and every consumer and
// overwrites the owning session's snapshots. Per-resource failures are
// logged and skipped; the sweep always completes.
func (o *Orchestrator) PollStats(ctx context.Context) {
	for _, pe := range o.State.VideoProducers() {
		snap, err := pe.Handle.Stats(ctx)
		if err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("producer", string(pe.ID)).Msg("stats fetch skipped")
			continue
		}
		o.State.WriteStats(pe.Owner, string(pe.ID), snap)
	}
	for _, ce := range o.State.Consumers() {
		snap, err := ce.Handle.Stats(ctx)
		if err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("consumer", string(ce.ID)).Msg("stats fetch skipped")
			continue
		}
		o.State.WriteStats(ce.Owner, string(ce.ID), snap)
	}
}

// onVolumes picks the loudest sample and publishes its producer's owner
// as the active speaker. Volume is dBov, closer to zero is louder.
func (o *Orchestrator) onVolumes(samples []core.VolumeSample) {
	if len(samples) == 0 {
		o.State.ClearActiveSpeaker()
		return
	}
	loudest := samples[0]
	for _, s := range samples[1:] {
		if s.Volume > loudest.Volume {
			loudest = s
		}
	}
	o.State.SetActiveSpeaker(loudest.ProducerID, loudest.Volume)
}
