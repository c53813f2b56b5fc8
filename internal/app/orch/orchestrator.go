// Package orch implements the room lifecycle protocol: every procedure
// the RPC layer exposes runs through the Orchestrator, behind a single
// session guard.
package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/app"
	"github.com/stagehand-live/stagehand/internal/core"
	"github.com/stagehand-live/stagehand/internal/domain"
	"github.com/stagehand-live/stagehand/internal/metrics"
)

// SceneSource hands the orchestrator the current scene and overrides.
// Persistence of both is the caller's responsibility.
type SceneSource interface {
	Current(ctx context.Context) (*domain.Scene, map[domain.Setting]domain.Override, error)
}

// Timings configures the liveness machinery. The staleness threshold is
// the system's only timeout mechanism.
type Timings struct {
	StaleAfter    time.Duration
	ReapInterval  time.Duration
	StatsInterval time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		StaleAfter:    15 * time.Second,
		ReapInterval:  2 * time.Second,
		StatsInterval: 3 * time.Second,
	}
}

type Orchestrator struct {
	State   *app.RoomState
	Engine  core.Engine
	Scenes  SceneSource
	Timings Timings

	// now is swapped out by tests.
	now func() time.Time
}

func New(state *app.RoomState, engine core.Engine, scenes SceneSource, t Timings) *Orchestrator {
	o := &Orchestrator{
		State:   state,
		Engine:  engine,
		Scenes:  scenes,
		Timings: t,
		now:     time.Now,
	}
	engine.SetHooks(core.EngineHooks{
		TransportClosed: o.onEngineTransportClosed,
		ProducerClosed:  o.onEngineProducerClosed,
		LayersChanged:   state.SetCurrentLayer,
		Volumes:         o.onVolumes,
		Silence:         state.ClearActiveSpeaker,
	})
	return o
}

// authorize is the single choke point in front of every procedure
// except Join: the session must exist and not be stale, and on success
// its last-seen timestamp is refreshed.
func (o *Orchestrator) authorize(peerID domain.PeerID) (domain.Peer, *core.Error) {
	peer, err := o.State.Authorize(peerID, o.now(), o.Timings.StaleAfter)
	if err != nil {
		metrics.LifecycleErrors.WithLabelValues(string(err.Code)).Inc()
		return domain.Peer{}, err
	}
	return peer, nil
}

// authorizeManager additionally requires the manager role; only
// managers may mutate another peer's record.
func (o *Orchestrator) authorizeManager(peerID domain.PeerID) (domain.Peer, *core.Error) {
	peer, err := o.authorize(peerID)
	if err != nil {
		return domain.Peer{}, err
	}
	if !peer.IsManager() {
		metrics.LifecycleErrors.WithLabelValues(string(core.CodeUnauthorized)).Inc()
		return domain.Peer{}, core.ErrUnauthorized("manager role required")
	}
	return peer, nil
}

// closeRemoved closes popped engine handles outside the room lock.
// Best effort: a failed close is logged, the registry entries are gone
// either way; a leaked engine handle beats a stuck registry entry.
func (o *Orchestrator) closeRemoved(rm app.Removed) {
	for _, ce := range rm.Consumers {
		if err := ce.Handle.Close(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("consumer", string(ce.ID)).Msg("consumer close")
		}
	}
	for _, pe := range rm.Producers {
		if err := pe.Handle.Close(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("producer", string(pe.ID)).Msg("producer close")
		}
	}
	for _, te := range rm.Transports {
		if err := te.Handle.Close(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("transport", string(te.ID)).Msg("transport close")
		}
	}
	o.syncMetrics()
}

func (o *Orchestrator) syncMetrics() {
	metrics.SetRegistrySizes(o.State.Counts())
}
