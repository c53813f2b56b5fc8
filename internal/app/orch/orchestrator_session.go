package orch

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/app"
	"github.com/stagehand-live/stagehand/internal/app/scene"
	"github.com/stagehand-live/stagehand/internal/core"
	"github.com/stagehand-live/stagehand/internal/domain"
)

type JoinResult struct {
	Peer               domain.Peer          `json:"peer"`
	RouterCapabilities core.RTPCapabilities `json:"routerRtpCapabilities"`
}

// Join creates or refreshes the caller's session and returns the
// engine's negotiable capabilities. Idempotent: a re-join keeps the
// original JoinTs and existing resources.
func (o *Orchestrator) Join(peerID domain.PeerID, displayName string) (JoinResult, *core.Error) {
	peer, created, err := o.State.Join(peerID, displayName, o.now())
	if err != nil {
		if errors.Is(err, domain.ErrPeerBanned) {
			return JoinResult{}, core.ErrUnauthorized("peer is banned")
		}
		return JoinResult{}, core.Errorf(core.CodeBadRequest, "join: %v", err)
	}
	if created {
		log.Info().Str("module", "orch").Str("peer", string(peerID)).Msg("peer joined")
	} else {
		log.Debug().Str("module", "orch").Str("peer", string(peerID)).Msg("peer rejoined")
	}
	o.syncMetrics()
	return JoinResult{Peer: peer, RouterCapabilities: o.Engine.RouterCapabilities()}, nil
}

// Leave removes the session and cascades closure of every owned
// resource, including dependent consumers held by other peers.
func (o *Orchestrator) Leave(peerID domain.PeerID) *core.Error {
	if _, err := o.authorize(peerID); err != nil {
		return err
	}
	o.removePeer(peerID, "leave")
	return nil
}

// removePeer is the one cascade behind leave, ban and the stale reaper.
func (o *Orchestrator) removePeer(peerID domain.PeerID, cause string) {
	rm := o.State.RemovePeer(peerID)
	if rm.Session || !rm.Empty() {
		log.Info().Str("module", "orch").Str("peer", string(peerID)).Str("cause", cause).
			Int("transports", len(rm.Transports)).
			Int("producers", len(rm.Producers)).
			Int("consumers", len(rm.Consumers)).
			Msg("peer removed")
	}
	o.closeRemoved(rm)
}

// SetRole is a manager-only mutation of another peer's record.
func (o *Orchestrator) SetRole(callerID, targetID domain.PeerID, role domain.Role) *core.Error {
	if _, err := o.authorizeManager(callerID); err != nil {
		return err
	}
	if role != domain.RoleVisitor && role != domain.RoleManager {
		return core.Errorf(core.CodeBadRequest, "unknown role %q", role)
	}
	if !o.State.SetRole(targetID, role) {
		return core.ErrResourceNotFound("peer", string(targetID))
	}
	return nil
}

// BanPeer flags the target and cascades its media resources away. The
// session record survives with the flag set, so the next join and every
// further call is refused until the reaper ages the record out.
func (o *Orchestrator) BanPeer(callerID, targetID domain.PeerID) *core.Error {
	if _, err := o.authorizeManager(callerID); err != nil {
		return err
	}
	if !o.State.SetBanned(targetID, true) {
		return core.ErrResourceNotFound("peer", string(targetID))
	}
	rm := o.State.RemovePeerResources(targetID)
	log.Info().Str("module", "orch").Str("peer", string(targetID)).
		Int("transports", len(rm.Transports)).Msg("peer banned")
	o.closeRemoved(rm)
	return nil
}

type SyncResult struct {
	Peers         map[domain.PeerID]app.PeerView `json:"peers"`
	ActiveSpeaker app.ActiveSpeaker              `json:"activeSpeaker"`
	Scene         *domain.Scene                  `json:"scene"`
	Settings      map[domain.Setting]bool        `json:"settings"`
}

// Sync is the read path: the full peer map, the active speaker and the
// effective scene settings. It never mutates registries beyond the
// guard's touch.
func (o *Orchestrator) Sync(ctx context.Context, peerID domain.PeerID) (SyncResult, *core.Error) {
	if _, err := o.authorize(peerID); err != nil {
		return SyncResult{}, err
	}
	res := SyncResult{
		Peers:         o.State.Peers(peerID),
		ActiveSpeaker: o.State.Speaker(),
	}
	sc, overrides, err := o.Scenes.Current(ctx)
	if err != nil {
		// A show-control outage must not take the room down with it.
		log.Warn().Err(err).Str("module", "orch").Msg("scene source unavailable, resolving defaults")
		overrides = nil
	}
	res.Scene = sc
	res.Settings = scene.ResolveAll(overrides, sc)
	return res, nil
}
