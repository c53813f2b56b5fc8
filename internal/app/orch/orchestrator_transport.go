package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/app"
	"github.com/stagehand-live/stagehand/internal/core"
	"github.com/stagehand-live/stagehand/internal/domain"
)

// CreateTransport asks the engine for a transport bound to the caller
// and stores it. Only the mirror options leave the core; the handle
// stays inside.
func (o *Orchestrator) CreateTransport(ctx context.Context, peerID domain.PeerID, dir core.Direction) (core.TransportOptions, *core.Error) {
	if _, err := o.authorize(peerID); err != nil {
		return core.TransportOptions{}, err
	}
	if dir != core.DirectionSend && dir != core.DirectionRecv {
		return core.TransportOptions{}, core.Errorf(core.CodeBadRequest, "unknown direction %q", dir)
	}

	// Engine call runs without the room lock; the entry is committed
	// only afterwards, so a half-created transport is never visible to
	// the reaper.
	handle, err := o.Engine.CreateTransport(ctx, string(peerID), dir)
	if err != nil {
		return core.TransportOptions{}, core.ErrEngine("createTransport", err)
	}
	entry := &app.TransportEntry{
		ID:        handle.ID(),
		Owner:     peerID,
		Direction: dir,
		Handle:    handle,
	}
	if !o.State.CommitTransport(entry) {
		// Session reaped while the engine call was in flight.
		_ = handle.Close()
		return core.TransportOptions{}, core.ErrSessionNotFound(string(peerID))
	}
	o.syncMetrics()
	log.Info().Str("module", "orch").Str("peer", string(peerID)).
		Str("transport", string(handle.ID())).Str("direction", string(dir)).Msg("transport created")
	return handle.Options(), nil
}

// ConnectTransport forwards the peer's DTLS parameters and marks the
// transport connected. Idempotent at the protocol level.
func (o *Orchestrator) ConnectTransport(ctx context.Context, peerID domain.PeerID, id core.TransportID, dtls core.DTLSParameters) (core.ConnectReply, *core.Error) {
	if _, err := o.authorize(peerID); err != nil {
		return nil, err
	}
	te, ok := o.State.Transport(id)
	if !ok || te.Owner != peerID {
		return nil, core.ErrResourceNotFound("transport", string(id))
	}
	reply, err := te.Handle.Connect(ctx, dtls)
	if err != nil {
		return nil, core.ErrEngine("connectTransport", err)
	}
	o.State.MarkTransportConnected(id)
	return reply, nil
}

// CloseTransport is the authoritative trigger for closing everything
// riding a transport. Same cascade as an engine-reported transport
// close.
func (o *Orchestrator) CloseTransport(peerID domain.PeerID, id core.TransportID) *core.Error {
	if _, err := o.authorize(peerID); err != nil {
		return err
	}
	te, ok := o.State.Transport(id)
	if !ok || te.Owner != peerID {
		return core.ErrResourceNotFound("transport", string(id))
	}
	o.closeTransportCascade(id, "request")
	return nil
}

func (o *Orchestrator) closeTransportCascade(id core.TransportID, cause string) {
	rm := o.State.RemoveTransport(id)
	if rm.Empty() {
		return
	}
	log.Info().Str("module", "orch").Str("transport", string(id)).Str("cause", cause).
		Int("producers", len(rm.Producers)).Int("consumers", len(rm.Consumers)).
		Msg("transport cascade")
	o.closeRemoved(rm)
}

// onEngineTransportClosed is the unsolicited-close entry point (peer
// network loss reported by the engine).
func (o *Orchestrator) onEngineTransportClosed(id core.TransportID) {
	o.closeTransportCascade(id, "engine")
}
