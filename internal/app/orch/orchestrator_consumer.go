package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/app"
	"github.com/stagehand-live/stagehand/internal/core"
	"github.com/stagehand-live/stagehand/internal/domain"
)

// RecvTrack subscribes the caller to another peer's (source, tag)
// producer. The consumer is always created paused; the client resumes
// it once its local transport reports connected.
func (o *Orchestrator) RecvTrack(ctx context.Context, peerID, sourceID domain.PeerID,
	tag domain.MediaTag, caps core.RTPCapabilities) (core.ConsumerOptions, *core.Error) {

	if _, err := o.authorize(peerID); err != nil {
		return core.ConsumerOptions{}, err
	}
	pe, ok := o.State.ProducerByTag(sourceID, tag)
	if !ok {
		return core.ConsumerOptions{}, core.ErrResourceNotFound("producer", string(sourceID)+"/"+string(tag))
	}
	if !o.Engine.CanConsume(pe.ID, caps) {
		// Not retryable without renegotiation.
		return core.ConsumerOptions{}, core.ErrCapabilityConflict(string(pe.ID))
	}
	te, ok := o.State.RecvTransportOf(peerID)
	if !ok {
		return core.ConsumerOptions{}, core.Errorf(core.CodeNotFound, "peer %q has no recv transport", peerID)
	}

	handle, err := te.Handle.Consume(ctx, pe.ID, caps, true)
	if err != nil {
		return core.ConsumerOptions{}, core.ErrEngine("consume", err)
	}
	entry := &app.ConsumerEntry{
		ID:        handle.ID(),
		Owner:     peerID,
		Transport: te.ID,
		Source:    sourceID,
		Tag:       tag,
		Handle:    handle,
	}
	if !o.State.CommitConsumer(entry) {
		_ = handle.Close()
		return core.ConsumerOptions{}, core.ErrSessionNotFound(string(peerID))
	}
	o.syncMetrics()
	log.Info().Str("module", "orch").Str("peer", string(peerID)).Str("source", string(sourceID)).
		Str("tag", string(tag)).Str("consumer", string(handle.ID())).Msg("track subscribed")
	return handle.Options(), nil
}

func (o *Orchestrator) PauseConsumer(ctx context.Context, peerID domain.PeerID, id core.ConsumerID) *core.Error {
	if _, err := o.authorize(peerID); err != nil {
		return err
	}
	ce, ok := o.State.Consumer(id)
	if !ok || ce.Owner != peerID {
		return core.ErrResourceNotFound("consumer", string(id))
	}
	if err := ce.Handle.Pause(ctx); err != nil {
		return core.ErrEngine("consumer pause", err)
	}
	o.State.SetConsumerPaused(id, true)
	return nil
}

// ResumeConsumer requires the consumer's transport to have completed
// its DTLS/ICE handshake. Resuming earlier can lose the first keyframe,
// so the ordering is a protocol contract, enforced here rather than
// documented away.
func (o *Orchestrator) ResumeConsumer(ctx context.Context, peerID domain.PeerID, id core.ConsumerID) *core.Error {
	if _, err := o.authorize(peerID); err != nil {
		return err
	}
	ce, ok := o.State.Consumer(id)
	if !ok || ce.Owner != peerID {
		return core.ErrResourceNotFound("consumer", string(id))
	}
	te, ok := o.State.Transport(ce.Transport)
	if !ok || !te.Connected {
		return core.Errorf(core.CodePreconditionFailed, "transport %q is not connected yet", ce.Transport)
	}
	if err := ce.Handle.Resume(ctx); err != nil {
		return core.ErrEngine("consumer resume", err)
	}
	o.State.SetConsumerPaused(id, false)
	return nil
}

// SetConsumerLayers forwards the client's preferred spatial layer and
// mirrors it into the session's layer state.
func (o *Orchestrator) SetConsumerLayers(ctx context.Context, peerID domain.PeerID, id core.ConsumerID, spatial int) *core.Error {
	if _, err := o.authorize(peerID); err != nil {
		return err
	}
	ce, ok := o.State.Consumer(id)
	if !ok || ce.Owner != peerID {
		return core.ErrResourceNotFound("consumer", string(id))
	}
	if err := ce.Handle.SetPreferredLayers(ctx, spatial); err != nil {
		return core.ErrEngine("setPreferredLayers", err)
	}
	o.State.SetClientLayer(id, spatial)
	return nil
}

// CloseConsumer removes a single consumer. The same path serves the
// transport and producer cascades.
func (o *Orchestrator) CloseConsumer(peerID domain.PeerID, id core.ConsumerID) *core.Error {
	if _, err := o.authorize(peerID); err != nil {
		return err
	}
	ce, ok := o.State.Consumer(id)
	if !ok || ce.Owner != peerID {
		return core.ErrResourceNotFound("consumer", string(id))
	}
	rm := o.State.RemoveConsumer(id)
	o.closeRemoved(rm)
	log.Info().Str("module", "orch").Str("consumer", string(id)).Msg("consumer closed")
	return nil
}
