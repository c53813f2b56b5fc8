package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/app"
	"github.com/stagehand-live/stagehand/internal/core"
	"github.com/stagehand-live/stagehand/internal/domain"
)

type SendTrackResult struct {
	ProducerID core.ProducerID `json:"producerId"`
}

// SendTrack publishes a track on the caller's send transport. At most
// one active producer per (peer, tag): an existing one for the same tag
// is closed first, with its dependent consumers.
func (o *Orchestrator) SendTrack(ctx context.Context, peerID domain.PeerID, transportID core.TransportID,
	kind core.MediaKind, rtp core.RTPParameters, tag domain.MediaTag, paused bool) (SendTrackResult, *core.Error) {

	if _, err := o.authorize(peerID); err != nil {
		return SendTrackResult{}, err
	}
	te, ok := o.State.Transport(transportID)
	if !ok || te.Owner != peerID {
		return SendTrackResult{}, core.ErrResourceNotFound("transport", string(transportID))
	}
	if te.Direction != core.DirectionSend {
		return SendTrackResult{}, core.Errorf(core.CodeBadRequest, "transport %q is not a send transport", transportID)
	}
	if kind != core.KindAudio && kind != core.KindVideo {
		return SendTrackResult{}, core.Errorf(core.CodeBadRequest, "unknown kind %q", kind)
	}

	handle, err := te.Handle.Produce(ctx, kind, rtp, paused)
	if err != nil {
		return SendTrackResult{}, core.ErrEngine("produce", err)
	}
	entry := &app.ProducerEntry{
		ID:        handle.ID(),
		Owner:     peerID,
		Transport: transportID,
		Tag:       tag,
		Kind:      kind,
		Paused:    paused,
		Handle:    handle,
	}
	replaced, ok := o.State.CommitProducer(entry, rtp)
	if !ok {
		_ = handle.Close()
		return SendTrackResult{}, core.ErrSessionNotFound(string(peerID))
	}
	// Replace-on-republish: the old producer and its consumers go away
	// after the new one is committed.
	o.closeRemoved(replaced)
	log.Info().Str("module", "orch").Str("peer", string(peerID)).
		Str("producer", string(handle.ID())).Str("tag", string(tag)).Str("kind", string(kind)).
		Bool("replaced", len(replaced.Producers) > 0).Msg("track published")
	return SendTrackResult{ProducerID: handle.ID()}, nil
}

func (o *Orchestrator) PauseProducer(ctx context.Context, peerID domain.PeerID, id core.ProducerID) *core.Error {
	return o.setProducerPaused(ctx, peerID, id, true)
}

func (o *Orchestrator) ResumeProducer(ctx context.Context, peerID domain.PeerID, id core.ProducerID) *core.Error {
	return o.setProducerPaused(ctx, peerID, id, false)
}

func (o *Orchestrator) setProducerPaused(ctx context.Context, peerID domain.PeerID, id core.ProducerID, paused bool) *core.Error {
	if _, err := o.authorize(peerID); err != nil {
		return err
	}
	pe, ok := o.State.Producer(id)
	if !ok || pe.Owner != peerID {
		return core.ErrResourceNotFound("producer", string(id))
	}
	var err error
	if paused {
		err = pe.Handle.Pause(ctx)
	} else {
		err = pe.Handle.Resume(ctx)
	}
	if err != nil {
		return core.ErrEngine("producer pause/resume", err)
	}
	o.State.SetProducerPaused(id, paused)
	return nil
}

// CloseProducer removes the producer and fans out to every consumer
// reading from it. Same cascade as an engine-reported producer close.
func (o *Orchestrator) CloseProducer(peerID domain.PeerID, id core.ProducerID) *core.Error {
	if _, err := o.authorize(peerID); err != nil {
		return err
	}
	pe, ok := o.State.Producer(id)
	if !ok || pe.Owner != peerID {
		return core.ErrResourceNotFound("producer", string(id))
	}
	o.closeProducerCascade(id, "request")
	return nil
}

func (o *Orchestrator) closeProducerCascade(id core.ProducerID, cause string) {
	rm := o.State.RemoveProducer(id)
	if rm.Empty() {
		return
	}
	log.Info().Str("module", "orch").Str("producer", string(id)).Str("cause", cause).
		Int("consumers", len(rm.Consumers)).Msg("producer cascade")
	o.closeRemoved(rm)
}

func (o *Orchestrator) onEngineProducerClosed(id core.ProducerID) {
	o.closeProducerCascade(id, "engine")
}
