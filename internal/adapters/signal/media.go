package signal

import (
	"context"
	"encoding/json"

	"github.com/stagehand-live/stagehand/internal/core"
	"github.com/stagehand-live/stagehand/internal/domain"
)

func (ctl *Controller) handleSendTrack(ctx context.Context, c *wsConn, env envelope, data []byte) {
	type payload struct {
		TransportID   core.TransportID   `json:"transportId"`
		Kind          core.MediaKind     `json:"kind"`
		RTPParameters core.RTPParameters `json:"rtpParameters"`
		MediaTag      domain.MediaTag    `json:"mediaTag"`
		Paused        bool               `json:"paused"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, env, core.Errorf(core.CodeBadRequest, "bad send-track payload"))
		return
	}
	res, err := ctl.Orch.SendTrack(ctx, c.peerID, p.TransportID, p.Kind, p.RTPParameters, p.MediaTag, p.Paused)
	if err != nil {
		ctl.sendError(c, env, err)
		return
	}
	ctl.sendResult(c, env, res)
}

func (ctl *Controller) handleRecvTrack(ctx context.Context, c *wsConn, env envelope, data []byte) {
	type payload struct {
		SourcePeerID    domain.PeerID        `json:"sourcePeerId"`
		MediaTag        domain.MediaTag      `json:"mediaTag"`
		RTPCapabilities core.RTPCapabilities `json:"rtpCapabilities"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, env, core.Errorf(core.CodeBadRequest, "bad recv-track payload"))
		return
	}
	opts, err := ctl.Orch.RecvTrack(ctx, c.peerID, p.SourcePeerID, p.MediaTag, p.RTPCapabilities)
	if err != nil {
		ctl.sendError(c, env, err)
		return
	}
	ctl.sendResult(c, env, opts)
}

func (ctl *Controller) handleProducerOp(ctx context.Context, c *wsConn, env envelope, data []byte) {
	type payload struct {
		ProducerID core.ProducerID `json:"producerId"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, env, core.Errorf(core.CodeBadRequest, "bad producer payload"))
		return
	}
	var err *core.Error
	switch env.Type {
	case "pause-producer":
		err = ctl.Orch.PauseProducer(ctx, c.peerID, p.ProducerID)
	case "resume-producer":
		err = ctl.Orch.ResumeProducer(ctx, c.peerID, p.ProducerID)
	case "close-producer":
		err = ctl.Orch.CloseProducer(c.peerID, p.ProducerID)
	}
	if err != nil {
		ctl.sendError(c, env, err)
		return
	}
	ctl.sendResult(c, env, nil)
}

func (ctl *Controller) handleConsumerOp(ctx context.Context, c *wsConn, env envelope, data []byte) {
	type payload struct {
		ConsumerID core.ConsumerID `json:"consumerId"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, env, core.Errorf(core.CodeBadRequest, "bad consumer payload"))
		return
	}
	var err *core.Error
	switch env.Type {
	case "pause-consumer":
		err = ctl.Orch.PauseConsumer(ctx, c.peerID, p.ConsumerID)
	case "resume-consumer":
		err = ctl.Orch.ResumeConsumer(ctx, c.peerID, p.ConsumerID)
	case "close-consumer":
		err = ctl.Orch.CloseConsumer(c.peerID, p.ConsumerID)
	}
	if err != nil {
		ctl.sendError(c, env, err)
		return
	}
	ctl.sendResult(c, env, nil)
}

func (ctl *Controller) handleConsumerSetLayers(ctx context.Context, c *wsConn, env envelope, data []byte) {
	type payload struct {
		ConsumerID   core.ConsumerID `json:"consumerId"`
		SpatialLayer int             `json:"spatialLayer"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, env, core.Errorf(core.CodeBadRequest, "bad consumer-set-layers payload"))
		return
	}
	if err := ctl.Orch.SetConsumerLayers(ctx, c.peerID, p.ConsumerID, p.SpatialLayer); err != nil {
		ctl.sendError(c, env, err)
		return
	}
	ctl.sendResult(c, env, nil)
}
