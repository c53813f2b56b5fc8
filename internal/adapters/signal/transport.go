package signal

import (
	"context"
	"encoding/json"

	"github.com/stagehand-live/stagehand/internal/core"
)

func (ctl *Controller) handleCreateTransport(ctx context.Context, c *wsConn, env envelope, data []byte) {
	type payload struct {
		Direction core.Direction `json:"direction"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, env, core.Errorf(core.CodeBadRequest, "bad create-transport payload"))
		return
	}
	opts, err := ctl.Orch.CreateTransport(ctx, c.peerID, p.Direction)
	if err != nil {
		ctl.sendError(c, env, err)
		return
	}
	ctl.sendResult(c, env, opts)
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, c *wsConn, env envelope, data []byte) {
	type payload struct {
		TransportID    core.TransportID    `json:"transportId"`
		DTLSParameters core.DTLSParameters `json:"dtlsParameters"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, env, core.Errorf(core.CodeBadRequest, "bad connect-transport payload"))
		return
	}
	reply, err := ctl.Orch.ConnectTransport(ctx, c.peerID, p.TransportID, p.DTLSParameters)
	if err != nil {
		ctl.sendError(c, env, err)
		return
	}
	ctl.sendResult(c, env, json.RawMessage(reply))
}

func (ctl *Controller) handleCloseTransport(c *wsConn, env envelope, data []byte) {
	type payload struct {
		TransportID core.TransportID `json:"transportId"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, env, core.Errorf(core.CodeBadRequest, "bad close-transport payload"))
		return
	}
	if err := ctl.Orch.CloseTransport(c.peerID, p.TransportID); err != nil {
		ctl.sendError(c, env, err)
		return
	}
	ctl.sendResult(c, env, nil)
}
