package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/core"
)

// envelope is the common request frame: op in type, optional request id
// echoed back so the client can correlate.
type envelope struct {
	Type string `json:"type"`
	RID  string `json:"rid,omitempty"`
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn, cancel context.CancelFunc) {
	defer cancel()
	pingPeriod := ctl.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("peer", string(c.peerID)).Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Info().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, c *wsConn, cancel context.CancelFunc) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(c.peerID)).Msg("readPump closing")
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("peer", string(c.peerID)).Msg("readPump read error")
				return
			}
			ctl.dispatch(ctx, c, data)
		}
	}
}

func (ctl *Controller) dispatch(ctx context.Context, c *wsConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(c, env, data)
	case "leave":
		ctl.handleLeave(c, env)
	case "sync":
		ctl.handleSync(ctx, c, env)
	case "sub-sync":
		ctl.handleSubSync(ctx, c, env)
	case "unsub-sync":
		ctl.handleUnsubSync(c, env)
	case "set-role":
		ctl.handleSetRole(c, env, data)
	case "ban":
		ctl.handleBan(c, env, data)
	case "create-transport":
		ctl.handleCreateTransport(ctx, c, env, data)
	case "connect-transport":
		ctl.handleConnectTransport(ctx, c, env, data)
	case "close-transport":
		ctl.handleCloseTransport(c, env, data)
	case "send-track":
		ctl.handleSendTrack(ctx, c, env, data)
	case "recv-track":
		ctl.handleRecvTrack(ctx, c, env, data)
	case "pause-producer", "resume-producer", "close-producer":
		ctl.handleProducerOp(ctx, c, env, data)
	case "pause-consumer", "resume-consumer", "close-consumer":
		ctl.handleConsumerOp(ctx, c, env, data)
	case "consumer-set-layers":
		ctl.handleConsumerSetLayers(ctx, c, env, data)
	case "ping":
		ctl.handlePing(c, env)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, env, core.Errorf(core.CodeBadRequest, "unknown op %q", env.Type))
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

// sendResult wraps a procedure's payload with the echoed request id.
func (ctl *Controller) sendResult(c *wsConn, env envelope, data any) {
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
		Op   string `json:"op"`
		RID  string `json:"rid,omitempty"`
		Data any    `json:"data,omitempty"`
	}{"result", env.Type, env.RID, data})
}

func (ctl *Controller) sendError(c *wsConn, env envelope, err *core.Error) {
	ctl.sendJSON(c, struct {
		Type   string    `json:"type"`
		Op     string    `json:"op"`
		RID    string    `json:"rid,omitempty"`
		Code   core.Code `json:"code"`
		Reason string    `json:"reason"`
	}{"error", env.Type, env.RID, err.Code, err.Reason})
}

func (ctl *Controller) handlePing(c *wsConn, env envelope) {
	ctl.sendResult(c, env, map[string]string{"pong": "pong"})
}
