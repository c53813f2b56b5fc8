package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/app"
	"github.com/stagehand-live/stagehand/internal/app/orch"
	"github.com/stagehand-live/stagehand/internal/core"
	"github.com/stagehand-live/stagehand/internal/domain"
)

func (ctl *Controller) handleJoin(c *wsConn, env envelope, data []byte) {
	type joinPayload struct {
		DisplayName string `json:"displayName,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, env, core.Errorf(core.CodeBadRequest, "bad join payload"))
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(c.peerID) {
		ctl.sendError(c, env, core.Errorf(core.CodeBadRequest, "join rate limit exceeded"))
		return
	}

	res, err := ctl.Orch.Join(c.peerID, p.DisplayName)
	if err != nil {
		ctl.sendError(c, env, err)
		return
	}
	log.Info().Str("module", "signal").Str("peer", string(c.peerID)).Msg("join")
	ctl.sendResult(c, env, res)
}

func (ctl *Controller) handleLeave(c *wsConn, env envelope) {
	if err := ctl.Orch.Leave(c.peerID); err != nil {
		ctl.sendError(c, env, err)
		return
	}
	ctl.sendResult(c, env, nil)
}

func (ctl *Controller) handleSync(ctx context.Context, c *wsConn, env envelope) {
	res, err := ctl.Orch.Sync(ctx, c.peerID)
	if err != nil {
		ctl.sendError(c, env, err)
		return
	}
	ctl.sendResult(c, env, res)
}

// handleSubSync turns the sync read path into a live subscription: the
// room re-pushes the payload on every state change until the connection
// goes away or the client unsubscribes.
func (ctl *Controller) handleSubSync(ctx context.Context, c *wsConn, env envelope) {
	c.mu.Lock()
	already := c.unsub != nil
	c.mu.Unlock()
	if already {
		ctl.sendResult(c, env, nil)
		return
	}

	changes, cancelWatch := ctl.Orch.State.Watch()
	subCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.unsub = func() {
		cancel()
		cancelWatch()
	}
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case <-changes:
			}
			res, err := ctl.Orch.Sync(subCtx, c.peerID)
			if err != nil {
				// Session gone or stale: the subscription dies with it.
				log.Debug().Str("module", "signal").Str("peer", string(c.peerID)).
					Str("code", string(err.Code)).Msg("sync push stopped")
				return
			}
			b, merr := json.Marshal(struct {
				Type string          `json:"type"`
				Data orch.SyncResult `json:"data"`
			}{"sync", res})
			if merr != nil {
				continue
			}
			if serr := c.TrySend(b); serr != nil {
				switch ctl.Policy.OnBackPressure(c.peerID) {
				case app.KickPeer:
					log.Warn().Str("module", "signal").Str("peer", string(c.peerID)).Msg("slow subscriber kicked")
					_ = ctl.Orch.Leave(c.peerID)
					return
				case app.DropUpdate, app.NoAction:
				}
			}
		}
	}()
	ctl.sendResult(c, env, nil)
}

func (ctl *Controller) handleUnsubSync(c *wsConn, env envelope) {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	ctl.sendResult(c, env, nil)
}

func (ctl *Controller) handleSetRole(c *wsConn, env envelope, data []byte) {
	type rolePayload struct {
		PeerID domain.PeerID `json:"peerId"`
		Role   domain.Role   `json:"role"`
	}
	var p rolePayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, env, core.Errorf(core.CodeBadRequest, "bad set-role payload"))
		return
	}
	if err := ctl.Orch.SetRole(c.peerID, p.PeerID, p.Role); err != nil {
		ctl.sendError(c, env, err)
		return
	}
	ctl.sendResult(c, env, nil)
}

func (ctl *Controller) handleBan(c *wsConn, env envelope, data []byte) {
	type banPayload struct {
		PeerID domain.PeerID `json:"peerId"`
	}
	var p banPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, env, core.Errorf(core.CodeBadRequest, "bad ban payload"))
		return
	}
	if err := ctl.Orch.BanPeer(c.peerID, p.PeerID); err != nil {
		ctl.sendError(c, env, err)
		return
	}
	ctl.sendResult(c, env, nil)
}
