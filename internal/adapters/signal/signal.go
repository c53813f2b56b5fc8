// Package signal carries the room RPC over a websocket: every
// lifecycle procedure is a JSON request dispatched on its type, and the
// sync read path doubles as a live subscription.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/app"
	"github.com/stagehand-live/stagehand/internal/app/orch"
	"github.com/stagehand-live/stagehand/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Orch    *orch.Orchestrator
	Policy  app.Policy
	Limiter *JoinRateLimiter

	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(o *orch.Orchestrator, policy app.Policy, limiter *JoinRateLimiter, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{
		Orch:       o,
		Policy:     policy,
		Limiter:    limiter,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
	}
}

// wsConn is one peer's signaling connection with a bounded send queue.
type wsConn struct {
	peerID domain.PeerID
	conn   *websocket.Conn
	send   chan []byte

	mu     sync.Mutex
	closed bool
	// unsub detaches the sync subscription, if one is running.
	unsub func()
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsub := c.unsub
	c.unsub = nil
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the pumps. The client
// token cookie is the peer id for the lifetime of the connection.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	peerID := domain.PeerID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("peer", string(peerID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{
		peerID: peerID,
		conn:   ws,
		send:   make(chan []byte, 32),
	}

	connCtx, cancel := context.WithCancel(ctx)
	go ctl.writePump(connCtx, conn, cancel)
	go ctl.readPump(connCtx, conn, cancel)
}
