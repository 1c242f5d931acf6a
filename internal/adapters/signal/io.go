package signal

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
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
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump enforces the heartbeat: each pong extends the read
// deadline, so an unresponsive peer trips a timeout and is removed
// immediately, while an ordinary disconnect only detaches and leaves
// the session to the grace window.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, cs *connState, c *wsConn) {
	defer cancel()

	c.conn.SetReadLimit(ctl.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			ctl.maybeDetach(cs, c)
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					log.Warn().Str("module", "signal").Str("conn", cs.id).Msg("heartbeat timeout")
					ctl.drop(cs)
					return
				}
				log.Info().Err(err).Str("module", "signal").Str("conn", cs.id).Msg("readPump closing")
				ctl.maybeDetach(cs, c)
				return
			}
			ctl.handleEvent(cs, data)
		}
	}
}

// maybeDetach skips the grace path when a newer socket has already
// replaced this one (fast reconnect before the old read failed).
func (ctl *Controller) maybeDetach(cs *connState, c *wsConn) {
	cs.mu.Lock()
	replaced := cs.live != c
	cs.mu.Unlock()
	if !replaced {
		ctl.detach(cs)
	}
}

func (ctl *Controller) handleEvent(cs *connState, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(cs, data)
	case "leave":
		ctl.handleLeave(cs)
	case "produce":
		ctl.handleProduce(cs, data)
	case "consume":
		ctl.handleConsume(cs)
	case "negotiate":
		ctl.handleNegotiate(cs)
	case "ping":
		ctl.handlePing(cs)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}
