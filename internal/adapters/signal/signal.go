// Package signal carries the persistent bidirectional channel between
// a client and its rooms: websocket upgrade with pre-handshake auth,
// heartbeats, and a bounded replay backlog that lets a briefly
// disconnected client resume its session inside the grace window.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Fleet/internal/app"
	"github.com/dkeye/Fleet/internal/config"
	"github.com/dkeye/Fleet/internal/core"
	"github.com/dkeye/Fleet/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*wsConn)(nil)

// newWSConn sizes the send buffer to hold a full backlog replay, so a
// resuming client is queued its missed events in one pass before the
// write pump drains them.
func newWSConn(ws *websocket.Conn, backlogSize int) *wsConn {
	buf := backlogSize
	if buf < 64 {
		buf = 64
	}
	return &wsConn{conn: ws, send: make(chan core.Frame, buf)}
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
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
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// connState outlives an individual socket: when the peer drops, the
// state sticks around for the grace window so a reconnect can resume
// the session and replay what it missed.
type connState struct {
	id     string
	tenant domain.TenantID

	mu      sync.Mutex
	live    *wsConn
	seq     uint64
	events  *backlog
	roomID  domain.RoomID
	session string
	reap    *time.Timer
}

type Controller struct {
	cfg   *config.Config
	fleet *app.FleetState
	adm   *app.AdmissionController

	mu        sync.Mutex
	conns     map[string]*connState
	accepting bool
}

func NewController(cfg *config.Config, fleet *app.FleetState, adm *app.AdmissionController) *Controller {
	return &Controller{
		cfg:       cfg,
		fleet:     fleet,
		adm:       adm,
		conns:     make(map[string]*connState),
		accepting: true,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the handshake and binds the socket to its
// connection state. The token is checked before any room-affecting
// event is accepted: an unauthenticated socket gets exactly one error
// event and is closed.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	if !ctl.Accepting() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}

	// The connection id keys reconnection state. It rides the "ct"
	// cookie for browser clients; bare websocket clients echo the id
	// from the hello event back as the conn query param.
	connID := c.Query("conn")
	if connID == "" {
		connID = c.GetString("client_token")
	}
	if connID == "" {
		connID = uuid.NewString()
	}
	tenant := domain.TenantID(c.Query("client"))
	if tenant == "" {
		tenant = "default"
	}
	since, _ := strconv.ParseUint(c.Query("since"), 10, 64)
	authed := ctl.cfg.SignalToken == "" || c.Query("token") == ctl.cfg.SignalToken

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	if !authed {
		frame, _ := json.Marshal(Event{Type: "error", Data: mustJSON(gin.H{"error": "unauthorized"})})
		_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = ws.WriteMessage(websocket.TextMessage, frame)
		_ = ws.Close()
		log.Warn().Str("module", "signal").Str("conn", connID).Msg("rejected unauthenticated connection")
		return
	}

	conn := newWSConn(ws, ctl.cfg.BacklogSize)
	cs, resumed := ctl.attach(connID, tenant, conn, since)
	log.Info().Str("module", "signal").Str("conn", connID).Bool("resumed", resumed).Msg("connection attached")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, cs, conn)

	if resumed {
		cs.mu.Lock()
		roomID := cs.roomID
		cs.mu.Unlock()
		if room, ok := ctl.fleet.Rooms.Get(roomID); ok {
			ctl.send(cs, "resumed", gin.H{"roomId": roomID, "clients": room.ClientCount()})
		}
	} else {
		ctl.send(cs, "hello", gin.H{"connectionId": cs.id})
	}
}

// attach binds the socket, cancelling any pending grace reap and
// replaying missed events before new traffic can interleave.
func (ctl *Controller) attach(connID string, tenant domain.TenantID, conn *wsConn, since uint64) (*connState, bool) {
	ctl.mu.Lock()
	cs, ok := ctl.conns[connID]
	if !ok {
		cs = &connState{
			id:     connID,
			tenant: tenant,
			events: newBacklog(ctl.cfg.BacklogSize),
		}
		ctl.conns[connID] = cs
	}
	ctl.mu.Unlock()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.reap != nil {
		cs.reap.Stop()
		cs.reap = nil
	}
	if cs.live != nil {
		cs.live.Close()
	}
	resumed := ok && cs.session != ""
	if resumed {
		for _, e := range cs.events.since(since) {
			frame, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if err := conn.TrySend(frame); err != nil {
				// A partial replay must not look like a resume; drop
				// the socket so the client re-runs admission.
				log.Warn().Err(err).Str("module", "signal").Str("conn", cs.id).Msg("replay aborted")
				conn.Close()
				break
			}
		}
	}
	cs.live = conn
	return cs, resumed
}

// detach is the clean-disconnect path: the session survives for the
// grace window, after which expiry runs the normal leave cleanup.
func (ctl *Controller) detach(cs *connState) {
	cs.mu.Lock()
	if cs.live != nil {
		cs.live.Close()
		cs.live = nil
	}
	if cs.session == "" {
		cs.mu.Unlock()
		ctl.remove(cs)
		return
	}
	cs.reap = time.AfterFunc(ctl.cfg.ReconnectGrace, func() { ctl.expire(cs) })
	cs.mu.Unlock()
	log.Info().Str("module", "signal").Str("conn", cs.id).Dur("grace", ctl.cfg.ReconnectGrace).Msg("connection detached")
}

func (ctl *Controller) expire(cs *connState) {
	log.Info().Str("module", "signal").Str("conn", cs.id).Msg("grace window elapsed")
	ctl.drop(cs)
}

// drop removes the session immediately: heartbeat timeouts, explicit
// closes and grace expiry all end here, running the same cleanup as an
// explicit leave.
func (ctl *Controller) drop(cs *connState) {
	cs.mu.Lock()
	roomID, session := cs.roomID, cs.session
	cs.roomID, cs.session = "", ""
	if cs.reap != nil {
		cs.reap.Stop()
		cs.reap = nil
	}
	if cs.live != nil {
		cs.live.Close()
		cs.live = nil
	}
	cs.mu.Unlock()
	ctl.remove(cs)

	if roomID == "" || session == "" {
		return
	}
	room, ok := ctl.fleet.Rooms.Get(roomID)
	if err := ctl.adm.Leave(roomID, session); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", cs.id).Msg("disconnect cleanup")
		return
	}
	if ok {
		ctl.broadcast(room, session, "member_left", gin.H{"sessionId": session})
	}
}

func (ctl *Controller) remove(cs *connState) {
	ctl.mu.Lock()
	if cur, ok := ctl.conns[cs.id]; ok && cur == cs {
		delete(ctl.conns, cs.id)
	}
	ctl.mu.Unlock()
}

// send numbers the event, retains it in the backlog, and pushes it to
// the live socket when one is bound.
func (ctl *Controller) send(cs *connState, typ string, v any) {
	var data json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("send marshal")
			return
		}
		data = b
	}
	cs.mu.Lock()
	cs.seq++
	e := Event{Seq: cs.seq, Type: typ, Data: data}
	cs.events.add(e)
	live := cs.live
	cs.mu.Unlock()
	if live == nil {
		return
	}
	frame, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := live.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", cs.id).Str("type", typ).Msg("send dropped")
	}
}

// sendError emits a typed error event without closing the connection;
// only authentication failures close the socket.
func (ctl *Controller) sendError(cs *connState, err error) {
	ctl.send(cs, "error", gin.H{"error": err.Error()})
}

func (ctl *Controller) broadcast(room *core.Room, exceptSession, typ string, v any) {
	ids := room.ConnectionIDs(exceptSession)
	ctl.mu.Lock()
	targets := make([]*connState, 0, len(ids))
	for _, id := range ids {
		if cs, ok := ctl.conns[id]; ok {
			targets = append(targets, cs)
		}
	}
	ctl.mu.Unlock()
	for _, cs := range targets {
		ctl.send(cs, typ, v)
	}
}

func (ctl *Controller) Accepting() bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.accepting
}

// StopAccepting closes the accept path: new handshakes are refused
// while connections already established keep running until Shutdown.
func (ctl *Controller) StopAccepting() {
	ctl.mu.Lock()
	ctl.accepting = false
	ctl.mu.Unlock()
}

// Shutdown closes every live socket and cancels pending grace timers.
func (ctl *Controller) Shutdown() {
	ctl.mu.Lock()
	ctl.accepting = false
	all := make([]*connState, 0, len(ctl.conns))
	for _, cs := range ctl.conns {
		all = append(all, cs)
	}
	ctl.conns = make(map[string]*connState)
	ctl.mu.Unlock()

	for _, cs := range all {
		cs.mu.Lock()
		if cs.reap != nil {
			cs.reap.Stop()
			cs.reap = nil
		}
		if cs.live != nil {
			cs.live.Close()
			cs.live = nil
		}
		cs.mu.Unlock()
	}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
