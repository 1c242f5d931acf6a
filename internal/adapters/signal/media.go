package signal

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Fleet/internal/domain"
)

// currentRoom resolves the room the connection's session lives in,
// emitting an error event when there is none.
func (ctl *Controller) currentRoom(cs *connState) (roomID domain.RoomID, session string, ok bool) {
	cs.mu.Lock()
	roomID, session = cs.roomID, cs.session
	cs.mu.Unlock()
	if roomID == "" {
		ctl.send(cs, "error", gin.H{"error": "not in a room"})
		return "", "", false
	}
	return roomID, session, true
}

func (ctl *Controller) handleProduce(cs *connState, data []byte) {
	var p struct {
		Type string `json:"type"`
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &p); err != nil || (p.Kind != "audio" && p.Kind != "video") {
		ctl.send(cs, "error", gin.H{"error": "bad_payload"})
		return
	}

	roomID, session, ok := ctl.currentRoom(cs)
	if !ok {
		return
	}
	room, found := ctl.fleet.Rooms.Get(roomID)
	if !found {
		ctl.send(cs, "error", gin.H{"error": "room is gone"})
		return
	}
	producer, err := room.AddProducer(session, p.Kind)
	if err != nil {
		ctl.sendError(cs, err)
		return
	}
	ctl.send(cs, "produced", gin.H{"producer": producer})
	ctl.broadcast(room, session, "producer_added", gin.H{"sessionId": session, "producer": producer})
	log.Info().Str("module", "signal").Str("conn", cs.id).Str("kind", p.Kind).Msg("producer announced")
}

func (ctl *Controller) handleConsume(cs *connState) {
	roomID, session, ok := ctl.currentRoom(cs)
	if !ok {
		return
	}
	room, found := ctl.fleet.Rooms.Get(roomID)
	if !found {
		ctl.send(cs, "error", gin.H{"error": "room is gone"})
		return
	}
	ctl.send(cs, "producers", gin.H{"peers": room.Peers(session)})
}

func (ctl *Controller) handleNegotiate(cs *connState) {
	roomID, session, ok := ctl.currentRoom(cs)
	if !ok {
		return
	}
	room, found := ctl.fleet.Rooms.Get(roomID)
	if !found {
		ctl.send(cs, "error", gin.H{"error": "room is gone"})
		return
	}
	transport, err := room.Negotiate(session)
	if err != nil {
		ctl.sendError(cs, err)
		return
	}
	ctl.send(cs, "negotiated", gin.H{"transport": transport})
}
