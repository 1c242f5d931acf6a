package signal

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Fleet/internal/app"
	"github.com/dkeye/Fleet/internal/core"
	"github.com/dkeye/Fleet/internal/domain"
)

func (ctl *Controller) handleJoin(cs *connState, data []byte) {
	var p struct {
		Type        string          `json:"type"`
		RoomID      string          `json:"roomId"`
		SessionID   string          `json:"sessionId"`
		User        *domain.UserRef `json:"user,omitempty"`
		DisplayName string          `json:"displayName"`
		IsHost      bool            `json:"isHost"`
		IsGhost     bool            `json:"isGhost"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.send(cs, "error", gin.H{"error": "bad_payload"})
		return
	}

	res, err := ctl.adm.Join(context.Background(), cs.tenant, app.JoinRequest{
		RoomID:       p.RoomID,
		SessionID:    p.SessionID,
		User:         p.User,
		DisplayName:  p.DisplayName,
		IsHost:       p.IsHost,
		IsGhost:      p.IsGhost,
		ConnectionID: cs.id,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", cs.id).Str("room", p.RoomID).Msg("join rejected")
		ctl.sendError(cs, err)
		return
	}

	cs.mu.Lock()
	cs.roomID = res.RoomID
	cs.session = p.SessionID
	cs.mu.Unlock()

	ctl.send(cs, "joined", res)

	if p.IsGhost {
		return
	}
	if room, ok := ctl.fleet.Rooms.Get(res.RoomID); ok {
		ctl.broadcast(room, p.SessionID, "member_joined", core.SessionDTO{
			ID:          p.SessionID,
			DisplayName: p.DisplayName,
			IsHost:      p.IsHost,
		})
	}
}

// handleLeave drops the session but keeps the socket open; the client
// may join another room on the same connection.
func (ctl *Controller) handleLeave(cs *connState) {
	cs.mu.Lock()
	roomID, session := cs.roomID, cs.session
	cs.roomID, cs.session = "", ""
	cs.mu.Unlock()

	if roomID == "" {
		ctl.send(cs, "error", gin.H{"error": "not in a room"})
		return
	}

	room, ok := ctl.fleet.Rooms.Get(roomID)
	if err := ctl.adm.Leave(roomID, session); err != nil {
		ctl.sendError(cs, err)
		return
	}
	ctl.send(cs, "left", gin.H{"roomId": roomID})
	if ok {
		ctl.broadcast(room, session, "member_left", gin.H{"sessionId": session})
	}
	log.Info().Str("module", "signal").Str("conn", cs.id).Str("room", string(roomID)).Msg("leave")
}
