package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Fleet/internal/core"
	"github.com/dkeye/Fleet/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// JoinRequest is the strictly validated admission input; loosely typed
// bodies from the bridge or the signaling channel are parsed into it
// and rejected before any state is touched.
type JoinRequest struct {
	RoomID       string          `json:"roomId" validate:"required,max=64"`
	SessionID    string          `json:"sessionId" validate:"required,max=64"`
	User         *domain.UserRef `json:"user,omitempty"`
	DisplayName  string          `json:"displayName" validate:"max=64"`
	IsHost       bool            `json:"isHost"`
	IsGhost      bool            `json:"isGhost"`
	ConnectionID string          `json:"-"`
}

// JoinResult is the join descriptor: the room, the engine's opaque
// transport payload for its router, and the peers to consume.
type JoinResult struct {
	RoomID      domain.RoomID     `json:"roomId"`
	Transport   json.RawMessage   `json:"transport"`
	Peers       []core.SessionDTO `json:"peers"`
	Reconnected bool              `json:"reconnected,omitempty"`
}

// AdmissionController executes the join protocol against the registry.
type AdmissionController struct {
	rooms    *RoomRegistry
	validate *validator.Validate
}

func NewAdmissionController(rooms *RoomRegistry) *AdmissionController {
	return &AdmissionController{rooms: rooms, validate: validator.New()}
}

// Join admits (roomId, sessionId) into the fleet. A sessionId already
// present in the room is a reconnect and is updated in place rather
// than duplicated. On engine failure the just-admitted session is
// rolled back before the error returns; a session is never left
// half-admitted.
func (a *AdmissionController) Join(ctx context.Context, tenant domain.TenantID, req JoinRequest) (*JoinResult, error) {
	if err := a.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	room, err := a.rooms.GetOrCreate(ctx, domain.RoomID(req.RoomID), tenant)
	if err != nil {
		return nil, err
	}

	sess, err := domain.NewSession(req.SessionID, req.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	sess.User = req.User
	sess.IsHost = req.IsHost
	sess.IsGhost = req.IsGhost
	sess.ConnectionID = req.ConnectionID

	payload, peers, reconnected, err := room.Admit(sess, func(rt core.Router) (json.RawMessage, error) {
		if rt == nil {
			return nil, core.ErrNotFound
		}
		info, err := rt.ConnectInfo()
		if err != nil {
			return nil, fmt.Errorf("%w: router connect info: %v", core.ErrEngine, err)
		}
		return info, nil
	})
	if err != nil {
		a.rooms.CloseIfEmpty(room)
		return nil, err
	}

	log.Info().Str("module", "app.admission").
		Str("room", req.RoomID).Str("session", req.SessionID).Str("tenant", string(tenant)).
		Bool("host", req.IsHost).Bool("reconnect", reconnected).
		Msg("join admitted")
	return &JoinResult{
		RoomID:      room.Meta().ID,
		Transport:   payload,
		Peers:       peers,
		Reconnected: reconnected,
	}, nil
}

// Leave removes the session; the registry closes the room when the
// session set empties. Disconnect cleanup and explicit leave share
// this path.
func (a *AdmissionController) Leave(roomID domain.RoomID, sessionID string) error {
	room, ok := a.rooms.Get(roomID)
	if !ok {
		return fmt.Errorf("%w: room %s", core.ErrNotFound, roomID)
	}
	if !a.rooms.RemoveSession(room, sessionID) {
		return fmt.Errorf("%w: session %s in room %s", core.ErrNotFound, sessionID, roomID)
	}
	return nil
}
