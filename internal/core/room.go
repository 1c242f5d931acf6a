package core

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/Fleet/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SessionDTO is a read-only view for APIs (no transport fields).
type SessionDTO struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	IsHost      bool              `json:"is_host"`
	Producers   []domain.Producer `json:"producers,omitempty"`
}

// Room is a threadsafe in-memory room bound to one worker for its
// lifetime. Every mutation of the session set and every admission
// decision goes through one exclusive section, so concurrent requests
// against the same room are strictly ordered while distinct rooms
// never block each other.
type Room struct {
	meta   *domain.Room
	router Router

	mu       sync.Mutex
	sessions map[string]*domain.Session
	closed   bool
}

func NewRoom(meta *domain.Room, router Router) *Room {
	return &Room{
		meta:     meta,
		router:   router,
		sessions: make(map[string]*domain.Session),
	}
}

func (r *Room) Meta() *domain.Room { return r.meta }

func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Admit inserts the session, or refreshes it in place when the same
// sessionId is already present (a reconnect). connect runs inside the
// exclusive section so a failed engine call rolls the insert back
// before any other request can observe a half-admitted session.
func (r *Room) Admit(s *domain.Session, connect func(rt Router) (json.RawMessage, error)) (json.RawMessage, []SessionDTO, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, false, ErrNotFound
	}

	prev, reconnect := r.sessions[s.ID]
	if reconnect {
		s.JoinedAt = prev.JoinedAt
		s.Producers = prev.Producers
	}
	r.sessions[s.ID] = s

	payload, err := connect(r.router)
	if err != nil {
		if reconnect {
			r.sessions[s.ID] = prev
		} else {
			delete(r.sessions, s.ID)
		}
		return nil, nil, false, err
	}

	log.Info().Str("module", "core.room").
		Str("room", string(r.meta.ID)).Str("session", s.ID).
		Bool("reconnect", reconnect).Int("clients", len(r.sessions)).
		Msg("session admitted")
	return payload, r.peersLocked(s.ID), reconnect, nil
}

// RemoveSession reports how many sessions remain so the registry can
// close the room once it empties.
func (r *Room) RemoveSession(sessionID string) (remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok = r.sessions[sessionID]; !ok {
		return len(r.sessions), false
	}
	delete(r.sessions, sessionID)
	log.Info().Str("module", "core.room").
		Str("room", string(r.meta.ID)).Str("session", sessionID).
		Int("clients", len(r.sessions)).Msg("session removed")
	return len(r.sessions), true
}

func (r *Room) Session(sessionID string) (*domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// AddProducer registers an outbound stream for the session and returns
// the generated producer id.
func (r *Room) AddProducer(sessionID, kind string) (domain.Producer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.Producer{}, ErrNotFound
	}
	p := domain.Producer{ID: uuid.NewString(), Kind: kind}
	s.Producers = append(s.Producers, p)
	return p, nil
}

// Peers lists every non-ghost session except the given one.
func (r *Room) Peers(exceptID string) []SessionDTO {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peersLocked(exceptID)
}

func (r *Room) peersLocked(exceptID string) []SessionDTO {
	out := make([]SessionDTO, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.ID == exceptID || s.IsGhost {
			continue
		}
		out = append(out, SessionDTO{
			ID:          s.ID,
			DisplayName: s.DisplayName,
			IsHost:      s.IsHost,
			Producers:   s.Producers,
		})
	}
	return out
}

// Negotiate re-issues the router payload for an admitted session. It
// runs inside the exclusive section so renegotiations order with
// admissions on the same room.
func (r *Room) Negotiate(sessionID string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.router == nil {
		return nil, ErrNotFound
	}
	if _, ok := r.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	return r.router.ConnectInfo()
}

// ConnectionIDs snapshots the live signaling targets for fan-out.
func (r *Room) ConnectionIDs(exceptSession string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.ID == exceptSession || s.ConnectionID == "" {
			continue
		}
		out = append(out, s.ConnectionID)
	}
	return out
}

// Close tears the room down. Idempotent, and defensive about the
// router handle: shutdown may race with natural emptying, so an
// already-gone engine reference is tolerated, never propagated.
func (r *Room) Close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	r.sessions = make(map[string]*domain.Session)
	if r.router != nil {
		if err := r.router.Close(); err != nil {
			log.Warn().Err(err).Str("module", "core.room").
				Str("room", string(r.meta.ID)).Msg("router close")
		}
		r.router = nil
	}
	return true
}

func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Router may return nil once the room is closed.
func (r *Room) Router() Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.router
}
