package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Fleet/internal/core"
	"github.com/dkeye/Fleet/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomInfo is the tenant-scoped listing entry: id and occupancy only,
// no session-level detail.
type RoomInfo struct {
	ID      domain.RoomID `json:"id"`
	Clients int           `json:"clients"`
}

// roomEntry serializes creation per room id: the registry lock is held
// only for the map lookup, so an engine call for one room never blocks
// traffic to other rooms.
type roomEntry struct {
	once sync.Once
	room *core.Room
	err  error
}

// RoomRegistry is the in-memory map of active rooms.
type RoomRegistry struct {
	pool     *WorkerPool
	engine   core.MediaEngine
	draining func() bool

	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry
}

func NewRoomRegistry(pool *WorkerPool, engine core.MediaEngine, draining func() bool) *RoomRegistry {
	return &RoomRegistry{
		pool:     pool,
		engine:   engine,
		draining: draining,
		rooms:    make(map[domain.RoomID]*roomEntry),
	}
}

// GetOrCreate returns the room unchanged when it exists (idempotent
// attach). When absent it acquires a worker and a router; while the
// fleet is draining absent rooms are refused instead.
func (r *RoomRegistry) GetOrCreate(ctx context.Context, id domain.RoomID, tenant domain.TenantID) (*core.Room, error) {
	r.mu.RLock()
	e, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if e, ok = r.rooms[id]; !ok {
			if r.draining() {
				r.mu.Unlock()
				return nil, fmt.Errorf("%w: room %s", core.ErrDraining, id)
			}
			e = &roomEntry{}
			r.rooms[id] = e
		}
		r.mu.Unlock()
	}

	e.once.Do(func() {
		e.room, e.err = r.create(ctx, id, tenant)
		if e.err != nil {
			r.mu.Lock()
			if cur, ok := r.rooms[id]; ok && cur == e {
				delete(r.rooms, id)
			}
			r.mu.Unlock()
		}
	})
	if e.err != nil {
		return nil, e.err
	}
	if e.room.Closed() {
		return nil, fmt.Errorf("%w: room %s", core.ErrNotFound, id)
	}
	return e.room, nil
}

func (r *RoomRegistry) create(ctx context.Context, id domain.RoomID, tenant domain.TenantID) (*core.Room, error) {
	worker, err := r.pool.Acquire()
	if err != nil {
		return nil, err
	}
	router, err := r.engine.CreateRouter(ctx, worker, id)
	if err != nil {
		r.pool.Release(worker)
		return nil, fmt.Errorf("%w: create router for %s: %v", core.ErrEngine, id, err)
	}
	log.Info().Str("module", "app.registry").
		Str("room", string(id)).Str("tenant", string(tenant)).Str("worker", string(worker)).
		Msg("room created")
	return core.NewRoom(&domain.Room{ID: id, Tenant: tenant, Worker: worker}, router), nil
}

func (r *RoomRegistry) Get(id domain.RoomID) (*core.Room, bool) {
	r.mu.RLock()
	e, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok || e.room == nil || e.err != nil || e.room.Closed() {
		return nil, false
	}
	return e.room, true
}

// RemoveSession drops the session and closes the room once its session
// set empties.
func (r *RoomRegistry) RemoveSession(room *core.Room, sessionID string) bool {
	remaining, ok := room.RemoveSession(sessionID)
	if ok && remaining == 0 {
		r.Close(room)
	}
	return ok
}

// CloseIfEmpty reaps a room that ended up with no sessions, e.g. after
// an admission rollback on a freshly created room.
func (r *RoomRegistry) CloseIfEmpty(room *core.Room) {
	if room.ClientCount() == 0 {
		r.Close(room)
	}
}

// Close detaches the room from its worker and removes it from the
// registry. Safe to call while shutdown races with natural emptying.
func (r *RoomRegistry) Close(room *core.Room) {
	if !room.Close() {
		return
	}
	id := room.Meta().ID
	r.mu.Lock()
	if e, ok := r.rooms[id]; ok && e.room == room {
		delete(r.rooms, id)
	}
	r.mu.Unlock()
	r.pool.Release(room.Meta().Worker)
	log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("room closed")
}

// ListForTenant never exposes rooms of other tenants; one fleet may
// host several client surfaces.
func (r *RoomRegistry) ListForTenant(tenant domain.TenantID) []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for _, e := range r.rooms {
		if e.room == nil || e.room.Closed() || e.room.Meta().Tenant != tenant {
			continue
		}
		out = append(out, RoomInfo{ID: e.room.Meta().ID, Clients: e.room.ClientCount()})
	}
	return out
}

func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.rooms {
		if e.room != nil && !e.room.Closed() {
			n++
		}
	}
	return n
}

// CloseAll empties the registry during teardown.
func (r *RoomRegistry) CloseAll() {
	r.mu.Lock()
	entries := make([]*roomEntry, 0, len(r.rooms))
	for _, e := range r.rooms {
		entries = append(entries, e)
	}
	r.mu.Unlock()
	for _, e := range entries {
		if e.room != nil {
			r.Close(e.room)
		}
	}
}
