package app

import (
	"sync"
	"time"

	"github.com/dkeye/Fleet/internal/core"
	"github.com/rs/zerolog/log"
)

// FleetState is the process-wide mutable state: the worker pool, the
// room registry and the draining flag. Constructed once at startup and
// passed explicitly into every component that needs it, never a hidden
// global, so isolated instances can run side by side in tests.
type FleetState struct {
	InstanceID string
	Version    string
	StartedAt  time.Time

	Pool  *WorkerPool
	Rooms *RoomRegistry

	mu       sync.RWMutex
	draining bool
}

func NewFleetState(instanceID, version string, engine core.MediaEngine) *FleetState {
	f := &FleetState{
		InstanceID: instanceID,
		Version:    version,
		StartedAt:  time.Now(),
	}
	f.Pool = NewWorkerPool(engine)
	f.Rooms = NewRoomRegistry(f.Pool, engine, f.Draining)
	return f
}

// SetDraining flips the fleet-wide flag. Idempotent: setting the same
// value twice is a success both times. Draining blocks creation of
// rooms that do not yet exist; active rooms are never forced closed.
func (f *FleetState) SetDraining(v bool) {
	f.mu.Lock()
	changed := f.draining != v
	f.draining = v
	f.mu.Unlock()
	if changed {
		log.Info().Str("module", "app.fleet").Bool("draining", v).Msg("draining flag changed")
	}
}

func (f *FleetState) Draining() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.draining
}

func (f *FleetState) Uptime() time.Duration {
	return time.Since(f.StartedAt)
}
