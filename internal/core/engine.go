package core

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Fleet/internal/domain"
)

// Router is a worker-resident routing context bound to exactly one room.
// Owned by the room; the registry must Close() it.
type Router interface {
	// ConnectInfo returns the opaque transport/capability payload a
	// client needs to attach to this router. Its internal structure is
	// an engine contract, not interpreted here.
	ConnectInfo() (json.RawMessage, error)
	Close() error
}

// MediaEngine is the asynchronous capability boundary to the native
// media layer. Calls may suspend; implementations must be safe for
// concurrent use. Tests substitute a fake to simulate worker failure.
type MediaEngine interface {
	CreateWorker(ctx context.Context, id domain.WorkerID) error
	CreateRouter(ctx context.Context, worker domain.WorkerID, room domain.RoomID) (Router, error)
	CloseWorker(ctx context.Context, id domain.WorkerID) error
}
