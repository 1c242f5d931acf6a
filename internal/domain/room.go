package domain

type (
	RoomID   string
	TenantID string
	WorkerID string
)

// Room is placement meta only; the live session set lives in core.
// The worker binding never changes after creation: router affinity
// must not migrate mid-meeting.
type Room struct {
	ID     RoomID
	Tenant TenantID
	Worker WorkerID
}
