package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Fleet/internal/core"
	"github.com/dkeye/Fleet/internal/domain"
)

func TestAdmissionValidation(t *testing.T) {
	fleet, _ := newTestFleet(t, 1)
	adm := NewAdmissionController(fleet.Rooms)
	ctx := context.Background()

	tests := []struct {
		name string
		req  JoinRequest
	}{
		{name: "empty room id", req: JoinRequest{SessionID: "s1"}},
		{name: "empty session id", req: JoinRequest{RoomID: "r1"}},
		{name: "both empty", req: JoinRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := adm.Join(ctx, "tenant-a", tt.req)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
	assert.Equal(t, 0, fleet.Rooms.Count())
}

func TestAdmissionCreatesRoomOnFirstJoin(t *testing.T) {
	fleet, _ := newTestFleet(t, 3)
	adm := NewAdmissionController(fleet.Rooms)

	res, err := adm.Join(context.Background(), "tenant-a", JoinRequest{
		RoomID:      "wolf-falcon-123",
		SessionID:   "s1",
		DisplayName: "Alice",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("wolf-falcon-123"), res.RoomID)
	assert.NotEmpty(t, res.Transport)
	assert.Empty(t, res.Peers)
	assert.False(t, res.Reconnected)

	room, ok := fleet.Rooms.Get("wolf-falcon-123")
	require.True(t, ok)
	assert.Equal(t, 1, room.ClientCount())
	assert.NotEmpty(t, room.Meta().Worker)

	s, ok := room.Session("s1")
	require.True(t, ok)
	assert.False(t, s.JoinedAt.IsZero())
}

func TestAdmissionIdempotentRejoin(t *testing.T) {
	fleet, _ := newTestFleet(t, 1)
	adm := NewAdmissionController(fleet.Rooms)
	ctx := context.Background()

	_, err := adm.Join(ctx, "tenant-a", JoinRequest{RoomID: "r1", SessionID: "s1", DisplayName: "Alice"})
	require.NoError(t, err)

	// Same sessionId is a reconnect: updated in place, never duplicated.
	res, err := adm.Join(ctx, "tenant-a", JoinRequest{RoomID: "r1", SessionID: "s1", DisplayName: "Alice v2"})
	require.NoError(t, err)
	assert.True(t, res.Reconnected)

	room, _ := fleet.Rooms.Get("r1")
	assert.Equal(t, 1, room.ClientCount())
	s, ok := room.Session("s1")
	require.True(t, ok)
	assert.Equal(t, "Alice v2", s.DisplayName)
}

func TestAdmissionPeersExcludeGhosts(t *testing.T) {
	fleet, _ := newTestFleet(t, 1)
	adm := NewAdmissionController(fleet.Rooms)
	ctx := context.Background()

	_, err := adm.Join(ctx, "tenant-a", JoinRequest{RoomID: "r1", SessionID: "host", IsHost: true})
	require.NoError(t, err)
	_, err = adm.Join(ctx, "tenant-a", JoinRequest{RoomID: "r1", SessionID: "watcher", IsGhost: true})
	require.NoError(t, err)

	res, err := adm.Join(ctx, "tenant-a", JoinRequest{RoomID: "r1", SessionID: "guest"})
	require.NoError(t, err)
	require.Len(t, res.Peers, 1)
	assert.Equal(t, "host", res.Peers[0].ID)

	// The ghost still counts toward occupancy.
	room, _ := fleet.Rooms.Get("r1")
	assert.Equal(t, 3, room.ClientCount())
}

func TestAdmissionEngineFailureRollsBack(t *testing.T) {
	fleet, eng := newTestFleet(t, 1)
	adm := NewAdmissionController(fleet.Rooms)
	ctx := context.Background()
	eng.NextConnectErr = errors.New("transport refused")

	_, err := adm.Join(ctx, "tenant-a", JoinRequest{RoomID: "r1", SessionID: "s1"})
	assert.ErrorIs(t, err, core.ErrEngine)

	// No half-admitted session and no orphaned empty room survive.
	assert.Equal(t, 0, fleet.Rooms.Count())
}

func TestAdmissionEngineFailureKeepsOccupiedRoom(t *testing.T) {
	fleet, eng := newTestFleet(t, 1)
	adm := NewAdmissionController(fleet.Rooms)
	ctx := context.Background()

	_, err := adm.Join(ctx, "tenant-a", JoinRequest{RoomID: "r1", SessionID: "s1"})
	require.NoError(t, err)

	eng.Routers()[0].FailConnect(errors.New("transport refused"))
	_, err = adm.Join(ctx, "tenant-a", JoinRequest{RoomID: "r1", SessionID: "s2"})
	assert.ErrorIs(t, err, core.ErrEngine)

	room, ok := fleet.Rooms.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 1, room.ClientCount())
}

func TestAdmissionDuringDraining(t *testing.T) {
	fleet, _ := newTestFleet(t, 2)
	adm := NewAdmissionController(fleet.Rooms)
	ctx := context.Background()

	_, err := adm.Join(ctx, "tenant-a", JoinRequest{RoomID: "active", SessionID: "s1"})
	require.NoError(t, err)

	fleet.SetDraining(true)

	// New rooms are refused; the active one keeps admitting.
	_, err = adm.Join(ctx, "tenant-a", JoinRequest{RoomID: "fresh", SessionID: "s2"})
	assert.ErrorIs(t, err, core.ErrDraining)

	_, err = adm.Join(ctx, "tenant-a", JoinRequest{RoomID: "active", SessionID: "s3"})
	assert.NoError(t, err)
}

func TestAdmissionLeave(t *testing.T) {
	fleet, _ := newTestFleet(t, 1)
	adm := NewAdmissionController(fleet.Rooms)
	ctx := context.Background()

	_, err := adm.Join(ctx, "tenant-a", JoinRequest{RoomID: "r1", SessionID: "s1"})
	require.NoError(t, err)
	_, err = adm.Join(ctx, "tenant-a", JoinRequest{RoomID: "r1", SessionID: "s2"})
	require.NoError(t, err)

	require.NoError(t, adm.Leave("r1", "s1"))
	room, ok := fleet.Rooms.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 1, room.ClientCount())

	assert.ErrorIs(t, adm.Leave("r1", "s1"), core.ErrNotFound)
	assert.ErrorIs(t, adm.Leave("missing", "s1"), core.ErrNotFound)

	// Last leave closes the room.
	require.NoError(t, adm.Leave("r1", "s2"))
	_, ok = fleet.Rooms.Get("r1")
	assert.False(t, ok)
}
