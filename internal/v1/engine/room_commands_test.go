package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/events"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

func TestCreateRoom(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")

	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)
	assert.Equal(t, types.RoomName("general"), room.Name)

	members, err := e.repos.Memberships.ListMembers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, types.MembershipOwner, members[0].Role)
}

func TestCreateRoom_NameTaken(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")

	_, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)

	_, err = e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "General"})
	requireCode(t, err, apperr.CodeRoomNameTaken)
}

func TestCreateRoom_NameInvalid(t *testing.T) {
	e, _, _ := newTestEngine(t)
	owner := createUser(t, e.repos, "alice")

	_, err := e.CreateRoom(context.Background(), CreateRoomInput{OwnerID: owner.ID, Name: ""})
	requireCode(t, err, apperr.CodeRoomNameInvalid)
}

func TestUpdateRoom_RequiresAuthority(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	outsider := createUser(t, e.repos, "bob")
	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)

	newDesc := "new description"
	_, err = e.UpdateRoom(ctx, UpdateRoomInput{RoomID: room.ID, CallerID: outsider.ID, NewDesc: &newDesc})
	requireCode(t, err, apperr.CodeNotRoomMember)
}

func TestUpdateRoom_NotifiesMembers(t *testing.T) {
	e, _, disp := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)

	out, _ := disp.Register(types.NewSessionID(), owner.ID)

	newDesc := "updated"
	updated, err := e.UpdateRoom(ctx, UpdateRoomInput{RoomID: room.ID, CallerID: owner.ID, NewDesc: &newDesc})
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Description)

	ev := <-out
	assert.Equal(t, events.KindRoomUpdated, ev.Kind)
}

func TestUpdateRoom_ClearMaxMembers(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	limit := 5
	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general", MaxMembers: &limit})
	require.NoError(t, err)

	updated, err := e.UpdateRoom(ctx, UpdateRoomInput{RoomID: room.ID, CallerID: owner.ID, ClearMaxMembers: true})
	require.NoError(t, err)
	assert.Nil(t, updated.MaxMembers)
}

func TestDeleteRoom_OwnerOnly(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	outsider := createUser(t, e.repos, "bob")
	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)

	err = e.DeleteRoom(ctx, room.ID, outsider.ID)
	requireCode(t, err, apperr.CodePermissionDenied)

	require.NoError(t, e.DeleteRoom(ctx, room.ID, owner.ID))
	_, err = e.GetRoom(ctx, room.ID)
	requireCode(t, err, apperr.CodeRoomNotFound)
}

func TestJoinRoom_Public(t *testing.T) {
	e, _, disp := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	joiner := createUser(t, e.repos, "bob")
	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)

	out, _ := disp.Register(types.NewSessionID(), owner.ID)

	require.NoError(t, e.JoinRoom(ctx, room.ID, joiner.ID))
	ev := <-out
	assert.Equal(t, events.KindUserJoinedRoom, ev.Kind)

	_, err = e.repos.Memberships.Get(ctx, room.ID, joiner.ID)
	require.NoError(t, err)
}

func TestJoinRoom_PrivateWithoutInvitation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	joiner := createUser(t, e.repos, "bob")
	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "secret", Private: true})
	require.NoError(t, err)

	err = e.JoinRoom(ctx, room.ID, joiner.ID)
	requireCode(t, err, apperr.CodeRoomPrivate)
}

func TestJoinRoom_AlreadyMember(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)

	err = e.JoinRoom(ctx, room.ID, owner.ID)
	requireCode(t, err, apperr.CodeAlreadyMember)
}

func TestJoinRoom_Full(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	joiner := createUser(t, e.repos, "bob")
	limit := 1
	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general", MaxMembers: &limit})
	require.NoError(t, err)

	err = e.JoinRoom(ctx, room.ID, joiner.ID)
	requireCode(t, err, apperr.CodeRoomFull)
}

func TestLeaveRoom_LastOwner(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)

	err = e.LeaveRoom(ctx, room.ID, owner.ID)
	requireCode(t, err, apperr.CodeLastOwner)
}

func TestLeaveRoom_Member(t *testing.T) {
	e, _, disp := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	member := createUser(t, e.repos, "bob")
	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)
	require.NoError(t, e.JoinRoom(ctx, room.ID, member.ID))

	out, _ := disp.Register(types.NewSessionID(), owner.ID)

	require.NoError(t, e.LeaveRoom(ctx, room.ID, member.ID))
	ev := <-out
	assert.Equal(t, events.KindUserLeftRoom, ev.Kind)

	_, err = e.repos.Memberships.Get(ctx, room.ID, member.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLeaveRoom_NotMember(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	outsider := createUser(t, e.repos, "bob")
	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)

	err = e.LeaveRoom(ctx, room.ID, outsider.ID)
	requireCode(t, err, apperr.CodeNotRoomMember)
}

func TestListMembers_RequiresMembership(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	outsider := createUser(t, e.repos, "bob")
	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)

	_, err = e.ListMembers(ctx, room.ID, outsider.ID, types.RoleUser)
	requireCode(t, err, apperr.CodeNotRoomMember)

	members, err := e.ListMembers(ctx, room.ID, owner.ID, types.RoleUser)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestListMembers_AdminBypassesMembership(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	admin := createUser(t, e.repos, "root")
	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)

	members, err := e.ListMembers(ctx, room.ID, admin.ID, types.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestTransferOwnership(t *testing.T) {
	e, _, disp := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	successor := createUser(t, e.repos, "bob")

	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)
	require.NoError(t, e.JoinRoom(ctx, room.ID, successor.ID))

	out, _ := disp.Register(types.NewSessionID(), owner.ID)

	require.NoError(t, e.TransferOwnership(ctx, room.ID, owner.ID, successor.ID))

	m, err := e.repos.Memberships.Get(ctx, room.ID, successor.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MembershipOwner, m.Role)
	m, err = e.repos.Memberships.Get(ctx, room.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MembershipModerator, m.Role)

	ev := <-out
	assert.Equal(t, events.KindMemberRoleChanged, ev.Kind)
	assert.Equal(t, successor.ID, ev.MemberRoleChanged.UserID)

	// The demoted previous owner may now leave; the new owner may not.
	require.NoError(t, e.LeaveRoom(ctx, room.ID, owner.ID))
	err = e.LeaveRoom(ctx, room.ID, successor.ID)
	requireCode(t, err, apperr.CodeLastOwner)
}

func TestTransferOwnership_NotOwner(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	owner := createUser(t, e.repos, "alice")
	member := createUser(t, e.repos, "bob")

	room, err := e.CreateRoom(ctx, CreateRoomInput{OwnerID: owner.ID, Name: "general"})
	require.NoError(t, err)
	require.NoError(t, e.JoinRoom(ctx, room.ID, member.ID))

	err = e.TransferOwnership(ctx, room.ID, member.ID, member.ID)
	requireCode(t, err, apperr.CodePermissionDenied)
}
