package engine

import (
	"context"
	"time"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/events"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

// CreateRoomInput is the create_room{name,settings} command.
type CreateRoomInput struct {
	OwnerID     types.UserID
	Name        types.RoomName
	Description string
	Private     bool
	MaxMembers  *int
}

// CreateRoom creates a room and inserts the caller as its owner. No event is
// emitted: no one else is a member yet.
func (e *Engine) CreateRoom(ctx context.Context, in CreateRoomInput) (domain.Room, error) {
	if err := in.Name.Validate(); err != nil {
		return domain.Room{}, apperr.New(apperr.CodeRoomNameInvalid, err.Error())
	}
	if _, err := e.repos.Rooms.FindByNameCI(ctx, in.Name.Fold()); err == nil {
		return domain.Room{}, apperr.New(apperr.CodeRoomNameTaken, "room name already taken")
	} else if err != storage.ErrNotFound {
		return domain.Room{}, apperr.Internal()
	}

	now := time.Now().UTC()
	room := domain.Room{
		ID:          types.NewRoomID(),
		Name:        in.Name,
		Description: in.Description,
		OwnerID:     in.OwnerID,
		Private:     in.Private,
		MaxMembers:  in.MaxMembers,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.repos.Rooms.Create(ctx, room); err != nil {
		if err == storage.ErrConflict {
			return domain.Room{}, apperr.New(apperr.CodeRoomNameTaken, "room name already taken")
		}
		return domain.Room{}, apperr.Internal()
	}
	if err := e.repos.Memberships.Add(ctx, room.ID, in.OwnerID, types.MembershipOwner); err != nil {
		return domain.Room{}, apperr.Internal()
	}
	return room, nil
}

// GetRoom returns a room by id.
func (e *Engine) GetRoom(ctx context.Context, id types.RoomID) (domain.Room, error) {
	return e.getRoom(ctx, id)
}

func (e *Engine) getRoom(ctx context.Context, id types.RoomID) (domain.Room, error) {
	room, err := e.repos.Rooms.FindByID(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return domain.Room{}, apperr.New(apperr.CodeRoomNotFound, "room not found")
		}
		return domain.Room{}, apperr.Internal()
	}
	return room, nil
}

// ListRooms is a read-only paginated, filtered listing.
func (e *Engine) ListRooms(ctx context.Context, p types.Pagination, filter storage.RoomFilter) ([]domain.Room, error) {
	rooms, err := e.repos.Rooms.List(ctx, p, filter)
	if err != nil {
		return nil, apperr.Internal()
	}
	return rooms, nil
}

// UpdateRoomInput is the update_room(id, patch) command. Fields left nil are
// unchanged; ClearMaxMembers removes the member cap regardless of
// NewMaxMembers.
type UpdateRoomInput struct {
	RoomID          types.RoomID
	CallerID        types.UserID
	NewName         *types.RoomName
	NewDesc         *string
	NewPrivate      *bool
	NewMaxMembers   *int
	ClearMaxMembers bool
}

// UpdateRoom applies an owner/moderator-only patch and notifies members.
func (e *Engine) UpdateRoom(ctx context.Context, in UpdateRoomInput) (domain.Room, error) {
	room, err := e.getRoom(ctx, in.RoomID)
	if err != nil {
		return domain.Room{}, err
	}
	if err := e.requireRoomAuthority(ctx, in.RoomID, in.CallerID); err != nil {
		return domain.Room{}, err
	}

	if in.NewName != nil {
		if err := in.NewName.Validate(); err != nil {
			return domain.Room{}, apperr.New(apperr.CodeRoomNameInvalid, err.Error())
		}
		room.Name = *in.NewName
	}
	if in.NewDesc != nil {
		room.Description = *in.NewDesc
	}
	if in.NewPrivate != nil {
		room.Private = *in.NewPrivate
	}
	if in.ClearMaxMembers {
		room.MaxMembers = nil
	} else if in.NewMaxMembers != nil {
		room.MaxMembers = in.NewMaxMembers
	}
	room.UpdatedAt = time.Now().UTC()

	if err := e.repos.Rooms.Update(ctx, room); err != nil {
		if err == storage.ErrConflict {
			return domain.Room{}, apperr.New(apperr.CodeRoomNameTaken, "room name already taken")
		}
		return domain.Room{}, apperr.Internal()
	}

	e.dispatcher.Dispatch(ctx, events.Event{
		ID:          types.NewEventID(),
		Kind:        events.KindRoomUpdated,
		Timestamp:   time.Now().UTC(),
		Target:      events.EveryMemberOf(room.ID),
		RoomUpdated: &events.RoomUpdated{Room: room},
	})
	return room, nil
}

// DeleteRoom deletes a room owned by the caller, cascading memberships,
// messages, and invitations, then notifies prior members.
func (e *Engine) DeleteRoom(ctx context.Context, roomID types.RoomID, callerID types.UserID) error {
	room, err := e.getRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID != callerID {
		return apperr.New(apperr.CodePermissionDenied, "only the room owner may delete it")
	}

	// Capture the members before the cascade removes their memberships.
	members, err := e.repos.Memberships.ListMembers(ctx, roomID)
	if err != nil {
		return apperr.Internal()
	}

	if err := e.repos.Rooms.DeleteCascade(ctx, roomID); err != nil {
		return apperr.Internal()
	}

	for _, m := range members {
		e.dispatcher.Dispatch(ctx, events.Event{
			ID:          types.NewEventID(),
			Kind:        events.KindRoomDeleted,
			Timestamp:   time.Now().UTC(),
			Target:      events.SpecificUser(m.UserID),
			RoomDeleted: &events.RoomDeleted{RoomID: roomID},
		})
	}
	return nil
}

// JoinRoom adds the caller to a public room, or a private room the caller
// holds an accepted invitation for, subject to max_members.
func (e *Engine) JoinRoom(ctx context.Context, roomID types.RoomID, callerID types.UserID) error {
	room, err := e.getRoom(ctx, roomID)
	if err != nil {
		return err
	}

	if room.Private {
		if !e.hasAcceptedInvitation(ctx, roomID, callerID) {
			return apperr.New(apperr.CodeRoomPrivate, "room is private")
		}
	}
	if _, err := e.repos.Memberships.Get(ctx, roomID, callerID); err == nil {
		return apperr.New(apperr.CodeAlreadyMember, "already a member of this room")
	} else if err != storage.ErrNotFound {
		return apperr.Internal()
	}

	if err := e.enforceMaxMembers(ctx, room); err != nil {
		return err
	}

	if err := e.repos.Memberships.Add(ctx, roomID, callerID, types.MembershipMember); err != nil {
		return apperr.Internal()
	}

	user, err := e.getUser(ctx, callerID)
	if err != nil {
		return err
	}
	e.dispatcher.Dispatch(ctx, events.Event{
		ID:             types.NewEventID(),
		Kind:           events.KindUserJoinedRoom,
		Timestamp:      time.Now().UTC(),
		Target:         events.EveryMemberOf(roomID),
		UserJoinedRoom: &events.UserJoinedRoom{RoomID: roomID, User: user},
	})
	return nil
}

// LeaveRoom removes the caller's membership. The sole owner of a room must
// delete it instead of leaving.
func (e *Engine) LeaveRoom(ctx context.Context, roomID types.RoomID, callerID types.UserID) error {
	membership, err := e.repos.Memberships.Get(ctx, roomID, callerID)
	if err != nil {
		if err == storage.ErrNotFound {
			return apperr.New(apperr.CodeNotRoomMember, "not a member of this room")
		}
		return apperr.Internal()
	}

	if membership.Role == types.MembershipOwner {
		return apperr.New(apperr.CodeLastOwner, "the room's owner must delete it rather than leave")
	}

	if err := e.repos.Memberships.Remove(ctx, roomID, callerID); err != nil {
		return apperr.Internal()
	}

	e.dispatcher.Dispatch(ctx, events.Event{
		ID:           types.NewEventID(),
		Kind:         events.KindUserLeftRoom,
		Timestamp:    time.Now().UTC(),
		Target:       events.EveryMemberOf(roomID),
		UserLeftRoom: &events.UserLeftRoom{RoomID: roomID, UserID: callerID},
	})
	return nil
}

// TransferOwnership hands the room to another member. Caller must be the
// current owner; the repository's transfer_owner keeps the at-most-one-owner
// invariant by demoting the caller to moderator in the same operation. Both
// role changes are announced to the room.
func (e *Engine) TransferOwnership(ctx context.Context, roomID types.RoomID, callerID, newOwnerID types.UserID) error {
	membership, err := e.repos.Memberships.Get(ctx, roomID, callerID)
	if err != nil {
		if err == storage.ErrNotFound {
			return apperr.New(apperr.CodeNotRoomMember, "not a member of this room")
		}
		return apperr.Internal()
	}
	if membership.Role != types.MembershipOwner {
		return apperr.New(apperr.CodePermissionDenied, "only the owner may transfer ownership")
	}
	if newOwnerID == callerID {
		return apperr.New(apperr.CodePermissionDenied, "already the owner")
	}
	if _, err := e.repos.Memberships.Get(ctx, roomID, newOwnerID); err != nil {
		if err == storage.ErrNotFound {
			return apperr.New(apperr.CodeNotRoomMember, "new owner is not a member of this room")
		}
		return apperr.Internal()
	}

	if err := e.repos.Memberships.TransferOwner(ctx, roomID, newOwnerID); err != nil {
		return apperr.Internal()
	}

	now := time.Now().UTC()
	for _, change := range []struct {
		userID types.UserID
		role   types.MembershipRole
	}{
		{newOwnerID, types.MembershipOwner},
		{callerID, types.MembershipModerator},
	} {
		e.dispatcher.Dispatch(ctx, events.Event{
			ID:                types.NewEventID(),
			Kind:              events.KindMemberRoleChanged,
			Timestamp:         now,
			Target:            events.EveryMemberOf(roomID),
			MemberRoleChanged: &events.MemberRoleChanged{RoomID: roomID, UserID: change.userID, NewRole: change.role},
		})
	}
	return nil
}

// ListMembers is a read-only membership listing, open to any room member
// (or a system admin).
func (e *Engine) ListMembers(ctx context.Context, roomID types.RoomID, callerID types.UserID, callerRole types.Role) ([]domain.RoomMembership, error) {
	if callerRole != types.RoleAdmin {
		if _, err := e.repos.Memberships.Get(ctx, roomID, callerID); err != nil {
			if err == storage.ErrNotFound {
				return nil, apperr.New(apperr.CodeNotRoomMember, "not a member of this room")
			}
			return nil, apperr.Internal()
		}
	}
	members, err := e.repos.Memberships.ListMembers(ctx, roomID)
	if err != nil {
		return nil, apperr.Internal()
	}
	return members, nil
}

// requireRoomAuthority enforces that callerID is the room's owner or a
// moderator (used by update_room and, transitively, message moderation).
func (e *Engine) requireRoomAuthority(ctx context.Context, roomID types.RoomID, callerID types.UserID) error {
	membership, err := e.repos.Memberships.Get(ctx, roomID, callerID)
	if err != nil {
		if err == storage.ErrNotFound {
			return apperr.New(apperr.CodeNotRoomMember, "not a member of this room")
		}
		return apperr.Internal()
	}
	if membership.Role != types.MembershipOwner && membership.Role != types.MembershipModerator {
		return apperr.New(apperr.CodePermissionDenied, "requires owner or moderator authority")
	}
	return nil
}

func (e *Engine) hasAcceptedInvitation(ctx context.Context, roomID types.RoomID, userID types.UserID) bool {
	invitations, err := e.repos.Invitations.ListForInvitee(ctx, userID)
	if err != nil {
		return false
	}
	for _, inv := range invitations {
		if inv.RoomID == roomID && inv.Status == types.InvitationAccepted {
			return true
		}
	}
	return false
}

// enforceMaxMembers returns room_full when room.MaxMembers is set and the
// current member count has already reached it.
func (e *Engine) enforceMaxMembers(ctx context.Context, room domain.Room) error {
	if room.MaxMembers == nil {
		return nil
	}
	count, err := e.repos.Memberships.Count(ctx, room.ID)
	if err != nil {
		return apperr.Internal()
	}
	if count >= *room.MaxMembers {
		return apperr.New(apperr.CodeRoomFull, "room has reached its member limit")
	}
	return nil
}
