package command

import (
	"context"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/transport/wire"
	"github.com/lairchat/server/internal/v1/types"
)

func roomPayload(room domain.Room) map[string]any {
	out := map[string]any{
		"id":          string(room.ID),
		"name":        string(room.Name),
		"description": room.Description,
		"owner_id":    string(room.OwnerID),
		"private":     room.Private,
		"created_at":  room.CreatedAt,
		"updated_at":  room.UpdatedAt,
	}
	if room.MaxMembers != nil {
		out["max_members"] = *room.MaxMembers
	}
	return out
}

func membershipPayload(m domain.RoomMembership) map[string]any {
	return map[string]any{
		"room_id":   string(m.RoomID),
		"user_id":   string(m.UserID),
		"role":      string(m.Role),
		"joined_at": m.JoinedAt,
	}
}

type createRoomPayload struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private,omitempty"`
	MaxMembers  *int   `json:"max_members,omitempty"`
}

func (r *Router) createRoom(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[createRoomPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	room, err := r.Engine.CreateRoom(ctx, engine.CreateRoomInput{
		OwnerID: sess.UserID, Name: types.RoomName(in.Name), Description: in.Description,
		Private: in.Private, MaxMembers: in.MaxMembers,
	})
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("room", env.RequestID, roomPayload(room))
	return out, sess, err
}

type roomIDPayload struct {
	ID string `json:"id"`
}

func (r *Router) getRoom(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[roomIDPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	room, err := r.Engine.GetRoom(ctx, types.RoomID(in.ID))
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("room", env.RequestID, roomPayload(room))
	return out, sess, err
}

type listRoomsPayload struct {
	paginationPayload
	OwnerID *string `json:"owner_id,omitempty"`
	Private *bool   `json:"private,omitempty"`
}

func (r *Router) listRooms(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[listRoomsPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	filter := storage.RoomFilter{Private: in.Private}
	if in.OwnerID != nil {
		id := types.UserID(*in.OwnerID)
		filter.OwnerID = &id
	}
	rooms, err := r.Engine.ListRooms(ctx, in.toPagination(), filter)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	list := make([]map[string]any, len(rooms))
	for i, rm := range rooms {
		list[i] = roomPayload(rm)
	}
	out, err := wire.Result("rooms", env.RequestID, map[string]any{"rooms": list})
	return out, sess, err
}

type updateRoomPayload struct {
	ID              string  `json:"id"`
	Name            *string `json:"name,omitempty"`
	Description     *string `json:"description,omitempty"`
	Private         *bool   `json:"private,omitempty"`
	MaxMembers      *int    `json:"max_members,omitempty"`
	ClearMaxMembers bool    `json:"clear_max_members,omitempty"`
}

func (r *Router) updateRoom(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[updateRoomPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	input := engine.UpdateRoomInput{RoomID: types.RoomID(in.ID), CallerID: sess.UserID, NewMaxMembers: in.MaxMembers, ClearMaxMembers: in.ClearMaxMembers, NewPrivate: in.Private}
	if in.Name != nil {
		name := types.RoomName(*in.Name)
		input.NewName = &name
	}
	input.NewDesc = in.Description
	room, err := r.Engine.UpdateRoom(ctx, input)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("room", env.RequestID, roomPayload(room))
	return out, sess, err
}

func (r *Router) deleteRoom(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[roomIDPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	if err := r.Engine.DeleteRoom(ctx, types.RoomID(in.ID), sess.UserID); err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("delete_room_result", env.RequestID, map[string]any{"ok": true})
	return out, sess, err
}

func (r *Router) joinRoom(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[roomIDPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	if err := r.Engine.JoinRoom(ctx, types.RoomID(in.ID), sess.UserID); err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("join_room_result", env.RequestID, map[string]any{"ok": true})
	return out, sess, err
}

func (r *Router) leaveRoom(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[roomIDPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	if err := r.Engine.LeaveRoom(ctx, types.RoomID(in.ID), sess.UserID); err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("leave_room_result", env.RequestID, map[string]any{"ok": true})
	return out, sess, err
}

type transferOwnershipPayload struct {
	ID       string `json:"id"`
	NewOwner string `json:"new_owner"`
}

func (r *Router) transferOwnership(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[transferOwnershipPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	if err := r.Engine.TransferOwnership(ctx, types.RoomID(in.ID), sess.UserID, types.UserID(in.NewOwner)); err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("transfer_ownership_result", env.RequestID, map[string]any{"ok": true})
	return out, sess, err
}

func (r *Router) listMembers(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[roomIDPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	members, err := r.Engine.ListMembers(ctx, types.RoomID(in.ID), sess.UserID, sess.Role)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	list := make([]map[string]any, len(members))
	for i, m := range members {
		list[i] = membershipPayload(m)
	}
	out, err := wire.Result("members", env.RequestID, map[string]any{"members": list})
	return out, sess, err
}
