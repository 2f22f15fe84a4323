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

// invitationTTL is how long a pending invitation remains acceptable.
const invitationTTL = 7 * 24 * time.Hour

// CreateInvitationInput is the create_invitation{room,invitee,message?}
// command.
type CreateInvitationInput struct {
	RoomID    types.RoomID
	InviterID types.UserID
	InviteeID types.UserID
	Message   string
}

// CreateInvitation invites a user to a room. The inviter must hold
// owner/moderator authority in a private room; any member may invite in a
// public room.
func (e *Engine) CreateInvitation(ctx context.Context, in CreateInvitationInput) (domain.Invitation, error) {
	room, err := e.getRoom(ctx, in.RoomID)
	if err != nil {
		return domain.Invitation{}, err
	}

	if room.Private {
		if err := e.requireRoomAuthority(ctx, in.RoomID, in.InviterID); err != nil {
			return domain.Invitation{}, err
		}
	} else if _, err := e.repos.Memberships.Get(ctx, in.RoomID, in.InviterID); err != nil {
		if err == storage.ErrNotFound {
			return domain.Invitation{}, apperr.New(apperr.CodeNotRoomMember, "not a member of this room")
		}
		return domain.Invitation{}, apperr.Internal()
	}

	if _, err := e.getUser(ctx, in.InviteeID); err != nil {
		return domain.Invitation{}, err
	}
	if _, err := e.repos.Memberships.Get(ctx, in.RoomID, in.InviteeID); err == nil {
		return domain.Invitation{}, apperr.New(apperr.CodeAlreadyMember, "user is already a member of this room")
	} else if err != storage.ErrNotFound {
		return domain.Invitation{}, apperr.Internal()
	}

	pending, err := e.repos.Invitations.ListForRoom(ctx, in.RoomID)
	if err != nil {
		return domain.Invitation{}, apperr.Internal()
	}
	for _, existing := range pending {
		if existing.InviteeID == in.InviteeID && existing.Status == types.InvitationPending {
			return domain.Invitation{}, apperr.New(apperr.CodeAlreadyInvited, "user already has a pending invitation to this room")
		}
	}

	now := time.Now().UTC()
	inv := domain.Invitation{
		ID:        types.NewInvitationID(),
		RoomID:    in.RoomID,
		InviterID: in.InviterID,
		InviteeID: in.InviteeID,
		Status:    types.InvitationPending,
		Message:   in.Message,
		CreatedAt: now,
		ExpiresAt: now.Add(invitationTTL),
	}
	if err := e.repos.Invitations.Create(ctx, inv); err != nil {
		return domain.Invitation{}, apperr.Internal()
	}

	e.dispatcher.Dispatch(ctx, events.Event{
		ID:                 types.NewEventID(),
		Kind:               events.KindInvitationReceived,
		Timestamp:          now,
		Target:             events.SpecificUser(in.InviteeID),
		InvitationReceived: &events.InvitationReceived{Invitation: inv},
	})
	return inv, nil
}

// ListInvitationsForUser returns every invitation addressed to callerID.
func (e *Engine) ListInvitationsForUser(ctx context.Context, callerID types.UserID) ([]domain.Invitation, error) {
	invs, err := e.repos.Invitations.ListForInvitee(ctx, callerID)
	if err != nil {
		return nil, apperr.Internal()
	}
	return invs, nil
}

// ListInvitationsForRoom returns a room's invitations. Requires owner/mod
// authority.
func (e *Engine) ListInvitationsForRoom(ctx context.Context, roomID types.RoomID, callerID types.UserID) ([]domain.Invitation, error) {
	if err := e.requireRoomAuthority(ctx, roomID, callerID); err != nil {
		return nil, err
	}
	invs, err := e.repos.Invitations.ListForRoom(ctx, roomID)
	if err != nil {
		return nil, apperr.Internal()
	}
	return invs, nil
}

// AcceptInvitation atomically transitions a pending invitation to accepted
// and creates the resulting membership. The compare-and-swap on status
// guarantees concurrent accept_invitation calls on the same invitation
// produce exactly one accepted outcome; losers observe
// invitation_used.
func (e *Engine) AcceptInvitation(ctx context.Context, id types.InvitationID, callerID types.UserID) error {
	inv, err := e.repos.Invitations.FindByID(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return apperr.New(apperr.CodeInvitationNotFound, "invitation not found")
		}
		return apperr.Internal()
	}
	if inv.InviteeID != callerID {
		return apperr.New(apperr.CodePermissionDenied, "invitation is not addressed to you")
	}
	if inv.Status != types.InvitationPending {
		return apperr.New(apperr.CodeInvitationUsed, "invitation has already been resolved")
	}
	if inv.Expired(time.Now().UTC()) {
		return apperr.New(apperr.CodeInvitationExpired, "invitation has expired")
	}

	room, err := e.getRoom(ctx, inv.RoomID)
	if err != nil {
		return err
	}
	if err := e.enforceMaxMembers(ctx, room); err != nil {
		return err
	}

	if err := e.repos.Invitations.TransitionStatus(ctx, id, types.InvitationPending, types.InvitationAccepted); err != nil {
		if err == storage.ErrCASMismatch {
			return apperr.New(apperr.CodeInvitationUsed, "invitation has already been resolved")
		}
		return apperr.Internal()
	}

	if err := e.repos.Memberships.Add(ctx, inv.RoomID, callerID, types.MembershipMember); err != nil {
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
		Target:         events.EveryMemberOf(inv.RoomID),
		UserJoinedRoom: &events.UserJoinedRoom{RoomID: inv.RoomID, User: user},
	})
	return nil
}

// DeclineInvitation marks a pending invitation declined.
func (e *Engine) DeclineInvitation(ctx context.Context, id types.InvitationID, callerID types.UserID) error {
	inv, err := e.repos.Invitations.FindByID(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return apperr.New(apperr.CodeInvitationNotFound, "invitation not found")
		}
		return apperr.Internal()
	}
	if inv.InviteeID != callerID {
		return apperr.New(apperr.CodePermissionDenied, "invitation is not addressed to you")
	}
	if inv.Status != types.InvitationPending {
		return apperr.New(apperr.CodeInvitationUsed, "invitation has already been resolved")
	}

	if err := e.repos.Invitations.TransitionStatus(ctx, id, types.InvitationPending, types.InvitationDeclined); err != nil {
		if err == storage.ErrCASMismatch {
			return apperr.New(apperr.CodeInvitationUsed, "invitation has already been resolved")
		}
		return apperr.Internal()
	}
	return nil
}
