package command

import (
	"context"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/transport/wire"
	"github.com/lairchat/server/internal/v1/types"
)

func invitationPayload(inv domain.Invitation) map[string]any {
	return map[string]any{
		"id":         string(inv.ID),
		"room_id":    string(inv.RoomID),
		"inviter_id": string(inv.InviterID),
		"invitee_id": string(inv.InviteeID),
		"status":     string(inv.Status),
		"message":    inv.Message,
		"created_at": inv.CreatedAt,
		"expires_at": inv.ExpiresAt,
	}
}

type createInvitationPayload struct {
	RoomID  string `json:"room"`
	Invitee string `json:"invitee"`
	Message string `json:"message,omitempty"`
}

func (r *Router) createInvitation(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[createInvitationPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	inv, err := r.Engine.CreateInvitation(ctx, engine.CreateInvitationInput{
		RoomID: types.RoomID(in.RoomID), InviterID: sess.UserID, InviteeID: types.UserID(in.Invitee), Message: in.Message,
	})
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("invitation", env.RequestID, invitationPayload(inv))
	return out, sess, err
}

type listInvitationsPayload struct {
	RoomID string `json:"room,omitempty"`
}

func (r *Router) listInvitations(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[listInvitationsPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	var invs []domain.Invitation
	if in.RoomID != "" {
		invs, err = r.Engine.ListInvitationsForRoom(ctx, types.RoomID(in.RoomID), sess.UserID)
	} else {
		invs, err = r.Engine.ListInvitationsForUser(ctx, sess.UserID)
	}
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	list := make([]map[string]any, len(invs))
	for i, inv := range invs {
		list[i] = invitationPayload(inv)
	}
	out, err := wire.Result("invitations", env.RequestID, map[string]any{"invitations": list})
	return out, sess, err
}

type invitationIDPayload struct {
	ID string `json:"id"`
}

func (r *Router) acceptInvitation(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[invitationIDPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	if err := r.Engine.AcceptInvitation(ctx, types.InvitationID(in.ID), sess.UserID); err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("accept_invitation_result", env.RequestID, map[string]any{"ok": true})
	return out, sess, err
}

func (r *Router) declineInvitation(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[invitationIDPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	if err := r.Engine.DeclineInvitation(ctx, types.InvitationID(in.ID), sess.UserID); err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("decline_invitation_result", env.RequestID, map[string]any{"ok": true})
	return out, sess, err
}
