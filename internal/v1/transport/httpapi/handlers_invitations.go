package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/types"
)

func (h *handlers) createInvitation(c *gin.Context) {
	var body struct {
		Room    string `json:"room"`
		Invitee string `json:"invitee"`
		Message string `json:"message,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c)
		return
	}
	caller := callerOf(c)
	inv, err := h.engine.CreateInvitation(c.Request.Context(), engine.CreateInvitationInput{
		RoomID:    types.RoomID(body.Room),
		InviterID: types.UserID(caller.UserID),
		InviteeID: types.UserID(body.Invitee),
		Message:   body.Message,
	})
	if err != nil {
		fail(c, err)
		return
	}
	created(c, renderInvitation(inv))
}

// listInvitations returns the caller's own invitations, or a room's when
// ?room=… is present (owner/moderator only, enforced by the engine).
func (h *handlers) listInvitations(c *gin.Context) {
	caller := callerOf(c)
	var (
		invs []domain.Invitation
		err  error
	)
	if room := c.Query("room"); room != "" {
		invs, err = h.engine.ListInvitationsForRoom(c.Request.Context(), types.RoomID(room), types.UserID(caller.UserID))
	} else {
		invs, err = h.engine.ListInvitationsForUser(c.Request.Context(), types.UserID(caller.UserID))
	}
	if err != nil {
		fail(c, err)
		return
	}
	list := make([]invitationBody, len(invs))
	for i, inv := range invs {
		list[i] = renderInvitation(inv)
	}
	ok(c, gin.H{"invitations": list})
}

func (h *handlers) acceptInvitation(c *gin.Context) {
	caller := callerOf(c)
	if err := h.engine.AcceptInvitation(c.Request.Context(), types.InvitationID(c.Param("id")), types.UserID(caller.UserID)); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"ok": true})
}

func (h *handlers) declineInvitation(c *gin.Context) {
	caller := callerOf(c)
	if err := h.engine.DeclineInvitation(c.Request.Context(), types.InvitationID(c.Param("id")), types.UserID(caller.UserID)); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"ok": true})
}
