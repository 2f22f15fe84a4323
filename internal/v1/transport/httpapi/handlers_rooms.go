package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

func (h *handlers) createRoom(c *gin.Context) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Private     bool   `json:"private,omitempty"`
		MaxMembers  *int   `json:"max_members,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c)
		return
	}
	caller := callerOf(c)
	room, err := h.engine.CreateRoom(c.Request.Context(), engine.CreateRoomInput{
		OwnerID:     types.UserID(caller.UserID),
		Name:        types.RoomName(body.Name),
		Description: body.Description,
		Private:     body.Private,
		MaxMembers:  body.MaxMembers,
	})
	if err != nil {
		fail(c, err)
		return
	}
	created(c, renderRoom(room))
}

func (h *handlers) getRoom(c *gin.Context) {
	room, err := h.engine.GetRoom(c.Request.Context(), types.RoomID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, renderRoom(room))
}

func (h *handlers) listRooms(c *gin.Context) {
	var filter storage.RoomFilter
	if owner := c.Query("owner"); owner != "" {
		id := types.UserID(owner)
		filter.OwnerID = &id
	}
	if private := c.Query("private"); private != "" {
		v := private == "true"
		filter.Private = &v
	}
	rooms, err := h.engine.ListRooms(c.Request.Context(), pageFromQuery(c), filter)
	if err != nil {
		fail(c, err)
		return
	}
	list := make([]roomBody, len(rooms))
	for i, r := range rooms {
		list[i] = renderRoom(r)
	}
	ok(c, gin.H{"rooms": list})
}

func (h *handlers) updateRoom(c *gin.Context) {
	var body struct {
		Name            *string `json:"name,omitempty"`
		Description     *string `json:"description,omitempty"`
		Private         *bool   `json:"private,omitempty"`
		MaxMembers      *int    `json:"max_members,omitempty"`
		ClearMaxMembers bool    `json:"clear_max_members,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c)
		return
	}
	caller := callerOf(c)
	input := engine.UpdateRoomInput{
		RoomID:          types.RoomID(c.Param("id")),
		CallerID:        types.UserID(caller.UserID),
		NewDesc:         body.Description,
		NewPrivate:      body.Private,
		NewMaxMembers:   body.MaxMembers,
		ClearMaxMembers: body.ClearMaxMembers,
	}
	if body.Name != nil {
		name := types.RoomName(*body.Name)
		input.NewName = &name
	}
	room, err := h.engine.UpdateRoom(c.Request.Context(), input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, renderRoom(room))
}

func (h *handlers) deleteRoom(c *gin.Context) {
	caller := callerOf(c)
	if err := h.engine.DeleteRoom(c.Request.Context(), types.RoomID(c.Param("id")), types.UserID(caller.UserID)); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"ok": true})
}

func (h *handlers) joinRoom(c *gin.Context) {
	caller := callerOf(c)
	if err := h.engine.JoinRoom(c.Request.Context(), types.RoomID(c.Param("id")), types.UserID(caller.UserID)); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"ok": true})
}

func (h *handlers) leaveRoom(c *gin.Context) {
	caller := callerOf(c)
	if err := h.engine.LeaveRoom(c.Request.Context(), types.RoomID(c.Param("id")), types.UserID(caller.UserID)); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"ok": true})
}

func (h *handlers) transferOwnership(c *gin.Context) {
	var body struct {
		NewOwner string `json:"new_owner"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c)
		return
	}
	caller := callerOf(c)
	if err := h.engine.TransferOwnership(c.Request.Context(), types.RoomID(c.Param("id")), types.UserID(caller.UserID), types.UserID(body.NewOwner)); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"ok": true})
}

func (h *handlers) listMembers(c *gin.Context) {
	caller := callerOf(c)
	members, err := h.engine.ListMembers(c.Request.Context(), types.RoomID(c.Param("id")), types.UserID(caller.UserID), types.Role(caller.Role))
	if err != nil {
		fail(c, err)
		return
	}
	list := make([]membershipBody, len(members))
	for i, m := range members {
		list[i] = renderMembership(m)
	}
	ok(c, gin.H{"members": list})
}
