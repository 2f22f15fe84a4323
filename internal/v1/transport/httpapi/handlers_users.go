package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/types"
)

func (h *handlers) getMe(c *gin.Context) {
	caller := callerOf(c)
	user, err := h.engine.GetMe(c.Request.Context(), types.UserID(caller.UserID))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, renderUser(user))
}

func (h *handlers) getUser(c *gin.Context) {
	user, err := h.engine.GetUser(c.Request.Context(), types.UserID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, renderPublicUser(user))
}

func (h *handlers) listUsers(c *gin.Context) {
	users, err := h.engine.ListUsers(c.Request.Context(), pageFromQuery(c))
	if err != nil {
		fail(c, err)
		return
	}
	list := make([]userBody, len(users))
	for i, u := range users {
		list[i] = renderPublicUser(u)
	}
	ok(c, gin.H{"users": list})
}

func (h *handlers) updateProfile(c *gin.Context) {
	var body struct {
		Username *string `json:"username,omitempty"`
		Email    *string `json:"email,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c)
		return
	}
	caller := callerOf(c)
	input := engine.UpdateProfileInput{UserID: types.UserID(caller.UserID)}
	if body.Username != nil {
		name := types.Username(*body.Username)
		input.NewUsername = &name
	}
	if body.Email != nil {
		email := types.Email(*body.Email)
		input.NewEmail = &email
	}
	user, err := h.engine.UpdateProfile(c.Request.Context(), input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, renderUser(user))
}
