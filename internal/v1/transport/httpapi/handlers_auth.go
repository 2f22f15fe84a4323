package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/types"
)

// handlers carries the engine handle every REST handler closes over.
type handlers struct {
	engine *engine.Engine
}

func (h *handlers) register(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c)
		return
	}
	res, err := h.engine.Register(c.Request.Context(), engine.RegisterInput{
		Username:  types.Username(body.Username),
		Email:     types.Email(body.Email),
		Password:  body.Password,
		Protocol:  types.ProtocolHTTP,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, renderAuthResult(res))
}

func (h *handlers) login(c *gin.Context) {
	var body struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c)
		return
	}
	res, err := h.engine.Login(c.Request.Context(), engine.LoginInput{
		Identifier: body.Identifier,
		Password:   body.Password,
		Protocol:   types.ProtocolHTTP,
		IP:         c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, renderAuthResult(res))
}

func (h *handlers) refresh(c *gin.Context) {
	caller := callerOf(c)
	res, err := h.engine.Refresh(c.Request.Context(), types.SessionID(caller.SessionID))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"session": sessionResponse{ID: string(res.Session.ID), ExpiresAt: res.Session.ExpiresAt},
		"token":   res.Token,
	})
}

func (h *handlers) logout(c *gin.Context) {
	caller := callerOf(c)
	if err := h.engine.Logout(c.Request.Context(), types.SessionID(caller.SessionID)); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"ok": true})
}

func (h *handlers) changePassword(c *gin.Context) {
	var body struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c)
		return
	}
	caller := callerOf(c)
	err := h.engine.ChangePassword(c.Request.Context(), engine.ChangePasswordInput{
		UserID:      types.UserID(caller.UserID),
		OldPassword: body.Old,
		NewPassword: body.New,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"ok": true})
}
