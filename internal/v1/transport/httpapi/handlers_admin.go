package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/lairchat/server/internal/v1/types"
)

func (h *handlers) adminStats(c *gin.Context) {
	caller := callerOf(c)
	stats, err := h.engine.GetAdminStats(c.Request.Context(), types.Role(caller.Role))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, stats)
}

func (h *handlers) adminBroadcast(c *gin.Context) {
	var body struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c)
		return
	}
	caller := callerOf(c)
	if err := h.engine.Broadcast(c.Request.Context(), types.Role(caller.Role), body.Text); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"ok": true})
}
