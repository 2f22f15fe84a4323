package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/types"
)

func (h *handlers) sendMessage(c *gin.Context) {
	var body struct {
		Target  targetBody `json:"target"`
		Content string     `json:"content"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c)
		return
	}
	target, err := targetOf(body.Target)
	if err != nil {
		fail(c, err)
		return
	}
	caller := callerOf(c)
	msg, err := h.engine.SendMessage(c.Request.Context(), engine.SendMessageInput{
		AuthorID: types.UserID(caller.UserID),
		Target:   target,
		Content:  body.Content,
	})
	if err != nil {
		fail(c, err)
		return
	}
	created(c, renderMessage(msg))
}

// listMessages reads the target from ?target.room=… or ?target.user=….
func (h *handlers) listMessages(c *gin.Context) {
	target, err := targetOf(targetBody{Room: c.Query("target.room"), User: c.Query("target.user")})
	if err != nil {
		fail(c, err)
		return
	}
	caller := callerOf(c)
	msgs, err := h.engine.GetMessages(c.Request.Context(), engine.GetMessagesInput{
		CallerID: types.UserID(caller.UserID),
		Target:   target,
		Page:     pageFromQuery(c),
	})
	if err != nil {
		fail(c, err)
		return
	}
	list := make([]messageBody, len(msgs))
	for i, m := range msgs {
		list[i] = renderMessage(m)
	}
	ok(c, gin.H{"messages": list})
}

func (h *handlers) editMessage(c *gin.Context) {
	var body struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c)
		return
	}
	caller := callerOf(c)
	msg, err := h.engine.EditMessage(c.Request.Context(), types.MessageID(c.Param("id")), types.UserID(caller.UserID), body.Content)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, renderMessage(msg))
}

func (h *handlers) deleteMessage(c *gin.Context) {
	caller := callerOf(c)
	if err := h.engine.DeleteMessage(c.Request.Context(), types.MessageID(c.Param("id")), types.UserID(caller.UserID)); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"ok": true})
}

func targetOf(t targetBody) (types.MessageTarget, error) {
	switch {
	case t.Room != "":
		return types.RoomTarget(types.RoomID(t.Room)), nil
	case t.User != "":
		return types.DirectTarget(types.UserID(t.User)), nil
	default:
		return types.MessageTarget{}, apperr.New(apperr.CodeContentEmpty, "target must name a room or a user")
	}
}
