package command

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lairchat/server/internal/v1/events"
	"github.com/lairchat/server/internal/v1/types"
)

// HandleTyping dispatches the transient user_typing indicator. It is
// fire-and-forget: no response frame, no persistence, and the dispatcher may
// drop it under backpressure. Unauthenticated or malformed typing frames are
// silently ignored.
func (r *Router) HandleTyping(ctx context.Context, sess *Session, data json.RawMessage) {
	if sess == nil || sess.UserID == "" {
		return
	}
	var in struct {
		Target targetPayload `json:"target"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return
	}
	target, err := in.Target.toTarget()
	if err != nil {
		return
	}
	var deliverTo events.Target
	if target.IsRoom() {
		deliverTo = events.EveryMemberOf(target.RoomID)
	} else {
		deliverTo = events.DirectPair(sess.UserID, target.PeerUserID)
	}
	r.Engine.Dispatcher().Dispatch(ctx, events.Event{
		ID:         types.NewEventID(),
		Kind:       events.KindUserTyping,
		Timestamp:  time.Now().UTC(),
		Target:     deliverTo,
		UserTyping: &events.UserTyping{Target: target, UserID: sess.UserID},
	})
}
