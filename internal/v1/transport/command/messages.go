package command

import (
	"context"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/transport/wire"
	"github.com/lairchat/server/internal/v1/types"
)

type targetPayload struct {
	Room string `json:"room,omitempty"`
	User string `json:"user,omitempty"`
}

func (t targetPayload) toTarget() (types.MessageTarget, error) {
	switch {
	case t.Room != "":
		return types.RoomTarget(types.RoomID(t.Room)), nil
	case t.User != "":
		return types.DirectTarget(types.UserID(t.User)), nil
	default:
		return types.MessageTarget{}, apperr.New(apperr.CodeContentEmpty, "target must name a room or a user")
	}
}

func messagePayload(m domain.Message) map[string]any {
	out := map[string]any{
		"id":         string(m.ID),
		"author_id":  string(m.AuthorID),
		"content":    string(m.Content),
		"edited":     m.Edited,
		"created_at": m.CreatedAt,
		"updated_at": m.UpdatedAt,
	}
	if m.Target.IsRoom() {
		out["target"] = map[string]string{"room": string(m.Target.RoomID)}
	} else {
		out["target"] = map[string]string{"user": string(m.Target.PeerUserID)}
	}
	return out
}

type sendMessagePayload struct {
	Target  targetPayload `json:"target"`
	Content string        `json:"content"`
}

func (r *Router) sendMessage(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[sendMessagePayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	target, err := in.Target.toTarget()
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	msg, err := r.Engine.SendMessage(ctx, engine.SendMessageInput{AuthorID: sess.UserID, Target: target, Content: in.Content})
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("message", env.RequestID, messagePayload(msg))
	return out, sess, err
}

type getMessagesPayload struct {
	paginationPayload
	Target targetPayload `json:"target"`
}

func (r *Router) getMessages(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[getMessagesPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	target, err := in.Target.toTarget()
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	msgs, err := r.Engine.GetMessages(ctx, engine.GetMessagesInput{CallerID: sess.UserID, Target: target, Page: in.toPagination()})
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	list := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		list[i] = messagePayload(m)
	}
	out, err := wire.Result("messages", env.RequestID, map[string]any{"messages": list})
	return out, sess, err
}

type editMessagePayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (r *Router) editMessage(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[editMessagePayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	msg, err := r.Engine.EditMessage(ctx, types.MessageID(in.ID), sess.UserID, in.Content)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("message", env.RequestID, messagePayload(msg))
	return out, sess, err
}

type messageIDPayload struct {
	ID string `json:"id"`
}

func (r *Router) deleteMessage(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[messageIDPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	if err := r.Engine.DeleteMessage(ctx, types.MessageID(in.ID), sess.UserID); err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("delete_message_result", env.RequestID, map[string]any{"ok": true})
	return out, sess, err
}
