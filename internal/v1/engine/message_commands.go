package engine

import (
	"context"
	"strings"
	"time"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/events"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

// SendMessageInput is the send_message{target,content} command.
type SendMessageInput struct {
	AuthorID types.UserID
	Target   types.MessageTarget
	Content  string
}

// trimTrailing removes only trailing whitespace for length validation;
// leading and embedded whitespace is preserved verbatim.
func trimTrailing(s string) string {
	return strings.TrimRight(s, " \t\r\n")
}

// SendMessage validates authorization and content, inserts the message, and
// emits MessageReceived to its recipients: the target room's members
// observed at emit time, or the DM pair.
func (e *Engine) SendMessage(ctx context.Context, in SendMessageInput) (domain.Message, error) {
	target, err := e.authorizeMessageTarget(ctx, in.Target, in.AuthorID)
	if err != nil {
		return domain.Message{}, err
	}

	trimmed := types.MessageContent(trimTrailing(in.Content))
	if len(trimmed) < types.MessageContentMinLen {
		return domain.Message{}, apperr.New(apperr.CodeContentEmpty, "message content must not be empty")
	}
	if len(trimmed) > types.MessageContentMaxLen {
		return domain.Message{}, apperr.New(apperr.CodeContentTooLong, "message content exceeds the maximum length")
	}

	now := time.Now().UTC()
	msg := domain.Message{
		ID:        types.NewMessageID(),
		AuthorID:  in.AuthorID,
		Target:    target,
		Content:   trimmed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.repos.Messages.Insert(ctx, msg); err != nil {
		return domain.Message{}, apperr.Internal()
	}

	e.dispatcher.Dispatch(ctx, events.Event{
		ID:              types.NewEventID(),
		Kind:            events.KindMessageReceived,
		Timestamp:       now,
		Target:          e.deliveryTarget(in.AuthorID, target),
		MessageReceived: &events.MessageReceived{Message: msg},
	})
	return msg, nil
}

// GetMessagesInput is the get_messages{target,pagination} command.
type GetMessagesInput struct {
	CallerID types.UserID
	Target   types.MessageTarget
	Page     types.Pagination
}

// GetMessages returns messages addressed to target, newest first.
func (e *Engine) GetMessages(ctx context.Context, in GetMessagesInput) ([]domain.Message, error) {
	if _, err := e.authorizeMessageTarget(ctx, in.Target, in.CallerID); err != nil {
		return nil, err
	}
	msgs, err := e.repos.Messages.ListByTarget(ctx, in.CallerID, in.Target, in.Page)
	if err != nil {
		return nil, apperr.Internal()
	}
	return msgs, nil
}

// EditMessage replaces a message's content. Author-only.
func (e *Engine) EditMessage(ctx context.Context, id types.MessageID, callerID types.UserID, content string) (domain.Message, error) {
	msg, err := e.repos.Messages.Get(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return domain.Message{}, apperr.New(apperr.CodeMessageNotFound, "message not found")
		}
		return domain.Message{}, apperr.Internal()
	}
	if msg.Deleted {
		return domain.Message{}, apperr.New(apperr.CodeMessageDeleted, "message has been deleted")
	}
	if msg.AuthorID != callerID {
		return domain.Message{}, apperr.New(apperr.CodeNotMessageAuthor, "only the author may edit this message")
	}

	trimmed := types.MessageContent(trimTrailing(content))
	if len(trimmed) < types.MessageContentMinLen {
		return domain.Message{}, apperr.New(apperr.CodeContentEmpty, "message content must not be empty")
	}
	if len(trimmed) > types.MessageContentMaxLen {
		return domain.Message{}, apperr.New(apperr.CodeContentTooLong, "message content exceeds the maximum length")
	}

	updated, err := e.repos.Messages.UpdateContent(ctx, id, trimmed)
	if err != nil {
		return domain.Message{}, apperr.Internal()
	}

	e.dispatcher.Dispatch(ctx, events.Event{
		ID:        types.NewEventID(),
		Kind:      events.KindMessageEdited,
		Timestamp: time.Now().UTC(),
		Target:    e.deliveryTarget(updated.AuthorID, updated.Target),
		MessageEdited: &events.MessageEdited{
			ID:         updated.ID,
			NewContent: updated.Content,
			UpdatedAt:  updated.UpdatedAt,
		},
	})
	return updated, nil
}

// DeleteMessage removes a message. Allowed for its author, or for a
// moderator/owner of the room it was sent to.
func (e *Engine) DeleteMessage(ctx context.Context, id types.MessageID, callerID types.UserID) error {
	msg, err := e.repos.Messages.Get(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return apperr.New(apperr.CodeMessageNotFound, "message not found")
		}
		return apperr.Internal()
	}
	if msg.Deleted {
		return apperr.New(apperr.CodeMessageDeleted, "message has already been deleted")
	}

	if msg.AuthorID != callerID {
		if !msg.Target.IsRoom() {
			return apperr.New(apperr.CodeNotMessageAuthor, "only the author may delete this message")
		}
		if err := e.requireRoomAuthority(ctx, msg.Target.RoomID, callerID); err != nil {
			return apperr.New(apperr.CodeNotMessageAuthor, "only the author or a room moderator may delete this message")
		}
	}

	if err := e.repos.Messages.Delete(ctx, id); err != nil {
		return apperr.Internal()
	}

	e.dispatcher.Dispatch(ctx, events.Event{
		ID:             types.NewEventID(),
		Kind:           events.KindMessageDeleted,
		Timestamp:      time.Now().UTC(),
		Target:         e.deliveryTarget(msg.AuthorID, msg.Target),
		MessageDeleted: &events.MessageDeleted{ID: id},
	})
	return nil
}

// authorizeMessageTarget checks the caller may address target, and returns
// it normalized (it is already in canonical form; the return value keeps
// call sites symmetric with the authorization check).
func (e *Engine) authorizeMessageTarget(ctx context.Context, target types.MessageTarget, callerID types.UserID) (types.MessageTarget, error) {
	if target.IsRoom() {
		if _, err := e.repos.Memberships.Get(ctx, target.RoomID, callerID); err != nil {
			if err == storage.ErrNotFound {
				return target, apperr.New(apperr.CodeNotRoomMember, "not a member of this room")
			}
			return target, apperr.Internal()
		}
		return target, nil
	}

	if target.PeerUserID == callerID {
		return target, apperr.New(apperr.CodePermissionDenied, "cannot direct-message yourself")
	}
	if _, err := e.getUser(ctx, target.PeerUserID); err != nil {
		return target, err
	}
	return target, nil
}

// deliveryTarget maps a message target onto the dispatcher target that
// reaches its recipients: every member of the room, or the DM pair
// (author, peer).
func (e *Engine) deliveryTarget(authorID types.UserID, target types.MessageTarget) events.Target {
	if target.IsRoom() {
		return events.EveryMemberOf(target.RoomID)
	}
	return events.DirectPair(authorID, target.PeerUserID)
}
