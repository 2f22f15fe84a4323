// Package wire is the JSON message shape shared by the framed binary
// adapter and the WebSocket adapter: both carry the same typed
// command/response/event envelopes, differing only in how the bytes reach
// the wire (length-prefixed + AEAD for framed, raw text frames for
// WebSocket). Keeping the envelope here means neither adapter re-derives
// the wire shape independently.
package wire

import (
	"encoding/json"
	"time"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/events"
	"github.com/lairchat/server/internal/v1/types"
)

// Envelope is every message exchanged after the handshake: a command from
// the client, a command result, or an asynchronous event, all tagged by
// Type and carrying an opaque Data payload.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ErrorFrame is the error{} message shape.
type ErrorFrame struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// NewErrorFrame builds an error{} envelope from an engine/apperr failure.
func NewErrorFrame(requestID string, err error) ErrorFrame {
	if appErr, ok := apperr.As(err); ok {
		return ErrorFrame{Type: "error", Code: string(appErr.Code), Message: appErr.Message, RequestID: requestID, RetryAfter: appErr.RetryAfter}
	}
	return ErrorFrame{Type: "error", Code: string(apperr.CodeInternal), Message: "an internal error occurred", RequestID: requestID}
}

// Result builds a successful command-result envelope, marshaling payload as
// Data. Type is conventionally "<command>_result" for commands, and
// "auth_success" for register/login/refresh/authenticate.
func Result(msgType, requestID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, RequestID: requestID, Data: data}, nil
}

// EncodeEvent converts a dispatched domain event into the wire envelope an
// adapter writes to a live session.
func EncodeEvent(ev events.Event) (Envelope, error) {
	var payload any
	switch ev.Kind {
	case events.KindMessageReceived:
		payload = messageJSON(ev.MessageReceived.Message)
	case events.KindMessageEdited:
		payload = struct {
			ID         string    `json:"id"`
			NewContent string    `json:"new_content"`
			UpdatedAt  time.Time `json:"updated_at"`
		}{string(ev.MessageEdited.ID), string(ev.MessageEdited.NewContent), ev.MessageEdited.UpdatedAt}
	case events.KindMessageDeleted:
		payload = struct {
			ID string `json:"id"`
		}{string(ev.MessageDeleted.ID)}
	case events.KindUserJoinedRoom:
		payload = struct {
			RoomID string   `json:"room_id"`
			User   userJSON `json:"user"`
		}{string(ev.UserJoinedRoom.RoomID), userJSONOf(ev.UserJoinedRoom.User)}
	case events.KindUserLeftRoom:
		payload = struct {
			RoomID string `json:"room_id"`
			UserID string `json:"user_id"`
		}{string(ev.UserLeftRoom.RoomID), string(ev.UserLeftRoom.UserID)}
	case events.KindRoomUpdated:
		payload = roomJSON(ev.RoomUpdated.Room)
	case events.KindRoomDeleted:
		payload = struct {
			RoomID string `json:"room_id"`
		}{string(ev.RoomDeleted.RoomID)}
	case events.KindMemberRoleChanged:
		payload = struct {
			RoomID  string `json:"room_id"`
			UserID  string `json:"user_id"`
			NewRole string `json:"new_role"`
		}{string(ev.MemberRoleChanged.RoomID), string(ev.MemberRoleChanged.UserID), string(ev.MemberRoleChanged.NewRole)}
	case events.KindUserOnline:
		payload = struct {
			UserID string `json:"user_id"`
		}{string(ev.UserOnline.UserID)}
	case events.KindUserOffline:
		payload = struct {
			UserID string `json:"user_id"`
		}{string(ev.UserOffline.UserID)}
	case events.KindUserTyping:
		payload = struct {
			Target targetJSON `json:"target"`
			UserID string     `json:"user_id"`
		}{targetJSONOf(ev.UserTyping.Target), string(ev.UserTyping.UserID)}
	case events.KindInvitationReceived:
		payload = invitationJSON(ev.InvitationReceived.Invitation)
	case events.KindServerNotice:
		payload = struct {
			Text string `json:"text"`
		}{ev.ServerNotice.Text}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: string(ev.Kind), Data: data}, nil
}

type userJSON struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	LastSeen time.Time `json:"last_seen"`
}

func userJSONOf(u domain.User) userJSON {
	return userJSON{ID: string(u.ID), Username: string(u.Username), Role: string(u.Role), LastSeen: u.LastSeen}
}

type targetJSON struct {
	Room string `json:"room,omitempty"`
	User string `json:"user,omitempty"`
}

func targetJSONOf(t types.MessageTarget) targetJSON {
	if t.IsRoom() {
		return targetJSON{Room: string(t.RoomID)}
	}
	return targetJSON{User: string(t.PeerUserID)}
}

func messageJSON(m domain.Message) map[string]any {
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

func roomJSON(r domain.Room) map[string]any {
	out := map[string]any{
		"id":          string(r.ID),
		"name":        string(r.Name),
		"description": r.Description,
		"owner_id":    string(r.OwnerID),
		"private":     r.Private,
		"created_at":  r.CreatedAt,
		"updated_at":  r.UpdatedAt,
	}
	if r.MaxMembers != nil {
		out["max_members"] = *r.MaxMembers
	}
	return out
}

func invitationJSON(i domain.Invitation) map[string]any {
	return map[string]any{
		"id":         string(i.ID),
		"room_id":    string(i.RoomID),
		"inviter_id": string(i.InviterID),
		"invitee_id": string(i.InviteeID),
		"status":     string(i.Status),
		"message":    i.Message,
		"created_at": i.CreatedAt,
		"expires_at": i.ExpiresAt,
	}
}
