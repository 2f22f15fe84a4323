// Package command is the generic, typed-envelope command router shared by
// the framed binary adapter (internal/v1/transport/framed) and the
// WebSocket adapter (internal/v1/transport/httpapi): both exchange the same
// {type, request_id, data} JSON envelopes and differ only in
// how those bytes travel the wire. Keeping the command table here means
// neither adapter re-implements command parsing or authorization binding.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/metrics"
	"github.com/lairchat/server/internal/v1/sessionmgr"
	"github.com/lairchat/server/internal/v1/transport/wire"
	"github.com/lairchat/server/internal/v1/types"
)

// AnonymousCommands are permitted before a connection has authenticated.
var AnonymousCommands = map[string]bool{
	"register":     true,
	"login":        true,
	"refresh":      true,
	"authenticate": true,
}

// Session is the authentication state a connection carries: it starts nil
// and is populated by register/login/authenticate.
// The adapter never reads a user id out of a command payload for
// authorization purposes: only this struct,
// populated by the router itself, ever becomes an engine.Caller.
type Session struct {
	UserID    types.UserID
	SessionID types.SessionID
	Role      types.Role
}

func (s *Session) caller() engine.Caller {
	return engine.Caller{UserID: string(s.UserID), SessionID: string(s.SessionID), Role: string(s.Role)}
}

// Router dispatches command envelopes against the Engine, threading the
// caller's session through to authenticated commands.
type Router struct {
	Engine   *engine.Engine
	Sessions *sessionmgr.Manager
	Protocol types.Protocol
}

// Dispatch executes one command envelope. The returned Session is the
// connection's possibly-updated auth state (set on a successful
// register/login/authenticate); the adapter must retain it across
// calls for the lifetime of the connection.
func (r *Router) Dispatch(ctx context.Context, sess *Session, env wire.Envelope, ip, userAgent string) (out wire.Envelope, next *Session, err error) {
	start := time.Now()
	defer func() {
		metrics.CommandDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
		if appErr, ok := apperr.As(err); ok {
			metrics.CommandErrors.WithLabelValues(env.Type, string(appErr.Code)).Inc()
		}
	}()

	if sess == nil {
		sess = &Session{}
	}
	if sess.UserID == "" && !AnonymousCommands[env.Type] {
		return wire.Envelope{}, sess, apperr.New(apperr.CodeSessionNotFound, "not authenticated")
	}

	switch env.Type {
	case "register":
		return r.register(ctx, sess, env, ip, userAgent)
	case "login":
		return r.login(ctx, sess, env, ip, userAgent)
	case "authenticate":
		return r.authenticate(ctx, sess, env)
	case "refresh":
		return r.refresh(ctx, sess, env)
	case "logout":
		return r.logout(ctx, sess, env)
	case "change_password":
		return r.changePassword(ctx, sess, env)
	case "get_me":
		return r.getMe(ctx, sess, env)
	case "get_user":
		return r.getUser(ctx, sess, env)
	case "list_users":
		return r.listUsers(ctx, sess, env)
	case "update_profile":
		return r.updateProfile(ctx, sess, env)
	case "create_room":
		return r.createRoom(ctx, sess, env)
	case "get_room":
		return r.getRoom(ctx, sess, env)
	case "list_rooms":
		return r.listRooms(ctx, sess, env)
	case "update_room":
		return r.updateRoom(ctx, sess, env)
	case "delete_room":
		return r.deleteRoom(ctx, sess, env)
	case "join_room":
		return r.joinRoom(ctx, sess, env)
	case "leave_room":
		return r.leaveRoom(ctx, sess, env)
	case "transfer_ownership":
		return r.transferOwnership(ctx, sess, env)
	case "list_members":
		return r.listMembers(ctx, sess, env)
	case "send_message":
		return r.sendMessage(ctx, sess, env)
	case "get_messages":
		return r.getMessages(ctx, sess, env)
	case "edit_message":
		return r.editMessage(ctx, sess, env)
	case "delete_message":
		return r.deleteMessage(ctx, sess, env)
	case "create_invitation":
		return r.createInvitation(ctx, sess, env)
	case "list_invitations":
		return r.listInvitations(ctx, sess, env)
	case "accept_invitation":
		return r.acceptInvitation(ctx, sess, env)
	case "decline_invitation":
		return r.declineInvitation(ctx, sess, env)
	default:
		return wire.Envelope{}, sess, apperr.New(apperr.CodeInternal, fmt.Sprintf("unknown command %q", env.Type))
	}
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, apperr.New(apperr.CodeContentEmpty, "malformed command payload")
	}
	return v, nil
}

func authResultPayload(res engine.AuthResult) map[string]any {
	return map[string]any{
		"user": map[string]any{
			"id":       string(res.User.ID),
			"username": string(res.User.Username),
			"email":    string(res.User.Email),
			"role":     string(res.User.Role),
		},
		"session": map[string]any{
			"id":         string(res.Session.ID),
			"expires_at": res.Session.ExpiresAt,
		},
		"token": res.Token,
	}
}
