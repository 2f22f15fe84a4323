package command

import (
	"context"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/transport/wire"
	"github.com/lairchat/server/internal/v1/types"
)

type registerPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *Router) register(ctx context.Context, sess *Session, env wire.Envelope, ip, userAgent string) (wire.Envelope, *Session, error) {
	in, err := decode[registerPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	res, err := r.Engine.Register(ctx, engine.RegisterInput{
		Username: types.Username(in.Username), Email: types.Email(in.Email), Password: in.Password,
		Protocol: r.Protocol, IP: ip, UserAgent: userAgent,
	})
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("auth_success", env.RequestID, authResultPayload(res))
	return out, &Session{UserID: res.User.ID, SessionID: res.Session.ID, Role: res.User.Role}, err
}

type loginPayload struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (r *Router) login(ctx context.Context, sess *Session, env wire.Envelope, ip, userAgent string) (wire.Envelope, *Session, error) {
	in, err := decode[loginPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	res, err := r.Engine.Login(ctx, engine.LoginInput{
		Identifier: in.Identifier, Password: in.Password,
		Protocol: r.Protocol, IP: ip, UserAgent: userAgent,
	})
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("auth_success", env.RequestID, authResultPayload(res))
	return out, &Session{UserID: res.User.ID, SessionID: res.Session.ID, Role: res.User.Role}, err
}

type authenticatePayload struct {
	Token string `json:"token"`
}

// authenticate is the framed/WS-only bootstrap command: it validates a
// token obtained out-of-band (e.g. from the HTTP auth routes) and binds the
// connection to the session it names, without minting a new session.
func (r *Router) authenticate(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[authenticatePayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	caller, err := r.Engine.Authenticate(ctx, in.Token)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	newSess := &Session{UserID: types.UserID(caller.UserID), SessionID: types.SessionID(caller.SessionID), Role: types.Role(caller.Role)}
	user, err := r.Engine.GetUser(ctx, newSess.UserID)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("auth_success", env.RequestID, map[string]any{
		"user": map[string]any{"id": string(user.ID), "username": string(user.Username), "role": string(user.Role)},
	})
	return out, newSess, err
}

func (r *Router) refresh(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	if sess.SessionID == "" {
		return wire.Envelope{}, sess, apperr.New(apperr.CodeSessionNotFound, "no active session to refresh")
	}
	res, err := r.Engine.Refresh(ctx, sess.SessionID)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("refresh_result", env.RequestID, map[string]any{
		"session": map[string]any{"id": string(res.Session.ID), "expires_at": res.Session.ExpiresAt},
		"token":   res.Token,
	})
	return out, sess, err
}

func (r *Router) logout(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	if err := r.Engine.Logout(ctx, sess.SessionID); err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("logout_result", env.RequestID, map[string]any{"ok": true})
	return out, &Session{}, err
}

type changePasswordPayload struct {
	Old string `json:"old"`
	New string `json:"new"`
}

func (r *Router) changePassword(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[changePasswordPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	if err := r.Engine.ChangePassword(ctx, engine.ChangePasswordInput{UserID: sess.UserID, OldPassword: in.Old, NewPassword: in.New}); err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("change_password_result", env.RequestID, map[string]any{"ok": true})
	return out, sess, err
}
