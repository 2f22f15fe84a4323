package command

import (
	"context"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/transport/wire"
	"github.com/lairchat/server/internal/v1/types"
)

func userPayload(u domain.User) map[string]any {
	return map[string]any{
		"id":        string(u.ID),
		"username":  string(u.Username),
		"email":     string(u.Email),
		"role":      string(u.Role),
		"last_seen": u.LastSeen,
	}
}

func (r *Router) getMe(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	user, err := r.Engine.GetMe(ctx, sess.UserID)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("user", env.RequestID, userPayload(user))
	return out, sess, err
}

type getUserPayload struct {
	ID string `json:"id"`
}

func (r *Router) getUser(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[getUserPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	user, err := r.Engine.GetUser(ctx, types.UserID(in.ID))
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("user", env.RequestID, userPayload(user))
	return out, sess, err
}

func (r *Router) listUsers(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[paginationPayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	users, err := r.Engine.ListUsers(ctx, in.toPagination())
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	list := make([]map[string]any, len(users))
	for i, u := range users {
		list[i] = userPayload(u)
	}
	out, err := wire.Result("users", env.RequestID, map[string]any{"users": list})
	return out, sess, err
}

type updateProfilePayload struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
}

func (r *Router) updateProfile(ctx context.Context, sess *Session, env wire.Envelope) (wire.Envelope, *Session, error) {
	in, err := decode[updateProfilePayload](env.Data)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	input := engine.UpdateProfileInput{UserID: sess.UserID}
	if in.Username != nil {
		name := types.Username(*in.Username)
		input.NewUsername = &name
	}
	if in.Email != nil {
		email := types.Email(*in.Email)
		input.NewEmail = &email
	}
	user, err := r.Engine.UpdateProfile(ctx, input)
	if err != nil {
		return wire.Envelope{}, sess, err
	}
	out, err := wire.Result("user", env.RequestID, userPayload(user))
	return out, sess, err
}
