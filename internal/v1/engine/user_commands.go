package engine

import (
	"context"
	"time"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/events"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

// GetMe returns the caller's own user record.
func (e *Engine) GetMe(ctx context.Context, callerID types.UserID) (domain.User, error) {
	return e.getUser(ctx, callerID)
}

// GetUser returns any user's public record by id.
func (e *Engine) GetUser(ctx context.Context, id types.UserID) (domain.User, error) {
	return e.getUser(ctx, id)
}

func (e *Engine) getUser(ctx context.Context, id types.UserID) (domain.User, error) {
	u, err := e.repos.Users.FindByID(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return domain.User{}, apperr.New(apperr.CodeUserNotFound, "user not found")
		}
		return domain.User{}, apperr.Internal()
	}
	return u, nil
}

// ListUsers is a read-only paginated listing.
func (e *Engine) ListUsers(ctx context.Context, p types.Pagination) ([]domain.User, error) {
	users, err := e.repos.Users.List(ctx, p)
	if err != nil {
		return nil, apperr.Internal()
	}
	return users, nil
}

// UpdateProfileInput carries the mutable profile fields update_profile
// accepts.
type UpdateProfileInput struct {
	UserID      types.UserID
	NewUsername *types.Username
	NewEmail    *types.Email
}

// UpdateProfile applies a profile patch and notifies every room the user
// belongs to via ServerNotice (see DESIGN.md for why this reuses the
// existing event taxonomy instead of adding a UserUpdated variant).
func (e *Engine) UpdateProfile(ctx context.Context, in UpdateProfileInput) (domain.User, error) {
	user, err := e.repos.Users.FindByID(ctx, in.UserID)
	if err != nil {
		if err == storage.ErrNotFound {
			return domain.User{}, apperr.New(apperr.CodeUserNotFound, "user not found")
		}
		return domain.User{}, apperr.Internal()
	}

	if in.NewUsername != nil {
		if err := in.NewUsername.Validate(); err != nil {
			return domain.User{}, apperr.New(apperr.CodeUsernameInvalid, err.Error())
		}
		user.Username = *in.NewUsername
	}
	if in.NewEmail != nil {
		if err := in.NewEmail.Validate(); err != nil {
			return domain.User{}, apperr.New(apperr.CodeEmailInvalid, err.Error())
		}
		user.Email = *in.NewEmail
	}
	user.UpdatedAt = time.Now().UTC()

	if err := e.repos.Users.Update(ctx, user); err != nil {
		if err == storage.ErrConflict {
			return domain.User{}, apperr.New(apperr.CodeUsernameTaken, "username or email already taken")
		}
		return domain.User{}, apperr.Internal()
	}

	memberships, err := e.repos.Memberships.ListRoomsOf(ctx, user.ID)
	if err == nil {
		for _, m := range memberships {
			e.dispatcher.Dispatch(ctx, events.Event{
				ID:        types.NewEventID(),
				Kind:      events.KindServerNotice,
				Timestamp: time.Now().UTC(),
				Target:    events.EveryMemberOf(m.RoomID),
				ServerNotice: &events.ServerNotice{
					Text: string(user.Username) + " updated their profile",
				},
			})
		}
	}
	return user, nil
}
