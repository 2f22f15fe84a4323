package engine

import (
	"context"
	"strings"
	"time"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/auth"
	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

// RegisterInput is the register{username,email,password} command.
type RegisterInput struct {
	Username  types.Username
	Email     types.Email
	Password  string
	Protocol  types.Protocol
	IP        string
	UserAgent string
}

// AuthResult is the (user, session, token) result shared by register/login/refresh.
type AuthResult struct {
	User    domain.User
	Session domain.Session
	Token   string
}

const minPasswordLen = 8

func validatePasswordStrength(password string) error {
	if len(password) < minPasswordLen {
		return apperr.New(apperr.CodePasswordTooWeak, "password must be at least 8 characters")
	}
	return nil
}

// Register creates a new user and an initial session for them.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	if err := in.Username.Validate(); err != nil {
		return AuthResult{}, apperr.New(apperr.CodeUsernameInvalid, err.Error())
	}
	if err := in.Email.Validate(); err != nil {
		return AuthResult{}, apperr.New(apperr.CodeEmailInvalid, err.Error())
	}
	if err := validatePasswordStrength(in.Password); err != nil {
		return AuthResult{}, err
	}

	if _, err := e.repos.Users.FindByUsernameCI(ctx, in.Username.Fold()); err == nil {
		return AuthResult{}, apperr.New(apperr.CodeUsernameTaken, "username already taken")
	} else if err != storage.ErrNotFound {
		return AuthResult{}, apperr.Internal()
	}
	if _, err := e.repos.Users.FindByEmailCI(ctx, in.Email.Fold()); err == nil {
		return AuthResult{}, apperr.New(apperr.CodeEmailTaken, "email already taken")
	} else if err != storage.ErrNotFound {
		return AuthResult{}, apperr.Internal()
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return AuthResult{}, apperr.Internal()
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           types.NewUserID(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         types.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSeen:     now,
	}
	if err := e.repos.Users.Create(ctx, user); err != nil {
		if err == storage.ErrConflict {
			return AuthResult{}, apperr.New(apperr.CodeUsernameTaken, "username or email already taken")
		}
		return AuthResult{}, apperr.Internal()
	}

	sess, err := e.sessions.Create(ctx, user.ID, in.Protocol, in.IP, in.UserAgent)
	if err != nil {
		return AuthResult{}, apperr.Internal()
	}
	token, err := e.validator.IssueToken(user.ID, sess.ID, string(user.Username), user.Role, now, sess.ExpiresAt)
	if err != nil {
		return AuthResult{}, apperr.Internal()
	}
	return AuthResult{User: user, Session: sess, Token: token}, nil
}

// LoginInput is the login{identifier,password} command. Identifier may be a
// username or an email; both are matched case-insensitively.
type LoginInput struct {
	Identifier string
	Password   string
	Protocol   types.Protocol
	IP         string
	UserAgent  string
}

// Login authenticates a user by username-or-email and issues a new session.
func (e *Engine) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	folded := strings.ToLower(in.Identifier)
	user, err := e.repos.Users.FindByUsernameCI(ctx, folded)
	if err == storage.ErrNotFound {
		user, err = e.repos.Users.FindByEmailCI(ctx, folded)
	}
	if err != nil {
		if err == storage.ErrNotFound {
			return AuthResult{}, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
		}
		return AuthResult{}, apperr.Internal()
	}

	ok, err := auth.VerifyPassword(user.PasswordHash, in.Password)
	if err != nil || !ok {
		return AuthResult{}, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
	}

	sess, err := e.sessions.Create(ctx, user.ID, in.Protocol, in.IP, in.UserAgent)
	if err != nil {
		return AuthResult{}, apperr.Internal()
	}
	now := time.Now().UTC()
	token, err := e.validator.IssueToken(user.ID, sess.ID, string(user.Username), user.Role, now, sess.ExpiresAt)
	if err != nil {
		return AuthResult{}, apperr.Internal()
	}
	_ = e.repos.Users.TouchLastSeen(ctx, user.ID)
	return AuthResult{User: user, Session: sess, Token: token}, nil
}

// RefreshResult is the (session, token) result of refresh{session}.
type RefreshResult struct {
	Session domain.Session
	Token   string
}

// Refresh extends an existing session's expiry and issues a new token.
func (e *Engine) Refresh(ctx context.Context, sessionID types.SessionID) (RefreshResult, error) {
	sess, err := e.sessions.Refresh(ctx, sessionID)
	if err != nil {
		return RefreshResult{}, err
	}
	user, err := e.repos.Users.FindByID(ctx, sess.UserID)
	if err != nil {
		return RefreshResult{}, apperr.Internal()
	}
	token, err := e.validator.IssueToken(user.ID, sess.ID, string(user.Username), user.Role, time.Now().UTC(), sess.ExpiresAt)
	if err != nil {
		return RefreshResult{}, apperr.Internal()
	}
	return RefreshResult{Session: sess, Token: token}, nil
}

// Logout destroys a session. If it was the user's last live session, the
// caller (adapter/dispatcher integration) is responsible for observing the
// dispatcher's online->offline transition and the engine leaves that to
// Dispatcher.Unregister, which the adapter calls on disconnect.
func (e *Engine) Logout(ctx context.Context, sessionID types.SessionID) error {
	return e.sessions.Logout(ctx, sessionID)
}

// ChangePasswordInput is the change_password{session, old, new} command.
type ChangePasswordInput struct {
	UserID      types.UserID
	OldPassword string
	NewPassword string
}

// ChangePassword verifies the old password and replaces it with a new hash.
func (e *Engine) ChangePassword(ctx context.Context, in ChangePasswordInput) error {
	user, err := e.repos.Users.FindByID(ctx, in.UserID)
	if err != nil {
		return apperr.Internal()
	}
	ok, err := auth.VerifyPassword(user.PasswordHash, in.OldPassword)
	if err != nil || !ok {
		return apperr.New(apperr.CodeIncorrectPassword, "incorrect current password")
	}
	if err := validatePasswordStrength(in.NewPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(in.NewPassword)
	if err != nil {
		return apperr.Internal()
	}
	user.PasswordHash = hash
	user.UpdatedAt = time.Now().UTC()
	if err := e.repos.Users.Update(ctx, user); err != nil {
		return apperr.Internal()
	}
	return nil
}
