// Package engine is the Command Engine: it validates inputs,
// enforces authorization and business invariants, coordinates repositories,
// and emits events to the dispatcher. It is the only thing in the server
// that is permitted to mutate storage.
package engine

import (
	"context"
	"time"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/auth"
	"github.com/lairchat/server/internal/v1/dispatcher"
	"github.com/lairchat/server/internal/v1/sessionmgr"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

// Caller is the authenticated-caller context an adapter extracts from a
// session/token and passes with every authenticated command.
type Caller struct {
	UserID    string
	SessionID string
	Role      string
}

// Engine mediates every mutation of users, rooms, memberships, messages,
// sessions, and invitations. It is a cheaply-shareable handle: repositories
// behind it provide their own interior synchronization, so a single Engine
// value is safe to use concurrently from many adapter connections.
type Engine struct {
	repos      storage.Repositories
	validator  *auth.Validator
	sessions   *sessionmgr.Manager
	dispatcher *dispatcher.Dispatcher
	tokenTTL   time.Duration
}

// New wires an Engine from its dependencies.
func New(repos storage.Repositories, validator *auth.Validator, sessions *sessionmgr.Manager, disp *dispatcher.Dispatcher) *Engine {
	return &Engine{
		repos:      repos,
		validator:  validator,
		sessions:   sessions,
		dispatcher: disp,
		tokenTTL:   sessionmgr.DefaultTTL,
	}
}

// Dispatcher exposes the Engine's dispatcher so adapters can register and
// unregister live sessions (the engine mutates storage and emits events
// through it, but subscription lifecycle belongs to the adapter).
func (e *Engine) Dispatcher() *dispatcher.Dispatcher { return e.dispatcher }

// Authenticate validates a bearer token against both the token signature
// and the session it names, returning the Caller context every
// adapter binds an authenticated connection to.
func (e *Engine) Authenticate(ctx context.Context, token string) (Caller, error) {
	claims, err := e.validator.ValidateToken(token)
	if err != nil {
		return Caller{}, apperr.New(apperr.CodeSessionExpired, "session token is invalid or expired")
	}
	sessionID := types.SessionID(claims.SessionID)
	sess, err := e.sessions.Validate(ctx, sessionID)
	if err != nil {
		return Caller{}, err
	}
	_ = e.sessions.Touch(ctx, sess.ID)
	return Caller{UserID: string(sess.UserID), SessionID: string(sess.ID), Role: claims.Role}, nil
}
