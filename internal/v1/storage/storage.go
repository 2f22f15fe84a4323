// Package storage defines the repository interfaces the engine depends on.
// Concrete backends (internal/v1/storage/memory, internal/v1/storage/postgres)
// implement these interfaces; the engine never imports a backend directly.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/types"
)

// Sentinel errors a backend returns; the engine maps these onto the
// business error taxonomy. Backends must return these exact values
// (via errors.Is) rather than backend-specific wrapped types.
var (
	ErrNotFound    = errors.New("storage: not found")
	ErrConflict    = errors.New("storage: conflict")
	ErrCASMismatch = errors.New("storage: compare-and-swap mismatch")
)

// Users is the user repository contract.
type Users interface {
	Create(ctx context.Context, u domain.User) error
	FindByID(ctx context.Context, id types.UserID) (domain.User, error)
	FindByUsernameCI(ctx context.Context, username string) (domain.User, error)
	FindByEmailCI(ctx context.Context, email string) (domain.User, error)
	Update(ctx context.Context, u domain.User) error
	TouchLastSeen(ctx context.Context, id types.UserID) error
	List(ctx context.Context, p types.Pagination) ([]domain.User, error)
}

// RoomFilter narrows List results (e.g. by privacy, owner).
type RoomFilter struct {
	OwnerID *types.UserID
	Private *bool
}

// Rooms is the room repository contract.
type Rooms interface {
	Create(ctx context.Context, r domain.Room) error
	FindByID(ctx context.Context, id types.RoomID) (domain.Room, error)
	FindByNameCI(ctx context.Context, name string) (domain.Room, error)
	Update(ctx context.Context, r domain.Room) error
	DeleteCascade(ctx context.Context, id types.RoomID) error
	List(ctx context.Context, p types.Pagination, filter RoomFilter) ([]domain.Room, error)
}

// Memberships is the room-membership repository contract.
type Memberships interface {
	Add(ctx context.Context, roomID types.RoomID, userID types.UserID, role types.MembershipRole) error
	Remove(ctx context.Context, roomID types.RoomID, userID types.UserID) error
	Get(ctx context.Context, roomID types.RoomID, userID types.UserID) (domain.RoomMembership, error)
	ListMembers(ctx context.Context, roomID types.RoomID) ([]domain.RoomMembership, error)
	ListRoomsOf(ctx context.Context, userID types.UserID) ([]domain.RoomMembership, error)
	Count(ctx context.Context, roomID types.RoomID) (int, error)
	TransferOwner(ctx context.Context, roomID types.RoomID, newOwner types.UserID) error
}

// Messages is the message repository contract.
type Messages interface {
	Insert(ctx context.Context, m domain.Message) error
	UpdateContent(ctx context.Context, id types.MessageID, content types.MessageContent) (domain.Message, error)
	Delete(ctx context.Context, id types.MessageID) error
	Get(ctx context.Context, id types.MessageID) (domain.Message, error)
	// ListByTarget returns messages newest-first by (created_at, id)
	// descending. For a direct target the thread is the unordered pair
	// {viewer, target.PeerUserID}: messages sent in either direction between
	// the two. viewer is ignored for room targets.
	ListByTarget(ctx context.Context, viewer types.UserID, target types.MessageTarget, p types.Pagination) ([]domain.Message, error)
}

// Sessions is the session repository contract.
type Sessions interface {
	Create(ctx context.Context, s domain.Session) error
	FindByIDAndToken(ctx context.Context, id types.SessionID) (domain.Session, error)
	Touch(ctx context.Context, id types.SessionID) error
	Refresh(ctx context.Context, id types.SessionID, newExpiry time.Time) error
	Delete(ctx context.Context, id types.SessionID) error
	DeleteExpired(ctx context.Context) (int, error)
	CountLiveForUser(ctx context.Context, userID types.UserID) (int, error)
}

// Invitations is the invitation repository contract.
type Invitations interface {
	Create(ctx context.Context, inv domain.Invitation) error
	FindByID(ctx context.Context, id types.InvitationID) (domain.Invitation, error)
	ListForInvitee(ctx context.Context, userID types.UserID) ([]domain.Invitation, error)
	ListForRoom(ctx context.Context, roomID types.RoomID) ([]domain.Invitation, error)
	// TransitionStatus is an atomic compare-and-set: it succeeds only when the
	// invitation's current status equals from, guaranteeing a pending ->
	// accepted/declined transition happens exactly once under concurrent
	// callers. Returns ErrCASMismatch when the current status does not match.
	TransitionStatus(ctx context.Context, id types.InvitationID, from, to types.InvitationStatus) error
}

// Repositories bundles the full storage contract capability set the engine
// is generic over.
type Repositories struct {
	Users       Users
	Rooms       Rooms
	Memberships Memberships
	Messages    Messages
	Sessions    Sessions
	Invitations Invitations
}
