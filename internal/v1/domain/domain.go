// Package domain holds the entity structs the engine reads and writes
// through the storage contract. Entities carry no behavior beyond what the
// shape of the data implies; validation of input newtypes lives in package
// types, business rules live in the engine.
package domain

import (
	"time"

	"github.com/lairchat/server/internal/v1/types"
)

// User is a registered account.
type User struct {
	ID           types.UserID
	Username     types.Username
	Email        types.Email
	PasswordHash string
	Role         types.Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSeen     time.Time
}

// Room is a named space messages and memberships belong to.
type Room struct {
	ID          types.RoomID
	Name        types.RoomName
	Description string
	OwnerID     types.UserID
	Private     bool
	MaxMembers  *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoomMembership is the User x Room relation.
type RoomMembership struct {
	RoomID   types.RoomID
	UserID   types.UserID
	Role     types.MembershipRole
	JoinedAt time.Time
}

// Message is a sent chat message, addressed to a room or a DM peer.
type Message struct {
	ID        types.MessageID
	AuthorID  types.UserID
	Target    types.MessageTarget
	Content   types.MessageContent
	Edited    bool
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is a server-side record of an authenticated connection's authority.
type Session struct {
	ID           types.SessionID
	UserID       types.UserID
	Protocol     types.Protocol
	IP           string
	UserAgent    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActiveAt time.Time
}

// Expired reports whether the session is no longer valid as of now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Invitation is a pending-or-resolved invite to join a room.
type Invitation struct {
	ID          types.InvitationID
	RoomID      types.RoomID
	InviterID   types.UserID
	InviteeID   types.UserID
	Status      types.InvitationStatus
	Message     string
	CreatedAt   time.Time
	RespondedAt *time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the invitation can no longer be accepted.
func (i Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
