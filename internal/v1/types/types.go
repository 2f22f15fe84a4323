// Package types defines the shared vocabulary of the chat engine: opaque ids,
// validated newtypes, and the tagged unions used across the engine,
// dispatcher, and protocol adapters.
package types

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserID is an opaque 128-bit user identifier.
type UserID string

// RoomID is an opaque 128-bit room identifier.
type RoomID string

// MessageID is an opaque 128-bit message identifier.
type MessageID string

// SessionID is an opaque 128-bit session identifier.
type SessionID string

// InvitationID is an opaque 128-bit invitation identifier.
type InvitationID string

// EventID is an opaque 128-bit event identifier.
type EventID string

// NewUserID, NewRoomID, ... mint fresh opaque ids backed by UUIDv4.
func NewUserID() UserID             { return UserID(uuid.NewString()) }
func NewRoomID() RoomID             { return RoomID(uuid.NewString()) }
func NewMessageID() MessageID       { return MessageID(uuid.NewString()) }
func NewSessionID() SessionID       { return SessionID(uuid.NewString()) }
func NewInvitationID() InvitationID { return InvitationID(uuid.NewString()) }
func NewEventID() EventID           { return EventID(uuid.NewString()) }

// Role is a user's system-wide role.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// MembershipRole is a user's role within a specific room.
type MembershipRole string

const (
	MembershipOwner     MembershipRole = "owner"
	MembershipModerator MembershipRole = "moderator"
	MembershipMember    MembershipRole = "member"
)

// Protocol tags which adapter authenticated a session.
type Protocol string

const (
	ProtocolFramed    Protocol = "framed"
	ProtocolHTTP      Protocol = "http"
	ProtocolWebSocket Protocol = "websocket"
)

// InvitationStatus is the lifecycle state of an Invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

// Username is a validated, case-preserved username (3-32 chars, alphanumeric + _ -).
type Username string

// Fold returns the case-folded form used for uniqueness comparisons.
func (u Username) Fold() string { return strings.ToLower(string(u)) }

// Validate enforces the username shape invariant.
func (u Username) Validate() error {
	s := string(u)
	if len(s) < 3 || len(s) > 32 {
		return errors.New("username must be 3-32 characters")
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return errors.New("username may only contain alphanumerics, '_', and '-'")
		}
	}
	return nil
}

// Email is a validated, case-preserved email address.
type Email string

func (e Email) Fold() string { return strings.ToLower(string(e)) }

// Validate enforces a minimal, conservative email shape check. Full RFC 5322
// validation is out of scope; the engine only needs uniqueness and a sanity
// check that rejects obviously malformed input.
func (e Email) Validate() error {
	s := string(e)
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 || strings.ContainsAny(s, " \t\r\n") {
		return errors.New("email is not a valid address")
	}
	if strings.IndexByte(s[at+1:], '.') < 0 {
		return errors.New("email is missing a domain")
	}
	return nil
}

// RoomName is a validated, case-preserved room name (1-64 chars).
type RoomName string

func (n RoomName) Fold() string { return strings.ToLower(string(n)) }

func (n RoomName) Validate() error {
	l := len(string(n))
	if l < 1 || l > 64 {
		return errors.New("room name must be 1-64 characters")
	}
	return nil
}

// MessageContent is message text. Trimming and length rules live in the
// engine, which owns the whitespace handling for sent and edited messages.
type MessageContent string

const (
	MessageContentMinLen = 1
	MessageContentMaxLen = 4000
)

// MessageTarget is the tagged union identifying where a message is addressed:
// either a Room or a direct-message peer. Exactly one of RoomID/PeerUserID is set.
type MessageTarget struct {
	RoomID     RoomID
	PeerUserID UserID
}

func RoomTarget(id RoomID) MessageTarget     { return MessageTarget{RoomID: id} }
func DirectTarget(peer UserID) MessageTarget { return MessageTarget{PeerUserID: peer} }
func (t MessageTarget) IsRoom() bool         { return t.RoomID != "" }
func (t MessageTarget) IsDirect() bool       { return t.PeerUserID != "" }

// Cursor is an opaque pagination token: (timestamp, id).
type Cursor struct {
	Timestamp time.Time
	ID        string
}

// PageDirection controls which way a cursor walks a paginated list.
type PageDirection string

const (
	PageForward  PageDirection = "forward"
	PageBackward PageDirection = "backward"
)

// Pagination bundles a cursor and a page size limit.
type Pagination struct {
	Cursor    *Cursor
	Limit     int
	Direction PageDirection
}
