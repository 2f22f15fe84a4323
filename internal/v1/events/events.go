// Package events defines the typed domain events the engine emits and the
// dispatcher fans out to live sessions.
package events

import (
	"time"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/types"
)

// Kind tags which payload variant an Event carries.
type Kind string

const (
	KindMessageReceived    Kind = "message_received"
	KindMessageEdited      Kind = "message_edited"
	KindMessageDeleted     Kind = "message_deleted"
	KindUserJoinedRoom     Kind = "user_joined_room"
	KindUserLeftRoom       Kind = "user_left_room"
	KindRoomUpdated        Kind = "room_updated"
	KindRoomDeleted        Kind = "room_deleted"
	KindMemberRoleChanged  Kind = "member_role_changed"
	KindUserOnline         Kind = "user_online"
	KindUserOffline        Kind = "user_offline"
	KindUserTyping         Kind = "user_typing"
	KindInvitationReceived Kind = "invitation_received"
	KindServerNotice       Kind = "server_notice"
)

// Lossy reports whether an event may be silently dropped under backpressure.
func (k Kind) Lossy() bool {
	switch k {
	case KindUserOnline, KindUserOffline, KindUserTyping:
		return true
	default:
		return false
	}
}

// Event is the envelope every variant is wrapped in: an id, a timestamp, and
// exactly one populated payload selected by Kind.
type Event struct {
	ID        types.EventID
	Kind      Kind
	Timestamp time.Time
	Target    Target

	MessageReceived    *MessageReceived
	MessageEdited      *MessageEdited
	MessageDeleted     *MessageDeleted
	UserJoinedRoom     *UserJoinedRoom
	UserLeftRoom       *UserLeftRoom
	RoomUpdated        *RoomUpdated
	RoomDeleted        *RoomDeleted
	MemberRoleChanged  *MemberRoleChanged
	UserOnline         *UserOnline
	UserOffline        *UserOffline
	UserTyping         *UserTyping
	InvitationReceived *InvitationReceived
	ServerNotice       *ServerNotice
}

// MessageReceived payload.
type MessageReceived struct {
	Message domain.Message
}

// MessageEdited payload.
type MessageEdited struct {
	ID         types.MessageID
	NewContent types.MessageContent
	UpdatedAt  time.Time
}

// MessageDeleted payload.
type MessageDeleted struct {
	ID types.MessageID
}

// UserJoinedRoom payload.
type UserJoinedRoom struct {
	RoomID types.RoomID
	User   domain.User
}

// UserLeftRoom payload.
type UserLeftRoom struct {
	RoomID types.RoomID
	UserID types.UserID
}

// RoomUpdated payload.
type RoomUpdated struct {
	Room domain.Room
}

// RoomDeleted payload.
type RoomDeleted struct {
	RoomID types.RoomID
}

// MemberRoleChanged payload.
type MemberRoleChanged struct {
	RoomID  types.RoomID
	UserID  types.UserID
	NewRole types.MembershipRole
}

// UserOnline payload (transient, lossy).
type UserOnline struct {
	UserID types.UserID
}

// UserOffline payload (transient, lossy).
type UserOffline struct {
	UserID types.UserID
}

// UserTyping payload (transient, lossy).
type UserTyping struct {
	Target types.MessageTarget
	UserID types.UserID
}

// InvitationReceived payload.
type InvitationReceived struct {
	Invitation domain.Invitation
}

// ServerNotice payload (admin broadcast).
type ServerNotice struct {
	Text string
}

// TargetKind tags which Target variant is populated.
type TargetKind string

const (
	TargetEveryMemberOf TargetKind = "every_member_of"
	TargetSpecificUser  TargetKind = "specific_user"
	TargetDirectPair    TargetKind = "direct_pair"
	TargetAllLive       TargetKind = "all_live"
)

// Target identifies which live sessions an event must reach.
type Target struct {
	Kind   TargetKind
	RoomID types.RoomID
	UserID types.UserID
	PeerA  types.UserID
	PeerB  types.UserID
}

func EveryMemberOf(room types.RoomID) Target {
	return Target{Kind: TargetEveryMemberOf, RoomID: room}
}

func SpecificUser(user types.UserID) Target {
	return Target{Kind: TargetSpecificUser, UserID: user}
}

func DirectPair(a, b types.UserID) Target {
	return Target{Kind: TargetDirectPair, PeerA: a, PeerB: b}
}

func AllLive() Target {
	return Target{Kind: TargetAllLive}
}
