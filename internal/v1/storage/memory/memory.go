// Package memory is the in-memory, concurrency-safe reference
// implementation of the storage contract (internal/v1/storage). It is the
// primary backend used by tests and by the reference deployment; the
// optional Postgres backend (internal/v1/storage/postgres) implements the
// same interfaces for production durability.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

// Store bundles in-memory repositories behind a single lock. A single lock
// is simple and sufficient at this scale; it is never held across a
// repository call that crosses package boundaries (no callbacks), so it
// cannot deadlock against engine-level locking.
type Store struct {
	mu sync.RWMutex

	users       map[types.UserID]domain.User
	usersByName map[string]types.UserID
	usersByMail map[string]types.UserID

	rooms       map[types.RoomID]domain.Room
	roomsByName map[string]types.RoomID

	memberships map[types.RoomID]map[types.UserID]domain.RoomMembership

	messages map[types.MessageID]domain.Message

	sessions map[types.SessionID]domain.Session

	invitations map[types.InvitationID]domain.Invitation
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[types.UserID]domain.User),
		usersByName: make(map[string]types.UserID),
		usersByMail: make(map[string]types.UserID),
		rooms:       make(map[types.RoomID]domain.Room),
		roomsByName: make(map[string]types.RoomID),
		memberships: make(map[types.RoomID]map[types.UserID]domain.RoomMembership),
		messages:    make(map[types.MessageID]domain.Message),
		sessions:    make(map[types.SessionID]domain.Session),
		invitations: make(map[types.InvitationID]domain.Invitation),
	}
}

// Repositories exposes this Store as the full storage.Repositories
// capability set.
func (s *Store) Repositories() storage.Repositories {
	return storage.Repositories{
		Users:       (*usersRepo)(s),
		Rooms:       (*roomsRepo)(s),
		Memberships: (*membershipsRepo)(s),
		Messages:    (*messagesRepo)(s),
		Sessions:    (*sessionsRepo)(s),
		Invitations: (*invitationsRepo)(s),
	}
}

func foldUsername(u types.Username) string { return u.Fold() }
func foldEmail(e types.Email) string       { return e.Fold() }
func foldRoomName(n types.RoomName) string { return n.Fold() }

func paginate[T any](items []T, p types.Pagination, idOf func(T) string, timeOf func(T) time.Time) []T {
	if p.Cursor != nil {
		filtered := items[:0:0]
		for _, it := range items {
			t, id := timeOf(it), idOf(it)
			switch p.Direction {
			case types.PageBackward:
				if t.Before(p.Cursor.Timestamp) || (t.Equal(p.Cursor.Timestamp) && id < p.Cursor.ID) {
					filtered = append(filtered, it)
				}
			default:
				if t.After(p.Cursor.Timestamp) || (t.Equal(p.Cursor.Timestamp) && id > p.Cursor.ID) {
					filtered = append(filtered, it)
				}
			}
		}
		items = filtered
	}
	if p.Limit > 0 && len(items) > p.Limit {
		items = items[:p.Limit]
	}
	return items
}

type usersRepo Store

func (r *usersRepo) Create(ctx context.Context, u domain.User) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, fe := foldUsername(u.Username), foldEmail(u.Email)
	if _, ok := s.usersByName[fn]; ok {
		return storage.ErrConflict
	}
	if _, ok := s.usersByMail[fe]; ok {
		return storage.ErrConflict
	}
	s.users[u.ID] = u
	s.usersByName[fn] = u.ID
	s.usersByMail[fe] = u.ID
	return nil
}

func (r *usersRepo) FindByID(ctx context.Context, id types.UserID) (domain.User, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (r *usersRepo) FindByUsernameCI(ctx context.Context, username string) (domain.User, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByName[strings.ToLower(username)]
	if !ok {
		return domain.User{}, storage.ErrNotFound
	}
	return s.users[id], nil
}

func (r *usersRepo) FindByEmailCI(ctx context.Context, email string) (domain.User, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByMail[strings.ToLower(email)]
	if !ok {
		return domain.User{}, storage.ErrNotFound
	}
	return s.users[id], nil
}

func (r *usersRepo) Update(ctx context.Context, u domain.User) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.users[u.ID]
	if !ok {
		return storage.ErrNotFound
	}
	oldFn, oldFe := foldUsername(old.Username), foldEmail(old.Email)
	newFn, newFe := foldUsername(u.Username), foldEmail(u.Email)
	if newFn != oldFn {
		if _, taken := s.usersByName[newFn]; taken {
			return storage.ErrConflict
		}
		delete(s.usersByName, oldFn)
		s.usersByName[newFn] = u.ID
	}
	if newFe != oldFe {
		if _, taken := s.usersByMail[newFe]; taken {
			return storage.ErrConflict
		}
		delete(s.usersByMail, oldFe)
		s.usersByMail[newFe] = u.ID
	}
	s.users[u.ID] = u
	return nil
}

func (r *usersRepo) TouchLastSeen(ctx context.Context, id types.UserID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.LastSeen = time.Now().UTC()
	s.users[id] = u
	return nil
}

func (r *usersRepo) List(ctx context.Context, p types.Pagination) ([]domain.User, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return string(out[i].ID) < string(out[j].ID)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return paginate(out, p, func(u domain.User) string { return string(u.ID) }, func(u domain.User) time.Time { return u.CreatedAt }), nil
}

type roomsRepo Store

func (r *roomsRepo) Create(ctx context.Context, rm domain.Room) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn := foldRoomName(rm.Name)
	if _, ok := s.roomsByName[fn]; ok {
		return storage.ErrConflict
	}
	s.rooms[rm.ID] = rm
	s.roomsByName[fn] = rm.ID
	s.memberships[rm.ID] = make(map[types.UserID]domain.RoomMembership)
	return nil
}

func (r *roomsRepo) FindByID(ctx context.Context, id types.RoomID) (domain.Room, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rm, ok := s.rooms[id]
	if !ok {
		return domain.Room{}, storage.ErrNotFound
	}
	return rm, nil
}

func (r *roomsRepo) FindByNameCI(ctx context.Context, name string) (domain.Room, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.roomsByName[strings.ToLower(name)]
	if !ok {
		return domain.Room{}, storage.ErrNotFound
	}
	return s.rooms[id], nil
}

func (r *roomsRepo) Update(ctx context.Context, rm domain.Room) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.rooms[rm.ID]
	if !ok {
		return storage.ErrNotFound
	}
	oldFn, newFn := foldRoomName(old.Name), foldRoomName(rm.Name)
	if newFn != oldFn {
		if _, taken := s.roomsByName[newFn]; taken {
			return storage.ErrConflict
		}
		delete(s.roomsByName, oldFn)
		s.roomsByName[newFn] = rm.ID
	}
	s.rooms[rm.ID] = rm
	return nil
}

// DeleteCascade removes the room and, in order, its invitations,
// memberships, and messages. The single in-process
// lock makes this atomic with respect to every other repository call.
func (r *roomsRepo) DeleteCascade(ctx context.Context, id types.RoomID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return storage.ErrNotFound
	}
	for invID, inv := range s.invitations {
		if inv.RoomID == id {
			delete(s.invitations, invID)
		}
	}
	delete(s.memberships, id)
	for msgID, m := range s.messages {
		if m.Target.IsRoom() && m.Target.RoomID == id {
			delete(s.messages, msgID)
		}
	}
	delete(s.roomsByName, foldRoomName(s.rooms[id].Name))
	delete(s.rooms, id)
	return nil
}

func (r *roomsRepo) List(ctx context.Context, p types.Pagination, filter storage.RoomFilter) ([]domain.Room, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Room, 0, len(s.rooms))
	for _, rm := range s.rooms {
		if filter.OwnerID != nil && rm.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.Private != nil && rm.Private != *filter.Private {
			continue
		}
		out = append(out, rm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return string(out[i].ID) < string(out[j].ID)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return paginate(out, p, func(rm domain.Room) string { return string(rm.ID) }, func(rm domain.Room) time.Time { return rm.CreatedAt }), nil
}

type membershipsRepo Store

func (r *membershipsRepo) Add(ctx context.Context, roomID types.RoomID, userID types.UserID, role types.MembershipRole) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.memberships[roomID]
	if !ok {
		return storage.ErrNotFound
	}
	if _, exists := members[userID]; exists {
		return storage.ErrConflict
	}
	members[userID] = domain.RoomMembership{RoomID: roomID, UserID: userID, Role: role, JoinedAt: time.Now().UTC()}
	return nil
}

func (r *membershipsRepo) Remove(ctx context.Context, roomID types.RoomID, userID types.UserID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.memberships[roomID]
	if !ok {
		return storage.ErrNotFound
	}
	if _, exists := members[userID]; !exists {
		return storage.ErrNotFound
	}
	delete(members, userID)
	return nil
}

func (r *membershipsRepo) Get(ctx context.Context, roomID types.RoomID, userID types.UserID) (domain.RoomMembership, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.memberships[roomID]
	if !ok {
		return domain.RoomMembership{}, storage.ErrNotFound
	}
	m, ok := members[userID]
	if !ok {
		return domain.RoomMembership{}, storage.ErrNotFound
	}
	return m, nil
}

func (r *membershipsRepo) ListMembers(ctx context.Context, roomID types.RoomID) ([]domain.RoomMembership, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.memberships[roomID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]domain.RoomMembership, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return string(out[i].UserID) < string(out[j].UserID)
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (r *membershipsRepo) ListRoomsOf(ctx context.Context, userID types.UserID) ([]domain.RoomMembership, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RoomMembership
	for _, members := range s.memberships {
		if m, ok := members[userID]; ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (r *membershipsRepo) Count(ctx context.Context, roomID types.RoomID) (int, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.memberships[roomID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return len(members), nil
}

func (r *membershipsRepo) TransferOwner(ctx context.Context, roomID types.RoomID, newOwner types.UserID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.memberships[roomID]
	if !ok {
		return storage.ErrNotFound
	}
	newMember, ok := members[newOwner]
	if !ok {
		return storage.ErrNotFound
	}
	for uid, m := range members {
		if m.Role == types.MembershipOwner {
			m.Role = types.MembershipModerator
			members[uid] = m
		}
	}
	newMember.Role = types.MembershipOwner
	members[newOwner] = newMember
	if room, ok := s.rooms[roomID]; ok {
		room.OwnerID = newOwner
		s.rooms[roomID] = room
	}
	return nil
}

type messagesRepo Store

func (r *messagesRepo) Insert(ctx context.Context, m domain.Message) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
	return nil
}

func (r *messagesRepo) UpdateContent(ctx context.Context, id types.MessageID, content types.MessageContent) (domain.Message, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Deleted {
		return domain.Message{}, storage.ErrNotFound
	}
	m.Content = content
	m.Edited = true
	m.UpdatedAt = time.Now().UTC()
	s.messages[id] = m
	return m, nil
}

func (r *messagesRepo) Delete(ctx context.Context, id types.MessageID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.Deleted = true
	m.UpdatedAt = time.Now().UTC()
	s.messages[id] = m
	return nil
}

func (r *messagesRepo) Get(ctx context.Context, id types.MessageID) (domain.Message, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok || m.Deleted {
		return domain.Message{}, storage.ErrNotFound
	}
	return m, nil
}

func (r *messagesRepo) ListByTarget(ctx context.Context, viewer types.UserID, target types.MessageTarget, p types.Pagination) ([]domain.Message, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.Deleted {
			continue
		}
		if target.IsRoom() && (!m.Target.IsRoom() || m.Target.RoomID != target.RoomID) {
			continue
		}
		// A direct thread holds both directions: messages the viewer sent to
		// the peer and messages the peer sent to the viewer.
		if target.IsDirect() {
			if !m.Target.IsDirect() {
				continue
			}
			sentByViewer := m.AuthorID == viewer && m.Target.PeerUserID == target.PeerUserID
			sentByPeer := m.AuthorID == target.PeerUserID && m.Target.PeerUserID == viewer
			if !sentByViewer && !sentByPeer {
				continue
			}
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return string(out[i].ID) > string(out[j].ID)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, p, func(m domain.Message) string { return string(m.ID) }, func(m domain.Message) time.Time { return m.CreatedAt }), nil
}

type sessionsRepo Store

func (r *sessionsRepo) Create(ctx context.Context, sess domain.Session) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (r *sessionsRepo) FindByIDAndToken(ctx context.Context, id types.SessionID) (domain.Session, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (r *sessionsRepo) Touch(ctx context.Context, id types.SessionID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	sess.LastActiveAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

func (r *sessionsRepo) Refresh(ctx context.Context, id types.SessionID, newExpiry time.Time) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	sess.ExpiresAt = newExpiry
	sess.LastActiveAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

func (r *sessionsRepo) Delete(ctx context.Context, id types.SessionID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (r *sessionsRepo) DeleteExpired(ctx context.Context) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *sessionsRepo) CountLiveForUser(ctx context.Context, userID types.UserID) (int, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UTC()
	n := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID && !sess.Expired(now) {
			n++
		}
	}
	return n, nil
}

type invitationsRepo Store

func (r *invitationsRepo) Create(ctx context.Context, inv domain.Invitation) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.invitations {
		if existing.RoomID == inv.RoomID && existing.InviteeID == inv.InviteeID && existing.Status == types.InvitationPending {
			return storage.ErrConflict
		}
	}
	s.invitations[inv.ID] = inv
	return nil
}

func (r *invitationsRepo) FindByID(ctx context.Context, id types.InvitationID) (domain.Invitation, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invitations[id]
	if !ok {
		return domain.Invitation{}, storage.ErrNotFound
	}
	return inv, nil
}

func (r *invitationsRepo) ListForInvitee(ctx context.Context, userID types.UserID) ([]domain.Invitation, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Invitation
	for _, inv := range s.invitations {
		if inv.InviteeID == userID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *invitationsRepo) ListForRoom(ctx context.Context, roomID types.RoomID) ([]domain.Invitation, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Invitation
	for _, inv := range s.invitations {
		if inv.RoomID == roomID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *invitationsRepo) TransitionStatus(ctx context.Context, id types.InvitationID, from, to types.InvitationStatus) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return storage.ErrNotFound
	}
	if inv.Status != from {
		return storage.ErrCASMismatch
	}
	inv.Status = to
	now := time.Now().UTC()
	inv.RespondedAt = &now
	s.invitations[id] = inv
	return nil
}
