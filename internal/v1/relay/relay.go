// Package relay bridges the local event dispatcher and the Redis event bus
// so a multi-instance deployment fans events out to sessions on every
// instance. The relay observes the local event stream: every locally
// dispatched event is published to the bus, and presence/membership events
// drive which per-user and per-room bus channels this instance listens on.
// Single-instance deployments simply never construct a Relay.
package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/lairchat/server/internal/v1/bus"
	"github.com/lairchat/server/internal/v1/dispatcher"
	"github.com/lairchat/server/internal/v1/events"
	"github.com/lairchat/server/internal/v1/logging"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

// seenCap bounds the duplicate-suppression cache. Direct-pair events are
// published on both peers' channels; when both peers are local the event
// arrives twice and must be delivered once.
const seenCap = 4096

// Relay wires one instance's dispatcher onto the shared bus.
type Relay struct {
	bus     *bus.Service
	disp    *dispatcher.Dispatcher
	members storage.Memberships

	ctx context.Context
	wg  sync.WaitGroup

	mu        sync.Mutex
	userStops map[types.UserID]context.CancelFunc
	userRooms map[types.UserID]map[types.RoomID]struct{}
	roomSubs  map[types.RoomID]*roomSub
	seen      map[types.EventID]struct{}
	seenOrder []types.EventID
}

type roomSub struct {
	refs int
	stop context.CancelFunc
}

// New builds a Relay. Start must be called before events flow.
func New(busService *bus.Service, disp *dispatcher.Dispatcher, members storage.Memberships) *Relay {
	return &Relay{
		bus:       busService,
		disp:      disp,
		members:   members,
		userStops: make(map[types.UserID]context.CancelFunc),
		userRooms: make(map[types.UserID]map[types.RoomID]struct{}),
		roomSubs:  make(map[types.RoomID]*roomSub),
		seen:      make(map[types.EventID]struct{}),
	}
}

// Start installs the dispatcher hook and subscribes the broadcast channel.
// Subscriptions live until ctx is cancelled; Wait blocks on their exit.
func (r *Relay) Start(ctx context.Context) {
	r.ctx = ctx
	r.disp.SetRelay(r.publish)
	r.bus.SubscribeBroadcast(ctx, &r.wg, r.receive)
}

// Wait blocks until every bus subscription has shut down.
func (r *Relay) Wait() { r.wg.Wait() }

// publish runs on every locally-originated dispatch: it republishes the
// event to the bus and keeps this instance's channel subscriptions in step
// with local presence and membership transitions.
func (r *Relay) publish(ctx context.Context, ev events.Event) {
	r.observe(ev)
	if err := r.bus.Publish(ctx, ev); err != nil {
		logging.Warn(ctx, "relay: publish failed", zap.String("kind", string(ev.Kind)))
	}
}

// receive handles an event that originated on another instance.
func (r *Relay) receive(ev events.Event) {
	if !r.markSeen(ev.ID) {
		return
	}
	r.disp.DispatchLocal(r.ctx, ev)
}

func (r *Relay) observe(ev events.Event) {
	switch ev.Kind {
	case events.KindUserOnline:
		r.trackUser(ev.UserOnline.UserID)
	case events.KindUserOffline:
		r.untrackUser(ev.UserOffline.UserID)
	case events.KindUserJoinedRoom:
		r.trackRoomFor(ev.UserJoinedRoom.User.ID, ev.UserJoinedRoom.RoomID)
	case events.KindUserLeftRoom:
		r.untrackRoomFor(ev.UserLeftRoom.UserID, ev.UserLeftRoom.RoomID)
	case events.KindRoomDeleted:
		r.dropRoom(ev.RoomDeleted.RoomID)
	}
}

// trackUser subscribes the user's bus channel and the channels of every
// room they belong to, as observed when the user came online here.
func (r *Relay) trackUser(userID types.UserID) {
	r.mu.Lock()
	if _, ok := r.userStops[userID]; ok {
		r.mu.Unlock()
		return
	}
	userCtx, cancel := context.WithCancel(r.ctx)
	r.userStops[userID] = cancel
	r.userRooms[userID] = make(map[types.RoomID]struct{})
	r.mu.Unlock()

	r.bus.SubscribeUser(userCtx, userID, &r.wg, r.receive)

	memberships, err := r.members.ListRoomsOf(context.Background(), userID)
	if err != nil {
		logging.Warn(context.Background(), "relay: list rooms for tracking failed", zap.Error(err))
		return
	}
	for _, m := range memberships {
		r.trackRoomFor(userID, m.RoomID)
	}
}

func (r *Relay) untrackUser(userID types.UserID) {
	r.mu.Lock()
	cancel, ok := r.userStops[userID]
	rooms := r.userRooms[userID]
	delete(r.userStops, userID)
	delete(r.userRooms, userID)
	r.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	for roomID := range rooms {
		r.decRoom(roomID)
	}
}

// trackRoomFor reference-counts a room channel subscription against the
// local online users that belong to it.
func (r *Relay) trackRoomFor(userID types.UserID, roomID types.RoomID) {
	r.mu.Lock()
	rooms, online := r.userRooms[userID]
	if !online {
		r.mu.Unlock()
		return
	}
	if _, ok := rooms[roomID]; ok {
		r.mu.Unlock()
		return
	}
	rooms[roomID] = struct{}{}
	sub, ok := r.roomSubs[roomID]
	if ok {
		sub.refs++
		r.mu.Unlock()
		return
	}
	roomCtx, cancel := context.WithCancel(r.ctx)
	r.roomSubs[roomID] = &roomSub{refs: 1, stop: cancel}
	r.mu.Unlock()

	r.bus.SubscribeRoom(roomCtx, roomID, &r.wg, r.receive)
}

func (r *Relay) untrackRoomFor(userID types.UserID, roomID types.RoomID) {
	r.mu.Lock()
	rooms, online := r.userRooms[userID]
	if !online {
		r.mu.Unlock()
		return
	}
	if _, ok := rooms[roomID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(rooms, roomID)
	r.mu.Unlock()
	r.decRoom(roomID)
}

func (r *Relay) decRoom(roomID types.RoomID) {
	r.mu.Lock()
	sub, ok := r.roomSubs[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	sub.refs--
	if sub.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.roomSubs, roomID)
	r.mu.Unlock()
	sub.stop()
}

func (r *Relay) dropRoom(roomID types.RoomID) {
	r.mu.Lock()
	sub, ok := r.roomSubs[roomID]
	delete(r.roomSubs, roomID)
	for _, rooms := range r.userRooms {
		delete(rooms, roomID)
	}
	r.mu.Unlock()
	if ok {
		sub.stop()
	}
}

// markSeen reports whether the event id is new, remembering it. The cache
// is a FIFO ring: old entries age out as new ones arrive.
func (r *Relay) markSeen(id types.EventID) bool {
	if id == "" {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[id]; dup {
		return false
	}
	r.seen[id] = struct{}{}
	r.seenOrder = append(r.seenOrder, id)
	if len(r.seenOrder) > seenCap {
		oldest := r.seenOrder[0]
		r.seenOrder = r.seenOrder[1:]
		delete(r.seen, oldest)
	}
	return true
}
