// Package dispatcher is the Event Dispatcher: it routes typed
// domain events to the live sessions that must observe them, tracks
// per-user online presence by reference count, and applies the
// lossy/authoritative backpressure rules.
//
// The registry is protected by a single RWMutex: register/unregister
// are O(1) writes; fan-out reads clone the set of outbound senders under
// the lock and send to each without holding it, so a slow or blocked
// session can never stall delivery to others.
package dispatcher

import (
	"context"
	"sync"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/events"
	"github.com/lairchat/server/internal/v1/logging"
	"github.com/lairchat/server/internal/v1/metrics"
	"github.com/lairchat/server/internal/v1/types"
)

// OutboundBuffer is the bounded channel capacity per session.
const OutboundBuffer = 256

// SubscriptionState is a live session's position in the dispatcher's state
// machine.
type SubscriptionState string

const (
	StateRegistering SubscriptionState = "registering"
	StateLive        SubscriptionState = "live"
	StateDegraded    SubscriptionState = "degraded"
	StateClosed      SubscriptionState = "closed"
)

// RoomMembers is the minimal membership-lookup capability the dispatcher
// needs to resolve EveryMemberOf targets against the membership state
// observed at emit time.
type RoomMembers interface {
	ListMembers(ctx context.Context, roomID types.RoomID) ([]domain.RoomMembership, error)
}

type session struct {
	userID types.UserID
	out    chan events.Event
	state  SubscriptionState
}

// Dispatcher is the live registry of subscribed sessions.
type Dispatcher struct {
	mu       sync.RWMutex
	sessions map[types.SessionID]*session
	byUser   map[types.UserID]map[types.SessionID]struct{}
	members  RoomMembers
	relay    func(context.Context, events.Event)
}

// SetRelay installs a hook invoked for every locally-originated Dispatch,
// letting a cross-instance bus republish the event. Events arriving FROM the
// bus must go through DispatchLocal instead, or they would echo forever.
func (d *Dispatcher) SetRelay(relay func(context.Context, events.Event)) {
	d.mu.Lock()
	d.relay = relay
	d.mu.Unlock()
}

// New builds an empty Dispatcher backed by members for room-scoped fan-out.
func New(members RoomMembers) *Dispatcher {
	return &Dispatcher{
		sessions: make(map[types.SessionID]*session),
		byUser:   make(map[types.UserID]map[types.SessionID]struct{}),
		members:  members,
	}
}

// Register subscribes a session, returning the receive end of its outbound
// channel. A 0->1 transition in live sessions for the user emits
// UserOnline via the returned bool.
func (d *Dispatcher) Register(sessionID types.SessionID, userID types.UserID) (<-chan events.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess := &session{userID: userID, out: make(chan events.Event, OutboundBuffer), state: StateLive}
	d.sessions[sessionID] = sess
	set, ok := d.byUser[userID]
	if !ok {
		set = make(map[types.SessionID]struct{})
		d.byUser[userID] = set
	}
	wentOnline := len(set) == 0
	set[sessionID] = struct{}{}
	if wentOnline {
		metrics.OnlineUsers.Inc()
	}
	return sess.out, wentOnline
}

// Unregister removes a session. It reports whether the user's live session
// count dropped from 1 to 0 (a UserOffline transition).
func (d *Dispatcher) Unregister(sessionID types.SessionID) (types.UserID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.sessions[sessionID]
	if !ok {
		return "", false
	}
	sess.state = StateClosed
	close(sess.out)
	delete(d.sessions, sessionID)
	set := d.byUser[sess.userID]
	delete(set, sessionID)
	wentOffline := len(set) == 0
	if wentOffline {
		delete(d.byUser, sess.userID)
		metrics.OnlineUsers.Dec()
	}
	return sess.userID, wentOffline
}

// Counts returns the current number of live sessions and distinct online
// users, for the admin stats surface.
func (d *Dispatcher) Counts() (sessions, users int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions), len(d.byUser)
}

// IsOnline reports whether a user currently has at least one live session.
func (d *Dispatcher) IsOnline(userID types.UserID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byUser[userID]) > 0
}

// Degraded reports whether a session has been marked degraded (authoritative
// event dropped on a full buffer); the adapter owning that session must
// close the connection.
func (d *Dispatcher) Degraded(sessionID types.SessionID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sess, ok := d.sessions[sessionID]
	return ok && sess.state == StateDegraded
}

// Dispatch delivers ev to every live session its Target resolves to, then
// hands it to the relay (when one is installed) for cross-instance delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, ev events.Event) {
	d.DispatchLocal(ctx, ev)
	d.mu.RLock()
	relay := d.relay
	d.mu.RUnlock()
	if relay != nil {
		relay(ctx, ev)
	}
}

// DispatchLocal delivers ev to this instance's live sessions only. Events
// received from the cross-instance bus enter here.
func (d *Dispatcher) DispatchLocal(ctx context.Context, ev events.Event) {
	targets := d.resolveTargets(ctx, ev.Target)
	d.mu.Lock()
	senders := make([]*session, 0, len(targets))
	for sid := range targets {
		if sess, ok := d.sessions[sid]; ok && sess.state == StateLive {
			senders = append(senders, sess)
		}
	}
	d.mu.Unlock()

	for _, sess := range senders {
		d.deliver(sess, ev)
	}
}

func (d *Dispatcher) deliver(sess *session, ev events.Event) {
	select {
	case sess.out <- ev:
		metrics.EventsDispatched.WithLabelValues(string(ev.Kind)).Inc()
		return
	default:
	}
	if ev.Kind.Lossy() {
		metrics.EventsDropped.WithLabelValues(string(ev.Kind)).Inc()
		logging.Warn(context.Background(), "dispatcher: dropped lossy event on full buffer")
		return
	}
	d.mu.Lock()
	sess.state = StateDegraded
	d.mu.Unlock()
	logging.Warn(context.Background(), "dispatcher: session degraded on authoritative event overflow")
}

// resolveTargets maps an events.Target to the concrete set of session ids
// that should receive it.
func (d *Dispatcher) resolveTargets(ctx context.Context, target events.Target) map[types.SessionID]struct{} {
	out := make(map[types.SessionID]struct{})
	switch target.Kind {
	case events.TargetSpecificUser:
		d.sessionsOfUser(target.UserID, out)
	case events.TargetDirectPair:
		d.sessionsOfUser(target.PeerA, out)
		d.sessionsOfUser(target.PeerB, out)
	case events.TargetAllLive:
		d.mu.RLock()
		for sid := range d.sessions {
			out[sid] = struct{}{}
		}
		d.mu.RUnlock()
	case events.TargetEveryMemberOf:
		members, err := d.members.ListMembers(ctx, target.RoomID)
		if err != nil {
			logging.Error(ctx, "dispatcher: list members for fan-out failed")
			return out
		}
		for _, m := range members {
			d.sessionsOfUser(m.UserID, out)
		}
	}
	return out
}

func (d *Dispatcher) sessionsOfUser(userID types.UserID, into map[types.SessionID]struct{}) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for sid := range d.byUser[userID] {
		into[sid] = struct{}{}
	}
}
