package command

import (
	"context"
	"time"

	"github.com/lairchat/server/internal/v1/dispatcher"
	"github.com/lairchat/server/internal/v1/events"
	"github.com/lairchat/server/internal/v1/metrics"
	"github.com/lairchat/server/internal/v1/types"
)

// Subscription is a live session's hookup to the dispatcher, shared by the
// framed and WebSocket adapters. It owns the presence side effects: the
// 0->1 live-session transition for a user dispatches UserOnline, the 1->0
// transition dispatches UserOffline. Both are lossy
// events addressed to every live session.
type Subscription struct {
	d         *dispatcher.Dispatcher
	sessionID types.SessionID
	userID    types.UserID
	protocol  types.Protocol
	ch        <-chan events.Event
	closed    bool
}

// Subscribe registers the session with the dispatcher and dispatches
// UserOnline when this is the user's first live session.
func Subscribe(ctx context.Context, d *dispatcher.Dispatcher, sessionID types.SessionID, userID types.UserID, protocol types.Protocol) *Subscription {
	ch, wentOnline := d.Register(sessionID, userID)
	metrics.ActiveSessions.WithLabelValues(string(protocol)).Inc()
	if wentOnline {
		d.Dispatch(ctx, events.Event{
			ID:         types.NewEventID(),
			Kind:       events.KindUserOnline,
			Timestamp:  time.Now().UTC(),
			Target:     events.AllLive(),
			UserOnline: &events.UserOnline{UserID: userID},
		})
	}
	return &Subscription{d: d, sessionID: sessionID, userID: userID, protocol: protocol, ch: ch}
}

// Events is the receive end of the session's outbound channel. The channel
// is closed by Close (or by Dispatcher.Unregister).
func (s *Subscription) Events() <-chan events.Event { return s.ch }

// SessionID returns the subscribed session's id.
func (s *Subscription) SessionID() types.SessionID { return s.sessionID }

// Degraded reports whether the dispatcher marked this session degraded; the
// owning adapter must close the connection so the client reconnects and
// catches up via fetch.
func (s *Subscription) Degraded() bool { return s.d.Degraded(s.sessionID) }

// Close unregisters the session and dispatches UserOffline when this was the
// user's last live session. Safe to call more than once.
func (s *Subscription) Close(ctx context.Context) {
	if s.closed {
		return
	}
	s.closed = true
	metrics.ActiveSessions.WithLabelValues(string(s.protocol)).Dec()
	userID, wentOffline := s.d.Unregister(s.sessionID)
	if wentOffline {
		s.d.Dispatch(ctx, events.Event{
			ID:          types.NewEventID(),
			Kind:        events.KindUserOffline,
			Timestamp:   time.Now().UTC(),
			Target:      events.AllLive(),
			UserOffline: &events.UserOffline{UserID: userID},
		})
	}
}
