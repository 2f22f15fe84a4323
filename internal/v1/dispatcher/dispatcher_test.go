package dispatcher

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/events"
	"github.com/lairchat/server/internal/v1/types"
)

type fakeMembers struct {
	membersByRoom map[types.RoomID][]domain.RoomMembership
}

func (f *fakeMembers) ListMembers(ctx context.Context, roomID types.RoomID) ([]domain.RoomMembership, error) {
	return f.membersByRoom[roomID], nil
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPresenceReferenceCounting(t *testing.T) {
	d := New(&fakeMembers{})
	user := types.NewUserID()
	s1, s2 := types.NewSessionID(), types.NewSessionID()

	_, wentOnline1 := d.Register(s1, user)
	if !wentOnline1 {
		t.Fatal("expected first session to trigger online transition")
	}
	_, wentOnline2 := d.Register(s2, user)
	if wentOnline2 {
		t.Fatal("second session for the same user should not re-trigger online")
	}

	if _, off := d.Unregister(s1); off {
		t.Fatal("unregistering one of two sessions should not go offline")
	}
	if !d.IsOnline(user) {
		t.Fatal("expected user still online with one session left")
	}
	if _, off := d.Unregister(s2); !off {
		t.Fatal("unregistering the last session should go offline")
	}
	if d.IsOnline(user) {
		t.Fatal("expected user offline after last session closes")
	}
}

func TestEveryMemberOfFanOut(t *testing.T) {
	room := types.NewRoomID()
	alice, bob, carol := types.NewUserID(), types.NewUserID(), types.NewUserID()
	members := &fakeMembers{membersByRoom: map[types.RoomID][]domain.RoomMembership{
		room: {{UserID: alice}, {UserID: bob}},
	}}
	d := New(members)
	aliceSess := types.NewSessionID()
	bobSess := types.NewSessionID()
	carolSess := types.NewSessionID()
	aliceOut, _ := d.Register(aliceSess, alice)
	bobOut, _ := d.Register(bobSess, bob)
	carolOut, _ := d.Register(carolSess, carol)

	ev := events.Event{Kind: events.KindMessageReceived, Target: events.EveryMemberOf(room)}
	d.Dispatch(context.Background(), ev)

	select {
	case <-aliceOut:
	default:
		t.Fatal("expected alice to receive the event")
	}
	select {
	case <-bobOut:
	default:
		t.Fatal("expected bob to receive the event")
	}
	select {
	case <-carolOut:
		t.Fatal("carol is not a member and should not receive the event")
	default:
	}
}

func TestLossyEventDroppedOnFullBuffer(t *testing.T) {
	user := types.NewUserID()
	d := New(&fakeMembers{})
	sid := types.NewSessionID()
	out, _ := d.Register(sid, user)

	for i := 0; i < OutboundBuffer; i++ {
		d.Dispatch(context.Background(), events.Event{Kind: events.KindUserTyping, Target: events.SpecificUser(user)})
	}
	// Buffer is now full; one more lossy event should be silently dropped,
	// not mark the session degraded.
	d.Dispatch(context.Background(), events.Event{Kind: events.KindUserTyping, Target: events.SpecificUser(user)})
	if d.Degraded(sid) {
		t.Fatal("lossy event overflow must not degrade the session")
	}
	drained := 0
	for {
		select {
		case <-out:
			drained++
			continue
		default:
		}
		break
	}
	if drained != OutboundBuffer {
		t.Fatalf("expected %d buffered events, drained %d", OutboundBuffer, drained)
	}
}

func TestAuthoritativeEventDegradesSessionOnOverflow(t *testing.T) {
	user := types.NewUserID()
	d := New(&fakeMembers{})
	sid := types.NewSessionID()
	_, _ = d.Register(sid, user)

	for i := 0; i < OutboundBuffer+1; i++ {
		d.Dispatch(context.Background(), events.Event{Kind: events.KindMessageReceived, Target: events.SpecificUser(user)})
	}
	if !d.Degraded(sid) {
		t.Fatal("expected session to be marked degraded after authoritative overflow")
	}
}

func TestUnregisterClosesOutboundChannel(t *testing.T) {
	d := New(&fakeMembers{})
	user := types.NewUserID()
	sid := types.NewSessionID()
	out, _ := d.Register(sid, user)
	d.Unregister(sid)

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected channel to be closed with no pending values")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
