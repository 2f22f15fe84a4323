package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lairchat/server/internal/v1/events"
	"github.com/lairchat/server/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, originID string) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr(), "", originID)
	require.NoError(t, err)

	return svc, mr
}

func sampleEvent(target events.Target) events.Event {
	return events.Event{
		ID:           types.NewEventID(),
		Kind:         events.KindServerNotice,
		Timestamp:    time.Unix(0, 0),
		Target:       target,
		ServerNotice: &events.ServerNotice{Text: "hello"},
	}
}

func TestNewService(t *testing.T) {
	svc, mr := newTestService(t, "instance-a")
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	assert.NotNil(t, svc.Client())
	assert.NoError(t, svc.Ping(context.Background()))
}

func TestPublish_RoomTarget(t *testing.T) {
	svc, mr := newTestService(t, "instance-a")
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	roomID := types.RoomID("room-1")

	sub := svc.Client().Subscribe(ctx, roomChannel(roomID))
	defer sub.Close()
	time.Sleep(50 * time.Millisecond)

	ev := sampleEvent(events.EveryMemberOf(roomID))
	require.NoError(t, svc.Publish(ctx, ev))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, "instance-a")
}

func TestPublish_DirectPairTarget_ReachesBothChannels(t *testing.T) {
	svc, mr := newTestService(t, "instance-a")
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	a, b := types.UserID("user-a"), types.UserID("user-b")

	subA := svc.Client().Subscribe(ctx, userChannel(a))
	defer subA.Close()
	subB := svc.Client().Subscribe(ctx, userChannel(b))
	defer subB.Close()
	time.Sleep(50 * time.Millisecond)

	ev := sampleEvent(events.DirectPair(a, b))
	require.NoError(t, svc.Publish(ctx, ev))

	_, err := subA.ReceiveMessage(ctx)
	assert.NoError(t, err)
	_, err = subB.ReceiveMessage(ctx)
	assert.NoError(t, err)
}

func TestSubscribeRoom_IgnoresOwnOrigin(t *testing.T) {
	svc, mr := newTestService(t, "instance-a")
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roomID := types.RoomID("room-sub")
	wg := &sync.WaitGroup{}

	received := make(chan events.Event, 1)
	svc.SubscribeRoom(ctx, roomID, wg, func(ev events.Event) { received <- ev })
	time.Sleep(50 * time.Millisecond)

	// Own-origin publish must not be delivered back to the handler.
	require.NoError(t, svc.Publish(ctx, sampleEvent(events.EveryMemberOf(roomID))))

	select {
	case <-received:
		t.Fatal("expected own-origin event to be filtered out")
	case <-time.After(150 * time.Millisecond):
	}

	// A publish from another instance (same backend, different origin id)
	// must be delivered.
	other := &Service{client: svc.client, cb: svc.cb, originID: "instance-b"}

	require.NoError(t, other.Publish(ctx, sampleEvent(events.EveryMemberOf(roomID))))

	select {
	case ev := <-received:
		assert.Equal(t, events.KindServerNotice, ev.Kind)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for message from other instance")
	}

	cancel()
	wg.Wait()
}

func TestSetOperations(t *testing.T) {
	svc, mr := newTestService(t, "instance-a")
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	key := "test-set"

	require.NoError(t, svc.SetAdd(ctx, key, "m1"))
	require.NoError(t, svc.SetAdd(ctx, key, "m2"))

	members, err := svc.SetMembers(ctx, key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, members)

	require.NoError(t, svc.SetRem(ctx, key, "m1"))

	members, err = svc.SetMembers(ctx, key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m2"}, members)
}

func TestRedisFailure_Graceful(t *testing.T) {
	svc, mr := newTestService(t, "instance-a")
	mr.Close()

	ctx := context.Background()
	assert.Error(t, svc.Ping(ctx))
}

func TestPublish_CircuitBreakerOpen(t *testing.T) {
	svc, mr := newTestService(t, "instance-a")
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	mr.Close()

	ev := sampleEvent(events.EveryMemberOf(types.RoomID("room-1")))
	for i := 0; i < 10; i++ {
		_ = svc.Publish(context.Background(), ev)
	}

	// Should not panic; graceful degradation may return nil or an error.
	_ = svc.Publish(context.Background(), ev)
}

func TestNilService_DegradesToNoop(t *testing.T) {
	var svc *Service
	ctx := context.Background()

	assert.NoError(t, svc.Publish(ctx, sampleEvent(events.AllLive())))
	assert.NoError(t, svc.Ping(ctx))
	assert.NoError(t, svc.Close())
	assert.Nil(t, svc.Client())
}
