package events

import (
	"testing"

	"github.com/lairchat/server/internal/v1/types"
)

func TestKindLossyClassification(t *testing.T) {
	lossy := []Kind{KindUserOnline, KindUserOffline, KindUserTyping}
	for _, k := range lossy {
		if !k.Lossy() {
			t.Fatalf("expected %s to be lossy", k)
		}
	}
	authoritative := []Kind{KindMessageReceived, KindRoomDeleted, KindInvitationReceived}
	for _, k := range authoritative {
		if k.Lossy() {
			t.Fatalf("expected %s to be authoritative", k)
		}
	}
}

func TestTargetConstructors(t *testing.T) {
	room := types.RoomID("r1")
	if tg := EveryMemberOf(room); tg.Kind != TargetEveryMemberOf || tg.RoomID != room {
		t.Fatal("EveryMemberOf built wrong target")
	}
	user := types.UserID("u1")
	if tg := SpecificUser(user); tg.Kind != TargetSpecificUser || tg.UserID != user {
		t.Fatal("SpecificUser built wrong target")
	}
	a, b := types.UserID("a"), types.UserID("b")
	if tg := DirectPair(a, b); tg.Kind != TargetDirectPair || tg.PeerA != a || tg.PeerB != b {
		t.Fatal("DirectPair built wrong target")
	}
	if tg := AllLive(); tg.Kind != TargetAllLive {
		t.Fatal("AllLive built wrong target")
	}
}
