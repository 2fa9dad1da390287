package room

import (
	"context"
	"encoding/json"
	"testing"

	"muse-sync/internal/protocol"
)

func TestJoinFirstMemberGetsDefaults(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	a := newFakeMember("conn-a", "alice")

	state := reg.Join(context.Background(), "demo", a)
	if state.Tempo != protocol.DefaultTempo {
		t.Errorf("tempo = %d, want %d", state.Tempo, protocol.DefaultTempo)
	}
	if state.Version != 0 {
		t.Errorf("version = %d, want 0", state.Version)
	}

	boot := a.received(protocol.TypeProjectState)
	if len(boot) != 1 || boot[0].State == nil || boot[0].State.Tempo != protocol.DefaultTempo {
		t.Fatalf("joiner bootstrap = %+v, want one project-state with defaults", boot)
	}
	if got := a.received(protocol.TypePresenceUpdate); len(got) != 0 {
		t.Errorf("expected no presence bootstrap for the first member, got %d", len(got))
	}
}

func TestJoinNotifiesExistingMembersOnly(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	a := newFakeMember("conn-a", "alice")
	b := newFakeMember("conn-b", "bob")

	reg.Join(context.Background(), "demo", a)
	reg.Join(context.Background(), "demo", b)

	joined := a.received(protocol.TypeUserJoined)
	if len(joined) != 1 {
		t.Fatalf("alice saw %d user-joined, want 1", len(joined))
	}
	if joined[0].Identity.SubjectID != "bob" {
		t.Errorf("user-joined identity = %q, want bob", joined[0].Identity.SubjectID)
	}
	if got := b.received(protocol.TypeUserJoined); len(got) != 0 {
		t.Errorf("the joiner received its own user-joined notification")
	}
}

func TestLeaveNotifiesAndEvicts(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	a := newFakeMember("conn-a", "alice")
	b := newFakeMember("conn-b", "bob")

	reg.Join(context.Background(), "demo", a)
	reg.Join(context.Background(), "demo", b)

	reg.Leave("demo", "conn-b")
	left := a.received(protocol.TypeUserLeft)
	if len(left) != 1 || left[0].Identity.SubjectID != "bob" {
		t.Fatalf("alice did not see bob leave: %+v", left)
	}

	reg.Leave("demo", "conn-a")
	if reg.lookup("demo") != nil {
		t.Error("empty room was not evicted")
	}
}

func TestLeaveUnknownConnectionIsNoop(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	a := newFakeMember("conn-a", "alice")
	reg.Join(context.Background(), "demo", a)

	reg.Leave("demo", "conn-zzz")
	reg.Leave("other", "conn-a")
	if reg.lookup("demo") == nil {
		t.Error("room was evicted by a stranger's leave")
	}
}

func TestEvictedRoomReloadsFromSnapshot(t *testing.T) {
	snaps := newFakeSnapshots()
	reg := NewRegistry(testLogger(), snaps)
	relay := NewRelay(testLogger(), reg, nil)
	a := newFakeMember("conn-a", "alice")

	reg.Join(context.Background(), "demo", a)
	relay.Apply(context.Background(), a, "demo", tempoOp(150))
	snaps.waitForVersion(t, "demo", 1)

	reg.Leave("demo", "conn-a")
	if reg.lookup("demo") != nil {
		t.Fatal("room should be evicted")
	}

	b := newFakeMember("conn-b", "bob")
	state := reg.Join(context.Background(), "demo", b)
	if state.Tempo != 150 || state.Version != 1 {
		t.Errorf("reloaded state = {tempo:%d version:%d}, want {tempo:150 version:1}", state.Tempo, state.Version)
	}
}

func TestEvictionFlushesFinalSnapshot(t *testing.T) {
	snaps := newFakeSnapshots()
	reg := NewRegistry(testLogger(), snaps)
	relay := NewRelay(testLogger(), reg, nil)
	a := newFakeMember("conn-a", "alice")

	reg.Join(context.Background(), "demo", a)
	relay.Apply(context.Background(), a, "demo", tempoOp(150))

	// Leave immediately: the background save may still be in flight,
	// but eviction itself must leave the final version behind.
	reg.Leave("demo", "conn-a")

	s, ok, err := snaps.LoadRoomState(context.Background(), "demo")
	if err != nil || !ok {
		t.Fatalf("no snapshot after eviction (ok=%v err=%v)", ok, err)
	}
	if s.Version != 1 || s.Tempo != 150 {
		t.Errorf("flushed snapshot = {tempo:%d version:%d}, want {tempo:150 version:1}", s.Tempo, s.Version)
	}
}

func TestEvictionOfUntouchedRoomPersistsNothing(t *testing.T) {
	snaps := newFakeSnapshots()
	reg := NewRegistry(testLogger(), snaps)
	a := newFakeMember("conn-a", "alice")

	reg.Join(context.Background(), "demo", a)
	reg.Leave("demo", "conn-a")

	if _, ok, _ := snaps.LoadRoomState(context.Background(), "demo"); ok {
		t.Error("a room with no accepted ops left a snapshot behind")
	}
}

func TestJoinBootstrapsPeerPresence(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	bc := NewBroadcaster(testLogger(), reg, nil)
	a := newFakeMember("conn-a", "alice")

	reg.Join(context.Background(), "demo", a)
	bc.Update(context.Background(), a, "demo", json.RawMessage(`{"cursor":{"x":10,"y":20}}`))

	b := newFakeMember("conn-b", "bob")
	reg.Join(context.Background(), "demo", b)
	peers := b.received(protocol.TypePresenceUpdate)
	if len(peers) != 1 {
		t.Fatalf("got %d presence bootstrap messages, want 1", len(peers))
	}
	if peers[0].Identity.SubjectID != "alice" {
		t.Errorf("presence bootstrap identity = %q, want alice", peers[0].Identity.SubjectID)
	}
}

func TestJoinerBootstrapPrecedesLaterOps(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	relay := NewRelay(testLogger(), reg, nil)
	a := newFakeMember("conn-a", "alice")
	reg.Join(context.Background(), "demo", a)

	b := newFakeMember("conn-b", "bob")
	reg.Join(context.Background(), "demo", b)
	relay.Apply(context.Background(), a, "demo", tempoOp(180))

	// The very first frame on the joiner's queue must be its
	// snapshot; an op applied after the join can only follow it, at
	// the version right after the snapshot's.
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inbox) < 2 {
		t.Fatalf("joiner inbox = %+v", b.inbox)
	}
	first, second := b.inbox[0], b.inbox[1]
	if first.Type != protocol.TypeProjectState || first.State == nil {
		t.Fatalf("first frame = %+v, want project-state", first)
	}
	if second.Type != protocol.TypeProjectOp {
		t.Fatalf("second frame = %+v, want project-op", second)
	}
	if second.Version != first.State.Version+1 {
		t.Errorf("op version %d does not continue snapshot version %d", second.Version, first.State.Version)
	}
}

func TestDeliverRemoteForwardsAndAdopts(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	a := newFakeMember("conn-a", "alice")
	reg.Join(context.Background(), "demo", a)

	op := tempoOp(180)
	reg.DeliverRemote("demo", "remote-conn", protocol.Outbound{
		Type:      protocol.TypeProjectOp,
		ProjectID: "demo",
		Op:        &op,
		Version:   1,
	})

	got := a.received(protocol.TypeProjectOp)
	if len(got) != 1 {
		t.Fatalf("local member got %d forwarded ops, want 1", len(got))
	}

	state := reg.Join(context.Background(), "demo", newFakeMember("conn-b", "bob"))
	if state.Tempo != 180 || state.Version != 1 {
		t.Errorf("adopted state = {tempo:%d version:%d}, want {tempo:180 version:1}", state.Tempo, state.Version)
	}
}

func TestDeliverRemoteIgnoresStaleVersions(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	relay := NewRelay(testLogger(), reg, nil)
	a := newFakeMember("conn-a", "alice")
	reg.Join(context.Background(), "demo", a)

	relay.Apply(context.Background(), a, "demo", tempoOp(100))
	relay.Apply(context.Background(), a, "demo", tempoOp(110))

	op := tempoOp(200)
	reg.DeliverRemote("demo", "remote-conn", protocol.Outbound{
		Type:    protocol.TypeProjectOp,
		Op:      &op,
		Version: 1, // older than local version 2
	})

	state := reg.Join(context.Background(), "demo", newFakeMember("conn-b", "bob"))
	if state.Tempo != 110 || state.Version != 2 {
		t.Errorf("state = {tempo:%d version:%d}, want {tempo:110 version:2}", state.Tempo, state.Version)
	}
}
