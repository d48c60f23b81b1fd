package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/app/apptest"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/core/mocks"
	"github.com/dkeye/VoiceCall/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	frames []core.Envelope
	full   bool
}

func (r *recorder) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return core.ErrBackpressure
	}
	var env core.Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return err
	}
	r.frames = append(r.frames, env)
	return nil
}

func (r *recorder) Close() {}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

func (r *recorder) last(event string, v any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Event == event {
			return json.Unmarshal(r.frames[i].Data, v) == nil
		}
	}
	return false
}

type fixture struct {
	orch   *Orchestrator
	engine *apptest.Engine
	store  *mocks.MockCallStore
	conns  map[domain.ConnID]*recorder
	cancel map[domain.ConnID]*bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	events := mocks.NewMockEventPublisher(ctrl)
	events.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	engine := apptest.NewEngine()
	pool := app.NewWorkerPool(engine, 1, time.Second)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	store := mocks.NewMockCallStore(ctrl)
	return &fixture{
		orch: &Orchestrator{
			Registry: app.NewRegistry(),
			Rooms:    app.NewRoomRegistry(pool, app.RoomRegistryConfig{Codecs: apptest.Codecs(), EngineTimeout: time.Second}, events),
			Policy:   app.SimplePolicy{},
			Auth:     mocks.NewMockAuthenticator(ctrl),
			Store:    store,
			Events:   events,
		},
		engine: engine,
		store:  store,
		conns:  make(map[domain.ConnID]*recorder),
		cancel: make(map[domain.ConnID]*bool),
	}
}

func (f *fixture) connect(cid domain.ConnID, uid domain.UserID) *recorder {
	rec := &recorder{}
	canceled := false
	f.conns[cid] = rec
	f.cancel[cid] = &canceled
	f.orch.Connect(cid, domain.Identity{UserID: uid, DisplayName: "name-" + uid.String()}, rec, func() { canceled = true })
	return rec
}

func (f *fixture) join(t *testing.T, cid domain.ConnID, room domain.RoomID) JoinResult {
	t.Helper()
	res, err := f.orch.Join(context.Background(), cid, room, apptest.FullCaps())
	if err != nil {
		t.Fatalf("join %s: %v", cid, err)
	}
	return res
}

func (f *fixture) produceAudio(t *testing.T, cid domain.ConnID) string {
	t.Helper()
	ctx := context.Background()
	send, err := f.orch.CreateTransport(ctx, cid, domain.DirectionSend)
	if err != nil {
		t.Fatal(err)
	}
	id, err := f.orch.Produce(ctx, cid, send.ID, domain.KindAudio, apptest.OpusParams(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestJoinAnnouncesAndListsExistingProducers(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("c-alice", "alice")
	bob := f.connect("c-bob", "bob")

	f.join(t, "c-alice", "r")
	pid := f.produceAudio(t, "c-alice")

	res := f.join(t, "c-bob", "r")
	if len(res.ExistingProducers) != 1 || res.ExistingProducers[0].ProducerID != pid {
		t.Fatalf("existing producers = %+v", res.ExistingProducers)
	}
	if len(res.RouterCapabilities.Codecs) == 0 {
		t.Fatal("router capabilities missing")
	}

	var joined userJoinedPayload
	if !alice.last(EventUserJoined, &joined) || joined.UserID != "bob" || joined.DisplayName != "name-bob" {
		t.Fatalf("alice got user-joined %+v", joined)
	}
	if bob.count(EventUserJoined) != 0 {
		t.Fatal("joiner notified about itself")
	}

	// rejoining the same room is not announced again
	f.join(t, "c-bob", "r")
	if n := alice.count(EventUserJoined); n != 1 {
		t.Fatalf("user-joined sent %d times", n)
	}
}

func TestNewProducerNeverEchoed(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("c-alice", "alice")
	alice2 := f.connect("c-alice-2", "alice")
	bob := f.connect("c-bob", "bob")
	f.join(t, "c-alice", "r")
	f.join(t, "c-alice-2", "r")
	f.join(t, "c-bob", "r")

	pid := f.produceAudio(t, "c-alice")

	var np newProducerPayload
	if !bob.last(EventNewProducer, &np) || np.ProducerID != pid || np.UserID != "alice" || np.Kind != domain.KindAudio {
		t.Fatalf("bob got new-producer %+v", np)
	}
	if alice.count(EventNewProducer)+alice2.count(EventNewProducer) != 0 {
		t.Fatal("new-producer echoed to its owner")
	}
}

func TestLeaveRacingDisconnectAnnouncesOnce(t *testing.T) {
	f := newFixture(t)
	f.connect("c-alice", "alice")
	bob := f.connect("c-bob", "bob")
	f.join(t, "c-alice", "r")
	f.join(t, "c-bob", "r")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); f.orch.Leave("c-alice") }()
	go func() { defer wg.Done(); f.orch.Disconnect("c-alice") }()
	wg.Wait()

	if n := bob.count(EventUserLeft); n != 1 {
		t.Fatalf("user-left sent %d times", n)
	}
	var left userLeftPayload
	if !bob.last(EventUserLeft, &left) || left.UserID != "alice" || left.RoomID != "r" {
		t.Fatalf("user-left = %+v", left)
	}
	room, ok := f.orch.Rooms.GetRoom("r")
	if !ok || room.PeerCount() != 1 {
		t.Fatal("room should keep bob only")
	}
}

func TestSwitchingRoomsLeavesThePreviousOne(t *testing.T) {
	f := newFixture(t)
	f.connect("c-alice", "alice")
	f.join(t, "c-alice", "r1")
	f.join(t, "c-alice", "r2")

	if _, ok := f.orch.Rooms.GetRoom("r1"); ok {
		t.Fatal("previous room not released")
	}
	if _, ok := f.orch.Rooms.GetRoom("r2"); !ok {
		t.Fatal("new room missing")
	}
}

func TestPresenceEdges(t *testing.T) {
	f := newFixture(t)
	watcher := f.connect("c-w", "watcher")
	f.connect("c-a1", "alice")
	f.connect("c-a2", "alice")

	if n := watcher.count(EventUserOnline); n != 2 {
		t.Fatalf("user-online sent %d times, want watcher+alice", n)
	}
	f.orch.Disconnect("c-a1")
	if watcher.count(EventUserOffline) != 0 {
		t.Fatal("offline announced with a connection left")
	}
	f.orch.Disconnect("c-a2")
	var p presencePayload
	if !watcher.last(EventUserOffline, &p) || p.UserID != "alice" {
		t.Fatalf("user-offline = %+v", p)
	}
}

func TestMediaOutsideRoomIsNeutral(t *testing.T) {
	f := newFixture(t)
	f.connect("c-alice", "alice")
	ctx := context.Background()

	if _, err := f.orch.CreateTransport(ctx, "c-alice", domain.DirectionSend); !errors.Is(err, domain.ErrNotInRoom) {
		t.Fatalf("create transport: %v", err)
	}
	if _, err := f.orch.Consume(ctx, "c-alice", "p"); !errors.Is(err, domain.ErrNotInRoom) {
		t.Fatalf("consume: %v", err)
	}
	if err := f.orch.ResumeConsumer(ctx, "c-alice", "c"); !errors.Is(err, domain.ErrNotInRoom) {
		t.Fatalf("resume: %v", err)
	}
}

func TestConsumeUsesDeclaredCapabilities(t *testing.T) {
	f := newFixture(t)
	f.connect("c-alice", "alice")
	f.connect("c-bob", "bob")
	f.join(t, "c-alice", "r")
	if _, err := f.orch.Join(context.Background(), "c-bob", "r", domain.RtpCapabilities{}); err != nil {
		t.Fatal(err)
	}
	pid := f.produceAudio(t, "c-alice")
	ctx := context.Background()
	if _, err := f.orch.CreateTransport(ctx, "c-bob", domain.DirectionRecv); err != nil {
		t.Fatal(err)
	}

	if _, err := f.orch.Consume(ctx, "c-bob", pid); !errors.Is(err, domain.ErrUnsupported) {
		t.Fatalf("consume without capabilities: %v", err)
	}
	if err := f.orch.UpdateCapabilities("c-bob", apptest.AudioOnly()); err != nil {
		t.Fatal(err)
	}
	desc, err := f.orch.Consume(ctx, "c-bob", pid)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.orch.ResumeConsumer(ctx, "c-bob", desc.ID); err != nil {
		t.Fatal(err)
	}
}

func TestEndForAll(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("c-alice", "alice")
	bob := f.connect("c-bob", "bob")
	f.join(t, "c-alice", "r")
	f.join(t, "c-bob", "r")
	f.produceAudio(t, "c-alice")

	gomock.InOrder(
		f.store.EXPECT().IsRoomAdmin(gomock.Any(), domain.RoomID("r"), domain.UserID("alice")).Return(true, nil),
		f.store.EXPECT().DeactivateCall(gomock.Any(), domain.RoomID("r")).Return(errors.New("api down")),
	)

	if err := f.orch.EndForAll(context.Background(), "c-alice", "r"); err != nil {
		t.Fatalf("end for all: %v", err)
	}
	for name, rec := range map[string]*recorder{"alice": alice, "bob": bob} {
		if n := rec.count(EventEnded); n != 1 {
			t.Fatalf("%s got ended %d times", name, n)
		}
		var ended endedPayload
		if !rec.last(EventEnded, &ended) || ended.RoomID != "r" {
			t.Fatalf("%s ended payload = %+v", name, ended)
		}
	}
	if _, ok := f.orch.Rooms.GetRoom("r"); ok {
		t.Fatal("room survived end-for-all")
	}
	if _, _, ok := f.orch.Registry.RoomOf("c-bob"); ok {
		t.Fatal("bob still scoped to the ended room")
	}

	// the later disconnect has nothing left to leave
	f.orch.Disconnect("c-bob")
	if alice.count(EventUserLeft) != 0 {
		t.Fatal("user-left sent after end-for-all")
	}
}

func TestEndForAllReachesLateJoiner(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("c-alice", "alice")
	carol := f.connect("c-carol", "carol")
	f.join(t, "c-alice", "r")
	pid := f.produceAudio(t, "c-alice")

	// carol's join is scoped after members were detached but before the room is gone
	producer, ok := f.engine.Producer(pid)
	if !ok {
		t.Fatal("producer not found in engine")
	}
	producer.OnClose(func() { f.orch.Registry.UpdateRoom("c-carol", "r", apptest.FullCaps()) })

	f.store.EXPECT().IsRoomAdmin(gomock.Any(), domain.RoomID("r"), domain.UserID("alice")).Return(true, nil)
	f.store.EXPECT().DeactivateCall(gomock.Any(), domain.RoomID("r")).Return(nil)
	if err := f.orch.EndForAll(context.Background(), "c-alice", "r"); err != nil {
		t.Fatalf("end for all: %v", err)
	}

	if n := alice.count(EventEnded); n != 1 {
		t.Fatalf("alice got ended %d times", n)
	}
	if n := carol.count(EventEnded); n != 1 {
		t.Fatalf("carol got ended %d times", n)
	}
	if _, _, ok := f.orch.Registry.RoomOf("c-carol"); ok {
		t.Fatal("carol still scoped to the ended room")
	}
}

func TestEndForAllRequiresAdmin(t *testing.T) {
	tests := []struct {
		name  string
		admin bool
		err   error
	}{
		{"not admin", false, nil},
		{"store failure", false, errors.New("timeout")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			bob := f.connect("c-bob", "bob")
			f.join(t, "c-bob", "r")
			f.store.EXPECT().IsRoomAdmin(gomock.Any(), domain.RoomID("r"), domain.UserID("bob")).Return(tt.admin, tt.err)

			err := f.orch.EndForAll(context.Background(), "c-bob", "r")
			if !errors.Is(err, domain.ErrForbidden) {
				t.Fatalf("err = %v", err)
			}
			if _, ok := f.orch.Rooms.GetRoom("r"); !ok {
				t.Fatal("room closed without authorization")
			}
			if bob.count(EventEnded) != 0 {
				t.Fatal("ended sent without authorization")
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	auth := f.orch.Auth.(*mocks.MockAuthenticator)
	ctx := context.Background()

	if _, err := f.orch.Authenticate(ctx, ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("empty token: %v", err)
	}

	auth.EXPECT().Verify(gomock.Any(), "bad").Return(domain.Identity{}, errors.New("signature is invalid"))
	if _, err := f.orch.Authenticate(ctx, "bad"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("bad token: %v", err)
	}

	auth.EXPECT().Verify(gomock.Any(), "good").Return(domain.Identity{UserID: "alice"}, nil)
	id, err := f.orch.Authenticate(ctx, "good")
	if err != nil || id.UserID != "alice" {
		t.Fatalf("good token: id=%+v err=%v", id, err)
	}
}

func TestSignalRelay(t *testing.T) {
	f := newFixture(t)
	f.connect("c-alice", "alice")
	bob1 := f.connect("c-bob-1", "bob")
	bob2 := f.connect("c-bob-2", "bob")

	if err := f.orch.Signal("c-alice", "r", "bob", json.RawMessage(`{"sdp":"x"}`)); err != nil {
		t.Fatal(err)
	}
	for _, rec := range []*recorder{bob1, bob2} {
		var p signalPayload
		if !rec.last(EventSignal, &p) || p.FromUserID != "alice" || p.RoomID != "r" || string(p.Signal) != `{"sdp":"x"}` {
			t.Fatalf("signal = %+v", p)
		}
	}
	if err := f.orch.Signal("c-alice", "r", "nobody", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("offline target: %v", err)
	}
}

func TestSlowConnectionIsKicked(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("c-alice", "alice")
	f.connect("c-bob", "bob")
	f.join(t, "c-alice", "r")
	alice.mu.Lock()
	alice.full = true
	alice.mu.Unlock()

	f.join(t, "c-bob", "r")
	if !*f.cancel["c-alice"] {
		t.Fatal("slow connection not kicked")
	}
	if *f.cancel["c-bob"] {
		t.Fatal("healthy connection kicked")
	}
}
