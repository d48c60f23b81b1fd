package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
)

// WorkerSource is what the registry needs from the pool.
type WorkerSource interface {
	Acquire() (core.Worker, error)
}

type RoomRegistryConfig struct {
	Codecs        []domain.RtpCodecCapability
	Transport     core.TransportOptions
	EngineTimeout time.Duration
}

// RoomRegistry maps room ids to live rooms. Creation is linearized per
// room id, so a burst of first joins builds exactly one router.
type RoomRegistry struct {
	workers WorkerSource
	cfg     RoomRegistryConfig
	events  core.EventPublisher

	mu       sync.RWMutex
	rooms    map[domain.RoomID]*Room
	creating singleflight.Group
}

func NewRoomRegistry(workers WorkerSource, cfg RoomRegistryConfig, events core.EventPublisher) *RoomRegistry {
	return &RoomRegistry{
		workers: workers,
		cfg:     cfg,
		events:  events,
		rooms:   make(map[domain.RoomID]*Room),
	}
}

// GetRoom returns the live room, if any.
func (f *RoomRegistry) GetRoom(id domain.RoomID) (*Room, bool) {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if !ok || room.Closed() {
		return nil, false
	}
	return room, true
}

func (f *RoomRegistry) GetOrCreateRoom(ctx context.Context, id domain.RoomID) (*Room, error) {
	if room, ok := f.GetRoom(id); ok {
		return room, nil
	}
	// Waiters share the first caller's creation, so it must not die with that caller.
	createCtx := context.WithoutCancel(ctx)
	v, err, _ := f.creating.Do(string(id), func() (any, error) {
		if room, ok := f.GetRoom(id); ok {
			return room, nil
		}
		return f.create(createCtx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

func (f *RoomRegistry) create(ctx context.Context, id domain.RoomID) (*Room, error) {
	w, err := f.workers.Acquire()
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", id, err)
	}
	router, err := callEngine(ctx, f.cfg.EngineTimeout, "create_router",
		func(ctx context.Context) (core.Router, error) { return w.CreateRouter(ctx, f.cfg.Codecs) },
		func(r core.Router) { _ = r.Close() },
	)
	if err != nil {
		select {
		case <-w.Died():
			return nil, fmt.Errorf("room %s: %w: %w", id, domain.ErrWorkerDied, err)
		default:
		}
		return nil, fmt.Errorf("room %s: %w", id, err)
	}

	room := &Room{
		id:            id,
		router:        router,
		workerPID:     w.PID(),
		createdAt:     time.Now(),
		transportOpts: f.cfg.Transport,
		timeout:       f.cfg.EngineTimeout,
		peers:         make(map[domain.UserID]*PeerSession),
	}
	f.mu.Lock()
	f.rooms[id] = room
	f.mu.Unlock()
	metrics.RoomsActive.Inc()

	log.Info().Str("module", "app.rooms").Str("room_id", id.String()).Int("worker_pid", w.PID()).
		Str("router_id", router.ID()).Msg("room created")
	f.publish(domain.NewCallEvent(domain.EventRoomOpened, id, "", ""))
	return room, nil
}

// Join adds userID to the room, creating the room when needed. A
// rejoin returns the existing session with created == false.
func (f *RoomRegistry) Join(ctx context.Context, id domain.RoomID, userID domain.UserID) (*Room, *PeerSession, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		room, err := f.GetOrCreateRoom(ctx, id)
		if err != nil {
			return nil, nil, false, err
		}
		peer, created, err := room.addPeer(userID)
		if errors.Is(err, errRoomClosed) {
			// Lost a race with the last leaver; the next lookup builds a fresh room.
			continue
		}
		return room, peer, created, err
	}
	return nil, nil, false, fmt.Errorf("room %s kept closing during join: %w", id, domain.ErrEngineFailure)
}

// RemovePeer tears the peer down. The room is evicted once it is empty.
// Removing an absent peer is a no-op.
func (f *RoomRegistry) RemovePeer(id domain.RoomID, userID domain.UserID) (bool, error) {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if !ok {
		return false, nil
	}
	removed, empty, err := room.removePeer(userID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.rooms").Str("room_id", id.String()).
			Str("user_id", userID.String()).Msg("peer teardown incomplete")
	}
	if empty {
		f.evict(room, "empty")
	}
	return removed, err
}

// CloseRoom removes every peer and the room itself. The room is gone
// afterwards even when some teardown failed; those failures are returned.
func (f *RoomRegistry) CloseRoom(id domain.RoomID) ([]domain.UserID, error) {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	users, err := room.drain()
	f.evict(room, "closed")
	if err != nil {
		log.Warn().Err(err).Str("module", "app.rooms").Str("room_id", id.String()).Msg("room closed with errors")
	}
	return users, err
}

func (f *RoomRegistry) List() []domain.RoomInfo {
	f.mu.RLock()
	rooms := make([]*Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		rooms = append(rooms, r)
	}
	f.mu.RUnlock()

	out := make([]domain.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		if r.Closed() {
			continue
		}
		out = append(out, r.Info())
	}
	return out
}

// CloseAll shuts every room down.
func (f *RoomRegistry) CloseAll() {
	f.mu.RLock()
	ids := make([]domain.RoomID, 0, len(f.rooms))
	for id := range f.rooms {
		ids = append(ids, id)
	}
	f.mu.RUnlock()
	for _, id := range ids {
		_, _ = f.CloseRoom(id)
	}
}

func (f *RoomRegistry) evict(room *Room, reason string) {
	room.evicted.Do(func() {
		f.mu.Lock()
		if f.rooms[room.id] == room {
			delete(f.rooms, room.id)
		}
		f.mu.Unlock()
		metrics.RoomsActive.Dec()

		if err := room.router.Close(); err != nil {
			log.Warn().Err(err).Str("module", "app.rooms").Str("room_id", room.id.String()).Msg("router close")
		}
		log.Info().Str("module", "app.rooms").Str("room_id", room.id.String()).Str("reason", reason).Msg("room closed")
		f.publish(domain.NewCallEvent(domain.EventRoomClosed, room.id, "", reason))
	})
}

func (f *RoomRegistry) publish(ev domain.CallEvent) {
	if f.events == nil {
		return
	}
	if err := f.events.Publish(context.Background(), ev); err != nil {
		log.Warn().Err(err).Str("module", "app.rooms").Str("event", string(ev.Type)).Msg("publish event")
	}
}
