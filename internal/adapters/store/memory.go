package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// MemoryStore keeps room admins and active calls in process.
type MemoryStore struct {
	mu       sync.RWMutex
	admins   map[domain.RoomID]map[domain.UserID]struct{}
	inactive map[domain.RoomID]bool
}

func NewMemoryStore(admins map[string][]string) *MemoryStore {
	s := &MemoryStore{
		admins:   make(map[domain.RoomID]map[domain.UserID]struct{}, len(admins)),
		inactive: make(map[domain.RoomID]bool),
	}
	for room, users := range admins {
		for _, u := range users {
			s.Grant(domain.RoomID(room), domain.UserID(u))
		}
	}
	return s
}

func (s *MemoryStore) Grant(roomID domain.RoomID, uid domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.admins[roomID]
	if !ok {
		set = make(map[domain.UserID]struct{})
		s.admins[roomID] = set
	}
	set[uid] = struct{}{}
}

func (s *MemoryStore) IsRoomAdmin(_ context.Context, roomID domain.RoomID, uid domain.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.admins[roomID][uid]
	return ok, nil
}

func (s *MemoryStore) DeactivateCall(_ context.Context, roomID domain.RoomID) error {
	s.mu.Lock()
	s.inactive[roomID] = true
	s.mu.Unlock()
	log.Info().Str("module", "store").Str("room_id", roomID.String()).Msg("call deactivated")
	return nil
}

func (s *MemoryStore) Deactivated(roomID domain.RoomID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inactive[roomID]
}
