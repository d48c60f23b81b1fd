package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
)

type sessionEntry struct {
	UserID domain.UserID
	Name   string
	RoomID domain.RoomID
	Caps   domain.RtpCapabilities
	Signal core.SignalConnection
	Cancel context.CancelFunc
}

// Registry indexes live signaling connections by id, by user (the
// personal channel and presence) and by room (the room scope).
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ConnID]*sessionEntry
	users    map[domain.UserID]map[domain.ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.ConnID]*sessionEntry),
		users:    make(map[domain.UserID]map[domain.ConnID]struct{}),
	}
}

// Bind registers an authenticated connection. first is true when it is
// the user's only connection.
func (r *Registry) Bind(cid domain.ConnID, id domain.Identity, sig core.SignalConnection, cancel context.CancelFunc) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid := id.UserID
	r.sessions[cid] = &sessionEntry{UserID: uid, Name: id.DisplayName, Signal: sig, Cancel: cancel}
	conns, ok := r.users[uid]
	if !ok {
		conns = make(map[domain.ConnID]struct{})
		r.users[uid] = conns
	}
	conns[cid] = struct{}{}
	metrics.ConnectionsActive.Inc()
	log.Info().Str("module", "app.registry").Str("conn_id", cid.String()).Str("user_id", uid.String()).Msg("bound connection")
	return len(conns) == 1
}

// Unbind forgets the connection. last is true when the user has no
// connection left.
func (r *Registry) Unbind(cid domain.ConnID) (uid domain.UserID, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[cid]
	if !ok {
		return "", false
	}
	delete(r.sessions, cid)
	metrics.ConnectionsActive.Dec()
	conns := r.users[e.UserID]
	delete(conns, cid)
	if len(conns) == 0 {
		delete(r.users, e.UserID)
		last = true
	}
	log.Info().Str("module", "app.registry").Str("conn_id", cid.String()).Str("user_id", e.UserID.String()).Msg("unbind connection")
	return e.UserID, last
}

func (r *Registry) UserOf(cid domain.ConnID) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[cid]
	if !ok {
		return domain.Identity{}, false
	}
	return domain.Identity{UserID: e.UserID, DisplayName: e.Name}, true
}

func (r *Registry) RoomOf(cid domain.ConnID) (domain.RoomID, domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[cid]
	if !ok || e.RoomID == "" {
		return "", "", false
	}
	return e.RoomID, e.UserID, true
}

func (r *Registry) UpdateRoom(cid domain.ConnID, roomID domain.RoomID, caps domain.RtpCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[cid]
	if !ok {
		return false
	}
	e.RoomID = roomID
	e.Caps = caps
	log.Info().Str("module", "app.registry").Str("conn_id", cid.String()).Str("room_id", roomID.String()).Msg("updated room")
	return true
}

// RemoveRoom clears the connection's room scope and returns what it was.
// Only the first of several concurrent callers gets ok == true.
func (r *Registry) RemoveRoom(cid domain.ConnID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[cid]
	if !ok || e.RoomID == "" {
		return "", false
	}
	prev := e.RoomID
	e.RoomID = ""
	e.Caps = domain.RtpCapabilities{}
	log.Info().Str("module", "app.registry").Str("conn_id", cid.String()).Str("room_id", prev.String()).Msg("removed room association")
	return prev, true
}

// DetachRoom empties the room scope in one step and returns who was in it.
func (r *Registry) DetachRoom(roomID domain.RoomID) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Member
	for cid, e := range r.sessions {
		if e.RoomID != roomID {
			continue
		}
		out = append(out, Member{CID: cid, UserID: e.UserID, Signal: e.Signal})
		e.RoomID = ""
		e.Caps = domain.RtpCapabilities{}
	}
	return out
}

func (r *Registry) SetCapabilities(cid domain.ConnID, caps domain.RtpCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[cid]
	if !ok {
		return false
	}
	e.Caps = caps
	return true
}

func (r *Registry) Capabilities(cid domain.ConnID) domain.RtpCapabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[cid]; ok {
		return e.Caps
	}
	return domain.RtpCapabilities{}
}

// Member is a snapshot of one connection in a scope.
type Member struct {
	CID    domain.ConnID
	UserID domain.UserID
	Signal core.SignalConnection
}

func (r *Registry) MembersOfRoom(roomID domain.RoomID) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.sessions))
	for cid, e := range r.sessions {
		if e.RoomID == roomID {
			out = append(out, Member{CID: cid, UserID: e.UserID, Signal: e.Signal})
		}
	}
	return out
}

// ConnsOfUser is the user's personal channel.
func (r *Registry) ConnsOfUser(uid domain.UserID) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.users[uid]
	out := make([]Member, 0, len(conns))
	for cid := range conns {
		if e, ok := r.sessions[cid]; ok {
			out = append(out, Member{CID: cid, UserID: uid, Signal: e.Signal})
		}
	}
	return out
}

func (r *Registry) All() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.sessions))
	for cid, e := range r.sessions {
		out = append(out, Member{CID: cid, UserID: e.UserID, Signal: e.Signal})
	}
	return out
}

func (r *Registry) Online(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[uid]) > 0
}

func (r *Registry) Cancel(cid domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.sessions[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn_id", cid.String()).Msg("canceled connection")
	return true
}
