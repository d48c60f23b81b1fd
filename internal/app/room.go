package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
)

var errRoomClosed = errors.New("room closed")

// Room is one call: a router on one worker plus the peers joined to it.
// Once closed it never accepts peers again; a new Room takes its place.
type Room struct {
	id            domain.RoomID
	router        core.Router
	workerPID     int
	createdAt     time.Time
	transportOpts core.TransportOptions
	timeout       time.Duration

	mu      sync.RWMutex
	peers   map[domain.UserID]*PeerSession
	closed  bool
	evicted sync.Once
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) RtpCapabilities() domain.RtpCapabilities { return r.router.RtpCapabilities() }

func (r *Room) Peer(userID domain.UserID) (*PeerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[userID]
	return p, ok
}

func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Producers lists the producers of every peer except exclude.
func (r *Room) Producers(exclude domain.UserID) []domain.ProducerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ProducerInfo
	for uid, p := range r.peers {
		if uid == exclude {
			continue
		}
		out = append(out, p.Producers()...)
	}
	return out
}

func (r *Room) Info() domain.RoomInfo {
	return domain.RoomInfo{
		ID:        r.id,
		PeerCount: r.PeerCount(),
		WorkerPID: r.workerPID,
		RouterID:  r.router.ID(),
		CreatedAt: r.createdAt,
	}
}

func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// addPeer returns the existing session of userID or creates one.
func (r *Room) addPeer(userID domain.UserID) (*PeerSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, errRoomClosed
	}
	if p, ok := r.peers[userID]; ok {
		return p, false, nil
	}
	p := newPeerSession(userID, r)
	r.peers[userID] = p
	metrics.PeersActive.Inc()
	return p, true, nil
}

// removePeer closes and forgets one peer. The room closes itself when
// the last peer leaves; empty then tells the caller to evict it.
func (r *Room) removePeer(userID domain.UserID) (removed, empty bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[userID]
	if !ok {
		return false, false, nil
	}
	err = p.Close()
	delete(r.peers, userID)
	metrics.PeersActive.Dec()
	if len(r.peers) == 0 && !r.closed {
		r.closed = true
		empty = true
	}
	return true, empty, err
}

// drain closes every peer and marks the room closed.
func (r *Room) drain() ([]domain.UserID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	users := make([]domain.UserID, 0, len(r.peers))
	for uid, p := range r.peers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", uid, err))
		}
		delete(r.peers, uid)
		metrics.PeersActive.Dec()
		users = append(users, uid)
	}
	r.closed = true
	return users, errors.Join(errs...)
}
