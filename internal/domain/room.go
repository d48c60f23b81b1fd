package domain

import "time"

// RoomID is the external, stable identifier of a chat room hosting a call.
type RoomID string

func (id RoomID) String() string { return string(id) }

// RoomInfo is a read-only view of an active call room.
type RoomInfo struct {
	ID        RoomID    `json:"id"`
	PeerCount int       `json:"peer_count"`
	WorkerPID int       `json:"worker_pid"`
	RouterID  string    `json:"router_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PeerStats counts the media resources one peer holds.
type PeerStats struct {
	Transports int `json:"transports"`
	Producers  int `json:"producers"`
	Consumers  int `json:"consumers"`
}
