package domain

import "time"

type CallEventType string

const (
	EventRoomOpened CallEventType = "room.opened"
	EventRoomClosed CallEventType = "room.closed"
	EventCallEnded  CallEventType = "call.ended"
	EventPeerJoined CallEventType = "peer.joined"
	EventPeerLeft   CallEventType = "peer.left"
)

type CallEvent struct {
	Type   CallEventType `json:"type"`
	RoomID RoomID        `json:"room_id"`
	UserID UserID        `json:"user_id,omitempty"`
	Reason string        `json:"reason,omitempty"`
	At     time.Time     `json:"at"`
}

func NewCallEvent(t CallEventType, roomID RoomID, userID UserID, reason string) CallEvent {
	return CallEvent{Type: t, RoomID: roomID, UserID: userID, Reason: reason, At: time.Now().UTC()}
}
