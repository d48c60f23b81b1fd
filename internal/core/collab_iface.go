package core

import (
	"context"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// Authenticator verifies a bearer credential presented at connect time.
type Authenticator interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// CallStore is the room/call persistence owned by the chat API.
type CallStore interface {
	IsRoomAdmin(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error)
	DeactivateCall(ctx context.Context, roomID domain.RoomID) error
}

// EventPublisher ships call lifecycle events to other services.
// Publish must not block on the network.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.CallEvent) error
}

//go:generate mockgen -destination=mocks/collab_mock.go -package=mocks github.com/dkeye/VoiceCall/internal/core Authenticator,CallStore,EventPublisher
