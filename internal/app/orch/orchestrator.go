package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
)

// Push events sent to clients.
const (
	EventUserJoined  = "user-joined"
	EventUserLeft    = "user-left"
	EventNewProducer = "new-producer"
	EventEnded       = "ended"
	EventSignal      = "signal"
	EventUserOnline  = "user-online"
	EventUserOffline = "user-offline"
)

const defaultStoreTimeout = 5 * time.Second

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomRegistry
	Policy   app.Policy
	Auth     core.Authenticator
	Store    core.CallStore
	Events   core.EventPublisher

	StoreTimeout time.Duration
}

// Authenticate resolves the bearer token presented when a connection opens.
func (o *Orchestrator) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, fmt.Errorf("missing token: %w", domain.ErrUnauthorized)
	}
	id, err := o.Auth.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return domain.Identity{}, err
		}
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	if id.UserID == "" {
		return domain.Identity{}, fmt.Errorf("empty subject: %w", domain.ErrUnauthorized)
	}
	return id, nil
}

// Connect registers an authenticated connection and announces the user
// when it is their first one.
func (o *Orchestrator) Connect(cid domain.ConnID, id domain.Identity, sig core.SignalConnection, cancel context.CancelFunc) {
	if first := o.Registry.Bind(cid, id, sig, cancel); first {
		log.Info().Str("module", "orch").Str("user_id", id.UserID.String()).Msg("user online")
		o.push(o.Registry.All(), EventUserOnline, presencePayload{UserID: id.UserID})
	}
}

// Disconnect behaves as leave-room followed by forgetting the connection.
func (o *Orchestrator) Disconnect(cid domain.ConnID) {
	o.Leave(cid)
	uid, last := o.Registry.Unbind(cid)
	if last {
		log.Info().Str("module", "orch").Str("user_id", uid.String()).Msg("user offline")
		o.push(o.Registry.All(), EventUserOffline, presencePayload{UserID: uid})
	}
}

// KickByConn drops a connection. Its read loop exits and runs Disconnect.
func (o *Orchestrator) KickByConn(cid domain.ConnID) {
	o.Registry.Cancel(cid)
}

func (o *Orchestrator) push(to []app.Member, event string, data any) {
	if len(to) == 0 {
		return
	}
	frame, err := core.EncodePush(event, data)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode push")
		return
	}
	for _, snap := range to {
		err := snap.Signal.TrySend(frame)
		if err == nil || !errors.Is(err, core.ErrBackpressure) {
			continue
		}
		metrics.SlowConsumers.Inc()
		if o.Policy == nil {
			continue
		}
		switch o.Policy.OnBackPressure(event, snap.CID) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("conn_id", snap.CID.String()).Str("event", event).Msg("kicking slow connection")
			o.KickByConn(snap.CID)
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

func except(snaps []app.Member, uid domain.UserID) []app.Member {
	out := snaps[:0]
	for _, s := range snaps {
		if s.UserID != uid {
			out = append(out, s)
		}
	}
	return out
}

func (o *Orchestrator) publish(ev domain.CallEvent) {
	if o.Events == nil {
		return
	}
	if err := o.Events.Publish(context.Background(), ev); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("event", string(ev.Type)).Msg("publish event")
	}
}

func (o *Orchestrator) storeTimeout() time.Duration {
	if o.StoreTimeout > 0 {
		return o.StoreTimeout
	}
	return defaultStoreTimeout
}

type presencePayload struct {
	UserID domain.UserID `json:"userId"`
}
