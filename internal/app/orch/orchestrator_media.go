package orch

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/domain"
)

type newProducerPayload struct {
	ProducerID string           `json:"producerId"`
	UserID     domain.UserID    `json:"userId"`
	Kind       domain.MediaKind `json:"kind"`
	AppData    domain.AppData   `json:"appData,omitempty"`
}

type signalPayload struct {
	RoomID     domain.RoomID   `json:"roomId"`
	Signal     json.RawMessage `json:"signal"`
	FromUserID domain.UserID   `json:"fromUserId"`
}

// peerOf resolves the connection's active session. ErrNotInRoom means the
// request should be answered neutrally.
func (o *Orchestrator) peerOf(cid domain.ConnID) (*app.PeerSession, error) {
	roomID, uid, ok := o.Registry.RoomOf(cid)
	if !ok {
		return nil, domain.ErrNotInRoom
	}
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return nil, domain.ErrNotInRoom
	}
	peer, ok := room.Peer(uid)
	if !ok {
		return nil, domain.ErrNotInRoom
	}
	return peer, nil
}

func (o *Orchestrator) CreateTransport(ctx context.Context, cid domain.ConnID, dir domain.Direction) (domain.TransportDescriptor, error) {
	peer, err := o.peerOf(cid)
	if err != nil {
		return domain.TransportDescriptor{}, err
	}
	return peer.CreateTransport(ctx, dir)
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, cid domain.ConnID, transportID string, params domain.ConnectParams) error {
	peer, err := o.peerOf(cid)
	if err != nil {
		return err
	}
	return peer.ConnectTransport(ctx, transportID, params)
}

// Produce publishes media and announces it to everyone else in the room.
func (o *Orchestrator) Produce(
	ctx context.Context,
	cid domain.ConnID,
	transportID string,
	kind domain.MediaKind,
	params domain.RtpParameters,
	appData domain.AppData,
) (string, error) {
	peer, err := o.peerOf(cid)
	if err != nil {
		return "", err
	}
	producerID, err := peer.Produce(ctx, transportID, kind, params, appData)
	if err != nil {
		return "", err
	}

	data := appData.Clone()
	data["userId"] = peer.UserID().String()
	o.push(except(o.Registry.MembersOfRoom(peer.RoomID()), peer.UserID()), EventNewProducer, newProducerPayload{
		ProducerID: producerID,
		UserID:     peer.UserID(),
		Kind:       kind,
		AppData:    data,
	})
	return producerID, nil
}

// Consume uses the capabilities the connection declared on join.
func (o *Orchestrator) Consume(ctx context.Context, cid domain.ConnID, producerID string) (domain.ConsumerDescriptor, error) {
	peer, err := o.peerOf(cid)
	if err != nil {
		return domain.ConsumerDescriptor{}, err
	}
	return peer.Consume(ctx, producerID, o.Registry.Capabilities(cid))
}

func (o *Orchestrator) ResumeConsumer(ctx context.Context, cid domain.ConnID, consumerID string) error {
	peer, err := o.peerOf(cid)
	if err != nil {
		return err
	}
	return peer.ResumeConsumer(ctx, consumerID)
}

// Signal relays an opaque payload to every connection of target.
func (o *Orchestrator) Signal(cid domain.ConnID, roomID domain.RoomID, target domain.UserID, payload json.RawMessage) error {
	id, ok := o.Registry.UserOf(cid)
	if !ok {
		return domain.ErrUnauthorized
	}
	conns := o.Registry.ConnsOfUser(target)
	if len(conns) == 0 {
		log.Debug().Str("module", "orch").Str("target", target.String()).Msg("signal target offline")
		return nil
	}
	o.push(conns, EventSignal, signalPayload{RoomID: roomID, Signal: payload, FromUserID: id.UserID})
	return nil
}
