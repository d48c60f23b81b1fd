package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceCall/internal/domain"
)

type JoinResult struct {
	RouterCapabilities domain.RtpCapabilities `json:"routerCapabilities"`
	ExistingProducers  []domain.ProducerInfo  `json:"existingProducers"`
}

type userJoinedPayload struct {
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName,omitempty"`
	ProducerIDs []string      `json:"producerIds"`
}

type userLeftPayload struct {
	UserID domain.UserID `json:"userId"`
	RoomID domain.RoomID `json:"roomId"`
}

type endedPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

// Join puts the connection into roomID, leaving any other room first.
// Joining the same room again returns the existing session.
func (o *Orchestrator) Join(ctx context.Context, cid domain.ConnID, roomID domain.RoomID, caps domain.RtpCapabilities) (JoinResult, error) {
	id, ok := o.Registry.UserOf(cid)
	if !ok {
		return JoinResult{}, domain.ErrUnauthorized
	}
	if roomID == "" {
		return JoinResult{}, fmt.Errorf("empty room id: %w", domain.ErrBadPayload)
	}
	if current, _, ok := o.Registry.RoomOf(cid); ok && current != roomID {
		log.Info().Str("module", "orch").Str("conn_id", cid.String()).Str("from_room", current.String()).Msg("switching rooms")
		o.Leave(cid)
	}

	room, peer, created, err := o.Rooms.Join(ctx, roomID, id.UserID)
	if err != nil {
		return JoinResult{}, err
	}
	o.Registry.UpdateRoom(cid, roomID, caps)
	if room.Closed() {
		// closed under us while joining
		o.Registry.RemoveRoom(cid)
		return JoinResult{}, fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}

	res := JoinResult{
		RouterCapabilities: room.RtpCapabilities(),
		ExistingProducers:  room.Producers(id.UserID),
	}
	if res.ExistingProducers == nil {
		res.ExistingProducers = []domain.ProducerInfo{}
	}

	if created {
		log.Info().Str("module", "orch").Str("room_id", roomID.String()).Str("user_id", id.UserID.String()).Msg("peer joined")
		o.push(except(o.Registry.MembersOfRoom(roomID), id.UserID), EventUserJoined, userJoinedPayload{
			UserID:      id.UserID,
			DisplayName: id.DisplayName,
			ProducerIDs: peer.ProducerIDs(),
		})
		o.publish(domain.NewCallEvent(domain.EventPeerJoined, roomID, id.UserID, ""))
	}
	return res, nil
}

// UpdateCapabilities replaces what the connection can receive.
func (o *Orchestrator) UpdateCapabilities(cid domain.ConnID, caps domain.RtpCapabilities) error {
	if !o.Registry.SetCapabilities(cid, caps) {
		return domain.ErrUnauthorized
	}
	return nil
}

// Leave tears down the connection's peer and tells the rest of the room.
// It is a no-op when the connection is in no room, so a leave racing a
// disconnect runs once.
func (o *Orchestrator) Leave(cid domain.ConnID) {
	roomID, ok := o.Registry.RemoveRoom(cid)
	if !ok {
		return
	}
	id, _ := o.Registry.UserOf(cid)

	removed, err := o.Rooms.RemovePeer(roomID, id.UserID)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room_id", roomID.String()).Str("user_id", id.UserID.String()).Msg("leave teardown")
	}
	if !removed {
		return
	}
	log.Info().Str("module", "orch").Str("room_id", roomID.String()).Str("user_id", id.UserID.String()).Msg("peer left")
	o.push(o.Registry.MembersOfRoom(roomID), EventUserLeft, userLeftPayload{UserID: id.UserID, RoomID: roomID})
	o.publish(domain.NewCallEvent(domain.EventPeerLeft, roomID, id.UserID, ""))
}

// EndForAll force-closes a call. Only a room admin may do it. Members are
// told before their sessions go away; the call is then marked inactive in
// the store on a best-effort basis.
func (o *Orchestrator) EndForAll(ctx context.Context, cid domain.ConnID, roomID domain.RoomID) error {
	id, ok := o.Registry.UserOf(cid)
	if !ok {
		return domain.ErrUnauthorized
	}
	if roomID == "" {
		return fmt.Errorf("empty room id: %w", domain.ErrBadPayload)
	}

	authCtx, cancel := context.WithTimeout(ctx, o.storeTimeout())
	admin, err := o.Store.IsRoomAdmin(authCtx, roomID, id.UserID)
	cancel()
	if err != nil {
		return fmt.Errorf("admin check: %w: %w", domain.ErrForbidden, err)
	}
	if !admin {
		return domain.ErrForbidden
	}

	log.Info().Str("module", "orch").Str("room_id", roomID.String()).Str("user_id", id.UserID.String()).Msg("ending call for all")
	members := o.Registry.DetachRoom(roomID)
	o.push(members, EventEnded, endedPayload{RoomID: roomID})

	users, err := o.Rooms.CloseRoom(roomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room_id", roomID.String()).Msg("forced close incomplete")
	}
	// joins that landed between the first detach and the close
	if late := o.Registry.DetachRoom(roomID); len(late) > 0 {
		o.push(late, EventEnded, endedPayload{RoomID: roomID})
	}
	for _, uid := range users {
		o.publish(domain.NewCallEvent(domain.EventPeerLeft, roomID, uid, "ended"))
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.storeTimeout())
	defer cancel()
	if err := o.Store.DeactivateCall(storeCtx, roomID); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room_id", roomID.String()).Msg("deactivate call")
	}
	o.publish(domain.NewCallEvent(domain.EventCallEnded, roomID, id.UserID, ""))
	return nil
}

func (o *Orchestrator) RoomList() []domain.RoomInfo {
	return o.Rooms.List()
}
