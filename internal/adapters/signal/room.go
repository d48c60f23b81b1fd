package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// room ids are generated by the chat service; anything longer is garbage
const maxRoomIDLen = 64

type joinPayload struct {
	RoomID          domain.RoomID          `json:"roomId"`
	RtpCapabilities domain.RtpCapabilities `json:"rtpCapabilities"`
}

type capabilitiesPayload struct {
	RtpCapabilities domain.RtpCapabilities `json:"rtpCapabilities"`
}

type roomPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

func validRoomID(id domain.RoomID) error {
	if id == "" || len(id) > maxRoomIDLen {
		return fmt.Errorf("room id %q: %w", id, domain.ErrBadPayload)
	}
	return nil
}

func (ctl *SignalWSController) allow(cid domain.ConnID) error {
	id, ok := ctl.Orch.Registry.UserOf(cid)
	if !ok {
		return domain.ErrUnauthorized
	}
	if !ctl.Limiter.Allow(id.UserID) {
		log.Warn().Str("module", "signal").Str("user_id", id.UserID.String()).Msg("rate limited")
		return domain.ErrRateLimited
	}
	return nil
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, cid domain.ConnID, data json.RawMessage) (any, error) {
	p, err := decode[joinPayload](data)
	if err != nil {
		return nil, err
	}
	if err := validRoomID(p.RoomID); err != nil {
		return nil, err
	}
	if err := ctl.allow(cid); err != nil {
		return nil, err
	}
	return ctl.Orch.Join(ctx, cid, p.RoomID, p.RtpCapabilities)
}

func (ctl *SignalWSController) handleUpdateCapabilities(cid domain.ConnID, data json.RawMessage) (any, error) {
	p, err := decode[capabilitiesPayload](data)
	if err != nil {
		return nil, err
	}
	return nil, ctl.Orch.UpdateCapabilities(cid, p.RtpCapabilities)
}

func (ctl *SignalWSController) handleLeave(cid domain.ConnID) (any, error) {
	ctl.Orch.Leave(cid)
	return nil, nil
}

func (ctl *SignalWSController) handleEndForAll(ctx context.Context, cid domain.ConnID, data json.RawMessage) (any, error) {
	p, err := decode[roomPayload](data)
	if err != nil {
		return nil, err
	}
	if err := validRoomID(p.RoomID); err != nil {
		return nil, err
	}
	if err := ctl.allow(cid); err != nil {
		return nil, err
	}
	return nil, ctl.Orch.EndForAll(ctx, cid, p.RoomID)
}
