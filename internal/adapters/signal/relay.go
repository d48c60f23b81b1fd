package signal

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// relayPayload is an opaque peer-to-peer message (e.g. a chat-side
// WebRTC offer) forwarded to every connection of the target user.
type relayPayload struct {
	RoomID       domain.RoomID   `json:"roomId"`
	TargetUserID domain.UserID   `json:"targetUserId"`
	Signal       json.RawMessage `json:"signal"`
}

func (ctl *SignalWSController) handleRelay(cid domain.ConnID, data json.RawMessage) (any, error) {
	p, err := decode[relayPayload](data)
	if err != nil {
		return nil, err
	}
	if p.TargetUserID == "" || len(p.Signal) == 0 {
		return nil, fmt.Errorf("signal needs targetUserId and signal: %w", domain.ErrBadPayload)
	}
	return nil, ctl.Orch.Signal(cid, p.RoomID, p.TargetUserID, p.Signal)
}
