package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/VoiceCall/internal/domain"
)

type createTransportPayload struct {
	Direction domain.Direction `json:"direction"`
}

type connectTransportPayload struct {
	TransportID string `json:"transportId"`
	domain.ConnectParams
}

type producePayload struct {
	TransportID   string               `json:"transportId"`
	Kind          domain.MediaKind     `json:"kind"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
	AppData       domain.AppData       `json:"appData,omitempty"`
}

type produceResult struct {
	ProducerID string `json:"producerId"`
}

type consumePayload struct {
	ProducerID string `json:"producerId"`
}

type resumePayload struct {
	ConsumerID string `json:"consumerId"`
}

func (ctl *SignalWSController) handleCreateTransport(ctx context.Context, cid domain.ConnID, data json.RawMessage) (any, error) {
	p, err := decode[createTransportPayload](data)
	if err != nil {
		return nil, err
	}
	if !p.Direction.Valid() {
		return nil, fmt.Errorf("direction %q: %w", p.Direction, domain.ErrBadPayload)
	}
	return ctl.Orch.CreateTransport(ctx, cid, p.Direction)
}

func (ctl *SignalWSController) handleConnectTransport(ctx context.Context, cid domain.ConnID, data json.RawMessage) (any, error) {
	p, err := decode[connectTransportPayload](data)
	if err != nil {
		return nil, err
	}
	if p.TransportID == "" {
		return nil, fmt.Errorf("transportId: %w", domain.ErrBadPayload)
	}
	return nil, ctl.Orch.ConnectTransport(ctx, cid, p.TransportID, p.ConnectParams)
}

func (ctl *SignalWSController) handleProduce(ctx context.Context, cid domain.ConnID, data json.RawMessage) (any, error) {
	p, err := decode[producePayload](data)
	if err != nil {
		return nil, err
	}
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("kind %q: %w", p.Kind, domain.ErrBadPayload)
	}
	if len(p.RtpParameters.Codecs) == 0 {
		return nil, fmt.Errorf("rtpParameters without codecs: %w", domain.ErrBadPayload)
	}
	id, err := ctl.Orch.Produce(ctx, cid, p.TransportID, p.Kind, p.RtpParameters, p.AppData)
	if err != nil {
		return nil, err
	}
	return produceResult{ProducerID: id}, nil
}

func (ctl *SignalWSController) handleConsume(ctx context.Context, cid domain.ConnID, data json.RawMessage) (any, error) {
	p, err := decode[consumePayload](data)
	if err != nil {
		return nil, err
	}
	if p.ProducerID == "" {
		return nil, fmt.Errorf("producerId: %w", domain.ErrBadPayload)
	}
	return ctl.Orch.Consume(ctx, cid, p.ProducerID)
}

func (ctl *SignalWSController) handleResumeConsumer(ctx context.Context, cid domain.ConnID, data json.RawMessage) (any, error) {
	p, err := decode[resumePayload](data)
	if err != nil {
		return nil, err
	}
	return nil, ctl.Orch.ResumeConsumer(ctx, cid, p.ConsumerID)
}
