// Package rtc is the in-process media engine built on pion's ORTC API.
// A worker is one webrtc.API with its own port range, codecs and
// interceptors; routers, transports, producers and consumers hang off it.
package rtc

import (
	"context"
	"sync/atomic"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

type Config struct {
	ListenIP    string
	AnnouncedIP string
	MinPort     uint16
	MaxPort     uint16
	ICEServers  []string
	Codecs      []domain.RtpCodecCapability
}

type Engine struct {
	cfg Config
	seq atomic.Int32
}

func NewEngine(cfg Config) *Engine {
	if len(cfg.Codecs) == 0 {
		cfg.Codecs = DefaultCodecs()
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) CreateWorker(ctx context.Context) (core.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newWorker(e.cfg, int(e.seq.Add(1)))
}
