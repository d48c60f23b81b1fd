package rtc

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

// Producer receives one RTP stream and relays it to its consumers.
type Producer struct {
	id         string
	kind       domain.MediaKind
	appData    domain.AppData
	codec      domain.RtpCodecParameters
	capability domain.RtpCodecCapability
	ssrc       uint32

	transport *Transport
	recv      *webrtc.RTPReceiver
	relay     *Relay

	transportClosed hooks
	closedHooks     hooks

	mu        sync.Mutex
	closed    bool
	consumers map[string]*Consumer
}

func newProducer(
	t *Transport,
	recv *webrtc.RTPReceiver,
	opts core.ProduceOptions,
	codec domain.RtpCodecParameters,
	capability domain.RtpCodecCapability,
) *Producer {
	p := &Producer{
		id:         uuid.NewString(),
		kind:       opts.Kind,
		appData:    opts.AppData,
		codec:      codec,
		capability: capability,
		ssrc:       opts.RtpParameters.Encodings[0].SSRC,
		transport:  t,
		recv:       recv,
		consumers:  make(map[string]*Consumer),
	}
	p.relay = NewRelay(recv.Track(), t.logger.With().Str("module", "rtc.relay").Str("producer_id", p.id).Logger())
	// a stream that stops for good takes the producer with it
	p.relay.OnStop(func() { _ = p.Close() })
	return p
}

func (p *Producer) ID() string                 { return p.id }
func (p *Producer) Kind() domain.MediaKind     { return p.kind }
func (p *Producer) AppData() domain.AppData    { return p.appData }
func (p *Producer) OnTransportClose(fn func()) { p.transportClosed.add(fn) }
func (p *Producer) OnClose(fn func())          { p.closedHooks.add(fn) }

// RequestKeyFrame asks the sender for a fresh key frame.
func (p *Producer) RequestKeyFrame() {
	if p.kind != domain.KindVideo {
		return
	}
	if _, err := p.transport.dtls.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: p.ssrc}}); err != nil {
		p.transport.logger.Debug().Err(err).Str("producer_id", p.id).Msg("write PLI")
	}
}

// attach registers a consumer. It fails once the producer is closed.
func (p *Producer) attach(c *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.consumers[c.id] = c
	p.relay.AddOutTrack(c.id, c.out)
	return true
}

func (p *Producer) detach(consumerID string) {
	p.mu.Lock()
	delete(p.consumers, consumerID)
	p.mu.Unlock()
}

func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.consumers = map[string]*Consumer{}
	p.mu.Unlock()

	p.relay.markAllDelete()
	for _, c := range consumers {
		c.producerClosed.fire()
		_ = c.Close()
	}
	err := p.recv.Stop()
	p.transport.forgetProducer(p.id)
	p.transport.router.forgetProducer(p.id)
	p.closedHooks.fire()
	return err
}
