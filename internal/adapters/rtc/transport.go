package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

var (
	errTransportClosed  = errors.New("transport closed")
	errAlreadyConnected = errors.New("transport already connected")
	errNoCandidates     = errors.New("no local ice candidates")
)

// Transport is one ICE+DTLS association. Connect starts ICE and DTLS in
// the background; Produce waits for DTLS, Consume does not.
type Transport struct {
	id       string
	router   *Router
	dir      domain.Direction
	desc     domain.TransportDescriptor
	logger   zerolog.Logger
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	ready chan struct{}
	done  chan struct{}

	mu         sync.Mutex
	closed     bool
	connecting bool
	producers  map[string]*Producer
	consumers  map[string]*Consumer
}

func newTransport(ctx context.Context, r *Router, opts core.TransportOptions) (*Transport, error) {
	api := r.w.api
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: iceServers(r.w.cfg.ICEServers)})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	gathered := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("gather: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local ice parameters: %w", err)
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local candidates: %w", err)
	}
	if len(candidates) == 0 {
		_ = gatherer.Close()
		return nil, fmt.Errorf("listen ip %q: %w", r.w.cfg.ListenIP, errNoCandidates)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local dtls parameters: %w", err)
	}

	id := uuid.NewString()
	t := &Transport{
		id:     id,
		router: r,
		dir:    opts.Direction,
		desc: domain.TransportDescriptor{
			ID: id,
			IceParameters: domain.IceParameters{
				UsernameFragment: iceParams.UsernameFragment,
				Password:         iceParams.Password,
				IceLite:          iceParams.ICELite,
			},
			IceCandidates:  fromPionCandidates(candidates),
			DtlsParameters: fromPionDTLS(dtlsParams),
		},
		logger:    r.w.logger.With().Str("module", "rtc.transport").Str("transport_id", id).Logger(),
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
	t.logger.Debug().Str("direction", string(t.dir)).Int("candidates", len(candidates)).Msg("transport created")
	return t, nil
}

func (t *Transport) ID() string                             { return t.id }
func (t *Transport) Direction() domain.Direction            { return t.dir }
func (t *Transport) Descriptor() domain.TransportDescriptor { return t.desc }

func (t *Transport) Connect(_ context.Context, params domain.ConnectParams) error {
	if params.IceParameters == nil {
		return fmt.Errorf("remote ice parameters required: %w", domain.ErrBadPayload)
	}
	remoteDTLS, err := toPionDTLS(params.DtlsParameters)
	if err != nil {
		return err
	}
	remoteCandidates, err := toPionCandidates(params.IceCandidates)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errTransportClosed
	}
	if t.connecting {
		t.mu.Unlock()
		return errAlreadyConnected
	}
	t.connecting = true
	t.mu.Unlock()

	if err := t.ice.SetRemoteCandidates(remoteCandidates); err != nil {
		return fmt.Errorf("remote candidates: %w", err)
	}
	remoteICE := webrtc.ICEParameters{
		UsernameFragment: params.IceParameters.UsernameFragment,
		Password:         params.IceParameters.Password,
		ICELite:          params.IceParameters.IceLite,
	}

	t.router.w.spawn(func(context.Context) {
		role := webrtc.ICERoleControlled
		if err := t.ice.Start(nil, remoteICE, &role); err != nil {
			t.logger.Warn().Err(err).Msg("ice start")
			return
		}
		if err := t.dtls.Start(remoteDTLS); err != nil {
			t.logger.Warn().Err(err).Msg("dtls start")
			return
		}
		close(t.ready)
		t.logger.Info().Msg("transport connected")
	})
	return nil
}

func (t *Transport) waitReady(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-t.done:
		return errTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) Produce(ctx context.Context, opts core.ProduceOptions) (core.Producer, error) {
	if t.dir != domain.DirectionSend {
		return nil, fmt.Errorf("produce on %s transport: %w", t.dir, domain.ErrBadPayload)
	}
	params := opts.RtpParameters
	if len(params.Codecs) == 0 || len(params.Encodings) == 0 || params.Encodings[0].SSRC == 0 {
		return nil, fmt.Errorf("rtp parameters need a codec and an ssrc: %w", domain.ErrBadPayload)
	}
	codec := params.Codecs[0]
	capability, ok := matchCapability(t.router.caps, codec)
	if !ok {
		return nil, fmt.Errorf("codec %s: %w", codec.MimeType, domain.ErrUnsupported)
	}
	// the worker only demuxes the payload types it registered
	if codec.PayloadType != capability.PreferredPayloadType {
		return nil, fmt.Errorf("codec %s payload type %d, router uses %d: %w",
			codec.MimeType, codec.PayloadType, capability.PreferredPayloadType, domain.ErrUnsupported)
	}
	if err := t.waitReady(ctx); err != nil {
		return nil, err
	}

	recv, err := t.router.w.api.NewRTPReceiver(codecType(opts.Kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	err = recv.Receive(webrtc.RTPReceiveParameters{Encodings: []webrtc.RTPDecodingParameters{{
		RTPCodingParameters: webrtc.RTPCodingParameters{
			SSRC:        webrtc.SSRC(params.Encodings[0].SSRC),
			PayloadType: webrtc.PayloadType(codec.PayloadType),
		},
	}}})
	if err != nil {
		_ = recv.Stop()
		return nil, fmt.Errorf("receive: %w", err)
	}

	p := newProducer(t, recv, opts, codec, capability)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = p.Close()
		return nil, errTransportClosed
	}
	t.producers[p.id] = p
	t.mu.Unlock()

	t.router.addProducer(p)
	t.router.w.spawn(p.relay.loop)
	return p, nil
}

func (t *Transport) Consume(_ context.Context, opts core.ConsumeOptions) (core.Consumer, error) {
	if t.dir != domain.DirectionRecv {
		return nil, fmt.Errorf("consume on %s transport: %w", t.dir, domain.ErrBadPayload)
	}
	p, ok := t.router.producer(opts.ProducerID)
	if !ok {
		return nil, fmt.Errorf("producer %s: %w", opts.ProducerID, domain.ErrNotFound)
	}
	if !opts.RtpCapabilities.Supports(p.codec) {
		return nil, fmt.Errorf("producer %s: %w", p.id, domain.ErrUnsupported)
	}

	id := uuid.NewString()
	streamID := fmt.Sprint(p.appData["userId"])
	local, err := webrtc.NewTrackLocalStaticRTP(toPionCapability(p.capability), p.id, streamID)
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.router.w.api.NewRTPSender(local, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("send: %w", err)
	}

	c := &Consumer{
		id:        id,
		producer:  p,
		transport: t,
		sender:    sender,
		out:       NewOutTrack(local, opts.Paused),
		params:    fromSendParameters(sendParams, p.codec.MimeType),
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = c.Close()
		return nil, errTransportClosed
	}
	t.consumers[id] = c
	t.mu.Unlock()

	if !p.attach(c) {
		_ = c.Close()
		return nil, fmt.Errorf("producer %s: %w", p.id, domain.ErrNotFound)
	}
	t.router.w.spawn(c.readRTCP)
	return c, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	t.consumers = map[string]*Consumer{}
	t.producers = map[string]*Producer{}
	t.mu.Unlock()

	for _, c := range consumers {
		c.transportClosed.fire()
		_ = c.Close()
	}
	for _, p := range producers {
		p.transportClosed.fire()
		_ = p.Close()
	}

	var errs []error
	if err := t.dtls.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("dtls stop: %w", err))
	}
	if err := t.ice.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("ice stop: %w", err))
	}
	if err := t.gatherer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("gatherer close: %w", err))
	}
	t.router.forgetTransport(t.id)
	t.logger.Debug().Msg("transport closed")
	return errors.Join(errs...)
}

func (t *Transport) forgetProducer(id string) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) forgetConsumer(id string) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}
