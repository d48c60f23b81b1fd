package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

// PeerSession is one user's media footprint inside one room. Every
// transport, producer and consumer it holds was created for this user.
type PeerSession struct {
	userID  domain.UserID
	roomID  domain.RoomID
	router  core.Router
	opts    core.TransportOptions
	timeout time.Duration
	logger  zerolog.Logger

	mu          sync.Mutex
	transports  map[string]core.Transport
	byDirection map[domain.Direction]string
	producers   map[string]core.Producer
	consumers   map[string]core.Consumer
	closed      bool
}

func newPeerSession(userID domain.UserID, room *Room) *PeerSession {
	return &PeerSession{
		userID:      userID,
		roomID:      room.id,
		router:      room.router,
		opts:        room.transportOpts,
		timeout:     room.timeout,
		logger:      log.With().Str("module", "app.peer").Str("room_id", room.id.String()).Str("user_id", userID.String()).Logger(),
		transports:  make(map[string]core.Transport),
		byDirection: make(map[domain.Direction]string),
		producers:   make(map[string]core.Producer),
		consumers:   make(map[string]core.Consumer),
	}
}

func (p *PeerSession) UserID() domain.UserID { return p.userID }
func (p *PeerSession) RoomID() domain.RoomID { return p.roomID }

// CreateTransport opens a transport for one direction. An existing
// transport of the same direction is closed and replaced.
func (p *PeerSession) CreateTransport(ctx context.Context, dir domain.Direction) (domain.TransportDescriptor, error) {
	if !dir.Valid() {
		return domain.TransportDescriptor{}, fmt.Errorf("direction %q: %w", dir, domain.ErrBadPayload)
	}
	if p.isClosed() {
		return domain.TransportDescriptor{}, domain.ErrNotFound
	}

	opts := p.opts
	opts.Direction = dir
	t, err := callEngine(ctx, p.timeout, "create_transport",
		func(ctx context.Context) (core.Transport, error) { return p.router.CreateTransport(ctx, opts) },
		func(t core.Transport) { _ = t.Close() },
	)
	if err != nil {
		return domain.TransportDescriptor{}, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = t.Close()
		return domain.TransportDescriptor{}, domain.ErrNotFound
	}
	var replaced core.Transport
	if oldID, ok := p.byDirection[dir]; ok {
		replaced = p.transports[oldID]
		delete(p.transports, oldID)
	}
	p.transports[t.ID()] = t
	p.byDirection[dir] = t.ID()
	p.mu.Unlock()

	if replaced != nil {
		p.logger.Info().Str("transport_id", replaced.ID()).Str("direction", string(dir)).Msg("replacing transport")
		if err := replaced.Close(); err != nil {
			p.logger.Warn().Err(err).Str("transport_id", replaced.ID()).Msg("close replaced transport")
		}
	}
	p.logger.Debug().Str("transport_id", t.ID()).Str("direction", string(dir)).Msg("transport created")
	return t.Descriptor(), nil
}

func (p *PeerSession) ConnectTransport(ctx context.Context, transportID string, params domain.ConnectParams) error {
	t, ok := p.transport(transportID)
	if !ok {
		return fmt.Errorf("transport %s: %w", transportID, domain.ErrNotFound)
	}
	return callEngineErr(ctx, p.timeout, "connect_transport", func(ctx context.Context) error {
		return t.Connect(ctx, params)
	})
}

// Produce starts publishing on the given send transport. appData is
// copied and tagged with the owning user id.
func (p *PeerSession) Produce(
	ctx context.Context,
	transportID string,
	kind domain.MediaKind,
	rtpParameters domain.RtpParameters,
	appData domain.AppData,
) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("kind %q: %w", kind, domain.ErrBadPayload)
	}
	t, ok := p.transport(transportID)
	if !ok {
		return "", fmt.Errorf("transport %s: %w", transportID, domain.ErrNotFound)
	}

	data := appData.Clone()
	data["userId"] = p.userID.String()
	pr, err := callEngine(ctx, p.timeout, "produce",
		func(ctx context.Context) (core.Producer, error) {
			return t.Produce(ctx, core.ProduceOptions{Kind: kind, RtpParameters: rtpParameters, AppData: data})
		},
		func(pr core.Producer) { _ = pr.Close() },
	)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	if _, stillOpen := p.transports[transportID]; p.closed || !stillOpen {
		p.mu.Unlock()
		_ = pr.Close()
		return "", fmt.Errorf("transport %s: %w", transportID, domain.ErrNotFound)
	}
	id := pr.ID()
	p.producers[id] = pr
	p.mu.Unlock()

	pr.OnTransportClose(func() { p.forgetProducer(id) })
	pr.OnClose(func() { p.forgetProducer(id) })
	p.logger.Info().Str("producer_id", id).Str("kind", string(kind)).Msg("producer created")
	return id, nil
}

// Consume subscribes the peer to a producer of the same room. The
// consumer starts paused until ResumeConsumer.
func (p *PeerSession) Consume(ctx context.Context, producerID string, caps domain.RtpCapabilities) (domain.ConsumerDescriptor, error) {
	if !p.router.CanConsume(producerID, caps) {
		return domain.ConsumerDescriptor{}, fmt.Errorf("producer %s: %w", producerID, domain.ErrUnsupported)
	}

	p.mu.Lock()
	recv := p.transports[p.byDirection[domain.DirectionRecv]]
	p.mu.Unlock()
	if recv == nil {
		return domain.ConsumerDescriptor{}, domain.ErrNoRecvTransport
	}

	c, err := callEngine(ctx, p.timeout, "consume",
		func(ctx context.Context) (core.Consumer, error) {
			return recv.Consume(ctx, core.ConsumeOptions{ProducerID: producerID, RtpCapabilities: caps, Paused: true})
		},
		func(c core.Consumer) { _ = c.Close() },
	)
	if err != nil {
		return domain.ConsumerDescriptor{}, err
	}

	p.mu.Lock()
	if _, stillOpen := p.transports[recv.ID()]; p.closed || !stillOpen {
		p.mu.Unlock()
		_ = c.Close()
		return domain.ConsumerDescriptor{}, domain.ErrNoRecvTransport
	}
	id := c.ID()
	p.consumers[id] = c
	p.mu.Unlock()

	c.OnTransportClose(func() { p.forgetConsumer(id) })
	c.OnProducerClose(func() { p.forgetConsumer(id) })
	p.logger.Debug().Str("consumer_id", id).Str("producer_id", producerID).Msg("consumer created")

	return domain.ConsumerDescriptor{
		ID:            id,
		ProducerID:    c.ProducerID(),
		Kind:          c.Kind(),
		RtpParameters: c.RtpParameters(),
	}, nil
}

// ResumeConsumer is a no-op for consumers that are already gone.
func (p *PeerSession) ResumeConsumer(ctx context.Context, consumerID string) error {
	p.mu.Lock()
	c, ok := p.consumers[consumerID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return callEngineErr(ctx, p.timeout, "resume_consumer", c.Resume)
}

// Close releases consumers, then producers, then transports. A failing
// close does not stop the rest. Calling Close again is a no-op.
func (p *PeerSession) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers, producers, transports := p.consumers, p.producers, p.transports
	p.consumers = make(map[string]core.Consumer)
	p.producers = make(map[string]core.Producer)
	p.transports = make(map[string]core.Transport)
	p.byDirection = make(map[domain.Direction]string)
	p.mu.Unlock()

	var errs []error
	for id, c := range consumers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer %s: %w", id, err))
		}
	}
	for id, pr := range producers {
		if err := pr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer %s: %w", id, err))
		}
	}
	for id, t := range transports {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("transport %s: %w", id, err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		p.logger.Warn().Err(err).Msg("peer closed with errors")
	} else {
		p.logger.Debug().Msg("peer closed")
	}
	return err
}

// Producers lists what this peer publishes.
func (p *PeerSession) Producers() []domain.ProducerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ProducerInfo, 0, len(p.producers))
	for id, pr := range p.producers {
		out = append(out, domain.ProducerInfo{
			UserID:     p.userID,
			ProducerID: id,
			Kind:       pr.Kind(),
			AppData:    pr.AppData(),
		})
	}
	return out
}

func (p *PeerSession) ProducerIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.producers))
	for id := range p.producers {
		out = append(out, id)
	}
	return out
}

func (p *PeerSession) Stats() domain.PeerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.PeerStats{
		Transports: len(p.transports),
		Producers:  len(p.producers),
		Consumers:  len(p.consumers),
	}
}

func (p *PeerSession) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *PeerSession) transport(id string) (core.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.transports[id]
	return t, ok
}

func (p *PeerSession) forgetProducer(id string) {
	p.mu.Lock()
	_, ok := p.producers[id]
	delete(p.producers, id)
	p.mu.Unlock()
	if ok {
		p.logger.Debug().Str("producer_id", id).Msg("producer pruned")
	}
}

func (p *PeerSession) forgetConsumer(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
	p.logger.Debug().Str("consumer_id", id).Msg("consumer pruned")
}
