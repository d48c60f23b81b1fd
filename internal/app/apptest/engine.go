// Package apptest provides an in-memory media engine for tests.
package apptest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

var ErrClosed = errors.New("closed")

// Engine is a deterministic core.MediaEngine. Set Block to make every
// router, transport and consume call wait for it (or ctx) before answering.
type Engine struct {
	Block chan struct{}

	nextPID        atomic.Int32
	RoutersCreated atomic.Int32
	WorkersCreated atomic.Int32
	FailWorkers    atomic.Int32

	mu      sync.Mutex
	workers []*Worker
}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) CreateWorker(ctx context.Context) (core.Worker, error) {
	if e.FailWorkers.Load() > 0 {
		e.FailWorkers.Add(-1)
		return nil, errors.New("worker spawn failed")
	}
	w := &Worker{engine: e, pid: int(e.nextPID.Add(1)) + 1000, died: make(chan struct{})}
	e.WorkersCreated.Add(1)
	e.mu.Lock()
	e.workers = append(e.workers, w)
	e.mu.Unlock()
	return w, nil
}

func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Worker(nil), e.workers...)
}

// Producer finds a live producer on any router of the engine.
func (e *Engine) Producer(id string) (*Producer, bool) {
	for _, w := range e.Workers() {
		w.mu.Lock()
		routers := append([]*Router(nil), w.routers...)
		w.mu.Unlock()
		for _, r := range routers {
			r.mu.Lock()
			p, ok := r.producers[id]
			r.mu.Unlock()
			if ok {
				return p, true
			}
		}
	}
	return nil, false
}

func (e *Engine) wait(ctx context.Context) error {
	if e.Block == nil {
		return nil
	}
	select {
	case <-e.Block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Worker struct {
	engine *Engine
	pid    int

	mu      sync.Mutex
	died    chan struct{}
	dead    bool
	routers []*Router
}

func (w *Worker) PID() int { return w.pid }

func (w *Worker) Died() <-chan struct{} { return w.died }

// Kill simulates an unexpected worker exit.
func (w *Worker) Kill() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dead {
		w.dead = true
		close(w.died)
	}
}

func (w *Worker) Close() error {
	w.mu.Lock()
	routers := w.routers
	w.routers = nil
	w.mu.Unlock()
	for _, r := range routers {
		_ = r.Close()
	}
	return nil
}

func (w *Worker) CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (core.Router, error) {
	if err := w.engine.wait(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead {
		return nil, ErrClosed
	}
	r := &Router{
		id:        uuid.NewString(),
		worker:    w,
		caps:      domain.RtpCapabilities{Codecs: codecs},
		producers: make(map[string]*Producer),
	}
	w.routers = append(w.routers, r)
	w.engine.RoutersCreated.Add(1)
	return r, nil
}

type Router struct {
	id     string
	worker *Worker
	caps   domain.RtpCapabilities

	mu         sync.Mutex
	closed     bool
	transports []*Transport
	producers  map[string]*Producer
}

func (r *Router) ID() string { return r.id }

func (r *Router) RtpCapabilities() domain.RtpCapabilities { return r.caps }

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Router) CreateTransport(ctx context.Context, opts core.TransportOptions) (core.Transport, error) {
	if err := r.worker.engine.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	t := &Transport{
		id:        uuid.NewString(),
		router:    r,
		dir:       opts.Direction,
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *Router) CanConsume(producerID string, caps domain.RtpCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok || len(p.params.Codecs) == 0 {
		return false
	}
	return caps.Supports(p.params.Codecs[0])
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := r.transports
	r.transports = nil
	r.mu.Unlock()
	for _, t := range transports {
		_ = t.Close()
	}
	return nil
}

type Transport struct {
	id     string
	router *Router
	dir    domain.Direction

	mu        sync.Mutex
	closed    bool
	connected bool
	producers map[string]*Producer
	consumers map[string]*Consumer

	// CloseErr is returned by Close, to exercise tolerant teardown.
	CloseErr error
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Direction() domain.Direction { return t.dir }

func (t *Transport) Descriptor() domain.TransportDescriptor {
	return domain.TransportDescriptor{
		ID:             t.id,
		IceParameters:  domain.IceParameters{UsernameFragment: "ufrag-" + t.id[:8], Password: "pwd"},
		IceCandidates:  []domain.IceCandidate{{Foundation: "1", Priority: 1, IP: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host"}},
		DtlsParameters: domain.DtlsParameters{Role: "auto", Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "00"}}},
	}
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Connect(ctx context.Context, _ domain.ConnectParams) error {
	if err := t.router.worker.engine.wait(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.connected = true
	return nil
}

func (t *Transport) Produce(_ context.Context, opts core.ProduceOptions) (core.Producer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	p := &Producer{id: uuid.NewString(), transport: t, kind: opts.Kind, params: opts.RtpParameters, appData: opts.AppData}
	t.producers[p.id] = p
	t.mu.Unlock()

	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts core.ConsumeOptions) (core.Consumer, error) {
	if err := t.router.worker.engine.wait(ctx); err != nil {
		return nil, err
	}
	t.router.mu.Lock()
	p, ok := t.router.producers[opts.ProducerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	c := &Consumer{id: uuid.NewString(), transport: t, producer: p, paused: opts.Paused}
	t.consumers[c.id] = c
	t.mu.Unlock()

	p.mu.Lock()
	p.consumers = append(p.consumers, c)
	p.mu.Unlock()
	return c, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers, consumers := t.producers, t.consumers
	t.producers, t.consumers = map[string]*Producer{}, map[string]*Consumer{}
	t.mu.Unlock()

	for _, c := range consumers {
		c.transportClosed.fire()
		_ = c.Close()
	}
	for _, p := range producers {
		p.transportClosed.fire()
		_ = p.Close()
	}
	return t.CloseErr
}

type Producer struct {
	id        string
	transport *Transport
	kind      domain.MediaKind
	params    domain.RtpParameters
	appData   domain.AppData

	transportClosed hooks
	closedHooks     hooks

	mu        sync.Mutex
	closed    bool
	consumers []*Consumer
}

func (p *Producer) ID() string                 { return p.id }
func (p *Producer) Kind() domain.MediaKind     { return p.kind }
func (p *Producer) AppData() domain.AppData    { return p.appData }
func (p *Producer) OnTransportClose(fn func()) { p.transportClosed.add(fn) }
func (p *Producer) OnClose(fn func())          { p.closedHooks.add(fn) }

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers := p.consumers
	p.consumers = nil
	p.mu.Unlock()

	r := p.transport.router
	r.mu.Lock()
	delete(r.producers, p.id)
	r.mu.Unlock()

	for _, c := range consumers {
		c.producerClosed.fire()
		_ = c.Close()
	}
	p.closedHooks.fire()
	return nil
}

type Consumer struct {
	id        string
	transport *Transport
	producer  *Producer

	transportClosed hooks
	producerClosed  hooks

	mu     sync.Mutex
	paused bool
	closed bool
}

func (c *Consumer) ID() string             { return c.id }
func (c *Consumer) ProducerID() string     { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind { return c.producer.kind }

func (c *Consumer) RtpParameters() domain.RtpParameters { return c.producer.params }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.paused = false
	return nil
}

func (c *Consumer) OnTransportClose(fn func()) { c.transportClosed.add(fn) }
func (c *Consumer) OnProducerClose(fn func())  { c.producerClosed.add(fn) }

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type hooks struct {
	mu    sync.Mutex
	fired bool
	fns   []func()
}

func (h *hooks) add(fn func()) {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		fn()
		return
	}
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *hooks) fire() {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		return
	}
	h.fired = true
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
