package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

type Router struct {
	id   string
	w    *Worker
	caps domain.RtpCapabilities

	mu         sync.RWMutex
	closed     bool
	transports map[string]*Transport
	producers  map[string]*Producer
}

func (r *Router) ID() string { return r.id }

func (r *Router) RtpCapabilities() domain.RtpCapabilities { return r.caps }

func (r *Router) CreateTransport(ctx context.Context, opts core.TransportOptions) (core.Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed || r.w.dead() {
		return nil, domain.ErrWorkerDied
	}

	t, err := newTransport(ctx, r, opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = t.Close()
		return nil, domain.ErrWorkerDied
	}
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Router) CanConsume(producerID string, caps domain.RtpCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[producerID]
	r.mu.RUnlock()
	return ok && caps.Supports(p.codec)
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.transports = map[string]*Transport{}
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	r.w.forgetRouter(r.id)
	r.w.logger.Debug().Str("router_id", r.id).Msg("router closed")
	return nil
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) forgetProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) forgetTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}
