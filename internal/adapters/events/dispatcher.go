// Package events ships call lifecycle events off the request path.
package events

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
)

// Sink delivers one event. Implementations may block.
type Sink interface {
	Send(ctx context.Context, ev domain.CallEvent) error
}

// Dispatcher queues events and hands them to a Sink from a fixed set of
// workers. Publish never blocks; a full queue drops the event.
type Dispatcher struct {
	sink    Sink
	queue   chan domain.CallEvent
	timeout time.Duration
	wg      conc.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sink Sink, queueSize, workers int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan domain.CallEvent, queueSize),
		timeout: timeout,
	}
	for i := range workers {
		d.wg.Go(func() { d.worker(i + 1) })
	}
	return d
}

func (d *Dispatcher) Publish(_ context.Context, ev domain.CallEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.EventsDropped.Inc()
		return nil
	}
	select {
	case d.queue <- ev:
	default:
		metrics.EventsDropped.Inc()
		log.Warn().Str("module", "events").Str("type", string(ev.Type)).Str("room_id", ev.RoomID.String()).Msg("dropping event, queue full")
	}
	return nil
}

func (d *Dispatcher) worker(id int) {
	log.Debug().Str("module", "events").Int("worker", id).Msg("event worker started")
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Send(ctx, ev); err != nil {
			log.Error().Err(err).Str("module", "events").Str("type", string(ev.Type)).Str("room_id", ev.RoomID.String()).Msg("event delivery failed")
		}
		cancel()
	}
}

// Close drains the queue and closes the sink if it holds a connection.
// Events published afterwards are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
	if c, ok := d.sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("module", "events").Msg("close sink")
		}
	}
}

// LogSink only logs events; used when no broker is configured.
type LogSink struct{}

func (LogSink) Send(_ context.Context, ev domain.CallEvent) error {
	log.Info().
		Str("module", "events").
		Str("type", string(ev.Type)).
		Str("room_id", ev.RoomID.String()).
		Str("user_id", ev.UserID.String()).
		Str("reason", ev.Reason).
		Msg("call event")
	return nil
}
