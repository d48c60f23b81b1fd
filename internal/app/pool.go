package app

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
)

const DefaultRestartDelay = 2 * time.Second

// PoolSize caps the available parallelism at max.
func PoolSize(max int) int {
	n := runtime.NumCPU()
	if max > 0 && n > max {
		n = max
	}
	if n < 1 {
		n = 1
	}
	return n
}

// WorkerPool hands out media workers round-robin and replaces the ones that die.
// Rooms hosted on a dead worker are not migrated.
type WorkerPool struct {
	engine       core.MediaEngine
	size         int
	restartDelay time.Duration

	mu    sync.RWMutex
	slots []core.Worker // nil while a slot waits for its replacement
	next  atomic.Uint64

	cancel context.CancelFunc
	wg     conc.WaitGroup
}

func NewWorkerPool(engine core.MediaEngine, size int, restartDelay time.Duration) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if restartDelay <= 0 {
		restartDelay = DefaultRestartDelay
	}
	return &WorkerPool{
		engine:       engine,
		size:         size,
		restartDelay: restartDelay,
		slots:        make([]core.Worker, size),
	}
}

// Start creates every worker up front. It fails if any of them cannot start.
func (p *WorkerPool) Start(ctx context.Context) error {
	workers := make([]core.Worker, 0, p.size)
	for i := 0; i < p.size; i++ {
		w, err := p.engine.CreateWorker(ctx)
		if err != nil {
			for _, created := range workers {
				_ = created.Close()
			}
			return fmt.Errorf("create worker %d: %w", i, err)
		}
		log.Info().Str("module", "app.pool").Int("slot", i).Int("worker_pid", w.PID()).Msg("worker created")
		workers = append(workers, w)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.mu.Lock()
	copy(p.slots, workers)
	p.mu.Unlock()
	metrics.WorkersAlive.Set(float64(len(workers)))

	for i, w := range workers {
		slot, w := i, w
		p.wg.Go(func() { p.watch(watchCtx, slot, w) })
	}
	return nil
}

// Acquire never blocks and never returns a worker known to be dead.
func (p *WorkerPool) Acquire() (core.Worker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := uint64(len(p.slots))
	for i := uint64(0); i < n; i++ {
		w := p.slots[(p.next.Add(1)-1)%n]
		if w != nil && alive(w) {
			return w, nil
		}
	}
	return nil, domain.ErrNoWorker
}

// Alive reports how many slots hold a live worker.
func (p *WorkerPool) Alive() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, w := range p.slots {
		if w != nil && alive(w) {
			n++
		}
	}
	return n
}

func (p *WorkerPool) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.slots {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			log.Warn().Err(err).Str("module", "app.pool").Int("worker_pid", w.PID()).Msg("worker close")
		}
		p.slots[i] = nil
	}
	metrics.WorkersAlive.Set(0)
}

func (p *WorkerPool) watch(ctx context.Context, slot int, w core.Worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.Died():
		}

		log.Error().Str("module", "app.pool").Int("slot", slot).Int("worker_pid", w.PID()).
			Dur("restart_in", p.restartDelay).Msg("worker died")
		p.set(slot, nil)
		metrics.WorkersAlive.Dec()

		next, ok := p.replace(ctx, slot)
		if !ok {
			return
		}
		w = next
	}
}

func (p *WorkerPool) replace(ctx context.Context, slot int) (core.Worker, bool) {
	for {
		t := time.NewTimer(p.restartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, false
		case <-t.C:
		}

		w, err := p.engine.CreateWorker(ctx)
		if err != nil {
			log.Error().Err(err).Str("module", "app.pool").Int("slot", slot).Msg("worker restart failed")
			continue
		}
		p.set(slot, w)
		metrics.WorkersAlive.Inc()
		metrics.WorkerRestarts.Inc()
		log.Info().Str("module", "app.pool").Int("slot", slot).Int("worker_pid", w.PID()).Msg("worker restarted")
		return w, true
	}
}

func (p *WorkerPool) set(slot int, w core.Worker) {
	p.mu.Lock()
	p.slots[slot] = w
	p.mu.Unlock()
}

func alive(w core.Worker) bool {
	select {
	case <-w.Died():
		return false
	default:
		return true
	}
}
