package rtc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

type Worker struct {
	pid    int
	api    *webrtc.API
	cfg    Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	died    chan struct{}
	dieOnce sync.Once
	closed  atomic.Bool

	mu      sync.Mutex
	routers map[string]*Router
}

func newWorker(cfg Config, pid int) (*Worker, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range cfg.Codecs {
		if err := m.RegisterCodec(toPionCodec(c), codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create PLI interceptor: %w", err)
	}
	ir.Add(pli)

	se := webrtc.SettingEngine{}
	if cfg.MinPort > 0 && cfg.MaxPort > 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.MinPort, cfg.MaxPort); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}
	if cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	if ip := net.ParseIP(cfg.ListenIP); ip != nil && !ip.IsUnspecified() {
		se.SetIPFilter(func(candidate net.IP) bool { return candidate.Equal(ip) })
	}
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6})

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pid:     pid,
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir), webrtc.WithSettingEngine(se)),
		cfg:     cfg,
		logger:  log.With().Str("module", "rtc.worker").Int("worker_pid", pid).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		died:    make(chan struct{}),
		routers: make(map[string]*Router),
	}
	w.logger.Info().Uint16("min_port", cfg.MinPort).Uint16("max_port", cfg.MaxPort).Msg("worker started")
	return w, nil
}

func (w *Worker) PID() int { return w.pid }

func (w *Worker) Died() <-chan struct{} { return w.died }

func (w *Worker) dead() bool {
	select {
	case <-w.died:
		return true
	default:
		return w.closed.Load()
	}
}

func (w *Worker) CreateRouter(_ context.Context, codecs []domain.RtpCodecCapability) (core.Router, error) {
	if w.dead() {
		return nil, domain.ErrWorkerDied
	}
	if len(codecs) == 0 {
		codecs = w.cfg.Codecs
	}
	r := &Router{
		id:         uuid.NewString(),
		w:          w,
		caps:       domain.RtpCapabilities{Codecs: withFeedback(codecs)},
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}
	w.mu.Lock()
	w.routers[r.id] = r
	w.mu.Unlock()
	w.logger.Debug().Str("router_id", r.id).Msg("router created")
	return r, nil
}

// spawn runs fn on the worker. A panic kills the worker.
func (w *Worker) spawn(fn func(ctx context.Context)) {
	w.wg.Go(func() {
		var pc panics.Catcher
		pc.Try(func() { fn(w.ctx) })
		if r := pc.Recovered(); r != nil {
			w.Kill(r.AsError())
		}
	})
}

// Kill terminates the worker as if it crashed. Everything it hosts is closed.
func (w *Worker) Kill(reason error) {
	w.dieOnce.Do(func() {
		w.logger.Error().Err(reason).Msg("worker died")
		w.shutdown()
		close(w.died)
	})
}

func (w *Worker) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.shutdown()
	w.wg.Wait()
	w.logger.Info().Msg("worker closed")
	return nil
}

func (w *Worker) shutdown() {
	w.cancel()
	w.mu.Lock()
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()
	for _, r := range routers {
		_ = r.Close()
	}
}

func (w *Worker) forgetRouter(id string) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}
