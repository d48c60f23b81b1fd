package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceCall/internal/adapters/auth"
	"github.com/dkeye/VoiceCall/internal/adapters/events"
	router "github.com/dkeye/VoiceCall/internal/adapters/http"
	"github.com/dkeye/VoiceCall/internal/adapters/rtc"
	sig "github.com/dkeye/VoiceCall/internal/adapters/signal"
	"github.com/dkeye/VoiceCall/internal/adapters/store"
	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/app/orch"
	"github.com/dkeye/VoiceCall/internal/config"
	"github.com/dkeye/VoiceCall/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	codecs := rtc.DefaultCodecs()
	engine := rtc.NewEngine(rtc.Config{
		ListenIP:    cfg.Engine.ListenIP,
		AnnouncedIP: cfg.Engine.AnnouncedIP,
		MinPort:     cfg.Engine.MinPort,
		MaxPort:     cfg.Engine.MaxPort,
		ICEServers:  cfg.Engine.ICEServers,
		Codecs:      codecs,
	})

	pool := app.NewWorkerPool(engine, app.PoolSize(cfg.Workers.Max), cfg.Workers.RestartDelay)
	if err := pool.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start media workers")
	}

	publisher := newEventDispatcher(ctx, cfg)

	rooms := app.NewRoomRegistry(pool, app.RoomRegistryConfig{
		Codecs: codecs,
		Transport: core.TransportOptions{
			ListenIP:                        cfg.Engine.ListenIP,
			AnnouncedIP:                     cfg.Engine.AnnouncedIP,
			EnableUDP:                       true,
			EnableTCP:                       true,
			PreferUDP:                       true,
			InitialAvailableOutgoingBitrate: cfg.Engine.InitialBitrate,
		},
		EngineTimeout: cfg.Engine.Timeout,
	}, publisher)

	o := &orch.Orchestrator{
		Registry:     app.NewRegistry(),
		Rooms:        rooms,
		Policy:       app.SimplePolicy{},
		Auth:         auth.NewJWTVerifier(cfg.Secret),
		Store:        newCallStore(cfg),
		Events:       publisher,
		StoreTimeout: cfg.Store.Timeout,
	}

	ctl := sig.NewSignalWSController(o, sig.NewRoomRateLimiter(cfg.Limits.JoinPerMinute, time.Minute), sig.Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		PongWait:       cfg.PongWait,
		WriteTimeout:   cfg.WriteTimeout,
		SendBuffer:     cfg.SendBuffer,
		RequestTimeout: cfg.Engine.Timeout,
	})

	var turn *app.TurnIssuer
	if cfg.Turn.Secret != "" && cfg.Turn.Host != "" {
		turn = &app.TurnIssuer{Secret: cfg.Turn.Secret, Host: cfg.Turn.Host, TTL: cfg.Turn.TTL}
	}

	r := router.SetupRouter(ctx, cfg, router.Deps{Orch: o, Signal: ctl, Pool: pool, Turn: turn})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Int("workers", pool.Alive()).Msg("Voice server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	rooms.CloseAll()
	pool.Close()
	publisher.Close()
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func newCallStore(cfg *config.Config) core.CallStore {
	if cfg.Store.APIBase == "" {
		log.Info().Str("module", "main").Int("rooms", len(cfg.Store.Admins)).Msg("using in-memory call store")
		return store.NewMemoryStore(cfg.Store.Admins)
	}
	if cfg.Store.Secret == "" {
		log.Warn().Str("module", "main").Msg("store.secret is empty, chat API requests are signed with an empty key")
	}
	return store.NewHTTPStore(cfg.Store.APIBase, cfg.Store.Secret, cfg.Store.Timeout)
}

func newEventDispatcher(ctx context.Context, cfg *config.Config) *events.Dispatcher {
	var sink events.Sink = events.LogSink{}
	if cfg.Events.AMQPURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		amqpSink, err := events.DialAMQPSink(dialCtx, cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			log.Error().Err(err).Str("module", "main").Msg("amqp unavailable, logging call events instead")
		} else {
			sink = amqpSink
		}
	}
	return events.NewDispatcher(sink, cfg.Events.QueueSize, cfg.Events.Workers, cfg.Store.Timeout)
}
