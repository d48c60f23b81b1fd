package http

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceCall/internal/adapters/signal"
	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/app/orch"
	"github.com/dkeye/VoiceCall/internal/config"
	"github.com/dkeye/VoiceCall/internal/domain"
)

const identityKey = "identity"

// Deps is everything the router serves.
type Deps struct {
	Orch   *orch.Orchestrator
	Signal *signal.SignalWSController
	Pool   *app.WorkerPool
	Turn   *app.TurnIssuer
}

// AuthMiddleware resolves the bearer token to an identity or aborts with 401.
func AuthMiddleware(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := o.Authenticate(c.Request.Context(), signal.BearerToken(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": domain.ErrorCode(err)})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identity(c *gin.Context) domain.Identity {
	id, _ := c.MustGet(identityKey).(domain.Identity)
	return id
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if _, err := os.Stat(cfg.StaticPath); err == nil {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.StaticPath, "index.html"))
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		alive := deps.Pool.Alive()
		if alive == 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no live worker", "workers": 0})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "workers": alive})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		deps.Signal.HandleSignal(ctx, c)
	})

	authed := api.Group("", AuthMiddleware(deps.Orch))
	authed.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": deps.Orch.RoomList()})
	})
	authed.GET("/turn-credentials", func(c *gin.Context) {
		if deps.Turn == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "turn not configured"})
			return
		}
		c.JSON(http.StatusOK, deps.Turn.Issue(identity(c).UserID))
	})

	return r
}
