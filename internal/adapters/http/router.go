package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/adapters/scenestore"
	"github.com/stagehand-live/stagehand/internal/adapters/signal"
	"github.com/stagehand-live/stagehand/internal/config"
	"github.com/stagehand-live/stagehand/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a stable peer id to the browser. The token
// is the peer id for every signaling connection it opens.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.Controller, scenes scenestore.Store) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("StagehandSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("peer", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	// Show-control surface: scene selection and per-setting overrides.
	api.GET("/show/scene", func(c *gin.Context) {
		sc, overrides, err := scenes.Current(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"scene": sc, "overrides": overrides})
	})
	api.PUT("/show/scene", func(c *gin.Context) {
		var sc *domain.Scene
		if err := c.ShouldBindJSON(&sc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := scenes.SetScene(c.Request.Context(), sc); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})
	api.PUT("/show/overrides/:setting", func(c *gin.Context) {
		var body struct {
			Override domain.Override `json:"override"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		switch body.Override {
		case domain.OverrideAutomatic, domain.OverrideForcedOn, domain.OverrideForcedOff:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown override"})
			return
		}
		setting := domain.Setting(c.Param("setting"))
		if err := scenes.SetOverride(c.Request.Context(), setting, body.Override); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	return r
}
