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

	router "github.com/stagehand-live/stagehand/internal/adapters/http"
	"github.com/stagehand-live/stagehand/internal/adapters/scenestore"
	wsignal "github.com/stagehand-live/stagehand/internal/adapters/signal"
	"github.com/stagehand-live/stagehand/internal/app"
	"github.com/stagehand-live/stagehand/internal/app/orch"
	"github.com/stagehand-live/stagehand/internal/app/sfu"
	"github.com/stagehand-live/stagehand/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	engine, err := sfu.NewEngine(sfu.Config{
		ICEServers:     cfg.ICEServers,
		LevelInterval:  cfg.LevelInterval,
		LevelThreshold: cfg.LevelThreshold,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start media engine")
	}
	defer engine.Close()

	state := app.NewRoomState()
	scenes := scenestore.New(cfg.RedisAddr)

	o := orch.New(state, engine, scenes, orch.Timings{
		StaleAfter:    cfg.SessionStaleAfter,
		ReapInterval:  cfg.ReapInterval,
		StatsInterval: cfg.StatsInterval,
	})
	o.StartLoops(ctx)

	limiter := wsignal.NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateWindow)
	ctl := wsignal.NewController(o, app.SimplePolicy{}, limiter, cfg.ReadLimit, cfg.PingPeriod)

	r := router.SetupRouter(ctx, cfg, ctl, scenes)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Stagehand server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
