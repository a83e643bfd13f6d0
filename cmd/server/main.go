package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/d1618033/simplechat/internal/auth"
	"github.com/d1618033/simplechat/internal/chat"
	"github.com/d1618033/simplechat/internal/config"
	"github.com/d1618033/simplechat/internal/db"
	clog "github.com/d1618033/simplechat/internal/log"
	"github.com/d1618033/simplechat/internal/server"
	"github.com/d1618033/simplechat/internal/store"
	"github.com/d1618033/simplechat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	st := store.New(gdb)
	iss := auth.NewIssuer(st, cfg.SessionSecret, time.Duration(cfg.SessionTTLMinutes)*time.Minute)
	hub := ws.NewHub()
	gw := chat.NewGateway(st, iss, chat.WithNotifier(hub))
	r, rl := server.SetupRouter(cfg, gw, iss, hub)
	defer rl.Stop()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Str("driver", cfg.DatabaseDriver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("stopped")
}
