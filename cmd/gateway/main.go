package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/config"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/logging"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/observe"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/rpc"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/server"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/session"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/store"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/subscriber"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to a JSON-with-comments config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init("gateway", "info", "text")
		log.Fatal().Err(err).Msg("config_invalid")
	}
	logger := logging.Init("gateway", cfg.Log.Level, cfg.Log.Format)
	observe.RegisterMetrics()

	var st store.Store
	if cfg.Store.RedisAddr != "" {
		rs := store.NewRedisStore(store.RedisOptions{
			Addr:     cfg.Store.RedisAddr,
			Username: cfg.Store.RedisUsername,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		defer rs.Close()
		st = rs
		log.Info().Str("addr", cfg.Store.RedisAddr).Msg("use redis store")
	} else {
		st = store.NewMemoryStore()
		log.Info().Msg("use memory store")
	}

	signer := session.NewSigner(cfg.Auth.Token, cfg.SessionTTL())
	issuer := session.NewIssuer(st, signer, cfg.Auth.Token)
	dispatcher := rpc.NewDispatcher(st, rpc.Options{
		Timeout:                    cfg.StoreTimeout(),
		SuppressNotificationErrors: cfg.RPC.SuppressNotificationErrors,
	})
	hub := ws.NewHub(signer, dispatcher, ws.Options{
		RateLimit:  cfg.RateLimit.Limit,
		RateWindow: cfg.RateWindow(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Subscriber.URL != "" {
		sub, err := subscriber.New(subscriber.Options{
			URL:        cfg.Subscriber.URL,
			Pattern:    cfg.Subscriber.Pattern,
			RetryDelay: cfg.RetryDelay(),
		}, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("subscriber_invalid")
		}
		go func() { _ = sub.Run(ctx) }()
	}

	router := server.NewRouter(issuer, hub.HandleWS, server.Options{
		WSPath:      cfg.Server.WSPath,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	})
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		hub.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Server.ListenAddr).Str("ws_path", cfg.Server.WSPath).Msg("gateway listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("gateway server failed")
	}
	<-stopped
	log.Info().Msg("gateway stopped")
}
