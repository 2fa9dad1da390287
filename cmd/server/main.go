package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "muse-sync/internal/app"
	httpx "muse-sync/internal/http"
	"muse-sync/internal/room"
	store "muse-sync/internal/store"
	ws "muse-sync/internal/ws"
	"muse-sync/pkg/auth"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := app.LoadConfig()
	logger := app.NewLogger(cfg.Env)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Postgres connection + migrations
	pg, err := store.NewPostgres(ctx, cfg, logger)
	if err != nil {
		logger.Error("postgres connect", "err", err)
		log.Fatal(err)
	}
	defer pg.Close()
	if err := store.RunMigrations(ctx, pg, logger); err != nil {
		logger.Error("migrations", "err", err)
		log.Fatal(err)
	}

	// Redis bus for cross-instance room fanout (optional)
	var bus *ws.RedisBus
	if cfg.RedisAddr != "" {
		bus, err = ws.NewRedisBus(ctx, cfg, logger)
		if err != nil {
			logger.Error("redis connect", "err", err)
			log.Fatal(err)
		}
		defer bus.Close()
	}

	// Room registry + relay + presence; the registry is an injected
	// instance, never a package global.
	registry := room.NewRegistry(logger, pg)
	var roomBus room.Bus
	if bus != nil {
		roomBus = bus
	}
	relay := room.NewRelay(logger, registry, roomBus)
	presence := room.NewBroadcaster(logger, registry, roomBus)

	// WebSocket hub
	verifier := auth.New(cfg.JWTSecret)
	hub := ws.NewHub(logger, verifier, pg, registry, relay, presence, bus)
	go hub.Run(ctx)

	// HTTP + WS router
	router := httpx.NewRouter(cfg, logger, hub, pg)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("server.listening", "addr", cfg.HTTPAddr, "instance", cfg.InstanceID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server.crash", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("server.shutdown.start")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)

	logger.Info("server.shutdown.complete")
	_ = os.Stdout.Sync()
}
