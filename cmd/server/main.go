// Command server is the composition root: it wires the domain store,
// session registry, room/auction engines, dispatcher, lifecycle driver, TCP
// acceptor, and admin HTTP surface, then runs until a termination signal
// triggers a graceful shutdown and a final snapshot flush. Grounded
// directly on the teacher's backend/auction/cmd/main.go (logging setup
// order, Redis client construction + ping, signal.Notify + srv.Shutdown
// graceful-shutdown shape).
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/rivalapexmediation/auctionhouse/internal/auction"
	"github.com/rivalapexmediation/auctionhouse/internal/broadcast"
	"github.com/rivalapexmediation/auctionhouse/internal/config"
	"github.com/rivalapexmediation/auctionhouse/internal/dispatch"
	"github.com/rivalapexmediation/auctionhouse/internal/domain"
	"github.com/rivalapexmediation/auctionhouse/internal/httpapi"
	"github.com/rivalapexmediation/auctionhouse/internal/killswitch"
	"github.com/rivalapexmediation/auctionhouse/internal/ledger"
	"github.com/rivalapexmediation/auctionhouse/internal/lifecycle"
	"github.com/rivalapexmediation/auctionhouse/internal/room"
	"github.com/rivalapexmediation/auctionhouse/internal/server"
	"github.com/rivalapexmediation/auctionhouse/internal/session"
	"github.com/rivalapexmediation/auctionhouse/internal/telemetry"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store := domain.New(domain.DefaultLimits())
	if _, statErr := os.Stat(cfg.SnapshotPath); statErr == nil {
		if err := store.Load(cfg.SnapshotPath); err != nil {
			log.Fatalf("load snapshot %s: %v", cfg.SnapshotPath, err)
		}
		log.WithFields(log.Fields{"path": cfg.SnapshotPath}).Info("restored store from snapshot")
	}

	sessions := session.New()

	// rooms is wired into the broadcaster's disconnect callback below, so it
	// must exist (as a settable var) before the broadcaster that needs it.
	var rooms *room.Engine
	b := broadcast.New(sessions, func(conn net.Conn) {
		s := sessions.Detach(conn)
		_ = conn.Close()
		if s != nil && rooms != nil {
			rooms.Leave(s)
		}
	})
	rooms = room.New(store, sessions, b)

	l := ledger.New()

	var tracer auction.Tracer
	if t, ok := telemetry.Install(cfg.OTelEndpoint, cfg.OTelServiceName, os.Getenv("OTEL_RESOURCE_ATTRIBUTES")); ok {
		tracer = t
		log.WithFields(log.Fields{"endpoint": cfg.OTelEndpoint}).Info("otel tracer installed")
	}
	auctions := auction.New(store, sessions, l, b, tracer, cfg.AntiSnipeWindow)

	var ks dispatch.Killswitch = killswitch.NoopSwitch{}
	if cfg.KillswitchOn {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis ping %s: %v", cfg.RedisAddr, err)
		}
		ks = killswitch.New(redisClient)
		log.WithFields(log.Fields{"redis_addr": cfg.RedisAddr}).Info("kill switch enabled")
	}

	disp := dispatch.New(store, sessions, rooms, auctions, b, ks)
	driver := lifecycle.New(store, auctions, rooms, cfg.SweepInterval)

	acceptor, err := server.New(cfg.TCPAddr, disp, sessions, rooms)
	if err != nil {
		log.Fatalf("bind TCP %s: %v", cfg.TCPAddr, err)
	}

	handlers := httpapi.NewHandlers(store, sessions)
	adminSrv := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      httpapi.NewRouter(handlers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	go driver.Run(ctx)
	go acceptor.Serve(ctx)
	go runSnapshotTicker(ctx, store, cfg.SnapshotPath, cfg.SnapshotInterval)
	go func() {
		log.WithFields(log.Fields{"addr": adminSrv.Addr}).Info("admin HTTP server listening")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admin server failed: %v", err)
		}
	}()

	log.WithFields(log.Fields{
		"tcp_addr":            cfg.TCPAddr,
		"admin_addr":          cfg.AdminAddr,
		"admin_auth_enabled":  cfg.AdminBearerToken != "",
		"admin_ip_allowlist":  cfg.AdminIPAllowlist != "",
		"killswitch_enabled":  cfg.KillswitchOn,
		"sweep_interval":      cfg.SweepInterval.String(),
		"anti_snipe_window":   cfg.AntiSnipeWindow.String(),
	}).Info("auctionhouse started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel() // stops lifecycle driver and TCP acceptor

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		log.WithFields(log.Fields{"error": err}).Error("admin server forced shutdown")
	}

	if err := store.Snapshot(cfg.SnapshotPath); err != nil {
		log.WithFields(log.Fields{"error": err}).Error("final snapshot failed")
	} else {
		log.WithFields(log.Fields{"path": cfg.SnapshotPath}).Info("final snapshot written")
	}

	log.Info("shutdown complete")
}

// runSnapshotTicker periodically flushes store to path every interval, in
// addition to the final flush main does at shutdown, so a crash between
// graceful shutdowns loses at most one interval's worth of state.
func runSnapshotTicker(ctx context.Context, store *domain.Store, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Snapshot(path); err != nil {
				log.WithFields(log.Fields{"error": err, "path": path}).Error("periodic snapshot failed")
			} else {
				log.WithFields(log.Fields{"path": path}).Debug("periodic snapshot written")
			}
		}
	}
}
