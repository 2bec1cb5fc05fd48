package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/hub"
	"github.com/Tyrowin/chatrelay/internal/logging"
	"github.com/Tyrowin/chatrelay/internal/metrics"
	"github.com/Tyrowin/chatrelay/internal/peer"
	"github.com/Tyrowin/chatrelay/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.WithError(err).Error("Failed to load configuration")
		return 1
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Starting chat relay", "service", cfg.ServiceName, "peer_url", cfg.PeerURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	reporter := metrics.NewReporter(m.Meters(), cfg.MetricsTick, clockwork.NewRealClock(), slog.Default())
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		reporter.Run(ctx)
	}()

	forwarder := peer.NewForwarder(peer.Config{
		URL:             cfg.PeerURL,
		Timeout:         cfg.PeerTimeout,
		BreakerFailures: cfg.PeerBreakerFailures,
		BreakerCooldown: cfg.PeerBreakerCooldown,
	}, m)
	if !forwarder.Enabled() {
		slog.Info("PEER_URL not set, peer forwarding disabled")
	}

	var target chat.Forwarder = forwarder
	var queue *peer.Queue
	if forwarder.Enabled() && cfg.PeerQueueSize > 0 {
		queue = peer.NewQueue(forwarder, cfg.PeerQueueSize, m)
		target = queue
	}

	registry := hub.NewRegistry()
	service := chat.NewService(hub.NewBroadcaster(registry, m), target, m)

	router := server.SetupRoutes(server.NewHandler(cfg, service), metrics.Handler(reg))
	httpServer := server.CreateServer(cfg.Port, router)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer)
	}()

	exitCode := 0
	select {
	case err := <-serverErr:
		if err != nil {
			logging.WithError(err).Error("HTTP server failed")
			exitCode = 1
		}
		stop()
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
		exitCode = 1
	}
	if err := service.Shutdown(cfg.ShutdownTimeout); err != nil {
		logging.WithError(err).Warn("Sessions did not finish before the shutdown timeout")
	}
	if queue != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := queue.Close(drainCtx); err != nil {
			logging.WithError(err).Warn("Peer forward queue not drained")
		}
		cancel()
	}
	<-reporterDone

	slog.Info("Chat relay stopped")
	return exitCode
}
