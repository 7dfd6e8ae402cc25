package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agent-collab/backend/internal/config"
	"github.com/agent-collab/backend/internal/hub"
	"github.com/agent-collab/backend/internal/metrics"
	"github.com/agent-collab/backend/internal/mock"
	"github.com/agent-collab/backend/internal/session"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (empty: built-in defaults)")
	port := flag.Int("port", 0, "Override server port")
	devLog := flag.Bool("dev-log", false, "Human-readable log output")
	mockMode := flag.Bool("mock", false, "Generate synthetic demo traffic")
	flag.Parse()

	var log *zap.Logger
	var err error
	if *devLog {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal("failed to load config", zap.String("path", *configPath), zap.Error(err))
		}
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	registry := session.NewRegistry()
	h := hub.New(log, m, hub.Limits{
		BatchInterval:  cfg.Hub.BatchInterval,
		QueueCapacity:  cfg.Hub.QueueCapacity,
		MaxConnections: cfg.Hub.MaxConnections,
	})
	server := hub.NewServer(log, registry, h, cfg.Hub.AllowedOrigins, cfg.Hub.PaidPlans)

	// Limits follow the config file; new connections pick up changes.
	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, log, func(next *config.Config) {
				h.SetLimits(hub.Limits{
					BatchInterval:  next.Hub.BatchInterval,
					QueueCapacity:  next.Hub.QueueCapacity,
					MaxConnections: next.Hub.MaxConnections,
				})
			})
			if err != nil {
				log.Warn("config watch unavailable", zap.Error(err))
			}
		}()
	}

	if *mockMode {
		gen := mock.NewGenerator(registry, h)
		go gen.Start(ctx)
		log.Info("mock mode: generating demo traffic",
			zap.String("session_id", gen.SessionID()))
	}

	mux := http.NewServeMux()
	server.SetupRoutes(mux)
	mux.Handle("/metrics", m.Handler(h.QueueDepth))

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: mux,
	}
	go func() {
		log.Info("hub listening",
			zap.String("addr", httpSrv.Addr),
			zap.Duration("batch_interval", cfg.Hub.BatchInterval),
			zap.Int("queue_capacity", cfg.Hub.QueueCapacity))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	h.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
