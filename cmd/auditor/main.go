package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strangr/pairchat/internal/audit"
	"github.com/strangr/pairchat/internal/messaging"
	"github.com/strangr/pairchat/internal/metrics"
)

func main() {
	log.Println("Starting pairchat audit service...")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	// PostgreSQL setup.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	db, err := audit.Open(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}

	if err := audit.Migrate(db); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "pairchat-auditor"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	consumer := audit.NewConsumer(audit.NewStore(db), cfg.WriteTimeout)
	consumer.RepeatThreshold = cfg.RepeatThreshold
	consumer.RepeatWindow = cfg.RepeatWindow

	if err := natsClient.SubscribeAudit(
		consumer.HandleSessionStart,
		consumer.HandleSessionEnd,
		consumer.HandleReport,
	); err != nil {
		log.Fatalf("failed to subscribe to audit subjects: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	log.Printf("pairchat audit service running")
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  metrics_addr:    %s", cfg.MetricsAddr)
	log.Printf("  repeat_reports:  %d within %s", cfg.RepeatThreshold, cfg.RepeatWindow)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	if err := db.Close(); err != nil {
		log.Printf("database close error: %v", err)
	}
}
