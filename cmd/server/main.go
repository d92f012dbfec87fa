package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"discomap/internal/config"
	"discomap/internal/data"
	"discomap/internal/httpapi"
	"discomap/internal/ingest"
	"discomap/internal/metrics"
	"discomap/internal/refdata"
)

func main() {
	cfg := config.Load()

	conn, cleanup := data.InitConn(cfg)
	defer cleanup()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()

	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		log.Fatalf("create scratch dir: %v", err)
	}

	registry := ingest.NewRegistry(0)
	refSink := refdata.NewSink(conn.DB)

	newRunner := func() *ingest.BatchRunner {
		fetcher := ingest.NewFetcher(conn.HTTPClient, cfg.ScratchDir, "discomap/1.0")
		parser := ingest.NewParser()
		loader := ingest.NewLoader(conn.DB, cfg.LoaderBatchSize, cfg.UpsertMode)
		etl := ingest.NewFileETL(fetcher, parser, loader, refSink)
		return ingest.NewBatchRunner(etl, cfg.MaxConcurrentFilesPerBatch)
	}

	manager := ingest.NewManager(registry, newRunner, cfg.MaxConcurrentBatches)

	api := httpapi.NewServer(manager, registry, cfg, sugar)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsServer := metrics.NewMetricsServer(cfg.MetricsAddr)
	if err := metricsServer.Start(); err != nil {
		log.Fatalf("start metrics server: %v", err)
	}

	poolStatTicker := time.NewTicker(15 * time.Second)
	defer poolStatTicker.Stop()
	go func() {
		for range poolStatTicker.C {
			stat := conn.DB.Stat()
			metrics.DBPoolConnectionsGauge.WithLabelValues("acquired").Set(float64(stat.AcquiredConns()))
			metrics.DBPoolConnectionsGauge.WithLabelValues("idle").Set(float64(stat.IdleConns()))
		}
	}()

	go func() {
		log.Printf("🚀 discomap ingest server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(ctx)
	_ = metricsServer.Stop(ctx)
}
