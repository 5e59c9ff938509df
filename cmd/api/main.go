package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "media-gateway/internal/api"
	"media-gateway/internal/config"
	"media-gateway/internal/dispatch"
	"media-gateway/internal/listener"
	"media-gateway/internal/orchestrator"
	"media-gateway/internal/preset"
	"media-gateway/internal/queue"
	"media-gateway/internal/ratelimit"
	"media-gateway/internal/registry"
	"media-gateway/internal/stats"
	"media-gateway/internal/status"
	"media-gateway/internal/storage"
	"media-gateway/internal/store"
	"media-gateway/internal/transform"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	catalog := preset.Builtin()
	if cfg.PresetFile != "" {
		c, err := preset.LoadFile(cfg.PresetFile)
		if err != nil {
			log.Fatalf("presets: %v", err)
		}
		catalog = c
	}

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	backend, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisClient := queue.NewClient(cfg)
	defer redisClient.Close()
	q := queue.NewRedisQueue(redisClient, cfg)

	agg := stats.New()
	reg := registry.New(registry.Options{
		BaseDeadline: cfg.BaseDeadline,
		MaxDeadline:  cfg.MaxDeadline,
		BytesPerSec:  cfg.DeadlineBytesPerSec,
		Retention:    cfg.RegistryRetention,
		OnTerminal:   agg.RecordRemoteJob,
	})
	statuses := status.NewStore(redisClient, cfg.StatusTTL)

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Registry:  reg,
		Submitter: dispatch.New(reg, q, catalog, cfg.MaxPayloadBytes),
		Processor: transform.NewProcessor(transform.Imaging{}),
		Catalog:   catalog,
		Stats:     agg,
		Storage:   backend,
		Metadata:  st,
		Status:    statuses,
	})

	results := listener.New(q, reg, cfg.ResultPollInterval)
	go func() {
		if err := results.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("result listener stopped: %v", err)
		}
	}()

	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	server := api.New(cfg, orch, catalog, statuses, limiter)
	server.ServeRecords(st)
	if local, ok := backend.(*storage.Local); ok {
		server.ServeFiles(local.Dir())
	}
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("gateway listening on :%s (max_remote=%d base_deadline=%s)", cfg.HTTPPort, cfg.MaxRemoteJobs, cfg.BaseDeadline)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	orch.Wait()
}
