// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"

	_ "ingest-pipeline/docs"
	"ingest-pipeline/internal/config"
	"ingest-pipeline/internal/coordinator"
	"ingest-pipeline/internal/notify"
	"ingest-pipeline/internal/repository/postgresql"
	"ingest-pipeline/internal/service"
	httptransport "ingest-pipeline/internal/transport/http"
)

// @title Ingest Pipeline API
// @version 1.0
// @description Document ingestion batch pipeline: enqueue, start, observe and requeue ingestion jobs.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Postgres
	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer pool.Close()

	if err := postgresql.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("schema: %v", err)
	}

	// Observer sink: logs always, redis pub/sub when configured
	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		notifier = notify.Multi{notify.LogNotifier{}, notify.NewRedisNotifier(rdb, cfg.EventsChannel)}
	}

	workerBin := cfg.WorkerBin
	if workerBin == "" {
		workerBin = resolveWorkerBin()
	}

	repo := postgresql.NewJobRepository(pool)
	coord := coordinator.New(coordinator.Config{
		MaxConcurrent:    cfg.MaxConcurrentBatches,
		RetryBudget:      cfg.RetryBudget,
		RetryDelay:       cfg.RetryDelay,
		WaitTimeout:      cfg.ShutdownWait,
		TermGrace:        cfg.TermGrace,
		CoalesceInterval: cfg.CoalesceInterval,
	}, workerBin, notifier)
	batchSvc := service.NewBatchService(repo, coord)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httptransport.Routes(httptransport.NewHandler(batchSvc)),
	}

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	log.Printf("[server] listening addr=%s worker_bin=%s max_batches=%d",
		cfg.HTTPAddr, workerBin, cfg.MaxConcurrentBatches)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http: %v", err)
	}

	// HTTP is down; drain every tracked batch worker before exiting.
	shCtx, cancel := context.WithTimeout(context.Background(),
		cfg.ShutdownWait+cfg.TermGrace+cfg.TermGrace)
	defer cancel()
	if err := coord.Shutdown(shCtx); err != nil {
		log.Printf("[server] worker shutdown: %v", err)
	}

	log.Println("server stopped")
}

// resolveWorkerBin prefers a batchworker binary next to the server executable,
// falling back to PATH lookup.
func resolveWorkerBin() string {
	if exe, err := os.Executable(); err == nil {
		cand := filepath.Join(filepath.Dir(exe), "batchworker")
		if _, err := os.Stat(cand); err == nil {
			return cand
		}
	}
	return "batchworker"
}
