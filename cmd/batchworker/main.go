// cmd/batchworker/main.go
//
// One process per batch. Stdout is the control channel to the coordinator;
// all logging goes to stderr. Exit code 0 means the batch drained (or a drain
// request was honored), non-zero means an unrecovered fault and triggers the
// coordinator's retry.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"ingest-pipeline/internal/config"
	"ingest-pipeline/internal/ingest"
	"ingest-pipeline/internal/protocol"
	"ingest-pipeline/internal/repository/postgresql"
	"ingest-pipeline/internal/worker"
)

func main() {
	log.SetOutput(os.Stderr)

	batchFlag := flag.String("batch", "", "batch id (uuid) to process")
	flag.Parse()

	batchID, err := uuid.Parse(*batchFlag)
	if err != nil {
		log.Fatalf("invalid -batch: %v", err)
	}

	out := protocol.NewWriter(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		fatal(out, batchID, "config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		fatal(out, batchID, "pg: %v", err)
	}
	defer pool.Close()

	repo := postgresql.NewJobRepository(pool)
	runner := worker.NewRunner(batchID, repo, ingest.NewDocuments(nil), out, worker.RunnerConfig{
		BatchSize:     cfg.BatchSize,
		Concurrency:   cfg.WorkerConcurrency,
		RatePerMinute: cfg.RatePerMinute,
	})

	// Both drain paths stop claiming and let in-flight jobs finish:
	// the coordinator's shutdown frame on stdin, or a termination signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("[batchworker] batch=%s termination signal, draining", batchID)
		runner.Drain()
	}()
	go func() {
		in := protocol.NewReader(os.Stdin)
		for {
			m, err := in.Next()
			if err != nil {
				return
			}
			if m.Type == protocol.TypeShutdown {
				log.Printf("[batchworker] batch=%s shutdown frame, draining", batchID)
				runner.Drain()
			}
		}
	}()

	log.Printf("[batchworker] batch=%s started batch_size=%d concurrency=%d rate_per_min=%d",
		batchID, cfg.BatchSize, cfg.WorkerConcurrency, cfg.RatePerMinute)

	if err := runner.Run(ctx); err != nil {
		fatal(out, batchID, "runner: %v", err)
	}
}

// fatal reports the fault on the control channel before exiting non-zero.
func fatal(out *protocol.Writer, batchID uuid.UUID, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[batchworker] batch=%s fault: %s", batchID, msg)
	_ = out.Send(protocol.Error(batchID, msg))
	os.Exit(1)
}
