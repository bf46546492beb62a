package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nemanja-m/gojob/internal/coordinator/api/grpc"
	"github.com/nemanja-m/gojob/internal/coordinator/api/rest"
	"github.com/nemanja-m/gojob/internal/coordinator/manifest"
	"github.com/nemanja-m/gojob/internal/coordinator/policy"
	"github.com/nemanja-m/gojob/internal/coordinator/service"
	"github.com/nemanja-m/gojob/internal/coordinator/storage"
	"github.com/nemanja-m/gojob/internal/shared/archive"
	"github.com/nemanja-m/gojob/internal/shared/config"
	"github.com/nemanja-m/gojob/internal/shared/logging"
	"github.com/nemanja-m/gojob/internal/shared/tracing"
)

const serverShutdownTimeout = 30 * time.Second

func main() {
	flags := pflag.NewFlagSet("coordinator", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to config file")
	flags.String("host", "127.0.0.1", "address executors use to reach the coordinator")
	flags.Int("port", 0, "RPC port, 0 picks a free one")
	flags.String("grpc-addr", "", "gRPC health server address, empty disables it")
	flags.String("source-dir", ".", "directory packed and shipped to executors")
	flags.String("work-dir", "target/gojob", "directory chunk uploads are extracted into")
	flags.String("chunks", "chunks.yaml", "YAML manifest listing chunk values")
	flags.Int("executors", 0, "number of executors to spawn")
	flags.Duration("shutdown-timeout", service.DefaultShutdownTimeout, "how long to wait for executors to exit")
	flags.String("log-level", "info", "log level")
	flags.Bool("trace", false, "export trace spans to stdout")
	flags.Parse(os.Args[1:])

	cfg, err := config.LoadCoordinator(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(os.Stdout, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		stop()
		logger.Fatal("Job failed", "error", err)
	}
}

func run(ctx context.Context, cfg *config.CoordinatorConfig, logger logging.Logger) error {
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.Output)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer shutdown(context.Background())
	}

	chunks, err := manifest.Load(cfg.Job.ChunksFile)
	if err != nil {
		return err
	}

	source, err := archive.Pack(cfg.Job.SourceDir, archive.PackOptions{Exclude: cfg.Archive.Exclude})
	if err != nil {
		return fmt.Errorf("failed to pack source: %w", err)
	}
	logger.Info("Source packed", "dir", cfg.Job.SourceDir, "bytes", len(source), "digest", archive.Digest(source))

	shell := policy.NewShell(cfg.Job, cfg.Server)

	listener, err := net.Listen("tcp", net.JoinHostPort(shell.Host(), strconv.Itoa(shell.Port())))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	shell.SetPort(listener.Addr().(*net.TCPAddr).Port)
	jobURL := "http://" + net.JoinHostPort(shell.Host(), strconv.Itoa(shell.Port()))

	opts := service.JobOptions{
		URL:       jobURL,
		WorkDir:   cfg.Job.WorkDir,
		Executors: service.NewExecutorService(storage.NewInMemoryExecutorStore(), logger),
	}
	if cfg.Job.StoreURL != "" {
		store, err := storage.NewArchiveStore(ctx, cfg.Job.StoreURL)
		if err != nil {
			return err
		}
		opts.Store = store
	}
	if shell.ExecutorCount() > 0 {
		opts.Lifecycle = service.NewExecutorManager(service.ShellSpawner{}, cfg.Job.SourceDir, logger)
	}

	job := service.NewJob[string](shell, source, opts, logger)
	for _, value := range chunks {
		job.Submit(value)
	}
	logger.Info("Job created", "job_id", job.ID(), "url", jobURL, "chunks", len(chunks))

	server := rest.NewServer(cfg.Server, job, logger)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", "error", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPC.Addr != "" {
		grpcServer = grpc.NewServer(cfg.GRPC, logger)
		go func() {
			if err := grpcServer.Start(); err != nil {
				logger.Error("gRPC server error", "error", err)
			}
		}()
		defer grpcServer.Stop()
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	go service.NewExecutorHealthChecker(cfg.Health.CheckInterval, cfg.Health.StaleTimeout, opts.Executors, logger).Start(healthCtx)

	if err := job.Start(ctx); err != nil {
		return err
	}

	results, err := job.WaitForCompletion(ctx)
	if grpcServer != nil {
		grpcServer.JobFinished()
	}
	if results != nil {
		for i, chunk := range job.Chunks() {
			if i >= len(results) {
				break
			}
			logger.Info(
				"Chunk result",
				"chunk_id", chunk.ID,
				"value", chunk.Value,
				"executor_id", chunk.ExecutorID,
				"duration", chunk.Duration().String(),
				"result", results[i],
			)
		}
	}
	if opts.Lifecycle != nil {
		for _, spawnErr := range opts.Lifecycle.Errors() {
			logger.Warn("Executor failure", "error", spawnErr)
		}
	}
	if err != nil {
		return err
	}

	logger.Info("Job finished", "job_id", job.ID(), "chunks", len(chunks))
	return nil
}
