package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nemanja-m/gojob/internal/shared/config"
	"github.com/nemanja-m/gojob/internal/shared/logging"
	"github.com/nemanja-m/gojob/internal/shared/tracing"
	"github.com/nemanja-m/gojob/internal/worker/api/rest"
	"github.com/nemanja-m/gojob/internal/worker/service"
)

func main() {
	flags := pflag.NewFlagSet("worker", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to config file")
	flags.String("url", "", "coordinator URL, defaults to $"+config.JobURLEnv)
	flags.String("work-dir", "target/gojob", "directory the job workspace is unpacked into")
	flags.Duration("heartbeat", service.DefaultHeartbeatInterval, "heartbeat interval")
	flags.String("log-level", "info", "log level")
	flags.Bool("trace", false, "export trace spans to stdout")
	protobuf := flags.Bool("protobuf", false, "send structured bodies as protobuf instead of JSON")
	flags.Parse(os.Args[1:])

	cfg, err := config.LoadWorker(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(os.Stdout, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.Output)
		if err != nil {
			logger.Fatal("Failed to init tracing", "error", err)
		}
		defer shutdown(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := rest.NewCoordinatorClient(cfg.Coordinator, logger)
	if *protobuf {
		client.UseProtobuf()
	}

	worker := service.NewWorkerService(client, service.Options{
		WorkDir:           cfg.Worker.WorkDir,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	}, logger)

	logger.Info("Worker started", "url", cfg.Coordinator.URL, "work_dir", cfg.Worker.WorkDir)
	if err := worker.Run(ctx); err != nil {
		stop()
		logger.Fatal("Worker failed", "error", err)
	}
	logger.Info("Worker finished")
}
