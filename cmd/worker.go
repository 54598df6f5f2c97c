package main

import (
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/podcaster/config"
	"github.com/mohammad-safakhou/podcaster/internal/queue/streams"
	"github.com/mohammad-safakhou/podcaster/internal/runtime"
	"github.com/mohammad-safakhou/podcaster/internal/worker"
)

func workerCMD() *cobra.Command {
	var cfgPath string
	var name string
	var count int64
	var w = &cobra.Command{
		Use:   "worker",
		Short: "Consume queued generation jobs from Redis streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			ctx, cancel := runtime.SignalContext(cmd.Context(), "worker")
			defer cancel()

			tel, meter, tracer, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
				ServiceName:    "podcaster-worker",
				ServiceVersion: getenv("PODCASTER_VERSION", "dev"),
				MetricsPort:    cfg.Telemetry.MetricsPort,
			})
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			logger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)
			app, err := runtime.Build(ctx, cfg, runtime.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.JobsReady(); err != nil {
				return err
			}
			if err := app.Redis.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("worker redis ping: %w", err)
			}

			jobs := cfg.Streams.JobsStream
			if err := streams.EnsureGroup(ctx, app.Redis, jobs, cfg.Streams.Group); err != nil {
				return fmt.Errorf("worker ensure group: %w", err)
			}
			if name == "" {
				name = fmt.Sprintf("worker-%s", uuid.NewString()[:8])
			}
			consumer := streams.NewConsumer(app.Redis, app.Registry, cfg.Streams.Group, name, logger)
			processor := worker.NewProcessor(logger, app.Store, app.Pipelines, consumer, app.Jobs, jobs, worker.Options{
				Count:       count,
				ReclaimIdle: cfg.Pipeline.PipelineTimeout,
			}, meter, tracer)

			logger.Printf("consuming %s as %s/%s", jobs, cfg.Streams.Group, name)
			return processor.Start(ctx)
		},
	}
	w.Flags().StringVar(&name, "name", "", "consumer name (default worker-<random>)")
	w.Flags().Int64Var(&count, "count", 0, "entries read per poll (default 4)")
	w.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return w
}
