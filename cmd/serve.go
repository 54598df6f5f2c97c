package main

import (
	"context"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/podcaster/config"
	"github.com/mohammad-safakhou/podcaster/internal/runtime"
	srv "github.com/mohammad-safakhou/podcaster/internal/server"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}

			ctx, cancel := runtime.SignalContext(cmd.Context(), "api")
			defer cancel()

			tel, _, _, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
				ServiceName:    "podcaster-api",
				ServiceVersion: getenv("PODCASTER_VERSION", "dev"),
			})
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			app, err := runtime.Build(ctx, cfg, runtime.Options{Logger: log.New(log.Writer(), "[API] ", log.LstdFlags)})
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.JobsReady(); err != nil {
				log.Printf("[API] /api/jobs disabled: %v", err)
			}

			return srv.Run(ctx, app, tel.MetricsHandler())
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}

func shutdownTelemetry(tel *runtime.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
}
