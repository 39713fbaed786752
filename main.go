package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Darkness4/tsremux/cmd/remux"
	"github.com/Darkness4/tsremux/cmd/serve"
	"github.com/Darkness4/tsremux/telemetry"
	"github.com/Darkness4/tsremux/telemetry/metrics"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
)

var version = "dev"

var (
	logLevel   string
	logJSON    bool
	otelStdout bool

	shutdownTelemetry = func(context.Context) error { return nil }
)

var app = &cli.App{
	Name:    "tsremux",
	Usage:   "Remux mpegts into progressive mp4 without re-encoding.",
	Version: version,
	Suggest: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "log.level",
			Value:       "info",
			Usage:       "Log level (trace, debug, info, warn, error).",
			EnvVars:     []string{"LOG_LEVEL"},
			Destination: &logLevel,
		},
		&cli.BoolFlag{
			Name:        "log.json",
			Usage:       "Log as JSON instead of the console format.",
			EnvVars:     []string{"LOG_JSON"},
			Destination: &logJSON,
		},
		&cli.BoolFlag{
			Name:        "otel.stdout",
			Usage:       "Print traces and metrics to stdout.",
			EnvVars:     []string{"OTEL_STDOUT"},
			Destination: &otelStdout,
		},
	},
	Before: func(cCtx *cli.Context) error {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		zerolog.SetGlobalLevel(level)
		if !logJSON {
			log.Logger = log.Output(zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: time.RFC3339,
			})
		}

		opts := []telemetry.Option{telemetry.WithPrometheus()}
		if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
			opts = append(opts, telemetry.WithOTLP())
		}
		if otelStdout {
			opts = append(opts, telemetry.WithStdout())
		}
		shutdown, err := telemetry.SetupOTELSDK(cCtx.Context, opts...)
		if err != nil {
			return fmt.Errorf("failed to setup OpenTelemetry: %w", err)
		}
		shutdownTelemetry = shutdown
		metrics.InitMetrics(otel.GetMeterProvider())
		return nil
	},
	After: func(cCtx *cli.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			log.Err(err).Msg("failed to shutdown OpenTelemetry")
		}
		return nil
	},
	Commands: []*cli.Command{
		serve.Command,
		remux.Command,
	},
}

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("app crashed")
	}
}
