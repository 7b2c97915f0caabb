// Worker runs the daily APOD ingestion under temporal.
//
// It registers the workflow and activity, keeps the daily schedule in line
// with its config, and executes runs as temporal hands them out.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"go.temporal.io/sdk/client"
	tworker "go.temporal.io/sdk/worker"
	"go.uber.org/fx"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "time/tzdata"

	"github.com/jdholdren/apod/internal/logger"
	"github.com/jdholdren/apod/internal/nasa"
	"github.com/jdholdren/apod/internal/pipeline"
	"github.com/jdholdren/apod/internal/store"
	"github.com/jdholdren/apod/internal/worker"
)

type config struct {
	NASA     nasa.Config         `env:", prefix=NASA_"`
	Database store.Config        `env:", prefix=DATABASE_"`
	Temporal worker.ClientConfig `env:", prefix=TEMPORAL_"`
	Worker   worker.Config

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
	LoggerLevel  string `env:"LOGGER_LEVEL, default=info"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// A missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stderr, cfg.LoggerFormat, cfg.LoggerLevel))

	dbx, err := store.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("error opening database: %s", err)
	}
	defer dbx.Close()

	c, err := worker.Dial(ctx, cfg.Temporal)
	if err != nil {
		log.Fatalln("Unable to create Temporal client:", err)
	}
	defer c.Close()

	fx.New(
		fx.Supply(
			cfg.NASA,
			cfg.Database,
			cfg.Worker,
			dbx,
			fx.Annotate(ctx, fx.As(new(context.Context))),
			fx.Annotate(c, fx.As(new(client.Client))),
		),
		pipeline.Module,
		fx.Provide(worker.NewWorker),
		fx.Invoke(func(tworker.Worker) {}), // Start the worker
	).Run()
}
