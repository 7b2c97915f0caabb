// Api serves the ingested APOD records and accepts manual runs, which it
// hands to temporal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	_ "time/tzdata"

	"github.com/jdholdren/apod/internal/api"
	"github.com/jdholdren/apod/internal/logger"
	"github.com/jdholdren/apod/internal/store"
	"github.com/jdholdren/apod/internal/worker"
)

type config struct {
	API      api.Config
	Database store.Config        `env:", prefix=DATABASE_"`
	Temporal worker.ClientConfig `env:", prefix=TEMPORAL_"`
	Worker   worker.Config

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
	LoggerLevel  string `env:"LOGGER_LEVEL, default=info"`
}

func main() {
	ctx := context.Background()

	// A missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing config: %s\n", err)
		os.Exit(1)
	}

	slog.SetDefault(logger.New(os.Stderr, cfg.LoggerFormat, cfg.LoggerLevel))

	// Start the application
	if err := runAPI(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runAPI(ctx context.Context, cfg config) error {
	zone, err := cfg.Worker.Location()
	if err != nil {
		return err
	}

	dbx, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer dbx.Close()

	c, err := worker.Dial(ctx, cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	s := api.NewServer(
		cfg.API,
		store.New(dbx, cfg.Database),
		worker.Runner{Client: c, TaskQueue: cfg.Worker.TaskQueue},
		zone,
	)

	var g run.Group
	g.Add(func() error {
		slog.Info("starting api server", "port", cfg.API.Port)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}

		return nil
	}, func(error) {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		slog.Info("shutting down", "signal", sigErr.Signal.String())
		return nil
	}

	return err
}
