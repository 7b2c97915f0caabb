package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
)

const defaultNamespace = "default"

// ClientConfig is how to reach temporal.
type ClientConfig struct {
	HostPort  string        `env:"HOST_PORT, required"`
	Namespace string        `env:"NAMESPACE, default=default"`
	Retention time.Duration `env:"NAMESPACE_RETENTION, default=72h"`
	// How long to keep trying while temporal comes up
	DialTimeout time.Duration `env:"DIAL_TIMEOUT, default=2m"`
}

// Dial connects to temporal, retrying until it's up, and registers the
// namespace if it isn't the default one.
func Dial(ctx context.Context, cfg ClientConfig) (client.Client, error) {
	b := retry.NewFibonacci(time.Second)
	if cfg.DialTimeout > 0 {
		b = retry.WithMaxDuration(cfg.DialTimeout, b)
	}

	// Retry until temporal is ready
	var c client.Client
	if err := retry.Do(ctx, b, func(ctx context.Context) error {
		dialed, err := client.DialContext(ctx, client.Options{
			HostPort:  cfg.HostPort,
			Namespace: cfg.Namespace,
			Logger:    tlog.NewStructuredLogger(slog.Default()),
		})
		if err != nil {
			slog.Warn("temporal not ready", "host_port", cfg.HostPort, "error", err)
			return retry.RetryableError(err)
		}
		c = dialed

		return nil
	}); err != nil {
		return nil, fmt.Errorf("error dialing temporal: %w", err)
	}

	if cfg.Namespace != defaultNamespace {
		if err := EnsureNamespace(ctx, c.WorkflowService(), cfg.Namespace, cfg.Retention); err != nil {
			c.Close()
			return nil, err
		}
	}

	return c, nil
}
