// Apodctl runs the APOD ingestion once from the command line, without
// temporal, and inspects what has been stored.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/mattn/go-runewidth"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "time/tzdata"

	"github.com/jdholdren/apod/internal/apod"
	"github.com/jdholdren/apod/internal/logger"
	"github.com/jdholdren/apod/internal/nasa"
	"github.com/jdholdren/apod/internal/pipeline"
	"github.com/jdholdren/apod/internal/store"
)

type cli struct {
	DatabaseDriver string        `name:"database-driver" env:"DATABASE_DRIVER" default:"sqlite" enum:"sqlite,postgres" help:"Storage backend."`
	DatabaseDSN    string        `name:"database-dsn" env:"DATABASE_DSN" required:"" help:"Connection string, or a file path for sqlite."`
	Timeout        time.Duration `name:"statement-timeout" env:"DATABASE_STATEMENT_TIMEOUT" default:"5s" help:"Per statement timeout."`
	LogFormat      string        `name:"log-format" env:"LOGGER_FORMAT" default:"text" enum:"text,json" help:"Log output format."`
	LogLevel       string        `name:"log-level" env:"LOGGER_LEVEL" default:"info" help:"Minimum log level."`

	Schema schemaCmd `cmd:"" help:"Create the apod_data table if it's missing."`
	Run    runCmd    `cmd:"" help:"Fetch, transform and load one day."`
	Show   showCmd   `cmd:"" help:"Print the stored record for a day."`
	List   listCmd   `cmd:"" help:"List stored records, newest first."`
}

// What every command gets handed.
type app struct {
	ctx  context.Context
	repo store.Repo
	out  io.Writer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// A missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	var c cli
	kctx := kong.Parse(&c,
		kong.Name("apodctl"),
		kong.Description("One-shot APOD ingestion."),
		kong.UsageOnError(),
	)

	slog.SetDefault(logger.New(os.Stderr, c.LogFormat, c.LogLevel))

	storeCfg := store.Config{
		Driver:           c.DatabaseDriver,
		DSN:              c.DatabaseDSN,
		StatementTimeout: c.Timeout,
	}
	dbx, err := store.Open(ctx, storeCfg)
	kctx.FatalIfErrorf(err)
	defer dbx.Close()

	err = kctx.Run(&app{
		ctx:  ctx,
		repo: store.New(dbx, storeCfg),
		out:  os.Stdout,
	})
	if err != nil {
		dbx.Close()
		kctx.FatalIfErrorf(err)
	}
}

type schemaCmd struct{}

func (schemaCmd) Run(a *app) error {
	if err := a.repo.EnsureSchema(a.ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "schema ready")

	return nil
}

type runCmd struct {
	Date     string        `help:"Logical date as YYYY-MM-DD. Defaults to today in --zone."`
	Zone     string        `env:"LOGICAL_DATE_ZONE" default:"America/New_York" help:"Zone the logical date is resolved in."`
	Attempts uint64        `default:"5" help:"Attempts before giving up on retryable failures."`
	Backoff  time.Duration `default:"2s" help:"Initial wait between attempts, doubled each time."`
}

func (c runCmd) logicalDate(now time.Time) (apod.Date, error) {
	if c.Date != "" {
		return apod.ParseDate(c.Date)
	}

	loc, err := time.LoadLocation(c.Zone)
	if err != nil {
		return apod.Date{}, fmt.Errorf("error loading zone %q: %w", c.Zone, err)
	}
	return apod.DateOf(now.In(loc)), nil
}

func (c runCmd) Run(a *app) error {
	date, err := c.logicalDate(time.Now())
	if err != nil {
		return err
	}

	var nasaCfg nasa.Config
	if err := envconfig.ProcessWith(a.ctx, &envconfig.Config{
		Target:   &nasaCfg,
		Lookuper: envconfig.PrefixLookuper("NASA_", envconfig.OsLookuper()),
	}); err != nil {
		return fmt.Errorf("error parsing nasa config: %s", err)
	}

	p := pipeline.New(a.repo, nasa.NewClient(nasaCfg), a.repo)
	if err := runWithRetries(a.ctx, p, date, c.Attempts, c.Backoff); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "loaded %s\n", date)

	return nil
}

type dateRunner interface {
	Run(ctx context.Context, date apod.Date) error
}

// Runs the whole pipeline again on retryable failures, fatal ones end it
// straight away.
func runWithRetries(ctx context.Context, p dateRunner, date apod.Date, attempts uint64, backoff time.Duration) error {
	if attempts == 0 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	b := retry.WithMaxRetries(attempts-1, retry.NewExponential(backoff))

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := p.Run(ctx, date)
		if err != nil && pipeline.IsRetryable(err) {
			slog.Warn("run failed, retrying", "logical_date", date.String(), "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}

		return err
	})
}

type showCmd struct {
	Date string `arg:"" help:"Day to show, YYYY-MM-DD."`
}

func (c showCmd) Run(a *app) error {
	date, err := apod.ParseDate(c.Date)
	if err != nil {
		return err
	}

	row, err := a.repo.Record(a.ctx, date)
	if err != nil {
		return fmt.Errorf("%s: %w", date, err)
	}

	fmt.Fprintf(a.out, "%s  %s (%s)\n%s\n\n%s\n", row.Date, row.Title, row.MediaType, row.URL, row.Explanation)
	return nil
}

type listCmd struct {
	Limit  int `default:"20" help:"How many records to show."`
	Offset int `default:"0" help:"How many of the newest records to skip."`
}

func (c listCmd) Run(a *app) error {
	rows, err := a.repo.Records(a.ctx, c.Offset, c.Limit)
	if err != nil {
		return err
	}

	writeTable(a.out, rows)
	return nil
}

const titleWidth = 48

// Titles can be any script, so columns are padded by display width rather
// than byte length.
func writeTable(w io.Writer, rows []apod.StoredRow) {
	fmt.Fprintf(w, "%-6s  %-10s  %-5s  %s\n", "ID", "DATE", "MEDIA", "TITLE")
	for _, row := range rows {
		title := runewidth.Truncate(row.Title, titleWidth, "…")
		fmt.Fprintf(w, "%-6d  %-10s  %s  %s\n",
			row.ID,
			row.Date,
			runewidth.FillRight(row.MediaType, 5),
			title,
		)
	}
}
