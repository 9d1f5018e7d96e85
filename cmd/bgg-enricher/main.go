// Command bgg-enricher enriches a BoardGameGeek catalog with data from the
// XML API and writes the result to CSV, XLSX, SQLite or Postgres.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/bgg-enricher/pkg/batch"
	"github.com/Sternrassler/bgg-enricher/pkg/catalog"
	"github.com/Sternrassler/bgg-enricher/pkg/client"
	"github.com/Sternrassler/bgg-enricher/pkg/config"
	"github.com/Sternrassler/bgg-enricher/pkg/dump"
	"github.com/Sternrassler/bgg-enricher/pkg/logging"
	"github.com/Sternrassler/bgg-enricher/pkg/metrics"
	"github.com/Sternrassler/bgg-enricher/pkg/ratelimit"
	"github.com/Sternrassler/bgg-enricher/pkg/sink"
	"github.com/Sternrassler/bgg-enricher/pkg/thing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Run failed")
		stop()
		os.Exit(1)
	}
}

// app carries what every subcommand needs after PersistentPreRunE.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	out    io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "bgg-enricher",
		Short: "Enrich a BoardGameGeek catalog with XML API data",
		Long: `Reads the catalog (the rank dump CSV, or the zip it ships in), fetches
every item from the XML API in batches of up to 20 ids and writes the merged
table plus the base-to-expansion link table.

Every flag can also be set as BGG_<FLAG> (dashes become underscores) in the
environment or in a .env file.

Examples:
  bgg-enricher dump --username me --password secret
  bgg-enricher enrich -i boardgames_ranks.zip -o output.csv
  bgg-enricher enrich --sink postgres --postgres-dsn postgres://... --redis-addr localhost:6379`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			logging.Setup(cfg.LoggingConfig())
			a.logger = logging.NewLogger("cli")
			return nil
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "enrich",
			Short: "Fetch, merge and write the whole catalog",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return a.enrich(cmd.Context()) },
		},
		newDumpCmd(a),
		&cobra.Command{
			Use:   "columns",
			Short: "Print the item columns enrich would write",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return a.columns(cmd.Context()) },
		},
	)
	return root
}

func newDumpCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Download the current rank dump zip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.dump(cmd.Context(), dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to save the zip in")
	return cmd
}

func (a *app) enrich(ctx context.Context) error {
	cfg := a.cfg

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Start(cfg.MetricsAddr, a.logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	clientCfg := cfg.ClientConfig()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		a.logger.Info().Str("addr", cfg.RedisAddr).Msg("Shared backoff enabled")
		clientCfg.Backoff = ratelimit.NewTracker(rdb, logging.NewLogger("ratelimit"))
	}
	bgg, err := client.New(clientCfg)
	if err != nil {
		return err
	}

	src, err := catalog.OpenFile(cfg.Input)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := openSink(ctx, cfg)
	if err != nil {
		return err
	}

	runner, err := batch.NewRunner(batch.Config{
		BatchSize:  cfg.BatchSize,
		Fetcher:    bgg,
		Normalizer: thing.NewNormalizer(thing.NewExtractor(cfg.ThingOptions())),
		Merger:     catalog.NewMerger(cfg.MergeOptions()),
		Sink:       out,
		Columns:    out.columns(cfg.RestrictColumns),
	})
	if err != nil {
		out.Close()
		return err
	}

	summary, runErr := runner.Run(ctx, src)
	if err := out.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close output: %w", err))
	}
	if runErr != nil {
		return fmt.Errorf("run %s stopped after %d items: %w", summary.RunID, summary.Items, runErr)
	}

	if out.promote != nil {
		if err := out.promote(ctx); err != nil {
			return err
		}
	}

	fmt.Fprintf(a.out, "%d items, %d expansion links in %d batches (%s)\n",
		summary.Items, summary.Links, summary.Batches, summary.Duration.Round(time.Millisecond))
	return nil
}

func (a *app) dump(ctx context.Context, dir string) error {
	cfg := a.cfg
	site := strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/xmlapi2")

	l, err := dump.New(dump.Config{
		SiteURL:   site,
		UserAgent: cfg.UserAgent,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Wait:      cfg.BackoffWait,
		Timeout:   cfg.RequestTimeout,
	})
	if err != nil {
		return err
	}

	path, err := l.Fetch(ctx, dir)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, path)
	return nil
}

func (a *app) columns(ctx context.Context) error {
	cfg := a.cfg

	src, err := catalog.OpenFile(cfg.Input)
	if err != nil {
		return err
	}
	defer src.Close()

	var target []string
	if cfg.RestrictColumns {
		out, err := openSink(ctx, cfg)
		if err != nil {
			return err
		}
		defer out.Close()
		if target, err = out.columns(true).TargetColumns(ctx); err != nil {
			return err
		}
	}

	normalizer := thing.NewNormalizer(thing.NewExtractor(cfg.ThingOptions()))
	for _, c := range catalog.OutputColumns(src.Header(), normalizer.Columns(), target) {
		fmt.Fprintln(a.out, c)
	}
	return nil
}

// output is an opened sink with its optional capabilities.
type output struct {
	batch.Sink
	io.Closer
	target  batch.ColumnSource
	promote func(context.Context) error
}

func (o *output) columns(restrict bool) batch.ColumnSource {
	if !restrict {
		return nil
	}
	return o.target
}

func openSink(ctx context.Context, cfg *config.Config) (*output, error) {
	switch cfg.Sink {
	case config.SinkCSV:
		s, err := sink.CreateCSV(cfg.Output, cfg.LinksOutput)
		if err != nil {
			return nil, err
		}
		return &output{Sink: s, Closer: s}, nil

	case config.SinkXLSX:
		s, err := sink.CreateXLSX(cfg.Output)
		if err != nil {
			return nil, err
		}
		return &output{Sink: s, Closer: s}, nil

	case config.SinkSQLite:
		s, err := sink.OpenSQLite(cfg.SQLitePath, cfg.ItemsTable, cfg.LinksTable)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &output{Sink: s, Closer: s, target: s}, nil

	case config.SinkPostgres:
		s, err := sink.OpenPostgres(ctx, cfg.PostgresDSN, sink.PostgresOptions{
			ItemsTable: cfg.ItemsTable,
			LinksTable: cfg.LinksTable,
		})
		if err != nil {
			return nil, err
		}
		return &output{Sink: s, Closer: s, target: s, promote: s.Promote}, nil
	}
	return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
}
