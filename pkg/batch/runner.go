package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/bgg-enricher/pkg/catalog"
	"github.com/Sternrassler/bgg-enricher/pkg/logging"
	"github.com/Sternrassler/bgg-enricher/pkg/thing"
)

// Prometheus metrics for enrichment runs.
var (
	bggBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bgg_batches_total",
		Help: "Total number of batches completed",
	})

	bggItemsMergedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bgg_items_merged_total",
		Help: "Total number of catalog rows merged and written",
	})

	bggLinksWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bgg_links_written_total",
		Help: "Total number of expansion links written",
	})

	bggBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bgg_batch_duration_seconds",
		Help:    "Time from fetch to last write for one batch",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

// Fetcher retrieves the raw thing response for a set of ids.
// *client.Client satisfies it.
type Fetcher interface {
	FetchItems(ctx context.Context, ids []string) ([]byte, error)
}

// Normalizer turns a response into field sets.
// *thing.Normalizer satisfies it.
type Normalizer interface {
	Parse(r io.Reader) iter.Seq2[thing.FieldSet, error]
	Columns() []string
}

// Sink receives merged rows and expansion links.
type Sink interface {
	// Begin is called once with the ordered item columns before any write.
	Begin(ctx context.Context, columns []string) error
	WriteItem(ctx context.Context, row catalog.Row) error
	WriteLink(ctx context.Context, link catalog.ExpansionLink) error
	// Flush persists everything written so far. It is called after every
	// batch and once more when a run stops on a fault.
	Flush(ctx context.Context) error
}

// ColumnSource reports the columns the output table accepts.
type ColumnSource interface {
	TargetColumns(ctx context.Context) ([]string, error)
}

// Config holds the runner configuration.
type Config struct {
	BatchSize  int
	Fetcher    Fetcher
	Normalizer Normalizer
	Merger     *catalog.Merger
	Sink       Sink

	// Columns restricts output columns when set.
	Columns ColumnSource

	// Logger defaults to the global logger with component "batch-runner".
	Logger *zerolog.Logger
}

// Summary describes a finished (or interrupted) run.
type Summary struct {
	RunID    string
	Batches  int
	Items    int
	Links    int
	Duration time.Duration
}

// Runner processes a catalog batch by batch, strictly sequentially.
type Runner struct {
	cfg    Config
	logger zerolog.Logger
}

// NewRunner validates cfg and creates a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = MaxSize
	}
	if cfg.BatchSize < 1 || cfg.BatchSize > MaxSize {
		return nil, fmt.Errorf("batch size must be between 1 and %d (got %d)", MaxSize, cfg.BatchSize)
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = thing.NewNormalizer(nil)
	}
	if cfg.Merger == nil {
		cfg.Merger = catalog.NewMerger(catalog.DefaultMergeOptions())
	}

	logger := logging.NewLogger("batch-runner")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Runner{cfg: cfg, logger: logger}, nil
}

// Run enriches every row of src. It stops at the first fault; rows written
// before the fault stay written.
func (r *Runner) Run(ctx context.Context, src catalog.Source) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString()}
	logger := r.logger.With().Str("run_id", summary.RunID).Logger()

	planner, err := NewPlanner(src, r.cfg.BatchSize)
	if err != nil {
		return summary, err
	}

	columns, err := r.outputColumns(ctx, src.Header())
	if err != nil {
		return summary, err
	}
	if err := r.cfg.Sink.Begin(ctx, columns); err != nil {
		return summary, fmt.Errorf("begin output: %w", err)
	}

	logger.Info().
		Int("batch_size", r.cfg.BatchSize).
		Int("columns", len(columns)).
		Msg("Enrichment run started")

	fail := func(err error) (Summary, error) {
		if flushErr := r.cfg.Sink.Flush(context.WithoutCancel(ctx)); flushErr != nil {
			logger.Error().Err(flushErr).Msg("Flush after fault failed")
		}
		summary.Duration = time.Since(start)
		return summary, err
	}

	for {
		b, err := planner.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(err)
		}

		items, links, err := r.runBatch(ctx, b, logger)
		summary.Items += items
		summary.Links += links
		if err != nil {
			return fail(err)
		}

		if err := r.cfg.Sink.Flush(ctx); err != nil {
			return fail(fmt.Errorf("flush batch %d: %w", b.Number, err))
		}
		summary.Batches++
	}

	summary.Duration = time.Since(start)
	logger.Info().
		Int("batches", summary.Batches).
		Int("items", summary.Items).
		Int("links", summary.Links).
		Dur("duration", summary.Duration).
		Msg("Enrichment run complete")

	return summary, nil
}

func (r *Runner) outputColumns(ctx context.Context, header []string) ([]string, error) {
	var target []string
	if r.cfg.Columns != nil {
		t, err := r.cfg.Columns.TargetColumns(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve target columns: %w", err)
		}
		target = t
		if target == nil {
			target = []string{}
		}
	}

	cols := catalog.OutputColumns(header, r.cfg.Normalizer.Columns(), target)
	if !slices.Contains(cols, catalog.ColumnID) {
		return nil, fmt.Errorf("output columns lack %q: %v", catalog.ColumnID, cols)
	}
	return cols, nil
}

func (r *Runner) runBatch(ctx context.Context, b Batch, logger zerolog.Logger) (items, links int, err error) {
	start := time.Now()
	ids := b.IDs()

	logger.Debug().Int("batch", b.Number).Strs("ids", ids).Msg("Fetching batch")

	body, err := r.cfg.Fetcher.FetchItems(ctx, ids)
	if err != nil {
		return 0, 0, fmt.Errorf("batch %d: %w", b.Number, err)
	}

	fields, err := r.collect(b.Number, ids, body)
	if err != nil {
		return 0, 0, err
	}

	for _, row := range b.Rows {
		fs := fields[row.ID()]
		merged, itemLinks := r.cfg.Merger.Merge(row, fs)

		if err := r.cfg.Sink.WriteItem(ctx, merged); err != nil {
			return items, links, fmt.Errorf("batch %d: write item %s: %w", b.Number, row.ID(), err)
		}
		items++
		bggItemsMergedTotal.Inc()

		for _, link := range itemLinks {
			if err := r.cfg.Sink.WriteLink(ctx, link); err != nil {
				return items, links, fmt.Errorf("batch %d: write link %s->%s: %w", b.Number, link.BaseID, link.ExpansionID, err)
			}
			links++
			bggLinksWrittenTotal.Inc()
		}

		logger.Info().
			Int("batch", b.Number).
			Str("id", row.ID()).
			Str("name", fs.Name).
			Int("links", len(itemLinks)).
			Msg("Item merged")
	}

	bggBatchesTotal.Inc()
	bggBatchDuration.Observe(time.Since(start).Seconds())
	logger.Info().
		Int("batch", b.Number).
		Int("rows", len(b.Rows)).
		Int("links", links).
		Dur("duration", time.Since(start)).
		Msg("Batch complete")

	return items, links, nil
}

// collect parses the whole response and checks it against the requested ids.
func (r *Runner) collect(number int, ids []string, body []byte) (map[string]thing.FieldSet, error) {
	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}

	fields := make(map[string]thing.FieldSet, len(ids))
	cerr := &ConsistencyError{Batch: number}

	for fs, err := range r.cfg.Normalizer.Parse(bytes.NewReader(body)) {
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", number, err)
		}
		switch {
		case !requested[fs.ID]:
			cerr.Unexpected = append(cerr.Unexpected, fs.ID)
		case hasKey(fields, fs.ID):
			cerr.Duplicate = append(cerr.Duplicate, fs.ID)
		default:
			fields[fs.ID] = fs
		}
	}

	for _, id := range ids {
		if !hasKey(fields, id) {
			cerr.Missing = append(cerr.Missing, id)
		}
	}

	if !cerr.empty() {
		return nil, cerr
	}
	return fields, nil
}

func hasKey(m map[string]thing.FieldSet, k string) bool {
	_, ok := m[k]
	return ok
}
