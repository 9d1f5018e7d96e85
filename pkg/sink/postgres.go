package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/bgg-enricher/pkg/catalog"
	"github.com/Sternrassler/bgg-enricher/pkg/client"
	"github.com/Sternrassler/bgg-enricher/pkg/logging"
)

// Staging promotion defaults.
const (
	DefaultPromoteAttempts = 10
	DefaultPromoteWait     = 2 * time.Second
)

// DefaultPromoteFuncs are the stored procedures that move staged rows into
// the live tables, called in order.
var DefaultPromoteFuncs = []string{
	"update_games_from_games_staging",
	"update_expansions_from_expansions_staging",
}

// DB is the subset of *pgxpool.Pool the sink uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresOptions configures a Postgres sink.
type PostgresOptions struct {
	ItemsTable string
	LinksTable string

	// PromoteFuncs defaults to DefaultPromoteFuncs.
	PromoteFuncs    []string
	PromoteAttempts int
	PromoteWait     time.Duration

	// Sleeper paces promotion retries. Nil uses client.DefaultSleeper.
	Sleeper client.Sleeper
}

// Postgres writes into pre-existing staging tables. Values are sent as text
// and cast to each column's declared type by the server.
type Postgres struct {
	db    DB
	pool  *pgxpool.Pool
	opts  PostgresOptions
	types map[string]map[string]string

	columns []string
	items   [][]string
	links   [][]string
	logger  zerolog.Logger
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := NewPostgres(pool, opts)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// NewPostgres wraps an existing connection. Close does not close db.
func NewPostgres(db DB, opts PostgresOptions) (*Postgres, error) {
	if opts.ItemsTable == "" || opts.LinksTable == "" {
		return nil, errors.New("postgres sink: table names are required")
	}
	if opts.PromoteFuncs == nil {
		opts.PromoteFuncs = DefaultPromoteFuncs
	}
	if opts.PromoteAttempts <= 0 {
		opts.PromoteAttempts = DefaultPromoteAttempts
	}
	if opts.PromoteWait <= 0 {
		opts.PromoteWait = DefaultPromoteWait
	}
	return &Postgres{
		db:     db,
		opts:   opts,
		types:  make(map[string]map[string]string),
		logger: logging.NewLogger("sink-postgres"),
	}, nil
}

// TargetColumns returns the columns of the items table in ordinal order.
func (s *Postgres) TargetColumns(ctx context.Context) ([]string, error) {
	cols, _, err := s.describe(ctx, s.opts.ItemsTable)
	return cols, err
}

// describe reads a table's column names and types from information_schema.
func (s *Postgres) describe(ctx context.Context, table string) ([]string, map[string]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	types := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, nil, fmt.Errorf("describe %s: %w", table, err)
		}
		cols = append(cols, name)
		types[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("describe %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, nil, fmt.Errorf("table %s does not exist", table)
	}
	return cols, types, nil
}

// Begin checks that both tables accept the columns and empties them.
func (s *Postgres) Begin(ctx context.Context, columns []string) error {
	for table, want := range map[string][]string{
		s.opts.ItemsTable: columns,
		s.opts.LinksTable: catalog.LinkColumns,
	} {
		_, types, err := s.describe(ctx, table)
		if err != nil {
			return err
		}
		var unknown []string
		for _, c := range want {
			if _, ok := types[c]; !ok {
				unknown = append(unknown, c)
			}
		}
		if len(unknown) > 0 {
			return fmt.Errorf("table %s lacks columns %s", table, strings.Join(unknown, ", "))
		}
		s.types[table] = types
	}

	tables := pgx.Identifier{s.opts.ItemsTable}.Sanitize() + ", " + pgx.Identifier{s.opts.LinksTable}.Sanitize()
	if _, err := s.db.Exec(ctx, "TRUNCATE "+tables); err != nil {
		return fmt.Errorf("truncate staging tables: %w", err)
	}
	s.logger.Info().
		Str("items_table", s.opts.ItemsTable).
		Str("links_table", s.opts.LinksTable).
		Msg("Staging tables truncated")

	s.columns = append([]string(nil), columns...)
	return nil
}

func (s *Postgres) WriteItem(ctx context.Context, row catalog.Row) error {
	if s.columns == nil {
		return errors.New("postgres sink: WriteItem before Begin")
	}
	s.items = append(s.items, catalog.Project(row, s.columns))
	if len(s.items) >= BufferSize {
		return s.Flush(ctx)
	}
	return nil
}

func (s *Postgres) WriteLink(ctx context.Context, link catalog.ExpansionLink) error {
	s.links = append(s.links, link.Values())
	if len(s.links) >= BufferSize {
		return s.Flush(ctx)
	}
	return nil
}

// Flush sends the buffered rows as one pipelined batch.
func (s *Postgres) Flush(ctx context.Context) error {
	if len(s.items) == 0 && len(s.links) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	queueInserts(batch, s.opts.ItemsTable, s.columns, s.types[s.opts.ItemsTable], s.items)
	queueInserts(batch, s.opts.LinksTable, catalog.LinkColumns, s.types[s.opts.LinksTable], s.links)

	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert staged rows: %w", err)
	}

	bggSinkRowsFlushed.WithLabelValues("postgres", tableItems).Add(float64(len(s.items)))
	bggSinkRowsFlushed.WithLabelValues("postgres", tableLinks).Add(float64(len(s.links)))
	s.logger.Debug().Int("items", len(s.items)).Int("links", len(s.links)).Msg("Rows flushed")
	s.items, s.links = s.items[:0], s.links[:0]
	return nil
}

// queueInserts queues one statement per row; the batch pipelines them in
// one round trip.
func queueInserts(batch *pgx.Batch, table string, columns []string, types map[string]string, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	query := insertSQL(table, columns, types)
	for _, values := range rows {
		batch.Queue(query, nullable(values)...)
	}
}

func insertSQL(table string, columns []string, types map[string]string) string {
	names := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		names[i] = pgx.Identifier{c}.Sanitize()
		params[i] = fmt.Sprintf("$%d::text", i+1)
		if t := types[c]; t != "" && t != "text" {
			params[i] += "::" + castType(t)
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(), strings.Join(names, ", "), strings.Join(params, ", "))
}

// castType maps an information_schema data_type to a cast target.
func castType(dataType string) string {
	switch dataType {
	case "ARRAY", "USER-DEFINED":
		return "text"
	default:
		return dataType
	}
}

// Promote calls the promotion functions in order. Each call is retried up to
// PromoteAttempts times before the error is returned.
func (s *Postgres) Promote(ctx context.Context) error {
	cfg := client.RetryConfig{
		Wait:        s.opts.PromoteWait,
		MaxAttempts: s.opts.PromoteAttempts,
		Sleeper:     s.opts.Sleeper,
		Retryable:   func(error) bool { return ctx.Err() == nil },
		Logger:      s.logger,
	}

	for _, fn := range s.opts.PromoteFuncs {
		query := "SELECT " + pgx.Identifier{fn}.Sanitize() + "()"
		s.logger.Info().Str("function", fn).Msg("Promoting staged rows")

		err := client.Retry(ctx, cfg, func(ctx context.Context) error {
			_, err := s.db.Exec(ctx, query)
			return err
		})
		if err != nil {
			return fmt.Errorf("promote %s: %w", fn, err)
		}
		s.logger.Info().Str("function", fn).Msg("Promotion complete")
	}
	return nil
}

// Close writes what is still buffered and closes a pool opened by OpenPostgres.
func (s *Postgres) Close() error {
	err := s.Flush(context.Background())
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return err
}
