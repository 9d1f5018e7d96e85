package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/Sternrassler/bgg-enricher/pkg/catalog"
	"github.com/Sternrassler/bgg-enricher/pkg/logging"
)

// BufferSize is the number of rows database sinks hold before writing.
const BufferSize = 1000

// SQLite writes both tables into a SQLite database. Tables are created when
// missing and gain any new item columns; existing rows with the same key are
// replaced.
type SQLite struct {
	conn       *sql.DB
	itemsTable string
	linksTable string
	columns    []string
	items      [][]string
	links      [][]string
	logger     zerolog.Logger
}

// OpenSQLite opens (or creates) the database at path in WAL mode.
func OpenSQLite(path, itemsTable, linksTable string) (*SQLite, error) {
	if itemsTable == "" || linksTable == "" {
		return nil, errors.New("sqlite sink: table names are required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &SQLite{
		conn:       conn,
		itemsTable: itemsTable,
		linksTable: linksTable,
		logger:     logging.NewLogger("sink-sqlite"),
	}, nil
}

// TargetColumns returns the columns of the existing items table.
func (s *SQLite) TargetColumns(ctx context.Context) ([]string, error) {
	cols, err := s.tableColumns(ctx, s.itemsTable)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s does not exist", s.itemsTable)
	}
	return cols, nil
}

func (s *SQLite) tableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// Begin creates the tables and adds item columns the table lacks.
func (s *SQLite) Begin(ctx context.Context, columns []string) error {
	s.columns = append([]string(nil), columns...)

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quoteIdent(c) + " TEXT"
		if c == catalog.ColumnID {
			defs[i] += " PRIMARY KEY"
		}
	}
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (%s);
CREATE TABLE IF NOT EXISTS %s (
  base_id TEXT NOT NULL,
  base_name TEXT,
  expansion_id TEXT NOT NULL,
  expansion_name TEXT,
  PRIMARY KEY (base_id, expansion_id)
);`, quoteIdent(s.itemsTable), strings.Join(defs, ", "), quoteIdent(s.linksTable))

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	existing, err := s.tableColumns(ctx, s.itemsTable)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c] = true
	}
	for _, c := range columns {
		if have[c] {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s TEXT`, quoteIdent(s.itemsTable), quoteIdent(c))
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", c, err)
		}
		s.logger.Info().Str("table", s.itemsTable).Str("column", c).Msg("Column added")
	}
	return nil
}

func (s *SQLite) WriteItem(ctx context.Context, row catalog.Row) error {
	if s.columns == nil {
		return errors.New("sqlite sink: WriteItem before Begin")
	}
	s.items = append(s.items, catalog.Project(row, s.columns))
	if len(s.items) >= BufferSize {
		return s.Flush(ctx)
	}
	return nil
}

func (s *SQLite) WriteLink(ctx context.Context, link catalog.ExpansionLink) error {
	s.links = append(s.links, link.Values())
	if len(s.links) >= BufferSize {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered rows in one transaction.
func (s *SQLite) Flush(ctx context.Context) error {
	if len(s.items) == 0 && len(s.links) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertAll(ctx, tx, s.itemsTable, s.columns, s.items); err != nil {
		return err
	}
	if err := insertAll(ctx, tx, s.linksTable, catalog.LinkColumns, s.links); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	bggSinkRowsFlushed.WithLabelValues("sqlite", tableItems).Add(float64(len(s.items)))
	bggSinkRowsFlushed.WithLabelValues("sqlite", tableLinks).Add(float64(len(s.links)))
	s.logger.Debug().Int("items", len(s.items)).Int("links", len(s.links)).Msg("Rows flushed")
	s.items, s.links = s.items[:0], s.links[:0]
	return nil
}

func insertAll(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT OR REPLACE INTO %s (%s) VALUES (%s)`,
		quoteIdent(table), strings.Join(quoted, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", table, err)
	}
	defer stmt.Close()

	for _, values := range rows {
		if _, err := stmt.ExecContext(ctx, nullable(values)...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

// Close writes what is still buffered and closes the database.
func (s *SQLite) Close() error {
	return errors.Join(s.Flush(context.Background()), s.conn.Close())
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
