package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Sternrassler/bgg-enricher/pkg/catalog"
)

// CSV writes the item table and the link table to two CSV files.
type CSV struct {
	items, links     *csv.Writer
	itemBuf, linkBuf *bufio.Writer
	closers          []io.Closer
	columns          []string
	pendingItems     int
	pendingLinks     int
}

// CreateCSV creates (or truncates) the two output files.
func CreateCSV(itemsPath, linksPath string) (*CSV, error) {
	itemsFile, err := os.Create(itemsPath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", itemsPath, err)
	}
	linksFile, err := os.Create(linksPath)
	if err != nil {
		itemsFile.Close()
		return nil, fmt.Errorf("create %s: %w", linksPath, err)
	}
	s := NewCSV(itemsFile, linksFile)
	s.closers = []io.Closer{itemsFile, linksFile}
	return s, nil
}

// NewCSV writes to arbitrary writers. Close does not close them.
func NewCSV(items, links io.Writer) *CSV {
	itemBuf := bufio.NewWriter(items)
	linkBuf := bufio.NewWriter(links)
	return &CSV{
		items:   csv.NewWriter(itemBuf),
		links:   csv.NewWriter(linkBuf),
		itemBuf: itemBuf,
		linkBuf: linkBuf,
	}
}

// Begin writes both header lines.
func (s *CSV) Begin(_ context.Context, columns []string) error {
	s.columns = append([]string(nil), columns...)
	if err := s.items.Write(s.columns); err != nil {
		return fmt.Errorf("write item header: %w", err)
	}
	if err := s.links.Write(catalog.LinkColumns); err != nil {
		return fmt.Errorf("write link header: %w", err)
	}
	return nil
}

func (s *CSV) WriteItem(_ context.Context, row catalog.Row) error {
	if s.columns == nil {
		return errors.New("csv sink: WriteItem before Begin")
	}
	s.pendingItems++
	return s.items.Write(catalog.Project(row, s.columns))
}

func (s *CSV) WriteLink(_ context.Context, link catalog.ExpansionLink) error {
	s.pendingLinks++
	return s.links.Write(link.Values())
}

// Flush pushes buffered records to the underlying writers.
func (s *CSV) Flush(context.Context) error {
	for _, w := range []*csv.Writer{s.items, s.links} {
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("flush csv: %w", err)
		}
	}
	for _, b := range []*bufio.Writer{s.itemBuf, s.linkBuf} {
		if err := b.Flush(); err != nil {
			return fmt.Errorf("flush csv: %w", err)
		}
	}
	bggSinkRowsFlushed.WithLabelValues("csv", tableItems).Add(float64(s.pendingItems))
	bggSinkRowsFlushed.WithLabelValues("csv", tableLinks).Add(float64(s.pendingLinks))
	s.pendingItems, s.pendingLinks = 0, 0
	return nil
}

// Close flushes and closes the files opened by CreateCSV.
func (s *CSV) Close() error {
	errs := []error{s.Flush(context.Background())}
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}
