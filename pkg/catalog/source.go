package catalog

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// Source yields catalog rows in catalog order. Read returns io.EOF after the
// last row.
type Source interface {
	Header() []string
	Read() (Row, error)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVReader streams rows from a CSV document whose first record is the header.
type CSVReader struct {
	r      *csv.Reader
	header []string
	line   int
}

// NewCSVReader reads the header from r. A leading UTF-8 BOM is skipped and
// the header must contain an id column.
func NewCSVReader(r io.Reader) (*CSVReader, error) {
	br := bufio.NewReader(r)
	if first, _ := br.Peek(len(utf8BOM)); bytes.Equal(first, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read catalog header: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog header: %w", err)
	}

	hasID := false
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
		if header[i] == ColumnID {
			hasID = true
		}
	}
	if !hasID {
		return nil, fmt.Errorf("catalog header has no %q column: %v", ColumnID, header)
	}

	return &CSVReader{r: cr, header: header, line: 1}, nil
}

// Header returns the catalog columns in file order.
func (c *CSVReader) Header() []string {
	return append([]string(nil), c.header...)
}

// Read returns the next row.
func (c *CSVReader) Read() (Row, error) {
	record, err := c.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read catalog line %d: %w", c.line+1, err)
	}
	c.line++

	row := make(Row, len(c.header))
	for i, col := range c.header {
		if i < len(record) {
			row[col] = record[i]
		}
	}
	return row, nil
}

// File is a catalog source backed by an open file.
type File struct {
	*CSVReader
	closers []io.Closer
}

// Close releases the underlying file handles.
func (f *File) Close() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		errs = append(errs, f.closers[i].Close())
	}
	return errors.Join(errs...)
}

var zipMagic = []byte("PK\x03\x04")

// OpenFile opens a plain CSV file or a zip archive holding one. For an
// archive the first .csv entry is read.
func OpenFile(name string) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	magic := make([]byte, len(zipMagic))
	n, _ := io.ReadFull(f, magic)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("rewind catalog: %w", err)
	}

	if n == len(zipMagic) && bytes.Equal(magic, zipMagic) {
		f.Close()
		return openZip(name)
	}

	r, err := NewCSVReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &File{CSVReader: r, closers: []io.Closer{f}}, nil
}

func openZip(name string) (*File, error) {
	zr, err := zip.OpenReader(name)
	if err != nil {
		return nil, fmt.Errorf("open catalog archive: %w", err)
	}

	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || !strings.EqualFold(path.Ext(entry.Name), ".csv") {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			zr.Close()
			return nil, fmt.Errorf("open %s in %s: %w", entry.Name, name, err)
		}
		r, err := NewCSVReader(rc)
		if err != nil {
			rc.Close()
			zr.Close()
			return nil, fmt.Errorf("%s in %s: %w", entry.Name, name, err)
		}
		return &File{CSVReader: r, closers: []io.Closer{zr, rc}}, nil
	}

	zr.Close()
	return nil, fmt.Errorf("catalog archive %s contains no .csv entry", name)
}

// SliceSource serves rows from memory.
type SliceSource struct {
	header []string
	rows   []Row
	pos    int
}

// NewSliceSource creates a source over rows. Each row is cloned on Read.
func NewSliceSource(header []string, rows []Row) *SliceSource {
	return &SliceSource{header: header, rows: rows}
}

// Header returns the configured header.
func (s *SliceSource) Header() []string {
	return append([]string(nil), s.header...)
}

// Read returns the next row.
func (s *SliceSource) Read() (Row, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos].Clone()
	s.pos++
	return row, nil
}
