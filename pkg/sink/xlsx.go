package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/Sternrassler/bgg-enricher/pkg/catalog"
)

// Sheet names of the workbook.
const (
	SheetItems = "items"
	SheetLinks = "expansions"
)

// XLSX writes both tables into one workbook. The workbook is only saved on
// Close; Flush keeps it in memory.
type XLSX struct {
	path    string
	file    *excelize.File
	columns []string

	itemRow, linkRow int
	pendingItems     int
	pendingLinks     int
}

// CreateXLSX prepares a workbook that will be saved to path.
func CreateXLSX(path string) (*XLSX, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetItems); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetLinks); err != nil {
		return nil, fmt.Errorf("create sheet %s: %w", SheetLinks, err)
	}
	return &XLSX{path: path, file: f}, nil
}

func (s *XLSX) Begin(_ context.Context, columns []string) error {
	s.columns = append([]string(nil), columns...)
	if err := s.setRow(SheetItems, 1, columns); err != nil {
		return err
	}
	if err := s.setRow(SheetLinks, 1, catalog.LinkColumns); err != nil {
		return err
	}
	s.itemRow, s.linkRow = 2, 2
	return nil
}

func (s *XLSX) WriteItem(_ context.Context, row catalog.Row) error {
	if s.columns == nil {
		return errors.New("xlsx sink: WriteItem before Begin")
	}
	if err := s.setRow(SheetItems, s.itemRow, catalog.Project(row, s.columns)); err != nil {
		return err
	}
	s.itemRow++
	s.pendingItems++
	return nil
}

func (s *XLSX) WriteLink(_ context.Context, link catalog.ExpansionLink) error {
	if err := s.setRow(SheetLinks, s.linkRow, link.Values()); err != nil {
		return err
	}
	s.linkRow++
	s.pendingLinks++
	return nil
}

func (s *XLSX) Flush(context.Context) error {
	bggSinkRowsFlushed.WithLabelValues("xlsx", tableItems).Add(float64(s.pendingItems))
	bggSinkRowsFlushed.WithLabelValues("xlsx", tableLinks).Add(float64(s.pendingLinks))
	s.pendingItems, s.pendingLinks = 0, 0
	return nil
}

// Close saves the workbook and releases it.
func (s *XLSX) Close() error {
	if s.file == nil {
		return nil
	}
	defer func() {
		s.file.Close()
		s.file = nil
	}()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := s.file.SaveAs(s.path); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	return nil
}

// setRow writes values as text cells; "" leaves the cell blank.
func (s *XLSX) setRow(sheet string, row int, values []string) error {
	for i, v := range values {
		if v == "" {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := s.file.SetCellStr(sheet, cell, v); err != nil {
			return fmt.Errorf("write %s %s: %w", sheet, cell, err)
		}
	}
	return nil
}
