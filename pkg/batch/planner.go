// Package batch partitions the catalog into fixed-size batches and drives
// each one through fetch, normalize, merge and write.
package batch

import (
	"errors"
	"fmt"
	"io"

	"github.com/Sternrassler/bgg-enricher/pkg/catalog"
)

// MaxSize is the largest number of ids BGG accepts in one thing request.
const MaxSize = 20

// Batch is one contiguous slice of catalog rows.
type Batch struct {
	// Number is 1-based.
	Number int
	Rows   []catalog.Row
}

// IDs returns the distinct ids of the batch in first-seen order.
func (b Batch) IDs() []string {
	seen := make(map[string]bool, len(b.Rows))
	ids := make([]string, 0, len(b.Rows))
	for _, row := range b.Rows {
		id := row.ID()
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// Planner cuts a catalog source into batches.
type Planner struct {
	src  catalog.Source
	size int
	next int
	done bool
}

// NewPlanner creates a planner producing batches of at most size rows.
func NewPlanner(src catalog.Source, size int) (*Planner, error) {
	if size < 1 || size > MaxSize {
		return nil, fmt.Errorf("batch size must be between 1 and %d (got %d)", MaxSize, size)
	}
	return &Planner{src: src, size: size, next: 1}, nil
}

// Next returns the next batch, or io.EOF once the source is exhausted.
// Every id is validated before the batch is returned.
func (p *Planner) Next() (Batch, error) {
	if p.done {
		return Batch{}, io.EOF
	}

	rows := make([]catalog.Row, 0, p.size)
	for len(rows) < p.size {
		row, err := p.src.Read()
		if errors.Is(err, io.EOF) {
			p.done = true
			break
		}
		if err != nil {
			return Batch{}, fmt.Errorf("plan batch %d: %w", p.next, err)
		}
		if err := catalog.ValidID(row.ID()); err != nil {
			return Batch{}, fmt.Errorf("plan batch %d: row %d: %w", p.next, len(rows)+1, err)
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return Batch{}, io.EOF
	}

	b := Batch{Number: p.next, Rows: rows}
	p.next++
	return b, nil
}
