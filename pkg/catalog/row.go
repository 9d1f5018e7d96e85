// Package catalog reads the locally held list of catalog entries and merges
// fetched item fields into them.
package catalog

import (
	"errors"
	"fmt"
)

// ColumnID is the catalog column holding the item id.
const ColumnID = "id"

// ColumnName is the catalog column holding the item display name.
const ColumnName = "name"

// ErrInvalidID is returned for an id that is not a non-empty run of decimal digits.
var ErrInvalidID = errors.New("invalid item id")

// Row is one catalog entry keyed by column name.
type Row map[string]string

// ID returns the row's item id.
func (r Row) ID() string {
	return r[ColumnID]
}

// Clone returns a copy that shares no storage with r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ValidID checks that id is a non-empty string of ASCII digits.
func ValidID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}
