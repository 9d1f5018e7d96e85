package catalog

import (
	"github.com/Sternrassler/bgg-enricher/pkg/thing"
)

// DefaultSentinelColumns are catalog columns where "0" means "no data".
var DefaultSentinelColumns = []string{"average", "bayesaverage", "rank", "yearpublished"}

// LinkColumns are the columns of the expansion relationship table.
var LinkColumns = []string{"base_id", "base_name", "expansion_id", "expansion_name"}

// ExpansionLink relates a base item to one of its expansions.
type ExpansionLink struct {
	BaseID        string
	BaseName      string
	ExpansionID   string
	ExpansionName string
}

// Values returns the link in LinkColumns order.
func (l ExpansionLink) Values() []string {
	return []string{l.BaseID, l.BaseName, l.ExpansionID, l.ExpansionName}
}

// MergeOptions configures a Merger.
type MergeOptions struct {
	// SentinelColumns have an exact "0" replaced by "".
	SentinelColumns []string
}

// DefaultMergeOptions returns the options used when nothing is configured.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{SentinelColumns: DefaultSentinelColumns}
}

// Merger combines a catalog row with its fetched field set.
type Merger struct {
	sentinels []string
}

// NewMerger creates a merger.
func NewMerger(opts MergeOptions) *Merger {
	return &Merger{sentinels: append([]string(nil), opts.SentinelColumns...)}
}

// Merge returns a new row holding row's columns overwritten by the field set,
// with sentinel columns nulled, plus the expansion links of a base item.
// row is not modified. Merging an already merged row gives the same result.
func (m *Merger) Merge(row Row, fs thing.FieldSet) (Row, []ExpansionLink) {
	out := row.Clone()

	for _, col := range fs.Columns() {
		out[col.Name] = col.Value
	}

	for _, col := range m.sentinels {
		if out[col] == "0" {
			out[col] = ""
		}
	}

	if len(fs.Expansions) == 0 {
		return out, nil
	}

	baseName := row[ColumnName]
	if baseName == "" {
		baseName = fs.Name
	}

	links := make([]ExpansionLink, 0, len(fs.Expansions))
	for _, exp := range fs.Expansions {
		links = append(links, ExpansionLink{
			BaseID:        row.ID(),
			BaseName:      baseName,
			ExpansionID:   exp.ID,
			ExpansionName: exp.Name,
		})
	}
	return out, links
}

// OutputColumns returns header followed by the field columns not already in
// it. When target is non-nil the result is restricted to columns present in
// target, keeping order.
func OutputColumns(header, fieldColumns, target []string) []string {
	seen := make(map[string]bool, len(header)+len(fieldColumns))
	cols := make([]string, 0, len(header)+len(fieldColumns))
	for _, group := range [][]string{header, fieldColumns} {
		for _, c := range group {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}

	if target == nil {
		return cols
	}

	allowed := make(map[string]bool, len(target))
	for _, c := range target {
		allowed[c] = true
	}
	restricted := cols[:0]
	for _, c := range cols {
		if allowed[c] {
			restricted = append(restricted, c)
		}
	}
	return restricted
}

// Project returns row's values for cols, in order. Missing columns are "".
func Project(row Row, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = row[c]
	}
	return out
}
