// Package sink writes merged catalog rows and expansion links to their
// destinations: CSV files, an XLSX workbook, SQLite or Postgres.
//
// Every sink receives the ordered item columns once via Begin, then rows and
// links in catalog order, with a Flush after each batch. Close releases the
// destination and must be called even after a failed run.
package sink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Table roles used in metrics and logs.
const (
	tableItems = "items"
	tableLinks = "links"
)

var bggSinkRowsFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bgg_sink_rows_flushed_total",
	Help: "Total number of rows persisted by a sink",
}, []string{"sink", "table"})

// nullable maps empty values to SQL NULL.
func nullable(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if v != "" {
			out[i] = v
		}
	}
	return out
}
