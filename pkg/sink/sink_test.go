package sink

import (
	"context"
	"testing"

	"github.com/Sternrassler/bgg-enricher/pkg/catalog"
)

type batchSink interface {
	Begin(ctx context.Context, columns []string) error
	WriteItem(ctx context.Context, row catalog.Row) error
	WriteLink(ctx context.Context, link catalog.ExpansionLink) error
	Flush(ctx context.Context) error
}

var (
	testColumns = []string{"id", "name", "rank", "min_players"}

	testRows = []catalog.Row{
		{"id": "13", "name": "CATAN", "rank": "500", "min_players": "3"},
		{"id": "926", "name": "CATAN: 5-6 Player Extension", "rank": "", "min_players": "5"},
		{"id": "42", "name": "Tigris & Euphrates", "rank": "80", "extra": "ignored"},
	}

	testLinks = []catalog.ExpansionLink{
		{BaseID: "13", BaseName: "CATAN", ExpansionID: "926", ExpansionName: "CATAN: 5-6 Player Extension"},
		{BaseID: "13", BaseName: "CATAN", ExpansionID: "325", ExpansionName: "CATAN: Seafarers"},
	}
)

func writeAll(t *testing.T, s batchSink) {
	t.Helper()
	ctx := context.Background()
	if err := s.Begin(ctx, testColumns); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for _, row := range testRows {
		if err := s.WriteItem(ctx, row); err != nil {
			t.Fatalf("WriteItem(%s) error = %v", row.ID(), err)
		}
	}
	for _, link := range testLinks {
		if err := s.WriteLink(ctx, link); err != nil {
			t.Fatalf("WriteLink() error = %v", err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func equalRows(t *testing.T, name string, got, want [][]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s rows = %d, want %d (%v)", name, len(got), len(want), got)
	}
	for i := range want {
		if len(got[i]) != len(want[i]) {
			t.Errorf("%s row %d = %q, want %q", name, i, got[i], want[i])
			continue
		}
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Errorf("%s row %d col %d = %q, want %q", name, i, j, got[i][j], want[i][j])
			}
		}
	}
}
