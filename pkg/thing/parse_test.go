package thing

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func parseFixture(t *testing.T, n *Normalizer) map[string]FieldSet {
	t.Helper()

	f, err := os.Open("testdata/thing.xml")
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()

	got := make(map[string]FieldSet)
	for fs, err := range n.Parse(f) {
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		got[fs.ID] = fs
	}
	return got
}

func TestParse_Fixture(t *testing.T) {
	got := parseFixture(t, NewNormalizer(nil))
	if len(got) != 3 {
		t.Fatalf("Parse() yielded %d items, want 3", len(got))
	}

	catan := got["13"]
	if catan.Name != "CATAN" {
		t.Errorf("Name = %q, want CATAN", catan.Name)
	}
	if catan.BestPlayers != "4" {
		t.Errorf("BestPlayers = %q, want %q", catan.BestPlayers, "4")
	}
	if catan.RecPlayers != "3-4" {
		t.Errorf("RecPlayers = %q, want %q", catan.RecPlayers, "3-4")
	}
	if catan.SuggestedPlayerAge == nil || *catan.SuggestedPlayerAge != 22 {
		t.Errorf("SuggestedPlayerAge = %v, want 22", catan.SuggestedPlayerAge)
	}
	if catan.Complexity == nil || *catan.Complexity != 2.2862 {
		t.Errorf("Complexity = %v, want 2.2862", catan.Complexity)
	}
	if catan.PlayingTime == nil || *catan.PlayingTime != 120 {
		t.Errorf("PlayingTime = %v, want 120", catan.PlayingTime)
	}
	if len(catan.Description) != 100 {
		t.Errorf("len(Description) = %d, want 100", len(catan.Description))
	}
	if catan.IsExpansion {
		t.Error("IsExpansion = true, want false")
	}
	if len(catan.Expansions) != 2 || catan.Expansions[0].Name != "CATAN: Cities & Knights" {
		t.Errorf("Expansions = %+v, want 926 and 325", catan.Expansions)
	}
	if catan.Taxonomy != nil {
		t.Errorf("Taxonomy = %v, want nil by default", catan.Taxonomy)
	}

	expansion := got["926"]
	if !expansion.IsExpansion {
		t.Error("926 IsExpansion = false, want true")
	}
	if !expansion.IsCooperative {
		t.Error("926 IsCooperative = false, want true")
	}
	if expansion.SuggestedPlayerAge != nil {
		t.Errorf("926 SuggestedPlayerAge = %v, want nil", *expansion.SuggestedPlayerAge)
	}
	if expansion.Complexity != nil {
		t.Errorf("926 Complexity = %v, want nil", *expansion.Complexity)
	}
	if len(expansion.Expansions) != 0 {
		t.Errorf("926 Expansions = %+v, want none", expansion.Expansions)
	}

	sparse := got["99"]
	for name, v := range map[string]*int{
		"MinPlayers":  sparse.MinPlayers,
		"MaxPlayers":  sparse.MaxPlayers,
		"PlayingTime": sparse.PlayingTime,
		"MinPlayTime": sparse.MinPlayTime,
		"MaxPlayTime": sparse.MaxPlayTime,
		"MinAge":      sparse.MinAge,
	} {
		if v != nil {
			t.Errorf("99 %s = %d, want nil", name, *v)
		}
	}
	if !sparse.IsTeamBased || sparse.IsCooperative || sparse.IsLegacy {
		t.Errorf("99 flags = coop %v team %v legacy %v, want only team", sparse.IsCooperative, sparse.IsTeamBased, sparse.IsLegacy)
	}
	if sparse.BestPlayers != "" || sparse.RecPlayers != "" || sparse.Description != "" {
		t.Errorf("99 text fields = %+v, want empty", sparse)
	}
}

func TestParse_FixtureWithTaxonomy(t *testing.T) {
	opts := DefaultOptions()
	opts.IncludeTaxonomy = true
	got := parseFixture(t, NewNormalizer(NewExtractor(opts)))

	want := map[string]string{
		LinkCategory: "Economic|Negotiation",
		LinkMechanic: "Dice Rolling|Trading",
		LinkFamily:   "Catan",
	}
	for _, tax := range got["13"].Taxonomy {
		if tax.Joined != want[tax.Category] {
			t.Errorf("Taxonomy[%s] = %q, want %q", tax.Category, tax.Joined, want[tax.Category])
		}
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			name:    "api error document",
			body:    `<?xml version="1.0"?><errors><error><message>Rate limit exceeded.</message></error></errors>`,
			wantMsg: "Rate limit exceeded.",
		},
		{
			name:    "single error element",
			body:    `<error><message>Invalid id</message></error>`,
			wantMsg: "Invalid id",
		},
		{
			name:    "wrong root",
			body:    `<html><body>busy</body></html>`,
			wantMsg: "unexpected root",
		},
		{
			name:    "empty body",
			body:    ``,
			wantMsg: "items",
		},
		{
			name:    "truncated document",
			body:    `<items><item id="1" type="boardgame"><name type="primary" value="x"`,
			wantMsg: "parse",
		},
		{
			name:    "item missing bounds",
			body:    `<items><item id="5" type="boardgame"><name type="primary" value="x"/></item></items>`,
			wantMsg: "item 5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errs []error
			for _, err := range NewNormalizer(nil).Parse(strings.NewReader(tt.body)) {
				if err != nil {
					errs = append(errs, err)
				}
			}
			if len(errs) != 1 {
				t.Fatalf("Parse() yielded %d errors, want 1", len(errs))
			}
			if !errors.Is(errs[0], ErrParse) {
				t.Errorf("error = %v, want ErrParse", errs[0])
			}
			if !strings.Contains(errs[0].Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", errs[0].Error(), tt.wantMsg)
			}
		})
	}
}

func TestParse_SkipsUnknownChildren(t *testing.T) {
	body := `<items><notice>maintenance</notice></items>`
	count := 0
	for _, err := range NewNormalizer(nil).Parse(strings.NewReader(body)) {
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		count++
	}
	if count != 0 {
		t.Errorf("Parse() yielded %d items, want 0", count)
	}
}

func TestParse_StopsWhenConsumerBreaks(t *testing.T) {
	f, err := os.Open("testdata/thing.xml")
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()

	count := 0
	for _, err := range NewNormalizer(nil).Parse(f) {
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		count++
		break
	}
	if count != 1 {
		t.Errorf("iterations = %d, want 1", count)
	}
}
