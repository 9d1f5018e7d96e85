package thing

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	pollSuggestedPlayerAge = "suggested_playerage"
	summaryNumPlayers      = "suggested_numplayers"
	resultBestWith         = "bestwith"
	// The API spells it with three m's.
	resultRecommendedWith      = "recommmendedwith"
	resultRecommendedWithFixed = "recommendedwith"
)

// DefaultDash is the EN DASH (U+2013) BGG uses in player-range summaries.
// It is not the ASCII hyphen.
const DefaultDash = '–'

// mechanicFlags maps a boolean output to the mechanic link that sets it.
var mechanicFlags = []struct {
	value string
	set   func(*FieldSet)
}{
	{"Cooperative Game", func(f *FieldSet) { f.IsCooperative = true }},
	{"Team-Based Game", func(f *FieldSet) { f.IsTeamBased = true }},
	{"Legacy Game", func(f *FieldSet) { f.IsLegacy = true }},
}

// Options controls the configurable parts of extraction.
type Options struct {
	// DescriptionLength is the number of characters kept. 0 keeps nothing,
	// negative keeps everything.
	DescriptionLength int

	// IncludeTaxonomy adds one joined column per taxonomy category.
	IncludeTaxonomy bool

	// TaxonomyDelimiter separates values within a taxonomy column.
	TaxonomyDelimiter string

	// Dash is the range glyph found in player-count summaries.
	Dash rune
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		DescriptionLength: 100,
		IncludeTaxonomy:   false,
		TaxonomyDelimiter: "|",
		Dash:              DefaultDash,
	}
}

// Extractor derives a FieldSet from a decoded Item. It holds no state
// between items.
type Extractor struct {
	opts Options
}

// NewExtractor creates an extractor. A zero Dash falls back to DefaultDash.
func NewExtractor(opts Options) *Extractor {
	if opts.Dash == 0 {
		opts.Dash = DefaultDash
	}
	return &Extractor{opts: opts}
}

// Options returns the effective options.
func (e *Extractor) Options() Options {
	return e.opts
}

// Columns returns the output columns this extractor produces.
func (e *Extractor) Columns() []string {
	return ColumnNames(e.opts.IncludeTaxonomy)
}

// Extract computes the field set for one item. Every derived field starts
// from its empty value, so nothing carries over from a previous item.
func (e *Extractor) Extract(item Item) (FieldSet, error) {
	if strings.TrimSpace(item.ID) == "" {
		return FieldSet{}, missing("", "item id")
	}

	fs := FieldSet{
		ID:          item.ID,
		Name:        item.PrimaryName(),
		ImageURL:    strings.TrimSpace(item.Image),
		Thumbnail:   strings.TrimSpace(item.Thumbnail),
		Description: truncate(item.Description, e.opts.DescriptionLength),
		IsExpansion: item.IsExpansion(),
	}

	bounds := []struct {
		element string
		attr    *ValueAttr
		dst     **int
	}{
		{"minplaytime", item.MinPlayTime, &fs.MinPlayTime},
		{"maxplaytime", item.MaxPlayTime, &fs.MaxPlayTime},
		{"playingtime", item.PlayingTime, &fs.PlayingTime},
		{"minplayers", item.MinPlayers, &fs.MinPlayers},
		{"maxplayers", item.MaxPlayers, &fs.MaxPlayers},
		{"minage", item.MinAge, &fs.MinAge},
	}
	for _, b := range bounds {
		v, err := boundValue(item.ID, b.element, b.attr)
		if err != nil {
			return FieldSet{}, err
		}
		*b.dst = v
	}

	age, err := suggestedPlayerAge(item)
	if err != nil {
		return FieldSet{}, err
	}
	fs.SuggestedPlayerAge = age

	fs.BestPlayers, fs.RecPlayers = e.playerRanges(item)

	complexity, err := averageWeight(item)
	if err != nil {
		return FieldSet{}, err
	}
	fs.Complexity = complexity

	for _, flag := range mechanicFlags {
		if hasLink(item.Links, LinkMechanic, flag.value) {
			flag.set(&fs)
		}
	}

	if e.opts.IncludeTaxonomy {
		fs.Taxonomy = make([]Taxonomy, 0, len(TaxonomyCategories))
		for _, category := range TaxonomyCategories {
			fs.Taxonomy = append(fs.Taxonomy, Taxonomy{
				Category: category,
				Joined:   strings.Join(linkValues(item.Links, category), e.opts.TaxonomyDelimiter),
			})
		}
	}

	if !fs.IsExpansion {
		for _, link := range item.Links {
			if link.Type == LinkExpansion {
				fs.Expansions = append(fs.Expansions, Ref{ID: link.ID, Name: link.Value})
			}
		}
	}

	return fs, nil
}

// boundValue reads an integer bound. A missing element is a parse fault;
// 0 means "no data" and maps to nil.
func boundValue(itemID, element string, attr *ValueAttr) (*int, error) {
	if attr == nil {
		return nil, missing(itemID, element)
	}
	n, err := strconv.Atoi(strings.TrimSpace(attr.Value))
	if err != nil {
		return nil, &ParseError{ItemID: itemID, Element: element, Err: err}
	}
	if n == 0 {
		return nil, nil
	}
	return &n, nil
}

// suggestedPlayerAge returns the vote-weighted mean of the age poll buckets.
func suggestedPlayerAge(item Item) (*float64, error) {
	for _, poll := range item.Polls {
		if poll.Name != pollSuggestedPlayerAge {
			continue
		}
		total, err := strconv.Atoi(strings.TrimSpace(poll.TotalVotes))
		if err != nil {
			return nil, &ParseError{ItemID: item.ID, Element: "poll totalvotes", Err: err}
		}
		if total == 0 {
			return nil, nil
		}

		var ageSum, voteSum int
		for _, group := range poll.Results {
			for _, bucket := range group.Results {
				age, ok := leadingInt(bucket.Value)
				if !ok {
					return nil, &ParseError{
						ItemID:  item.ID,
						Element: "poll result",
						Err:     fmt.Errorf("no age in label %q", bucket.Value),
					}
				}
				votes, err := strconv.Atoi(strings.TrimSpace(bucket.NumVotes))
				if err != nil {
					return nil, &ParseError{ItemID: item.ID, Element: "poll result numvotes", Err: err}
				}
				ageSum += age * votes
				voteSum += votes
			}
		}
		if voteSum == 0 {
			return nil, nil
		}
		avg := float64(ageSum) / float64(voteSum)
		return &avg, nil
	}
	return nil, nil
}

func (e *Extractor) playerRanges(item Item) (best, rec string) {
	for _, summary := range item.PollSummaries {
		if summary.Name != summaryNumPlayers {
			continue
		}
		for _, result := range summary.Results {
			switch result.Name {
			case resultBestWith:
				best = filterPlayerRange(result.Value, e.opts.Dash)
			case resultRecommendedWith, resultRecommendedWithFixed:
				rec = filterPlayerRange(result.Value, e.opts.Dash)
			}
		}
	}
	return best, rec
}

// filterPlayerRange keeps digits, the dash glyph, commas and plus signs, and
// rewrites the dash glyph to an ASCII hyphen.
func filterPlayerRange(s string, dash rune) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == dash:
			b.WriteByte('-')
		case r >= '0' && r <= '9', r == ',', r == '+':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func averageWeight(item Item) (*float64, error) {
	const element = "statistics/ratings/averageweight"
	if item.Statistics == nil || item.Statistics.Ratings == nil || item.Statistics.Ratings.AverageWeight == nil {
		return nil, missing(item.ID, element)
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(item.Statistics.Ratings.AverageWeight.Value), 64)
	if err != nil {
		return nil, &ParseError{ItemID: item.ID, Element: element, Err: err}
	}
	if w == 0 {
		return nil, nil
	}
	return &w, nil
}

func hasLink(links []Link, linkType, value string) bool {
	for _, l := range links {
		if l.Type == linkType && l.Value == value {
			return true
		}
	}
	return false
}

func linkValues(links []Link, linkType string) []string {
	var out []string
	for _, l := range links {
		if l.Type == linkType {
			out = append(out, l.Value)
		}
	}
	return out
}

// leadingInt parses the leading digit run, e.g. 21 from "21 and up".
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	return n, err == nil
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if n < 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
