package thing

import "strconv"

// Output column names produced from a FieldSet.
const (
	ColumnMinPlayTime        = "minplaytime"
	ColumnMaxPlayTime        = "maxplaytime"
	ColumnPlayingTime        = "playing_time"
	ColumnMinPlayers         = "min_players"
	ColumnMaxPlayers         = "max_players"
	ColumnBestPlayers        = "best_players"
	ColumnRecPlayers         = "rec_players"
	ColumnImageURL           = "image_url"
	ColumnThumbnail          = "thumbnail"
	ColumnComplexity         = "complexity"
	ColumnDescription        = "description"
	ColumnIsCooperative      = "is_cooperative"
	ColumnIsTeamBased        = "is_teambased"
	ColumnIsLegacy           = "is_legacy"
	ColumnIsExpansion        = "is_expansion"
	ColumnMinAge             = "min_age"
	ColumnSuggestedPlayerAge = "suggested_playerage"
)

// Link types used for taxonomy and for expansion relationships.
const (
	LinkCategory  = "boardgamecategory"
	LinkMechanic  = "boardgamemechanic"
	LinkFamily    = "boardgamefamily"
	LinkExpansion = "boardgameexpansion"
)

// TaxonomyCategories are the link types flattened into delimiter-joined
// columns, in output order. Each category name doubles as its column name.
var TaxonomyCategories = []string{LinkCategory, LinkMechanic, LinkFamily}

var baseColumns = []string{
	ColumnMinPlayTime,
	ColumnMaxPlayTime,
	ColumnPlayingTime,
	ColumnMinPlayers,
	ColumnMaxPlayers,
	ColumnBestPlayers,
	ColumnRecPlayers,
	ColumnImageURL,
	ColumnThumbnail,
	ColumnComplexity,
	ColumnDescription,
	ColumnIsCooperative,
	ColumnIsTeamBased,
	ColumnIsLegacy,
	ColumnIsExpansion,
	ColumnMinAge,
	ColumnSuggestedPlayerAge,
}

// ColumnNames returns the ordered column names that FieldSet.Columns emits.
func ColumnNames(includeTaxonomy bool) []string {
	names := make([]string, 0, len(baseColumns)+len(TaxonomyCategories))
	names = append(names, baseColumns...)
	if includeTaxonomy {
		names = append(names, TaxonomyCategories...)
	}
	return names
}

// Ref identifies a related item by id and display name.
type Ref struct {
	ID   string
	Name string
}

// Taxonomy is one category's link values joined with the configured delimiter.
type Taxonomy struct {
	Category string
	Joined   string
}

// FieldSet is the normalized data extracted for one item. A nil pointer
// means the source carried no usable value (absent, or the 0 sentinel).
type FieldSet struct {
	ID   string
	Name string

	MinPlayTime *int
	MaxPlayTime *int
	PlayingTime *int
	MinPlayers  *int
	MaxPlayers  *int
	MinAge      *int

	BestPlayers string
	RecPlayers  string

	ImageURL    string
	Thumbnail   string
	Complexity  *float64
	Description string

	IsCooperative bool
	IsTeamBased   bool
	IsLegacy      bool
	IsExpansion   bool

	SuggestedPlayerAge *float64

	// Taxonomy is nil when taxonomy output is disabled.
	Taxonomy []Taxonomy

	// Expansions is only populated for base items.
	Expansions []Ref
}

// Column is a single output cell.
type Column struct {
	Name  string
	Value string
}

// Columns renders the field set as ordered output cells.
func (f FieldSet) Columns() []Column {
	cols := []Column{
		{ColumnMinPlayTime, formatInt(f.MinPlayTime)},
		{ColumnMaxPlayTime, formatInt(f.MaxPlayTime)},
		{ColumnPlayingTime, formatInt(f.PlayingTime)},
		{ColumnMinPlayers, formatInt(f.MinPlayers)},
		{ColumnMaxPlayers, formatInt(f.MaxPlayers)},
		{ColumnBestPlayers, f.BestPlayers},
		{ColumnRecPlayers, f.RecPlayers},
		{ColumnImageURL, f.ImageURL},
		{ColumnThumbnail, f.Thumbnail},
		{ColumnComplexity, formatFloat(f.Complexity)},
		{ColumnDescription, f.Description},
		{ColumnIsCooperative, strconv.FormatBool(f.IsCooperative)},
		{ColumnIsTeamBased, strconv.FormatBool(f.IsTeamBased)},
		{ColumnIsLegacy, strconv.FormatBool(f.IsLegacy)},
		{ColumnIsExpansion, strconv.FormatBool(f.IsExpansion)},
		{ColumnMinAge, formatInt(f.MinAge)},
		{ColumnSuggestedPlayerAge, formatFloat(f.SuggestedPlayerAge)},
	}
	for _, t := range f.Taxonomy {
		cols = append(cols, Column{Name: t.Category, Value: t.Joined})
	}
	return cols
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
