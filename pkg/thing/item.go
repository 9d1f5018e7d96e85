// Package thing decodes BoardGameGeek XML API2 "thing" responses and derives
// the normalized per-item field set written alongside the rank catalog.
package thing

import "encoding/xml"

// Item types reported in the type attribute of an <item>.
const (
	TypeBoardGame          = "boardgame"
	TypeBoardGameExpansion = "boardgameexpansion"
)

// Item is a single <item> of a thing response requested with stats=1.
type Item struct {
	XMLName       xml.Name      `xml:"item"`
	ID            string        `xml:"id,attr"`
	Type          string        `xml:"type,attr"`
	Thumbnail     string        `xml:"thumbnail"`
	Image         string        `xml:"image"`
	Names         []Name        `xml:"name"`
	Description   string        `xml:"description"`
	YearPublished *ValueAttr    `xml:"yearpublished"`
	MinPlayers    *ValueAttr    `xml:"minplayers"`
	MaxPlayers    *ValueAttr    `xml:"maxplayers"`
	Polls         []Poll        `xml:"poll"`
	PollSummaries []PollSummary `xml:"poll-summary"`
	PlayingTime   *ValueAttr    `xml:"playingtime"`
	MinPlayTime   *ValueAttr    `xml:"minplaytime"`
	MaxPlayTime   *ValueAttr    `xml:"maxplaytime"`
	MinAge        *ValueAttr    `xml:"minage"`
	Links         []Link        `xml:"link"`
	Statistics    *Statistics   `xml:"statistics"`
}

// ValueAttr is an element whose payload lives in its value attribute,
// e.g. <minplayers value="2"/>.
type ValueAttr struct {
	Value string `xml:"value,attr"`
}

// Name is a primary or alternate item name.
type Name struct {
	Type      string `xml:"type,attr"`
	SortIndex string `xml:"sortindex,attr"`
	Value     string `xml:"value,attr"`
}

// Poll is a community poll such as suggested_playerage.
type Poll struct {
	Name       string        `xml:"name,attr"`
	Title      string        `xml:"title,attr"`
	TotalVotes string        `xml:"totalvotes,attr"`
	Results    []PollResults `xml:"results"`
}

// PollResults groups poll buckets. suggested_numplayers has one group per
// player count; other polls have a single group.
type PollResults struct {
	NumPlayers string       `xml:"numplayers,attr"`
	Results    []PollResult `xml:"result"`
}

// PollResult is one bucket of a poll.
type PollResult struct {
	Level    string `xml:"level,attr"`
	Value    string `xml:"value,attr"`
	NumVotes string `xml:"numvotes,attr"`
}

// PollSummary is the server-side digest of a poll.
type PollSummary struct {
	Name    string          `xml:"name,attr"`
	Title   string          `xml:"title,attr"`
	Results []SummaryResult `xml:"result"`
}

// SummaryResult is a named line of a poll summary.
type SummaryResult struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Link is a typed, valued tag attached to an item (mechanic, category,
// family, expansion, designer, ...).
type Link struct {
	Type    string `xml:"type,attr"`
	ID      string `xml:"id,attr"`
	Value   string `xml:"value,attr"`
	Inbound string `xml:"inbound,attr"`
}

// Statistics is the stats=1 block of an item.
type Statistics struct {
	Page    string   `xml:"page,attr"`
	Ratings *Ratings `xml:"ratings"`
}

// Ratings holds the aggregate rating figures of an item.
type Ratings struct {
	UsersRated    *ValueAttr `xml:"usersrated"`
	Average       *ValueAttr `xml:"average"`
	BayesAverage  *ValueAttr `xml:"bayesaverage"`
	StdDev        *ValueAttr `xml:"stddev"`
	Median        *ValueAttr `xml:"median"`
	Owned         *ValueAttr `xml:"owned"`
	NumComments   *ValueAttr `xml:"numcomments"`
	NumWeights    *ValueAttr `xml:"numweights"`
	AverageWeight *ValueAttr `xml:"averageweight"`
}

// PrimaryName returns the primary name, falling back to the first listed name.
func (i Item) PrimaryName() string {
	for _, n := range i.Names {
		if n.Type == "primary" {
			return n.Value
		}
	}
	if len(i.Names) > 0 {
		return i.Names[0].Value
	}
	return ""
}

// IsExpansion reports whether the item is itself an expansion of another item.
func (i Item) IsExpansion() bool {
	return i.Type == TypeBoardGameExpansion
}
