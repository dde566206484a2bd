package omdb

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ResultsPerPage is the fixed page size of upstream search results.
const ResultsPerPage = 10

// notAvailable is the upstream placeholder for missing values.
const notAvailable = "N/A"

// Flag is the upstream "True"/"False" success indicator, decoded to a bool.
type Flag bool

// UnmarshalJSON decodes "True" as true and anything else as false.
func (f *Flag) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("response flag: %w", err)
	}
	*f = Flag(strings.EqualFold(raw, "True"))
	return nil
}

// MarshalJSON encodes the flag in its upstream string form.
func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte(`"True"`), nil
	}
	return []byte(`"False"`), nil
}

// Movie is a search result entry.
type Movie struct {
	Title     string `json:"Title"`
	Year      string `json:"Year"`
	ID        string `json:"imdbID"`
	MediaType string `json:"Type"`
	PosterURL string `json:"Poster"`
}

// HasPoster reports whether the upstream supplied a poster image.
func (m Movie) HasPoster() bool {
	return m.PosterURL != "" && m.PosterURL != notAvailable
}

// SearchResult is a page of search results.
type SearchResult struct {
	Movies       []Movie `json:"Search,omitempty"`
	TotalResults string  `json:"totalResults,omitempty"`
	Response     Flag    `json:"Response"`
	Error        string  `json:"Error,omitempty"`
}

// TotalCount returns the total number of results across all pages.
func (r *SearchResult) TotalCount() int {
	n, err := strconv.Atoi(r.TotalResults)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// TotalPages returns the number of upstream result pages.
func (r *SearchResult) TotalPages() int {
	return int(math.Ceil(float64(r.TotalCount()) / ResultsPerPage))
}

// Rating is a single provider's score. A provider may appear more than once.
type Rating struct {
	Source string `json:"Source"`
	Value  string `json:"Value"`
}

// MovieDetails is the full record of a single title.
type MovieDetails struct {
	Title      string   `json:"Title"`
	Year       string   `json:"Year"`
	Rated      string   `json:"Rated"`
	Released   string   `json:"Released"`
	Runtime    string   `json:"Runtime"`
	Genre      string   `json:"Genre"`
	Director   string   `json:"Director"`
	Writer     string   `json:"Writer"`
	Actors     string   `json:"Actors"`
	Plot       string   `json:"Plot"`
	Language   string   `json:"Language"`
	Country    string   `json:"Country"`
	Awards     string   `json:"Awards"`
	PosterURL  string   `json:"Poster"`
	Ratings    []Rating `json:"Ratings"`
	Metascore  string   `json:"Metascore"`
	IMDBRating string   `json:"imdbRating"`
	IMDBVotes  string   `json:"imdbVotes"`
	ID         string   `json:"imdbID"`
	MediaType  string   `json:"Type"`
	DVD        string   `json:"DVD"`
	BoxOffice  string   `json:"BoxOffice"`
	Production string   `json:"Production"`
	Website    string   `json:"Website"`
	Response   Flag     `json:"Response"`
	Error      string   `json:"Error,omitempty"`
}

// HasPoster reports whether the upstream supplied a poster image.
func (d *MovieDetails) HasPoster() bool {
	return d.PosterURL != "" && d.PosterURL != notAvailable
}

// GenreList splits the comma separated genre field.
func (d *MovieDetails) GenreList() []string {
	return splitList(d.Genre)
}

// ActorList splits the comma separated cast field.
func (d *MovieDetails) ActorList() []string {
	return splitList(d.Actors)
}

func splitList(value string) []string {
	if value == "" || value == notAvailable {
		return nil
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
