// Package search finds works and segments by text, through Meilisearch
// when it is reachable and PostgreSQL full-text search otherwise.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultWork    ResultType = "work"
	ResultSegment ResultType = "segment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	WorkID   string     `json:"workId"`
	Language string     `json:"language"`
	Position int        `json:"position,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterWorkID   string
	FilterLanguage string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// WorkRecord is the data we index for a translated work.
type WorkRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Language string `json:"language"`
}

// SegmentRecord is the data we index for a translated segment. Both the
// translation and the original are searchable so an untranslated passage
// can still be found by its source text.
type SegmentRecord struct {
	ID              string `json:"id"`
	WorkID          string `json:"workId"`
	Language        string `json:"language"`
	Position        int    `json:"position"`
	Content         string `json:"content"`
	OriginalContent string `json:"originalContent"`
	Progress        string `json:"progress"`
}
